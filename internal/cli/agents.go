package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List registered worker agents",
	Long: `Handshake with every configured worker endpoint and list the
agents that answered with a valid agent card.`,
	RunE: runAgents,
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	cards := app.client.Agents()
	if len(cards) == 0 {
		fmt.Println("No worker agents registered.")
		return nil
	}

	for _, card := range cards {
		fmt.Printf("%s\t%s\t%s\n", card.Name, card.URL, card.Description)
	}
	return nil
}
