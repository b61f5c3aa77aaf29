package cli

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"

	"github.com/pranavk/stockpilot/internal/observability"
)

var (
	chatSessionID   string
	chatUserID      string
	chatMetricsAddr string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive advisory session",
	Long: `Start an interactive advisory session on the terminal.
Each line you type is one conversational turn. The session ends when the
agent dispatches the analysis, or when you type "exit".`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "resume an existing session by ID")
	chatCmd.Flags().StringVar(&chatUserID, "user", "local", "user identifier recorded with the session")
	chatCmd.Flags().StringVar(&chatMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	if chatMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		go func() {
			if err := http.ListenAndServe(chatMetricsAddr, mux); err != nil {
				zl := app.log.GetZerolog()
				zl.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	sessionID := chatSessionID
	if sessionID == "" {
		sessionID, err = gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate session ID: %w", err)
		}
	}

	fmt.Printf("Session %s. Type a message, or \"exit\" to quit.\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		reply, err := app.dispatcher.ProcessTurn(ctx, sessionID, chatUserID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		fmt.Println(reply.Message)
		if reply.EndSession {
			break
		}
	}

	return scanner.Err()
}
