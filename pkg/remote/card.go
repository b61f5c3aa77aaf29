package remote

// AgentCard is the descriptor a worker agent publishes at
// /.well-known/agent.json. Only the fields the host consumes are modeled.
type AgentCard struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Version     string `json:"version,omitempty"`
}

// WellKnownPath is where every worker serves its card
const WellKnownPath = "/.well-known/agent.json"
