package dispatcher

import (
	"encoding/json"
	"strings"
)

type envelope struct {
	Message    string `json:"message"`
	EndSession bool   `json:"end_session"`
}

// unwrapEnvelope extracts {message, end_session} from driver output.
// Anything that is not the envelope passes through as plain text.
func unwrapEnvelope(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)

	// Models wrap JSON in code fences often enough to handle it here.
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	if !strings.HasPrefix(trimmed, "{") {
		return content, false
	}

	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil || env.Message == "" {
		return content, false
	}
	return env.Message, env.EndSession
}
