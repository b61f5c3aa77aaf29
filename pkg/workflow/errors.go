package workflow

import (
	"fmt"
	"strings"

	"github.com/pranavk/stockpilot/pkg/tickers"
)

// ValidationError reports user-correctable input problems. It is surfaced
// to the conversation as an itemized explanation, never propagated past the
// turn boundary.
type ValidationError struct {
	Message    string
	Rejections []tickers.Rejection
}

func (e *ValidationError) Error() string {
	if len(e.Rejections) == 0 {
		return e.Message
	}

	var b strings.Builder
	b.WriteString(e.Message)
	for _, r := range e.Rejections {
		b.WriteString("\n- ")
		b.WriteString(r.String())
	}
	return b.String()
}

// newValidationError creates a plain validation error
func newValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
