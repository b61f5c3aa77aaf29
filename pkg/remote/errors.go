package remote

import (
	"errors"
	"fmt"
)

// ErrUnknownAgent reports a call to an agent that never completed its
// handshake. It fails immediately, without retries.
var ErrUnknownAgent = errors.New("unknown agent")

// TransientError reports a delegation that failed after the retry budget
// was exhausted on retryable faults.
type TransientError struct {
	Agent    string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("delegation to %s failed after %d attempts: %v", e.Agent, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retry-exhausted delegation failure
func IsTransient(err error) bool {
	var terr *TransientError
	return errors.As(err, &terr)
}
