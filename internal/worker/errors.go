package worker

import (
	"errors"
	"fmt"
)

// ErrBadSignature covers transport-level authentication failures: the
// relay signature did not match any configured signing key.
var ErrBadSignature = errors.New("bad_relay_signature")

// TerminalError marks a delivery that can never succeed, no matter how
// often the relay retries it. The transport layer answers these with a
// no-retry status so the relay stops redelivering.
type TerminalError struct {
	Code string
	Err  error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *TerminalError) Unwrap() error { return e.Err }

func terminal(code string, err error) error {
	return &TerminalError{Code: code, Err: err}
}

// IsTerminal reports whether err (or anything it wraps) is terminal.
func IsTerminal(err error) bool {
	var t *TerminalError
	return errors.As(err, &t)
}
