package proc

import "fmt"

// SetupError reports a receiver that never announced its identity.
// The receiver has already been killed when a SetupError is returned.
type SetupError struct {
	Pid    int    // process id of the killed receiver
	Reason string // why no identity was recovered
	Line   string // first non-empty line seen, if any
	Stderr string // receiver stderr captured before the kill
}

func (e *SetupError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("receiver %d did not announce an identity: %s (line %q)", e.Pid, e.Reason, e.Line)
	}
	return fmt.Sprintf("receiver %d did not announce an identity: %s", e.Pid, e.Reason)
}
