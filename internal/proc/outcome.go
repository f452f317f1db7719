package proc

import "time"

// SendOutcome holds the result of one sender invocation.
type SendOutcome struct {
	RunID    string        // unique identifier for this send
	Duration time.Duration // wall-clock time from spawn to exit or kill
	Ack      AckState      // AckUnknown unless an acknowledgement was requested
	ExitCode int           // sender exit code; -1 when it was killed
	TimedOut bool          // true if the sender was killed waiting for an acknowledgement
	Stdout   string        // captured stdout, only when an acknowledgement was requested
	Stderr   string        // captured stderr, only when an acknowledgement was requested
}

// Acknowledged reports whether the sender confirmed delivery.
func (o SendOutcome) Acknowledged() bool { return o.Ack == AckReceived }
