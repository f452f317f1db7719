package proc

import (
	"fmt"
	"strings"
)

// AckState is the acknowledgement observed for one send.
type AckState int

const (
	// AckUnknown means no acknowledgement was requested.
	AckUnknown AckState = iota
	// AckReceived means the sender reported an acknowledgement.
	AckReceived
	// AckMissing means an acknowledgement was requested but not seen.
	AckMissing
)

func (s AckState) String() string {
	switch s {
	case AckReceived:
		return "received"
	case AckMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// AckMode selects how sender output is interpreted as an acknowledgement.
//
// Receiver/sender pairs disagree on this: some print a fixed marker once the
// receiver confirms delivery, others print anything at all. The mode is
// therefore a policy of the harness rather than a fixed rule.
type AckMode string

const (
	// AckMarker requires the policy's marker to appear in sender stdout.
	AckMarker AckMode = "marker"
	// AckAnyOutput accepts any non-blank sender stdout.
	AckAnyOutput AckMode = "any-output"
)

// DefaultAckMarker is the marker searched for under AckMarker.
const DefaultAckMarker = "[ACK]"

// ParseAckMode validates a mode name. The empty string selects AckMarker.
func ParseAckMode(s string) (AckMode, error) {
	switch AckMode(s) {
	case "", AckMarker:
		return AckMarker, nil
	case AckAnyOutput:
		return AckAnyOutput, nil
	}
	return "", fmt.Errorf("unknown acknowledgement policy %q (want %q or %q)", s, AckMarker, AckAnyOutput)
}

// AckPolicy decides whether captured sender output is an acknowledgement.
type AckPolicy struct {
	Mode   AckMode
	Marker string // used by AckMarker; empty means DefaultAckMarker
}

// Detect classifies output. It never returns AckUnknown.
func (p AckPolicy) Detect(output string) AckState {
	var ok bool
	switch p.Mode {
	case AckAnyOutput:
		ok = strings.TrimSpace(output) != ""
	default:
		marker := p.Marker
		if marker == "" {
			marker = DefaultAckMarker
		}
		ok = strings.Contains(output, marker)
	}
	if ok {
		return AckReceived
	}
	return AckMissing
}

func (p AckPolicy) String() string {
	if p.Mode == AckAnyOutput {
		return string(AckAnyOutput)
	}
	marker := p.Marker
	if marker == "" {
		marker = DefaultAckMarker
	}
	return fmt.Sprintf("%s %q", AckMarker, marker)
}
