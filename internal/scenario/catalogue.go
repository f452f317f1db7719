package scenario

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/deixis/talkcheck/internal/report"
)

// Case identifiers, in catalogue order.
const (
	CaseIdentity = "pid"
	CaseSingle   = "single"
	CaseMultiple = "multi"
	CasePerf     = "perf"
	CaseUnicode  = "unicode"
	CaseAck      = "ack"
)

// Payload sizes used by the cases.
const (
	SinglePayloadLen = 8
	MultiPayloadLen  = 6
	MultiCount       = 3
	PerfPayloadLen   = 100
	ackPrefix        = "AckTest_"
)

// Case is one scenario of the catalogue.
type Case struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    report.Category `json:"category"`
	Description string          `json:"description"`

	drive func(s *session)
}

var catalogue = []Case{
	{
		ID:          CaseIdentity,
		Name:        "Identity announcement",
		Category:    report.Required,
		Description: "receiver prints a line holding its pid on startup",
		drive:       driveIdentity,
	},
	{
		ID:          CaseSingle,
		Name:        "Single message",
		Category:    report.Required,
		Description: "one 8-character ASCII message reaches the receiver",
		drive:       driveSingle,
	},
	{
		ID:          CaseMultiple,
		Name:        "Multiple messages",
		Category:    report.Required,
		Description: "three 6-character ASCII messages each reach one receiver",
		drive:       driveMultiple,
	},
	{
		ID:          CasePerf,
		Name:        "Performance",
		Category:    report.Required,
		Description: "a 100-character message round-trips within the latency budget",
		drive:       drivePerf,
	},
	{
		ID:          CaseUnicode,
		Name:        "Unicode",
		Category:    report.Bonus,
		Description: "an accented word and an emoji arrive intact",
		drive:       driveUnicode,
	},
	{
		ID:          CaseAck,
		Name:        "Acknowledgement",
		Category:    report.Bonus,
		Description: "the sender reports that its message was acknowledged",
		drive:       driveAck,
	},
}

// Catalogue returns every case in the order they run.
func Catalogue() []Case {
	return slices.Clone(catalogue)
}

// IDs returns the ids of every case, in catalogue order.
func IDs() []string {
	ids := make([]string, len(catalogue))
	for i, c := range catalogue {
		ids[i] = c.ID
	}
	return ids
}

// Lookup finds a case by id, by name (ignoring case) or by its 1-based
// position in the catalogue.
func Lookup(key string) (Case, bool) {
	key = strings.TrimSpace(key)
	if n, err := strconv.Atoi(key); err == nil {
		if n >= 1 && n <= len(catalogue) {
			return catalogue[n-1], true
		}
		return Case{}, false
	}
	for _, c := range catalogue {
		if c.ID == strings.ToLower(key) || strings.EqualFold(c.Name, key) {
			return c, true
		}
	}
	return Case{}, false
}

// Select resolves keys to cases, dropping duplicates and returning them
// in catalogue order. No keys selects the whole catalogue.
func Select(keys []string) ([]Case, error) {
	if len(keys) == 0 {
		return Catalogue(), nil
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		c, ok := Lookup(k)
		if !ok {
			return nil, fmt.Errorf("unknown case %q (known: %s)", k, strings.Join(IDs(), ", "))
		}
		want[c.ID] = true
	}
	var out []Case
	for _, c := range catalogue {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}
