// Package ids formats the stable, kind-prefixed IDs used throughout the
// persistence layer (CP-, D-, HYP-, ART-, INJ-, ERR-, PAT-, INT-, MSG-,
// KNOW-, ISSUE-). Sequence allocation itself lives in internal/store, which
// owns the single writer goroutine that keeps these monotonic; this package
// only knows how to render a (kind, session, seq) triple as a string and
// parse it back.
package ids

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is a stable-ID prefix.
type Kind string

const (
	Checkpoint   Kind = "CP"
	Decision     Kind = "D"
	Hypothesis   Kind = "HYP"
	Artifact     Kind = "ART"
	Injection    Kind = "INJ"
	ErrorRecord  Kind = "ERR"
	Pattern      Kind = "PAT"
	Intervention Kind = "INT"
	Message      Kind = "MSG"
	Knowledge    Kind = "KNOW"
	Issue        Kind = "ISSUE"
)

// New renders "<KIND>-<session>-<seq>", e.g. "CP-3-12".
func New(kind Kind, session int64, seq uint64) string {
	return fmt.Sprintf("%s-%d-%d", kind, session, seq)
}

// Parse splits a stable ID back into its kind, session number, and sequence.
func Parse(id string) (kind Kind, session int64, seq uint64, err error) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		return "", 0, 0, fmt.Errorf("ids: malformed id %q", id)
	}
	session, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("ids: malformed session in %q: %w", id, err)
	}
	s, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("ids: malformed seq in %q: %w", id, err)
	}
	return Kind(parts[0]), session, s, nil
}
