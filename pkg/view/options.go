package view

import (
	"fmt"
	"time"
)

// TieBreak decides which of two reports for the same node and timestamp wins
type TieBreak string

const (
	// TieBreakLaterCall keeps the report added last
	TieBreakLaterCall TieBreak = "later-call"
	// TieBreakEarlierCall keeps the report added first
	TieBreakEarlierCall TieBreak = "earlier-call"
)

// ParseTieBreak parses a tie-break rule name; empty selects the default
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case "":
		return TieBreakLaterCall, nil
	case TieBreakLaterCall, TieBreakEarlierCall:
		return TieBreak(s), nil
	default:
		return "", fmt.Errorf("unknown tie-break rule %q", s)
	}
}

// DefaultStalenessBound is used when Options.StalenessBound is zero
const DefaultStalenessBound = 30 * time.Second

// Options configures a Builder
type Options struct {
	// StalenessBound is the report age past which a node is stale
	StalenessBound time.Duration

	// ExcludeStale drops stale nodes instead of flagging them degraded
	ExcludeStale bool

	// TieBreak resolves equal timestamps for the same node
	TieBreak TieBreak

	// PreviousGeneration is the generation of the last view built for the cluster
	PreviousGeneration uint64

	// Now returns the reference time for staleness; defaults to time.Now
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.StalenessBound <= 0 {
		o.StalenessBound = DefaultStalenessBound
	}
	if o.TieBreak == "" {
		o.TieBreak = TieBreakLaterCall
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
