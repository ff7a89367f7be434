package converge

import (
	"errors"
	"time"

	"github.com/cuemby/dbfleet/pkg/view"
)

// Config holds the engine's bounded waits and view policy
type Config struct {
	// LockTimeout bounds the wait for the cluster lock
	LockTimeout time.Duration

	// FetchTimeout bounds the report fetch
	FetchTimeout time.Duration

	// ActionTimeout bounds each action invocation independently
	ActionTimeout time.Duration

	// ActionGrace is how long a timed-out action may keep running before
	// the cycle moves on, so its last platform call lands under the lock
	ActionGrace time.Duration

	// ReleaseTimeout bounds lock release, which runs even after cancellation
	ReleaseTimeout time.Duration

	// StalenessBound is the report age beyond which a node is stale
	StalenessBound time.Duration

	// ExcludeStale drops stale nodes from the view instead of flagging them
	ExcludeStale bool

	// TieBreak resolves reports for one node with identical timestamps
	TieBreak view.TieBreak
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		LockTimeout:    5 * time.Second,
		FetchTimeout:   10 * time.Second,
		ActionTimeout:  30 * time.Second,
		ActionGrace:    2 * time.Second,
		ReleaseTimeout: 5 * time.Second,
		StalenessBound: view.DefaultStalenessBound,
		TieBreak:       view.TieBreakLaterCall,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.LockTimeout < 0 {
		return errors.New("lock timeout must not be negative")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("fetch timeout must be positive")
	}
	if c.ActionTimeout <= 0 {
		return errors.New("action timeout must be positive")
	}
	if c.ActionGrace < 0 {
		return errors.New("action grace must not be negative")
	}
	if c.ReleaseTimeout <= 0 {
		return errors.New("release timeout must be positive")
	}
	if c.StalenessBound <= 0 {
		return errors.New("staleness bound must be positive")
	}
	if _, err := view.ParseTieBreak(string(c.TieBreak)); err != nil {
		return err
	}
	return nil
}
