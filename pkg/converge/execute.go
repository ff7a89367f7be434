package converge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/dbfleet/pkg/action"
	"github.com/cuemby/dbfleet/pkg/metrics"
	"github.com/cuemby/dbfleet/pkg/platform"
	"github.com/cuemby/dbfleet/pkg/types"
	"github.com/cuemby/dbfleet/pkg/view"
)

// ErrActionTimeout is recorded when an action exceeds its timeout
var ErrActionTimeout = errors.New("action timed out")

// execute resolves the platform for one action and invokes it. Failures are
// recorded as notes; the returned error is only ever a cancellation.
func (e *Engine) execute(ctx context.Context, c *cycle, id string, v *view.ClusterView, desired *types.DesiredConfig) error {
	a, _ := e.actions.Resolve(id)
	ref := action.PlatformFor(a, desired)
	logger := c.logger.With().Str("action", id).Str("platform", ref).Logger()

	handle, err := e.platforms.Resolve(ctx, ref)
	switch {
	case errors.Is(err, platform.ErrNotActive):
		metrics.ActionsTotal.WithLabelValues(id, "skipped").Inc()
		c.degraded = true
		c.note(types.NoteActionSkipped, id, "", "platform %s not active", ref)
		logger.Info().Msg("Action skipped, platform not active")
		return nil
	case err != nil:
		metrics.ActionsTotal.WithLabelValues(id, "failed").Inc()
		c.degraded = true
		c.note(types.NoteActionFailed, id, "", "failed to resolve platform: %v", err)
		logger.Error().Err(err).Msg("Platform resolution failed")
		return nil
	}

	if c.report.Mode == types.ModeDryRun {
		handle = platform.DryRun(handle)
	}

	res, err := e.invoke(ctx, logger, a, v, desired, handle, c.report.Mode)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.ActionsTotal.WithLabelValues(id, "failed").Inc()
		c.degraded = true
		c.note(types.NoteActionFailed, id, "", "%v", err)
		logger.Error().Err(err).Msg("Action failed")
		return nil
	}

	metrics.ActionsTotal.WithLabelValues(id, string(res.Outcome)).Inc()

	subject := id
	if res.Subject != "" {
		subject = id + ":" + res.Subject
	}
	switch res.Outcome {
	case action.OutcomeApplied:
		c.note(types.NoteActionApplied, subject, string(res.Outcome), "%s", res.Message)
	default:
		c.note(types.NoteInfo, subject, string(res.Outcome), "%s", res.Message)
	}
	logger.Info().Str("outcome", string(res.Outcome)).Str("subject", res.Subject).Msg("Action finished")
	return nil
}

// invoke runs an action under its own timeout. A panicking action is
// reported as a failure. After a timeout the action gets ActionGrace to
// observe its cancelled context before the cycle continues.
func (e *Engine) invoke(ctx context.Context, logger zerolog.Logger, a action.Action, v *view.ClusterView, desired *types.DesiredConfig, h platform.Handle, mode types.OrchestrateMode) (action.Result, error) {
	actionCtx, cancel := context.WithTimeout(ctx, e.config.ActionTimeout)
	defer cancel()

	type outcome struct {
		result action.Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("action panicked: %v", r)}
			}
		}()
		result, err := a.Execute(actionCtx, v, desired, h, mode)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(o.err, context.DeadlineExceeded) {
			return o.result, fmt.Errorf("%w after %s: %v", ErrActionTimeout, e.config.ActionTimeout, o.err)
		}
		return o.result, o.err
	case <-actionCtx.Done():
		grace := time.NewTimer(e.config.ActionGrace)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			logger.Warn().Dur("grace", e.config.ActionGrace).Msg("Action still running after cancellation")
		}

		if err := ctx.Err(); err != nil {
			return action.Result{}, err
		}
		return action.Result{}, fmt.Errorf("%w after %s", ErrActionTimeout, e.config.ActionTimeout)
	}
}

func eligibleSafely(a action.Action, v *view.ClusterView, desired *types.DesiredConfig) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eligibility check panicked: %v", r)
		}
	}()
	return a.Eligible(v, desired), nil
}
