package converge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/dbfleet/pkg/action"
	"github.com/cuemby/dbfleet/pkg/events"
	"github.com/cuemby/dbfleet/pkg/fetch"
	"github.com/cuemby/dbfleet/pkg/lock"
	"github.com/cuemby/dbfleet/pkg/log"
	"github.com/cuemby/dbfleet/pkg/metrics"
	"github.com/cuemby/dbfleet/pkg/platform"
	"github.com/cuemby/dbfleet/pkg/storage"
	"github.com/cuemby/dbfleet/pkg/types"
	"github.com/cuemby/dbfleet/pkg/view"
)

// Fetcher supplies the raw node reports of a cluster
type Fetcher interface {
	Fetch(ctx context.Context, clusterID string) ([]types.NodeReport, error)
}

// Store is the persistence the engine reads desired state from and writes
// views, reports and progress markers to
type Store interface {
	LoadDesiredConfig(clusterID string) (*types.DesiredConfig, error)
	LatestView(clusterID string) (*types.ViewSnapshot, error)
	SaveView(snapshot types.ViewSnapshot) error
	SaveReport(report *types.OrchestrateReport) error
	SaveProgress(progress types.Progress) error
}

// Emitter publishes the terminal event of a cycle
type Emitter interface {
	Publish(event *events.Event) error
}

// PlatformResolver resolves the platform an action runs on
type PlatformResolver interface {
	Resolve(ctx context.Context, ref string) (platform.Handle, error)
}

// Request asks for one convergence cycle
type Request struct {
	ClusterID string
	Mode      types.OrchestrateMode
}

// Engine runs convergence cycles. One engine serves every cluster; it keeps
// no state across cycles, and the lock coordinator serializes cycles of the
// same cluster.
type Engine struct {
	config      Config
	coordinator lock.Coordinator
	fetcher     Fetcher
	store       Store
	platforms   PlatformResolver
	actions     *action.Registry
	emitter     Emitter
	now         func() time.Time
	logger      zerolog.Logger
}

// Deps are the collaborators of an engine. Emitter is optional.
type Deps struct {
	Coordinator lock.Coordinator
	Fetcher     Fetcher
	Store       Store
	Platforms   PlatformResolver
	Actions     *action.Registry
	Emitter     Emitter
	Clock       func() time.Time
}

// NewEngine creates an engine and seals the action registry
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	switch {
	case deps.Coordinator == nil:
		return nil, errors.New("engine requires a lock coordinator")
	case deps.Fetcher == nil:
		return nil, errors.New("engine requires a fetcher")
	case deps.Store == nil:
		return nil, errors.New("engine requires a store")
	case deps.Platforms == nil:
		return nil, errors.New("engine requires a platform resolver")
	case deps.Actions == nil:
		return nil, errors.New("engine requires an action registry")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	deps.Actions.Seal()

	return &Engine{
		config:      cfg,
		coordinator: deps.Coordinator,
		fetcher:     deps.Fetcher,
		store:       deps.Store,
		platforms:   deps.Platforms,
		actions:     deps.Actions,
		emitter:     deps.Emitter,
		now:         clock,
		logger:      log.WithComponent("converge"),
	}, nil
}

// Orchestrate runs one cycle and returns its report. Lock contention and
// unsafe views end the cycle in StateFailed without an error. An error is
// returned when ctx is cancelled (with the Failed report) or when the
// report cannot be persisted.
func (e *Engine) Orchestrate(ctx context.Context, req Request) (*types.OrchestrateReport, error) {
	if req.ClusterID == "" {
		return nil, errors.New("cluster id is required")
	}
	if _, err := types.ParseMode(string(req.Mode)); err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	c := e.newCycle(req)
	c.logger.Debug().Str("mode", string(req.Mode)).Msg("Cycle started")

	guard, err := e.coordinator.Acquire(ctx, req.ClusterID, e.config.LockTimeout)
	if err != nil {
		if ctx.Err() != nil {
			metrics.LockAcquisitions.WithLabelValues("cancelled").Inc()
			return e.cancel(ctx, c)
		}
		if errors.Is(err, lock.ErrNotAcquired) {
			metrics.LockAcquisitions.WithLabelValues("contended").Inc()
		} else {
			metrics.LockAcquisitions.WithLabelValues("error").Inc()
		}
		c.logger.Warn().Err(err).Msg("Cluster lock not acquired")
		c.note(types.NoteInfo, req.ClusterID, "", "cluster lock not acquired: %v", err)
		return e.finish(c, types.StateFailed)
	}
	metrics.LockAcquisitions.WithLabelValues("acquired").Inc()

	// Runs after the report is persisted and the event emitted
	defer e.release(ctx, c, guard)

	c.advance(types.StateLockAcquired)

	state, err := e.run(ctx, c)
	if err != nil {
		return e.cancel(ctx, c)
	}
	return e.finish(c, state)
}

// run drives the cycle from LockAcquired to a terminal state. It returns an
// error only when ctx was cancelled.
func (e *Engine) run(ctx context.Context, c *cycle) (types.ConvergeState, error) {
	clusterID := c.report.ClusterID

	desired, err := e.store.LoadDesiredConfig(clusterID)
	if err != nil {
		c.note(types.NoteInfo, clusterID, "", "failed to load desired configuration: %v", err)
		return types.StateFailed, nil
	}

	previous, err := e.previousGeneration(clusterID)
	if err != nil {
		c.note(types.NoteInfo, clusterID, "", "failed to load previous view: %v", err)
		return types.StateFailed, nil
	}

	reports, err := e.fetch(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.note(types.NoteInfo, clusterID, "", "failed to fetch node reports: %v", err)
		return types.StateFailed, nil
	}

	v, err := e.buildView(c, reports, previous)
	if err != nil {
		e.abort(c, err)
		return types.StateFailed, nil
	}

	c.report.Generation = v.Generation()
	if err := e.store.SaveView(v.Snapshot()); err != nil {
		c.logger.Error().Err(err).Msg("Failed to save view")
		c.note(types.NoteInfo, clusterID, "", "failed to save view generation %d: %v", v.Generation(), err)
	}
	metrics.ViewNodes.WithLabelValues(clusterID).Set(float64(v.Len()))
	c.advance(types.StateViewBuilt)
	c.note(types.NoteInfo, clusterID, "", "view generation %d built from %d reports with %d nodes", v.Generation(), len(reports), v.Len())

	eligible := e.diff(c, v, desired)
	c.advance(types.StateDiffing)
	if len(eligible) == 0 {
		c.note(types.NoteInfo, clusterID, "", "no eligible actions")
	}

	c.advance(types.StateExecuting)
	for _, id := range eligible {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := e.execute(ctx, c, id, v, desired); err != nil {
			return "", err
		}
	}

	if c.degraded {
		return types.StatePartialFailure, nil
	}
	return types.StateConverged, nil
}

func (e *Engine) previousGeneration(clusterID string) (uint64, error) {
	snapshot, err := e.store.LatestView(clusterID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return snapshot.Generation, nil
}

func (e *Engine) fetch(ctx context.Context, c *cycle) ([]types.NodeReport, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.config.FetchTimeout)
	defer cancel()

	reports, err := e.fetcher.Fetch(fetchCtx, c.report.ClusterID)

	var partial *fetch.PartialError
	if errors.As(err, &partial) {
		// Unreachable agents leave their nodes out of the view
		for _, agent := range partial.Agents() {
			c.note(types.NoteInfo, agent, "", "agent unreachable: %v", partial.Failed[agent])
		}
		c.degraded = true
		return reports, nil
	}
	return reports, err
}

func (e *Engine) buildView(c *cycle, reports []types.NodeReport, previous uint64) (*view.ClusterView, error) {
	builder := view.NewBuilder(c.report.ClusterID, view.Options{
		StalenessBound:     e.config.StalenessBound,
		ExcludeStale:       e.config.ExcludeStale,
		TieBreak:           e.config.TieBreak,
		PreviousGeneration: previous,
		Now:                e.now,
	})
	for _, r := range reports {
		if err := builder.AddReport(r); err != nil {
			return nil, err
		}
	}
	return builder.Build()
}

// abort records why a view was rejected. The cycle never reaches
// execution, so no action runs in either mode.
func (e *Engine) abort(c *cycle, err error) {
	reason := "corrupt"
	if errors.Is(err, view.ErrManyPrimariesFound) {
		reason = "many_primaries"
	}
	metrics.SafetyAborts.WithLabelValues(reason).Inc()

	subject := c.report.ClusterID
	var ve *view.ValidationError
	if errors.As(err, &ve) && ve.Group != "" {
		subject = ve.Group
	}

	c.logger.Warn().Err(err).Str("reason", reason).Msg("View rejected, cycle aborted")
	c.note(types.NoteSafetyAbort, subject, "", "%v", err)
	if reason == "many_primaries" && c.report.Mode == types.ModeApply {
		c.note(types.NoteSafetyAbort, subject, "", "apply mode suppressed while primaries conflict")
	}
}

// diff returns the eligible action IDs in registration order
func (e *Engine) diff(c *cycle, v *view.ClusterView, desired *types.DesiredConfig) []string {
	var eligible []string
	for _, id := range e.actions.IDs() {
		a, _ := e.actions.Resolve(id)

		ok, err := eligibleSafely(a, v, desired)
		if err != nil {
			metrics.ActionsTotal.WithLabelValues(id, "failed").Inc()
			c.degraded = true
			c.note(types.NoteActionFailed, id, "", "eligibility check failed: %v", err)
			continue
		}
		if ok {
			eligible = append(eligible, id)
		}
	}
	c.logger.Debug().Strs("actions", eligible).Msg("Diff computed")
	return eligible
}

func (e *Engine) release(ctx context.Context, c *cycle, guard lock.Guard) {
	// Release must happen even when the cycle was cancelled
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.ReleaseTimeout)
	defer cancel()

	if err := guard.Release(releaseCtx); err != nil {
		c.logger.Error().Err(err).Msg("Failed to release cluster lock")
		return
	}
	c.logger.Debug().Msg("Cluster lock released")
}

func (e *Engine) cancel(ctx context.Context, c *cycle) (*types.OrchestrateReport, error) {
	c.logger.Warn().Err(ctx.Err()).Msg("Cycle cancelled")
	c.note(types.NoteInfo, c.report.ClusterID, "", "cycle cancelled: %v", ctx.Err())

	report, err := e.finish(c, types.StateFailed)
	if err != nil {
		return report, errors.Join(ctx.Err(), err)
	}
	return report, ctx.Err()
}

// finish finalizes, persists and announces the report. It is called once
// per cycle.
func (e *Engine) finish(c *cycle, state types.ConvergeState) (*types.OrchestrateReport, error) {
	c.advance(state)
	c.report.State = state
	c.report.EndedAt = e.now().UTC()

	metrics.CyclesTotal.WithLabelValues(string(state)).Inc()

	if err := e.store.SaveReport(c.report); err != nil {
		c.logger.Error().Err(err).Msg("Failed to save report")
		return c.report, fmt.Errorf("failed to save report: %w", err)
	}

	e.emit(c)

	c.logger.Info().
		Str("state", string(state)).
		Uint64("generation", c.report.Generation).
		Int("notes", len(c.report.Notes)).
		Dur("duration", c.report.EndedAt.Sub(c.report.StartedAt)).
		Msg("Cycle finished")
	return c.report, nil
}

func (e *Engine) emit(c *cycle) {
	if e.emitter == nil {
		return
	}
	eventType, ok := events.TypeForState(c.report.State)
	if !ok {
		return
	}

	err := e.emitter.Publish(&events.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		ClusterID: c.report.ClusterID,
		CycleID:   c.report.CycleID,
		State:     c.report.State,
		Timestamp: c.report.EndedAt,
		Message:   fmt.Sprintf("cycle %s finished %s", c.report.CycleID, c.report.State),
		Metadata: map[string]string{
			"mode":       string(c.report.Mode),
			"report_id":  c.report.ID,
			"generation": fmt.Sprintf("%d", c.report.Generation),
		},
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to publish cycle event")
	}
}
