package converge

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/dbfleet/pkg/log"
	"github.com/cuemby/dbfleet/pkg/types"
)

// cycle is the state of one Orchestrate call. It is owned by a single
// goroutine.
type cycle struct {
	engine   *Engine
	report   *types.OrchestrateReport
	state    types.ConvergeState
	degraded bool
	logger   zerolog.Logger
}

func (e *Engine) newCycle(req Request) *cycle {
	cycleID := uuid.New().String()
	c := &cycle{
		engine: e,
		report: &types.OrchestrateReport{
			ID:        uuid.New().String(),
			CycleID:   cycleID,
			ClusterID: req.ClusterID,
			Mode:      req.Mode,
			State:     types.StatePending,
			Notes:     []types.ReportNote{},
			StartedAt: e.now().UTC(),
		},
		state:  types.StatePending,
		logger: log.WithCycle(req.ClusterID, cycleID),
	}
	c.saveProgress()
	return c
}

// note appends to the report in emission order
func (c *cycle) note(category types.NoteCategory, subject, outcome, format string, args ...any) {
	c.report.Notes = append(c.report.Notes, types.ReportNote{
		Category:  category,
		Subject:   subject,
		Message:   fmt.Sprintf(format, args...),
		Outcome:   outcome,
		Timestamp: c.engine.now().UTC(),
	})
}

// advance moves the cycle forward and records a progress marker. Backward
// or repeated transitions are ignored.
func (c *cycle) advance(next types.ConvergeState) {
	if !c.state.CanAdvance(next) {
		return
	}
	c.logger.Debug().Str("from", string(c.state)).Str("to", string(next)).Msg("Cycle transition")
	c.state = next
	c.report.State = next
	c.saveProgress()
}

func (c *cycle) saveProgress() {
	err := c.engine.store.SaveProgress(types.Progress{
		ClusterID: c.report.ClusterID,
		CycleID:   c.report.CycleID,
		State:     c.state,
		UpdatedAt: c.engine.now().UTC(),
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("state", string(c.state)).Msg("Failed to save progress")
	}
}
