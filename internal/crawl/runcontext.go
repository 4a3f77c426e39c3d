package crawl

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/citescope/citation-crawler/internal/observability"
)

// RunContext identifies one crawl run and carries its logger. It replaces
// any process-global run state: every tick gets its logging context from
// here, scoped to the run and iteration.
type RunContext struct {
	RunID   string
	RunName string

	logger zerolog.Logger
}

// NewRunContext creates a RunContext. An empty runID selects a fresh one.
func NewRunContext(runID, runName string, logger zerolog.Logger) *RunContext {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &RunContext{
		RunID:   runID,
		RunName: runName,
		logger:  observability.WithRunContext(logger, runID, runName),
	}
}

// Logger returns the run-scoped logger.
func (rc *RunContext) Logger() zerolog.Logger {
	return rc.logger
}

// TickLogger returns the run-scoped logger annotated with an iteration.
func (rc *RunContext) TickLogger(iteration int) zerolog.Logger {
	return observability.WithTickContext(rc.logger, iteration)
}
