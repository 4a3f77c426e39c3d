// Package crawl implements the citation-network crawl loop: sample a batch
// of paper IDs, retrieve them from a provider, validate the result, merge it
// into the record store, and evaluate stopping conditions, until one of the
// stop signals fires.
package crawl

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/citescope/citation-crawler/internal/domain"
	"github.com/citescope/citation-crawler/internal/observability"
	"github.com/citescope/citation-crawler/internal/progress"
	"github.com/citescope/citation-crawler/internal/store"
	"github.com/citescope/citation-crawler/internal/validate"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateIterating    State = "ITERATING"
	StateStopped      State = "STOPPED"
	StateFailed       State = "FAILED"
)

// Stop reasons, in evaluation priority order. The iteration cap and the size
// cap are checked at the start of each tick, before the sampler runs; the
// empty-candidate and empty-retrieval conditions fire mid-tick and only
// after iteration 0.
const (
	StopReasonMaxIterations = "max iterations reached"
	StopReasonSizeCap       = "size cap reached"
	StopReasonNoCandidates  = "no candidates available"
	StopReasonNoPapers      = "no papers retrieved"
)

// Config holds crawl run parameters.
type Config struct {
	// RunID identifies the run. Empty selects a fresh UUID; callers set it
	// when collaborators such as snapshot writers are keyed by run ID.
	RunID string `mapstructure:"-"`

	// RunName labels the run in logs, progress records, and snapshots.
	RunName string `mapstructure:"run_name"`

	// MaxIterations stops the crawl after this many post-seed iterations.
	MaxIterations int `mapstructure:"max_iterations" validate:"gt=0"`

	// MaxTableSize stops the crawl once the paper table reaches this many
	// rows. Zero disables the cap.
	MaxTableSize int `mapstructure:"max_table_size" validate:"gte=0"`

	// KeywordFilters is passed through to the sampler on every tick.
	KeywordFilters []string `mapstructure:"keyword_filters"`

	// SeedIDs are retrieved and merged before the first iteration,
	// bypassing the sampler and the stopping checks.
	SeedIDs []string `mapstructure:"seed_ids"`
}

// Deps are the orchestrator's collaborators. Provider and Sampler are
// required; Retraction, Snapshots, Sink, and Metrics may be nil, which
// disables the corresponding side effect.
type Deps struct {
	Store      *store.RecordStore
	Provider   PaperProvider
	Sampler    Sampler
	Validator  *validate.Validator
	Retraction RetractionFilter
	Snapshots  SnapshotWriter
	Sink       progress.Sink
	Metrics    *observability.Metrics
}

// Status is a point-in-time view of a run for the control API.
type Status struct {
	RunID      string `json:"run_id"`
	RunName    string `json:"run_name"`
	State      State  `json:"state"`
	Iteration  int    `json:"iteration"`
	StopReason string `json:"stop_reason,omitempty"`
	Papers     int    `json:"papers"`
	Processed  int    `json:"processed"`
	Stubs      int    `json:"stubs"`
}

// Result summarizes a finished crawl run.
type Result struct {
	RunID        string    `json:"run_id"`
	RunName      string    `json:"run_name"`
	StopReason   string    `json:"stop_reason"`
	Iterations   int       `json:"iterations"`
	Papers       int       `json:"papers"`
	Processed    int       `json:"processed"`
	Stubs        int       `json:"stubs"`
	SnapshotPath string    `json:"snapshot_path,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Orchestrator drives one crawl run over one exclusively-owned RecordStore.
// It is single-threaded: Crawl, Tick, AddSeedPapers, and AddUserPapers must
// not be called concurrently. Status is safe to call from other goroutines.
type Orchestrator struct {
	cfg   Config
	deps  Deps
	run   *RunContext
	state *statusHolder

	iteration  int
	stopReason string

	// failedIDs accumulates per-ID retrieval failures across the whole run
	// for the final consistency audit; per-tick checks only see the current
	// batch's failures.
	failedIDs []string
}

// New creates an Orchestrator. The store, provider, sampler, and validator
// are required.
func New(cfg Config, deps Deps, logger zerolog.Logger) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: record store is required", domain.ErrInvalidInput)
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("%w: paper provider is required", domain.ErrInvalidInput)
	}
	if deps.Sampler == nil {
		return nil, fmt.Errorf("%w: sampler is required", domain.ErrInvalidInput)
	}
	if deps.Validator == nil {
		deps.Validator = validate.New(logger)
	}
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("%w: max iterations must be positive", domain.ErrInvalidInput)
	}

	run := NewRunContext(cfg.RunID, cfg.RunName, logger)
	o := &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		run:   run,
		state: newStatusHolder(run.RunID, cfg.RunName),
	}
	o.state.setState(StateInitializing)
	return o, nil
}

// RunID returns the run identifier.
func (o *Orchestrator) RunID() string {
	return o.run.RunID
}

// Status returns the current run status.
func (o *Orchestrator) Status() Status {
	return o.state.get()
}

// Crawl runs the full loop: seed pass, then ticks until a stopping condition
// fires. The returned error is non-nil only for fatal whole-batch provider
// failures; everything merged by completed ticks stays in the store either
// way.
func (o *Orchestrator) Crawl(ctx context.Context) (Result, error) {
	if s := o.state.get().State; s == StateStopped || s == StateFailed {
		return Result{}, fmt.Errorf("run %s already finished: %w", o.run.RunID, domain.ErrCrawlStopped)
	}

	start := time.Now()
	logger := o.run.Logger()

	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordCrawlStarted()
	}
	logger.Info().
		Int("seeds", len(o.cfg.SeedIDs)).
		Int("max_iterations", o.cfg.MaxIterations).
		Int("max_table_size", o.cfg.MaxTableSize).
		Msg("crawl starting")

	if err := o.AddSeedPapers(ctx, o.cfg.SeedIDs); err != nil {
		o.fail(start)
		return Result{}, fmt.Errorf("seed pass: %w", err)
	}
	o.state.setState(StateIterating)

	for {
		stopped, err := o.Tick(ctx)
		if err != nil {
			o.fail(start)
			return Result{}, fmt.Errorf("iteration %d: %w", o.iteration, err)
		}
		if stopped {
			break
		}
	}

	result, err := o.finalize(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("final snapshot failed")
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordCrawlStopped(o.stopReason, time.Since(start).Seconds())
	}
	logger.Info().
		Str("stop_reason", o.stopReason).
		Int("iterations", o.iteration).
		Int("papers", result.Papers).
		Msg("crawl stopped")
	return result, nil
}

// Tick runs one crawl iteration and reports whether the run stopped. A
// returned error is a fatal whole-batch provider failure.
func (o *Orchestrator) Tick(ctx context.Context) (bool, error) {
	tickStart := time.Now()
	logger := o.run.TickLogger(o.iteration)

	// Iteration and size caps halt the tick before the sampler runs. The
	// size cap therefore fires on the tick after the merge that crossed it,
	// which lets a seed pass exceed the cap.
	if o.iteration >= o.cfg.MaxIterations {
		o.stop(StopReasonMaxIterations, logger)
		o.emitProgress(ctx, progress.Record{Iteration: o.iteration})
		return true, nil
	}
	if o.cfg.MaxTableSize > 0 && o.deps.Store.PaperCount() >= o.cfg.MaxTableSize {
		o.stop(StopReasonSizeCap, logger)
		o.emitProgress(ctx, progress.Record{Iteration: o.iteration})
		return true, nil
	}

	papersBefore := o.deps.Store.PaperCount()
	rec := progress.Record{Iteration: o.iteration}

	sampled := o.deps.Sampler.Sample(o.deps.Store, o.cfg.KeywordFilters)
	rec.Sampled = len(sampled)

	switch {
	case len(sampled) == 0 && o.iteration > 0:
		o.stop(StopReasonNoCandidates, logger)
	case len(sampled) == 0:
		// A thin candidate pool on the first post-seed tick is not
		// terminal; the graph gets one more chance to grow.
		logger.Info().Msg("sampler returned no candidates on iteration 0, continuing")
	default:
		o.deps.Validator.CheckSamplerConsistency(o.deps.Store, sampled)
		retrieved, failed, err := o.retrieveAndMerge(ctx, sampled, logger)
		if err != nil {
			return false, err
		}
		rec.Retrieved = retrieved
		rec.Failed = failed
		if retrieved == 0 && o.iteration > 0 {
			o.stop(StopReasonNoPapers, logger)
		}
	}

	rec.PapersAdded = o.deps.Store.PaperCount() - papersBefore
	stopped := o.stopReason != ""
	if !stopped {
		o.saveIntermediate(ctx, logger)
		o.iteration++
	}

	o.state.update(o.stateValue(), o.iteration, o.stopReason, o.deps.Store)
	o.emitProgress(ctx, rec)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordTick(time.Since(tickStart).Seconds())
	}
	return stopped, nil
}

// AddSeedPapers retrieves and merges the given IDs immediately, bypassing
// the sampler, and flags them as seeds. Safe to call again with the same
// IDs; the merge absorbs duplicates.
func (o *Orchestrator) AddSeedPapers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	logger := o.run.Logger().With().Str("pass", "seed").Logger()
	if _, _, err := o.retrieveAndMerge(ctx, ids, logger); err != nil {
		return err
	}
	o.deps.Store.SetSeedFlags(ids)
	o.state.updateCounts(o.deps.Store)
	return nil
}

// AddUserPapers retrieves and merges user-supplied IDs immediately without
// flagging them as seeds. Used to extend a store mid- or post-crawl.
func (o *Orchestrator) AddUserPapers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	logger := o.run.Logger().With().Str("pass", "user").Logger()
	if _, _, err := o.retrieveAndMerge(ctx, ids, logger); err != nil {
		return err
	}
	o.deps.Store.SetSelectedFlags(ids)
	o.state.updateCounts(o.deps.Store)
	return nil
}

// AddKeyAuthorPapers retrieves and merges papers found through an author
// investigation pass and flags them accordingly.
func (o *Orchestrator) AddKeyAuthorPapers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	logger := o.run.Logger().With().Str("pass", "key_author").Logger()
	if _, _, err := o.retrieveAndMerge(ctx, ids, logger); err != nil {
		return err
	}
	o.deps.Store.SetKeyAuthorFlags(ids)
	o.state.updateCounts(o.deps.Store)
	return nil
}

// retrieveAndMerge is the shared retrieve-validate-merge pipeline used by
// ticks and by the seed and user passes. Returns the usable record count and
// the per-ID failure count; the error is the provider's whole-batch failure.
func (o *Orchestrator) retrieveAndMerge(ctx context.Context, ids []string, logger zerolog.Logger) (int, int, error) {
	o.deps.Store.SetSelectedFlags(ids)

	records, err := o.deps.Provider.Retrieve(ctx, ids)
	if err != nil {
		return 0, 0, fmt.Errorf("provider %s: retrieve batch of %d: %w", o.deps.Provider.Name(), len(ids), err)
	}

	failed := o.deps.Provider.FailedIDs()
	o.deps.Store.MarkFailed(failed)
	o.failedIDs = append(o.failedIDs, failed...)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordRetrievalsFailed(len(failed))
	}

	valid, dropped := o.deps.Validator.FilterValid(records)
	silent := o.deps.Validator.CrossCheckRetrieval(ids, records, failed, o.deps.Provider.InconsistentPairs())
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordRecordsDropped(dropped)
		o.deps.Metrics.RecordSilentDrops(len(silent))
	}

	if len(valid) == 0 {
		logger.Warn().
			Int("requested", len(ids)).
			Int("failed", len(failed)).
			Msg("no usable records retrieved")
		return 0, len(failed), nil
	}

	o.mergeBatch(ctx, valid, logger)
	o.deps.Validator.CheckProcessedConsistency(o.deps.Store, failed)
	return len(valid), len(failed), nil
}

// mergeBatch applies one batch to the store in the fixed merge order; edges
// depend on the papers of the same batch existing first. Retraction flags
// are then refreshed over the full DOI list, since retraction status can
// change for papers fetched in earlier iterations, and the derived
// aggregates are recomputed from scratch.
func (o *Orchestrator) mergeBatch(ctx context.Context, records []domain.ProviderPaperRecord, logger zerolog.Logger) {
	shapesBefore := o.deps.Store.ShapeSummary()

	o.deps.Store.MergePapers(records, true)
	o.deps.Store.MergeAuthorsAndLinks(records)
	o.deps.Store.MergeEdges(records)
	o.deps.Store.MergeAbstracts(records)

	if o.deps.Retraction != nil {
		retracted, err := o.deps.Retraction.Check(ctx, o.deps.Store.DOIs())
		if err != nil {
			logger.Warn().Err(err).Msg("retraction check failed, flags not refreshed this tick")
		} else {
			rows, entries := o.deps.Store.ApplyRetractionFlags(retracted)
			if o.deps.Metrics != nil {
				o.deps.Metrics.RecordPapersRetracted(len(rows))
			}
			if len(entries) > 0 {
				logger.Warn().Int("count", len(entries)).Msg("new retracted papers excluded")
			}
		}
	}

	o.deps.Store.RecomputeDerivedFeatures()

	shapes := o.deps.Store.ShapeSummary()
	if o.deps.Metrics != nil {
		added := shapes["papers"].Rows - shapesBefore["papers"].Rows
		fullNew := min(len(records), added)
		o.deps.Metrics.RecordPapersMerged("full", fullNew)
		o.deps.Metrics.RecordPapersMerged("stub", max(0, added-fullNew))
		o.deps.Metrics.RecordEdgesMerged("citation", shapes["citations"].Rows-shapesBefore["citations"].Rows)
		o.deps.Metrics.RecordEdgesMerged("reference", shapes["references"].Rows-shapesBefore["references"].Rows)
		o.deps.Metrics.RecordAbstractsMerged(shapes["abstracts"].Rows - shapesBefore["abstracts"].Rows)
	}
	logger.Info().
		Int("records", len(records)).
		Int("papers_total", shapes["papers"].Rows).
		Int("citations_total", shapes["citations"].Rows).
		Int("references_total", shapes["references"].Rows).
		Msg("batch merged")
}

// stop records the stopping decision.
func (o *Orchestrator) stop(reason string, logger zerolog.Logger) {
	o.stopReason = reason
	o.state.update(StateStopped, o.iteration, reason, o.deps.Store)
	logger.Info().Str("stop_reason", reason).Msg("stopping condition fired")
}

// fail marks the run failed after a fatal provider error.
func (o *Orchestrator) fail(start time.Time) {
	o.state.setState(StateFailed)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordCrawlFailed(time.Since(start).Seconds())
	}
}

// finalize audits the stopped run, saves the final snapshot, and builds the
// run result. The audit covers the whole store; failures recorded at any
// point of the run are exempt.
func (o *Orchestrator) finalize(ctx context.Context) (Result, error) {
	o.deps.Validator.CheckProcessedConsistency(o.deps.Store, o.failedIDs)

	processed, stubs := o.deps.Store.ProcessedCounts()
	result := Result{
		RunID:      o.run.RunID,
		RunName:    o.cfg.RunName,
		StopReason: o.stopReason,
		Iterations: o.iteration,
		Papers:     o.deps.Store.PaperCount(),
		Processed:  processed,
		Stubs:      stubs,
		FinishedAt: time.Now(),
	}
	if o.deps.Snapshots == nil {
		return result, nil
	}
	path, ts, err := o.deps.Snapshots.SaveFinal(ctx, o.deps.Store.Export(), o.cfg.RunName)
	if err != nil {
		return result, fmt.Errorf("save final snapshot: %w", err)
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordSnapshotSaved("final")
	}
	result.SnapshotPath = path
	result.FinishedAt = ts
	return result, nil
}

// saveIntermediate persists the post-tick snapshot. Failures are logged,
// never fatal; the next tick proceeds regardless.
func (o *Orchestrator) saveIntermediate(ctx context.Context, logger zerolog.Logger) {
	if o.deps.Snapshots == nil {
		return
	}
	if err := o.deps.Snapshots.SaveIntermediate(ctx, o.deps.Store.Export(), o.iteration); err != nil {
		logger.Warn().Err(err).Msg("intermediate snapshot failed")
		return
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordSnapshotSaved("intermediate")
	}
}

// emitProgress fills run-level fields and delivers the record to the sink.
func (o *Orchestrator) emitProgress(ctx context.Context, rec progress.Record) {
	if o.deps.Sink == nil {
		return
	}
	rec.RunID = o.run.RunID
	rec.RunName = o.cfg.RunName
	rec.PapersTotal = o.deps.Store.PaperCount()
	rec.ProcessedTotal, rec.StubTotal = o.deps.Store.ProcessedCounts()
	shapes := o.deps.Store.ShapeSummary()
	rec.CitationsTotal = shapes["citations"].Rows
	rec.ReferencesTotal = shapes["references"].Rows
	rec.Stopped = o.stopReason != ""
	rec.StopReason = o.stopReason
	if err := o.deps.Sink.Emit(ctx, rec); err != nil {
		logger := o.run.Logger()
		logger.Warn().Err(err).Msg("progress sink emit failed")
	}
}

// stateValue returns the lifecycle state implied by the stop reason.
func (o *Orchestrator) stateValue() State {
	if o.stopReason != "" {
		return StateStopped
	}
	return StateIterating
}
