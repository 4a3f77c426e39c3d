// Package progress defines the per-tick progress record the crawl
// orchestrator emits and the sinks that consume it: structured logs,
// Prometheus gauges, and a Kafka topic for downstream consumers.
package progress

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/citescope/citation-crawler/internal/observability"
)

// Record is the progress snapshot emitted after every crawl tick and once
// more when the run stops.
type Record struct {
	RunID     string `json:"run_id"`
	RunName   string `json:"run_name"`
	Iteration int    `json:"iteration"`

	// Sampled is the number of paper IDs the sampler selected this tick.
	Sampled int `json:"sampled"`

	// Retrieved is the number of usable records the provider returned.
	Retrieved int `json:"retrieved"`

	// Failed is the number of per-ID retrieval failures this tick.
	Failed int `json:"failed"`

	// PapersAdded is the growth of the paper table during this tick.
	PapersAdded int `json:"papers_added"`

	// PapersTotal, ProcessedTotal, and StubTotal describe the paper table
	// after this tick's merge.
	PapersTotal    int `json:"papers_total"`
	ProcessedTotal int `json:"processed_total"`
	StubTotal      int `json:"stub_total"`

	// CitationsTotal and ReferencesTotal are edge-table row counts.
	CitationsTotal  int `json:"citations_total"`
	ReferencesTotal int `json:"references_total"`

	// Stopped and StopReason are set on the final record of a run.
	Stopped    bool   `json:"stopped"`
	StopReason string `json:"stop_reason,omitempty"`
}

// Sink consumes progress records. Sink errors are reported to the caller but
// are never fatal to a crawl.
type Sink interface {
	Emit(ctx context.Context, rec Record) error
	Close() error
}

// LogSink writes each progress record as one structured log line.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "progress").Logger()}
}

// Emit logs the record.
func (s *LogSink) Emit(_ context.Context, rec Record) error {
	s.logger.Info().
		Str("run_id", rec.RunID).
		Str("run_name", rec.RunName).
		Int("iteration", rec.Iteration).
		Int("sampled", rec.Sampled).
		Int("retrieved", rec.Retrieved).
		Int("failed", rec.Failed).
		Int("papers_added", rec.PapersAdded).
		Int("papers_total", rec.PapersTotal).
		Int("processed_total", rec.ProcessedTotal).
		Int("stub_total", rec.StubTotal).
		Int("citations_total", rec.CitationsTotal).
		Int("references_total", rec.ReferencesTotal).
		Bool("stopped", rec.Stopped).
		Str("stop_reason", rec.StopReason).
		Msg("crawl progress")
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

// MetricsSink mirrors each record into store-table gauges.
type MetricsSink struct {
	metrics *observability.Metrics
}

// NewMetricsSink creates a MetricsSink.
func NewMetricsSink(metrics *observability.Metrics) *MetricsSink {
	return &MetricsSink{metrics: metrics}
}

// Emit updates the table-row gauges from the record.
func (s *MetricsSink) Emit(_ context.Context, rec Record) error {
	s.metrics.RecordTableRows("papers", rec.PapersTotal)
	s.metrics.RecordTableRows("papers_processed", rec.ProcessedTotal)
	s.metrics.RecordTableRows("papers_stub", rec.StubTotal)
	s.metrics.RecordTableRows("citations", rec.CitationsTotal)
	s.metrics.RecordTableRows("references", rec.ReferencesTotal)
	return nil
}

// Close implements Sink.
func (s *MetricsSink) Close() error { return nil }

// MultiSink fans each record out to every wrapped sink. Emit returns the
// first error encountered but still delivers to all sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a MultiSink over the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Emit delivers the record to every sink.
func (s *MultiSink) Emit(ctx context.Context, rec Record) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Emit(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every sink, returning the first error.
func (s *MultiSink) Close() error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
