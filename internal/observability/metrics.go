package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the citation crawler.
// Metrics are organized by subsystem: crawls, ticks, merges, providers, and
// retraction checks. All counters and histograms are registered via promauto
// for automatic registration with the default Prometheus registry.
type Metrics struct {
	// CrawlsStarted counts the total number of crawl runs initiated.
	CrawlsStarted prometheus.Counter

	// CrawlsStopped counts finished crawl runs, labeled by stop reason.
	CrawlsStopped *prometheus.CounterVec

	// CrawlsFailed counts crawl runs aborted by a fatal provider error.
	CrawlsFailed prometheus.Counter

	// CrawlDuration observes the end-to-end duration of crawl runs in seconds.
	CrawlDuration prometheus.Histogram

	// TicksTotal counts crawl iterations executed.
	TicksTotal prometheus.Counter

	// TickDuration observes the duration of single iterations in seconds.
	TickDuration prometheus.Histogram

	// PapersMerged counts paper rows merged, labeled by kind (full, stub).
	PapersMerged *prometheus.CounterVec

	// EdgesMerged counts citation-graph edges merged, labeled by direction
	// (citation, reference).
	EdgesMerged *prometheus.CounterVec

	// AbstractsMerged counts abstract rows stored.
	AbstractsMerged prometheus.Counter

	// RecordsDropped counts provider records dropped by validation.
	RecordsDropped prometheus.Counter

	// SilentDrops counts requested IDs the provider neither returned nor
	// reported as failed.
	SilentDrops prometheus.Counter

	// RetrievalsFailed counts per-ID retrieval failures reported by providers.
	RetrievalsFailed prometheus.Counter

	// PapersRetracted counts papers flagged as retracted.
	PapersRetracted prometheus.Counter

	// ProviderRequestsTotal counts HTTP requests to providers, labeled by
	// provider and endpoint.
	ProviderRequestsTotal *prometheus.CounterVec

	// ProviderRequestsFailed counts failed provider requests, labeled by
	// provider, endpoint, and error type.
	ProviderRequestsFailed *prometheus.CounterVec

	// ProviderRequestDuration observes provider request duration in seconds.
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRateLimited counts rate-limited responses, labeled by provider.
	ProviderRateLimited *prometheus.CounterVec

	// SnapshotsSaved counts snapshots persisted, labeled by kind
	// (intermediate, final).
	SnapshotsSaved *prometheus.CounterVec

	// TableRows tracks the current row count of each store table.
	TableRows *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Crawls
		CrawlsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawls_started_total",
			Help:      "Total number of crawl runs started",
		}),
		CrawlsStopped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawls_stopped_total",
			Help:      "Total number of crawl runs stopped by reason",
		}, []string{"reason"}),
		CrawlsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawls_failed_total",
			Help:      "Total number of crawl runs aborted by a fatal error",
		}),
		CrawlDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crawl_duration_seconds",
			Help:      "Duration of crawl runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),

		// Ticks
		TicksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total number of crawl iterations executed",
		}),
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of crawl iterations in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		// Merges
		PapersMerged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_merged_total",
			Help:      "Total number of paper rows merged by kind",
		}, []string{"kind"}),
		EdgesMerged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_merged_total",
			Help:      "Total number of citation edges merged by direction",
		}, []string{"direction"}),
		AbstractsMerged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abstracts_merged_total",
			Help:      "Total number of abstracts stored",
		}),
		RecordsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Total number of provider records dropped by validation",
		}),
		SilentDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "silent_drops_total",
			Help:      "Total number of requested IDs neither returned nor reported failed",
		}),
		RetrievalsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_failed_total",
			Help:      "Total number of per-ID retrieval failures",
		}),
		PapersRetracted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_retracted_total",
			Help:      "Total number of papers flagged as retracted",
		}),

		// Providers
		ProviderRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of requests to paper providers",
		}, []string{"provider", "endpoint"}),
		ProviderRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_failed_total",
			Help:      "Total number of failed requests to paper providers",
		}, []string{"provider", "endpoint", "error_type"}),
		ProviderRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of requests to paper providers in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "endpoint"}),
		ProviderRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_rate_limited_total",
			Help:      "Total number of rate limit responses from paper providers",
		}, []string{"provider"}),

		// Snapshots
		SnapshotsSaved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_saved_total",
			Help:      "Total number of snapshots saved by kind",
		}, []string{"kind"}),

		// Store
		TableRows: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_rows",
			Help:      "Current row count per store table",
		}, []string{"table"}),
	}
}

// RecordCrawlStarted records that a crawl run has started.
func (m *Metrics) RecordCrawlStarted() {
	m.CrawlsStarted.Inc()
}

// RecordCrawlStopped records a finished crawl run and its duration.
func (m *Metrics) RecordCrawlStopped(reason string, durationSeconds float64) {
	m.CrawlsStopped.WithLabelValues(reason).Inc()
	m.CrawlDuration.Observe(durationSeconds)
}

// RecordCrawlFailed records a crawl run aborted by a fatal error.
func (m *Metrics) RecordCrawlFailed(durationSeconds float64) {
	m.CrawlsFailed.Inc()
	m.CrawlDuration.Observe(durationSeconds)
}

// RecordTick records one executed crawl iteration.
func (m *Metrics) RecordTick(durationSeconds float64) {
	m.TicksTotal.Inc()
	m.TickDuration.Observe(durationSeconds)
}

// RecordPapersMerged records merged paper rows of the given kind.
func (m *Metrics) RecordPapersMerged(kind string, count int) {
	m.PapersMerged.WithLabelValues(kind).Add(float64(count))
}

// RecordEdgesMerged records merged edges of the given direction.
func (m *Metrics) RecordEdgesMerged(direction string, count int) {
	m.EdgesMerged.WithLabelValues(direction).Add(float64(count))
}

// RecordAbstractsMerged records stored abstract rows.
func (m *Metrics) RecordAbstractsMerged(count int) {
	m.AbstractsMerged.Add(float64(count))
}

// RecordRecordsDropped records provider records dropped by validation.
func (m *Metrics) RecordRecordsDropped(count int) {
	m.RecordsDropped.Add(float64(count))
}

// RecordSilentDrops records silently dropped retrieval IDs.
func (m *Metrics) RecordSilentDrops(count int) {
	m.SilentDrops.Add(float64(count))
}

// RecordRetrievalsFailed records per-ID retrieval failures.
func (m *Metrics) RecordRetrievalsFailed(count int) {
	m.RetrievalsFailed.Add(float64(count))
}

// RecordPapersRetracted records papers flagged as retracted.
func (m *Metrics) RecordPapersRetracted(count int) {
	m.PapersRetracted.Add(float64(count))
}

// RecordProviderRequest records a request to a paper provider.
func (m *Metrics) RecordProviderRequest(provider, endpoint string, durationSeconds float64) {
	m.ProviderRequestsTotal.WithLabelValues(provider, endpoint).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, endpoint).Observe(durationSeconds)
}

// RecordProviderRequestFailed records a failed request to a paper provider.
func (m *Metrics) RecordProviderRequestFailed(provider, endpoint, errorType string) {
	m.ProviderRequestsFailed.WithLabelValues(provider, endpoint, errorType).Inc()
}

// RecordProviderRateLimited records a rate limit response from a provider.
func (m *Metrics) RecordProviderRateLimited(provider string) {
	m.ProviderRateLimited.WithLabelValues(provider).Inc()
}

// RecordSnapshotSaved records a persisted snapshot of the given kind.
func (m *Metrics) RecordSnapshotSaved(kind string) {
	m.SnapshotsSaved.WithLabelValues(kind).Inc()
}

// RecordTableRows records the current row count of a store table.
func (m *Metrics) RecordTableRows(table string, rows int) {
	m.TableRows.WithLabelValues(table).Set(float64(rows))
}
