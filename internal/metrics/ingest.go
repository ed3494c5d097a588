package metrics

import "github.com/prometheus/client_golang/prometheus"

// IngestMetrics holds the indexer pipeline metrics.
type IngestMetrics struct {
	FilesProcessed prometheus.Counter
	FilesSkipped   *prometheus.CounterVec
	ChunksEmbedded prometheus.Counter
	ChunksSkipped  *prometheus.CounterVec
	BatchesTotal   prometheus.Counter
	BatchDuration  prometheus.Histogram
	QueueDepth     prometheus.Gauge
	LastPointID    prometheus.Gauge
}

// NewIngestMetrics creates and registers the indexer metrics on reg.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		FilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scadex_indexer",
			Name:      "files_processed_total",
			Help:      "Source files fully ingested",
		}),

		FilesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scadex_indexer",
			Name:      "files_skipped_total",
			Help:      "Source files skipped",
		}, []string{"reason"}),

		ChunksEmbedded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scadex_indexer",
			Name:      "chunks_embedded_total",
			Help:      "Chunks embedded and committed",
		}),

		ChunksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scadex_indexer",
			Name:      "chunks_skipped_total",
			Help:      "Chunks dropped before commit",
		}, []string{"reason"}),

		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scadex_indexer",
			Name:      "batches_total",
			Help:      "Batches flushed to the vector index and metastore",
		}),

		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scadex_indexer",
			Name:      "batch_duration_seconds",
			Help:      "Batch flush duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scadex_indexer",
			Name:      "queue_depth",
			Help:      "Chunks waiting in the embedding queue",
		}),

		LastPointID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scadex_indexer",
			Name:      "last_point_id",
			Help:      "Highest point id committed so far",
		}),
	}

	reg.MustRegister(
		m.FilesProcessed, m.FilesSkipped,
		m.ChunksEmbedded, m.ChunksSkipped,
		m.BatchesTotal, m.BatchDuration,
		m.QueueDepth, m.LastPointID,
	)

	return m
}
