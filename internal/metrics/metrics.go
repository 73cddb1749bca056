package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chaptr"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ChunksCreated     prometheus.Counter
	BooksProcessed    *prometheus.CounterVec
	Generations       *prometheus.CounterVec
	EmbeddingDuration prometheus.Histogram
	SearchDuration    prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_created_total",
			Help:      "Chunks persisted by the processing pipeline.",
		}),
		BooksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "books_processed_total",
			Help:      "Processing runs by final status.",
		}, []string{"status"}),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generation calls by kind and outcome.",
		}, []string{"kind", "outcome"}),
		EmbeddingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_duration_seconds",
			Help:      "Time spent embedding one batch of texts.",
			Buckets:   prometheus.DefBuckets,
		}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end similarity search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ChunksCreated, m.BooksProcessed, m.Generations, m.EmbeddingDuration, m.SearchDuration)
	}
	return m
}

func (m *Metrics) AddChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ChunksCreated.Add(float64(n))
}

func (m *Metrics) BookProcessed(status string) {
	if m == nil {
		return
	}
	m.BooksProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) Generation(kind, outcome string) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveEmbedding(d time.Duration) {
	if m == nil {
		return
	}
	m.EmbeddingDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSearch(d time.Duration) {
	if m == nil {
		return
	}
	m.SearchDuration.Observe(d.Seconds())
}
