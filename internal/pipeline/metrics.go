package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	written      prometheus.Counter
	writeErrors  prometheus.Counter
	outstanding  prometheus.Gauge
	batches      prometheus.Counter
	batchSeconds prometheus.Histogram
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		written: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "synister",
			Name:      "predictions_written_total",
			Help:      "Predictions upserted by the writer pool.",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "synister",
			Name:      "prediction_write_errors_total",
			Help:      "Prediction upserts that failed.",
		}),
		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "synister",
			Name:      "prediction_queue_outstanding",
			Help:      "Results enqueued but not yet acknowledged.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "synister",
			Name:      "inference_batches_total",
			Help:      "Batches sent through the classifier.",
		}),
		batchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "synister",
			Name:      "inference_batch_seconds",
			Help:      "Raw fetch plus classifier latency per batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{m.written, m.writeErrors, m.outstanding, m.batches, m.batchSeconds} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) predictionWritten() {
	if m != nil {
		m.written.Inc()
	}
}

func (m *Metrics) predictionFailed() {
	if m != nil {
		m.writeErrors.Inc()
	}
}

func (m *Metrics) setOutstanding(n int) {
	if m != nil {
		m.outstanding.Set(float64(n))
	}
}

func (m *Metrics) batchDone(d time.Duration) {
	if m != nil {
		m.batches.Inc()
		m.batchSeconds.Observe(d.Seconds())
	}
}
