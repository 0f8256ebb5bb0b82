package migration

import (
	"time"

	"github.com/annel0/worldstore/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	runs          *prometheus.CounterVec
	chunks        *prometheus.CounterVec
	batchDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	mt := &metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "worldstore",
			Subsystem: "migration",
			Name:      "runs_total",
			Help:      "Прогоны миграции по итогу.",
		}, []string{"outcome"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "worldstore",
			Subsystem: "migration",
			Name:      "chunks_total",
			Help:      "Обработанные чанки (converted, failed).",
		}, []string{"result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "worldstore",
			Subsystem: "migration",
			Name:      "batch_duration_seconds",
			Help:      "Длительность пакета миграции.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}

	for _, collector := range []prometheus.Collector{mt.runs, mt.chunks, mt.batchDuration} {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logging.Warn("Не удалось зарегистрировать метрику: %v", err)
			}
		}
	}
	return mt
}

func (mt *metrics) observeBatch(d time.Duration, converted, failed int) {
	mt.batchDuration.Observe(d.Seconds())
	mt.chunks.WithLabelValues("converted").Add(float64(converted))
	mt.chunks.WithLabelValues("failed").Add(float64(failed))
}

func (mt *metrics) observeRun(r *Report) {
	mt.runs.WithLabelValues(string(r.Outcome)).Inc()
}
