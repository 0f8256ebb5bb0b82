package streaming

import (
	"sync"
	"time"

	"github.com/annel0/worldstore/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// metrics Prometheus-метрики стриминга. Счётчики периодически догоняют
// накопительную статистику менеджера по дельте, gauge выставляются из снимка.
type metrics struct {
	m *Manager

	loads        *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	evictions    prometheus.Counter
	cacheHits    prometheus.Counter
	saveFailures prometheus.Counter
	slots        prometheus.Gauge
	preloadSlots prometheus.Gauge
	memoryBytes  prometheus.Gauge
	pressure     prometheus.Gauge
}

func newMetrics(m *Manager, reg prometheus.Registerer) *metrics {
	mt := &metrics{
		m: m,
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "worldstore",
			Subsystem: "streaming",
			Name:      "loads_total",
			Help:      "Загрузки чанков по источнику (legacy, enhanced, generated, failed).",
		}, []string{"source"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "worldstore",
			Subsystem: "streaming",
			Name:      "load_duration_seconds",
			Help:      "Длительность загрузки чанка.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"source"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldstore",
			Subsystem: "streaming",
			Name:      "evictions_total",
			Help:      "Чанки, вытесненные из-за давления памяти.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldstore",
			Subsystem: "streaming",
			Name:      "cache_hits_total",
			Help:      "Запросы, обслуженные из рабочего набора.",
		}),
		saveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldstore",
			Subsystem: "streaming",
			Name:      "save_failures_total",
			Help:      "Сохранения, не удавшиеся после всех повторов.",
		}),
		slots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "worldstore",
			Subsystem: "streaming",
			Name:      "slots",
			Help:      "Слоты рабочего набора.",
		}),
		preloadSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "worldstore",
			Subsystem: "streaming",
			Name:      "preload_slots",
			Help:      "Слоты, удерживаемые только предсказанием.",
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "worldstore",
			Subsystem: "streaming",
			Name:      "memory_bytes",
			Help:      "Оценка памяти рабочего набора.",
		}),
		pressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "worldstore",
			Subsystem: "streaming",
			Name:      "memory_pressure",
			Help:      "Доля бюджета памяти.",
		}),
	}

	collectors := []prometheus.Collector{
		mt.loads, mt.loadDuration, mt.evictions, mt.cacheHits, mt.saveFailures,
		mt.slots, mt.preloadSlots, mt.memoryBytes, mt.pressure,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			// Игнорируем ошибки дублирования метрик
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logging.Warn("Не удалось зарегистрировать метрику: %v", err)
			}
		}
	}
	return mt
}

func (mt *metrics) observeLoad(source string, d time.Duration, err error) {
	if err != nil {
		source = sourceFailed
	}
	mt.loads.WithLabelValues(source).Inc()
	mt.loadDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (mt *metrics) loop(quit <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// Для коррекции Counter храним прошлое значение и прибавляем дельту
	var prev Stats
	for {
		select {
		case <-ticker.C:
			prev = mt.update(prev)
		case <-quit:
			return
		}
	}
}

func (mt *metrics) update(prev Stats) Stats {
	st := mt.m.Stats()

	if d := st.Evictions - prev.Evictions; d > 0 {
		mt.evictions.Add(float64(d))
	}
	if d := st.CacheHits - prev.CacheHits; d > 0 {
		mt.cacheHits.Add(float64(d))
	}
	if d := st.SaveFailures - prev.SaveFailures; d > 0 {
		mt.saveFailures.Add(float64(d))
	}

	mt.slots.Set(float64(st.Slots))
	mt.preloadSlots.Set(float64(st.PreloadSlots))
	mt.memoryBytes.Set(float64(st.MemoryBytes))
	mt.pressure.Set(st.Pressure)
	return st
}
