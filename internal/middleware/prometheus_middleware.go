package middleware

import (
	"errors"
	"time"

	"github.com/annel0/worldstore/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics метрики админ-API.
//
//	mw := middleware.NewHTTPMetrics("worldstore_admin", reg)
//	r.Use(mw.Handler())
//	r.GET("/metrics", middleware.MetricsHandler(reg))
//
// Пути берутся из шаблона маршрута (/api/world/chunks/:dim/:x/:z/consistency),
// статус сворачивается в класс (2xx, 4xx, 5xx), чтобы кардинальность не росла.
type HTTPMetrics struct {
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
	failures *prometheus.CounterVec

	// SlowThreshold запросы дольше порога пишутся в лог предупреждением
	SlowThreshold time.Duration
}

// NewHTTPMetrics создаёт метрики и регистрирует их в reg
func NewHTTPMetrics(namespace string, reg prometheus.Registerer) *HTTPMetrics {
	hm := &HTTPMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Длительность запросов админ-API.",
			// Сверка чанка и отчёты читают хранилище, поэтому хвост длиннее обычного
			Buckets: []float64{0.001, 0.005, 0.02, 0.1, 0.5, 2, 10},
		}, []string{"method", "route", "class"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_inflight",
			Help:      "Запросы админ-API в обработке.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_failures_total",
			Help:      "Ответы админ-API со статусом 4xx/5xx.",
		}, []string{"route", "status"}),
		SlowThreshold: 2 * time.Second,
	}

	for _, c := range []prometheus.Collector{hm.duration, hm.inflight, hm.failures} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				logging.Warn("Не удалось зарегистрировать метрику: %v", err)
			}
		}
	}
	return hm
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Handler возвращает gin.HandlerFunc для router.Use()
func (hm *HTTPMetrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		hm.inflight.Inc()
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		hm.inflight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()

		hm.duration.WithLabelValues(c.Request.Method, route, statusClass(code)).Observe(elapsed.Seconds())
		if code >= 400 {
			hm.failures.WithLabelValues(route, statusText(code)).Inc()
		}
		if hm.SlowThreshold > 0 && elapsed > hm.SlowThreshold {
			logging.Warn("🐢 Медленный запрос %s %s: %v", c.Request.Method, c.Request.URL.Path, elapsed)
		}
	}
}

func statusText(code int) string {
	switch code {
	case 400:
		return "400"
	case 404:
		return "404"
	case 422:
		return "422"
	case 500:
		return "500"
	case 503:
		return "503"
	}
	return statusClass(code)
}

// MetricsHandler отдаёт метрики из gatherer в формате Prometheus/OpenMetrics
func MetricsHandler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
}
