package middleware

import (
	"time"

	"github.com/annel0/worldstore/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDKey ключ gin.Context с идентификатором запроса
const TraceIDKey = "trace_id"

// RequestLogger пишет по строке на запрос в компонент "http" и отдаёт
// X-Trace-Id: trace-ID из OpenTelemetry или, без трассировки, uuid.
// Пробы (/health, /metrics) логируются только на уровне DEBUG.
type RequestLogger struct {
	logger *logging.Logger
	quiet  map[string]bool
}

func NewRequestLogger() *RequestLogger {
	return &RequestLogger{
		logger: logging.GetComponentLogger("http"),
		quiet:  map[string]bool{"/health": true, "/metrics": true},
	}
}

func requestID(c *gin.Context) string {
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := requestID(c)
		c.Set(TraceIDKey, id)
		c.Header("X-Trace-Id", id)

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		log := rl.logger.WithField("trace", id)

		switch {
		case status >= 500:
			log.Warn("%s %s -> %d за %v (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start), c.Errors.String())
		case rl.quiet[route]:
			log.Debug("%s %s -> %d", c.Request.Method, route, status)
		default:
			log.Info("%s %s -> %d за %v", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
		}
	}
}
