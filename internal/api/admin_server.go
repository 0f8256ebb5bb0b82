package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/logging"
	"github.com/annel0/worldstore/internal/middleware"
	"github.com/annel0/worldstore/internal/migration"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/annel0/worldstore/internal/streaming"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// StreamingStats источник статистики стриминга
type StreamingStats interface {
	Stats() streaming.Stats
}

// MigrationStatus источник хода миграции
type MigrationStatus interface {
	Progress() migration.Progress
}

// Config содержит конфигурацию админ-сервера
type Config struct {
	Port       string // адрес для запуска сервера, ":8089"
	Layer      *storage.Layer
	Streaming  StreamingStats  // может быть nil
	Migration  MigrationStatus // может быть nil
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// AdminServer служебный HTTP API: здоровье, статистика стриминга,
// отчёты миграции, метаданные мира и /metrics
type AdminServer struct {
	router  *gin.Engine
	cfg     Config
	probe   *processProbe
	logger  *logging.Logger

	httpServer *http.Server
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewAdminServer создает админ-сервер
func NewAdminServer(cfg Config) *AdminServer {
	if cfg.Port == "" {
		cfg.Port = ":8089"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	router.Use(otelgin.Middleware("worldstore_admin"))
	router.Use(middleware.NewRequestLogger().Handler())

	router.Use(middleware.NewHTTPMetrics("worldstore_admin", cfg.Registerer).Handler())
	router.GET("/metrics", middleware.MetricsHandler(cfg.Gatherer))

	s := &AdminServer{
		router:  router,
		cfg:     cfg,
		probe:   newProcessProbe(),
		logger:  logging.GetComponentLogger("admin"),
	}
	s.setupRoutes()
	return s
}

// Handler возвращает http.Handler сервера
func (s *AdminServer) Handler() http.Handler {
	return s.router
}

func (s *AdminServer) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/streaming/stats", s.handleStreamingStats)

		api.GET("/migration/progress", s.handleMigrationProgress)
		api.GET("/migration/reports/latest", s.handleLatestReport)
		api.GET("/migration/reports/:run", s.handleReport)

		api.GET("/world/metadata", s.handleMetadata)
		api.GET("/world/chunks/:dim/:x/:z/consistency", s.handleConsistency)
	}
}

func (s *AdminServer) fail(c *gin.Context, status int, message string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		s.logger.Error("%s: %v", message, err)
	}
	c.JSON(status, GenericResponse{Success: false, Message: message})
}

func (s *AdminServer) ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: message, Data: data})
}

// statusFor переводит ошибку хранилища в HTTP-статус
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrCorruptRecord):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *AdminServer) handleHealth(c *gin.Context) {
	h := s.probe.snapshot()
	if s.cfg.Streaming != nil {
		st := s.cfg.Streaming.Stats()
		h.ResidentChunks = &st.Ready
		h.MemoryPressure = &st.Pressure
	}
	s.ok(c, "ok", h)
}

func (s *AdminServer) handleStreamingStats(c *gin.Context) {
	if s.cfg.Streaming == nil {
		s.fail(c, http.StatusServiceUnavailable, "Стриминг не запущен", nil)
		return
	}
	s.ok(c, "Статистика стриминга", s.cfg.Streaming.Stats())
}

func (s *AdminServer) handleMigrationProgress(c *gin.Context) {
	if s.cfg.Migration == nil {
		s.fail(c, http.StatusServiceUnavailable, "Менеджер миграции не подключён", nil)
		return
	}
	s.ok(c, "Ход миграции", s.cfg.Migration.Progress())
}

func (s *AdminServer) handleLatestReport(c *gin.Context) {
	report, err := migration.LatestReport(c.Request.Context(), s.cfg.Layer.Store())
	if err != nil {
		s.fail(c, statusFor(err), "Отчёт миграции не найден", err)
		return
	}
	s.ok(c, "Последний прогон миграции", report)
}

func (s *AdminServer) handleReport(c *gin.Context) {
	report, err := migration.LoadReport(c.Request.Context(), s.cfg.Layer.Store(), c.Param("run"))
	if err != nil {
		s.fail(c, statusFor(err), "Отчёт миграции не найден", err)
		return
	}
	s.ok(c, "Отчёт миграции", report)
}

func (s *AdminServer) handleMetadata(c *gin.Context) {
	meta, err := s.cfg.Layer.LoadMetadata(c.Request.Context())
	if err != nil {
		s.fail(c, statusFor(err), "Метаданные мира недоступны", err)
		return
	}
	s.ok(c, "Метаданные мира", meta)
}

func parseChunkKey(c *gin.Context) (chunk.Key, error) {
	dim, err := chunk.ParseDimension(c.Param("dim"))
	if err != nil {
		return chunk.Key{}, err
	}
	x, err := strconv.ParseInt(c.Param("x"), 10, 32)
	if err != nil {
		return chunk.Key{}, fmt.Errorf("bad x: %w", err)
	}
	z, err := strconv.ParseInt(c.Param("z"), 10, 32)
	if err != nil {
		return chunk.Key{}, fmt.Errorf("bad z: %w", err)
	}
	return chunk.NewKey(dim, int32(x), int32(z)), nil
}

func (s *AdminServer) handleConsistency(c *gin.Context) {
	key, err := parseChunkKey(c)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "Неверный ключ чанка: "+err.Error(), nil)
		return
	}

	rep, err := s.cfg.Layer.ValidateConsistency(c.Request.Context(), key)
	if err != nil {
		s.fail(c, statusFor(err), "Чанк не найден", err)
		return
	}

	data := map[string]interface{}{
		"key":     key.String(),
		"status":  rep.Status.String(),
		"details": rep.Details,
	}
	if rep.Status == storage.MissingFormat {
		data["missing"] = rep.Missing.String()
	}
	s.ok(c, "Сверка форматов", data)
}

// Start запускает HTTP-сервер в фоне
func (s *AdminServer) Start() {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("🌐 Админ-API слушает %s", s.cfg.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Админ-API остановлен с ошибкой: %v", err)
		}
	}()
}

// Stop корректно останавливает HTTP-сервер
func (s *AdminServer) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
