package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/worldstore/internal/api"
	"github.com/annel0/worldstore/internal/config"
	"github.com/annel0/worldstore/internal/generator"
	"github.com/annel0/worldstore/internal/logging"
	"github.com/annel0/worldstore/internal/migration"
	"github.com/annel0/worldstore/internal/notify"
	"github.com/annel0/worldstore/internal/observability"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/annel0/worldstore/internal/streaming"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "Путь к YAML-конфигурации (по умолчанию WORLD_CONFIG)")
	envFile := flag.String("env-file", "", "Файл с переменными WORLD_* (по умолчанию ./.env)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("❌ %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if err := logging.InitDefaultLoggerWithOptions("worldserver", cfg.LoggingOptions()); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nodeID := cfg.Server.GetNodeID()
	logging.Info("🌍 Запуск сервера мира %s (хранилище: %s)", nodeID, cfg.Storage.Backend)

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("Ошибка остановки телеметрии: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// === ХРАНИЛИЩЕ ===
	store, err := cfg.OpenStore()
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error("Ошибка закрытия хранилища: %v", err)
		}
	}()

	layer := storage.NewLayer(store)
	meta, err := layer.RefreshMetadata(ctx)
	if err != nil {
		return fmt.Errorf("world metadata: %w", err)
	}
	logging.Info("🗺️ Мир %s: формат %s, legacy %d, enhanced %d",
		meta.WorldID, meta.Format, meta.LegacyCount, meta.EnhancedCount)

	worldLock := storage.NewWorldLock()

	// === ОПОВЕЩЕНИЯ ===
	notifiers := notify.Fanout{}
	if cfg.Notify.Log {
		notifiers = append(notifiers, notify.NewLogNotifier())
	}
	if cfg.Notify.NATS.URL != "" {
		natsNotifier, err := notify.NewNATSNotifier(cfg.Notify.NATS, nodeID)
		if err != nil {
			return err
		}
		defer natsNotifier.Close()

		err = natsNotifier.Subscribe(ctx, func(ev notify.ChunkEvent) error {
			logging.Debug("🔔 Узел %s: чанк %s %s", ev.NodeID, ev.Key, ev.Type)
			return nil
		})
		if err != nil {
			return err
		}
		notifiers = append(notifiers, natsNotifier)
	}

	var webhooks *notify.WebhookSender
	if len(cfg.Notify.Webhooks) > 0 {
		webhooks, err = notify.NewWebhookSender(cfg.Notify.Webhooks, nodeID)
		if err != nil {
			return err
		}
		defer webhooks.Close()
	}

	// === СТРИМИНГ ===
	streamCfg, err := cfg.StreamingOptions()
	if err != nil {
		return err
	}
	streamOpts := []streaming.Option{
		streaming.WithNotifier(notifiers),
		streaming.WithWorldLock(worldLock),
		streaming.WithRegisterer(reg),
	}
	if cfg.Generator.Enabled {
		gen, err := generator.NewPerlinGenerator(cfg.GeneratorOptions())
		if err != nil {
			return err
		}
		streamOpts = append(streamOpts, streaming.WithGenerator(gen))
	}
	if cfg.Streaming.SampleProcessMemory {
		sampler, err := streaming.NewProcessMemorySampler()
		if err != nil {
			logging.Warn("Замер памяти процесса недоступен: %v", err)
		} else {
			streamOpts = append(streamOpts, streaming.WithMemorySampler(sampler))
		}
	}

	streamer, err := streaming.NewManager(layer, streamCfg, streamOpts...)
	if err != nil {
		return err
	}
	streamer.Start()

	// === МИГРАЦИЯ (статус и отчёты) ===
	migrationOpts := []migration.Option{
		migration.WithWorldLock(worldLock),
		migration.WithLoadedCounter(streamer),
		migration.WithRegisterer(reg),
	}
	if webhooks != nil {
		migrationOpts = append(migrationOpts, migration.WithRunObserver(func(r *migration.Report) {
			webhooks.SendEvent("migration."+string(r.Outcome), r)
		}))
	}
	migrator, err := migration.NewManager(layer, cfg.MigrationOptions(), migrationOpts...)
	if err != nil {
		return err
	}
	if rec, err := migrator.Recommend(ctx); err != nil {
		logging.Warn("Не удалось оценить миграцию: %v", err)
	} else if rec.NeedsMigration {
		logging.Warn("⚠️ %d чанков ждут миграции в enhanced-формат (~%v), запустите worldctl migrate-world",
			rec.PendingChunks, rec.EstimatedDuration)
	}

	// === АДМИН-API ===
	admin := api.NewAdminServer(api.Config{
		Port:       fmt.Sprintf(":%d", cfg.Server.GetAdminPort()),
		Layer:      layer,
		Streaming:  streamer,
		Migration:  migrator,
		Registerer: reg,
		Gatherer:   reg,
	})
	admin.Start()

	logging.Info("✅ Сервер мира запущен")
	logging.Info("   ❤️  Health check: http://localhost:%d/health", cfg.Server.GetAdminPort())

	<-ctx.Done()
	logging.Info("📡 Получен сигнал завершения, останавливаемся...")

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := admin.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки админ-API: %v", err)
	}
	if err := streamer.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Не все чанки сохранены: %v", err)
	}
	if _, err := layer.RefreshMetadata(shutdownCtx); err != nil {
		logging.Warn("Не удалось обновить метаданные мира: %v", err)
	}

	logging.Info("👋 Сервер мира остановлен")
	return nil
}
