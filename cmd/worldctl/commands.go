package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/annel0/worldstore/internal/config"
	"github.com/annel0/worldstore/internal/logging"
	"github.com/annel0/worldstore/internal/migration"
	"github.com/annel0/worldstore/internal/notify"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/urfave/cli/v2"
)

// env открытое хранилище и менеджер миграции для одной команды
type env struct {
	store    storage.KVStore
	layer    *storage.Layer
	mgr      *migration.Manager
	webhooks *notify.WebhookSender
	out      io.Writer
	json     bool
}

// setup читает конфигурацию, применяет adjust к настройкам миграции
// и открывает хранилище
func setup(c *cli.Context, open storeOpener, adjust func(*migration.Config)) (*env, error) {
	if err := config.LoadDotEnv(c.String("env-file")); err != nil {
		return nil, cli.Exit(err.Error(), ExitUsage)
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("config: %v", err), ExitUsage)
	}
	if level := c.String("log-level"); level != "" {
		if _, err := logging.ParseLevel(level); err != nil {
			return nil, cli.Exit(err.Error(), ExitUsage)
		}
		cfg.Logging.Level = level
	}
	if err := logging.InitDefaultLoggerWithOptions("worldctl", cfg.LoggingOptions()); err != nil {
		return nil, cli.Exit(err.Error(), ExitUsage)
	}

	mcfg := cfg.MigrationOptions()
	if adjust != nil {
		adjust(&mcfg)
	}
	if err := mcfg.Validate(); err != nil {
		return nil, cli.Exit(fmt.Sprintf("migration config: %v", err), ExitUsage)
	}

	e := &env{out: c.App.Writer, json: c.Bool("json")}
	opts := []migration.Option{
		migration.WithBatchHook(func(batch int, r *migration.Report) {
			fmt.Fprintf(c.App.ErrWriter, "  пакет %d: %d/%d чанков, %d с ошибкой\n",
				batch+1, r.ChunksConverted+r.ChunksFailed, r.ChunksScanned, r.ChunksFailed)
		}),
	}
	if len(cfg.Notify.Webhooks) > 0 {
		e.webhooks, err = notify.NewWebhookSender(cfg.Notify.Webhooks, cfg.Server.GetNodeID())
		if err != nil {
			return nil, cli.Exit(err.Error(), ExitUsage)
		}
		opts = append(opts, migration.WithRunObserver(func(r *migration.Report) {
			e.webhooks.SendEvent("migration."+string(r.Outcome), r)
		}))
	}

	e.store, err = open(cfg)
	if err != nil {
		e.close()
		return nil, exitErr(fmt.Errorf("open storage: %w", err), ExitStorage)
	}
	e.layer = storage.NewLayer(e.store)
	e.mgr, err = migration.NewManager(e.layer, mcfg, opts...)
	if err != nil {
		e.close()
		return nil, cli.Exit(err.Error(), ExitUsage)
	}
	return e, nil
}

func (e *env) close() {
	if e.webhooks != nil {
		e.webhooks.Close()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			logging.Warn("Ошибка закрытия хранилища: %v", err)
		}
	}
}

// print выводит v в JSON или текстом
func (e *env) print(v interface{}, text func(w io.Writer)) {
	if e.json {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	text(e.out)
}

// signalContext отменяется по Ctrl-C; миграция останавливается на границе пакета
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
}

// notFoundAsUsage: неизвестный прогон это ошибка аргумента, а не хранилища
func notFoundAsUsage(err error, fallback int) error {
	if errors.Is(err, storage.ErrNotFound) {
		return cli.Exit(err.Error(), ExitUsage)
	}
	return exitErr(err, fallback)
}

func migrateCommand(open storeOpener) *cli.Command {
	return &cli.Command{
		Name:  "migrate-world",
		Usage: "перевести legacy-чанки в enhanced-формат",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "batch-size", Usage: "чанков в пакете"},
			&cli.DurationFlag{Name: "batch-delay", Usage: "пауза между пакетами"},
			&cli.BoolFlag{Name: "no-backup", Usage: "не сохранять резервные копии"},
			&cli.BoolFlag{Name: "no-validate", Usage: "не проверять результат"},
			&cli.Float64Flag{Name: "sample-rate", Usage: "доля проверяемых чанков"},
			&cli.BoolFlag{Name: "fail-on-chunk-error", Usage: "прервать прогон на первой ошибке чанка"},
			&cli.BoolFlag{Name: "auto-rollback", Usage: "откатить прогон при провале"},
			&cli.BoolFlag{Name: "discard-backup", Usage: "удалить копии после успешного прогона"},
			&cli.BoolFlag{Name: "plan", Usage: "только оценить объём миграции"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c, open, func(mc *migration.Config) {
				if c.IsSet("batch-size") {
					mc.BatchSize = c.Int("batch-size")
				}
				if c.IsSet("batch-delay") {
					mc.BatchDelay = c.Duration("batch-delay")
				}
				if c.Bool("no-backup") {
					mc.CreateBackup = false
				}
				if c.Bool("no-validate") {
					mc.ValidateAfterMigration = false
				}
				if c.IsSet("sample-rate") {
					mc.ValidationSampleRate = c.Float64("sample-rate")
				}
				if c.Bool("fail-on-chunk-error") {
					mc.FailOnChunkError = true
				}
				if c.Bool("auto-rollback") {
					mc.AutoRollback = true
				}
				if c.Bool("discard-backup") {
					mc.DiscardBackupOnSuccess = true
				}
			})
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := signalContext(c)
			defer cancel()

			if c.Bool("plan") {
				rec, err := e.mgr.Recommend(ctx)
				if err != nil {
					return exitErr(err, ExitStorage)
				}
				e.print(rec, func(w io.Writer) { printRecommendations(w, rec) })
				return nil
			}

			report, err := e.mgr.MigrateWorld(ctx)
			if report != nil {
				e.print(report, func(w io.Writer) { printReport(w, report) })
			}
			return exitErr(err, ExitMigrationFailed)
		},
	}
}

func validateCommand(open storeOpener) *cli.Command {
	return &cli.Command{
		Name:  "validate-world",
		Usage: "сверить legacy- и enhanced-записи",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "sample-rate", Value: 1, Usage: "доля проверяемых пар"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c, open, nil)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := signalContext(c)
			defer cancel()

			rate := c.Float64("sample-rate")
			if rate <= 0 || rate > 1 {
				return cli.Exit(fmt.Sprintf("--sample-rate must be in (0, 1], got %v", rate), ExitUsage)
			}
			result, err := e.mgr.ValidateWorld(ctx, rate)
			if err != nil {
				return exitErr(err, ExitStorage)
			}
			e.print(result, func(w io.Writer) { printValidation(w, result) })
			if !result.Passed() {
				return cli.Exit(fmt.Sprintf("world validation failed: %d divergent, %d missing, %d unreadable",
					result.Divergent, result.Missing, result.Errors), ExitValidationFailed)
			}
			return nil
		},
	}
}

func repairCommand(open storeOpener) *cli.Command {
	return &cli.Command{
		Name:  "repair-world",
		Usage: "перезаписать расходящиеся или повреждённые записи",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "только показать план"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c, open, nil)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := signalContext(c)
			defer cancel()

			report, err := e.mgr.Repair(ctx, c.Bool("dry-run"))
			if err != nil {
				return exitErr(err, ExitStorage)
			}
			e.print(report, func(w io.Writer) { printRepair(w, report) })
			if len(report.Unrepairable) > 0 {
				return cli.Exit(fmt.Sprintf("%d chunks cannot be repaired", len(report.Unrepairable)), ExitValidationFailed)
			}
			return nil
		},
	}
}

func rollbackCommand(open storeOpener) *cli.Command {
	return &cli.Command{
		Name:  "rollback-migration",
		Usage: "восстановить записи из резервной копии прогона",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "run", Usage: "идентификатор прогона (по умолчанию последний)"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c, open, nil)
			if err != nil {
				return err
			}
			defer e.close()

			ctx := context.WithoutCancel(c.Context)
			runID := c.String("run")
			if runID == "" {
				latest, err := migration.LatestReport(ctx, e.store)
				if err != nil {
					return notFoundAsUsage(err, ExitStorage)
				}
				runID = latest.RunID
			}

			rr, err := e.mgr.RollbackRun(ctx, runID)
			if rr != nil {
				e.print(rr, func(w io.Writer) { printRollback(w, rr) })
			}
			if err != nil {
				return notFoundAsUsage(err, ExitRollbackFailed)
			}
			return nil
		},
	}
}

func reportCommand(open storeOpener) *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "показать сохранённый отчёт прогона",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "run", Usage: "идентификатор прогона (по умолчанию последний)"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c, open, nil)
			if err != nil {
				return err
			}
			defer e.close()

			var report *migration.Report
			if runID := c.String("run"); runID != "" {
				report, err = migration.LoadReport(c.Context, e.store, runID)
			} else {
				report, err = migration.LatestReport(c.Context, e.store)
			}
			if err != nil {
				return notFoundAsUsage(err, ExitStorage)
			}
			e.print(report, func(w io.Writer) { printReport(w, report) })
			return nil
		},
	}
}
