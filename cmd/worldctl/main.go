// worldctl операторская утилита: миграция мира в enhanced-формат,
// проверка, починка и откат миграции.
package main

import (
	"fmt"
	"os"

	"github.com/annel0/worldstore/internal/config"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	app := newApp(func(cfg *config.Config) (storage.KVStore, error) {
		return cfg.OpenStore()
	})
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(exitCodeOf(err))
	}
}

// storeOpener открывает хранилище по конфигурации; в тестах подменяется
type storeOpener func(cfg *config.Config) (storage.KVStore, error)

func newApp(open storeOpener) *cli.App {
	app := &cli.App{
		Name:  "worldctl",
		Usage: "обслуживание хранилища мира",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "путь к YAML-конфигурации",
				EnvVars: []string{"WORLD_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "файл с переменными WORLD_* (по умолчанию ./.env)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "уровень логирования (переопределяет конфигурацию)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "печатать отчёты в JSON",
			},
		},
		Commands: []*cli.Command{
			migrateCommand(open),
			validateCommand(open),
			repairCommand(open),
			rollbackCommand(open),
			reportCommand(open),
		},
		// Код завершения выставляет main
		ExitErrHandler: func(*cli.Context, error) {},
	}
	return app
}
