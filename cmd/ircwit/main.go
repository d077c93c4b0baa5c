// ircwit — резидентный IRC-бот с генеративными репликами.
//
// Запуск:
//
//	ircwit --config config.yaml [--env .env] [--no-fork]
//
// Флаг --no-fork оставляет процесс на переднем плане и поднимает локальную
// консоль оператора; без него бот работает тихим фоновым сервисом под
// супервизором.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"ircwit/internal/adapters/cli"
	"ircwit/internal/app"
	"ircwit/internal/infra/config"
	"ircwit/internal/infra/logger"
	"ircwit/internal/support/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "config.yaml", "путь к файлу конфигурации")
		envPath    = flag.String("env", ".env", "путь к файлу секретов")
		noFork     = flag.Bool("no-fork", false, "передний план с локальной консолью")
		showVer    = flag.Bool("version", false, "показать версию и выйти")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("%s v%s\n", version.Name, version.Version)
		return 0
	}

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ircwit:", err)
		return 1
	}
	snap := cfg.Snapshot()

	logger.Init(snap.LogLevel)
	logger.InitFile(logger.FileOptions{
		Path:       snap.LogFile,
		Level:      snap.LogFileLevel,
		MaxSizeMB:  snap.LogFileSizeMB,
		MaxBackups: snap.LogFileMaxBak,
		MaxAgeDays: snap.LogFileMaxAge,
		Compress:   snap.LogFileComprs,
	})

	logger.Infof("%s v%s запускается (конфигурация %s)", version.Name, version.Version, *configPath)
	bot := app.NewBot(cfg)

	var console func(ctx context.Context) error
	if *noFork {
		console = cli.New(bot).Run
	}

	if err := app.Run(context.Background(), bot, console); err != nil {
		logger.Errorf("ircwit: %v", err)
		return 1
	}
	logger.Info("ircwit: остановлен")
	return 0
}
