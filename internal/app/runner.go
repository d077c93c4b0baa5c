// Раннер: запуск сервисов, PID-файл и сигналы процесса. SIGHUP перечитывает
// конфигурацию, SIGUSR1 выполняет полную перезагрузку, SIGINT и SIGTERM
// останавливают бота.
package app

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"ircwit/internal/infra/logger"
)

// Run запускает сервисы бота и блокирует до остановки. console — необязательный
// интерактивный сервис (локальная консоль), nil допустим.
func Run(parent context.Context, bot *Bot, console func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	bot.SetStop(cancel)
	bot.SetContext(ctx)

	snap := bot.Snapshot()
	if snap.PIDFile != "" {
		if err := os.WriteFile(snap.PIDFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
			logger.Warnf("app: запись PID-файла %s: %v", snap.PIDFile, err)
		} else {
			defer os.Remove(snap.PIDFile)
		}
	}

	var wg sync.WaitGroup

	wgGo(&wg, func() {
		if err := bot.Client().Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("app: клиент завершился: %v", err)
			cancel()
		}
	})
	wgGo(&wg, func() {
		_ = bot.Scheduler().Run(ctx)
	})
	wgGo(&wg, func() {
		_ = bot.Scheduler().RunWatchdog(ctx)
	})

	if addr := snap.MetricsListen; addr != "" {
		wgGo(&wg, func() {
			if err := bot.Metrics().Serve(addr); err != nil {
				logger.Errorf("app: сервер метрик: %v", err)
			}
		})
		wgGo(&wg, func() {
			<-ctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer scancel()
			bot.Metrics().Shutdown(sctx)
		})
	}

	if console != nil {
		wgGo(&wg, func() {
			if err := console(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("app: консоль завершилась: %v", err)
			}
			cancel()
		})
	}

	wgGo(&wg, func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					logger.Info("app: SIGHUP, перечитываем конфигурацию")
					_ = bot.Rehash()
				case syscall.SIGUSR1:
					logger.Info("app: SIGUSR1, полная перезагрузка")
					if err := bot.Reload(); err != nil {
						logger.Errorf("app: перезагрузка: %v", err)
					}
				default:
					bot.Die("Caught " + sig.String())
				}
			}
		}
	})

	<-ctx.Done()
	wg.Wait()
	return nil
}

// wgGo — аналог sync.WaitGroup.Go (Go 1.25) для тулчейна Go 1.21.
func wgGo(wg *sync.WaitGroup, f func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		f()
	}()
}
