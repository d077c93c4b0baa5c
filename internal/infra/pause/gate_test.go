package pause_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"ircwit/internal/infra/pause"
)

func TestYieldPassesWhenOpen(t *testing.T) {
	t.Parallel()

	g := pause.New()
	done := make(chan struct{})
	go func() {
		g.Yield(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Yield заблокировался на открытых воротах")
	}
}

func TestPauseWaitsForWorkers(t *testing.T) {
	t.Parallel()

	g := pause.New()
	unregister := g.Register()
	defer unregister()

	// Воркер крутит цикл с точкой уступки.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			g.Yield(ctx)
			time.Sleep(5 * time.Millisecond)
		}
	}()

	if err := g.Pause(time.Second); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	if !g.Paused() {
		t.Fatal("Paused() = false после успешной паузы")
	}

	g.Resume()
	if g.Paused() {
		t.Fatal("Paused() = true после Resume")
	}
	cancel()
	wg.Wait()
}

func TestPauseTimeoutReopensGate(t *testing.T) {
	t.Parallel()

	g := pause.New()
	unregister := g.Register()
	defer unregister()

	// Воркер зарегистрирован, но к воротам не подходит.
	err := g.Pause(50 * time.Millisecond)
	if err != pause.ErrPauseTimeout {
		t.Fatalf("Pause() error = %v, want ErrPauseTimeout", err)
	}
	if g.Paused() {
		t.Fatal("после таймаута ворота должны открыться обратно")
	}
}

func TestYieldUnblocksOnContextCancel(t *testing.T) {
	t.Parallel()

	g := pause.New()
	unregister := g.Register()
	defer unregister()

	errCh := make(chan error, 1)
	go func() { errCh <- g.Pause(time.Second) }()
	for !g.Paused() {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Yield(ctx)
		close(done)
	}()

	// Пауза завершается, как только воркер встал на ворота.
	if err := <-errCh; err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Yield не отпустил воркера при отмене контекста")
	}
	g.Resume()
}

func TestPauseRequestedSignalsWorkers(t *testing.T) {
	t.Parallel()

	g := pause.New()
	unregister := g.Register()
	defer unregister()

	select {
	case <-g.PauseRequested():
		t.Fatal("сигнал паузы закрыт до Pause")
	default:
	}

	// Воркер с редким тактом: к воротам подходит только по сигналу.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			select {
			case <-ctx.Done():
				return
			case <-g.PauseRequested():
				g.Yield(ctx)
			case <-time.After(time.Hour):
			}
		}
	}()

	if err := g.Pause(time.Second); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	select {
	case <-g.PauseRequested():
	default:
		t.Fatal("сигнал паузы не закрыт во время Pause")
	}

	g.Resume()
	select {
	case <-g.PauseRequested():
		t.Fatal("после Resume сигнал паузы должен пересоздаваться")
	default:
	}
	cancel()
	wg.Wait()
}

func TestUnregisterReleasesPause(t *testing.T) {
	t.Parallel()

	g := pause.New()
	unregister := g.Register()

	errCh := make(chan error, 1)
	go func() { errCh <- g.Pause(time.Second) }()

	time.Sleep(20 * time.Millisecond)
	unregister()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Pause() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pause не завершился после снятия регистрации")
	}
	g.Resume()
}
