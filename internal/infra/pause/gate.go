// Package pause — кооперативная пауза рабочих циклов для горячей перезагрузки.
// Контроллер поднимает флаг паузы; воркеры в своих точках уступки (между
// итерациями и перед блокирующим вводом-выводом) замечают флаг, отмечаются как
// простаивающие и блокируются до возобновления. Контроллер ждёт, пока все
// зарегистрированные воркеры отчитаются, с ограничением по времени.
package pause

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPauseTimeout возвращается, если воркеры не успели остановиться в срок.
var ErrPauseTimeout = errors.New("pause: workers did not go idle in time")

// Gate — ворота паузы. Потокобезопасен; Pause/Resume вызываются контроллером,
// Yield — воркерами.
type Gate struct {
	mu      sync.Mutex
	paused  bool
	resume  chan struct{} // закрывается при Resume; пересоздаётся при Pause
	pauseCh chan struct{} // закрывается при Pause; пересоздаётся при Resume
	idle    int           // сколько воркеров сейчас стоит на воротах
	workers int           // сколько воркеров зарегистрировано
	allIdle chan struct{} // закрывается, когда idle == workers
}

// New создаёт открытые ворота.
func New() *Gate {
	return &Gate{resume: closedChan(), pauseCh: make(chan struct{})}
}

// Register объявляет воркера, который обязуется звать Yield в точках уступки.
// Возвращает функцию снятия регистрации (defer в горутине воркера).
func (g *Gate) Register() (unregister func()) {
	g.mu.Lock()
	g.workers++
	g.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.workers--
			g.checkAllIdleLocked()
			g.mu.Unlock()
		})
	}
}

// Yield — точка уступки воркера. Если пауза не активна, возвращается сразу.
// Иначе воркер отмечается простаивающим и блокируется до Resume или отмены ctx.
func (g *Gate) Yield(ctx context.Context) {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return
	}
	g.idle++
	g.checkAllIdleLocked()
	resume := g.resume
	g.mu.Unlock()

	select {
	case <-resume:
	case <-ctx.Done():
	}

	g.mu.Lock()
	g.idle--
	g.mu.Unlock()
}

// Pause поднимает флаг паузы и ждёт, пока все зарегистрированные воркеры
// отметятся простаивающими, но не дольше timeout. При таймауте пауза
// снимается, чтобы не оставить систему полуостановленной.
func (g *Gate) Pause(timeout time.Duration) error {
	g.mu.Lock()
	if g.paused {
		g.mu.Unlock()
		return nil
	}
	g.paused = true
	g.resume = make(chan struct{})
	g.allIdle = make(chan struct{})
	close(g.pauseCh)
	g.checkAllIdleLocked()
	allIdle := g.allIdle
	g.mu.Unlock()

	select {
	case <-allIdle:
		return nil
	case <-time.After(timeout):
		g.Resume()
		return ErrPauseTimeout
	}
}

// Resume снимает паузу и будит всех стоящих на воротах воркеров.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	g.pauseCh = make(chan struct{})
	close(g.resume)
}

// PauseRequested возвращает канал, закрытый, пока действует пауза. Рабочие
// циклы с редким тактом добавляют его в свой select, чтобы встать на ворота
// не дожидаясь очередного тика.
func (g *Gate) PauseRequested() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pauseCh
}

// Paused сообщает текущее состояние ворот.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// checkAllIdleLocked закрывает allIdle, когда все воркеры отчитались.
// Вызывающий удерживает mu.
func (g *Gate) checkAllIdleLocked() {
	if g.paused && g.allIdle != nil && g.idle >= g.workers {
		close(g.allIdle)
		g.allIdle = nil
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
