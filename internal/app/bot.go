// Package app — сборка приложения: создаёт все подсистемы, связывает их между
// собой и реализует среду выполнения бот-команд. Здесь же живёт контроллер
// горячей перезагрузки: rehash без паузы и полный reload с остановкой рабочих
// циклов на воротах паузы.
package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"ircwit/internal/adapters/ai"
	"ircwit/internal/domain/chatlog"
	"ircwit/internal/domain/commands"
	"ircwit/internal/domain/convo"
	"ircwit/internal/domain/floodpro"
	"ircwit/internal/domain/handler"
	"ircwit/internal/domain/perms"
	"ircwit/internal/domain/reply"
	"ircwit/internal/domain/scheduler"
	"ircwit/internal/infra/config"
	"ircwit/internal/infra/logger"
	"ircwit/internal/infra/metrics"
	"ircwit/internal/infra/pause"
	"ircwit/internal/irc"
)

// pauseTimeout — сколько контроллер ждёт остановки воркеров при reload.
const pauseTimeout = 5 * time.Second

// Bot — собранное приложение. Реализует commands.Env.
type Bot struct {
	cfg    *config.Store
	met    *metrics.Set
	gate   *pause.Gate
	guard  *floodpro.Guard
	admins *perms.Checker
	logs   *chatlog.Store
	clocks *convo.Clocks
	client *irc.Client
	gen    *ai.Client
	pipe   *reply.Pipeline
	router *handler.Router
	sched  *scheduler.Scheduler

	startedAt time.Time

	reloadMu sync.Mutex

	stopMu sync.Mutex
	stop   func()
}

// NewBot связывает подсистемы. Порядок фиксирован зависимостями: хранилища и
// часы, клиент протокола, генеративный адаптер, конвейер реплик, роутер,
// планировщик.
func NewBot(cfg *config.Store) *Bot {
	b := &Bot{
		cfg:       cfg,
		met:       metrics.New(),
		gate:      pause.New(),
		guard:     floodpro.New(),
		clocks:    convo.New(),
		startedAt: time.Now(),
	}
	b.admins = perms.New(cfg.Snapshot().Admins)
	b.logs = chatlog.New(func(channel string) int {
		return cfg.Snapshot().GetInt(channel, "chat_history", chatlog.DefaultLimit)
	})
	b.client = irc.New(cfg, b.met, b.gate)
	b.gen = ai.New(cfg, b.met)
	b.pipe = reply.New(cfg, b.gen, b.logs, b.clocks, b.client)
	b.router = handler.New(cfg, b.client, b.pipe, b.logs, b.clocks, b.guard, b.admins, b.met)
	b.router.SetEnv(b)
	b.client.SetEvents(b.router)
	b.sched = scheduler.New(cfg, b.client, b.pipe, b.logs, b.clocks, b.gate)

	b.applySnapshot(cfg.Snapshot())
	return b
}

// applySnapshot доносит значения свежего снимка до подсистем, которые не
// читают конфигурацию сами: трассировка логов, список администраторов,
// лимиты историй.
func (b *Bot) applySnapshot(snap *config.Snapshot) {
	logger.SetRawTrace(snap.LogRaw)
	logger.SetAPITrace(snap.LogAPI)
	b.admins.SetPatterns(snap.Admins)
	for _, ch := range snap.Channels() {
		b.logs.Trim(ch.Name, snap.GetInt(ch.Name, "chat_history", chatlog.DefaultLimit))
	}
	for _, w := range snap.Warnings() {
		logger.Warnf("config: %s", w)
	}
}

// SetStop задаёт функцию остановки приложения (отмену корневого контекста).
func (b *Bot) SetStop(stop func()) {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	b.stop = stop
}

// SetContext передаёт корневой контекст роутеру для фоновых ответов.
func (b *Bot) SetContext(ctx context.Context) { b.router.SetContext(ctx) }

// Client возвращает клиента протокола (для запуска в раннере).
func (b *Bot) Client() *irc.Client { return b.client }

// Scheduler возвращает планировщик (для запуска в раннере).
func (b *Bot) Scheduler() *scheduler.Scheduler { return b.sched }

// Metrics возвращает набор метрик (для запуска эндпоинта в раннере).
func (b *Bot) Metrics() *metrics.Set { return b.met }

// --- commands.Env ---

func (b *Bot) Snapshot() *config.Snapshot { return b.cfg.Snapshot() }
func (b *Bot) ConfigPath() string         { return b.cfg.Path() }

func (b *Bot) Send(line string) error { return b.client.Send(line) }
func (b *Bot) Say(channel, text string, addToHistory bool) {
	b.pipe.Say(channel, text, addToHistory)
}
func (b *Bot) Notice(nick, text string) { b.pipe.Notice(nick, text) }

func (b *Bot) TopicText(ctx context.Context, channel string) string {
	return b.pipe.TopicText(ctx, channel)
}
func (b *Bot) KickText(ctx context.Context, channel string) string {
	return b.pipe.KickText(ctx, channel)
}

func (b *Bot) CurrentNick() string      { return b.client.CurrentNick() }
func (b *Bot) CurrentServer() string    { return b.client.CurrentServer() }
func (b *Bot) Connected() bool          { return b.client.Connected() }
func (b *Bot) Uptime() time.Duration    { return time.Since(b.startedAt) }
func (b *Bot) JoinedChannels() []string { return b.client.JoinedChannels() }

func (b *Bot) InChannel(channel string) bool        { return b.client.InChannel(channel) }
func (b *Bot) HasMember(channel, nick string) bool  { return b.client.HasMember(channel, nick) }
func (b *Bot) IsOp(channel, nick string) bool       { return b.client.IsOp(channel, nick) }

// IsProtected сообщает, защищён ли ник от модераторских действий бота.
func (b *Bot) IsProtected(channel, nick string) bool {
	for _, p := range b.cfg.Snapshot().GetStrings(channel, "protected_nicks") {
		if strings.EqualFold(p, nick) {
			return true
		}
	}
	return false
}

func (b *Bot) SleepChannel(channel string, d time.Duration) { b.clocks.Sleep(channel, d) }
func (b *Bot) WakeChannel(channel string)                   { b.clocks.Wake(channel) }

func (b *Bot) Jump(target string) (string, error) { return b.client.Jump(target) }

func (b *Bot) Allowed(channel, nick, name string) bool {
	return b.router.Allowed(channel, nick, name)
}

// Rehash перечитывает конфигурацию без паузы рабочих циклов. При ошибке
// разбора действующий снимок сохраняется.
func (b *Bot) Rehash() error {
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()
	return b.rehashLocked()
}

func (b *Bot) rehashLocked() error {
	if err := b.cfg.Reload(); err != nil {
		logger.Errorf("app: rehash не удался, работаем на старой конфигурации: %v", err)
		return err
	}
	snap := b.cfg.Snapshot()
	b.applySnapshot(snap)
	// Отметки тишины старой конфигурации несовместимы с новыми интервалами.
	b.clocks.ResetActionTimers()
	logger.Info("app: конфигурация перечитана")
	return nil
}

// Reload — полная горячая перезагрузка: пауза рабочих циклов на воротах,
// перечитывание и подмена конфигурации, возобновление. Истории, флуд-таблицы,
// ростер и часы переживают перезагрузку нетронутыми.
func (b *Bot) Reload() error {
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()

	if err := b.gate.Pause(pauseTimeout); err != nil {
		return err
	}
	defer b.gate.Resume()
	return b.rehashLocked()
}

// Die останавливает бота: прощается с сервером и отменяет корневой контекст.
func (b *Bot) Die(reason string) {
	logger.Infof("app: остановка: %s", reason)
	b.client.Disconnect(reason)

	b.stopMu.Lock()
	stop := b.stop
	b.stopMu.Unlock()
	if stop != nil {
		stop()
	}
}

var _ commands.Env = (*Bot)(nil)
