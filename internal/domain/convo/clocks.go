// Package convo — покомнатные часы разговорного поведения. Здесь живут отметки,
// по которым планировщик и роутер решают, когда боту говорить:
//   - LastChat — последнее чужое сообщение в канале;
//   - LastBot — последняя реплика самого бота;
//   - LastAction — последнее случайное модераторское действие;
//   - SleepUntil — запрет на генерацию до указанного времени;
//   - LastTrigger — последнее прямое обращение к боту;
//   - NextContinuation — запланированное пробуждение для продолжения разговора.
//
// Все ключи нормализуются к нижнему регистру. Структура потокобезопасна и
// переживает горячую перезагрузку: контроллер сохраняет её как есть.
package convo

import (
	"strings"
	"sync"
	"time"
)

// Clocks — набор покомнатных временных отметок.
type Clocks struct {
	mu               sync.Mutex
	lastChat         map[string]time.Time
	lastBot          map[string]time.Time
	lastAction       map[string]time.Time
	sleepUntil       map[string]time.Time
	lastTrigger      map[string]time.Time
	nextContinuation map[string]time.Time
	now              func() time.Time
}

// Option настраивает Clocks при создании.
type Option func(*Clocks)

// WithNow подменяет источник времени для тестов.
func WithNow(now func() time.Time) Option {
	return func(c *Clocks) {
		if now != nil {
			c.now = now
		}
	}
}

// New создаёт пустой набор часов.
func New(opts ...Option) *Clocks {
	c := &Clocks{
		lastChat:         make(map[string]time.Time),
		lastBot:          make(map[string]time.Time),
		lastAction:       make(map[string]time.Time),
		sleepUntil:       make(map[string]time.Time),
		lastTrigger:      make(map[string]time.Time),
		nextContinuation: make(map[string]time.Time),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now возвращает текущее время по источнику часов.
func (c *Clocks) Now() time.Time { return c.now() }

func key(channel string) string { return strings.ToLower(channel) }

// TouchChat отмечает чужое сообщение в канале.
func (c *Clocks) TouchChat(channel string) { c.set(c.lastChat, channel, c.now()) }

// LastChat возвращает отметку последнего чужого сообщения.
func (c *Clocks) LastChat(channel string) (time.Time, bool) { return c.get(c.lastChat, channel) }

// TouchBot отмечает реплику бота.
func (c *Clocks) TouchBot(channel string) { c.set(c.lastBot, channel, c.now()) }

// LastBot возвращает отметку последней реплики бота.
func (c *Clocks) LastBot(channel string) (time.Time, bool) { return c.get(c.lastBot, channel) }

// TouchAction отмечает случайное модераторское действие.
func (c *Clocks) TouchAction(channel string) { c.set(c.lastAction, channel, c.now()) }

// LastAction возвращает отметку последнего случайного действия.
func (c *Clocks) LastAction(channel string) (time.Time, bool) { return c.get(c.lastAction, channel) }

// TouchTrigger отмечает прямое обращение к боту.
func (c *Clocks) TouchTrigger(channel string) { c.set(c.lastTrigger, channel, c.now()) }

// LastTrigger возвращает отметку последнего обращения.
func (c *Clocks) LastTrigger(channel string) (time.Time, bool) { return c.get(c.lastTrigger, channel) }

// Sleep запрещает генерацию в канале на время d.
func (c *Clocks) Sleep(channel string, d time.Duration) {
	c.set(c.sleepUntil, channel, c.now().Add(d))
}

// Wake снимает запрет на генерацию.
func (c *Clocks) Wake(channel string) { c.clear(c.sleepUntil, channel) }

// Sleeping сообщает, действует ли в канале запрет на генерацию.
func (c *Clocks) Sleeping(channel string) bool {
	until, ok := c.get(c.sleepUntil, channel)
	return ok && c.now().Before(until)
}

// SleepRemaining возвращает остаток запрета (ноль, если запрета нет).
func (c *Clocks) SleepRemaining(channel string) time.Duration {
	until, ok := c.get(c.sleepUntil, channel)
	if !ok {
		return 0
	}
	if rem := until.Sub(c.now()); rem > 0 {
		return rem
	}
	return 0
}

// SetNextContinuation планирует пробуждение продолжения на момент t.
func (c *Clocks) SetNextContinuation(channel string, t time.Time) {
	c.set(c.nextContinuation, channel, t)
}

// NextContinuation возвращает запланированное пробуждение продолжения.
func (c *Clocks) NextContinuation(channel string) (time.Time, bool) {
	return c.get(c.nextContinuation, channel)
}

// ClearContinuation отменяет запланированное продолжение.
func (c *Clocks) ClearContinuation(channel string) { c.clear(c.nextContinuation, channel) }

// ResetActionTimers сбрасывает таймеры покоя и действий. Вызывается после
// rehash, когда старые отметки несовместимы с новыми интервалами.
func (c *Clocks) ResetActionTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastChat = make(map[string]time.Time)
	c.lastAction = make(map[string]time.Time)
}

// InitRoom инициализирует таймеры комнаты текущим временем, если они пусты.
// Вызывается при входе бота в канал, чтобы покой отсчитывался от входа.
func (c *Clocks) InitRoom(channel string) {
	now := c.now()
	k := key(channel)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lastChat[k]; !ok {
		c.lastChat[k] = now
	}
	if _, ok := c.lastAction[k]; !ok {
		c.lastAction[k] = now
	}
}

func (c *Clocks) set(m map[string]time.Time, channel string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m[key(channel)] = t
}

func (c *Clocks) get(m map[string]time.Time, channel string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := m[key(channel)]
	return t, ok
}

func (c *Clocks) clear(m map[string]time.Time, channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(m, key(channel))
}
