// Package floodpro — защита от флуда со скользящими окнами и отложенным
// истечением банов. Два независимых детектора с общей формой политики:
//   - канальный: при превышении порога возвращает пару модераторских действий
//     (бан по маске хоста и кик) и запоминает бан до истечения срока;
//   - приватный: вместо сетевых действий ставит локальный игнор ника.
//
// Записи окон и банов самоочищаются при очередном обращении: хранится только
// то, что ещё актуально. Операторы и администраторы проверяются на стороне
// вызывающего и сюда не попадают.
package floodpro

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Policy описывает параметры одного детектора: порог строк, ширину окна и
// срок наказания (бан или игнор).
type Policy struct {
	Lines   int
	Window  time.Duration
	Penalty time.Duration
}

// Enabled сообщает, имеет ли политика смысл (нулевая выключает детектор).
func (p Policy) Enabled() bool {
	return p.Lines > 0 && p.Window > 0
}

// Guard хранит окна сообщений, активные баны и игноры. Потокобезопасен.
type Guard struct {
	mu       sync.Mutex
	channels map[string]map[string][]time.Time // lower(канал) -> lower(ник) -> отметки
	privmsg  map[string][]time.Time            // lower(ник) -> отметки
	ignored  map[string]time.Time              // lower(ник) -> истечение игнора
	banned   map[string]map[string]time.Time   // lower(канал) -> маска -> истечение бана
	now      func() time.Time
}

// Option настраивает Guard при создании.
type Option func(*Guard)

// WithNow подменяет источник времени для тестов.
func WithNow(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// New создаёт пустой Guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		channels: make(map[string]map[string][]time.Time),
		privmsg:  make(map[string][]time.Time),
		ignored:  make(map[string]time.Time),
		banned:   make(map[string]map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BanMask строит маску бана *!*@host для хоста идентичности.
func BanMask(host string) string {
	return "*!*@" + host
}

// CheckChannel учитывает сообщение ника в канале. Возвращает ok=false, если
// сообщение не должно обрабатываться (активный бан или только что пойманный
// флуд). При срабатывании детектора возвращается список готовых команд
// протокола: MODE +b по маске хоста и KICK.
func (g *Guard) CheckChannel(channel, nick, host string, pol Policy) (ok bool, actions []string) {
	chKey := strings.ToLower(channel)
	nickKey := strings.ToLower(nick)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.bannedLocked(chKey, host, now) {
		return false, nil
	}
	if !pol.Enabled() {
		return true, nil
	}

	wins := g.channels[chKey]
	if wins == nil {
		wins = make(map[string][]time.Time)
		g.channels[chKey] = wins
	}
	stamps := slide(wins[nickKey], now, pol.Window)
	stamps = append(stamps, now)

	if len(stamps) >= pol.Lines {
		// Флуд: бан по маске хоста, окно ника обнуляется.
		mask := BanMask(host)
		bans := g.banned[chKey]
		if bans == nil {
			bans = make(map[string]time.Time)
			g.banned[chKey] = bans
		}
		bans[mask] = now.Add(pol.Penalty)
		delete(wins, nickKey)

		minutes := int(pol.Penalty.Minutes())
		return false, []string{
			fmt.Sprintf("MODE %s +b %s", channel, mask),
			fmt.Sprintf("KICK %s %s :Flood protection - banned for %d minutes", channel, nick, minutes),
		}
	}

	wins[nickKey] = stamps
	return true, nil
}

// CheckPrivate учитывает приватное сообщение ника. Возвращает false, если ник
// в игноре или только что переполнил окно (тогда ставится игнор на Penalty).
func (g *Guard) CheckPrivate(nick string, pol Policy) bool {
	nickKey := strings.ToLower(nick)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ignoredLocked(nickKey, now) {
		return false
	}
	if !pol.Enabled() {
		return true
	}

	stamps := slide(g.privmsg[nickKey], now, pol.Window)
	stamps = append(stamps, now)

	if len(stamps) >= pol.Lines {
		g.ignored[nickKey] = now.Add(pol.Penalty)
		delete(g.privmsg, nickKey)
		return false
	}

	g.privmsg[nickKey] = stamps
	return true
}

// IsBanned сообщает, действует ли в канале бан для хоста. Истёкшие баны
// удаляются по пути.
func (g *Guard) IsBanned(channel, host string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bannedLocked(strings.ToLower(channel), host, g.now())
}

// IsIgnored сообщает, находится ли ник в локальном игноре.
func (g *Guard) IsIgnored(nick string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ignoredLocked(strings.ToLower(nick), g.now())
}

// bannedLocked проверяет бан маски хоста в канале и вычищает истёкшие записи.
// Вызывающий удерживает mu.
func (g *Guard) bannedLocked(chKey, host string, now time.Time) bool {
	bans := g.banned[chKey]
	if bans == nil {
		return false
	}
	mask := BanMask(host)
	expiry, found := bans[mask]
	if !found {
		return false
	}
	if now.Before(expiry) {
		return true
	}
	delete(bans, mask)
	return false
}

// ignoredLocked проверяет игнор ника и вычищает истёкшую запись.
func (g *Guard) ignoredLocked(nickKey string, now time.Time) bool {
	expiry, found := g.ignored[nickKey]
	if !found {
		return false
	}
	if now.Before(expiry) {
		return true
	}
	delete(g.ignored, nickKey)
	return false
}

// slide отбрасывает отметки старше окна window относительно now.
func slide(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
