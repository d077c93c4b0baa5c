// Package scheduler — кооперативный планировщик разговорного поведения: один
// цикл с коротким тактом обходит каналы и решает, не пора ли вбросить реплику
// в тишину, совершить случайное модераторское действие или продолжить
// начатый разговор. Отдельный сторож присутствия возвращает бота в каналы,
// из которых его выкинуло.
package scheduler

import (
	"context"
	"strings"
	"time"

	"ircwit/internal/domain/chatlog"
	"ircwit/internal/domain/convo"
	"ircwit/internal/domain/reply"
	"ircwit/internal/infra/config"
	"ircwit/internal/infra/logger"
	"ircwit/internal/infra/pause"
	"ircwit/internal/shared"
)

const (
	tickInterval     = 5 * time.Second
	watchdogInterval = 30 * time.Second
)

// Conn — срез клиента протокола, нужный планировщику.
type Conn interface {
	Registered() bool
	CurrentNick() string
	InChannel(channel string) bool
	HasMember(channel, nick string) bool
	IsOp(channel, nick string) bool
	Send(line string) error
	EnsureJoined(channel, key string)
}

// Scheduler обходит каналы по такту и применяет таймерные правила поведения.
type Scheduler struct {
	cfg    *config.Store
	client Conn
	pipe   *reply.Pipeline
	log    *chatlog.Store
	clocks *convo.Clocks
	gate   *pause.Gate

	tick         time.Duration
	watchdogTick time.Duration
}

// New собирает планировщик.
func New(cfg *config.Store, client Conn, pipe *reply.Pipeline,
	log *chatlog.Store, clocks *convo.Clocks, gate *pause.Gate) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		client:       client,
		pipe:         pipe,
		log:          log,
		clocks:       clocks,
		gate:         gate,
		tick:         tickInterval,
		watchdogTick: watchdogInterval,
	}
}

// Run крутит основной цикл до отмены ctx. Между итерациями — точка уступки
// для паузы перезагрузки.
func (s *Scheduler) Run(ctx context.Context) error {
	unregister := s.gate.Register()
	defer unregister()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.gate.PauseRequested():
			s.gate.Yield(ctx)
			continue
		case <-ticker.C:
		}
		s.gate.Yield(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.client.Registered() {
			continue
		}

		snap := s.cfg.Snapshot()
		for _, ch := range snap.Channels() {
			if !s.client.InChannel(ch.Name) {
				continue
			}
			if s.clocks.Sleeping(ch.Name) {
				continue
			}
			s.evalIdleChat(ctx, snap, ch.Name)
			s.evalRandomAction(ctx, snap, ch.Name)
			s.evalContinuation(ctx, snap, ch.Name)
		}
	}
}

// RunWatchdog следит за присутствием: раз в интервал проверяет, что бот сидит
// во всех описанных каналах, и шлёт JOIN туда, откуда он выпал. Сторож тоже
// стоит на воротах паузы: во время перезагрузки он не трогает каналы.
func (s *Scheduler) RunWatchdog(ctx context.Context) error {
	unregister := s.gate.Register()
	defer unregister()

	ticker := time.NewTicker(s.watchdogTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.gate.PauseRequested():
			s.gate.Yield(ctx)
			continue
		case <-ticker.C:
		}
		s.gate.Yield(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.client.Registered() {
			continue
		}
		snap := s.cfg.Snapshot()
		for _, ch := range snap.Channels() {
			if !s.client.InChannel(ch.Name) {
				logger.Debugf("scheduler: нет присутствия в %s, возвращаемся", ch.Name)
				s.client.EnsureJoined(ch.Name, ch.Key)
			}
		}
	}
}

// evalIdleChat вбрасывает реплику в затихший канал. Сам бот, заговорив,
// становится последним автором и сбрасывает отметку тишины, так что повторный
// вброс случится только после чужой реплики.
func (s *Scheduler) evalIdleChat(ctx context.Context, snap *config.Snapshot, channel string) {
	interval := snap.GetInt(channel, "idle_chat_interval", 0)
	if interval <= 0 {
		return
	}
	required := snap.GetInt(channel, "idle_chat_time", interval)
	now := s.clocks.Now()

	lastChat, ok := s.clocks.LastChat(channel)
	if !ok {
		s.clocks.InitRoom(channel)
		return
	}
	if now.Sub(lastChat) < time.Duration(required)*time.Second {
		return
	}
	if lastBot, spoke := s.clocks.LastBot(channel); spoke &&
		now.Sub(lastBot) < time.Duration(interval)*time.Second {
		return
	}
	if s.log.WasLastSpeaker(channel, s.client.CurrentNick()) {
		return
	}

	s.pipe.IdleChat(ctx, channel)
	s.clocks.TouchChat(channel)
}

// evalRandomAction совершает случайное модераторское действие (смена топика
// или кик случайного недавнего собеседника), если канал достаточно тих, бот
// оператор и с прошлого действия прошёл интервал.
func (s *Scheduler) evalRandomAction(ctx context.Context, snap *config.Snapshot, channel string) {
	interval := snap.GetInt(channel, "random_action_interval", 0)
	if interval <= 0 {
		return
	}

	var actions []string
	if snap.GetBool(channel, "random_actions.topic", false) {
		actions = append(actions, "topic")
	}
	if snap.GetBool(channel, "random_actions.kick", false) {
		actions = append(actions, "kick")
	}
	if len(actions) == 0 {
		return
	}

	self := s.client.CurrentNick()
	if !s.client.IsOp(channel, self) {
		return
	}

	now := s.clocks.Now()
	required := snap.GetInt(channel, "idle_chat_time", interval)
	if lastChat, ok := s.clocks.LastChat(channel); ok &&
		now.Sub(lastChat) < time.Duration(required)*time.Second {
		return
	}
	if lastAction, ok := s.clocks.LastAction(channel); ok &&
		now.Sub(lastAction) < time.Duration(interval)*time.Second {
		return
	}

	action, _ := shared.Pick(actions)
	switch action {
	case "topic":
		if text := s.pipe.TopicText(ctx, channel); text != "" {
			_ = s.client.Send("TOPIC " + channel + " :" + text)
		}
	case "kick":
		target := s.pickKickTarget(snap, channel, self)
		if target == "" {
			return
		}
		reason := s.pipe.KickText(ctx, channel)
		_ = s.client.Send("KICK " + channel + " " + target + " :" + reason)
	}
	s.clocks.TouchAction(channel)
}

// pickKickTarget выбирает жертву из недавних собеседников: присутствует, не
// бот, не оператор и не защищена конфигурацией.
func (s *Scheduler) pickKickTarget(snap *config.Snapshot, channel, self string) string {
	limit := snap.GetInt(channel, "chat_history", chatlog.DefaultLimit)
	protected := snap.GetStrings(channel, "protected_nicks")

	var candidates []string
	for _, nick := range s.log.RecentSpeakers(channel, limit) {
		if strings.EqualFold(nick, self) {
			continue
		}
		if !s.client.HasMember(channel, nick) || s.client.IsOp(channel, nick) {
			continue
		}
		if isProtected(protected, nick) {
			continue
		}
		candidates = append(candidates, nick)
	}
	target, _ := shared.Pick(candidates)
	return target
}

func isProtected(protected []string, nick string) bool {
	for _, p := range protected {
		if strings.EqualFold(p, nick) {
			return true
		}
	}
	return false
}

// evalContinuation продолжает разговор в окне после прямого обращения.
// Если дедлайн пришёлся на момент, когда последним говорил сам бот,
// продолжение переносится без реплики. Окно истекло — расписание снимается.
func (s *Scheduler) evalContinuation(ctx context.Context, snap *config.Snapshot, channel string) {
	if !snap.GetBool(channel, "ai_continue", false) {
		return
	}
	windowMins := snap.GetInt(channel, "ai_continue_mins", 0)
	freqSecs := snap.GetInt(channel, "ai_continue_freq", 0)
	if windowMins <= 0 || freqSecs <= 0 {
		return
	}

	now := s.clocks.Now()
	trigger, ok := s.clocks.LastTrigger(channel)
	if !ok {
		return
	}
	if now.Sub(trigger) > time.Duration(windowMins)*time.Minute {
		s.clocks.ClearContinuation(channel)
		return
	}

	freq := time.Duration(freqSecs) * time.Second
	next, scheduled := s.clocks.NextContinuation(channel)
	if !scheduled {
		s.clocks.SetNextContinuation(channel, now.Add(freq))
		return
	}
	if now.Before(next) {
		return
	}
	s.clocks.SetNextContinuation(channel, now.Add(freq))
	if s.log.WasLastSpeaker(channel, s.client.CurrentNick()) {
		return
	}
	s.pipe.Continue(ctx, channel)
}
