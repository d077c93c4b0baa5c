// Package reply — конвейер реплик бота: сборка промпта (системная инструкция,
// необязательный список участников, необязательная история, текущая реплика),
// вызов генеративного адаптера, пост-обработка текста и нарезка на строки,
// влезающие в лимит протокола. Все отправленные репликой строки обновляют
// отметку LastBot; разговорные ответы попадают и в историю канала.
package reply

import (
	"context"
	"fmt"
	"strings"

	"ircwit/internal/adapters/ai"
	"ircwit/internal/domain/chatlog"
	"ircwit/internal/domain/convo"
	"ircwit/internal/infra/config"
	"ircwit/internal/infra/logger"
	"ircwit/internal/irc"
)

// Conn — минимальный срез клиента протокола, нужный конвейеру.
type Conn interface {
	Send(line string) error
	CurrentNick() string
	Members(channel string) []string
}

// Generator — генеративные способности (реализуется адаптером ai).
type Generator interface {
	Reply(ctx context.Context, channel string, turns []ai.Turn) string
	Topic(ctx context.Context, channel string, turns []ai.Turn) string
	KickReason(ctx context.Context, channel string, turns []ai.Turn) string
	Entrance(ctx context.Context, channel string, turns []ai.Turn) string
}

// Pipeline — конвейер реплик. Потокобезопасен в той же мере, что и его
// зависимости; собственного состояния не держит.
type Pipeline struct {
	cfg    *config.Store
	gen    Generator
	log    *chatlog.Store
	clocks *convo.Clocks
	conn   Conn
}

// New собирает конвейер.
func New(cfg *config.Store, gen Generator, log *chatlog.Store, clocks *convo.Clocks, conn Conn) *Pipeline {
	return &Pipeline{cfg: cfg, gen: gen, log: log, clocks: clocks, conn: conn}
}

// Respond отвечает на реплику пользователя в канале. withHistory управляет
// включением истории канала в контекст промпта.
func (p *Pipeline) Respond(ctx context.Context, channel, fromNick, text string, withHistory bool) {
	snap := p.cfg.Snapshot()
	system := snap.GetString(channel, "ai_prompt_default", "")
	history := 0
	if withHistory {
		history = snap.GetInt(channel, "chat_history", chatlog.DefaultLimit)
	}
	turns := p.buildTurns(channel, system, snap.GetBool(channel, "ai_nicklist", false),
		history, fromNick+": "+text)
	out := p.gen.Reply(ctx, channel, turns)
	p.Say(channel, out, true)
}

// RespondPrivate отвечает на личное сообщение через NOTICE. История и ростер
// в приватный контекст не включаются.
func (p *Pipeline) RespondPrivate(ctx context.Context, nick, text string) {
	snap := p.cfg.Snapshot()
	turns := p.buildTurns("", snap.GetString("", "ai_prompt_default", ""),
		false, 0, nick+": "+text)
	out := p.gen.Reply(ctx, "", turns)
	p.Notice(nick, out)
}

// Continue продолжает разговор против последней записи истории канала.
func (p *Pipeline) Continue(ctx context.Context, channel string) {
	last, ok := p.log.Last(channel)
	if !ok {
		return
	}
	snap := p.cfg.Snapshot()
	turns := p.buildTurns(channel,
		snap.GetString(channel, "ai_prompt_default", ""),
		snap.GetBool(channel, "ai_nicklist", false),
		snap.GetInt(channel, "chat_history", chatlog.DefaultLimit),
		last.String())
	out := p.gen.Reply(ctx, channel, turns)
	p.Say(channel, out, true)
}

// IdleChat вбрасывает реплику в затихший канал.
func (p *Pipeline) IdleChat(ctx context.Context, channel string) {
	snap := p.cfg.Snapshot()
	system := snap.GetString(channel, "ai_prompt_idle",
		snap.GetString(channel, "ai_prompt_default", ""))
	history := 0
	if snap.GetBool(channel, "ai_context_idle", false) {
		history = snap.GetInt(channel, "chat_history", chatlog.DefaultLimit)
	}
	turns := p.buildTurns(channel, system, snap.GetBool(channel, "ai_nicklist", false),
		history, "The channel has gone quiet. Say something to liven it up.")
	out := p.gen.Reply(ctx, channel, turns)
	p.Say(channel, out, true)
}

// Entrance произносит реплику входа, если она включена для канала.
func (p *Pipeline) Entrance(ctx context.Context, channel string) {
	snap := p.cfg.Snapshot()
	if !snap.GetBool(channel, "ai_entrance", false) {
		return
	}
	system := snap.GetString(channel, "ai_prompt_entrance", "")
	turns := p.buildTurns(channel, system, false, 0,
		"You have just entered the channel. Announce yourself in one short line.")
	out := p.gen.Entrance(ctx, channel, turns)
	p.Say(channel, out, true)
}

// TopicText генерирует текст нового топика (без отправки TOPIC).
func (p *Pipeline) TopicText(ctx context.Context, channel string) string {
	snap := p.cfg.Snapshot()
	history := 0
	if snap.GetBool(channel, "ai_context_topic", false) {
		history = snap.GetInt(channel, "chat_history", chatlog.DefaultLimit)
	}
	turns := p.buildTurns(channel,
		snap.GetString(channel, "ai_prompt_topic", ""),
		false, history,
		"Come up with a new channel topic. Reply with the topic text only.")
	return Postprocess(p.gen.Topic(ctx, channel, turns))
}

// KickText генерирует повод для кика.
func (p *Pipeline) KickText(ctx context.Context, channel string) string {
	snap := p.cfg.Snapshot()
	turns := p.buildTurns(channel,
		snap.GetString(channel, "ai_prompt_kick", ""),
		false, 0,
		"Invent a short, absurd reason to kick someone. Reply with the reason only.")
	return Postprocess(p.gen.KickReason(ctx, channel, turns))
}

// Say пост-обрабатывает текст, нарезает его и отправляет в канал. При
// addToHistory реплика записывается в историю от имени бота.
func (p *Pipeline) Say(channel, text string, addToHistory bool) {
	text = Postprocess(text)
	if text == "" {
		return
	}
	for _, chunk := range Chunk(channel, text) {
		if err := p.conn.Send("PRIVMSG " + channel + " :" + chunk); err != nil {
			logger.Warnf("reply: отправка в %s: %v", channel, err)
			return
		}
	}
	p.clocks.TouchBot(channel)
	if addToHistory {
		p.log.Append(channel, p.conn.CurrentNick(), text)
	}
}

// Notice отправляет приватный NOTICE (ответы на приватные сообщения и CTCP).
func (p *Pipeline) Notice(nick, text string) {
	for _, chunk := range Chunk(nick, Postprocess(text)) {
		if err := p.conn.Send("NOTICE " + nick + " :" + chunk); err != nil {
			logger.Warnf("reply: notice для %s: %v", nick, err)
			return
		}
	}
}

// buildTurns собирает последовательность реплик промпта.
func (p *Pipeline) buildTurns(channel, system string, roster bool, history int, current string) []ai.Turn {
	var turns []ai.Turn

	if roster {
		self := p.conn.CurrentNick()
		var others []string
		for _, nick := range p.conn.Members(channel) {
			if !strings.EqualFold(nick, self) {
				others = append(others, nick)
			}
		}
		if len(others) > 0 {
			system = strings.TrimSpace(system + "\nNicknames currently in the channel: " +
				strings.Join(others, ", "))
		}
	}
	if system != "" {
		turns = append(turns, ai.Turn{Role: "system", Content: system})
	}

	if history > 0 {
		self := p.conn.CurrentNick()
		for _, e := range p.log.Tail(channel, history) {
			role := "user"
			content := e.String()
			if strings.EqualFold(e.Speaker, self) {
				role = "assistant"
				content = e.Text
			}
			turns = append(turns, ai.Turn{Role: role, Content: content})
		}
	}

	if current != "" {
		turns = append(turns, ai.Turn{Role: "user", Content: current})
	}
	return turns
}

// Postprocess приводит сгенерированный текст к виду, пригодному для отправки:
// снимает обрамляющие кавычки, переводит маркдаун-акценты в коды протокола
// (жирный и подчёркивание), схлопывает переводы строк в пробелы.
func Postprocess(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			s = s[1 : len(s)-1]
		}
	}
	s = replacePairs(s, "**", "\x02")
	s = replacePairs(s, "_", "\x1f")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}

// replacePairs заменяет парные маркеры marker на управляющий код code с обеих
// сторон. Непарный маркер остаётся как есть.
func replacePairs(s, marker, code string) string {
	for {
		start := strings.Index(s, marker)
		if start < 0 {
			return s
		}
		rest := s[start+len(marker):]
		end := strings.Index(rest, marker)
		if end < 0 {
			return s
		}
		s = s[:start] + code + rest[:end] + code + rest[end+len(marker):]
	}
}

// Chunk нарезает текст на куски, влезающие в строку протокола вместе со
// служебной обвязкой PRIVMSG. Предпочтение отдаётся границам предложений,
// затем границам слов; безразрывный остаток режется жёстко.
func Chunk(target, text string) []string {
	// "PRIVMSG <target> :<текст>\r\n"
	budget := irc.MaxLineLen - len(fmt.Sprintf("PRIVMSG %s :", target)) - 2
	if budget < 1 {
		budget = 1
	}
	var out []string
	for len(text) > budget {
		cut := sentenceCut(text, budget)
		if cut <= 0 {
			cut = wordCut(text, budget)
		}
		if cut <= 0 {
			cut = budget
		}
		out = append(out, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// sentenceCut ищет последнюю границу предложения в пределах limit.
func sentenceCut(text string, limit int) int {
	best := -1
	for _, sep := range []string{". ", "! ", "? "} {
		if i := strings.LastIndex(text[:limit], sep); i >= 0 && i+len(sep) > best {
			best = i + len(sep)
		}
	}
	return best
}

// wordCut ищет последний пробел в пределах limit.
func wordCut(text string, limit int) int {
	return strings.LastIndex(text[:limit], " ")
}
