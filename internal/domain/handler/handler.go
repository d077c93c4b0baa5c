// Package handler — роутер содержательных сообщений. Для канальных сообщений
// действует строгий порядок: фильтр игнора, защита от флуда, разбор команды,
// запись в историю, обновление часов, затем решение об ответе (прямое
// обращение или упоминание) с равномерно случайной задержкой выдачи. Приватные
// сообщения получают CTCP-ответы и генеративные реплики через NOTICE.
package handler

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"ircwit/internal/domain/chatlog"
	"ircwit/internal/domain/commands"
	"ircwit/internal/domain/convo"
	"ircwit/internal/domain/floodpro"
	"ircwit/internal/domain/perms"
	"ircwit/internal/domain/reply"
	"ircwit/internal/infra/config"
	"ircwit/internal/infra/logger"
	"ircwit/internal/infra/metrics"
	"ircwit/internal/irc"
	"ircwit/internal/shared"
	"ircwit/internal/support/version"
)

// DefaultPrefix — командный префикс, если cmd_prefix не задан.
const DefaultPrefix = "!"

// Conn — срез клиента протокола, нужный роутеру.
type Conn interface {
	Send(line string) error
	CurrentNick() string
	IsOp(channel, nick string) bool
	IsVoice(channel, nick string) bool
	User(nick string) (irc.UserInfo, bool)
}

// Router реализует irc.Events. Потокобезопасен: вызывается из горутины чтения
// клиента, ответы с задержкой уходят в отдельные горутины.
type Router struct {
	cfg    *config.Store
	client Conn
	pipe   *reply.Pipeline
	log    *chatlog.Store
	clocks *convo.Clocks
	guard  *floodpro.Guard
	admins *perms.Checker
	met    *metrics.Set
	env    commands.Env

	mu  sync.Mutex
	ctx context.Context

	reMu    sync.Mutex
	reCache map[string]*regexp.Regexp
}

// New собирает роутер. Env подключается отдельно, после сборки приложения.
func New(cfg *config.Store, client Conn, pipe *reply.Pipeline, log *chatlog.Store,
	clocks *convo.Clocks, guard *floodpro.Guard, admins *perms.Checker, met *metrics.Set) *Router {
	return &Router{
		cfg:     cfg,
		client:  client,
		pipe:    pipe,
		log:     log,
		clocks:  clocks,
		guard:   guard,
		admins:  admins,
		met:     met,
		reCache: make(map[string]*regexp.Regexp),
		ctx:     context.Background(),
	}
}

// SetEnv подключает среду выполнения команд.
func (r *Router) SetEnv(env commands.Env) { r.env = env }

// SetContext задаёт корневой контекст для отложенных ответов и команд.
func (r *Router) SetContext(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
}

func (r *Router) context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

// OnSelfJoined — бот вошёл в канал: таймеры комнаты отсчитываются от входа,
// реплика входа (если включена) уходит фоном.
func (r *Router) OnSelfJoined(channel string) {
	r.clocks.InitRoom(channel)
	ctx := r.context()
	go r.pipe.Entrance(ctx, channel)
}

// OnChannelMessage обрабатывает PRIVMSG в канал.
func (r *Router) OnChannelMessage(src irc.Prefix, channel, text string) {
	snap := r.cfg.Snapshot()

	// В канале содержательное только ACTION: он идёт через те же ступени
	// игнора и флуд-защиты, что и обычная реплика, но дальше истории не
	// проходит. Остальные канальные CTCP не интересны.
	action := false
	if tag, args, ok := irc.ParseCTCP(text); ok {
		if tag != "ACTION" || args == "" {
			return
		}
		action = true
		text = "* " + args
	}

	if r.guard.IsIgnored(src.Nick) {
		return
	}
	if r.matchesIgnore(snap, channel, src.Nick, text) {
		logger.Debugf("handler: %s в %s отброшен фильтром игнора", src.Nick, channel)
		return
	}

	id := r.identity(src)
	isAdmin := r.admins.IsAdmin(id)

	if !isAdmin && !r.client.IsOp(channel, src.Nick) {
		ok, actions := r.guard.CheckChannel(channel, src.Nick, src.Host, channelPolicy(snap, channel))
		if !ok {
			if len(actions) > 0 {
				r.met.FloodBans.Inc()
				logger.Warnf("handler: флуд от %s в %s, баним", src.Nick, channel)
				for _, action := range actions {
					_ = r.client.Send(action)
				}
			}
			return
		}
	}

	if action {
		r.log.Append(channel, src.Nick, text)
		r.clocks.TouchChat(channel)
		return
	}

	prefix := snap.GetString(channel, "cmd_prefix", DefaultPrefix)
	if strings.HasPrefix(text, prefix) && len(text) > len(prefix) {
		r.dispatch(snap, id, isAdmin, channel, prefix, text[len(prefix):])
		return
	}

	self := r.client.CurrentNick()
	selfWasLast := r.log.WasLastSpeaker(channel, self)
	r.log.Append(channel, src.Nick, text)
	r.clocks.TouchChat(channel)

	if r.clocks.Sleeping(channel) {
		return
	}

	direct, body := directAddress(text, self)
	mention := !direct && snap.GetBool(channel, "ai_mention", false) && mentionsNick(text, self)
	if !direct && !mention {
		return
	}
	if mention && selfWasLast {
		return
	}
	r.clocks.TouchTrigger(channel)

	withHistory := snap.GetBool(channel, "ai_context_mention", true)
	if direct {
		withHistory = snap.GetBool(channel, "ai_context_direct", false)
		text = body
	}

	delayMin, delayMax := snap.GetFloatPair(channel, "ai_delay", 0, 0)
	ctx := r.context()
	nick := src.Nick
	go func() {
		if delayMax > 0 {
			delay := time.Duration(shared.RandomFloat(delayMin, delayMax) * float64(time.Second))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		r.pipe.Respond(ctx, channel, nick, text, withHistory)
	}()
}

// OnPrivateMessage обрабатывает личные PRIVMSG: CTCP-запросы, фильтры и
// генеративный ответ через NOTICE.
func (r *Router) OnPrivateMessage(src irc.Prefix, text string) {
	snap := r.cfg.Snapshot()
	id := r.identity(src)
	isAdmin := r.admins.IsAdmin(id)

	if tag, args, ok := irc.ParseCTCP(text); ok {
		r.handleCTCP(snap, src, isAdmin, tag, args)
		return
	}

	if r.guard.IsIgnored(src.Nick) {
		return
	}
	if r.matchesIgnore(snap, "", src.Nick, text) {
		return
	}
	if !isAdmin && !r.guard.CheckPrivate(src.Nick, privatePolicy(snap)) {
		// IsIgnored выше вернул false, значит игнор поставлен только что.
		r.met.FloodIgnores.Inc()
		logger.Warnf("handler: приватный флуд от %s, ставим игнор", src.Nick)
		return
	}

	prefix := snap.GetString("", "cmd_prefix", DefaultPrefix)
	if strings.HasPrefix(text, prefix) && len(text) > len(prefix) {
		r.pipe.Notice(src.Nick, "Commands are available in channels only.")
		return
	}

	ctx := r.context()
	go r.pipe.RespondPrivate(ctx, src.Nick, text)
}

// handleCTCP отвечает на стандартные CTCP-запросы. Запросы считаются в том же
// приватном флуд-окне, что и обычные личные сообщения.
func (r *Router) handleCTCP(snap *config.Snapshot, src irc.Prefix, isAdmin bool, tag, args string) {
	if tag == "ACTION" {
		return
	}
	if !isAdmin {
		if r.guard.IsIgnored(src.Nick) {
			return
		}
		if !r.guard.CheckPrivate(src.Nick, privatePolicy(snap)) {
			r.met.FloodIgnores.Inc()
			return
		}
	}

	var payload string
	switch tag {
	case "VERSION":
		payload = version.Name + " v" + version.Version
	case "PING":
		payload = args
	case "TIME":
		payload = time.Now().Format(time.RFC1123)
	case "USERINFO":
		payload = snap.Realname
	case "CLIENTINFO":
		payload = "VERSION PING TIME USERINFO CLIENTINFO SOURCE ACTION"
	case "SOURCE":
		payload = version.Name
	default:
		logger.Debugf("handler: CTCP %s от %s без ответа", tag, src.Nick)
		return
	}
	_ = r.client.Send("NOTICE " + src.Nick + " :" + irc.FormatCTCPReply(tag, payload))
}

// dispatch разбирает и выполняет бот-команду. Выключенные и недоступные по
// уровню команды молча игнорируются; ошибки выполнения сообщаются в канал.
func (r *Router) dispatch(snap *config.Snapshot, id perms.Identity, isAdmin bool, channel, prefix, rest string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	cmd, ok := commands.Lookup(name)
	if !ok {
		return
	}

	ccfg, defined := snap.CommandLookup(channel, name)
	if !ccfg.Enabled {
		logger.Debugf("handler: команда %s выключена в %s", name, channel)
		return
	}
	requires := perms.Level(ccfg.Requires)
	if !defined {
		requires = cmd.Level()
	}
	if !perms.Authorize(requires, isAdmin, r.client.IsOp(channel, id.Nick), r.client.IsVoice(channel, id.Nick)) {
		logger.Debugf("handler: %s не хватает уровня %s для %s", id.Nick, requires, name)
		return
	}

	req := &commands.Request{
		Ctx:     r.context(),
		Env:     r.env,
		Channel: channel,
		Nick:    id.Nick,
		IsAdmin: isAdmin,
		Args:    fields[1:],
		Prefix:  prefix,
	}
	// Выполнение уходит с горутины чтения: reload ждёт на воротах паузы все
	// рабочие циклы, включая самого читателя.
	go func() {
		rep, err := cmd.Execute(req)
		if err != nil {
			r.pipe.Say(channel, "Error executing command: "+err.Error(), false)
			return
		}
		if rep.Text != "" {
			r.pipe.Say(channel, rep.Text, rep.History)
		}
	}()
}

// Allowed сообщает, доступна ли команда name нику в канале: включена и уровень
// доступа достаточен. Используется help.
func (r *Router) Allowed(channel, nick, name string) bool {
	snap := r.cfg.Snapshot()
	cmd, ok := commands.Lookup(name)
	if !ok {
		return false
	}
	ccfg, defined := snap.CommandLookup(channel, name)
	if !ccfg.Enabled {
		return false
	}
	requires := perms.Level(ccfg.Requires)
	if !defined {
		requires = cmd.Level()
	}

	id := perms.Identity{Nick: nick}
	if u, found := r.client.User(nick); found {
		id.Ident, id.Host, id.Account = u.Ident, u.Host, u.Account
	}
	return perms.Authorize(requires, r.admins.IsAdmin(id),
		r.client.IsOp(channel, nick), r.client.IsVoice(channel, nick))
}

// identity собирает идентичность из префикса сообщения и ростера.
func (r *Router) identity(src irc.Prefix) perms.Identity {
	id := perms.Identity{Nick: src.Nick, Ident: src.User, Host: src.Host}
	if u, ok := r.client.User(src.Nick); ok {
		if id.Ident == "" {
			id.Ident = u.Ident
		}
		if id.Host == "" {
			id.Host = u.Host
		}
		id.Account = u.Account
	}
	return id
}

// matchesIgnore проверяет ник и текст против ignore_nicks и ignore_regex
// (каналный уровень поверх глобального).
func (r *Router) matchesIgnore(snap *config.Snapshot, channel, nick, text string) bool {
	for _, ig := range snap.GetStrings(channel, "ignore_nicks") {
		if strings.EqualFold(ig, nick) {
			return true
		}
	}
	for _, pat := range snap.GetStrings(channel, "ignore_regex") {
		re := r.compileIgnore(pat)
		if re != nil && re.MatchString(text) {
			return true
		}
	}
	return false
}

// compileIgnore кэширует откомпилированные фильтры. Некорректный паттерн
// логируется один раз и дальше пропускается.
func (r *Router) compileIgnore(pat string) *regexp.Regexp {
	r.reMu.Lock()
	defer r.reMu.Unlock()
	re, seen := r.reCache[pat]
	if seen {
		return re
	}
	compiled, err := regexp.Compile(pat)
	if err != nil {
		logger.Warnf("handler: некорректный ignore_regex %q: %v", pat, err)
		compiled = nil
	}
	r.reCache[pat] = compiled
	return compiled
}

// channelPolicy читает канальную флуд-политику из снимка.
func channelPolicy(snap *config.Snapshot, channel string) floodpro.Policy {
	return floodpro.Policy{
		Lines:   snap.GetInt(channel, "floodpro.lines", 0),
		Window:  time.Duration(snap.GetInt(channel, "floodpro.seconds", 0)) * time.Second,
		Penalty: time.Duration(snap.GetInt(channel, "floodpro.ban_time", 0)) * time.Minute,
	}
}

// privatePolicy читает приватную флуд-политику (только глобальная область).
func privatePolicy(snap *config.Snapshot) floodpro.Policy {
	return floodpro.Policy{
		Lines:   snap.GetInt("", "privmsg_floodpro.lines", 0),
		Window:  time.Duration(snap.GetInt("", "privmsg_floodpro.seconds", 0)) * time.Second,
		Penalty: time.Duration(snap.GetInt("", "privmsg_floodpro.ignore_time", 0)) * time.Minute,
	}
}

// directAddress распознаёт прямое обращение «Ник: текст» или «Ник, текст» и
// возвращает текст без обращения.
func directAddress(text, self string) (bool, string) {
	if len(text) <= len(self) {
		return false, ""
	}
	if !strings.EqualFold(text[:len(self)], self) {
		return false, ""
	}
	sep := text[len(self)]
	if sep != ':' && sep != ',' {
		return false, ""
	}
	body := strings.TrimSpace(text[len(self)+1:])
	if body == "" {
		return false, ""
	}
	return true, body
}

// mentionsNick ищет ник как отдельное слово, игнорируя прилипшую пунктуацию.
func mentionsNick(text, self string) bool {
	for _, word := range strings.Fields(text) {
		if strings.EqualFold(strings.Trim(word, ".,:;!?()\"'"), self) {
			return true
		}
	}
	return false
}
