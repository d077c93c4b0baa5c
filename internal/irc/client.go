// Клиент протокола: жизненный цикл соединения с ротацией серверов, диалог
// регистрации (CAP/SASL, NICK/USER, восстановление после занятого ника),
// синхронизация ростера каналов (NAMES + WHOX), разбор MODE и исходящая
// очередь с лимитом скорости. Содержательные сообщения (PRIVMSG) клиент сам
// не интерпретирует, а передаёт наружу через интерфейс Events.
package irc

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ircwit/internal/infra/config"
	"ircwit/internal/infra/logger"
	"ircwit/internal/infra/metrics"
	"ircwit/internal/infra/pause"
	"ircwit/internal/infra/ratelimit"
	"ircwit/internal/shared"
)

const (
	reconnectDelay   = 5 * time.Second
	readPollInterval = 100 * time.Millisecond
	postConnectPace  = 1 * time.Second
	joinRetryWindow  = 30 * time.Second
	whoFields        = "%tnuhiraf"
)

// errQuit сигнализирует штатное завершение сессии по команде ERROR сервера.
var errQuit = errors.New("server closed the session")

// Events — получатель содержательных событий протокола. Клиент вызывает методы
// последовательно из горутины чтения.
type Events interface {
	// OnChannelMessage — PRIVMSG в канал от другого пользователя.
	OnChannelMessage(src Prefix, channel, text string)
	// OnPrivateMessage — PRIVMSG лично боту.
	OnPrivateMessage(src Prefix, text string)
	// OnSelfJoined — бот вошёл в канал (ростер комнаты уже сброшен).
	OnSelfJoined(channel string)
}

// UserInfo — накопленные сведения о пользователе сети (из WHOX и префиксов).
type UserInfo struct {
	Nick     string
	Ident    string
	Host     string
	IP       string
	Account  string
	Realname string
	Away     bool
	Oper     bool
}

// member — участник канала с канальными флагами.
type member struct {
	nick  string // ник в оригинальном регистре
	op    bool
	voice bool
}

// Client — резидентное соединение с сетью. Потокобезопасен: Send и запросы
// ростера можно звать из любых горутин.
type Client struct {
	cfg  *config.Store
	met  *metrics.Set
	gate *pause.Gate

	events Events

	sendMu sync.Mutex // сериализует запись в сокет

	mu          sync.Mutex
	ctx         context.Context
	conn        net.Conn
	bucket      *ratelimit.Bucket
	connected   bool
	registered  bool
	motdDone    bool
	currentNick string
	altSeq      int
	serverIdx   int
	jumped      bool // Jump уже выбрал сервер, ротацию не двигать
	curServer   string
	users       map[string]*UserInfo          // lower(ник) -> сведения
	members     map[string]map[string]*member // lower(канал) -> lower(ник) -> участник
	joinPending map[string]time.Time          // lower(канал) -> когда отправлен JOIN
}

// New создаёт клиента. Events задаётся отдельно через SetEvents до запуска.
func New(cfg *config.Store, met *metrics.Set, gate *pause.Gate) *Client {
	return &Client{
		cfg:         cfg,
		met:         met,
		gate:        gate,
		users:       make(map[string]*UserInfo),
		members:     make(map[string]map[string]*member),
		joinPending: make(map[string]time.Time),
	}
}

// SetEvents подключает получателя событий. Вызывается один раз при сборке.
func (c *Client) SetEvents(ev Events) { c.events = ev }

// Run держит соединение с сетью до отмены ctx: серверы перебираются по кругу,
// между попытками выдерживается постоянная пауза.
func (c *Client) Run(ctx context.Context) error {
	unregister := c.gate.Register()
	defer unregister()

	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	bo := backoff.NewConstantBackOff(reconnectDelay)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.gate.Yield(ctx)

		snap := c.cfg.Snapshot()
		srv := c.pickServer(snap)
		logger.Infof("irc: подключаемся к %s", srv.Addr())

		err := c.session(ctx, snap, srv)
		c.teardown()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.Warnf("irc: сессия %s завершилась: %v", srv.Addr(), err)
		}
		c.met.Reconnects.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// pickServer выбирает сервер текущей итерации и продвигает ротацию, если
// только Jump не зафиксировал выбор явно.
func (c *Client) pickServer(snap *config.Snapshot) config.Server {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serverIdx >= len(snap.Servers) {
		c.serverIdx = 0
	}
	srv := snap.Servers[c.serverIdx]
	c.curServer = srv.Addr()
	if c.jumped {
		c.jumped = false
	} else {
		c.serverIdx = (c.serverIdx + 1) % len(snap.Servers)
	}
	return srv
}

// session проводит одну сессию: набор, регистрация, цикл чтения.
func (c *Client) session(ctx context.Context, snap *config.Snapshot, srv config.Server) error {
	conn, err := dial(ctx, srv, snap.BindHost)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.registered = false
	c.motdDone = false
	c.currentNick = snap.Nick
	c.altSeq = 0
	c.bucket = ratelimit.New(snap.BurstSize, snap.FillRate)
	c.users = make(map[string]*UserInfo)
	c.members = make(map[string]map[string]*member)
	c.joinPending = make(map[string]time.Time)
	c.mu.Unlock()
	c.met.Channels.Set(0)

	if err := c.register(snap, srv); err != nil {
		return err
	}
	return c.readLoop(ctx, conn, snap)
}

// register отправляет вступительный диалог. Согласование CAP проводится
// всегда: без SASL оно завершается немедленным CAP END по ответу сервера,
// с SASL рукопожатие продолжится в обработчиках CAP/AUTHENTICATE.
func (c *Client) register(snap *config.Snapshot, srv config.Server) error {
	if err := c.Send("CAP LS 302"); err != nil {
		return err
	}
	if srv.Password != "" {
		if err := c.Send("PASS " + srv.Password); err != nil {
			return err
		}
	}
	if err := c.Send("NICK " + snap.Nick); err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("USER %s 0 * :%s", snap.Ident, snap.Realname))
}

// readLoop читает строки до ошибки ввода-вывода. Короткий дедлайн чтения
// служит точкой уступки: здесь цикл замечает паузу перезагрузки и отмену ctx.
func (c *Client) readLoop(ctx context.Context, conn net.Conn, snap *config.Snapshot) error {
	reader := bufio.NewReaderSize(conn, MaxLineLen*2)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.gate.Yield(ctx)

		_ = conn.SetReadDeadline(time.Now().Add(readPollInterval))
		line, err := reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && line == "" {
				continue
			}
			return err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		c.met.LinesIn.Inc()
		logger.RawIn(line)

		msg, ok := Parse(line)
		if !ok {
			continue
		}
		if err := c.handle(msg, snap); err != nil {
			return err
		}
	}
}

// teardown закрывает сокет и помечает клиента отключённым.
func (c *Client) teardown() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.registered = false
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.met.Channels.Set(0)
}

// Send ставит строку в исходящую очередь: ждёт жетон лимитера, затем пишет
// строку с CRLF. Ошибка записи валит сессию (цикл чтения заметит закрытие).
func (c *Client) Send(line string) error {
	c.mu.Lock()
	ctx, conn, bucket := c.ctx, c.conn, c.bucket
	c.mu.Unlock()
	if conn == nil || bucket == nil {
		return errors.New("irc: not connected")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		wait := bucket.Acquire()
		if wait <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
		conn.Close()
		return fmt.Errorf("irc: write: %w", err)
	}
	c.met.LinesOut.Inc()
	logger.RawOut(line)
	return nil
}

// Sendf — Send с форматированием.
func (c *Client) Sendf(format string, args ...any) error {
	return c.Send(fmt.Sprintf(format, args...))
}

// Disconnect рвёт текущую сессию. Цикл Run переподключится штатным порядком.
func (c *Client) Disconnect(reason string) {
	if reason != "" {
		_ = c.Send("QUIT :" + reason)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Jump фиксирует сервер следующего подключения и рвёт сессию. target — номер
// сервера (с единицы) или подстрока хоста; пустой target просто переподключает.
func (c *Client) Jump(target string) (string, error) {
	snap := c.cfg.Snapshot()
	idx := -1
	switch {
	case target == "":
		c.mu.Lock()
		idx = c.serverIdx
		c.mu.Unlock()
	default:
		if n, err := strconv.Atoi(target); err == nil {
			if _, ok := shared.GetAt(snap.Servers, n-1); !ok {
				return "", fmt.Errorf("server number out of range 1..%d", len(snap.Servers))
			}
			idx = n - 1
		} else {
			for i, srv := range snap.Servers {
				if strings.Contains(strings.ToLower(srv.Host), strings.ToLower(target)) {
					idx = i
					break
				}
			}
			if idx < 0 {
				return "", fmt.Errorf("no configured server matches %q", target)
			}
		}
	}

	c.mu.Lock()
	c.serverIdx = idx
	c.jumped = true
	c.mu.Unlock()

	addr := snap.Servers[idx].Addr()
	c.Disconnect("Changing servers")
	return addr, nil
}

// --- Запросы состояния ---

// CurrentNick возвращает действующий ник бота.
func (c *Client) CurrentNick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentNick
}

// CurrentServer возвращает адрес сервера текущей сессии.
func (c *Client) CurrentServer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curServer
}

// Connected сообщает, установлена ли сессия.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Registered сообщает, завершена ли регистрация на сервере.
func (c *Client) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// InChannel сообщает, присутствует ли бот в канале.
func (c *Client) InChannel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[strings.ToLower(channel)]
	return ok
}

// JoinedChannels возвращает каналы, в которых бот присутствует сейчас.
func (c *Client) JoinedChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.members))
	for ch := range c.members {
		out = append(out, ch)
	}
	return out
}

// Members возвращает ники участников канала в оригинальном регистре.
func (c *Client) Members(channel string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.members[strings.ToLower(channel)]
	out := make([]string, 0, len(room))
	for _, m := range room {
		out = append(out, m.nick)
	}
	return out
}

// HasMember сообщает, находится ли ник в канале.
func (c *Client) HasMember(channel, nick string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.members[strings.ToLower(channel)]
	_, ok := room[strings.ToLower(nick)]
	return ok
}

// IsOp сообщает, является ли ник оператором канала.
func (c *Client) IsOp(channel, nick string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.members[strings.ToLower(channel)]
	m, ok := room[strings.ToLower(nick)]
	return ok && m.op
}

// IsVoice сообщает, есть ли у ника голос в канале.
func (c *Client) IsVoice(channel, nick string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.members[strings.ToLower(channel)]
	m, ok := room[strings.ToLower(nick)]
	return ok && m.voice
}

// User возвращает накопленные сведения о нике.
func (c *Client) User(nick string) (UserInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[strings.ToLower(nick)]
	if !ok {
		return UserInfo{}, false
	}
	return *u, true
}

// EnsureJoined отправляет JOIN в канал, если бот не внутри и недавняя попытка
// ещё не висит. Используется сторожем присутствия и обработкой INVITE.
func (c *Client) EnsureJoined(channel, key string) {
	chKey := strings.ToLower(channel)

	c.mu.Lock()
	if _, in := c.members[chKey]; in {
		c.mu.Unlock()
		return
	}
	if sent, ok := c.joinPending[chKey]; ok && time.Since(sent) < joinRetryWindow {
		c.mu.Unlock()
		return
	}
	c.joinPending[chKey] = time.Now()
	c.mu.Unlock()

	if key != "" {
		_ = c.Sendf("JOIN %s %s", channel, key)
	} else {
		_ = c.Send("JOIN " + channel)
	}
}

// --- Обработка входящих сообщений ---

// handle разбирает одно сообщение сервера. PING отвечается немедленно и до
// любой другой логики.
func (c *Client) handle(m Message, snap *config.Snapshot) error {
	switch m.Command {
	case "PING":
		payload := m.Trailing
		if !m.HasTrailing {
			payload = m.Param(0)
		}
		return c.Send("PONG :" + payload)
	case "ERROR":
		return fmt.Errorf("%w: %s", errQuit, m.Trailing)
	case "CAP":
		c.handleCAP(m, snap)
	case "AUTHENTICATE":
		c.handleAuthenticate(m, snap)
	case "JOIN":
		c.handleJoin(m)
	case "PART":
		c.handlePart(m)
	case "QUIT":
		c.handleQuit(m)
	case "KICK":
		c.handleKick(m)
	case "NICK":
		c.handleNickChange(m)
	case "MODE":
		c.handleMode(m)
	case "INVITE":
		c.handleInvite(m, snap)
	case "TOPIC":
		logger.Debugf("irc: топик %s сменил %s", m.Param(0), m.Prefix.Nick)
	case "PRIVMSG":
		c.handlePrivmsg(m)
	case "NOTICE":
		logger.Debugf("irc: notice от %s: %s", m.Prefix.Nick, m.Trailing)
	default:
		if m.IsNumeric() {
			c.handleNumeric(m, snap)
		}
	}
	return nil
}

// handleCAP продолжает согласование возможностей. Нас интересует только sasl.
func (c *Client) handleCAP(m Message, snap *config.Snapshot) {
	sub := strings.ToUpper(m.Param(1))
	caps := m.Trailing
	switch sub {
	case "LS":
		if snap.SASL.Enabled && strings.Contains(caps, "sasl") {
			_ = c.Send("CAP REQ :sasl")
			_ = c.Send("AUTHENTICATE PLAIN")
		} else {
			if snap.SASL.Enabled {
				logger.Warn("irc: сервер не объявил sasl, продолжаем без аутентификации")
			}
			_ = c.Send("CAP END")
		}
	case "NAK":
		logger.Warnf("irc: сервер отклонил возможности: %s", caps)
		_ = c.Send("CAP END")
	}
}

// handleAuthenticate отвечает на приглашение сервера полезной нагрузкой
// SASL-PLAIN: base64("\0логин\0пароль").
func (c *Client) handleAuthenticate(m Message, snap *config.Snapshot) {
	prompt := m.Param(0)
	if prompt == "" {
		prompt = m.Trailing
	}
	if prompt != "+" {
		return
	}
	raw := "\x00" + snap.SASL.Username + "\x00" + snap.SASL.Password
	_ = c.Send("AUTHENTICATE " + base64.StdEncoding.EncodeToString([]byte(raw)))
}

// handleNumeric обрабатывает числовые ответы сервера.
func (c *Client) handleNumeric(m Message, snap *config.Snapshot) {
	switch m.Command {
	case "001":
		c.mu.Lock()
		c.registered = true
		if nick := m.Param(0); nick != "" {
			c.currentNick = nick
		}
		c.mu.Unlock()
		logger.Infof("irc: зарегистрированы на %s как %s", c.CurrentServer(), c.CurrentNick())
		if snap.UserMode != "" {
			_ = c.Sendf("MODE %s %s", c.CurrentNick(), snap.UserMode)
		}
	case "376", "422":
		c.onMOTDDone(snap)
	case "433":
		c.onNickTaken(snap)
	case "353":
		c.onNames(m)
	case "366":
		_ = c.Sendf("WHO %s %s", m.Param(1), whoFields)
	case "352":
		c.onWhoReply(m)
	case "354":
		c.onWhoxReply(m)
	case "315":
		logger.Debugf("irc: конец WHO для %s", m.Param(1))
	case "903":
		logger.Info("irc: SASL-аутентификация успешна")
		_ = c.Send("CAP END")
	case "904", "905", "906", "907":
		logger.Warnf("irc: SASL не удалась (%s): %s", m.Command, m.Trailing)
		_ = c.Send("CAP END")
	default:
		if m.Command[0] == '4' || m.Command[0] == '5' {
			logger.Warnf("irc: ошибка сервера %s: %s %s", m.Command, strings.Join(m.Params, " "), m.Trailing)
		}
	}
}

// onMOTDDone — конец MOTD (или его отсутствие): точка запуска послесоединённых
// команд и входа в каналы. Выполняется не более одного раза за сессию.
func (c *Client) onMOTDDone(snap *config.Snapshot) {
	c.mu.Lock()
	if c.motdDone {
		c.mu.Unlock()
		return
	}
	c.motdDone = true
	ctx := c.ctx
	c.mu.Unlock()

	go func() {
		nick := c.CurrentNick()
		for _, cmd := range snap.PostConnectCommands {
			line := strings.ReplaceAll(cmd, "$nick", nick)
			if err := c.Send(line); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(postConnectPace):
			}
		}
		for _, ch := range snap.Channels() {
			c.EnsureJoined(ch.Name, ch.Key)
		}
	}()
}

// onNickTaken подбирает свободный ник: сначала альтернативный, затем
// альтернативный с числовым суффиксом. После регистрации коллизии не трогаем.
func (c *Client) onNickTaken(snap *config.Snapshot) {
	c.mu.Lock()
	if c.registered {
		c.mu.Unlock()
		logger.Warn("irc: смена ника отклонена, ник занят")
		return
	}
	var next string
	if c.altSeq == 0 {
		next = snap.AltNick
	} else {
		next = snap.AltNick + strconv.Itoa(c.altSeq)
	}
	c.altSeq++
	c.currentNick = next
	c.mu.Unlock()

	logger.Infof("irc: ник занят, пробуем %s", next)
	_ = c.Send("NICK " + next)
}

// onNames разбирает ответ NAMES: ники с префиксами статуса.
func (c *Client) onNames(m Message) {
	channel := m.Param(2)
	if channel == "" {
		return
	}
	chKey := strings.ToLower(channel)

	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.members[chKey]
	if room == nil {
		room = make(map[string]*member)
		c.members[chKey] = room
	}
	for _, token := range strings.Fields(m.Trailing) {
		nick := strings.TrimLeft(token, "~&@%+")
		if nick == "" {
			continue
		}
		prefixes := token[:len(token)-len(nick)]
		room[strings.ToLower(nick)] = &member{
			nick:  nick,
			op:    strings.ContainsAny(prefixes, "~&@"),
			voice: strings.Contains(prefixes, "+"),
		}
	}
}

// onWhoReply — классический ответ WHO (352): userhost и канальные флаги.
func (c *Client) onWhoReply(m Message) {
	channel, user, host, nick := m.Param(1), m.Param(2), m.Param(3), m.Param(5)
	flags := m.Param(6)
	if nick == "" {
		return
	}
	c.updateUser(nick, func(u *UserInfo) {
		u.Ident = user
		u.Host = host
		u.Away = strings.Contains(flags, "G")
		u.Oper = strings.Contains(flags, "*")
	})
	c.updateMemberFlags(channel, nick, strings.Contains(flags, "@"), strings.Contains(flags, "+"))
}

// onWhoxReply — ответ WHOX (354) на запрос %tnuhiraf:
// <я> <токен> <user> <host> <ip> <ник> <флаги> <account> :<имя>.
// Account "0" означает, что пользователь не залогинен в сервисы.
func (c *Client) onWhoxReply(m Message) {
	user, host, ip, nick := m.Param(2), m.Param(3), m.Param(4), m.Param(5)
	flags, account := m.Param(6), m.Param(7)
	if nick == "" {
		return
	}
	if account == "0" {
		account = ""
	}
	c.updateUser(nick, func(u *UserInfo) {
		u.Ident = user
		u.Host = host
		u.IP = ip
		u.Account = account
		u.Realname = m.Trailing
		u.Away = strings.Contains(flags, "G")
		u.Oper = strings.Contains(flags, "*")
	})
}

// updateUser применяет мутацию к записи пользователя, создавая её при нужде.
func (c *Client) updateUser(nick string, fn func(*UserInfo)) {
	key := strings.ToLower(nick)
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.users[key]
	if u == nil {
		u = &UserInfo{Nick: nick}
		c.users[key] = u
	}
	fn(u)
}

// updateMemberFlags обновляет канальные флаги участника, если комната известна.
func (c *Client) updateMemberFlags(channel, nick string, op, voice bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.members[strings.ToLower(channel)]
	if room == nil {
		return
	}
	m := room[strings.ToLower(nick)]
	if m == nil {
		m = &member{nick: nick}
		room[strings.ToLower(nick)] = m
	}
	m.op = op
	m.voice = voice
}

// handleJoin обновляет ростер. Собственный вход сбрасывает комнату: сервер
// сейчас пришлёт свежий NAMES, а WHOX мы запросим по его окончании.
func (c *Client) handleJoin(m Message) {
	channel := m.Param(0)
	if channel == "" {
		channel = m.Trailing
	}
	chKey := strings.ToLower(channel)
	self := c.isSelf(m.Prefix.Nick)

	c.mu.Lock()
	if self {
		c.members[chKey] = map[string]*member{
			strings.ToLower(c.currentNick): {nick: c.currentNick},
		}
		delete(c.joinPending, chKey)
	} else if room := c.members[chKey]; room != nil {
		room[strings.ToLower(m.Prefix.Nick)] = &member{nick: m.Prefix.Nick}
	}
	total := len(c.members)
	c.mu.Unlock()

	c.rememberPrefix(m.Prefix)
	if self {
		c.met.Channels.Set(float64(total))
		logger.Infof("irc: вошли в %s", channel)
		if c.events != nil {
			c.events.OnSelfJoined(channel)
		}
		return
	}
	_ = c.Sendf("WHO %s %s", m.Prefix.Nick, whoFields)
}

func (c *Client) handlePart(m Message) {
	channel := m.Param(0)
	chKey := strings.ToLower(channel)
	self := c.isSelf(m.Prefix.Nick)

	c.mu.Lock()
	if self {
		delete(c.members, chKey)
	} else if room := c.members[chKey]; room != nil {
		delete(room, strings.ToLower(m.Prefix.Nick))
	}
	total := len(c.members)
	c.mu.Unlock()

	if self {
		c.met.Channels.Set(float64(total))
		logger.Infof("irc: покинули %s", channel)
	}
}

func (c *Client) handleQuit(m Message) {
	nickKey := strings.ToLower(m.Prefix.Nick)
	c.mu.Lock()
	for _, room := range c.members {
		delete(room, nickKey)
	}
	delete(c.users, nickKey)
	c.mu.Unlock()
}

// handleKick удаляет жертву из ростера. Собственный кик не переподключает:
// сторож присутствия вернёт бота в канал своим чередом.
func (c *Client) handleKick(m Message) {
	channel, target := m.Param(0), m.Param(1)
	chKey := strings.ToLower(channel)
	self := c.isSelf(target)

	c.mu.Lock()
	if self {
		delete(c.members, chKey)
	} else if room := c.members[chKey]; room != nil {
		delete(room, strings.ToLower(target))
	}
	total := len(c.members)
	c.mu.Unlock()

	if self {
		c.met.Channels.Set(float64(total))
		logger.Warnf("irc: нас выкинули из %s (%s): %s", channel, m.Prefix.Nick, m.Trailing)
	}
}

// handleNickChange переносит пользователя под новым ником во всех комнатах.
func (c *Client) handleNickChange(m Message) {
	newNick := m.Trailing
	if newNick == "" {
		newNick = m.Param(0)
	}
	oldKey := strings.ToLower(m.Prefix.Nick)
	newKey := strings.ToLower(newNick)

	c.mu.Lock()
	if strings.EqualFold(m.Prefix.Nick, c.currentNick) {
		c.currentNick = newNick
	}
	if u, ok := c.users[oldKey]; ok {
		delete(c.users, oldKey)
		u.Nick = newNick
		c.users[newKey] = u
	}
	for _, room := range c.members {
		if mem, ok := room[oldKey]; ok {
			delete(room, oldKey)
			mem.nick = newNick
			room[newKey] = mem
		}
	}
	c.mu.Unlock()
}

// handleMode применяет канальные режимы. Параметры потребляют режимы
// o, v, b, k и l (последний — только при установке).
func (c *Client) handleMode(m Message) {
	target := m.Param(0)
	if !strings.HasPrefix(target, "#") && !strings.HasPrefix(target, "&") {
		return
	}
	modes := m.Param(1)
	args := m.Params[2:]

	adding := true
	ai := 0
	next := func() string {
		if ai < len(args) {
			v := args[ai]
			ai++
			return v
		}
		return ""
	}

	for _, r := range modes {
		switch r {
		case '+':
			adding = true
		case '-':
			adding = false
		case 'o':
			if nick := next(); nick != "" {
				c.setMemberMode(target, nick, func(mem *member) { mem.op = adding })
			}
		case 'v':
			if nick := next(); nick != "" {
				c.setMemberMode(target, nick, func(mem *member) { mem.voice = adding })
			}
		case 'b', 'k':
			next()
		case 'l':
			if adding {
				next()
			}
		}
	}
}

func (c *Client) setMemberMode(channel, nick string, fn func(*member)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.members[strings.ToLower(channel)]
	if room == nil {
		return
	}
	if mem := room[strings.ToLower(nick)]; mem != nil {
		fn(mem)
	}
}

// handleInvite принимает приглашение только в каналы из конфигурации.
func (c *Client) handleInvite(m Message, snap *config.Snapshot) {
	channel := m.Trailing
	if channel == "" {
		channel = m.Param(1)
	}
	if !c.isSelf(m.Param(0)) {
		return
	}
	if !snap.IsConfiguredChannel(channel) {
		logger.Debugf("irc: игнорируем приглашение в неописанный канал %s от %s", channel, m.Prefix.Nick)
		return
	}
	logger.Infof("irc: приглашение в %s от %s", channel, m.Prefix.Nick)
	c.EnsureJoined(channel, snap.ChannelKey(channel))
}

// handlePrivmsg передаёт содержательное сообщение наружу. Собственные эхо
// (некоторые сети шлют self-PRIVMSG) отбрасываются.
func (c *Client) handlePrivmsg(m Message) {
	if c.events == nil || c.isSelf(m.Prefix.Nick) {
		return
	}
	target := m.Param(0)
	c.rememberPrefix(m.Prefix)
	if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&") {
		c.events.OnChannelMessage(m.Prefix, target, m.Trailing)
		return
	}
	c.events.OnPrivateMessage(m.Prefix, m.Trailing)
}

// rememberPrefix пополняет сведения о пользователе из префикса сообщения.
func (c *Client) rememberPrefix(p Prefix) {
	if p.Nick == "" || p.User == "" {
		return
	}
	c.updateUser(p.Nick, func(u *UserInfo) {
		u.Nick = p.Nick
		if u.Ident == "" {
			u.Ident = p.User
		}
		if u.Host == "" {
			u.Host = p.Host
		}
	})
}

func (c *Client) isSelf(nick string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.EqualFold(nick, c.currentNick)
}
