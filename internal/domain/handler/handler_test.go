package handler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"ircwit/internal/adapters/ai"
	"ircwit/internal/domain/chatlog"
	"ircwit/internal/domain/commands"
	"ircwit/internal/domain/convo"
	"ircwit/internal/domain/floodpro"
	"ircwit/internal/domain/perms"
	"ircwit/internal/domain/reply"
	"ircwit/internal/infra/config"
	"ircwit/internal/infra/metrics"
	"ircwit/internal/irc"
)

type fakeConn struct {
	mu    sync.Mutex
	lines []string
	nick  string
	ops   map[string]bool
	voice map[string]bool
}

func (f *fakeConn) Send(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
	return nil
}

func (f *fakeConn) CurrentNick() string             { return f.nick }
func (f *fakeConn) Members(channel string) []string { return nil }
func (f *fakeConn) IsOp(channel, nick string) bool  { return f.ops[strings.ToLower(nick)] }
func (f *fakeConn) IsVoice(channel, nick string) bool {
	return f.voice[strings.ToLower(nick)]
}
func (f *fakeConn) User(nick string) (irc.UserInfo, bool) { return irc.UserInfo{}, false }

func (f *fakeConn) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

type fakeGen struct{ text string }

func (f *fakeGen) Reply(ctx context.Context, ch string, t []ai.Turn) string      { return f.text }
func (f *fakeGen) Topic(ctx context.Context, ch string, t []ai.Turn) string      { return f.text }
func (f *fakeGen) KickReason(ctx context.Context, ch string, t []ai.Turn) string { return f.text }
func (f *fakeGen) Entrance(ctx context.Context, ch string, t []ai.Turn) string   { return f.text }

// stubCmd — тестовая команда, фиксирующая факт вызова.
type stubCmd struct{ fail bool }

func (p stubCmd) Name() string {
	if p.fail {
		return "stubfail"
	}
	return "stub"
}
func (stubCmd) Summary() string      { return "проба" }
func (stubCmd) Usage() string        { return "stub" }
func (stubCmd) Level() perms.Level   { return perms.LevelAny }
func (p stubCmd) Execute(req *commands.Request) (commands.Reply, error) {
	if p.fail {
		return commands.Reply{}, &stubError{}
	}
	return commands.Reply{Text: "stub ok"}, nil
}

type stubError struct{}

func (*stubError) Error() string { return "boom" }

// holdGate удерживает holdCmd.Execute до закрытия: проверка, что выполнение
// команд не занимает горутину, из которой пришло сообщение.
var holdGate = make(chan struct{})

type holdCmd struct{}

func (holdCmd) Name() string       { return "stall" }
func (holdCmd) Summary() string    { return "проба" }
func (holdCmd) Usage() string      { return "stall" }
func (holdCmd) Level() perms.Level { return perms.LevelAny }
func (holdCmd) Execute(req *commands.Request) (commands.Reply, error) {
	<-holdGate
	return commands.Reply{Text: "hold done"}, nil
}

func init() {
	commands.Register(stubCmd{})
	commands.Register(stubCmd{fail: true})
	commands.Register(holdCmd{})
}

const routerConfig = `
nick: Q
servers: [{host: h, port: 1}]
admins: ["boss"]
ai_prompt_default: "sys"
ai_mention: true
floodpro: {lines: 3, seconds: 5, ban_time: 1}
ignore_nicks: [chanserv]
commands:
  stub:
    enabled: true
    requires: op
  stubfail:
    enabled: true
  stall:
    enabled: true
channels:
  - name: "#lab"
`

func newRouter(t *testing.T) (*Router, *fakeConn, *chatlog.Store, *convo.Clocks) {
	t.Helper()
	store, err := config.FromBytes([]byte(routerConfig))
	if err != nil {
		t.Fatalf("FromBytes() error: %v", err)
	}
	conn := &fakeConn{nick: "Q", ops: map[string]bool{}, voice: map[string]bool{}}
	log := chatlog.New(nil)
	clocks := convo.New()
	pipe := reply.New(store, &fakeGen{text: "generated"}, log, clocks, conn)
	r := New(store, conn, pipe, log, clocks, floodpro.New(), perms.New([]string{"boss"}), metrics.New())
	return r, conn, log, clocks
}

func src(nick string) irc.Prefix {
	return irc.Prefix{Nick: nick, User: "u", Host: nick + ".example.org"}
}

func waitFor(t *testing.T, conn *fakeConn, substr string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, line := range conn.sent() {
			if strings.Contains(line, substr) {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("строка с %q не отправлена; sent=%#v", substr, conn.sent())
}

func assertSilent(t *testing.T, conn *fakeConn) {
	t.Helper()
	time.Sleep(150 * time.Millisecond)
	if sent := conn.sent(); len(sent) != 0 {
		t.Fatalf("неожиданные отправки: %#v", sent)
	}
}

func TestDirectAddress(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		text     string
		wantOK   bool
		wantBody string
	}{
		{name: "colon", text: "Q: how are you", wantOK: true, wantBody: "how are you"},
		{name: "comma", text: "q, tell me", wantOK: true, wantBody: "tell me"},
		{name: "noSeparator", text: "Q hello", wantOK: false},
		{name: "midSentence", text: "I asked Q: nothing", wantOK: false},
		{name: "emptyBody", text: "Q:", wantOK: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ok, body := directAddress(tc.text, "Q")
			if ok != tc.wantOK || body != tc.wantBody {
				t.Fatalf("directAddress(%q) = %v, %q", tc.text, ok, body)
			}
		})
	}
}

func TestMentionsNick(t *testing.T) {
	t.Parallel()

	if !mentionsNick("I think Q is right", "Q") {
		t.Fatal("упоминание отдельным словом не распознано")
	}
	if !mentionsNick("right, q?", "Q") {
		t.Fatal("упоминание с пунктуацией не распознано")
	}
	if mentionsNick("quiet please", "Q") {
		t.Fatal("подстрока в слове не должна считаться упоминанием")
	}
}

func TestDirectMessageGetsReply(t *testing.T) {
	t.Parallel()
	r, conn, log, _ := newRouter(t)

	r.OnChannelMessage(src("alice"), "#lab", "Q: say something")
	waitFor(t, conn, "PRIVMSG #lab :generated")

	if !log.WasLastSpeaker("#lab", "Q") {
		t.Fatal("ответ бота должен попасть в историю")
	}
}

func TestMentionSkippedWhenSelfLast(t *testing.T) {
	t.Parallel()
	r, conn, log, _ := newRouter(t)

	log.Append("#lab", "Q", "my previous line")
	r.OnChannelMessage(src("alice"), "#lab", "maybe Q knows")
	assertSilent(t, conn)

	// Пользовательская реплика уже в истории: повторное упоминание отвечает.
	r.OnChannelMessage(src("bob"), "#lab", "so Q, thoughts?")
	waitFor(t, conn, "PRIVMSG #lab :generated")
}

func TestSleepGate(t *testing.T) {
	t.Parallel()
	r, conn, _, clocks := newRouter(t)

	clocks.Sleep("#lab", time.Hour)
	r.OnChannelMessage(src("alice"), "#lab", "Q: anyone home?")
	assertSilent(t, conn)
}

func TestIgnoredNickDropped(t *testing.T) {
	t.Parallel()
	r, conn, log, _ := newRouter(t)

	r.OnChannelMessage(src("ChanServ"), "#lab", "Q: service notice")
	assertSilent(t, conn)
	if _, ok := log.Last("#lab"); ok {
		t.Fatal("сообщение игнорируемого ника не должно попадать в историю")
	}
}

func TestChannelFloodTriggersModeration(t *testing.T) {
	t.Parallel()
	r, conn, _, _ := newRouter(t)

	for i := 0; i < 3; i++ {
		r.OnChannelMessage(src("x"), "#lab", "spam spam spam")
	}
	waitFor(t, conn, "MODE #lab +b *!*@x.example.org")
	waitFor(t, conn, "KICK #lab x :Flood protection")
}

func TestOpExemptFromFlood(t *testing.T) {
	t.Parallel()
	r, conn, _, _ := newRouter(t)
	conn.ops["x"] = true

	for i := 0; i < 5; i++ {
		r.OnChannelMessage(src("x"), "#lab", "busy op talk")
	}
	for _, line := range conn.sent() {
		if strings.HasPrefix(line, "MODE") || strings.HasPrefix(line, "KICK") {
			t.Fatalf("оператор попал под флуд-защиту: %q", line)
		}
	}
}

func TestCommandAuthorization(t *testing.T) {
	t.Parallel()
	r, conn, _, _ := newRouter(t)

	// stub требует op: без флага — тишина.
	r.OnChannelMessage(src("alice"), "#lab", "!stub")
	assertSilent(t, conn)

	conn.ops["alice"] = true
	r.OnChannelMessage(src("alice"), "#lab", "!stub")
	waitFor(t, conn, "PRIVMSG #lab :stub ok")
}

func TestAdminBypassesCommandLevel(t *testing.T) {
	t.Parallel()
	r, conn, _, _ := newRouter(t)

	r.OnChannelMessage(src("boss"), "#lab", "!stub")
	waitFor(t, conn, "PRIVMSG #lab :stub ok")
}

func TestCommandErrorReported(t *testing.T) {
	t.Parallel()
	r, conn, _, _ := newRouter(t)

	r.OnChannelMessage(src("alice"), "#lab", "!stubfail")
	waitFor(t, conn, "PRIVMSG #lab :Error executing command: boom")
}

func TestUnknownAndDisabledCommandsSilent(t *testing.T) {
	t.Parallel()
	r, conn, _, _ := newRouter(t)

	r.OnChannelMessage(src("alice"), "#lab", "!nosuchcommand")
	// help включён по умолчанию, но мы проверяем выключенную команду через
	// канальное затенение не здесь, а в пакете config; тут — неизвестное имя.
	assertSilent(t, conn)
}

func TestCommandRunsOffCallerGoroutine(t *testing.T) {
	t.Parallel()
	r, conn, _, _ := newRouter(t)

	// Команда висит на holdGate; обработчик обязан вернуться раньше, иначе
	// reload из канала никогда не дождётся читателя на воротах паузы.
	returned := make(chan struct{})
	go func() {
		r.OnChannelMessage(src("alice"), "#lab", "!stall")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("обработчик сообщений заблокирован выполнением команды")
	}

	close(holdGate)
	waitFor(t, conn, "PRIVMSG #lab :hold done")
}

func TestActionRecordedInHistory(t *testing.T) {
	t.Parallel()
	r, _, log, clocks := newRouter(t)

	r.OnChannelMessage(src("alice"), "#lab", "\x01ACTION waves\x01")

	last, ok := log.Last("#lab")
	if !ok || last.Speaker != "alice" || last.Text != "* waves" {
		t.Fatalf("история: %#v, %v", last, ok)
	}
	if _, ok := clocks.LastChat("#lab"); !ok {
		t.Fatal("ACTION не обновил отметку активности канала")
	}
}

func TestActionFromIgnoredNickDropped(t *testing.T) {
	t.Parallel()
	r, conn, log, _ := newRouter(t)

	r.OnChannelMessage(src("ChanServ"), "#lab", "\x01ACTION purrs\x01")
	assertSilent(t, conn)
	if _, ok := log.Last("#lab"); ok {
		t.Fatal("ACTION игнорируемого ника не должен попадать в историю")
	}
}

func TestActionCountsTowardFlood(t *testing.T) {
	t.Parallel()
	r, conn, _, _ := newRouter(t)

	for i := 0; i < 3; i++ {
		r.OnChannelMessage(src("x"), "#lab", "\x01ACTION spams\x01")
	}
	waitFor(t, conn, "MODE #lab +b *!*@x.example.org")
	waitFor(t, conn, "KICK #lab x :Flood protection")
}

func TestCTCPVersionReply(t *testing.T) {
	t.Parallel()
	r, conn, _, _ := newRouter(t)

	r.OnPrivateMessage(src("alice"), "\x01VERSION\x01")
	waitFor(t, conn, "NOTICE alice :\x01VERSION ircwit")
}

func TestCTCPPingEchoesToken(t *testing.T) {
	t.Parallel()
	r, conn, _, _ := newRouter(t)

	r.OnPrivateMessage(src("alice"), "\x01PING 1724500000\x01")
	waitFor(t, conn, "NOTICE alice :\x01PING 1724500000\x01")
}

func TestPrivateMessageNoticeReply(t *testing.T) {
	t.Parallel()
	r, conn, _, _ := newRouter(t)

	r.OnPrivateMessage(src("alice"), "hi there")
	waitFor(t, conn, "NOTICE alice :generated")
}

func TestPrivateCommandRedirected(t *testing.T) {
	t.Parallel()
	r, conn, _, _ := newRouter(t)

	r.OnPrivateMessage(src("alice"), "!stub")
	waitFor(t, conn, "NOTICE alice :Commands are available in channels only.")
}
