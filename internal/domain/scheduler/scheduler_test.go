package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"ircwit/internal/adapters/ai"
	"ircwit/internal/domain/chatlog"
	"ircwit/internal/domain/convo"
	"ircwit/internal/domain/reply"
	"ircwit/internal/infra/config"
	"ircwit/internal/infra/pause"
)

type fakeConn struct {
	mu      sync.Mutex
	lines   []string
	nick    string
	rooms   map[string]bool
	members map[string]bool
	ops     map[string]bool
	joins   []string
}

func (f *fakeConn) Registered() bool    { return true }
func (f *fakeConn) CurrentNick() string { return f.nick }
func (f *fakeConn) InChannel(channel string) bool {
	return f.rooms[strings.ToLower(channel)]
}
func (f *fakeConn) HasMember(channel, nick string) bool {
	return f.members[strings.ToLower(nick)]
}
func (f *fakeConn) IsOp(channel, nick string) bool { return f.ops[strings.ToLower(nick)] }
func (f *fakeConn) Members(channel string) []string {
	var out []string
	for nick := range f.members {
		out = append(out, nick)
	}
	return out
}

func (f *fakeConn) Send(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
	return nil
}

func (f *fakeConn) EnsureJoined(channel, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, channel)
}

func (f *fakeConn) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeConn) joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...)
}

type fakeGen struct{ text string }

func (f *fakeGen) Reply(ctx context.Context, ch string, t []ai.Turn) string      { return f.text }
func (f *fakeGen) Topic(ctx context.Context, ch string, t []ai.Turn) string      { return f.text }
func (f *fakeGen) KickReason(ctx context.Context, ch string, t []ai.Turn) string { return f.text }
func (f *fakeGen) Entrance(ctx context.Context, ch string, t []ai.Turn) string   { return f.text }

// fakeClock — управляемый источник времени для детерминированных таймеров.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	sched  *Scheduler
	conn   *fakeConn
	log    *chatlog.Store
	clocks *convo.Clocks
	clk    *fakeClock
	snap   *config.Snapshot
	gate   *pause.Gate
}

func newFixture(t *testing.T, yaml string) *fixture {
	t.Helper()
	store, err := config.FromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("FromBytes() error: %v", err)
	}
	clk := &fakeClock{t: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	conn := &fakeConn{
		nick:    "Q",
		rooms:   map[string]bool{"#lab": true},
		members: map[string]bool{"q": true, "alice": true, "bob": true},
		ops:     map[string]bool{},
	}
	log := chatlog.New(nil)
	clocks := convo.New(convo.WithNow(clk.Now))
	pipe := reply.New(store, &fakeGen{text: "generated"}, log, clocks, conn)
	gate := pause.New()
	return &fixture{
		sched:  New(store, conn, pipe, log, clocks, gate),
		conn:   conn,
		log:    log,
		clocks: clocks,
		clk:    clk,
		snap:   store.Snapshot(),
		gate:   gate,
	}
}

const idleConfig = `
nick: Q
servers: [{host: h, port: 1}]
ai_prompt_default: "sys"
idle_chat_interval: 300
channels:
  - name: "#lab"
`

func TestIdleChatFiresAfterQuiet(t *testing.T) {
	t.Parallel()
	f := newFixture(t, idleConfig)

	f.clocks.TouchChat("#lab")
	f.log.Append("#lab", "alice", "last human line")
	f.clk.Advance(301 * time.Second)

	f.sched.evalIdleChat(context.Background(), f.snap, "#lab")

	sent := f.conn.sent()
	if len(sent) != 1 || sent[0] != "PRIVMSG #lab :generated" {
		t.Fatalf("sent = %#v", sent)
	}
	// Реплика бота сдвигает отметку тишины: повторный такт молчит.
	f.sched.evalIdleChat(context.Background(), f.snap, "#lab")
	if sent := f.conn.sent(); len(sent) != 1 {
		t.Fatalf("повторный вброс: %#v", sent)
	}
}

func TestIdleChatWaitsForQuiet(t *testing.T) {
	t.Parallel()
	f := newFixture(t, idleConfig)

	f.clocks.TouchChat("#lab")
	f.log.Append("#lab", "alice", "chatter")
	f.clk.Advance(120 * time.Second)

	f.sched.evalIdleChat(context.Background(), f.snap, "#lab")
	if sent := f.conn.sent(); len(sent) != 0 {
		t.Fatalf("канал ещё не затих, но бот заговорил: %#v", sent)
	}
}

func TestIdleChatSkippedWhenSelfLast(t *testing.T) {
	t.Parallel()
	f := newFixture(t, idleConfig)

	f.clocks.TouchChat("#lab")
	f.log.Append("#lab", "Q", "my own last line")
	f.clk.Advance(301 * time.Second)

	f.sched.evalIdleChat(context.Background(), f.snap, "#lab")
	if sent := f.conn.sent(); len(sent) != 0 {
		t.Fatalf("бот не должен отвечать сам себе: %#v", sent)
	}
}

func TestIdleChatInitsRoomOnFirstSight(t *testing.T) {
	t.Parallel()
	f := newFixture(t, idleConfig)

	// Первый такт в незнакомой комнате только запускает отсчёт.
	f.sched.evalIdleChat(context.Background(), f.snap, "#lab")
	if sent := f.conn.sent(); len(sent) != 0 {
		t.Fatalf("вброс без отсчёта тишины: %#v", sent)
	}
	if _, ok := f.clocks.LastChat("#lab"); !ok {
		t.Fatal("LastChat не инициализирован")
	}

	f.log.Append("#lab", "alice", "hello")
	f.clk.Advance(301 * time.Second)
	f.sched.evalIdleChat(context.Background(), f.snap, "#lab")
	if sent := f.conn.sent(); len(sent) != 1 {
		t.Fatalf("после тишины вброса нет: %#v", sent)
	}
}

func TestIdleChatDisabledByZeroInterval(t *testing.T) {
	t.Parallel()
	f := newFixture(t, `
nick: Q
servers: [{host: h, port: 1}]
channels:
  - name: "#lab"
`)

	f.clocks.TouchChat("#lab")
	f.log.Append("#lab", "alice", "line")
	f.clk.Advance(24 * time.Hour)

	f.sched.evalIdleChat(context.Background(), f.snap, "#lab")
	if sent := f.conn.sent(); len(sent) != 0 {
		t.Fatalf("выключенный idle chat заговорил: %#v", sent)
	}
}

const actionConfig = `
nick: Q
servers: [{host: h, port: 1}]
random_action_interval: 60
idle_chat_time: 30
random_actions:
  kick: true
protected_nicks: [bob]
channels:
  - name: "#lab"
`

func TestRandomKickPicksUnprotectedSpeaker(t *testing.T) {
	t.Parallel()
	f := newFixture(t, actionConfig)
	f.conn.ops["q"] = true

	f.log.Append("#lab", "alice", "line one")
	f.log.Append("#lab", "bob", "line two")
	f.clocks.TouchChat("#lab")
	f.clk.Advance(61 * time.Second)

	f.sched.evalRandomAction(context.Background(), f.snap, "#lab")

	sent := f.conn.sent()
	if len(sent) != 1 || !strings.HasPrefix(sent[0], "KICK #lab alice :") {
		t.Fatalf("sent = %#v, want KICK alice", sent)
	}
	if _, ok := f.clocks.LastAction("#lab"); !ok {
		t.Fatal("LastAction не обновлён")
	}

	// Интервал действий ещё не прошёл: второй такт молчит.
	f.sched.evalRandomAction(context.Background(), f.snap, "#lab")
	if sent := f.conn.sent(); len(sent) != 1 {
		t.Fatalf("повторное действие раньше интервала: %#v", sent)
	}
}

func TestRandomActionRequiresOp(t *testing.T) {
	t.Parallel()
	f := newFixture(t, actionConfig)

	f.log.Append("#lab", "alice", "line")
	f.clocks.TouchChat("#lab")
	f.clk.Advance(61 * time.Second)

	f.sched.evalRandomAction(context.Background(), f.snap, "#lab")
	if sent := f.conn.sent(); len(sent) != 0 {
		t.Fatalf("действие без операторского флага: %#v", sent)
	}
}

func TestRandomActionWaitsForQuiet(t *testing.T) {
	t.Parallel()
	f := newFixture(t, actionConfig)
	f.conn.ops["q"] = true

	f.log.Append("#lab", "alice", "line")
	f.clocks.TouchChat("#lab")
	f.clk.Advance(10 * time.Second)

	f.sched.evalRandomAction(context.Background(), f.snap, "#lab")
	if sent := f.conn.sent(); len(sent) != 0 {
		t.Fatalf("действие в оживлённом канале: %#v", sent)
	}
}

func TestRandomTopicChange(t *testing.T) {
	t.Parallel()
	f := newFixture(t, `
nick: Q
servers: [{host: h, port: 1}]
random_action_interval: 60
idle_chat_time: 30
random_actions:
  topic: true
channels:
  - name: "#lab"
`)
	f.conn.ops["q"] = true
	f.clocks.TouchChat("#lab")
	f.clk.Advance(61 * time.Second)

	f.sched.evalRandomAction(context.Background(), f.snap, "#lab")

	sent := f.conn.sent()
	if len(sent) != 1 || sent[0] != "TOPIC #lab :generated" {
		t.Fatalf("sent = %#v", sent)
	}
}

func TestPickKickTargetExclusions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, actionConfig)
	f.conn.ops["oper"] = true
	f.conn.members["oper"] = true
	f.conn.members["prot"] = false

	f.log.Append("#lab", "Q", "self line")
	f.log.Append("#lab", "oper", "op line")
	f.log.Append("#lab", "bob", "protected line")
	f.log.Append("#lab", "gone", "left already")
	f.log.Append("#lab", "alice", "fair game")
	f.conn.members["gone"] = false

	if got := f.sched.pickKickTarget(f.snap, "#lab", "Q"); got != "alice" {
		t.Fatalf("pickKickTarget() = %q, want alice", got)
	}
}

const continueConfig = `
nick: Q
servers: [{host: h, port: 1}]
ai_prompt_default: "sys"
ai_continue: true
ai_continue_mins: 10
ai_continue_freq: 30
channels:
  - name: "#lab"
`

func TestContinuationScheduleAndFire(t *testing.T) {
	t.Parallel()
	f := newFixture(t, continueConfig)
	ctx := context.Background()

	// Без обращения расписание не заводится.
	f.sched.evalContinuation(ctx, f.snap, "#lab")
	if _, ok := f.clocks.NextContinuation("#lab"); ok {
		t.Fatal("продолжение запланировано без обращения")
	}

	f.clocks.TouchTrigger("#lab")
	f.log.Append("#lab", "alice", "Q: tell me more")
	f.sched.evalContinuation(ctx, f.snap, "#lab")
	if _, ok := f.clocks.NextContinuation("#lab"); !ok {
		t.Fatal("после обращения продолжение не запланировано")
	}
	if sent := f.conn.sent(); len(sent) != 0 {
		t.Fatalf("реплика раньше дедлайна: %#v", sent)
	}

	f.clk.Advance(31 * time.Second)
	f.sched.evalContinuation(ctx, f.snap, "#lab")
	sent := f.conn.sent()
	if len(sent) != 1 || sent[0] != "PRIVMSG #lab :generated" {
		t.Fatalf("sent = %#v", sent)
	}
}

func TestContinuationReschedulesWhenSelfLast(t *testing.T) {
	t.Parallel()
	f := newFixture(t, continueConfig)
	ctx := context.Background()

	f.clocks.TouchTrigger("#lab")
	f.log.Append("#lab", "Q", "my reply")
	f.sched.evalContinuation(ctx, f.snap, "#lab")
	f.clk.Advance(31 * time.Second)
	f.sched.evalContinuation(ctx, f.snap, "#lab")

	if sent := f.conn.sent(); len(sent) != 0 {
		t.Fatalf("бот продолжил сам за собой: %#v", sent)
	}
	next, ok := f.clocks.NextContinuation("#lab")
	if !ok || !next.After(f.clk.Now()) {
		t.Fatalf("перенос не запланирован: %v, %v", next, ok)
	}
}

func TestRunReachesPauseGateBetweenTicks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, idleConfig)

	// Такт нарочно недостижимо редкий: на ворота цикл обязан успеть по
	// сигналу паузы, не дожидаясь тика.
	f.sched.tick = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	if err := f.gate.Pause(time.Second); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	f.gate.Resume()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("цикл не завершился после отмены контекста")
	}
}

func TestWatchdogHoldsDuringPause(t *testing.T) {
	t.Parallel()
	f := newFixture(t, idleConfig)

	// Бот выпал из #lab: сторож шлёт JOIN на каждом такте.
	f.conn.rooms = map[string]bool{}
	f.sched.watchdogTick = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.RunWatchdog(ctx) }()

	deadline := time.Now().Add(time.Second)
	for len(f.conn.joined()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("сторож не отправил ни одного JOIN")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := f.gate.Pause(time.Second); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	before := len(f.conn.joined())
	time.Sleep(100 * time.Millisecond)
	if got := len(f.conn.joined()); got != before {
		t.Fatalf("сторож действовал во время паузы: %d -> %d", before, got)
	}

	f.gate.Resume()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("сторож не завершился после отмены контекста")
	}
}

func TestContinuationClearedAfterWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, continueConfig)
	ctx := context.Background()

	f.clocks.TouchTrigger("#lab")
	f.log.Append("#lab", "alice", "Q: hello")
	f.sched.evalContinuation(ctx, f.snap, "#lab")

	f.clk.Advance(11 * time.Minute)
	f.sched.evalContinuation(ctx, f.snap, "#lab")

	if _, ok := f.clocks.NextContinuation("#lab"); ok {
		t.Fatal("расписание не снято после истечения окна")
	}
	if sent := f.conn.sent(); len(sent) != 0 {
		t.Fatalf("реплика за пределами окна: %#v", sent)
	}
}
