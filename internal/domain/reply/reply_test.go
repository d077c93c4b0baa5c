package reply_test

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"

	"ircwit/internal/adapters/ai"
	"ircwit/internal/domain/chatlog"
	"ircwit/internal/domain/convo"
	"ircwit/internal/domain/reply"
	"ircwit/internal/infra/config"
)

type fakeConn struct {
	mu      sync.Mutex
	lines   []string
	nick    string
	members []string
}

func (f *fakeConn) Send(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
	return nil
}

func (f *fakeConn) CurrentNick() string             { return f.nick }
func (f *fakeConn) Members(channel string) []string { return f.members }

func (f *fakeConn) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

type fakeGen struct {
	mu    sync.Mutex
	text  string
	turns []ai.Turn
}

func (f *fakeGen) record(turns []ai.Turn) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append([]ai.Turn(nil), turns...)
	return f.text
}

func (f *fakeGen) Reply(ctx context.Context, ch string, t []ai.Turn) string      { return f.record(t) }
func (f *fakeGen) Topic(ctx context.Context, ch string, t []ai.Turn) string      { return f.record(t) }
func (f *fakeGen) KickReason(ctx context.Context, ch string, t []ai.Turn) string { return f.record(t) }
func (f *fakeGen) Entrance(ctx context.Context, ch string, t []ai.Turn) string   { return f.record(t) }

func (f *fakeGen) captured() []ai.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turns
}

func newPipeline(t *testing.T, yaml string, gen *fakeGen, conn *fakeConn) (*reply.Pipeline, *chatlog.Store, *convo.Clocks) {
	t.Helper()
	store, err := config.FromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("FromBytes() error: %v", err)
	}
	log := chatlog.New(nil)
	clocks := convo.New()
	return reply.New(store, gen, log, clocks, conn), log, clocks
}

const pipelineConfig = `
nick: Q
servers: [{host: h, port: 1}]
ai_prompt_default: "You are Q, a channel regular."
ai_nicklist: true
channels:
  - name: "#lab"
`

func TestPostprocess(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "stripQuotes", in: `"hello there"`, want: "hello there"},
		{name: "boldMarkers", in: "this is **bold** text", want: "this is \x02bold\x02 text"},
		{name: "underlineMarkers", in: "an _underlined_ word", want: "an \x1funderlined\x1f word"},
		{name: "collapseNewlines", in: "line one\nline two\n\nline three", want: "line one line two line three"},
		{name: "unpairedMarkerKept", in: "5 ** 2", want: "5 ** 2"},
		{name: "trimmed", in: "  padded  ", want: "padded"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := reply.Postprocess(tc.in); got != tc.want {
				t.Fatalf("Postprocess(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestChunkSentenceBoundary(t *testing.T) {
	t.Parallel()

	first := strings.Repeat("a", 300) + "."
	second := strings.Repeat("b", 300)
	chunks := reply.Chunk("#c", first+" "+second)

	want := []string{first, second}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("Chunk() разрезал в %d/%d, want %d/%d",
			len(chunks[0]), len(chunks[len(chunks)-1]), len(want[0]), len(want[1]))
	}
}

func TestChunkWordBoundary(t *testing.T) {
	t.Parallel()

	word := strings.Repeat("x", 49)
	text := word
	for i := 0; i < 13; i++ {
		text += " " + word
	}
	chunks := reply.Chunk("#c", text)

	if len(chunks) < 2 {
		t.Fatalf("Chunk() = %d кусков, want >= 2", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 498 {
			t.Fatalf("кусок #%d длиной %d превышает бюджет", i, len(chunk))
		}
		if strings.HasPrefix(chunk, " ") || strings.HasSuffix(chunk, " ") {
			t.Fatalf("кусок #%d не обрезан: %q", i, chunk)
		}
	}
	if joined := strings.Join(chunks, " "); joined != text {
		t.Fatalf("куски не складываются обратно в текст")
	}
}

func TestChunkHardCut(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("z", 600)
	chunks := reply.Chunk("#c", text)
	if len(chunks) != 2 || len(chunks[0])+len(chunks[1]) != 600 {
		t.Fatalf("Chunk() = %d кусков длин %v", len(chunks), []int{len(chunks[0])})
	}
}

func TestChunkShortTextUntouched(t *testing.T) {
	t.Parallel()

	got := reply.Chunk("#c", "short line")
	if !reflect.DeepEqual(got, []string{"short line"}) {
		t.Fatalf("Chunk() = %#v", got)
	}
}

func TestSaySendsAndRecordsHistory(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{nick: "Q"}
	gen := &fakeGen{}
	pipe, log, clocks := newPipeline(t, pipelineConfig, gen, conn)

	pipe.Say("#lab", "hello **world**", true)

	sent := conn.sent()
	if len(sent) != 1 || sent[0] != "PRIVMSG #lab :hello \x02world\x02" {
		t.Fatalf("sent = %#v", sent)
	}
	last, ok := log.Last("#lab")
	if !ok || last.Speaker != "Q" {
		t.Fatalf("история: %#v, %v", last, ok)
	}
	if _, ok := clocks.LastBot("#lab"); !ok {
		t.Fatal("LastBot не обновлён")
	}
}

func TestRespondBuildsPrompt(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{nick: "Q", members: []string{"Q", "alice", "bob"}}
	gen := &fakeGen{text: "generated answer"}
	pipe, log, _ := newPipeline(t, pipelineConfig, gen, conn)

	log.Append("#lab", "alice", "earlier line")
	log.Append("#lab", "Q", "my own line")

	pipe.Respond(context.Background(), "#lab", "bob", "what do you think?", true)

	turns := gen.captured()
	if len(turns) != 4 {
		t.Fatalf("turns = %#v", turns)
	}
	if turns[0].Role != "system" ||
		!strings.Contains(turns[0].Content, "You are Q") ||
		!strings.Contains(turns[0].Content, "alice, bob") ||
		strings.Contains(turns[0].Content, "Q,") {
		t.Fatalf("system turn = %#v", turns[0])
	}
	if turns[1].Role != "user" || turns[1].Content != "alice: earlier line" {
		t.Fatalf("history user turn = %#v", turns[1])
	}
	if turns[2].Role != "assistant" || turns[2].Content != "my own line" {
		t.Fatalf("history assistant turn = %#v", turns[2])
	}
	if turns[3].Role != "user" || turns[3].Content != "bob: what do you think?" {
		t.Fatalf("current turn = %#v", turns[3])
	}

	sent := conn.sent()
	if len(sent) != 1 || sent[0] != "PRIVMSG #lab :generated answer" {
		t.Fatalf("sent = %#v", sent)
	}
}

func TestEntranceRespectsFlag(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{nick: "Q"}
	gen := &fakeGen{text: "Has arrived!"}
	pipe, _, _ := newPipeline(t, pipelineConfig, gen, conn)

	// ai_entrance не включён: реплики входа нет.
	pipe.Entrance(context.Background(), "#lab")
	if sent := conn.sent(); len(sent) != 0 {
		t.Fatalf("sent = %#v, want пусто", sent)
	}
}

func TestNoticePrivateReply(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{nick: "Q"}
	gen := &fakeGen{text: "private answer"}
	pipe, _, _ := newPipeline(t, pipelineConfig, gen, conn)

	pipe.RespondPrivate(context.Background(), "alice", "hi Q")

	sent := conn.sent()
	if len(sent) != 1 || sent[0] != "NOTICE alice :private answer" {
		t.Fatalf("sent = %#v", sent)
	}
}
