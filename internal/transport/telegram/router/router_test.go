package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	kit "tgalerter/internal/transport"
	"tgalerter/internal/transport/transporttest"
	"tgalerter/pkg/logx"
)

func msg(text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: 42, ThreadID: 3, FromID: 7, Text: text}}
}

func startRouter(t *testing.T, ad *transporttest.Adapter, cmds []Command) (chan kit.Update, func()) {
	t.Helper()
	m := New(logx.Nop(), ad, WithWorkers(1))
	m.SetCommands(cmds)
	updates := make(chan kit.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, updates)
		close(done)
	}()
	return updates, func() {
		cancel()
		<-done
	}
}

func waitSent(t *testing.T, ad *transporttest.Adapter, n int) []transporttest.Sent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := ad.Sent(); len(s) >= n {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d sends, got %d", n, len(ad.Sent()))
	return nil
}

func echo(name string) Command {
	return Command{
		Name:     name,
		Aliases:  []string{name + "_alias"},
		Triggers: []string{"Press " + name},
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, req.Command+":"+strings.Join(req.Args, ","), nil)
		},
	}
}

func TestRouteByNameAliasAndTrigger(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "slash", text: "/ping a b", want: "ping:a,b"},
		{name: "bot suffix", text: "/ping@alert_bot", want: "ping:"},
		{name: "upper case", text: "/PING", want: "ping:"},
		{name: "alias", text: "/ping_alias x", want: "ping:x"},
		{name: "trigger", text: "  Press ping ", want: "ping:"},
		{name: "unknown", text: "/nope", want: "Unknown command. Try /help"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ad := &transporttest.Adapter{}
			updates, stop := startRouter(t, ad, []Command{echo("ping")})
			defer stop()
			updates <- msg(tt.text)
			sent := waitSent(t, ad, 1)
			if sent[0].Text != tt.want {
				t.Fatalf("reply = %q, want %q", sent[0].Text, tt.want)
			}
			if sent[0].To != (kit.ChatTarget{ChatID: 42, ThreadID: 3}) {
				t.Fatalf("reply target = %+v", sent[0].To)
			}
		})
	}
}

func TestPlainTextIgnored(t *testing.T) {
	t.Parallel()
	ad := &transporttest.Adapter{}
	m := New(logx.Nop(), ad, WithWorkers(1))
	m.SetCommands([]Command{echo("ping")})
	m.Route(context.Background(), msg("hello there"))
	if len(m.jobs) != 0 || len(ad.Sent()) != 0 {
		t.Fatal("plain text must not be routed")
	}
}

func TestHelpListsVisibleCommands(t *testing.T) {
	t.Parallel()
	m := New(logx.Nop(), &transporttest.Adapter{})
	m.SetCommands([]Command{
		{Name: "subscribe", Usage: "/subscribe <TYPE>", Description: "opt in", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "secret", Hidden: true, Handle: func(context.Context, *Request) error { return nil }},
	})
	got := m.HelpText()
	if !strings.Contains(got, "<code>/subscribe &lt;TYPE&gt;</code> - opt in") {
		t.Fatalf("help = %q", got)
	}
	if strings.Contains(got, "secret") {
		t.Fatalf("hidden command listed: %q", got)
	}
	if !strings.Contains(got, "/help") {
		t.Fatalf("help command missing: %q", got)
	}
}

func TestMiddlewarePanicRecover(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, req *Request) error { panic("boom") }, MWPanicRecover(logx.Nop()))
	err := h(context.Background(), &Request{})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}

func TestMiddlewareTimeout(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, req *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, MWTimeout(10*time.Millisecond))
	if err := h(context.Background(), &Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestChainOrder(t *testing.T) {
	t.Parallel()
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(context.Context, *Request) error { order = append(order, "h"); return nil }, mw("a"), mw("b"))
	_ = h(context.Background(), &Request{})
	if strings.Join(order, ",") != "a,b,h" {
		t.Fatalf("order = %v", order)
	}
}

func TestRequestDestination(t *testing.T) {
	t.Parallel()
	r := &Request{Chat: kit.ChatTarget{ChatID: -100, ThreadID: 5}}
	if r.Destination() != "-100:5" {
		t.Fatalf("Destination = %q", r.Destination())
	}
	r.Chat.ThreadID = 0
	if r.Destination() != "-100" {
		t.Fatalf("Destination = %q", r.Destination())
	}
}

func TestReplyOnError(t *testing.T) {
	t.Parallel()
	ad := &transporttest.Adapter{}
	req := &Request{Chat: kit.ChatTarget{ChatID: 9}, Adapter: ad}

	failing := Chain(func(context.Context, *Request) error { return errors.New("registry down") }, MWReplyOnError())
	if err := failing(context.Background(), req); err == nil {
		t.Fatal("error must still propagate")
	}
	slow := Chain(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, MWReplyOnError(), MWTimeout(5*time.Millisecond))
	_ = slow(context.Background(), req)

	sent := ad.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].Text != "Command failed, try again later" || sent[1].Text != "Command timed out, try again later" {
		t.Fatalf("replies = %q, %q", sent[0].Text, sent[1].Text)
	}
	if strings.Contains(sent[0].Text, "registry") {
		t.Fatal("error detail leaked to chat")
	}
}

func TestChatLimiter(t *testing.T) {
	t.Parallel()
	l := newChatLimiter(1, 2)
	now := time.Now()
	if !l.allow(1, now) || !l.allow(1, now) {
		t.Fatal("burst of 2 must pass")
	}
	if l.allow(1, now) {
		t.Fatal("third command in the same instant must be limited")
	}
	if !l.allow(2, now) {
		t.Fatal("other chats have their own bucket")
	}
	if !l.allow(1, now.Add(time.Second)) {
		t.Fatal("bucket must refill")
	}
}

func TestChatLimitReplies(t *testing.T) {
	t.Parallel()
	ad := &transporttest.Adapter{}
	calls := 0
	h := Chain(func(context.Context, *Request) error { calls++; return nil }, MWChatLimit(newChatLimiter(0.001, 1)))
	req := &Request{Chat: kit.ChatTarget{ChatID: 5}, Adapter: ad, Logger: logx.Nop()}
	_ = h(context.Background(), req)
	_ = h(context.Background(), req)
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if s := ad.Sent(); len(s) != 1 || s[0].Text != "Too many commands, slow down" {
		t.Fatalf("sent = %+v", s)
	}
}

func TestCommandsForOtherBotsIgnored(t *testing.T) {
	t.Parallel()
	ad := &transporttest.Adapter{}
	m := New(logx.Nop(), ad, WithWorkers(1), WithBotUsername("@alert_bot"))
	m.SetCommands([]Command{echo("ping")})
	ctx := context.Background()

	m.Route(ctx, msg("/ping@other_bot"))
	m.Route(ctx, msg("/nope@other_bot"))
	if len(m.jobs) != 0 || len(ad.Sent()) != 0 {
		t.Fatalf("jobs=%d sent=%+v, want nothing for another bot", len(m.jobs), ad.Sent())
	}

	m.Route(ctx, msg("/ping@Alert_Bot"))
	if len(m.jobs) != 1 {
		t.Fatalf("jobs = %d, want own command queued", len(m.jobs))
	}
}
