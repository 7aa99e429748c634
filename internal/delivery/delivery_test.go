package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	kit "tgalerter/internal/transport"
	"tgalerter/internal/transport/transporttest"
	"tgalerter/pkg/logx"
)

func TestSendDelivers(t *testing.T) {
	t.Parallel()
	ad := &transporttest.Adapter{}
	c := NewChat(Config{}, ad, logx.Nop())
	var results []string
	c.SetObserver(func(r string) { results = append(results, r) })

	if err := c.Send(context.Background(), "hello", "-100123:7"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	sent := ad.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].To != (kit.ChatTarget{ChatID: -100123, ThreadID: 7}) {
		t.Fatalf("target = %+v", sent[0].To)
	}
	if sent[0].Text != "hello" || !sent[0].Opt.DisablePreview {
		t.Fatalf("unexpected send %+v", sent[0])
	}
	if len(results) != 1 || results[0] != "ok" {
		t.Fatalf("observer = %v", results)
	}
}

func TestSendFailuresAreDeliveryErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("telegram: chat not found")
	tests := []struct {
		name  string
		ad    kit.Adapter
		text  string
		dest  string
		cause error
	}{
		{name: "adapter error", ad: &transporttest.Adapter{Err: boom}, text: "x", dest: "1", cause: boom},
		{name: "no adapter", ad: nil, text: "x", dest: "1", cause: ErrNoAdapter},
		{name: "empty text", ad: &transporttest.Adapter{}, text: "  ", dest: "1", cause: ErrEmptyText},
		{name: "bad destination", ad: &transporttest.Adapter{}, text: "x", dest: "abc", cause: ErrInvalidDestination},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := NewChat(Config{}, tt.ad, logx.Nop()).Send(context.Background(), tt.text, tt.dest)
			var de *DeliveryError
			if !errors.As(err, &de) {
				t.Fatalf("err %T (%v) is not *DeliveryError", err, err)
			}
			if de.Destination != tt.dest || de.Category() != Category {
				t.Fatalf("unexpected error fields: %+v", de)
			}
			if !errors.Is(err, tt.cause) {
				t.Fatalf("err = %v, want cause %v", err, tt.cause)
			}
		})
	}
}

func TestSendTimeout(t *testing.T) {
	t.Parallel()
	c := NewChat(Config{Timeout: 30 * time.Millisecond}, &transporttest.Adapter{Block: true}, logx.Nop())
	start := time.Now()
	err := c.Send(context.Background(), "x", "1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("send was not bounded by timeout")
	}
}

func TestParseDestination(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want kit.ChatTarget
		ok   bool
	}{
		{in: "12345", want: kit.ChatTarget{ChatID: 12345}, ok: true},
		{in: " -100987 ", want: kit.ChatTarget{ChatID: -100987}, ok: true},
		{in: "-100987:42", want: kit.ChatTarget{ChatID: -100987, ThreadID: 42}, ok: true},
		{in: "", ok: false},
		{in: "0", ok: false},
		{in: "chat", ok: false},
		{in: "1:x", ok: false},
	}
	for _, tt := range tests {
		got, err := ParseDestination(tt.in)
		if tt.ok != (err == nil) {
			t.Fatalf("ParseDestination(%q) err = %v", tt.in, err)
		}
		if tt.ok && got != tt.want {
			t.Fatalf("ParseDestination(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	if s := FormatDestination(kit.ChatTarget{ChatID: -5, ThreadID: 3}); s != "-5:3" {
		t.Fatalf("FormatDestination = %q", s)
	}
}

func TestCanonicalDestination(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"-100":       "-100",
		" -100 ":     "-100",
		"-100:0":     "-100",
		"-100:7":     "-100:7",
		"+42":        "42",
		" ops-room ": "ops-room",
	}
	for in, want := range tests {
		if got := CanonicalDestination(in); got != want {
			t.Fatalf("CanonicalDestination(%q) = %q, want %q", in, got, want)
		}
	}
}
