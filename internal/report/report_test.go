package report

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tgalerter/internal/eventbus"
	"tgalerter/internal/runtime/supervisor"
	"tgalerter/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	dests []string
	err   error
}

func (f *fakeSender) Send(ctx context.Context, text, destination string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.dests = append(f.dests, destination)
	return f.err
}

type fixedLen int

func (n fixedLen) Len() int { return int(n) }

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"0 9 * * *", "*/30 * * * * *", "@every 1h", "@daily"} {
		if err := ValidateSchedule(ok); err != nil {
			t.Fatalf("ValidateSchedule(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "every hour", "61 * * * *"} {
		if err := ValidateSchedule(bad); err == nil {
			t.Fatalf("ValidateSchedule(%q) should fail", bad)
		}
	}
}

func TestNewRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Schedule: "@daily", Timezone: "Mars/Olympus"}, eventbus.New(), nil, &fakeSender{}, logx.Nop()); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	since := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	got := Render(Counts{Delivered: 5, Filtered: 2, Failed: 1, Subscribed: 3}, 4, since, since.Add(time.Hour))
	want := "=== Alerter report ===\n" +
		"Period: 2024-03-01 09:00:00 - 2024-03-01 10:00:00\n" +
		"Delivered: 5\n" +
		"Filtered: 2\n" +
		"Failed: 1\n" +
		"Subscription changes: +3 / -0\n" +
		"Subscribed destinations: 4"
	if got != want {
		t.Fatalf("Render =\n%s\nwant\n%s", got, want)
	}
}

func TestCollectAndFlush(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	snd := &fakeSender{}
	r, err := New(Config{Schedule: "@every 1h", Timezone: "UTC", Destination: "-500"}, bus, fixedLen(2), snd, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sup := supervisor.New(context.Background())
	r.Start(sup)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	}()

	for _, topic := range []string{eventbus.TopicDelivered, eventbus.TopicDelivered, eventbus.TopicFailed, eventbus.TopicUnsubscribed} {
		bus.Publish(eventbus.Event{Type: topic})
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.Snapshot().Delivered != 2 || r.Snapshot().Unsubscribed != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("counts = %+v", r.Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(snd.texts) != 1 || snd.dests[0] != "-500" {
		t.Fatalf("sends = %v to %v", snd.texts, snd.dests)
	}
	text := snd.texts[0]
	for _, want := range []string{Header, "Delivered: 2", "Failed: 1", "+0 / -1", "Subscribed destinations: 2"} {
		if !strings.Contains(text, want) {
			t.Fatalf("report missing %q:\n%s", want, text)
		}
	}
	if got := r.Snapshot(); got != (Counts{}) {
		t.Fatalf("counts not reset: %+v", got)
	}
}

func TestFlushResetsOnFailureAndSkipsWithoutDestination(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{err: errors.New("chat unreachable")}
	r, err := New(Config{Schedule: "@daily", Destination: "1"}, eventbus.New(), nil, snd, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.observe(eventbus.Event{Type: eventbus.TopicFiltered})
	if err := r.Flush(context.Background()); err == nil {
		t.Fatal("expected send error")
	}
	if r.Snapshot().Filtered != 0 {
		t.Fatal("counts must reset after a failed send")
	}

	r.SetDestination("")
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush without destination = %v", err)
	}
	if len(snd.texts) != 1 {
		t.Fatalf("sends = %d, want 1", len(snd.texts))
	}
}

func TestFlushLogsReportedPeriod(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	r, err := New(Config{Schedule: "@daily", Destination: "-500"}, eventbus.New(), nil, &fakeSender{}, logx.NewWriter(&out, "info"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.observe(eventbus.Event{Type: eventbus.TopicDelivered})
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	line := out.String()
	for _, want := range []string{`"message":"report sent"`, `"since":"`, `"delivered":1`, `"destination":"-500"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log missing %s: %s", want, line)
		}
	}
}
