package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"tgalerter/internal/dispatch"
	"tgalerter/internal/event"
	"tgalerter/internal/eventbus"
	"tgalerter/pkg/logx"
)

type fakeDispatcher struct {
	res   dispatch.Result
	err   error
	panic any
	calls int
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, ev *event.Event) (dispatch.Result, error) {
	f.calls++
	if f.panic != nil {
		panic(f.panic)
	}
	return f.res, f.err
}

type escalation struct {
	err error
	ev  *event.Event
}

type fakeEscalator struct{ got []escalation }

func (f *fakeEscalator) Escalate(ctx context.Context, err error, ev *event.Event) {
	f.got = append(f.got, escalation{err, ev})
}

func recv(t *testing.T, ch <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no bus event published")
	}
	return eventbus.Event{}
}

func TestTickIsDroppedWithoutEscalation(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	esc := &fakeEscalator{}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	out := New(d, esc, bus, logx.Nop()).Handle(context.Background(), &event.Event{Type: event.TypeTick, StrategyID: 4})
	if out != dispatch.Filtered {
		t.Fatalf("outcome = %v", out)
	}
	if d.calls != 0 || len(esc.got) != 0 {
		t.Fatalf("dispatch calls=%d escalations=%d, want 0/0", d.calls, len(esc.got))
	}
	e := recv(t, ch)
	if e.Type != eventbus.TopicFiltered {
		t.Fatalf("topic = %s", e.Type)
	}
	rec := e.Data.(eventbus.Dispatch)
	if rec.CorrelationID == "" || rec.StrategyID != 4 || rec.Reason != dispatch.ReasonTick {
		t.Fatalf("record = %+v", rec)
	}
}

func TestDeliveredNoEscalation(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{res: dispatch.Result{Outcome: dispatch.Delivered, Destination: "9"}}
	esc := &fakeEscalator{}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	out := New(d, esc, bus, logx.Nop()).Handle(context.Background(), &event.Event{Type: event.TypeAction, StrategyID: 1})
	if out != dispatch.Delivered || len(esc.got) != 0 {
		t.Fatalf("outcome=%v escalations=%d", out, len(esc.got))
	}
	if e := recv(t, ch); e.Type != eventbus.TopicDelivered {
		t.Fatalf("topic = %s", e.Type)
	}
}

func TestFailureEscalatedOnce(t *testing.T) {
	t.Parallel()
	cause := errors.New("orchestrator down")
	d := &fakeDispatcher{res: dispatch.Result{Outcome: dispatch.Failed}, err: cause}
	esc := &fakeEscalator{}
	ev := &event.Event{Type: event.TypeAction, StrategyID: 2}

	out := New(d, esc, nil, logx.Nop()).Handle(context.Background(), ev)
	if out != dispatch.Failed {
		t.Fatalf("outcome = %v", out)
	}
	if len(esc.got) != 1 || !errors.Is(esc.got[0].err, cause) || esc.got[0].ev != ev {
		t.Fatalf("escalations = %+v", esc.got)
	}
}

func TestPanicIsContainedAndEscalated(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{panic: "nil map write"}
	esc := &fakeEscalator{}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	out := New(d, esc, bus, logx.Nop()).Handle(context.Background(), &event.Event{Type: event.TypeAction})
	if out != dispatch.Failed {
		t.Fatalf("outcome = %v", out)
	}
	if len(esc.got) != 1 {
		t.Fatalf("escalations = %d, want 1", len(esc.got))
	}
	var pe *PanicError
	if !errors.As(esc.got[0].err, &pe) {
		t.Fatalf("escalated %T, want *PanicError", esc.got[0].err)
	}
	if pe.Category() != "Panic" || len(pe.StackTrace()) == 0 {
		t.Fatalf("panic error = %+v", pe)
	}
	if e := recv(t, ch); e.Type != eventbus.TopicFailed {
		t.Fatalf("topic = %s", e.Type)
	}
}

func TestHandleMessageDecodeFailure(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	esc := &fakeEscalator{}
	out := New(d, esc, nil, logx.Nop()).HandleMessage(context.Background(), []byte(`{"type":`))
	if out != dispatch.Failed {
		t.Fatalf("outcome = %v", out)
	}
	if d.calls != 0 {
		t.Fatal("undecodable payload must not be dispatched")
	}
	if len(esc.got) != 1 || esc.got[0].ev != nil || esc.got[0].err == nil {
		t.Fatalf("escalations = %+v", esc.got)
	}
}

func TestHandleMessageTick(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	esc := &fakeEscalator{}
	out := New(d, esc, nil, logx.Nop()).HandleMessage(context.Background(), []byte(`{"type":"tick","strategyId":1}`))
	if out != dispatch.Filtered || d.calls != 0 || len(esc.got) != 0 {
		t.Fatalf("outcome=%v calls=%d escalations=%d", out, d.calls, len(esc.got))
	}
}
