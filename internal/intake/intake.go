// Package intake is the entry point of the pipeline for queue payloads.
//
// Every event handled here ends in exactly one of: dropped (TICK), dispatched, or
// escalated. Nothing propagates back to the consumer, so the queue position always
// advances.
package intake

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"tgalerter/internal/dispatch"
	"tgalerter/internal/event"
	"tgalerter/internal/eventbus"
	"tgalerter/internal/metrics"
	"tgalerter/pkg/logx"

	"github.com/google/uuid"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, ev *event.Event) (dispatch.Result, error)
}

type Escalator interface {
	Escalate(ctx context.Context, err error, ev *event.Event)
}

// PanicError is a recovered panic raised while dispatching.
type PanicError struct {
	Value any
	pcs   []uintptr
}

func (p *PanicError) Error() string         { return fmt.Sprintf("panic: %v", p.Value) }
func (p *PanicError) Category() string      { return "Panic" }
func (p *PanicError) StackTrace() []uintptr { return p.pcs }

// Unwrap exposes the panic value when it is an error.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

type Intake struct {
	dispatcher Dispatcher
	escalator  Escalator
	bus        eventbus.Bus
	log        logx.Logger
}

func New(d Dispatcher, esc Escalator, bus eventbus.Bus, log logx.Logger) *Intake {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Intake{
		dispatcher: d,
		escalator:  esc,
		bus:        bus,
		log:        log.With(logx.String("comp", "intake")),
	}
}

// HandleMessage decodes one queue payload and handles it. Undecodable payloads
// are escalated without an event.
func (in *Intake) HandleMessage(ctx context.Context, payload []byte) dispatch.Outcome {
	ev, err := event.Decode(payload)
	if err != nil {
		start := time.Now()
		id := uuid.NewString()
		in.log.Warn("undecodable event payload", logx.String("correlation_id", id), logx.Err(err))
		in.escalator.Escalate(ctx, err, nil)
		in.finish(id, nil, dispatch.Result{Outcome: dispatch.Failed, Reason: "decode"}, start)
		return dispatch.Failed
	}
	return in.Handle(ctx, ev)
}

// Handle processes one decoded event and reports the outcome.
func (in *Intake) Handle(ctx context.Context, ev *event.Event) dispatch.Outcome {
	start := time.Now()
	id := uuid.NewString()

	if ev.IsTick() {
		in.log.Trace("tick dropped", logx.Int64("strategy_id", ev.StrategyID))
		in.finish(id, ev, dispatch.Result{Outcome: dispatch.Filtered, Reason: dispatch.ReasonTick}, start)
		return dispatch.Filtered
	}

	res, err := in.dispatch(ctx, ev)
	if err != nil {
		res.Outcome = dispatch.Failed
		if res.Reason == "" {
			res.Reason = err.Error()
		}
		in.escalator.Escalate(ctx, err, ev)
	}
	in.finish(id, ev, res, start)
	return res.Outcome
}

// dispatch converts panics from the pipeline into errors.
func (in *Intake) dispatch(ctx context.Context, ev *event.Event) (res dispatch.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			pcs := make([]uintptr, 32)
			// skip runtime.Callers and this closure
			n := runtime.Callers(2, pcs)
			res = dispatch.Result{Outcome: dispatch.Failed}
			err = &PanicError{Value: r, pcs: pcs[:n]}
		}
	}()
	return in.dispatcher.Dispatch(ctx, ev)
}

func (in *Intake) finish(id string, ev *event.Event, res dispatch.Result, start time.Time) {
	took := time.Since(start)
	metrics.ObserveDispatch(res.Outcome.String(), took)

	rec := eventbus.Dispatch{
		CorrelationID: id,
		Destination:   res.Destination,
		Reason:        res.Reason,
		Duration:      took,
	}
	if ev != nil {
		rec.StrategyID = ev.StrategyID
		rec.EventType = ev.Type.String()
	}
	if in.log.Enabled(logx.LevelDebug) {
		in.log.Debug("event handled",
			logx.String("correlation_id", id),
			logx.String("outcome", res.Outcome.String()),
			logx.Int64("strategy_id", rec.StrategyID),
			logx.String("type", rec.EventType),
			logx.Duration("took", took),
		)
	}
	if in.bus == nil {
		return
	}
	topic := eventbus.TopicDelivered
	switch res.Outcome {
	case dispatch.Filtered:
		topic = eventbus.TopicFiltered
	case dispatch.Failed:
		topic = eventbus.TopicFailed
	}
	in.bus.Publish(eventbus.Event{Type: topic, Data: rec})
}
