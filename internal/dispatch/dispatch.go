// Package dispatch turns one strategy event into at most one chat notification.
//
// The pipeline is: resolve the strategy's destination, check the destination's
// subscription for the event type, render the message and hand it to the sender.
// Nothing is retried here; failures surface as *Failure for escalation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"tgalerter/internal/delivery"
	"tgalerter/internal/event"
	"tgalerter/internal/format"
	"tgalerter/internal/resolver"
	"tgalerter/internal/subscription"
	"tgalerter/pkg/logx"
)

type Outcome int

const (
	Delivered Outcome = iota + 1
	Filtered
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Filtered:
		return "filtered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	ReasonTick         = "tick"
	ReasonUnsubscribed = "unsubscribed"

	StageResolve = "resolve"
	StageDeliver = "deliver"
)

// Result describes what happened to one event.
type Result struct {
	Outcome     Outcome
	Destination string
	Reason      string
}

var ErrNilEvent = errors.New("nil event")

// Failure is a dispatch error with the stage it happened in and the call stack at
// the point of failure.
type Failure struct {
	Stage string
	Err   error
	pcs   []uintptr
}

func newFailure(stage string, err error) *Failure {
	pcs := make([]uintptr, 32)
	// skip runtime.Callers, newFailure
	n := runtime.Callers(2, pcs)
	return &Failure{Stage: stage, Err: err, pcs: pcs[:n]}
}

func (f *Failure) Error() string { return fmt.Sprintf("dispatch %s: %v", f.Stage, f.Err) }
func (f *Failure) Unwrap() error { return f.Err }

// StackTrace returns the captured program counters.
func (f *Failure) StackTrace() []uintptr { return f.pcs }

// Dispatcher holds the collaborators; it keeps no per-event state and is safe for
// concurrent use.
type Dispatcher struct {
	resolver resolver.Resolver
	registry subscription.Registry
	sender   delivery.Sender
	log      logx.Logger
}

func New(res resolver.Resolver, reg subscription.Registry, sender delivery.Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		resolver: res,
		registry: reg,
		sender:   sender,
		log:      log.With(logx.String("comp", "dispatch")),
	}
}

// Dispatch runs the pipeline for ev. The returned error is non-nil exactly when the
// outcome is Failed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *event.Event) (Result, error) {
	if ev == nil {
		return Result{Outcome: Failed}, newFailure(StageResolve, ErrNilEvent)
	}
	if ev.IsTick() {
		return Result{Outcome: Filtered, Reason: ReasonTick}, nil
	}

	info, err := d.resolver.Resolve(ctx, ev.StrategyID)
	if err != nil {
		return Result{Outcome: Failed}, newFailure(StageResolve, err)
	}
	dest := info.DestinationID

	if !d.registry.IsSubscribed(dest, ev.Type) {
		d.log.Debug("event filtered",
			logx.String("destination", dest),
			logx.String("type", ev.Type.String()),
			logx.Int64("strategy_id", ev.StrategyID),
		)
		return Result{Outcome: Filtered, Destination: dest, Reason: ReasonUnsubscribed}, nil
	}

	text := format.Event(ev, &info)
	if err := d.sender.Send(ctx, text, dest); err != nil {
		return Result{Outcome: Failed, Destination: dest}, newFailure(StageDeliver, err)
	}
	d.log.Debug("event delivered",
		logx.String("destination", dest),
		logx.String("type", ev.Type.String()),
		logx.Int64("strategy_id", ev.StrategyID),
	)
	return Result{Outcome: Delivered, Destination: dest}, nil
}
