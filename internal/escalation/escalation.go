// Package escalation reports processing failures to the operator destination.
//
// Escalate is the last line of the pipeline: it never panics and never returns an
// error. If the report itself cannot be delivered the failure is logged locally and
// dropped.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"tgalerter/internal/delivery"
	"tgalerter/internal/event"
	"tgalerter/internal/format"
	"tgalerter/pkg/logx"
)

// Categorizer is implemented by errors that carry a stable, human-readable kind.
type Categorizer interface {
	Category() string
}

// StackTracer is implemented by errors that captured the call stack where they
// were created.
type StackTracer interface {
	StackTrace() []uintptr
}

type Escalator struct {
	mu          sync.RWMutex
	destination string

	sender  delivery.Sender
	log     logx.Logger
	observe func(result string)
}

type Option func(*Escalator)

func WithLogger(l logx.Logger) Option { return func(e *Escalator) { e.log = l } }

// WithObserver reports each escalation result ("sent", "failed", "skipped").
func WithObserver(fn func(result string)) Option { return func(e *Escalator) { e.observe = fn } }

func New(sender delivery.Sender, destination string, opts ...Option) *Escalator {
	e := &Escalator{sender: sender, destination: strings.TrimSpace(destination), log: logx.Nop()}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	e.log = e.log.With(logx.String("comp", "escalation"))
	return e
}

// SetDestination replaces the operator destination; empty disables sending.
func (e *Escalator) SetDestination(dest string) {
	e.mu.Lock()
	e.destination = strings.TrimSpace(dest)
	e.mu.Unlock()
}

func (e *Escalator) Destination() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.destination
}

// SendTimeout bounds one diagnostic send. The send runs detached from the
// caller's cancellation so a failure seen during shutdown is still reported.
const SendTimeout = 10 * time.Second

// Escalate reports err (with the event being processed, which may be nil).
func (e *Escalator) Escalate(ctx context.Context, err error, ev *event.Event) {
	if err == nil {
		return
	}
	result := "failed"
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("escalation panicked", logx.Any("panic", r), logx.Err(err))
		}
		if e.observe != nil {
			e.observe(result)
		}
	}()

	category := Category(err)
	msg := err.Error()
	text := format.Diagnostic(ev, category, msg, Trace(err, format.TraceLines))

	fields := []logx.Field{logx.String("category", category), logx.Err(err)}
	if ev != nil {
		fields = append(fields, logx.Int64("strategy_id", ev.StrategyID), logx.String("type", ev.Type.String()))
	}
	e.log.Warn("escalating event failure", fields...)

	dest := e.Destination()
	if dest == "" || e.sender == nil {
		result = "skipped"
		e.log.Error("no operator destination, escalation dropped", fields...)
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SendTimeout)
	defer cancel()
	if sendErr := e.sender.Send(sctx, text, dest); sendErr != nil {
		e.log.Error("escalation delivery failed",
			logx.String("destination", dest),
			logx.String("category", category),
			logx.String("cause", msg),
			logx.Err(sendErr),
		)
		return
	}
	result = "sent"
}

// Category names err by the first Categorizer in its chain, falling back to the
// type name of the first error that is not a plain wrapper.
func Category(err error) string {
	var c Categorizer
	if errors.As(err, &c) {
		if s := strings.TrimSpace(c.Category()); s != "" {
			return s
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		t := reflect.TypeOf(e)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		switch t.PkgPath() {
		case "fmt", "errors":
			continue
		}
		if t.Name() != "" {
			return t.Name()
		}
	}
	return "Error"
}

// Trace returns up to n lines: "<category>: <message>" followed by stack frames
// from the error chain, or from the caller when no error captured one.
func Trace(err error, n int) []string {
	if n <= 0 {
		return nil
	}
	lines := []string{Category(err) + ": " + firstLine(err.Error())}

	var st StackTracer
	var pcs []uintptr
	if errors.As(err, &st) {
		pcs = st.StackTrace()
	} else {
		pcs = make([]uintptr, 16)
		// skip runtime.Callers, Trace
		pcs = pcs[:runtime.Callers(2, pcs)]
	}
	if len(pcs) == 0 {
		return lines
	}
	frames := runtime.CallersFrames(pcs)
	for len(lines) < n {
		f, more := frames.Next()
		if f.Function != "" {
			lines = append(lines, fmt.Sprintf("at %s (%s:%d)", f.Function, filepath.Base(f.File), f.Line))
		}
		if !more {
			break
		}
	}
	return lines
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
