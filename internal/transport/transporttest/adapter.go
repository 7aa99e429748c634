// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"sync"

	kit "tgalerter/internal/transport"
)

// Sent is one recorded SendText call.
type Sent struct {
	To   kit.ChatTarget
	Text string
	Opt  kit.SendOptions
}

// Adapter records sends. Err, when set, fails every send; Block makes SendText
// wait for ctx cancellation.
type Adapter struct {
	mu    sync.Mutex
	sent  []Sent
	Err   error
	Block bool

	out chan<- kit.Update
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	a.out = out
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error { return nil }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if a.Block {
		<-ctx.Done()
		return kit.MessageRef{}, ctx.Err()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return kit.MessageRef{}, a.Err
	}
	s := Sent{To: to, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	a.sent = append(a.sent, s)
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(a.sent)}, nil
}

// Sent returns a copy of the recorded sends.
func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

// Push injects an incoming update as if it came from the chat service.
// It returns false when the adapter was not started.
func (a *Adapter) Push(ctx context.Context, u kit.Update) bool {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return false
	}
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}
