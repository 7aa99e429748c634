package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tgalerter/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// MWTimeout bounds the handler; d <= 0 means no bound.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// MWReplyOnError tells the sender that the command failed. Timeouts get their
// own text; the error itself is never echoed to the chat.
func MWReplyOnError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil || req == nil || req.Adapter == nil {
				return err
			}
			text := "Command failed, try again later"
			if errors.Is(err, context.DeadlineExceeded) {
				text = "Command timed out, try again later"
			}
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = req.Reply(rctx, text, nil)
			return err
		}
	}
}

// chatLimiter keeps one token bucket per chat for control commands.
type chatLimiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	chats map[int64]*chatBucket
}

type chatBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const (
	chatLimiterSweepAt = 1024
	chatLimiterIdle    = 10 * time.Minute
)

func newChatLimiter(perSec float64, burst int) *chatLimiter {
	return &chatLimiter{limit: rate.Limit(perSec), burst: max(1, burst), chats: map[int64]*chatBucket{}}
}

func (l *chatLimiter) allow(chatID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.chats) >= chatLimiterSweepAt {
		for id, b := range l.chats {
			if now.Sub(b.lastSeen) > chatLimiterIdle {
				delete(l.chats, id)
			}
		}
	}
	b := l.chats[chatID]
	if b == nil {
		b = &chatBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.chats[chatID] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// MWChatLimit drops commands from a chat that exceeds its bucket and replies once per drop.
func MWChatLimit(l *chatLimiter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if l == nil {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			if l.allow(req.Chat.ChatID, time.Now()) {
				return next(ctx, req)
			}
			req.Logger.Debug("command rate limited")
			return req.Reply(ctx, "Too many commands, slow down", nil)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					l := log
					if req != nil && !req.Logger.IsZero() {
						l = req.Logger
					}
					l.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs failures at warn and slow requests at info; the rest go to debug.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			l := log
			if !req.Logger.IsZero() {
				l = req.Logger
			}
			fields := []logx.Field{
				logx.Int64("from_id", req.FromID),
				logx.Int("thread_id", req.Chat.ThreadID),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil:
				l.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				l.Info("request ok", fields...)
			default:
				l.Debug("request ok", fields...)
			}
			return err
		}
	}
}
