package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "tgalerter/internal/transport"
)

const (
	chatQueueSize   = 256
	chatLineLimit   = 3500
	chatValueLimit  = 600
	chatSendTimeout = 10 * time.Second
	chatFlushWait   = 2 * time.Second
)

// keys printed first, in this order, when present
var leadingKeys = []string{"comp", "strategy_id", "event_type", "destination"}

// chatSink forwards log lines to the operator log chat. Writes never block:
// lines over the rate limit or beyond the queue are counted and reported
// with the next line that gets through.
type chatSink struct {
	sender kit.Adapter

	mu       sync.Mutex
	target   kit.ChatTarget
	limiter  *rate.Limiter
	minLevel Level

	queue   chan string
	dropped atomic.Uint64

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func newChatSink(sender kit.Adapter) *chatSink {
	return &chatSink{
		sender:   sender,
		limiter:  rate.NewLimiter(1, 1),
		minLevel: LevelWarn,
		queue:    make(chan string, chatQueueSize),
		done:     make(chan struct{}),
	}
}

func (c *chatSink) setTarget(to kit.ChatTarget) {
	c.mu.Lock()
	c.target = to
	c.mu.Unlock()
}

func (c *chatSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.minLevel = parseLevel(cfg.MinLevel, LevelWarn)
	c.limiter.SetLimit(rate.Limit(rps))
	c.limiter.SetBurst(rps)
	c.mu.Unlock()
	if cfg.Enabled && c.sender != nil {
		c.startOnce.Do(func() { go c.run() })
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(LevelInfo, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	to, minLvl, lim := c.target, c.minLevel, c.limiter
	c.mu.Unlock()
	if to.ChatID == 0 || c.sender == nil || level < minLvl {
		return len(p), nil
	}
	if !lim.Allow() {
		c.dropped.Add(1)
		return len(p), nil
	}
	line := chatLine(p)
	if n := c.dropped.Swap(0); n > 0 {
		line += fmt.Sprintf("\n(%d earlier lines suppressed)", n)
	}
	select {
	case c.queue <- line:
	default:
		c.dropped.Add(1)
	}
	return len(p), nil
}

func (c *chatSink) run() {
	for {
		select {
		case <-c.done:
			return
		case line := <-c.queue:
			c.send(line)
		}
	}
}

func (c *chatSink) send(line string) {
	c.mu.Lock()
	to := c.target
	c.mu.Unlock()
	if to.ChatID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), chatSendTimeout)
	defer cancel()
	_, _ = c.sender.SendText(ctx, to, line, &kit.SendOptions{DisablePreview: true})
}

// close stops the worker and sends what is still queued, for at most chatFlushWait.
func (c *chatSink) close(ctx context.Context) {
	c.closeOnce.Do(func() { close(c.done) })
	ctx, cancel := context.WithTimeout(ctx, chatFlushWait)
	defer cancel()
	for {
		select {
		case line := <-c.queue:
			if c.sender != nil {
				c.send(line)
			}
		default:
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// chatLine renders one JSON log line as "[LEVEL] message" followed by
// key=value lines, leading keys first and the rest sorted.
func chatLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return truncate(raw, chatLineLimit)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	skip := map[string]bool{"level": true, zerolog.MessageFieldName: true, zerolog.TimestampFieldName: true, zerolog.CallerFieldName: true}
	for _, k := range leadingKeys {
		if v, ok := m[k]; ok {
			writeKV(&b, k, v)
			skip[k] = true
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		if !skip[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		writeKV(&b, k, m[k])
	}
	return truncate(b.String(), chatLineLimit)
}

func writeKV(b *strings.Builder, k string, v any) {
	b.WriteString("\n")
	b.WriteString(k)
	b.WriteString("=")
	b.WriteString(truncate(fmt.Sprint(v), chatValueLimit))
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
