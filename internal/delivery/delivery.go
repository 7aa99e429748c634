// Package delivery sends rendered notifications to chat destinations.
//
// The Chat sender throttles with a token bucket and bounds every call with a
// timeout. It makes exactly one attempt per message; failures are reported as
// *DeliveryError and retry policy is left to the caller.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	kit "tgalerter/internal/transport"
	"tgalerter/pkg/logx"

	"golang.org/x/time/rate"
)

const (
	Category = "DeliveryError"

	DefaultRatePerSec = 20
	DefaultTimeout    = 10 * time.Second
)

var (
	ErrNoAdapter          = errors.New("no chat adapter")
	ErrEmptyText          = errors.New("empty message text")
	ErrInvalidDestination = errors.New("invalid destination")
)

// DeliveryError wraps any failure to hand a message to the chat service.
type DeliveryError struct {
	Destination string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Destination, e.Err)
}

func (e *DeliveryError) Unwrap() error    { return e.Err }
func (e *DeliveryError) Category() string { return Category }

// Sender is the delivery capability.
type Sender interface {
	Send(ctx context.Context, text, destination string) error
}

type Config struct {
	RatePerSec int
	Timeout    time.Duration
}

func (c Config) normalize() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Chat delivers through a transport adapter.
type Chat struct {
	mu      sync.Mutex
	adapter kit.Adapter
	cfg     Config
	limiter *rate.Limiter
	log     logx.Logger
	observe func(result string)
}

func NewChat(cfg Config, adapter kit.Adapter, log logx.Logger) *Chat {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Chat{adapter: adapter, log: log.With(logx.String("comp", "delivery"))}
	c.applyLocked(cfg)
	return c
}

// SetObserver reports each send result ("ok" or "error").
func (c *Chat) SetObserver(fn func(result string)) {
	c.mu.Lock()
	c.observe = fn
	c.mu.Unlock()
}

// Apply swaps the rate limit and timeout; in-flight sends keep their snapshot.
func (c *Chat) Apply(cfg Config) {
	c.mu.Lock()
	c.applyLocked(cfg)
	c.mu.Unlock()
}

func (c *Chat) applyLocked(cfg Config) {
	cfg = cfg.normalize()
	c.cfg = cfg
	// burst = rate so short spikes pass without waiting
	c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (c *Chat) Send(ctx context.Context, text, destination string) error {
	err := c.send(ctx, text, destination)
	c.mu.Lock()
	obs := c.observe
	c.mu.Unlock()
	if obs != nil {
		if err != nil {
			obs("error")
		} else {
			obs("ok")
		}
	}
	return err
}

func (c *Chat) send(ctx context.Context, text, destination string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	cfg := c.cfg
	lim := c.limiter
	ad := c.adapter
	c.mu.Unlock()

	fail := func(err error) error { return &DeliveryError{Destination: destination, Err: err} }

	if ad == nil {
		return fail(ErrNoAdapter)
	}
	if strings.TrimSpace(text) == "" {
		return fail(ErrEmptyText)
	}
	to, err := ParseDestination(destination)
	if err != nil {
		return fail(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := lim.Wait(callCtx); err != nil {
		return fail(fmt.Errorf("rate limit: %w", err))
	}
	if _, err := ad.SendText(callCtx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		c.log.Debug("send failed", logx.String("destination", destination), logx.Err(err))
		return fail(err)
	}
	return nil
}

// ParseDestination maps "<chatID>" or "<chatID>:<threadID>" to a chat target.
func ParseDestination(s string) (kit.ChatTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return kit.ChatTarget{}, fmt.Errorf("%w: empty", ErrInvalidDestination)
	}
	chatPart, threadPart, hasThread := strings.Cut(s, ":")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil || chatID == 0 {
		return kit.ChatTarget{}, fmt.Errorf("%w: %q", ErrInvalidDestination, s)
	}
	to := kit.ChatTarget{ChatID: chatID}
	if hasThread {
		th, err := strconv.Atoi(threadPart)
		if err != nil || th < 0 {
			return kit.ChatTarget{}, fmt.Errorf("%w: thread in %q", ErrInvalidDestination, s)
		}
		to.ThreadID = th
	}
	return to, nil
}

// CanonicalDestination is the single spelling of a destination used as a
// subscription key: "-100:0" and " -100 " both become "-100". Strings that do
// not parse as a chat destination are only trimmed.
func CanonicalDestination(s string) string {
	to, err := ParseDestination(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return FormatDestination(to)
}

// FormatDestination is the inverse of ParseDestination.
func FormatDestination(to kit.ChatTarget) string {
	s := strconv.FormatInt(to.ChatID, 10)
	if to.ThreadID > 0 {
		s += ":" + strconv.Itoa(to.ThreadID)
	}
	return s
}
