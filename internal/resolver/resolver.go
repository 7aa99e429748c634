// Package resolver looks up the notification target and display metadata of a strategy
// from the trade orchestrator.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tgalerter/internal/delivery"
	"tgalerter/internal/event"
	"tgalerter/pkg/logx"
)

var (
	ErrNotFound    = errors.New("strategy not found")
	ErrUnavailable = errors.New("orchestrator unavailable")
)

const (
	CategoryNotFound    = "StrategyNotFound"
	CategoryUnavailable = "OrchestratorUnavailable"

	DefaultTimeout = 5 * time.Second

	bodyExcerpt = 2048
	chatPath    = "/inner/strategy/%d/chat"
)

// Error carries the failed lookup. Err is ErrNotFound or ErrUnavailable, possibly
// wrapping the transport cause.
type Error struct {
	StrategyID int64
	Status     int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "resolve strategy %d: %v", e.StrategyID, e.Err)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Category() string {
	if errors.Is(e.Err, ErrNotFound) {
		return CategoryNotFound
	}
	return CategoryUnavailable
}

// Resolver is the metadata lookup capability used by the dispatcher.
type Resolver interface {
	Resolve(ctx context.Context, strategyID int64) (event.StrategyInfo, error)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// HTTP resolves strategies over the orchestrator's internal REST API.
// Each call is a single bounded attempt; retries belong to the caller.
type HTTP struct {
	baseURL string
	client  *http.Client
	log     logx.Logger
	observe func(result string)
}

type Option func(*HTTP)

func WithHTTPClient(c *http.Client) Option { return func(h *HTTP) { h.client = c } }
func WithLogger(l logx.Logger) Option      { return func(h *HTTP) { h.log = l } }

// WithObserver reports each lookup result ("ok", "not_found", "unavailable").
func WithObserver(fn func(result string)) Option { return func(h *HTTP) { h.observe = fn } }

func NewHTTP(cfg Config, opts ...Option) *HTTP {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	h := &HTTP{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		log:     logx.Nop(),
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	if h.client == nil {
		h.client = &http.Client{Timeout: timeout}
	} else {
		h.client.Timeout = timeout
	}
	h.log = h.log.With(logx.String("comp", "resolver"))
	return h
}

type chatResponse struct {
	ChatID    json.RawMessage `json:"chatId"`
	Symbol    *string         `json:"symbol"`
	Timeframe *string         `json:"timeframe"`
	Exchange  *string         `json:"exchange"`
}

func (h *HTTP) Resolve(ctx context.Context, strategyID int64) (event.StrategyInfo, error) {
	info, err := h.resolve(ctx, strategyID)
	if h.observe != nil {
		switch {
		case err == nil:
			h.observe("ok")
		case errors.Is(err, ErrNotFound):
			h.observe("not_found")
		default:
			h.observe("unavailable")
		}
	}
	return info, err
}

func (h *HTTP) resolve(ctx context.Context, strategyID int64) (event.StrategyInfo, error) {
	url := h.baseURL + fmt.Sprintf(chatPath, strategyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return event.StrategyInfo{}, &Error{StrategyID: strategyID, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	req.Header.Set("Accept", "application/json")

	h.log.Debug("resolve start", logx.Int64("strategy_id", strategyID))
	res, err := h.client.Do(req)
	if err != nil {
		return event.StrategyInfo{}, &Error{StrategyID: strategyID, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, bodyExcerpt))
		sentinel := ErrUnavailable
		if res.StatusCode == http.StatusNotFound {
			sentinel = ErrNotFound
		}
		h.log.Debug("resolve failed",
			logx.Int64("strategy_id", strategyID),
			logx.Int("status", res.StatusCode),
		)
		return event.StrategyInfo{}, &Error{
			StrategyID: strategyID,
			Status:     res.StatusCode,
			Detail:     strings.TrimSpace(string(body)),
			Err:        sentinel,
		}
	}

	var body chatResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return event.StrategyInfo{}, &Error{
			StrategyID: strategyID,
			Status:     res.StatusCode,
			Err:        fmt.Errorf("%w: decode response: %v", ErrUnavailable, err),
		}
	}
	dest, err := chatID(body.ChatID)
	if err != nil {
		return event.StrategyInfo{}, &Error{StrategyID: strategyID, Status: res.StatusCode, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	if dest == "" {
		return event.StrategyInfo{}, &Error{StrategyID: strategyID, Status: res.StatusCode, Detail: "empty chatId", Err: ErrNotFound}
	}
	return event.StrategyInfo{
		DestinationID: delivery.CanonicalDestination(dest),
		Symbol:        body.Symbol,
		Timeframe:     body.Timeframe,
		Exchange:      body.Exchange,
	}, nil
}

// chatID accepts the destination as a JSON string or number.
func chatID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("chatId: %w", err)
		}
		return strings.TrimSpace(s), nil
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return "", fmt.Errorf("chatId: %w", err)
	}
	return strconv.FormatInt(n, 10), nil
}
