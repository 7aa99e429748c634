// Package event defines the strategy lifecycle events read from the queue and
// the strategy metadata the orchestrator returns for them.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// Type is the event category as produced by the strategy runtime.
// Unknown categories are carried through verbatim.
type Type string

const (
	TypeTick   Type = "TICK"
	TypeAction Type = "ACTION"
	TypeStart  Type = "START"
	TypeStop   Type = "STOP"
	TypeError  Type = "ERROR"
	TypeState  Type = "STATE"
)

// Known lists the categories the control plane offers by name.
var Known = []Type{TypeAction, TypeStart, TypeStop, TypeError, TypeState, TypeTick}

var ErrEmptyType = errors.New("event type is empty")

// ParseType normalizes a user or wire supplied category name.
func ParseType(s string) (Type, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", ErrEmptyType
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && r != '_' {
			return "", fmt.Errorf("invalid event type %q", s)
		}
	}
	return Type(s), nil
}

func (t Type) String() string { return string(t) }

// Event is one strategy lifecycle notification. It is never mutated after decoding.
type Event struct {
	Type       Type            `json:"type"`
	StrategyID int64           `json:"strategyId"`
	Time       *time.Time      `json:"time,omitempty"`
	State      *string         `json:"state,omitempty"`
	Message    *string         `json:"message,omitempty"`
	Order      json.RawMessage `json:"order,omitempty"`
}

func (e *Event) IsTick() bool { return e != nil && e.Type == TypeTick }

// HasMessage reports whether the free-text message is present and not blank.
func (e *Event) HasMessage() bool {
	return e != nil && e.Message != nil && strings.TrimSpace(*e.Message) != ""
}

// HasOrder reports whether an order record is attached (JSON null counts as absent).
func (e *Event) HasOrder() bool {
	if e == nil {
		return false
	}
	b := bytes.TrimSpace(e.Order)
	return len(b) > 0 && !bytes.Equal(b, []byte("null"))
}

// UnmarshalJSON accepts "time" as RFC3339 text, epoch seconds or null.
func (e *Event) UnmarshalJSON(b []byte) error {
	type wire struct {
		Type       string          `json:"type"`
		StrategyID int64           `json:"strategyId"`
		Time       json.RawMessage `json:"time"`
		State      *string         `json:"state"`
		Message    *string         `json:"message"`
		Order      json.RawMessage `json:"order"`
	}
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ts, err := parseWireTime(w.Time)
	if err != nil {
		return err
	}
	*e = Event{
		Type:       Type(strings.ToUpper(strings.TrimSpace(w.Type))),
		StrategyID: w.StrategyID,
		Time:       ts,
		State:      w.State,
		Message:    w.Message,
	}
	if o := bytes.TrimSpace(w.Order); len(o) > 0 && !bytes.Equal(o, []byte("null")) {
		e.Order = append(json.RawMessage(nil), o...)
	}
	return nil
}

func parseWireTime(raw json.RawMessage) (*time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("time: %w", err)
		}
		return &t, nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return nil, fmt.Errorf("time: %w", err)
	}
	whole, frac := math.Modf(secs)
	t := time.Unix(int64(whole), int64(frac*1e9))
	return &t, nil
}

// Decode parses a single queue payload. A JSON null payload yields a nil event.
func Decode(payload []byte) (*Event, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, errors.New("empty event payload")
	}
	if bytes.Equal(payload, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	var ev Event
	if err := dec.Decode(&ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("decode event: trailing data")
	}
	return &ev, nil
}

// StrategyInfo is the notification target and display metadata of one strategy.
type StrategyInfo struct {
	DestinationID string  `json:"chatId"`
	Symbol        *string `json:"symbol,omitempty"`
	Timeframe     *string `json:"timeframe,omitempty"`
	Exchange      *string `json:"exchange,omitempty"`
}
