// Package format renders events into the plain-text bodies sent to chat destinations.
// All functions are pure and deterministic for a given input and local time zone.
package format

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"tgalerter/internal/event"
)

const (
	// TimeLayout renders timestamps at second precision in the local zone.
	TimeLayout = "2006-01-02 15:04:05"

	eventHeader      = "=== Strategy Event ==="
	diagnosticHeader = "=== Error processing event ==="
	nullEvent        = "Null event received"

	// TraceLines bounds the stack excerpt in diagnostics.
	TraceLines = 5
)

// Time formats t in the local zone, or "null" when absent.
func Time(t *time.Time) string {
	if t == nil {
		return "null"
	}
	return t.In(time.Local).Format(TimeLayout)
}

// Event builds the notification body for a subscribed destination.
func Event(ev *event.Event, info *event.StrategyInfo) string {
	if ev == nil {
		return nullEvent
	}
	var b strings.Builder
	b.WriteString(eventHeader)
	b.WriteByte('\n')
	writeFields(&b, ev)
	if info != nil {
		line(&b, "Symbol", info.Symbol)
		line(&b, "Timeframe", info.Timeframe)
		line(&b, "Exchange", info.Exchange)
	}
	if ev.HasMessage() {
		b.WriteString("\nMessage:\n")
		b.WriteString(*ev.Message)
		b.WriteByte('\n')
	}
	if ev.HasOrder() {
		b.WriteString("\nOrder Details:\n")
		b.WriteString(Order(ev.Order))
	}
	return b.String()
}

// Diagnostic builds the operator message for a failed event.
func Diagnostic(ev *event.Event, category, message string, trace []string) string {
	var b strings.Builder
	b.WriteString(diagnosticHeader)
	b.WriteByte('\n')
	if ev == nil {
		b.WriteString("Event: null\n")
	} else {
		writeFields(&b, ev)
		if ev.HasMessage() {
			b.WriteString("\nEvent Message:\n")
			b.WriteString(*ev.Message)
			b.WriteByte('\n')
		}
		if ev.HasOrder() {
			b.WriteString("\nOrder Details:\n")
			b.WriteString(Order(ev.Order))
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nError:\n")
	b.WriteString("Type: ")
	b.WriteString(category)
	b.WriteString("\nMessage: ")
	b.WriteString(message)
	b.WriteByte('\n')

	if len(trace) > TraceLines {
		trace = trace[:TraceLines]
	}
	b.WriteString("\nStacktrace (first 5 lines):\n")
	b.WriteString(strings.Join(trace, "\n"))
	return b.String()
}

// Order pretty-prints the order record with two-space indentation.
// Payloads that are not valid JSON are returned verbatim.
func Order(raw json.RawMessage) string {
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(raw), "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}

func writeFields(b *strings.Builder, ev *event.Event) {
	if ev.Type != "" {
		b.WriteString("Type: ")
		b.WriteString(string(ev.Type))
		b.WriteByte('\n')
	}
	b.WriteString("Strategy ID: ")
	b.WriteString(strconv.FormatInt(ev.StrategyID, 10))
	b.WriteByte('\n')
	// Time is always rendered, "null" when absent.
	b.WriteString("Time: ")
	b.WriteString(Time(ev.Time))
	b.WriteByte('\n')
	line(b, "State", ev.State)
}

func line(b *strings.Builder, label string, v *string) {
	if v == nil {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(*v)
	b.WriteByte('\n')
}
