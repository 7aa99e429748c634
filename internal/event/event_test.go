package event

import (
	"testing"
	"time"
)

func TestDecodeFullEvent(t *testing.T) {
	t.Parallel()
	raw := `{"type":"action","strategyId":777,"time":"2024-03-01T10:00:00Z","state":"RUNNING","message":"filled","order":{"id":1,"side":"BUY"}}`
	ev, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if ev.Type != TypeAction {
		t.Fatalf("Type = %q, want %q", ev.Type, TypeAction)
	}
	if ev.StrategyID != 777 {
		t.Fatalf("StrategyID = %d, want 777", ev.StrategyID)
	}
	if ev.Time == nil || !ev.Time.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time: %v", ev.Time)
	}
	if ev.State == nil || *ev.State != "RUNNING" {
		t.Fatalf("unexpected state: %v", ev.State)
	}
	if !ev.HasMessage() {
		t.Fatal("expected message to be present")
	}
	if !ev.HasOrder() {
		t.Fatal("expected order to be present")
	}
}

func TestDecodeTimeVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want *time.Time
	}{
		{name: "null", raw: `{"type":"ACTION","strategyId":1,"time":null}`},
		{name: "missing", raw: `{"type":"ACTION","strategyId":1}`},
		{name: "empty string", raw: `{"type":"ACTION","strategyId":1,"time":""}`},
		{name: "epoch seconds", raw: `{"type":"ACTION","strategyId":1,"time":1700000000}`, want: ptrTime(time.Unix(1700000000, 0))},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if tt.want == nil {
				if ev.Time != nil {
					t.Fatalf("Time = %v, want nil", ev.Time)
				}
				return
			}
			if ev.Time == nil || !ev.Time.Equal(*tt.want) {
				t.Fatalf("Time = %v, want %v", ev.Time, tt.want)
			}
		})
	}
}

func TestDecodeNullAndInvalid(t *testing.T) {
	t.Parallel()
	ev, err := Decode([]byte("null"))
	if err != nil || ev != nil {
		t.Fatalf("Decode(null) = %v, %v; want nil, nil", ev, err)
	}
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for truncated payload")
	}
	if _, err := Decode([]byte(`{"type":"ACTION"} {}`)); err == nil {
		t.Fatal("expected error for trailing data")
	}
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestHasMessageBlank(t *testing.T) {
	t.Parallel()
	blank := "   \n\t"
	if (&Event{Message: &blank}).HasMessage() {
		t.Fatal("blank message must not count as present")
	}
	if (&Event{}).HasMessage() {
		t.Fatal("nil message must not count as present")
	}
	var nilEvent *Event
	if nilEvent.HasMessage() || nilEvent.IsTick() || nilEvent.HasOrder() {
		t.Fatal("nil event helpers must report false")
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()
	got, err := ParseType(" action ")
	if err != nil || got != TypeAction {
		t.Fatalf("ParseType = %q, %v", got, err)
	}
	if _, err := ParseType(""); err == nil {
		t.Fatal("expected error for empty type")
	}
	if _, err := ParseType("ACT ION"); err == nil {
		t.Fatal("expected error for type with space")
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
