package subscription

import (
	"strconv"
	"sync"
	"testing"

	"tgalerter/internal/event"
)

func TestUnknownDestinationIsNotSubscribed(t *testing.T) {
	t.Parallel()
	r := NewMemory()
	for _, typ := range event.Known {
		if r.IsSubscribed("never-seen", typ) {
			t.Fatalf("IsSubscribed(never-seen, %s) = true, want false", typ)
		}
	}
	if got := r.Types("never-seen"); len(got) != 0 {
		t.Fatalf("Types = %v, want empty", got)
	}
}

func TestSubscribeThenUnsubscribeRemovesEntry(t *testing.T) {
	t.Parallel()
	r := NewMemory()
	r.Subscribe("666", event.TypeAction)
	if !r.IsSubscribed("666", event.TypeAction) {
		t.Fatal("expected subscription after Subscribe")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}

	r.Unsubscribe("666", event.TypeAction)
	if r.IsSubscribed("666", event.TypeAction) {
		t.Fatal("expected no subscription after Unsubscribe")
	}
	if _, ok := r.byID["666"]; ok {
		t.Fatal("entry must be removed, not merely emptied")
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestSubscribeUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()
	r := NewMemory()
	r.Subscribe("1", event.TypeAction)
	r.Subscribe("1", event.TypeAction)
	r.Subscribe("1", event.TypeStop)
	if got := r.Types("1"); len(got) != 2 {
		t.Fatalf("Types = %v, want 2 entries", got)
	}

	r.Unsubscribe("1", event.TypeAction)
	r.Unsubscribe("1", event.TypeAction)
	if r.IsSubscribed("1", event.TypeAction) {
		t.Fatal("ACTION should be unsubscribed")
	}
	if !r.IsSubscribed("1", event.TypeStop) {
		t.Fatal("STOP should remain subscribed")
	}

	// never-present destination and type are no-ops
	r.Unsubscribe("2", event.TypeAction)
	r.Unsubscribe("1", event.TypeError)
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestTypesSorted(t *testing.T) {
	t.Parallel()
	r := NewMemory()
	r.Subscribe("d", event.TypeStop)
	r.Subscribe("d", event.TypeAction)
	r.Subscribe("d", event.TypeError)
	got := r.Types("d")
	want := []event.Type{event.TypeAction, event.TypeError, event.TypeStop}
	if len(got) != len(want) {
		t.Fatalf("Types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Types = %v, want %v", got, want)
		}
	}
}

func TestConcurrentSameDestination(t *testing.T) {
	t.Parallel()
	r := NewMemory()
	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		typ := event.Type("T" + strconv.Itoa(i))
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Subscribe("shared", typ)
		}()
		go func() {
			defer wg.Done()
			_ = r.IsSubscribed("shared", typ)
		}()
	}
	wg.Wait()
	if got := len(r.Types("shared")); got != n {
		t.Fatalf("lost updates: have %d types, want %d", got, n)
	}

	for i := 0; i < n; i++ {
		typ := event.Type("T" + strconv.Itoa(i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Unsubscribe("shared", typ)
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after concurrent unsubscribe", r.Len())
	}
}

func TestSeed(t *testing.T) {
	t.Parallel()
	r := NewMemory()
	invalid := Seed(r, map[string][]string{
		"100": {"action", "STOP"},
		"200": {"bad type"},
		"  ":  {"ACTION"},
	})
	if !r.IsSubscribed("100", event.TypeAction) || !r.IsSubscribed("100", event.TypeStop) {
		t.Fatal("seeded subscriptions missing")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if len(invalid) != 1 || invalid[0] != "200:bad type" {
		t.Fatalf("invalid = %v", invalid)
	}
}

func TestDestinationSpellingsShareOneEntry(t *testing.T) {
	t.Parallel()
	r := NewMemory()
	r.Subscribe("-100:0", event.TypeAction)
	Seed(r, map[string][]string{" -100 ": {"STOP"}})

	if !r.IsSubscribed("-100", event.TypeAction) || !r.IsSubscribed("-100", event.TypeStop) {
		t.Fatalf("Types(-100) = %v, want ACTION and STOP", r.Types("-100"))
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	r.Unsubscribe("-100", event.TypeAction)
	r.Unsubscribe("-100:0", event.TypeStop)
	if r.Len() != 0 {
		t.Fatalf("Len = %d after unsubscribing every spelling", r.Len())
	}
}
