// Package subscription tracks which destinations opted in to which event categories.
//
// The contract is opt-in: a destination receives a category only after it subscribed
// to it, and destinations that never subscribed receive nothing. State is in-memory
// and resets on restart.
package subscription

import (
	"sort"
	"strings"
	"sync"

	"tgalerter/internal/delivery"
	"tgalerter/internal/event"
)

// Registry is shared by the dispatcher (reader) and the control plane (writers).
// Implementations must be safe for concurrent use.
type Registry interface {
	Subscribe(destination string, t event.Type)
	Unsubscribe(destination string, t event.Type)
	IsSubscribed(destination string, t event.Type) bool
	// Types returns the destination's subscribed categories, sorted.
	Types(destination string) []event.Type
	// Len returns the number of destinations with at least one subscription.
	Len() int
}

// Memory is the in-memory Registry.
//
// A destination's set is only ever read-modified-written under the write lock, so
// concurrent subscribe/unsubscribe on the same destination cannot lose updates.
// Empty sets are removed, keeping the map bounded by active destinations. Keys
// are canonical destinations, so "-100" and "-100:0" name the same entry.
type Memory struct {
	mu   sync.RWMutex
	byID map[string]map[event.Type]struct{}
}

func NewMemory() *Memory {
	return &Memory{byID: map[string]map[event.Type]struct{}{}}
}

func (m *Memory) Subscribe(destination string, t event.Type) {
	destination = delivery.CanonicalDestination(destination)
	m.mu.Lock()
	set := m.byID[destination]
	if set == nil {
		set = map[event.Type]struct{}{}
		m.byID[destination] = set
	}
	set[t] = struct{}{}
	m.mu.Unlock()
}

func (m *Memory) Unsubscribe(destination string, t event.Type) {
	destination = delivery.CanonicalDestination(destination)
	m.mu.Lock()
	if set, ok := m.byID[destination]; ok {
		delete(set, t)
		if len(set) == 0 {
			delete(m.byID, destination)
		}
	}
	m.mu.Unlock()
}

func (m *Memory) IsSubscribed(destination string, t event.Type) bool {
	destination = delivery.CanonicalDestination(destination)
	m.mu.RLock()
	_, ok := m.byID[destination][t]
	m.mu.RUnlock()
	return ok
}

func (m *Memory) Types(destination string) []event.Type {
	destination = delivery.CanonicalDestination(destination)
	m.mu.RLock()
	set := m.byID[destination]
	out := make([]event.Type, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Memory) Len() int {
	m.mu.RLock()
	n := len(m.byID)
	m.mu.RUnlock()
	return n
}

// Seed subscribes destinations listed in configuration. Invalid category names are
// returned (and skipped) so the caller can log them.
func Seed(r Registry, seed map[string][]string) (invalid []string) {
	for dest, types := range seed {
		dest = strings.TrimSpace(dest)
		if dest == "" {
			continue
		}
		for _, raw := range types {
			t, err := event.ParseType(raw)
			if err != nil {
				invalid = append(invalid, dest+":"+raw)
				continue
			}
			r.Subscribe(dest, t)
		}
	}
	sort.Strings(invalid)
	return invalid
}
