// Package storage keeps the audit trail of control-plane actions (subscribe and
// unsubscribe requests). Subscription state itself is never persisted.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config selects the backend. Driver is "file", "sqlite" or empty/"none" to disable.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// AuditEntry records one control-plane action.
type AuditEntry struct {
	At            time.Time `json:"at"`
	Source        string    `json:"source"` // "telegram" or "http"
	ActorID       int64     `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	Destination   string    `json:"destination"`
	Action        string    `json:"action"`
	EventType     string    `json:"event_type"`
	Error         string    `json:"error,omitempty"`
}

type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}
