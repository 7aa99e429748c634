// Package control owns the subscription control plane: the chat commands a
// destination uses to opt in or out of event types, and the Service the ops
// HTTP API shares with them.
package control

import (
	"context"
	"errors"
	"strings"
	"time"

	"tgalerter/internal/event"
	"tgalerter/internal/eventbus"
	"tgalerter/internal/metrics"
	"tgalerter/internal/storage"
	"tgalerter/internal/subscription"
	"tgalerter/pkg/logx"
)

const (
	SourceTelegram = "telegram"
	SourceHTTP     = "http"

	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

var ErrEmptyDestination = errors.New("destination is empty")

// Change is one subscribe or unsubscribe request.
type Change struct {
	Source        string
	ActorID       int64
	ActorUsername string
	Destination   string
	Type          event.Type
}

type Service struct {
	reg   subscription.Registry
	audit storage.Store // nil when storage is disabled
	bus   eventbus.Bus  // optional
	log   logx.Logger
}

func New(reg subscription.Registry, audit storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{reg: reg, audit: audit, bus: bus, log: log.With(logx.String("comp", "control"))}
}

func (s *Service) Subscribe(ctx context.Context, c Change) error {
	return s.apply(ctx, ActionSubscribe, c)
}

func (s *Service) Unsubscribe(ctx context.Context, c Change) error {
	return s.apply(ctx, ActionUnsubscribe, c)
}

// Types returns the destination's subscribed types in sorted order.
func (s *Service) Types(destination string) []event.Type {
	return s.reg.Types(strings.TrimSpace(destination))
}

func (s *Service) apply(ctx context.Context, action string, c Change) error {
	c.Destination = strings.TrimSpace(c.Destination)
	if c.Destination == "" {
		return ErrEmptyDestination
	}
	if c.Type == "" {
		return event.ErrEmptyType
	}

	topic := eventbus.TopicSubscribed
	if action == ActionSubscribe {
		s.reg.Subscribe(c.Destination, c.Type)
	} else {
		s.reg.Unsubscribe(c.Destination, c.Type)
		topic = eventbus.TopicUnsubscribed
	}
	metrics.SetSubscribedDestinations(s.reg.Len())

	s.log.Info("subscription changed",
		logx.String("action", action),
		logx.String("destination", c.Destination),
		logx.String("event_type", c.Type.String()),
		logx.String("source", c.Source),
		logx.Int64("actor_id", c.ActorID),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: topic, Data: eventbus.Subscription{
			Destination: c.Destination,
			EventType:   c.Type.String(),
			Source:      c.Source,
		}})
	}
	s.recordAudit(ctx, action, c)
	return nil
}

// recordAudit never fails the change; the registry is already updated.
func (s *Service) recordAudit(ctx context.Context, action string, c Change) {
	if s.audit == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := s.audit.AppendAudit(actx, storage.AuditEntry{
		At:            time.Now(),
		Source:        c.Source,
		ActorID:       c.ActorID,
		ActorUsername: c.ActorUsername,
		Destination:   c.Destination,
		Action:        action,
		EventType:     c.Type.String(),
	})
	if err != nil {
		s.log.Warn("audit append failed", logx.String("destination", c.Destination), logx.Err(err))
	}
}

// RecentAudit returns the newest audit entries, or nothing when storage is disabled.
func (s *Service) RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.RecentAudit(ctx, limit)
}
