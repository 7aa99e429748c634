package control

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tgalerter/internal/event"
	kit "tgalerter/internal/transport"
	"tgalerter/internal/transport/telegram/router"
)

const (
	ButtonGetChatID   = "Get chatId"
	ButtonSubscribe   = "Subscribe to ACTION events"
	ButtonUnsubscribe = "Unsubscribe from ACTION events"
)

// MenuKeyboard is the reply keyboard shown by /menu.
var MenuKeyboard = [][]string{
	{ButtonGetChatID, ButtonSubscribe},
	{ButtonUnsubscribe},
}

const commandTimeout = 10 * time.Second

// Commands returns the chat commands of the control plane. The router adds /help.
func (s *Service) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "getchatid",
			Triggers:    []string{ButtonGetChatID},
			Description: "show this chat's id",
			Timeout:     commandTimeout,
			Handle:      s.getChatID,
		},
		{
			Name:        "subscribe",
			Description: "subscribe this chat to an event type",
			Usage:       "/subscribe <TYPE>",
			Timeout:     commandTimeout,
			Handle:      s.typeCommand(ActionSubscribe),
		},
		{
			Name:        "unsubscribe",
			Description: "unsubscribe this chat from an event type",
			Usage:       "/unsubscribe <TYPE>",
			Timeout:     commandTimeout,
			Handle:      s.typeCommand(ActionUnsubscribe),
		},
		{
			Name:        "subscribe_action_events",
			Triggers:    []string{ButtonSubscribe},
			Description: "subscribe this chat to ACTION events",
			Timeout:     commandTimeout,
			Handle:      s.fixedCommand(ActionSubscribe, event.TypeAction),
		},
		{
			Name:        "unsubscribe_action_events",
			Triggers:    []string{ButtonUnsubscribe},
			Description: "unsubscribe this chat from ACTION events",
			Timeout:     commandTimeout,
			Handle:      s.fixedCommand(ActionUnsubscribe, event.TypeAction),
		},
		{
			Name:        "subscriptions",
			Description: "list this chat's subscriptions",
			Timeout:     commandTimeout,
			Handle:      s.listSubscriptions,
		},
		{
			Name:        "menu",
			Description: "show the action keyboard",
			Timeout:     commandTimeout,
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, "Choose action:", &kit.SendOptions{ReplyKeyboard: MenuKeyboard})
			},
		},
	}
}

// getChatID answers with the same identity subscriptions are keyed by, so a
// forum topic reports "<chat>:<thread>".
func (s *Service) getChatID(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, "Your Chat ID: "+req.Destination(), nil)
}

func (s *Service) typeCommand(action string) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if len(req.Args) == 0 {
			return req.Reply(ctx, fmt.Sprintf("Usage: /%s <TYPE>\nKnown types: %s", action, knownTypes()), nil)
		}
		t, err := event.ParseType(req.Args[0])
		if err != nil {
			return req.Reply(ctx, "Invalid event type: "+req.Args[0], nil)
		}
		return s.change(ctx, req, action, t)
	}
}

func (s *Service) fixedCommand(action string, t event.Type) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		return s.change(ctx, req, action, t)
	}
}

func (s *Service) change(ctx context.Context, req *router.Request, action string, t event.Type) error {
	c := Change{
		Source:        SourceTelegram,
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		Destination:   req.Destination(),
		Type:          t,
	}
	var err error
	if action == ActionSubscribe {
		err = s.Subscribe(ctx, c)
	} else {
		err = s.Unsubscribe(ctx, c)
	}
	if err != nil {
		return err
	}
	return req.Reply(ctx, confirmation(action, t), nil)
}

func confirmation(action string, t event.Type) string {
	if action == ActionSubscribe {
		return "Subscribed to " + t.String() + " events"
	}
	return "Unsubscribed from " + t.String() + " events"
}

func (s *Service) listSubscriptions(ctx context.Context, req *router.Request) error {
	types := s.Types(req.Destination())
	if len(types) == 0 {
		return req.Reply(ctx, "No subscriptions", nil)
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return req.Reply(ctx, "Subscribed to: "+strings.Join(names, ", "), nil)
}

func knownTypes() string {
	names := make([]string, len(event.Known))
	for i, t := range event.Known {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}
