// Package router turns incoming chat messages into command invocations.
//
// A message is routed when it starts with "/<name>" (name or alias, an optional
// "@botname" suffix is ignored) or when its whole text equals one of a command's
// triggers, which is how reply-keyboard buttons reach their handlers. Handlers run
// on a bounded worker pool behind the middleware chain.
package router

import (
	"context"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tgalerter/internal/delivery"
	"tgalerter/internal/runtime/supervisor"
	kit "tgalerter/internal/transport"
	"tgalerter/pkg/logx"

	"github.com/google/uuid"
)

type Command struct {
	Name        string
	Aliases     []string
	Triggers    []string // exact message texts, e.g. keyboard button labels
	Description string
	Usage       string
	Hidden      bool // left out of help and the bot menu
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	ReqID        string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text back to the chat (and thread) the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

// Destination is the chat identity of the request in "<chat>[:<thread>]" form.
func (r *Request) Destination() string { return delivery.FormatDestination(r.Chat) }

type table struct {
	byName   map[string]*Command
	byText   map[string]*Command
	commands []Command
}

type Manager struct {
	log     logx.Logger
	adapter kit.Adapter
	workers int

	mu  sync.RWMutex
	tab table

	jobs     chan func()
	sup      *supervisor.Supervisor
	limiter  *chatLimiter
	username string
}

type Option func(*Manager)

func WithWorkers(n int) Option { return func(m *Manager) { m.workers = n } }

// WithBotUsername lets the router ignore "/cmd@otherbot" in group chats.
func WithBotUsername(name string) Option {
	return func(m *Manager) { m.username = strings.TrimPrefix(strings.TrimSpace(name), "@") }
}

// WithChatRate limits commands per chat; perSec <= 0 disables the limit.
func WithChatRate(perSec float64, burst int) Option {
	return func(m *Manager) {
		if perSec > 0 {
			m.limiter = newChatLimiter(perSec, burst)
		} else {
			m.limiter = nil
		}
	}
}

// WithSupervisor runs side tasks (menu updates) under the app supervisor.
func WithSupervisor(s *supervisor.Supervisor) Option { return func(m *Manager) { m.sup = s } }

func New(log logx.Logger, adapter kit.Adapter, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		jobs:    make(chan func(), 256),
		tab:     table{byName: map[string]*Command{}, byText: map[string]*Command{}},
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	if m.workers <= 0 {
		m.workers = max(2, runtime.NumCPU())
	}
	return m
}

// SetCommands replaces the command table. /help is always added.
func (m *Manager) SetCommands(cmds []Command) {
	cmds = append(append([]Command(nil), cmds...), Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "show available commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.HelpText(), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
		},
	})

	tab := table{byName: map[string]*Command{}, byText: map[string]*Command{}}
	for i := range cmds {
		c := &cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		tab.commands = append(tab.commands, *c)
		if _, dup := tab.byName[name]; !dup {
			tab.byName[name] = c
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" && !strings.Contains(a, " ") {
				if _, dup := tab.byName[a]; !dup {
					tab.byName[a] = c
				}
			}
		}
		for _, t := range c.Triggers {
			if t = strings.TrimSpace(t); t != "" {
				tab.byText[t] = c
			}
		}
	}
	sort.Slice(tab.commands, func(i, j int) bool { return tab.commands[i].Name < tab.commands[j].Name })

	m.mu.Lock()
	m.tab = tab
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := m.menu()
		run := func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
			return nil
		}
		if m.sup != nil {
			m.sup.Go("telegram.menu.update", run)
		} else {
			go func() { _ = run(context.Background()) }()
		}
	}
}

func (m *Manager) menu() []kit.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(m.tab.commands))
	for _, c := range m.tab.commands {
		if c.Hidden {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// Run consumes updates until ctx ends or the channel closes.
func (m *Manager) Run(ctx context.Context, updates <-chan kit.Update) error {
	pool := supervisor.New(ctx, supervisor.WithLogger(m.log))
	for i := 0; i < m.workers; i++ {
		pool.GoRestart("router.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					job()
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command router started", logx.Int("workers", m.workers))

	defer func() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		_ = pool.Stop(wctx)
		cancel()
		m.log.Info("command router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.Route(ctx, up)
		}
	}
}

// Route resolves one update to a command and queues it. Unknown slash commands
// get a hint; plain text that matches no trigger is ignored.
func (m *Manager) Route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	tab := m.tab
	m.mu.RUnlock()

	if cmd, ok := tab.byText[text]; ok {
		m.enqueue(ctx, up, *cmd, nil)
		return
	}
	if !strings.HasPrefix(text, "/") {
		return
	}
	fields := strings.Fields(text)
	word := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		// addressed to another bot in the same group
		if m.username != "" && !strings.EqualFold(word[i+1:], m.username) {
			return
		}
		word = word[:i]
	}
	cmd, ok := tab.byName[word]
	if !ok {
		_, _ = m.adapter.SendText(ctx, to, "Unknown command. Try /help", nil)
		return
	}
	m.enqueue(ctx, up, *cmd, fields[1:])
}

func (m *Manager) enqueue(ctx context.Context, up kit.Update, cmd Command, args []string) {
	msg := up.Message
	rid := uuid.NewString()[:8]
	req := &Request{
		Update:       up,
		Chat:         kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Args:         args,
		ReqID:        rid,
		Adapter:      m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.String("cmd", cmd.Name),
		),
	}
	h := Chain(cmd.Handle,
		MWChatLimit(m.limiter),
		MWRequestLog(m.log),
		MWReplyOnError(),
		MWPanicRecover(m.log),
		MWTimeout(cmd.Timeout),
	)
	select {
	case m.jobs <- func() { _ = h(ctx, req) }:
	default:
		_, _ = m.adapter.SendText(ctx, req.Chat, "Busy, try again", nil)
	}
}
