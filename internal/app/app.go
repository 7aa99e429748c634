// Package app wires the relay: queue intake, dispatch, delivery, escalation,
// the chat control plane and the optional ops surfaces, all under one supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tgalerter/internal/config"
	"tgalerter/internal/control"
	"tgalerter/internal/delivery"
	"tgalerter/internal/dispatch"
	"tgalerter/internal/escalation"
	"tgalerter/internal/eventbus"
	"tgalerter/internal/httpapi"
	"tgalerter/internal/intake"
	"tgalerter/internal/metrics"
	"tgalerter/internal/queue"
	"tgalerter/internal/report"
	"tgalerter/internal/resolver"
	"tgalerter/internal/runtime/supervisor"
	"tgalerter/internal/storage"
	"tgalerter/internal/subscription"
	kit "tgalerter/internal/transport"
	telegram "tgalerter/internal/transport/telegram/adapter"
	"tgalerter/internal/transport/telegram/router"
	"tgalerter/pkg/logx"
)

// per-chat control command budget
const (
	commandRatePerSec = 1
	commandBurst      = 5
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	adapter   *telegram.Adapter
	reg       *subscription.Memory
	chat      *delivery.Chat
	escalator *escalation.Escalator
	intake    *intake.Intake
	consumer  *queue.Consumer
	control   *control.Service
	reporter  *report.Reporter
	httpCfg   *httpapi.Config

	topics  []string
	updates chan kit.Update
}

// New loads and validates the config at cfgPath and builds every component.
// Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	durs, err := cfg.Durations()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO")
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: durs.PollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// components tag their own "comp"; only the app's lines carry comp=app
	logs, log := logx.New(mapLogConfig(cfg), ad)
	logs.SetTelegramTarget(logTarget(cfg))

	a := &App{
		cfgm:    cfgm,
		root:    log,
		log:     log.With(logx.String("comp", "app")),
		logs:    logs,
		bus:     eventbus.New(),
		adapter: ad,
		reg:     subscription.NewMemory(),
		updates: make(chan kit.Update, 256),
	}

	if a.store, err = storage.Open(mapStorageConfig(cfg, durs), log); err != nil {
		return nil, err
	}

	if invalid := subscription.Seed(a.reg, cfg.Subscriptions); len(invalid) > 0 {
		a.log.Warn("ignored invalid subscription seeds", logx.Any("entries", invalid))
	}
	metrics.SetSubscribedDestinations(a.reg.Len())

	a.chat = delivery.NewChat(mapDeliveryConfig(cfg, durs), ad, log)
	a.chat.SetObserver(metrics.ObserveDelivery)

	res := resolver.NewHTTP(resolver.Config{
		BaseURL: cfg.Orchestrator.URL,
		Timeout: durs.OrchestratorTimeout,
	}, resolver.WithLogger(log), resolver.WithObserver(metrics.ObserveResolver))

	a.escalator = escalation.New(a.chat, cfg.Telegram.ErrorChatID,
		escalation.WithLogger(log),
		escalation.WithObserver(metrics.ObserveEscalation),
	)
	a.intake = intake.New(dispatch.New(res, a.reg, a.chat, log), a.escalator, a.bus, log)

	qcfg := mapQueueConfig(cfg, durs)
	a.topics = qcfg.Topics
	a.consumer = queue.New(qcfg, a.intake, log)

	a.control = control.New(a.reg, a.store, a.bus, log)

	if rc := cfg.Report; rc != nil && rc.Enabled {
		a.reporter, err = report.New(report.Config{
			Schedule:    rc.Schedule,
			Timezone:    rc.Timezone,
			Destination: reportDestination(cfg),
		}, a.bus, a.reg, a.chat, log)
		if err != nil {
			return nil, err
		}
	}

	if hc := cfg.HTTP; hc != nil && hc.Enabled {
		a.httpCfg = &httpapi.Config{Addr: hc.Addr, Token: hc.Token, Pprof: hc.Pprof}
	}
	return a, nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Ready reports whether polling and every queue consumer are running.
func (a *App) Ready() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if !a.adapter.Running() {
		return errors.New("telegram adapter not running")
	}
	var down []string
	for _, t := range a.topics {
		if !a.sup.Running(queue.TaskName(t)) {
			down = append(down, t)
		}
	}
	if len(down) > 0 {
		return fmt.Errorf("queue consumers not running: %s", strings.Join(down, ","))
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.root.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.root)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return config.Validate(cfg) })

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	rt := router.New(a.root, a.adapter, router.WithSupervisor(a.sup), router.WithChatRate(commandRatePerSec, commandBurst), router.WithBotUsername(a.adapter.Username()))
	rt.SetCommands(a.control.Commands())
	a.sup.Go("router", func(c context.Context) error { return rt.Run(c, a.updates) })

	if err := a.consumer.Start(a.sup); err != nil {
		return err
	}
	if a.reporter != nil {
		a.reporter.Start(a.sup)
	}
	if a.httpCfg != nil {
		mux := httpapi.NewMux(a.control, a.Ready, a.httpCfg.Token, a.root, httpapi.WithProfiler(a.httpCfg.Pprof))
		if err := httpapi.NewServer(*a.httpCfg, mux, a.root).Start(a.sup); err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(applied, next)
				applied = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.notifySystemd()
	a.log.Info("app started", logx.Any("topics", a.topics), logx.Int("subscribed_destinations", a.reg.Len()))
	return nil
}

// applyConfig hot-applies logging, delivery limits and operator destinations.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	durs, err := next.Durations()
	if err != nil {
		a.log.Warn("config durations invalid; keeping previous", logx.Err(err))
		return
	}

	a.logs.SetTelegramTarget(logTarget(next))
	a.logs.Apply(mapLogConfig(next))
	a.chat.Apply(mapDeliveryConfig(next, durs))
	a.escalator.SetDestination(next.Telegram.ErrorChatID)
	if a.reporter != nil {
		a.reporter.SetDestination(reportDestination(next))
	}

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// notifySystemd reports readiness and feeds the watchdog. Outside systemd both
// calls are no-ops.
func (a *App) notifySystemd() {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				// a stuck consumer should let the watchdog restart the unit
				if err := a.Ready(); err != nil {
					a.log.Warn("watchdog ping skipped", logx.Err(err))
					continue
				}
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// step bounds one shutdown stage; it never extends the caller's deadline.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(sctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	// Cancelling the supervisor stops consumers after their current message,
	// then the router, reporter, http server and config watcher.
	step("supervisor", 8*time.Second, a.sup.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Uint64("bus_dropped", a.bus.Dropped()))
	return a.logs.Close()
}
