// Package report sends a periodic digest of pipeline activity to the operator
// destination. Counts come from the event bus and reset after every report.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tgalerter/internal/eventbus"
	"tgalerter/internal/format"
	"tgalerter/internal/runtime/supervisor"
	"tgalerter/pkg/logx"
)

const Header = "=== Alerter report ==="

type Config struct {
	Schedule    string // cron spec, seconds optional, or a descriptor such as "@every 1h"
	Timezone    string
	Destination string
}

// Sender is the delivery surface used for the digest.
type Sender interface {
	Send(ctx context.Context, text, destination string) error
}

// DestinationCounter reports how many destinations hold a subscription.
type DestinationCounter interface {
	Len() int
}

type Counts struct {
	Delivered    uint64
	Filtered     uint64
	Failed       uint64
	Subscribed   uint64
	Unsubscribed uint64
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec parses as a cron schedule.
func ValidateSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return errors.New("report schedule is empty")
	}
	_, err := parser.Parse(spec)
	return err
}

type Reporter struct {
	cfg    Config
	loc    *time.Location
	sched  cron.Schedule
	bus    eventbus.Bus
	regs   DestinationCounter
	sender Sender
	log    logx.Logger

	mu     sync.Mutex
	counts Counts
	since  time.Time
	dest   string
}

func New(cfg Config, bus eventbus.Bus, regs DestinationCounter, sender Sender, log logx.Logger) (*Reporter, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("report schedule: %w", err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("report timezone: %w", err)
		}
	}
	return &Reporter{
		cfg:    cfg,
		loc:    loc,
		sched:  sched,
		bus:    bus,
		regs:   regs,
		sender: sender,
		log:    log.With(logx.String("comp", "report")),
		since:  time.Now(),
		dest:   strings.TrimSpace(cfg.Destination),
	}, nil
}

// SetDestination retargets the digest; empty disables sending.
func (r *Reporter) SetDestination(dest string) {
	r.mu.Lock()
	r.dest = strings.TrimSpace(dest)
	r.mu.Unlock()
}

func (r *Reporter) Snapshot() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}

func (r *Reporter) observe(e eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch e.Type {
	case eventbus.TopicDelivered:
		r.counts.Delivered++
	case eventbus.TopicFiltered:
		r.counts.Filtered++
	case eventbus.TopicFailed:
		r.counts.Failed++
	case eventbus.TopicSubscribed:
		r.counts.Subscribed++
	case eventbus.TopicUnsubscribed:
		r.counts.Unsubscribed++
	}
}

// Start subscribes to the bus and runs the cron trigger until the supervisor stops.
func (r *Reporter) Start(sup *supervisor.Supervisor) {
	ch, unsub := r.bus.Subscribe(256)
	sup.Go("report.collect", func(ctx context.Context) error {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-ch:
				if !ok {
					return nil
				}
				r.observe(e)
			}
		}
	})

	c := cron.New(cron.WithParser(parser), cron.WithLocation(r.loc))
	c.Schedule(r.sched, cron.FuncJob(func() {
		if err := r.Flush(sup.Context()); err != nil {
			r.log.Warn("report not sent", logx.Err(err))
		}
	}))
	c.Start()
	r.log.Info("report scheduled", logx.String("schedule", r.cfg.Schedule), logx.String("tz", r.loc.String()))

	sup.Go("report.cron", func(ctx context.Context) error {
		<-ctx.Done()
		select {
		case <-c.Stop().Done():
		case <-time.After(5 * time.Second):
		}
		return nil
	})
}

// Flush sends the digest for the period since the previous flush and resets the
// counters. Counts are reset even when the send fails.
func (r *Reporter) Flush(ctx context.Context) error {
	now := time.Now()
	r.mu.Lock()
	counts, since, dest := r.counts, r.since, r.dest
	r.counts = Counts{}
	r.since = now
	r.mu.Unlock()

	if dest == "" {
		return nil
	}
	destinations := 0
	if r.regs != nil {
		destinations = r.regs.Len()
	}
	text := Render(counts, destinations, since.In(r.loc), now.In(r.loc))
	if err := r.sender.Send(ctx, text, dest); err != nil {
		return err
	}
	r.log.Info("report sent",
		logx.String("destination", dest),
		logx.Time("since", since),
		logx.Uint64("delivered", counts.Delivered),
		logx.Uint64("failed", counts.Failed),
	)
	return nil
}

func Render(c Counts, destinations int, since, until time.Time) string {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "Period: %s - %s\n", since.Format(format.TimeLayout), until.Format(format.TimeLayout))
	fmt.Fprintf(&b, "Delivered: %d\n", c.Delivered)
	fmt.Fprintf(&b, "Filtered: %d\n", c.Filtered)
	fmt.Fprintf(&b, "Failed: %d\n", c.Failed)
	fmt.Fprintf(&b, "Subscription changes: +%d / -%d\n", c.Subscribed, c.Unsubscribed)
	fmt.Fprintf(&b, "Subscribed destinations: %d", destinations)
	return b.String()
}
