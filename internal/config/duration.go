package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// Durations holds the parsed duration fields; zero means "component default".
type Durations struct {
	PollTimeout         time.Duration
	QueueMaxWait        time.Duration
	OrchestratorTimeout time.Duration
	DeliveryTimeout     time.Duration
	StorageBusyTimeout  time.Duration
}

func (c *Config) Durations() (Durations, error) {
	var (
		d    Durations
		errs []error
	)
	parse := func(dst *time.Duration, path, raw string) {
		v, err := ParseDurationField(path, raw)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	parse(&d.PollTimeout, "telegram.poll_timeout", c.Telegram.PollTimeout)
	parse(&d.QueueMaxWait, "queue.max_wait", c.Queue.MaxWait)
	parse(&d.OrchestratorTimeout, "orchestrator.timeout", c.Orchestrator.Timeout)
	parse(&d.DeliveryTimeout, "delivery.timeout", c.Delivery.Timeout)
	if c.Storage != nil {
		parse(&d.StorageBusyTimeout, "storage.busy_timeout", c.Storage.BusyTimeout)
	}
	return d, errors.Join(errs...)
}
