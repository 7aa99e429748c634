package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"tgalerter/internal/delivery"
	"tgalerter/internal/event"
	"tgalerter/internal/report"
	"tgalerter/pkg/logx"
)

// Validate checks the whole config and returns every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required"))
	}
	if strings.TrimSpace(cfg.Telegram.ErrorChatID) == "" {
		add(errors.New("telegram.error_chat_id is required"))
	} else if _, err := delivery.ParseDestination(cfg.Telegram.ErrorChatID); err != nil {
		add(fmt.Errorf("telegram.error_chat_id: %w", err))
	}
	if gl := strings.TrimSpace(cfg.Telegram.GroupLog); gl != "" {
		if _, err := delivery.ParseDestination(gl); err != nil {
			add(fmt.Errorf("telegram.group_log: %w", err))
		}
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.level: unknown level %q", lv))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when file logging is enabled"))
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.GroupLog) == "" {
		add(errors.New("telegram.group_log is required when telegram logging is enabled"))
	}

	if len(cfg.Queue.Brokers) == 0 {
		add(errors.New("queue.brokers is required"))
	}
	if strings.TrimSpace(cfg.Queue.GroupID) == "" {
		add(errors.New("queue.group_id is required"))
	}
	if cfg.Queue.MinBytes < 0 || cfg.Queue.MaxBytes < 0 || (cfg.Queue.MaxBytes > 0 && cfg.Queue.MinBytes > cfg.Queue.MaxBytes) {
		add(errors.New("queue: min_bytes and max_bytes must be >= 0 and min_bytes <= max_bytes"))
	}
	dur("queue.max_wait", cfg.Queue.MaxWait)

	if raw := strings.TrimSpace(cfg.Orchestrator.URL); raw == "" {
		add(errors.New("orchestrator.url is required"))
	} else if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add(fmt.Errorf("orchestrator.url: invalid http url %q", raw))
	}
	dur("orchestrator.timeout", cfg.Orchestrator.Timeout)

	if cfg.Delivery.RatePerSec < 0 {
		add(errors.New("delivery.rate_per_sec must be >= 0"))
	}
	dur("delivery.timeout", cfg.Delivery.Timeout)

	for dest, types := range cfg.Subscriptions {
		if _, err := delivery.ParseDestination(dest); err != nil {
			add(fmt.Errorf("subscriptions: %w", err))
		}
		for _, t := range types {
			if _, err := event.ParseType(t); err != nil {
				add(fmt.Errorf("subscriptions[%s]: %w", dest, err))
			}
		}
	}

	if h := cfg.HTTP; h != nil && h.Enabled {
		addr := strings.TrimSpace(h.Addr)
		if addr != "" {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				add(fmt.Errorf("http.addr: %w", err))
			} else if !isLoopback(host) && strings.TrimSpace(h.Token) == "" {
				add(errors.New("http.token is required when http.addr is not a loopback address"))
			}
		}
	}

	if r := cfg.Report; r != nil && r.Enabled {
		if err := report.ValidateSchedule(r.Schedule); err != nil {
			add(fmt.Errorf("report.schedule: %w", err))
		}
		if tz := strings.TrimSpace(r.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add(fmt.Errorf("report.timezone: %w", err))
			}
		}
		if d := strings.TrimSpace(r.Destination); d != "" {
			if _, err := delivery.ParseDestination(d); err != nil {
				add(fmt.Errorf("report.destination: %w", err))
			}
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(errors.New("storage.path is required"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	return errors.Join(errs...)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
