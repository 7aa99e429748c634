package config

import (
	"reflect"
	"sort"
	"strings"

	"tgalerter/pkg/logx"
)

// SummarizeConfigChange lists the changed sections and safe fields to log.
// Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Stage != newCfg.Stage {
		changed = append(changed, "stage")
		attrs = append(attrs, logx.String("stage", newCfg.Stage))
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.ErrorChatID != nt.ErrorChatID || ot.GroupLog != nt.GroupLog {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.error_chat_id", strings.TrimSpace(nt.ErrorChatID)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout {
		changed = append(changed, "telegram.connection")
		attrs = append(attrs, logx.Bool("telegram.token_changed", ot.Token != nt.Token))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Queue, newCfg.Queue) {
		changed = append(changed, "queue")
		attrs = append(attrs, logx.Int("queue.brokers", len(newCfg.Queue.Brokers)), logx.Any("queue.topics", newCfg.Queue.Topics))
	}
	if oldCfg.Orchestrator != newCfg.Orchestrator {
		changed = append(changed, "orchestrator")
		attrs = append(attrs, logx.String("orchestrator.url", newCfg.Orchestrator.URL))
	}
	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
			logx.String("delivery.timeout", newCfg.Delivery.Timeout),
		)
	}
	if !reflect.DeepEqual(oldCfg.Subscriptions, newCfg.Subscriptions) {
		changed = append(changed, "subscriptions")
		attrs = append(attrs, logx.Int("subscriptions.destinations", len(newCfg.Subscriptions)))
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		if newCfg.HTTP != nil {
			attrs = append(attrs,
				logx.Bool("http.enabled", newCfg.HTTP.Enabled),
				logx.String("http.addr", newCfg.HTTP.Addr),
				logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
				logx.Bool("http.pprof", newCfg.HTTP.Pprof),
			)
		}
	}
	if !reflect.DeepEqual(oldCfg.Report, newCfg.Report) {
		changed = append(changed, "report")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
// Logging, delivery limits and the operator destinations are applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "logging", "delivery", "telegram":
		default:
			out = append(out, s)
		}
	}
	return out
}
