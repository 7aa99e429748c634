package app

import (
	"strings"

	"tgalerter/internal/config"
	"tgalerter/internal/delivery"
	"tgalerter/internal/queue"
	"tgalerter/internal/storage"
	kit "tgalerter/internal/transport"
	"tgalerter/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget resolves telegram.group_log; logging.telegram.thread_id overrides
// a thread given in the destination. A zero target disables forwarding.
func logTarget(cfg *config.Config) kit.ChatTarget {
	to, err := delivery.ParseDestination(cfg.Telegram.GroupLog)
	if err != nil {
		return kit.ChatTarget{}
	}
	if cfg.Logging.Telegram.ThreadID > 0 {
		to.ThreadID = cfg.Logging.Telegram.ThreadID
	}
	return to
}

func mapQueueConfig(cfg *config.Config, d config.Durations) queue.Config {
	topics := cfg.Queue.Topics
	if len(topics) == 0 {
		topics = []string{queue.DefaultTopic(cfg.Stage)}
	}
	return queue.Config{
		Brokers:  cfg.Queue.Brokers,
		GroupID:  cfg.Queue.GroupID,
		Topics:   topics,
		MinBytes: cfg.Queue.MinBytes,
		MaxBytes: cfg.Queue.MaxBytes,
		MaxWait:  d.QueueMaxWait,
	}
}

func mapDeliveryConfig(cfg *config.Config, d config.Durations) delivery.Config {
	return delivery.Config{RatePerSec: cfg.Delivery.RatePerSec, Timeout: d.DeliveryTimeout}
}

func mapStorageConfig(cfg *config.Config, d config.Durations) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: d.StorageBusyTimeout,
	}
}

// reportDestination falls back to the escalation chat.
func reportDestination(cfg *config.Config) string {
	if cfg.Report != nil {
		if d := strings.TrimSpace(cfg.Report.Destination); d != "" {
			return d
		}
	}
	return strings.TrimSpace(cfg.Telegram.ErrorChatID)
}
