package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvTelegramToken   = "ALERTER_TELEGRAM_TOKEN"
	EnvErrorChatID     = "ALERTER_ERROR_CHAT_ID"
	EnvKafkaBrokers    = "ALERTER_KAFKA_BROKERS"
	EnvOrchestratorURL = "ALERTER_ORCHESTRATOR_URL"
	EnvStage           = "ALERTER_STAGE"
)

// LoadDotEnv loads .env from the working directory and then from the config
// file's directory. Later files override earlier ones; missing files are ignored.
func LoadDotEnv(configPath string) error {
	paths := []string{".env"}
	if configPath != "" {
		if p := filepath.Join(filepath.Dir(configPath), ".env"); p != ".env" {
			paths = append(paths, p)
		}
	}
	for _, p := range paths {
		if err := godotenv.Overload(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// applyEnv overrides secrets and endpoints from the environment so they can
// stay out of the config file.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvErrorChatID)); v != "" {
		cfg.Telegram.ErrorChatID = v
	}
	if v := strings.TrimSpace(getenv(EnvKafkaBrokers)); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Queue.Brokers = brokers
	}
	if v := strings.TrimSpace(getenv(EnvOrchestratorURL)); v != "" {
		cfg.Orchestrator.URL = v
	}
	if v := strings.TrimSpace(getenv(EnvStage)); v != "" {
		cfg.Stage = v
	}
}
