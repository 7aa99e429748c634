package config

// Config is the relay configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"); empty means the component default.
type Config struct {
	// Stage selects the default queue topic "<stage>_alert_event_q".
	Stage string `json:"stage"`

	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Queue        QueueConfig        `json:"queue"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Delivery     DeliveryConfig     `json:"delivery"`

	// Subscriptions pre-subscribes destinations at startup, e.g.
	//
	//	"subscriptions": { "-1001234567890": ["ACTION", "ERROR"] }
	Subscriptions map[string][]string `json:"subscriptions,omitempty"`

	HTTP    *HTTPConfig    `json:"http,omitempty"`
	Report  *ReportConfig  `json:"report,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// ErrorChatID is the operator destination for escalations, "<chat>[:<thread>]".
	ErrorChatID string `json:"error_chat_id"`
	// GroupLog is the destination of the optional Telegram log sink.
	GroupLog string `json:"group_log,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type QueueConfig struct {
	Brokers []string `json:"brokers"`
	GroupID string   `json:"group_id"`
	// Topics defaults to the stage topic when empty.
	Topics   []string `json:"topics,omitempty"`
	MinBytes int      `json:"min_bytes,omitempty"`
	MaxBytes int      `json:"max_bytes,omitempty"`
	MaxWait  string   `json:"max_wait,omitempty"`
}

type OrchestratorConfig struct {
	URL     string `json:"url"`
	Timeout string `json:"timeout,omitempty"`
}

type DeliveryConfig struct {
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// HTTPConfig controls the ops server. Prefer a loopback address or set a token.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token   string `json:"token,omitempty"` // bearer token (do not log)
	Pprof   bool   `json:"pprof,omitempty"` // mount /debug/pprof behind the token
}

type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
	// Destination defaults to telegram.error_chat_id.
	Destination string `json:"destination,omitempty"`
}

// StorageConfig controls the audit log of control-plane actions.
//
//	"storage": { "driver": "sqlite", "path": "./data/alerter.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}
