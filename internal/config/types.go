package config

// Config is the whole inviter configuration.
//
// It is read from an optional JSON/YAML file and then overridden by
// environment variables (the env tags), so a bare .env file is enough to run.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Invite   InviteConfig   `json:"invite"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
	Bot      BotConfig      `json:"bot"`
	Notifier NotifierConfig `json:"notifier"`
	Report   ReportConfig   `json:"report"`
	Ops      OpsConfig      `json:"ops"`
}

// TelegramConfig is the MTProto user account that sends the invites.
type TelegramConfig struct {
	APIID      int    `json:"api_id" env:"API_ID"`
	APIHash    string `json:"api_hash" env:"API_HASH"`
	Phone      string `json:"phone" env:"PHONE"`
	Password   string `json:"password,omitempty" env:"PASSWORD"`
	Session    string `json:"session" env:"SESSION_NAME"`
	SessionDir string `json:"session_dir" env:"SESSION_DIR"`
}

type InviteConfig struct {
	TargetChat string `json:"target_chat" env:"INVITE_TARGET_CHAT"`
	PerHour    int    `json:"per_hour" env:"INVITES_PER_HOUR"`
	// WindowStart and WindowEnd are clock hours; the window is [start, end).
	WindowStart      int    `json:"window_start" env:"INVITE_WINDOW_START"`
	WindowEnd        int    `json:"window_end" env:"INVITE_WINDOW_END"`
	Timezone         string `json:"timezone" env:"INVITE_TIMEZONE"`
	ImmediateOnStart bool   `json:"immediate_on_start" env:"INVITE_IMMEDIATE_ON_START"`
	// IdleWait is a Go duration string; the pause when no candidate is left.
	IdleWait string `json:"idle_wait,omitempty" env:"INVITE_IDLE_WAIT"`
}

// StorageConfig selects the ledger database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/inviter.db" }
//
// When driver is empty it is "postgres" if DATABASE_URL or POSTGRES_HOST is
// set and "sqlite" otherwise.
type StorageConfig struct {
	Driver      string `json:"driver" env:"STORAGE_DRIVER"`
	Path        string `json:"path" env:"SQLITE_PATH"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	DSN      string `json:"dsn,omitempty" env:"DATABASE_URL"`
	Host     string `json:"host,omitempty" env:"POSTGRES_HOST"`
	Port     int    `json:"port,omitempty" env:"POSTGRES_PORT"`
	Database string `json:"database,omitempty" env:"POSTGRES_DB"`
	User     string `json:"user,omitempty" env:"POSTGRES_USER"`
	Password string `json:"password,omitempty" env:"POSTGRES_PASSWORD"`
	SSLMode  string `json:"sslmode,omitempty" env:"POSTGRES_SSLMODE"`

	ConnectAttempts int    `json:"connect_attempts,omitempty" env:"DB_CONNECT_ATTEMPTS"`
	ConnectDelay    string `json:"connect_delay,omitempty" env:"DB_CONNECT_DELAY"`
	MaxOpenConns    int    `json:"max_open_conns,omitempty"`
	AutoMigrate     *bool  `json:"auto_migrate,omitempty" env:"DB_AUTO_MIGRATE"`
}

type LoggingConfig struct {
	Level    string          `json:"level" env:"LOG_LEVEL"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" env:"LOG_FILE"`
}

// LoggingTelegram mirrors log lines at or above MinLevel to the notify chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// BotConfig is the Bot API account used for operator messages only.
type BotConfig struct {
	Token        string `json:"token" env:"BOT_TOKEN"`
	NotifyChatID int64  `json:"notify_chat_id" env:"NOTIFY_CHAT_ID"`
	ThreadID     int    `json:"thread_id,omitempty" env:"NOTIFY_THREAD_ID"`
}

// Enabled reports whether operator messages can be delivered.
func (b BotConfig) Enabled() bool { return b.Token != "" && b.NotifyChatID != 0 }

// NotifierConfig controls per-outcome operator messages.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type NotifierConfig struct {
	Enabled    bool   `json:"enabled" env:"NOTIFY_OUTCOMES"`
	QueueSize  int    `json:"queue_size"`
	RatePerSec int    `json:"rate_per_sec"`
	RetryMax   int    `json:"retry_max"`
	RetryBase  string `json:"retry_base"`
	// Outcomes limits which outcomes are sent; empty means all.
	Outcomes []string `json:"outcomes,omitempty" env:"NOTIFY_OUTCOME_KINDS" envSeparator:","`
}

// ReportConfig controls the periodic ledger digest.
type ReportConfig struct {
	Enabled  bool   `json:"enabled" env:"REPORT_ENABLED"`
	Schedule string `json:"schedule" env:"REPORT_SCHEDULE"`
}

// OpsConfig controls the operations HTTP server (/metrics, /healthz, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled" env:"OPS_ENABLED"`
	Addr          string `json:"addr,omitempty" env:"OPS_ADDR"`
	Token         string `json:"token,omitempty" env:"OPS_TOKEN"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
