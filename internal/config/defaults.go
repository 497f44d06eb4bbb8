package config

// Defaults match the original deployment: two invites per hour between
// 10:00 and 17:00 UTC.
const (
	DefaultPerHour     = 2
	DefaultWindowStart = 10
	DefaultWindowEnd   = 17
	DefaultTimezone    = "UTC"
)

// Default returns the configuration used for every field the file and the
// environment leave unset.
func Default() Config {
	return Config{
		Telegram: TelegramConfig{
			Session:    "inviter",
			SessionDir: "sessions",
		},
		Invite: InviteConfig{
			PerHour:     DefaultPerHour,
			WindowStart: DefaultWindowStart,
			WindowEnd:   DefaultWindowEnd,
			Timezone:    DefaultTimezone,
			IdleWait:    "60s",
		},
		Storage: StorageConfig{
			Path:            "./data/inviter.db",
			Port:            5432,
			SSLMode:         "disable",
			ConnectAttempts: 30,
			ConnectDelay:    "1s",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Path: "./inviter.log"},
			Telegram: LoggingTelegram{
				MinLevel:   "warn",
				RatePerSec: 1,
			},
		},
		Notifier: NotifierConfig{
			Enabled:    true,
			QueueSize:  64,
			RatePerSec: 1,
			RetryMax:   3,
			RetryBase:  "2s",
		},
		Report: ReportConfig{
			Enabled:  true,
			Schedule: "@hourly",
		},
		Ops: OpsConfig{
			Addr:        "127.0.0.1:9090",
			ReadTimeout: "5s",
			IdleTimeout: "60s",
		},
	}
}
