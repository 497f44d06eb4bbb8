package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"inviter/internal/invite"
	logx "inviter/pkg/logx"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Window builds the immutable invite window.
func (c *Config) Window() (invite.Window, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Invite.Timezone))
	if err != nil {
		return invite.Window{}, fmt.Errorf("invite.timezone: %w", err)
	}
	w := invite.Window{
		StartHour:    c.Invite.WindowStart,
		EndHour:      c.Invite.WindowEnd,
		Location:     loc,
		QuotaPerHour: c.Invite.PerHour,
	}
	return w, w.Validate()
}

func (c *Config) IdleWait() time.Duration {
	d, _ := ParseDurationOrDefault("invite.idle_wait", c.Invite.IdleWait, invite.DefaultIdleWait)
	return d
}

// ResolvedDriver returns the normalized driver name.
func (s StorageConfig) ResolvedDriver() string {
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql":
		return DriverPostgres
	case "":
		if strings.TrimSpace(s.DSN) != "" || strings.TrimSpace(s.Host) != "" {
			return DriverPostgres
		}
		return DriverSQLite
	default:
		return s.Driver
	}
}

// ResolvedDSN returns DSN, or a postgres URL assembled from the POSTGRES_*
// fields.
func (s StorageConfig) ResolvedDSN() string {
	if dsn := strings.TrimSpace(s.DSN); dsn != "" {
		return dsn
	}
	if strings.TrimSpace(s.Host) == "" {
		return ""
	}
	port := s.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(s.Host, strconv.Itoa(port)),
		Path:   "/" + s.Database,
	}
	if s.User != "" {
		if s.Password != "" {
			u.User = url.UserPassword(s.User, s.Password)
		} else {
			u.User = url.User(s.User)
		}
	}
	if s.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {s.SSLMode}}.Encode()
	}
	return u.String()
}

func (s StorageConfig) AutoMigrateEnabled() bool {
	return s.AutoMigrate == nil || *s.AutoMigrate
}

// LogxConfig maps the logging section onto the logger service.
func (c *Config) LogxConfig() logx.Config {
	l := c.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled && c.Bot.Enabled(),
			ChatID:     c.Bot.NotifyChatID,
			ThreadID:   firstNonZero(l.Telegram.ThreadID, c.Bot.ThreadID),
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func firstNonZero(v ...int) int {
	for _, x := range v {
		if x != 0 {
			return x
		}
	}
	return 0
}
