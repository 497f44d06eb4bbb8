package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/jellydator/validation"

	"inviter/internal/invite"
)

// Validate checks the whole configuration. Errors are keyed by json path.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Telegram),
		validation.Field(&c.Invite),
		validation.Field(&c.Storage),
		validation.Field(&c.Logging),
		validation.Field(&c.Notifier),
		validation.Field(&c.Report),
		validation.Field(&c.Ops),
	)
}

func (t TelegramConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.APIID, validation.Required),
		validation.Field(&t.APIHash, validation.Required, notBlank),
		validation.Field(&t.Session, validation.Required, notBlank),
	)
}

func (i InviteConfig) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.TargetChat, validation.Required, notBlank),
		validation.Field(&i.PerHour, validation.Required, validation.Min(1), validation.Max(3600)),
		validation.Field(&i.WindowStart, validation.Min(0), validation.Max(23)),
		validation.Field(&i.WindowEnd,
			validation.Required,
			validation.Min(1),
			validation.Max(24),
			validation.By(func(any) error {
				if i.WindowEnd <= i.WindowStart {
					return errors.New("must be greater than window_start")
				}
				return nil
			}),
		),
		validation.Field(&i.Timezone, validation.Required, validation.By(validTimezone)),
		validation.Field(&i.IdleWait, validation.By(validDuration)),
	)
}

func (s StorageConfig) Validate() error {
	driver := s.ResolvedDriver()
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.In("", "sqlite", "sqlite3", "postgres", "postgresql")),
		validation.Field(&s.Path, validation.When(driver == DriverSQLite, validation.Required, notBlank)),
		validation.Field(&s.Host, validation.When(driver == DriverPostgres && s.DSN == "", validation.Required)),
		validation.Field(&s.Database, validation.When(driver == DriverPostgres && s.DSN == "", validation.Required)),
		validation.Field(&s.Port, validation.Min(1), validation.Max(65535)),
		validation.Field(&s.ConnectAttempts, validation.Min(0)),
		validation.Field(&s.ConnectDelay, validation.By(validDuration)),
		validation.Field(&s.BusyTimeout, validation.By(validDuration)),
	)
}

var logLevels = []any{"", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled", "off"}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.By(lowerIn(logLevels))),
		validation.Field(&l.Telegram),
	)
}

func (t LoggingTelegram) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.MinLevel, validation.By(lowerIn(logLevels))),
		validation.Field(&t.RatePerSec, validation.Min(0)),
	)
}

func (n NotifierConfig) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.QueueSize, validation.Min(0)),
		validation.Field(&n.RatePerSec, validation.Min(0)),
		validation.Field(&n.RetryMax, validation.Min(0), validation.Max(10)),
		validation.Field(&n.RetryBase, validation.By(validDuration)),
		validation.Field(&n.Outcomes, validation.Each(validation.By(validOutcome))),
	)
}

func (r ReportConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Schedule, validation.When(r.Enabled, validation.Required, notBlank)),
	)
}

func (o OpsConfig) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Addr, validation.When(o.Enabled, validation.Required, notBlank)),
		validation.Field(&o.ReadTimeout, validation.By(validDuration)),
		validation.Field(&o.WriteTimeout, validation.By(validDuration)),
		validation.Field(&o.IdleTimeout, validation.By(validDuration)),
	)
}

var notBlank = validation.By(func(v any) error {
	if s, ok := v.(string); ok && s != "" && strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
})

func lowerIn(allowed []any) validation.RuleFunc {
	in := validation.In(allowed...)
	return func(v any) error {
		s, _ := v.(string)
		return in.Validate(strings.ToLower(strings.TrimSpace(s)))
	}
}

func validTimezone(v any) error {
	s, _ := v.(string)
	if _, err := time.LoadLocation(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("unknown time zone %q", s)
	}
	return nil
}

func validDuration(v any) error {
	s, _ := v.(string)
	_, err := ParseDurationField("", s)
	if err != nil {
		return errors.New("must be a non-negative Go duration (e.g. 30s, 5m)")
	}
	return nil
}

func validOutcome(v any) error {
	s, _ := v.(string)
	_, err := invite.ParseOutcome(s)
	return err
}
