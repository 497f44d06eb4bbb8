package config

import (
	"reflect"
	"strings"

	logx "inviter/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, safe attrs for
// logging (never secrets) and the changed sections that only take effect
// after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Invite, newCfg.Invite) {
		changed = append(changed, "invite")
		restart = append(restart, "invite")
		attrs = append(attrs,
			logx.String("invite.target_chat", newCfg.Invite.TargetChat),
			logx.Int("invite.per_hour", newCfg.Invite.PerHour),
			logx.Int("invite.window_start", newCfg.Invite.WindowStart),
			logx.Int("invite.window_end", newCfg.Invite.WindowEnd),
			logx.String("invite.timezone", newCfg.Invite.Timezone),
		)
	}

	// Credentials: report only that something changed.
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		restart = append(restart, "telegram")
		attrs = append(attrs, logx.String("telegram.session", newCfg.Telegram.Session))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.ResolvedDriver()))
	}
	if oldCfg.Bot != newCfg.Bot {
		changed = append(changed, "bot")
		restart = append(restart, "bot")
		attrs = append(attrs, logx.Bool("bot.token_set", strings.TrimSpace(newCfg.Bot.Token) != ""))
	}

	for _, s := range []struct {
		name string
		same bool
	}{
		{"notifier", reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier)},
		{"report", oldCfg.Report == newCfg.Report},
		{"ops", oldCfg.Ops == newCfg.Ops},
	} {
		if !s.same {
			changed = append(changed, s.name)
			restart = append(restart, s.name)
		}
	}
	return changed, attrs, restart
}
