package app

import (
	"context"
	"time"

	"inviter/internal/config"
	"inviter/internal/gateway/mtproto"
	"inviter/internal/invite"
	"inviter/internal/metrics"
	"inviter/internal/notifier"
	"inviter/internal/report"
	"inviter/internal/storage"
	kit "inviter/internal/transport"
	logx "inviter/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	delay, err := config.ParseDurationOrDefault("storage.connect_delay", sc.ConnectDelay, storage.DefaultConnectDelay)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:          sc.ResolvedDriver(),
		Path:            sc.Path,
		DSN:             sc.ResolvedDSN(),
		BusyTimeout:     busy,
		ConnectAttempts: sc.ConnectAttempts,
		ConnectDelay:    delay,
		MaxOpenConns:    sc.MaxOpenConns,
		AutoMigrate:     sc.AutoMigrateEnabled(),
	}, nil
}

// OpenStore opens the ledger described by cfg. Used by the CLI commands that
// do not start the invite loop.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (*storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
}

func mapMTProtoConfig(cfg *config.Config) mtproto.Config {
	t := cfg.Telegram
	return mtproto.Config{
		AppID:      t.APIID,
		AppHash:    t.APIHash,
		Phone:      t.Phone,
		Password:   t.Password,
		SessionDir: t.SessionDir,
		Session:    t.Session,
	}
}

func mapSchedulerConfig(cfg *config.Config) (invite.SchedulerConfig, error) {
	w, err := cfg.Window()
	if err != nil {
		return invite.SchedulerConfig{}, err
	}
	return invite.SchedulerConfig{
		Window:        w,
		TargetRef:     cfg.Invite.TargetChat,
		InviteOnStart: cfg.Invite.ImmediateOnStart,
		IdleWait:      cfg.IdleWait(),
	}, nil
}

func notifyTarget(cfg *config.Config) kit.ChatTarget {
	return kit.ChatTarget{ChatID: cfg.Bot.NotifyChatID, ThreadID: cfg.Bot.ThreadID}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	base, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 2*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	outcomes := make([]invite.Outcome, 0, len(n.Outcomes))
	for _, raw := range n.Outcomes {
		o, err := invite.ParseOutcome(raw)
		if err != nil {
			return notifier.Config{}, err
		}
		outcomes = append(outcomes, o)
	}
	return notifier.Config{
		Enabled:    n.Enabled && cfg.Bot.Enabled(),
		Target:     notifyTarget(cfg),
		QueueSize:  n.QueueSize,
		RatePerSec: n.RatePerSec,
		RetryMax:   n.RetryMax,
		RetryBase:  base,
		Outcomes:   outcomes,
	}, nil
}

func mapReportConfig(cfg *config.Config, w invite.Window) report.Config {
	return report.Config{
		Enabled:  cfg.Report.Enabled && cfg.Bot.Enabled(),
		Schedule: cfg.Report.Schedule,
		Target:   notifyTarget(cfg),
		Location: w.Location,
		Quota:    w.QuotaPerHour,
	}
}

func mapServerConfig(cfg *config.Config) (metrics.ServerConfig, error) {
	o := cfg.Ops
	read, err := config.ParseDurationField("ops.read_timeout", o.ReadTimeout)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	write, err := config.ParseDurationField("ops.write_timeout", o.WriteTimeout)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	idle, err := config.ParseDurationField("ops.idle_timeout", o.IdleTimeout)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	return metrics.ServerConfig{
		Addr:          o.Addr,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
