// Package app wires configuration, storage, the MTProto gateway and the
// invite loop together and runs them under one supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"inviter/internal/config"
	"inviter/internal/eventbus"
	"inviter/internal/gateway/mtproto"
	"inviter/internal/invite"
	"inviter/internal/metrics"
	"inviter/internal/notifier"
	"inviter/internal/report"
	"inviter/internal/runtime/supervisor"
	"inviter/internal/storage"
	kit "inviter/internal/transport"
	telegram "inviter/internal/transport/telegram/adapter"
	logx "inviter/pkg/logx"
)

const metricsNamespace = "inviter"

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service

	bus     *eventbus.MemBus
	store   *storage.Store
	mt      *mtproto.Client
	metrics *metrics.Metrics
	ops     *metrics.Server
	notif   *notifier.Service
	report  *report.Service
	sched   invite.SchedulerConfig
	clock   invite.Clock

	sup *supervisor.Supervisor
}

// New builds the app from the committed config in cfgm. prompt supplies the
// login code when the MTProto session is not authorized yet.
func New(ctx context.Context, cfgm *config.ConfigManager, prompt mtproto.CodePrompt) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	bootLog := logx.NewConsole(cfg.Logging.Level)

	// The Bot API account is optional; without it there are no operator messages.
	var sender kit.Sender
	if strings.TrimSpace(cfg.Bot.Token) != "" {
		ad, err := telegram.New(telegram.Config{Token: cfg.Bot.Token}, bootLog.With(logx.String("comp", "telegram.bot")))
		if err != nil {
			bootLog.Warn("bot api unavailable; operator messages disabled", logx.Err(err))
		} else {
			sender = ad
		}
	}

	logs, log := logx.New(cfg.LogxConfig(), sender)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:  cfgm,
		cfg:   cfg,
		log:   log.With(logx.String("comp", "app")),
		logs:  logs,
		bus:   eventbus.New(),
		clock: invite.SystemClock{},
	}
	if err := a.build(ctx, cfg, sender, prompt); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, sender kit.Sender, prompt mtproto.CodePrompt) error {
	var err error
	if a.sched, err = mapSchedulerConfig(cfg); err != nil {
		return err
	}

	if a.store, err = OpenStore(ctx, cfg, a.log); err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	if a.mt, err = mtproto.New(mapMTProtoConfig(cfg), prompt, a.log.With(logx.String("comp", "mtproto"))); err != nil {
		return err
	}

	a.metrics = metrics.New(metricsNamespace)
	a.metrics.CounterFunc(metricsNamespace, "eventbus_dropped_total", "Events lost to full subscriber buffers.",
		func() float64 { return float64(a.bus.Dropped()) })

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, sender, a.bus, a.log.With(logx.String("comp", "notifier")))
	a.metrics.CounterFunc(metricsNamespace, "notifier_sent_total", "Operator messages delivered.",
		func() float64 { sent, _ := a.notif.Counters(); return float64(sent) })
	a.metrics.CounterFunc(metricsNamespace, "notifier_failed_total", "Operator messages dropped after retries.",
		func() float64 { _, failed := a.notif.Counters(); return float64(failed) })

	a.report, err = report.New(mapReportConfig(cfg, a.sched.Window), a.store, sender, a.log.With(logx.String("comp", "report")))
	if err != nil {
		return err
	}

	if cfg.Ops.Enabled {
		scfg, err := mapServerConfig(cfg)
		if err != nil {
			return err
		}
		a.ops = metrics.NewServer(scfg, a.metrics.Handler(), a.log.With(logx.String("comp", "ops")))
		a.ops.AddCheck("storage", func(ctx context.Context) error { return a.store.DB().PingContext(ctx) })
		a.ops.AddCheck("supervisor", func(context.Context) error {
			if a.sup == nil {
				return nil
			}
			if snap := a.sup.Snapshot(); !snap.Healthy() {
				return errors.New(snap.FirstError)
			}
			return nil
		})
	}
	return nil
}

// Run starts every component and blocks until ctx is done or a fatal error
// stops the supervisor. It returns the fatal error, if any.
func (a *App) Run(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	a.sup.Go("invite.loop", a.runInvites)
	a.sup.GoRestart("notifier", a.notif.Run, supervisor.WithRestartBackoff(time.Second, time.Minute))
	a.sup.GoRestart("report", a.report.Run, supervisor.WithRestartBackoff(time.Second, time.Minute))
	if a.ops != nil {
		a.sup.GoRestart("ops.http", a.ops.Run,
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
			supervisor.WithMaxRestarts(5),
		)
	}

	updates := a.cfgm.Subscribe(8)
	a.sup.Go("config.apply", func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(updates)
		a.applyConfigLoop(ctx, updates)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", a.watchdog)

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("inviter started",
		logx.String("target", a.sched.TargetRef),
		logx.Int("per_hour", a.sched.Window.QuotaPerHour),
		logx.Int("window_start", a.sched.Window.StartHour),
		logx.Int("window_end", a.sched.Window.EndHour),
		logx.String("tz", a.sched.Window.Location.String()),
		logx.String("storage", a.store.Driver()),
	)

	<-a.sup.Context().Done()
	return a.stop()
}

func (a *App) runInvites(ctx context.Context) error {
	return a.mt.Run(ctx, func(ctx context.Context, gw *mtproto.Gateway) error {
		log := a.log.With(logx.String("comp", "invite"))
		exec := invite.NewExecutor(gw, a.store, a.clock, log,
			invite.WithBus(a.bus),
			invite.WithObserver(a.metrics),
		)
		sched, err := invite.NewScheduler(a.sched, gw, a.store, a.store, exec, a.clock, log,
			invite.WithSchedulerBus(a.bus),
			invite.WithSchedulerObserver(a.metrics),
		)
		if err != nil {
			return err
		}
		return sched.Run(ctx)
	})
}

// applyConfigLoop re-applies hot-reloadable sections. Everything else is
// logged as requiring a restart.
func (a *App) applyConfigLoop(ctx context.Context, updates <-chan *config.Config) {
	last := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			last = a.applyConfig(last, next)
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) *config.Config {
	changed, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return next
	}
	a.logs.Apply(next.LogxConfig())

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if len(restart) > 0 {
		a.log.Warn("config changes require a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	return next
}

// watchdog pings systemd at half the configured interval while the
// supervisor reports no fatal error.
func (a *App) watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if a.sup.Snapshot().Healthy() {
				sdNotify(a.log, daemon.SdNotifyWatchdog)
			}
		}
	}
}

func sdNotify(log logx.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

func (a *App) stop() error {
	sdNotify(a.log, daemon.SdNotifyStopping)
	fatal := a.sup.Err()
	if fatal != nil {
		a.log.Error("stopping on fatal error", logx.Err(fatal))
	} else {
		a.log.Info("stopping")
	}

	a.step("supervisor", 10*time.Second, a.sup.Stop)
	a.step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return fatal
}

// step runs one shutdown step with an upper bound so a stuck component
// cannot stall the whole stop.
func (a *App) step(name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, a.sup.Err()) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
