// Package report sends a periodic digest of ledger activity to the operator
// chat on a cron schedule.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"inviter/internal/invite"
	"inviter/internal/storage"
	kit "inviter/internal/transport"
	logx "inviter/pkg/logx"
)

// StatsSource is the part of the ledger the digest reads.
type StatsSource interface {
	Stats(ctx context.Context, since time.Time) (storage.Stats, error)
}

type Config struct {
	Enabled  bool
	Schedule string
	Target   kit.ChatTarget
	Location *time.Location
	// Quota is printed alongside the counts when set.
	Quota int
}

type Service struct {
	cfg    Config
	sched  cron.Schedule
	src    StatsSource
	sender kit.Sender
	log    logx.Logger
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts 5 or 6 field cron specs and descriptors like @hourly.
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty schedule")
	}
	return parser.Parse(spec)
}

func New(cfg Config, src StatsSource, sender kit.Sender, log logx.Logger) (*Service, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Service{cfg: cfg, src: src, sender: sender, log: log, now: time.Now}
	if !s.Enabled() {
		return s, nil
	}
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("report schedule %q: %w", cfg.Schedule, err)
	}
	s.sched = sched
	return s, nil
}

func (s *Service) Enabled() bool {
	return s.cfg.Enabled && s.src != nil && s.sender != nil && !s.cfg.Target.IsZero()
}

// Run triggers the digest on schedule until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if !s.Enabled() {
		<-ctx.Done()
		return nil
	}
	s.mu.Lock()
	s.last = s.now()
	s.mu.Unlock()

	clog := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	c.Schedule(s.sched, cron.FuncJob(func() {
		sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := s.Send(sctx); err != nil && ctx.Err() == nil {
			s.log.Warn("report failed", logx.Err(err))
		}
	}))
	c.Start()
	s.log.Info("report scheduled",
		logx.String("schedule", s.cfg.Schedule),
		logx.Time("next", s.sched.Next(s.now().In(s.cfg.Location))),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Send builds and delivers the digest covering the time since the previous
// one. The period only advances when delivery succeeded.
func (s *Service) Send(ctx context.Context) error {
	s.mu.Lock()
	since := s.last
	s.mu.Unlock()
	until := s.now()
	if since.IsZero() {
		since = until.Add(-time.Hour)
	}

	st, err := s.src.Stats(ctx, since)
	if err != nil {
		return err
	}
	if _, err := s.sender.SendText(ctx, s.cfg.Target, Format(st, until, s.cfg.Location, s.cfg.Quota), &kit.SendOptions{DisablePreview: true, Silent: true}); err != nil {
		return err
	}

	s.mu.Lock()
	s.last = until
	s.mu.Unlock()
	return nil
}

// Format renders stats as a short plain-text digest.
func Format(st storage.Stats, until time.Time, loc *time.Location, quota int) string {
	if loc == nil {
		loc = time.UTC
	}
	const layout = "2006-01-02 15:04"
	var b strings.Builder
	fmt.Fprintf(&b, "Invite report %s .. %s %s\n", st.Since.In(loc).Format(layout), until.In(loc).Format(layout), loc)
	for _, o := range invite.Outcomes() {
		if n := st.ByOutcome[o]; n > 0 {
			fmt.Fprintf(&b, "%s: %d\n", o, n)
		}
	}
	fmt.Fprintf(&b, "total: %d", st.Total)
	if quota > 0 {
		fmt.Fprintf(&b, " (quota %d/h)", quota)
	}
	fmt.Fprintf(&b, "\npending: %d", st.Pending)
	return b.String()
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
