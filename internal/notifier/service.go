package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"inviter/internal/eventbus"
	"inviter/internal/invite"
	kit "inviter/internal/transport"
	logx "inviter/pkg/logx"
)

// Config controls outcome notifications.
type Config struct {
	Enabled       bool
	Target        kit.ChatTarget
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// Outcomes limits which outcomes are sent; empty means all.
	Outcomes []invite.Outcome
}

type HistoryItem struct {
	At   time.Time
	Text string
}

const historyMax = 100

// Service turns bus events into operator messages. It is safe for
// concurrent use; Run must be called at most once at a time.
type Service struct {
	cfg     Config
	sender  kit.Sender
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter
	allow   map[invite.Outcome]bool

	sent   atomic.Uint64
	failed atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = time.Minute
	}
	s := &Service{
		cfg:     cfg,
		sender:  sender,
		bus:     bus,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
	if len(cfg.Outcomes) > 0 {
		s.allow = map[invite.Outcome]bool{}
		for _, o := range cfg.Outcomes {
			s.allow[o] = true
		}
	}
	return s
}

// Enabled reports whether Run does anything.
func (s *Service) Enabled() bool {
	return s.cfg.Enabled && s.sender != nil && s.bus != nil && !s.cfg.Target.IsZero()
}

// Run delivers events until ctx is done. A disabled service blocks until
// cancellation so it can sit under a supervisor like any other loop.
func (s *Service) Run(ctx context.Context) error {
	if !s.Enabled() {
		<-ctx.Done()
		return nil
	}
	events, unsubscribe := s.bus.Subscribe(s.cfg.QueueSize, invite.EventOutcome, invite.EventPoolEmpty, invite.EventTargetResolved)
	defer unsubscribe()

	s.log.Info("notifier started",
		logx.Int64("chat_id", s.cfg.Target.ChatID),
		logx.Int("rate_per_sec", s.cfg.RatePerSec),
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("notifier subscription closed")
			}
			text, ok := s.format(ev)
			if !ok {
				continue
			}
			s.deliver(ctx, text)
		}
	}
}

// format renders ev, or reports false when it should not be sent.
func (s *Service) format(ev eventbus.Event) (string, bool) {
	switch d := ev.Data.(type) {
	case invite.OutcomeEvent:
		if s.allow != nil && !s.allow[d.Record.Outcome] {
			return "", false
		}
		return formatOutcome(d), true
	case invite.PoolEmptyEvent:
		return "Candidate pool is empty. Waiting for new discoveries.", true
	case invite.Target:
		return fmt.Sprintf("Inviter started for %s (id %d).", targetName(d), d.ID), true
	default:
		return "", false
	}
}

func targetName(t invite.Target) string {
	if t.Title != "" {
		return t.Title
	}
	return t.Ref
}

func formatOutcome(ev invite.OutcomeEvent) string {
	rec := ev.Record
	var b strings.Builder
	b.WriteString(outcomeIcon(rec.Outcome))
	b.WriteString(" @")
	b.WriteString(rec.Handle)
	if rec.DisplayName != nil && *rec.DisplayName != "" {
		fmt.Fprintf(&b, " (%s)", *rec.DisplayName)
	}
	b.WriteString(": ")
	b.WriteString(string(rec.Outcome))
	if rec.ErrorDetail != nil && *rec.ErrorDetail != "" {
		b.WriteString("\n")
		b.WriteString(*rec.ErrorDetail)
	}
	if ev.Backoff > 0 {
		fmt.Fprintf(&b, "\nPausing for %s.", ev.Backoff.Round(time.Second))
	}
	return b.String()
}

func outcomeIcon(o invite.Outcome) string {
	switch o {
	case invite.OutcomeInvited:
		return "✅"
	case invite.OutcomeAlreadyMember:
		return "ℹ️"
	case invite.OutcomeRateLimitedGlobal, invite.OutcomeRateLimitedPerRequest:
		return "⏳"
	case invite.OutcomeError:
		return "🚨"
	default:
		return "⚠️"
	}
}

func (s *Service) deliver(ctx context.Context, text string) {
	maxAttempts := 1 + s.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.sender.SendText(callCtx, s.cfg.Target, text, &kit.SendOptions{DisablePreview: true})
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.appendHistory(text)
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			return
		}
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt == maxAttempts {
			break
		}

		delay := retryDelay(s.cfg, attempt)
		var ra *kit.RetryAfterError
		if errors.As(err, &ra) && ra.Wait > 0 {
			delay = ra.Wait
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	s.failed.Add(1)
	s.log.Warn("notify dropped after retries", logx.Err(lastErr), logx.Int("attempts", maxAttempts))
}

// retryDelay is the delay before attempt+1: base*2^(attempt-1), capped,
// with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	j := 0.7 + rand.Float64()*0.6
	return min(time.Duration(float64(d)*j), cfg.RetryMaxDelay)
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > historyMax {
		s.history = s.history[len(s.history)-historyMax:]
	}
	s.hmu.Unlock()
}

// History returns the most recent delivered messages, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// Counters returns delivered and permanently failed message counts.
func (s *Service) Counters() (sent, failed uint64) {
	return s.sent.Load(), s.failed.Load()
}
