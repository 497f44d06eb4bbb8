package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inviter/internal/eventbus"
	logx "inviter/pkg/logx"
)

const DefaultIdleWait = 60 * time.Second

type SchedulerConfig struct {
	Window    Window
	TargetRef string
	// InviteOnStart sends one invite to the oldest eligible candidate before
	// the loop starts, without waiting for a slot.
	InviteOnStart bool
	// IdleWait is the pause when no candidate is available.
	IdleWait time.Duration
}

// Scheduler is the top-level control loop. It runs on a single goroutine;
// every suspension is a Clock.Sleep.
type Scheduler struct {
	cfg        SchedulerConfig
	gw         Gateway
	ledger     Ledger
	candidates CandidateSource
	exec       *Executor
	clock      Clock
	log        logx.Logger
	bus        eventbus.Bus
	obs        Observer

	poolEmpty bool
}

type SchedulerOption func(*Scheduler)

func WithSchedulerBus(bus eventbus.Bus) SchedulerOption {
	return func(s *Scheduler) { s.bus = bus }
}

func WithSchedulerObserver(obs Observer) SchedulerOption {
	return func(s *Scheduler) {
		if obs != nil {
			s.obs = obs
		}
	}
}

func NewScheduler(cfg SchedulerConfig, gw Gateway, ledger Ledger, candidates CandidateSource, exec *Executor, clock Clock, log logx.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if err := cfg.Window.Validate(); err != nil {
		return nil, err
	}
	if gw == nil || ledger == nil || candidates == nil || exec == nil {
		return nil, errors.New("scheduler: gateway, ledger, candidates and executor are required")
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = DefaultIdleWait
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg:        cfg,
		gw:         gw,
		ledger:     ledger,
		candidates: candidates,
		exec:       exec,
		clock:      clock,
		log:        log,
		obs:        nopObserver{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Run resolves the target channel and loops until ctx is cancelled.
// It returns an error only for startup failures and ledger failures.
func (s *Scheduler) Run(ctx context.Context) error {
	target, err := s.gw.ResolveTarget(ctx, s.cfg.TargetRef)
	if err != nil {
		return fmt.Errorf("resolve target %q: %w", s.cfg.TargetRef, err)
	}
	s.log.Info("target channel resolved",
		logx.String("target", s.cfg.TargetRef),
		logx.String("title", target.Title),
		logx.Int64("channel_id", target.ID),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventTargetResolved, Data: target})
	}

	if s.cfg.InviteOnStart {
		if err := s.Prime(ctx, target); err != nil {
			return stopErr(ctx, err)
		}
	}

	for {
		wait, err := s.Step(ctx, target)
		if err != nil {
			return stopErr(ctx, err)
		}
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

func stopErr(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// Prime invites the oldest eligible candidate immediately. The hourly quota
// still applies; the window and slot spacing do not.
func (s *Scheduler) Prime(ctx context.Context, target Target) error {
	now := s.clock.Now().In(s.cfg.Window.loc())
	hs := s.cfg.Window.HourStart(now)
	sent, err := s.ledger.CountAttempts(ctx, hs, hs.Add(time.Hour))
	if err != nil {
		return fmt.Errorf("count attempts: %w", err)
	}
	if sent >= s.cfg.Window.QuotaPerHour {
		s.log.Info("hourly limit already reached; skipping invite on start", logx.Int("sent", sent))
		return nil
	}
	c, ok, err := s.candidates.NextCandidate(ctx)
	if err != nil {
		return fmt.Errorf("select candidate: %w", err)
	}
	if !ok {
		s.log.Info("no candidates to invite on start")
		return nil
	}
	s.log.Info("inviting first candidate on start", logx.String("handle", c.Handle))
	_, err = s.exec.Attempt(ctx, target, c)
	return err
}

// Step makes one decision, performs at most one attempt and returns how
// long to sleep before the next decision.
func (s *Scheduler) Step(ctx context.Context, target Target) (time.Duration, error) {
	w := s.cfg.Window
	now := s.clock.Now().In(w.loc())

	if !w.Contains(now) {
		wait := w.UntilOpen(now)
		s.log.Info("outside invite window", logx.Duration("sleep", wait))
		s.obs.ObserveWait(string(DecisionClosed), wait)
		return wait, nil
	}

	hs := w.HourStart(now)
	sent, err := s.ledger.CountAttempts(ctx, hs, hs.Add(time.Hour))
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}

	d := w.Decide(now, sent)
	switch d.Kind {
	case DecisionQuotaReached:
		s.log.Info("hourly limit reached", logx.Int("sent", sent), logx.Duration("sleep", d.Wait))
		s.obs.ObserveWait(string(d.Kind), d.Wait)
		return d.Wait, nil
	case DecisionWaitSlot:
		s.log.Debug("waiting for next slot", logx.Int("sent", sent), logx.Duration("sleep", d.Wait))
		s.obs.ObserveWait(string(d.Kind), d.Wait)
		return d.Wait, nil
	}

	c, ok, err := s.candidates.NextCandidate(ctx)
	if err != nil {
		return 0, fmt.Errorf("select candidate: %w", err)
	}
	if !ok {
		s.noteEmpty(now)
		s.obs.ObserveWait("idle", s.cfg.IdleWait)
		return s.cfg.IdleWait, nil
	}
	s.poolEmpty = false

	if _, err := s.exec.Attempt(ctx, target, c); err != nil {
		return 0, err
	}

	wait := atLeast(w.NextEligible(hs, sent+1).Sub(s.clock.Now()))
	s.obs.ObserveWait("next_slot", wait)
	return wait, nil
}

func (s *Scheduler) noteEmpty(now time.Time) {
	if s.poolEmpty {
		s.log.Debug("no candidates to invite", logx.Duration("sleep", s.cfg.IdleWait))
		return
	}
	s.poolEmpty = true
	s.log.Info("no candidates to invite", logx.Duration("sleep", s.cfg.IdleWait))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventPoolEmpty, Data: PoolEmptyEvent{Since: now}})
	}
}
