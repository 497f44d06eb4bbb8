package invite

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"inviter/internal/eventbus"
	logx "inviter/pkg/logx"
)

const (
	// PeerFloodCooldown is the suspension after an account-level flood signal.
	PeerFloodCooldown = time.Hour

	// maxDetailLen matches the ledger's error column width.
	maxDetailLen = 255
)

// Verdict is the classification of one gateway result.
type Verdict struct {
	Outcome Outcome
	Backoff time.Duration
	Detail  *string
}

// Classify maps a gateway error (nil for success) to exactly one outcome.
func Classify(err error) Verdict {
	var fw *FloodWaitError
	switch {
	case err == nil:
		return Verdict{Outcome: OutcomeInvited}
	case errors.Is(err, ErrAlreadyMember):
		return Verdict{Outcome: OutcomeAlreadyMember}
	case errors.Is(err, ErrPrivacyRestricted):
		return Verdict{Outcome: OutcomePrivacyRestricted}
	case errors.Is(err, ErrNotMutualContact):
		return Verdict{Outcome: OutcomeNotMutualContact}
	case errors.Is(err, ErrPeerFlood):
		return Verdict{Outcome: OutcomeRateLimitedGlobal, Backoff: PeerFloodCooldown, Detail: detail(err)}
	case errors.As(err, &fw):
		wait := fw.Wait
		if wait < 0 {
			wait = 0
		}
		return Verdict{Outcome: OutcomeRateLimitedPerRequest, Backoff: wait + time.Second, Detail: detail(err)}
	default:
		return Verdict{Outcome: OutcomeError, Detail: detail(err)}
	}
}

func detail(err error) *string {
	s := err.Error()
	if utf8.RuneCountInString(s) > maxDetailLen {
		s = string([]rune(s)[:maxDetailLen])
	}
	return &s
}

// Executor performs one invitation attempt and records its outcome.
type Executor struct {
	gw     Gateway
	ledger Ledger
	clock  Clock
	log    logx.Logger
	bus    eventbus.Bus
	obs    Observer
}

type ExecutorOption func(*Executor)

func WithBus(bus eventbus.Bus) ExecutorOption { return func(e *Executor) { e.bus = bus } }

func WithObserver(obs Observer) ExecutorOption {
	return func(e *Executor) {
		if obs != nil {
			e.obs = obs
		}
	}
}

func NewExecutor(gw Gateway, ledger Ledger, clock Clock, log logx.Logger, opts ...ExecutorOption) *Executor {
	if clock == nil {
		clock = SystemClock{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Executor{gw: gw, ledger: ledger, clock: clock, log: log, obs: nopObserver{}}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Attempt invites c into target, appends exactly one ledger record and then
// applies any backoff the outcome demands.
//
// The returned error is non-nil only when the record could not be persisted,
// or when ctx was cancelled before the gateway answered (nothing is recorded
// in that case).
func (e *Executor) Attempt(ctx context.Context, target Target, c Candidate) (Record, error) {
	attemptID := uuid.NewString()
	handle := NormalizeHandle(c.Handle)
	log := e.log.With(logx.String("attempt_id", attemptID), logx.String("handle", handle))
	started := e.clock.Now()

	err := e.invite(ctx, target, handle)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		log.Info("attempt interrupted by shutdown; not recorded")
		return Record{}, err
	}

	v := Classify(err)
	rec := Record{
		Handle:      c.Handle,
		DisplayName: c.DisplayName,
		Outcome:     v.Outcome,
		ErrorDetail: v.Detail,
		AttemptedAt: started.UTC(),
	}

	// An attempt that reached the gateway must be recorded even during shutdown.
	if perr := e.ledger.AppendRecord(context.WithoutCancel(ctx), rec); perr != nil {
		return rec, fmt.Errorf("record attempt for %s: %w", c.Handle, perr)
	}
	e.obs.ObserveAttempt(rec, e.clock.Now().Sub(started))
	e.report(log, v, err)
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: EventOutcome, Data: OutcomeEvent{
			AttemptID: attemptID,
			Target:    target,
			Record:    rec,
			Backoff:   v.Backoff,
		}})
	}

	if v.Backoff > 0 {
		e.obs.ObserveBackoff(v.Outcome, v.Backoff)
		// Cancellation ends the backoff early; the caller sees ctx.Done().
		_ = e.clock.Sleep(ctx, v.Backoff)
	}
	return rec, nil
}

func (e *Executor) invite(ctx context.Context, target Target, handle string) error {
	if handle == "" {
		return errors.New("empty handle")
	}
	user, err := e.gw.ResolveUser(ctx, handle)
	if err != nil {
		return err
	}
	if user.Kind != KindUser {
		return ErrUnsupportedEntity
	}
	return e.gw.Invite(ctx, target, user)
}

func (e *Executor) report(log logx.Logger, v Verdict, err error) {
	fields := []logx.Field{logx.String("outcome", string(v.Outcome))}
	switch v.Outcome {
	case OutcomeInvited:
		log.Info("invited", fields...)
	case OutcomeRateLimitedGlobal:
		log.Warn("peer flood limit hit; suspending", append(fields, logx.Duration("backoff", v.Backoff))...)
	case OutcomeRateLimitedPerRequest:
		log.Warn("flood wait; suspending", append(fields, logx.Duration("backoff", v.Backoff))...)
	case OutcomeError:
		log.Error("invite failed", append(fields, logx.Err(err))...)
	default:
		log.Info("invite rejected", fields...)
	}
}
