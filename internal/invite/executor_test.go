package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inviter/internal/eventbus"
	logx "inviter/pkg/logx"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		err     error
		outcome Outcome
		backoff time.Duration
		detail  bool
	}{
		{name: "success", err: nil, outcome: OutcomeInvited},
		{name: "already member", err: ErrAlreadyMember, outcome: OutcomeAlreadyMember},
		{name: "privacy", err: fmt.Errorf("rpc: %w", ErrPrivacyRestricted), outcome: OutcomePrivacyRestricted},
		{name: "not mutual", err: ErrNotMutualContact, outcome: OutcomeNotMutualContact},
		{name: "peer flood", err: ErrPeerFlood, outcome: OutcomeRateLimitedGlobal, backoff: time.Hour, detail: true},
		{name: "flood wait", err: &FloodWaitError{Wait: 30 * time.Second}, outcome: OutcomeRateLimitedPerRequest, backoff: 31 * time.Second, detail: true},
		{name: "wrapped flood wait", err: fmt.Errorf("invite: %w", &FloodWaitError{Wait: 5 * time.Second}), outcome: OutcomeRateLimitedPerRequest, backoff: 6 * time.Second, detail: true},
		{name: "unsupported entity", err: ErrUnsupportedEntity, outcome: OutcomeError, detail: true},
		{name: "other", err: errors.New("USER_CHANNELS_TOO_MUCH"), outcome: OutcomeError, detail: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := Classify(tt.err)
			assert.Equal(t, tt.outcome, v.Outcome)
			assert.Equal(t, tt.backoff, v.Backoff)
			if tt.detail {
				require.NotNil(t, v.Detail)
				assert.Equal(t, tt.err.Error(), *v.Detail)
			} else {
				assert.Nil(t, v.Detail)
			}
		})
	}
}

func TestClassifyTruncatesDetail(t *testing.T) {
	t.Parallel()
	v := Classify(errors.New(strings.Repeat("é", 400)))
	require.NotNil(t, v.Detail)
	assert.Equal(t, maxDetailLen, len([]rune(*v.Detail)))
}

func TestParseOutcome(t *testing.T) {
	t.Parallel()
	for _, o := range Outcomes() {
		got, err := ParseOutcome(" " + strings.ToUpper(string(o)) + " ")
		require.NoError(t, err)
		assert.Equal(t, o, got)
	}
	_, err := ParseOutcome("banned")
	assert.Error(t, err)
}

func TestNormalizeHandle(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "alice", NormalizeHandle("@alice"))
	assert.Equal(t, "alice", NormalizeHandle("  @alice "))
	assert.Equal(t, "bob", NormalizeHandle("bob"))
}

func newTestExecutor(gw Gateway, l Ledger, c Clock, opts ...ExecutorOption) *Executor {
	return NewExecutor(gw, l, c, logx.Nop(), opts...)
}

func TestExecutorInvited(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC))
	gw := &fakeGateway{}
	ledger := &memLedger{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	name := "Alice"
	rec, err := newTestExecutor(gw, ledger, clock, WithBus(bus)).
		Attempt(context.Background(), Target{ID: 7}, Candidate{Handle: "@alice", DisplayName: &name})
	require.NoError(t, err)

	assert.Equal(t, OutcomeInvited, rec.Outcome)
	assert.Equal(t, []string{"alice"}, gw.invited, "marker stripped before resolving")
	require.Len(t, ledger.records, 1)
	assert.Equal(t, "@alice", ledger.records[0].Handle, "ledger keeps the stored handle")
	assert.Equal(t, &name, ledger.records[0].DisplayName)
	assert.Nil(t, ledger.records[0].ErrorDetail)
	assert.Empty(t, clock.Sleeps())

	ev := <-events
	assert.Equal(t, EventOutcome, ev.Type)
	oe, ok := ev.Data.(OutcomeEvent)
	require.True(t, ok)
	assert.Equal(t, OutcomeInvited, oe.Record.Outcome)
	assert.NotEmpty(t, oe.AttemptID)
}

func TestExecutorPeerFloodSuspendsOneHour(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC))
	gw := &fakeGateway{inviteErr: map[string]error{"carol": ErrPeerFlood}}
	ledger := &memLedger{}

	rec, err := newTestExecutor(gw, ledger, clock).Attempt(context.Background(), Target{}, Candidate{Handle: "@carol"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRateLimitedGlobal, rec.Outcome)
	assert.Equal(t, []time.Duration{time.Hour}, clock.Sleeps())
	require.Len(t, ledger.records, 1)
	assert.Equal(t, time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC), ledger.records[0].AttemptedAt,
		"recorded before the backoff")
}

func TestExecutorResolveErrorsAreClassified(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC))
	gw := &fakeGateway{resolveErr: map[string]error{"dave": &FloodWaitError{Wait: 10 * time.Second}}}
	ledger := &memLedger{}

	rec, err := newTestExecutor(gw, ledger, clock).Attempt(context.Background(), Target{}, Candidate{Handle: "dave"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRateLimitedPerRequest, rec.Outcome)
	assert.Equal(t, []time.Duration{11 * time.Second}, clock.Sleeps())
	assert.Empty(t, gw.invited)
}

func TestExecutorUnsupportedEntity(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC))
	gw := &fakeGateway{kinds: map[string]IdentityKind{"news": KindChannel}}
	ledger := &memLedger{}

	rec, err := newTestExecutor(gw, ledger, clock).Attempt(context.Background(), Target{}, Candidate{Handle: "@news"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, rec.Outcome)
	require.NotNil(t, rec.ErrorDetail)
	assert.Equal(t, "unsupported entity type", *rec.ErrorDetail)
	assert.Empty(t, gw.invited)
}

func TestExecutorLedgerFailurePropagates(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC))
	boom := errors.New("database is locked")
	ledger := &memLedger{appendErr: boom}

	_, err := newTestExecutor(&fakeGateway{}, ledger, clock).Attempt(context.Background(), Target{}, Candidate{Handle: "@erin"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestExecutorInterruptedAttemptIsNotRecorded(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{resolveErr: map[string]error{"frank": context.Canceled}}
	cancel()

	ledger := &memLedger{}
	_, err := newTestExecutor(gw, ledger, clock).Attempt(ctx, Target{}, Candidate{Handle: "@frank"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ledger.records)
}

type recordingObserver struct {
	attempts []Outcome
	backoffs []time.Duration
	waits    []string
}

func (o *recordingObserver) ObserveAttempt(rec Record, _ time.Duration) {
	o.attempts = append(o.attempts, rec.Outcome)
}
func (o *recordingObserver) ObserveBackoff(_ Outcome, d time.Duration) {
	o.backoffs = append(o.backoffs, d)
}
func (o *recordingObserver) ObserveWait(reason string, _ time.Duration) {
	o.waits = append(o.waits, reason)
}

func TestExecutorObserver(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC))
	gw := &fakeGateway{inviteErr: map[string]error{"gina": &FloodWaitError{Wait: 2 * time.Second}}}
	obs := &recordingObserver{}

	_, err := newTestExecutor(gw, &memLedger{}, clock, WithObserver(obs)).
		Attempt(context.Background(), Target{}, Candidate{Handle: "gina"})
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomeRateLimitedPerRequest}, obs.attempts)
	assert.Equal(t, []time.Duration{3 * time.Second}, obs.backoffs)
}
