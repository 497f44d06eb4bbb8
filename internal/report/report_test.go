package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"inviter/internal/invite"
	"inviter/internal/storage"
	kit "inviter/internal/transport"
	logx "inviter/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStats struct {
	mu     sync.Mutex
	sinces []time.Time
	err    error
}

func (f *fakeStats) Stats(_ context.Context, since time.Time) (storage.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	if f.err != nil {
		return storage.Stats{}, f.err
	}
	return storage.Stats{
		Since:     since,
		ByOutcome: map[invite.Outcome]int{invite.OutcomeInvited: 2, invite.OutcomePrivacyRestricted: 1},
		Total:     3,
		Pending:   40,
	}, nil
}

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	f.texts = append(f.texts, text)
	return kit.MessageRef{}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func TestFormat(t *testing.T) {
	t.Parallel()
	since := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	st := storage.Stats{
		Since:     since,
		ByOutcome: map[invite.Outcome]int{invite.OutcomeInvited: 2, invite.OutcomeError: 1},
		Total:     3,
		Pending:   7,
	}
	got := Format(st, since.Add(time.Hour), time.UTC, 2)
	assert.Equal(t, "Invite report 2024-03-01 09:00 .. 2024-03-01 10:00 UTC\ninvited: 2\nerror: 1\ntotal: 3 (quota 2/h)\npending: 7", got)
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"@hourly", "@every 30m", "0 9 * * *", "0 0 9 * * 1-5"} {
		_, err := ParseSchedule(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "soon", "61 * * * *"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewRejectsBadScheduleOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	cfg := Config{Enabled: true, Schedule: "never", Target: kit.ChatTarget{ChatID: 1}}
	_, err := New(cfg, &fakeStats{}, &fakeSender{}, logx.Nop())
	assert.Error(t, err)

	cfg.Enabled = false
	svc, err := New(cfg, &fakeStats{}, &fakeSender{}, logx.Nop())
	require.NoError(t, err)
	assert.False(t, svc.Enabled())
}

func TestSendAdvancesPeriodOnSuccess(t *testing.T) {
	t.Parallel()
	src := &fakeStats{}
	snd := &fakeSender{}
	svc, err := New(Config{Enabled: true, Schedule: "@hourly", Target: kit.ChatTarget{ChatID: 1}}, src, snd, logx.Nop())
	require.NoError(t, err)

	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	now := t0
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.Send(context.Background()))
	assert.Equal(t, t0.Add(-time.Hour), src.sinces[0], "first digest covers the last hour")

	now = t0.Add(time.Hour)
	snd.err = errors.New("down")
	assert.Error(t, svc.Send(context.Background()))

	now = t0.Add(2 * time.Hour)
	snd.err = nil
	require.NoError(t, svc.Send(context.Background()))
	assert.Equal(t, t0, src.sinces[2], "failed delivery does not advance the period")
	assert.Equal(t, 2, snd.count())
}

func TestSendPropagatesStatsError(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	svc, err := New(Config{Enabled: true, Schedule: "@hourly", Target: kit.ChatTarget{ChatID: 1}}, &fakeStats{err: storage.ErrClosed}, snd, logx.Nop())
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Send(context.Background()), storage.ErrClosed)
	assert.Zero(t, snd.count())
}

func TestRunFiresOnSchedule(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	svc, err := New(Config{Enabled: true, Schedule: "@every 1s", Target: kit.ChatTarget{ChatID: 1}}, &fakeStats{}, snd, logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return snd.count() > 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
