package invite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t *testing.T, loc *time.Location, s string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, loc)
	require.NoError(t, err)
	return ts
}

func TestWindowContains(t *testing.T) {
	t.Parallel()
	w := Window{StartHour: 10, EndHour: 17, Location: time.UTC, QuotaPerHour: 2}
	for h := 0; h < 24; h++ {
		now := time.Date(2025, 3, 4, h, 30, 0, 0, time.UTC)
		assert.Equal(t, h >= 10 && h < 17, w.Contains(now), "hour %d", h)
	}
	assert.True(t, w.Contains(at(t, time.UTC, "2025-03-04 10:00:00")), "start hour is inclusive")
	assert.False(t, w.Contains(at(t, time.UTC, "2025-03-04 17:00:00")), "end hour is exclusive")
}

func TestWindowContainsUntilMidnight(t *testing.T) {
	t.Parallel()
	w := Window{StartHour: 0, EndHour: 24, Location: time.UTC, QuotaPerHour: 1}
	assert.True(t, w.Contains(at(t, time.UTC, "2025-03-04 23:59:59")))
	assert.True(t, w.Contains(at(t, time.UTC, "2025-03-04 00:00:00")))
}

func TestWindowContainsUsesLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+3", 3*3600)
	w := Window{StartHour: 10, EndHour: 17, Location: loc, QuotaPerHour: 1}
	// 07:30 UTC is 10:30 in UTC+3.
	assert.True(t, w.Contains(time.Date(2025, 3, 4, 7, 30, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)))
}

func TestWindowUntilOpen(t *testing.T) {
	t.Parallel()
	w := Window{StartHour: 10, EndHour: 17, Location: time.UTC, QuotaPerHour: 1}
	tests := []struct {
		name string
		now  string
		open string
	}{
		{name: "before start", now: "2025-03-04 09:00:00", open: "2025-03-04 10:00:00"},
		{name: "early morning", now: "2025-03-04 00:00:01", open: "2025-03-04 10:00:00"},
		{name: "after end", now: "2025-03-04 17:00:00", open: "2025-03-05 10:00:00"},
		{name: "late night", now: "2025-03-04 23:59:30", open: "2025-03-05 10:00:00"},
		{name: "month rollover", now: "2025-03-31 18:15:42", open: "2025-04-01 10:00:00"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			now := at(t, time.UTC, tt.now)
			d := w.UntilOpen(now)
			assert.GreaterOrEqual(t, d, time.Second)
			assert.True(t, now.Add(d).Equal(at(t, time.UTC, tt.open)), "now+%s = %s", d, now.Add(d))
		})
	}
}

func TestWindowUntilOpenSubSecond(t *testing.T) {
	t.Parallel()
	w := Window{StartHour: 10, EndHour: 17, Location: time.UTC, QuotaPerHour: 1}
	now := time.Date(2025, 3, 4, 9, 59, 59, 999_000_000, time.UTC)
	assert.Equal(t, time.Second, w.UntilOpen(now), "floored at one second")
}

func TestWindowSlot(t *testing.T) {
	t.Parallel()
	tests := []struct {
		quota int
		slot  time.Duration
	}{
		{1, time.Hour},
		{2, 1800 * time.Second},
		{5, 720 * time.Second},
		{7, 514 * time.Second},
		{3600, time.Second},
	}
	for _, tt := range tests {
		w := Window{StartHour: 0, EndHour: 24, QuotaPerHour: tt.quota}
		assert.Equal(t, tt.slot, w.Slot(), "quota %d", tt.quota)
	}
}

func TestWindowHourStartHalfHourZone(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("IST", 5*3600+1800)
	w := Window{StartHour: 0, EndHour: 24, Location: loc, QuotaPerHour: 1}
	hs := w.HourStart(time.Date(2025, 3, 4, 4, 45, 10, 5, time.UTC)) // 10:15:10 local
	assert.Equal(t, 10, hs.Hour())
	assert.Equal(t, 0, hs.Minute())
	assert.Equal(t, 0, hs.Second())
	assert.Equal(t, 0, hs.Nanosecond())
}

func TestWindowDecide(t *testing.T) {
	t.Parallel()
	w := Window{StartHour: 0, EndHour: 24, Location: time.UTC, QuotaPerHour: 2}
	now := at(t, time.UTC, "2025-03-04 10:10:00")

	d := w.Decide(now, 0)
	assert.Equal(t, DecisionSend, d.Kind)

	d = w.Decide(now, 1)
	assert.Equal(t, DecisionWaitSlot, d.Kind)
	assert.Equal(t, 1200*time.Second, d.Wait)
	assert.True(t, w.NextEligible(d.HourStart, 1).Equal(at(t, time.UTC, "2025-03-04 10:30:00")))

	d = w.Decide(now, 2)
	assert.Equal(t, DecisionQuotaReached, d.Kind)
	assert.Equal(t, 50*time.Minute, d.Wait)

	closed := Window{StartHour: 10, EndHour: 17, Location: time.UTC, QuotaPerHour: 1}
	d = closed.Decide(at(t, time.UTC, "2025-03-04 09:00:00"), 0)
	assert.Equal(t, DecisionClosed, d.Kind)
	assert.Equal(t, time.Hour, d.Wait)
}

func TestWindowDecideNoCatchUp(t *testing.T) {
	t.Parallel()
	// Asleep past several slot boundaries: one send now, the next slot still
	// derives from the count.
	w := Window{StartHour: 0, EndHour: 24, Location: time.UTC, QuotaPerHour: 6}
	now := at(t, time.UTC, "2025-03-04 10:45:00")
	d := w.Decide(now, 1)
	assert.Equal(t, DecisionSend, d.Kind)
	assert.True(t, w.NextEligible(d.HourStart, 2).Equal(at(t, time.UTC, "2025-03-04 10:20:00")))
}

func TestWindowValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		w    Window
		ok   bool
	}{
		{name: "default", w: Window{StartHour: 10, EndHour: 17, QuotaPerHour: 2}, ok: true},
		{name: "full day", w: Window{StartHour: 0, EndHour: 24, QuotaPerHour: 1}, ok: true},
		{name: "start negative", w: Window{StartHour: -1, EndHour: 17, QuotaPerHour: 2}},
		{name: "start 24", w: Window{StartHour: 24, EndHour: 24, QuotaPerHour: 2}},
		{name: "end 25", w: Window{StartHour: 10, EndHour: 25, QuotaPerHour: 2}},
		{name: "end equals start", w: Window{StartHour: 10, EndHour: 10, QuotaPerHour: 2}},
		{name: "zero quota", w: Window{StartHour: 10, EndHour: 17, QuotaPerHour: 0}},
	}
	for _, tt := range tests {
		err := tt.w.Validate()
		if tt.ok {
			assert.NoError(t, err, tt.name)
		} else {
			assert.Error(t, err, tt.name)
		}
	}
}
