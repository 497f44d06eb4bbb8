package invite

import (
	"errors"
	"fmt"
	"time"
)

// minWait keeps every computed sleep strictly positive so the loop always
// makes forward progress, even exactly on a boundary.
const minWait = time.Second

// Window is the immutable access-window and pacing configuration.
type Window struct {
	StartHour    int
	EndHour      int
	Location     *time.Location
	QuotaPerHour int
}

func (w Window) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 {
		return fmt.Errorf("window start hour must be 0..23, got %d", w.StartHour)
	}
	if w.EndHour < 1 || w.EndHour > 24 {
		return fmt.Errorf("window end hour must be 1..24, got %d", w.EndHour)
	}
	if w.EndHour <= w.StartHour {
		return errors.New("window end hour must be greater than start hour")
	}
	if w.QuotaPerHour < 1 {
		return fmt.Errorf("invites per hour must be >= 1, got %d", w.QuotaPerHour)
	}
	return nil
}

func (w Window) loc() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

// Contains reports whether now falls inside [StartHour, EndHour).
func (w Window) Contains(now time.Time) bool {
	h := now.In(w.loc()).Hour()
	return w.StartHour <= h && h < w.EndHour
}

// UntilOpen returns the time left until StartHour:00:00, today when the
// window has not opened yet and on the next calendar day otherwise.
func (w Window) UntilOpen(now time.Time) time.Duration {
	local := now.In(w.loc())
	day := local.Day()
	if local.Hour() >= w.StartHour {
		day++
	}
	open := time.Date(local.Year(), local.Month(), day, w.StartHour, 0, 0, 0, w.loc())
	return atLeast(open.Sub(now))
}

// Slot is the even spacing between two invites inside one hour.
func (w Window) Slot() time.Duration {
	q := w.QuotaPerHour
	if q < 1 {
		q = 1
	}
	return time.Duration(3600/q) * time.Second
}

// HourStart returns the start of the clock hour containing now.
func (w Window) HourStart(now time.Time) time.Time {
	local := now.In(w.loc())
	return local.Add(-time.Duration(local.Minute())*time.Minute -
		time.Duration(local.Second())*time.Second -
		time.Duration(local.Nanosecond()))
}

// NextEligible is the earliest instant the next invite of the hour may go out.
// It depends on how many were sent, never on how many slots elapsed.
func (w Window) NextEligible(hourStart time.Time, sent int) time.Time {
	return hourStart.Add(time.Duration(sent) * w.Slot())
}

type DecisionKind string

const (
	DecisionClosed       DecisionKind = "window_closed"
	DecisionQuotaReached DecisionKind = "quota_reached"
	DecisionWaitSlot     DecisionKind = "slot_pending"
	DecisionSend         DecisionKind = "send"
)

type Decision struct {
	Kind      DecisionKind
	Wait      time.Duration
	HourStart time.Time
	Sent      int
}

// Decide evaluates the window and pacing rules for now, given how many
// invites were already recorded in the current clock hour.
func (w Window) Decide(now time.Time, sent int) Decision {
	if !w.Contains(now) {
		return Decision{Kind: DecisionClosed, Wait: w.UntilOpen(now)}
	}
	hs := w.HourStart(now)
	d := Decision{HourStart: hs, Sent: sent}
	if sent >= w.QuotaPerHour {
		d.Kind = DecisionQuotaReached
		d.Wait = atLeast(hs.Add(time.Hour).Sub(now))
		return d
	}
	if next := w.NextEligible(hs, sent); now.Before(next) {
		d.Kind = DecisionWaitSlot
		d.Wait = atLeast(next.Sub(now))
		return d
	}
	d.Kind = DecisionSend
	return d
}

func atLeast(d time.Duration) time.Duration {
	if d < minWait {
		return minWait
	}
	return d
}
