package invite

import "time"

// Event types published on the bus.
const (
	EventOutcome        = "invite.outcome"
	EventPoolEmpty      = "invite.pool_empty"
	EventTargetResolved = "invite.target_resolved"
)

type OutcomeEvent struct {
	AttemptID string
	Target    Target
	Record    Record
	Backoff   time.Duration
}

type PoolEmptyEvent struct {
	Since time.Time
}

// Observer receives scheduler measurements. Implementations must not block.
type Observer interface {
	ObserveAttempt(rec Record, took time.Duration)
	ObserveBackoff(o Outcome, d time.Duration)
	ObserveWait(reason string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(Record, time.Duration)  {}
func (nopObserver) ObserveBackoff(Outcome, time.Duration) {}
func (nopObserver) ObserveWait(string, time.Duration)     {}
