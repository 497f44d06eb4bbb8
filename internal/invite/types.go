package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome is the closed set of results an invitation attempt can have.
// The string values are what the ledger persists.
type Outcome string

const (
	OutcomeInvited               Outcome = "invited"
	OutcomeAlreadyMember         Outcome = "already"
	OutcomePrivacyRestricted     Outcome = "privacy"
	OutcomeNotMutualContact      Outcome = "not_mutual"
	OutcomeRateLimitedGlobal     Outcome = "peer_flood"
	OutcomeRateLimitedPerRequest Outcome = "flood_wait"
	OutcomeError                 Outcome = "error"
)

var allOutcomes = []Outcome{
	OutcomeInvited,
	OutcomeAlreadyMember,
	OutcomePrivacyRestricted,
	OutcomeNotMutualContact,
	OutcomeRateLimitedGlobal,
	OutcomeRateLimitedPerRequest,
	OutcomeError,
}

// Outcomes returns every outcome in a stable order.
func Outcomes() []Outcome { return append([]Outcome(nil), allOutcomes...) }

func (o Outcome) Valid() bool {
	for _, x := range allOutcomes {
		if o == x {
			return true
		}
	}
	return false
}

// RateLimited reports whether the outcome carries a mandatory backoff.
func (o Outcome) RateLimited() bool {
	return o == OutcomeRateLimitedGlobal || o == OutcomeRateLimitedPerRequest
}

func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	if !o.Valid() {
		return "", fmt.Errorf("unknown outcome %q", s)
	}
	return o, nil
}

// Candidate is a discovered user waiting for an invitation. Rows are written
// by the external discovery process; the scheduler only reads them.
type Candidate struct {
	ID           int64
	Handle       string
	DisplayName  *string
	DiscoveredAt time.Time
}

// Record is one ledger row. Exactly one exists per handle.
type Record struct {
	Handle      string
	DisplayName *string
	Outcome     Outcome
	ErrorDetail *string
	AttemptedAt time.Time
}

// Target is the resolved destination channel.
type Target struct {
	ID         int64
	AccessHash int64
	Title      string
	Ref        string
}

type IdentityKind int

const (
	KindUnknown IdentityKind = iota
	KindUser
	KindChat
	KindChannel
)

func (k IdentityKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindChat:
		return "chat"
	case KindChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Identity is a resolved platform peer.
type Identity struct {
	ID         int64
	AccessHash int64
	Username   string
	Kind       IdentityKind
}

// Gateway is the remote service boundary used to add users to a channel.
//
// Implementations signal the known rejection classes by returning (or
// wrapping) ErrAlreadyMember, ErrPrivacyRestricted, ErrNotMutualContact,
// ErrPeerFlood or a *FloodWaitError. Anything else is a generic failure.
type Gateway interface {
	ResolveTarget(ctx context.Context, ref string) (Target, error)
	ResolveUser(ctx context.Context, handle string) (Identity, error)
	Invite(ctx context.Context, target Target, user Identity) error
}

// Ledger is the persisted invitation history.
type Ledger interface {
	CountAttempts(ctx context.Context, from, to time.Time) (int, error)
	AppendRecord(ctx context.Context, rec Record) error
}

// CandidateSource yields the oldest discovered candidate without a ledger record.
type CandidateSource interface {
	NextCandidate(ctx context.Context) (Candidate, bool, error)
}

var (
	ErrAlreadyMember     = errors.New("user is already a participant")
	ErrPrivacyRestricted = errors.New("user privacy settings forbid invites")
	ErrNotMutualContact  = errors.New("user is not a mutual contact")
	ErrPeerFlood         = errors.New("peer flood: account is limited")
	ErrUnsupportedEntity = errors.New("unsupported entity type")
	ErrNotChannel        = errors.New("target is not a channel or megagroup")
)

// FloodWaitError is a per-request throttle with an explicit required wait.
type FloodWaitError struct {
	Wait time.Duration
	Err  error
}

func (e *FloodWaitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flood wait %s: %v", e.Wait, e.Err)
	}
	return fmt.Sprintf("flood wait %s", e.Wait)
}

func (e *FloodWaitError) Unwrap() error { return e.Err }

// NormalizeHandle strips the leading "@" marker and surrounding whitespace.
func NormalizeHandle(h string) string {
	return strings.TrimLeft(strings.TrimSpace(h), "@")
}
