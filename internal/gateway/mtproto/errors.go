package mtproto

import (
	"github.com/gotd/td/tgerr"

	"inviter/internal/invite"
)

// RPC error types the invite flow distinguishes.
const (
	errUserAlreadyParticipant = "USER_ALREADY_PARTICIPANT"
	errUserPrivacyRestricted  = "USER_PRIVACY_RESTRICTED"
	errUserNotMutualContact   = "USER_NOT_MUTUAL_CONTACT"
	errPeerFlood              = "PEER_FLOOD"
)

// mapError translates an RPC error into the invite package's error classes.
// The original error stays reachable through errors.Unwrap.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &invite.FloodWaitError{Wait: d, Err: err}
	}
	switch {
	case tgerr.Is(err, errUserAlreadyParticipant):
		return wrap(invite.ErrAlreadyMember, err)
	case tgerr.Is(err, errUserPrivacyRestricted):
		return wrap(invite.ErrPrivacyRestricted, err)
	case tgerr.Is(err, errUserNotMutualContact):
		return wrap(invite.ErrNotMutualContact, err)
	case tgerr.Is(err, errPeerFlood):
		return wrap(invite.ErrPeerFlood, err)
	}
	return err
}

type classified struct {
	class error
	err   error
}

func wrap(class, err error) error { return &classified{class: class, err: err} }

func (c *classified) Error() string   { return c.err.Error() }
func (c *classified) Unwrap() []error { return []error{c.class, c.err} }
