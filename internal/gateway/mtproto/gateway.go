package mtproto

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gotd/td/tg"

	"inviter/internal/invite"
	logx "inviter/pkg/logx"
)

// rpc is the subset of *tg.Client the gateway calls.
type rpc interface {
	ContactsResolveUsername(ctx context.Context, request *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error)
	ChannelsInviteToChannel(ctx context.Context, request *tg.ChannelsInviteToChannelRequest) (*tg.MessagesInvitedUsers, error)
}

// Gateway implements invite.Gateway over an authorized connection.
type Gateway struct {
	api rpc
	log logx.Logger
}

var _ invite.Gateway = (*Gateway)(nil)

func NewGateway(api rpc, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{api: api, log: log}
}

// ResolveTarget accepts "@name", "name" or a t.me link.
func (g *Gateway) ResolveTarget(ctx context.Context, ref string) (invite.Target, error) {
	name, err := usernameFromRef(ref)
	if err != nil {
		return invite.Target{}, err
	}
	id, ch, err := g.resolve(ctx, name)
	if err != nil {
		return invite.Target{}, err
	}
	if id.Kind != invite.KindChannel || ch == nil {
		return invite.Target{}, fmt.Errorf("%w: %s is a %s", invite.ErrNotChannel, ref, id.Kind)
	}
	return invite.Target{ID: ch.ID, AccessHash: ch.AccessHash, Title: ch.Title, Ref: ref}, nil
}

func (g *Gateway) ResolveUser(ctx context.Context, handle string) (invite.Identity, error) {
	id, _, err := g.resolve(ctx, invite.NormalizeHandle(handle))
	return id, err
}

func (g *Gateway) Invite(ctx context.Context, target invite.Target, user invite.Identity) error {
	if user.Kind != invite.KindUser {
		return invite.ErrUnsupportedEntity
	}
	res, err := g.api.ChannelsInviteToChannel(ctx, &tg.ChannelsInviteToChannelRequest{
		Channel: &tg.InputChannel{ChannelID: target.ID, AccessHash: target.AccessHash},
		Users:   []tg.InputUserClass{&tg.InputUser{UserID: user.ID, AccessHash: user.AccessHash}},
	})
	if err != nil {
		return mapError(err)
	}
	// Users whose privacy settings block the invite come back as missing
	// instead of as an RPC error.
	if res != nil && len(res.MissingInvitees) > 0 {
		return wrap(invite.ErrPrivacyRestricted, fmt.Errorf("%s: %d missing invitee(s)", errUserPrivacyRestricted, len(res.MissingInvitees)))
	}
	return nil
}

func (g *Gateway) resolve(ctx context.Context, name string) (invite.Identity, *tg.Channel, error) {
	if name == "" {
		return invite.Identity{}, nil, errors.New("empty username")
	}
	res, err := g.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: name})
	if err != nil {
		return invite.Identity{}, nil, mapError(err)
	}

	switch p := res.Peer.(type) {
	case *tg.PeerUser:
		for _, u := range res.Users {
			if user, ok := u.(*tg.User); ok && user.ID == p.UserID {
				return invite.Identity{ID: user.ID, AccessHash: user.AccessHash, Username: name, Kind: invite.KindUser}, nil, nil
			}
		}
	case *tg.PeerChannel:
		for _, c := range res.Chats {
			if ch, ok := c.(*tg.Channel); ok && ch.ID == p.ChannelID {
				return invite.Identity{ID: ch.ID, AccessHash: ch.AccessHash, Username: name, Kind: invite.KindChannel}, ch, nil
			}
		}
	case *tg.PeerChat:
		return invite.Identity{ID: p.ChatID, Username: name, Kind: invite.KindChat}, nil, nil
	}
	return invite.Identity{Username: name, Kind: invite.KindUnknown}, nil, nil
}

// usernameFromRef extracts the public username from a chat reference.
func usernameFromRef(ref string) (string, error) {
	s := strings.TrimSpace(ref)
	if s == "" {
		return "", errors.New("target chat is empty")
	}
	if i := strings.Index(s, "t.me/"); i >= 0 {
		s = s[i+len("t.me/"):]
		if u, err := url.Parse("https://t.me/" + s); err == nil {
			s = strings.Trim(u.Path, "/")
		}
		if j := strings.IndexByte(s, '/'); j >= 0 {
			s = s[:j]
		}
		if strings.HasPrefix(s, "+") || s == "joinchat" {
			return "", fmt.Errorf("private invite links are not supported: %s", ref)
		}
	}
	s = invite.NormalizeHandle(s)
	if s == "" {
		return "", fmt.Errorf("invalid target chat: %s", ref)
	}
	for _, r := range s {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return "", fmt.Errorf("invalid target chat: %s", ref)
		}
	}
	return s, nil
}
