// Package mtproto implements the invitation gateway on a Telegram user
// account over MTProto. The Bot API cannot add arbitrary users to a channel.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	logx "inviter/pkg/logx"
)

type Config struct {
	AppID      int
	AppHash    string
	Phone      string
	Password   string // two-step verification, optional
	SessionDir string
	Session    string
}

func (c Config) sessionPath() string {
	dir := strings.TrimSpace(c.SessionDir)
	if dir == "" {
		dir = "sessions"
	}
	name := strings.TrimSpace(c.Session)
	if name == "" {
		name = "inviter"
	}
	return filepath.Join(dir, name+".json")
}

// CodePrompt returns the login code Telegram sent to the account.
type CodePrompt func(ctx context.Context) (string, error)

var ErrNoCodePrompt = errors.New("session is not authorized and no login code prompt is available")

// Client owns the MTProto connection. Gateway calls are only valid inside
// the callback passed to Run.
type Client struct {
	cfg    Config
	client *telegram.Client
	prompt CodePrompt
	log    logx.Logger
}

func New(cfg Config, prompt CodePrompt, log logx.Logger) (*Client, error) {
	if cfg.AppID == 0 || strings.TrimSpace(cfg.AppHash) == "" {
		return nil, errors.New("mtproto app id and hash are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path := cfg.sessionPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("session dir: %w", err)
	}
	c := &Client{cfg: cfg, prompt: prompt, log: log}
	c.client = telegram.NewClient(cfg.AppID, cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: path},
	})
	return c, nil
}

// Run connects, authorizes the session if needed and calls fn with a
// Gateway bound to the live connection. It returns when fn returns or the
// connection fails.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context, gw *Gateway) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		if err := c.authorize(ctx); err != nil {
			return err
		}
		self, err := c.client.Self(ctx)
		if err != nil {
			return fmt.Errorf("get self: %w", err)
		}
		c.log.Info("mtproto session ready",
			logx.Int64("user_id", self.ID),
			logx.String("username", self.Username),
		)
		return fn(ctx, NewGateway(c.client.API(), c.log))
	})
}

func (c *Client) authorize(ctx context.Context) error {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if status.Authorized {
		return nil
	}
	if c.prompt == nil {
		return ErrNoCodePrompt
	}
	if strings.TrimSpace(c.cfg.Phone) == "" {
		return errors.New("phone is required for the first login")
	}

	code := auth.CodeAuthenticatorFunc(func(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
		return c.prompt(ctx)
	})
	var ua auth.UserAuthenticator
	if c.cfg.Password != "" {
		ua = auth.Constant(c.cfg.Phone, c.cfg.Password, code)
	} else {
		ua = auth.CodeOnly(c.cfg.Phone, code)
	}
	c.log.Info("authorizing mtproto session", logx.String("session", c.cfg.sessionPath()))
	if err := c.client.Auth().IfNecessary(ctx, auth.NewFlow(ua, auth.SendCodeOptions{})); err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	return nil
}
