// Package adapter sends operator messages through the Telegram Bot API.
// It never polls for updates: the inviter has no interactive commands.
package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "inviter/internal/transport"
	logx "inviter/pkg/logx"
)

type Config struct {
	Token   string
	Timeout time.Duration
}

// bot is the subset of *tele.Bot the adapter calls.
type bot interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Adapter struct {
	bot bot
	log logx.Logger
}

var _ kit.Sender = (*Adapter)(nil)

// New verifies the token with getMe and returns a send-only adapter.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	log.Info("bot api ready", logx.String("bot", b.Me.Username))
	return newAdapter(b, log), nil
}

func newAdapter(b bot, log logx.Logger) *Adapter {
	return &Adapter{bot: b, log: log}
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and (best-effort) avoids splitting inside HTML tags when ParseMode is HTML.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			end = newlineCut(rs, start, end, limit)
		}
		if strings.EqualFold(parseMode, tele.ModeHTML) && end < len(rs) {
			end = tagCut(rs, start, end, limit)
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// newlineCut moves end back to just after the last newline in the window,
// unless that would leave a chunk shorter than a third of the limit.
func newlineCut(rs []rune, start, end, limit int) int {
	for i := end - 1; i > start; i-- {
		if rs[i] == '\n' && i-start >= limit/3 {
			return i + 1
		}
	}
	return end
}

// tagCut moves end back to the start of a dangling HTML tag.
func tagCut(rs []rune, start, end, limit int) int {
	lastOpen, lastClose := -1, -1
	for i := start; i < end; i++ {
		switch rs[i] {
		case '<':
			lastOpen = i
		case '>':
			lastClose = i
		}
	}
	if lastOpen > lastClose && lastOpen > start+1 {
		return lastOpen
	}
	return min(end, start+limit)
}

// SendText sends text, split into chunks when it exceeds the Bot API limit.
// The returned ref points at the first chunk.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if to.IsZero() {
		return kit.MessageRef{}, errors.New("telegram: empty chat target")
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, mapSendError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// mapSendError turns telebot's 429 into a transport-level retry hint.
func mapSendError(err error) error {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &kit.RetryAfterError{Wait: time.Duration(fe.RetryAfter) * time.Second, Err: err}
	}
	var pfe *tele.FloodError
	if errors.As(err, &pfe) && pfe != nil {
		return &kit.RetryAfterError{Wait: time.Duration(pfe.RetryAfter) * time.Second, Err: err}
	}
	return err
}
