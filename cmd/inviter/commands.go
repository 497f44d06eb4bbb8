package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"inviter/internal/app"
	"inviter/internal/config"
	"inviter/internal/invite"
	"inviter/internal/storage"
	logx "inviter/pkg/logx"
)

// ledger is what the ledger subcommands need from storage.Store.
type ledger interface {
	Stats(ctx context.Context, since time.Time) (storage.Stats, error)
	Recent(ctx context.Context, limit int) ([]invite.Record, error)
	Reset(ctx context.Context, f storage.ResetFilter) (int64, error)
}

func loadConfig(path string) (*config.ConfigManager, error) {
	if dir, err := os.Getwd(); err == nil {
		config.LoadDotEnv(dir)
	}
	cfgm := config.NewConfigManager(path)
	if _, err := cfgm.Load(); err != nil {
		return nil, err
	}
	return cfgm, nil
}

func runInviter(ctx context.Context, path string) error {
	cfgm, err := loadConfig(path)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfgm, stdinCodePrompt(os.Stdin, os.Stderr))
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func runMigrate(ctx context.Context, path string, w io.Writer) error {
	cfgm, err := loadConfig(path)
	if err != nil {
		return err
	}
	cfg := cfgm.Get()
	st, err := app.OpenStore(ctx, cfg, logx.NewConsole(cfg.Logging.Level))
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	v, dirty, err := st.MigrationVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "schema version %d (driver %s, dirty=%t)\n", v, st.Driver(), dirty)
	return nil
}

func withStore(ctx context.Context, path string, fn func(l ledger) error) error {
	cfgm, err := loadConfig(path)
	if err != nil {
		return err
	}
	cfg := cfgm.Get()
	st, err := app.OpenStore(ctx, cfg, logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

// parseInstant accepts a duration back from now or an RFC3339 timestamp.
func parseInstant(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseDuration(raw); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("duration %q must be positive", raw)
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither a duration nor an RFC3339 time", raw)
	}
	return t, nil
}

type statsOutput struct {
	Since     time.Time      `json:"since"`
	ByOutcome map[string]int `json:"by_outcome"`
	Total     int            `json:"total"`
	Pending   int            `json:"pending"`
}

func runStats(ctx context.Context, l ledger, w io.Writer, since, format string) error {
	from, err := parseInstant(since, time.Now())
	if err != nil {
		return err
	}
	st, err := l.Stats(ctx, from)
	if err != nil {
		return err
	}
	out := statsOutput{Since: st.Since.UTC(), ByOutcome: map[string]int{}, Total: st.Total, Pending: st.Pending}
	for _, o := range invite.Outcomes() {
		out.ByOutcome[string(o)] = st.ByOutcome[o]
	}
	if format == "json" {
		return writeJSON(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "since\t%s\n", out.Since.Format(time.RFC3339))
	for _, o := range invite.Outcomes() {
		fmt.Fprintf(tw, "%s\t%d\n", o, out.ByOutcome[string(o)])
	}
	fmt.Fprintf(tw, "total\t%d\n", out.Total)
	fmt.Fprintf(tw, "pending\t%d\n", out.Pending)
	return tw.Flush()
}

type recordOutput struct {
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name,omitempty"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

func runList(ctx context.Context, l ledger, w io.Writer, limit int, format string) error {
	recs, err := l.Recent(ctx, limit)
	if err != nil {
		return err
	}
	out := make([]recordOutput, 0, len(recs))
	for _, r := range recs {
		ro := recordOutput{Handle: r.Handle, Outcome: string(r.Outcome), AttemptedAt: r.AttemptedAt.UTC()}
		if r.DisplayName != nil {
			ro.DisplayName = *r.DisplayName
		}
		if r.ErrorDetail != nil {
			ro.Error = *r.ErrorDetail
		}
		out = append(out, ro)
	}
	if format == "json" {
		return writeJSON(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ATTEMPTED\tHANDLE\tOUTCOME\tERROR")
	for _, r := range out {
		fmt.Fprintf(tw, "%s\t@%s\t%s\t%s\n", r.AttemptedAt.Format(time.RFC3339), r.Handle, r.Outcome, r.Error)
	}
	return tw.Flush()
}

func runReset(ctx context.Context, l ledger, w io.Writer, handle, outcome, before string) error {
	f := storage.ResetFilter{Handle: strings.TrimSpace(handle)}
	if outcome != "" {
		o, err := invite.ParseOutcome(outcome)
		if err != nil {
			return err
		}
		f.Outcome = o
	}
	if before != "" {
		t, err := parseInstant(before, time.Now())
		if err != nil {
			return err
		}
		f.Before = t
	}
	n, err := l.Reset(ctx, f)
	if errors.Is(err, storage.ErrEmptyFilter) {
		return errors.New("give a handle, --outcome or --before")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "deleted %d record(s)\n", n)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// stdinCodePrompt reads the MTProto login code from in, one line.
func stdinCodePrompt(in io.Reader, out io.Writer) func(ctx context.Context) (string, error) {
	r := bufio.NewReader(in)
	return func(ctx context.Context) (string, error) {
		fmt.Fprint(out, "Enter the login code Telegram sent you: ")
		type result struct {
			line string
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			line, err := r.ReadString('\n')
			ch <- result{line, err}
		}()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res := <-ch:
			code := strings.TrimSpace(res.line)
			if code == "" {
				if res.err != nil {
					return "", fmt.Errorf("read login code: %w", res.err)
				}
				return "", errors.New("empty login code")
			}
			return code, nil
		}
	}
}
