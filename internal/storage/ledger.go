package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"inviter/internal/invite"
)

var (
	_ invite.Ledger          = (*Store)(nil)
	_ invite.CandidateSource = (*Store)(nil)
)

const nextCandidateQuery = `
SELECT a.id, a.username, a.first_name, a.created_at
FROM active_users a
LEFT JOIN invited_users i ON i.username = a.username
WHERE i.id IS NULL
  AND a.username IS NOT NULL
  AND a.username <> ''
ORDER BY a.created_at ASC, a.id ASC
LIMIT 1`

// CountAttempts counts ledger records with attempted_at in [from, to).
func (s *Store) CountAttempts(ctx context.Context, from, to time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT COUNT(*) FROM invited_users WHERE invited_at >= ? AND invited_at < ?`),
		s.dialect.timeArg(from), s.dialect.timeArg(to),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count invited_users: %w", err)
	}
	return n, nil
}

// AppendRecord inserts the single record for rec.Handle. A second record for
// the same handle fails with ErrDuplicateRecord.
func (s *Store) AppendRecord(ctx context.Context, rec invite.Record) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if strings.TrimSpace(rec.Handle) == "" {
		return errors.New("record handle is empty")
	}
	if !rec.Outcome.Valid() {
		return fmt.Errorf("invalid outcome %q", rec.Outcome)
	}
	if rec.AttemptedAt.IsZero() {
		rec.AttemptedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO invited_users(username, first_name, status, error, invited_at) VALUES(?,?,?,?,?)`),
		rec.Handle, nullString{rec.DisplayName}, string(rec.Outcome), nullString{rec.ErrorDetail},
		s.dialect.timeArg(rec.AttemptedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.Handle)
	}
	if err != nil {
		return fmt.Errorf("insert invited_users: %w", err)
	}
	return nil
}

// NextCandidate returns the oldest discovered user that has no ledger
// record. Ties on discovery time resolve by insertion order.
func (s *Store) NextCandidate(ctx context.Context) (invite.Candidate, bool, error) {
	if s == nil || s.db == nil {
		return invite.Candidate{}, false, ErrClosed
	}
	var (
		c    invite.Candidate
		name sql.NullString
	)
	err := s.db.QueryRowContext(ctx, nextCandidateQuery).
		Scan(&c.ID, &c.Handle, &name, instant{&c.DiscoveredAt})
	if errors.Is(err, sql.ErrNoRows) {
		return invite.Candidate{}, false, nil
	}
	if err != nil {
		return invite.Candidate{}, false, fmt.Errorf("select candidate: %w", err)
	}
	if name.Valid {
		c.DisplayName = &name.String
	}
	return c, true, nil
}

// Stats counts records per outcome since the given time and the number of
// candidates still waiting.
func (s *Store) Stats(ctx context.Context, since time.Time) (Stats, error) {
	if s == nil || s.db == nil {
		return Stats{}, ErrClosed
	}
	st := Stats{Since: since, ByOutcome: map[invite.Outcome]int{}}
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind(`SELECT status, COUNT(*) FROM invited_users WHERE invited_at >= ? GROUP BY status`),
		s.dialect.timeArg(since),
	)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		st.ByOutcome[invite.Outcome(status)] += n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	err = s.db.QueryRowContext(ctx, `
SELECT COUNT(DISTINCT a.username)
FROM active_users a
LEFT JOIN invited_users i ON i.username = a.username
WHERE i.id IS NULL AND a.username IS NOT NULL AND a.username <> ''`).Scan(&st.Pending)
	if err != nil {
		return Stats{}, fmt.Errorf("count pending: %w", err)
	}
	return st, nil
}

// Recent lists the latest ledger records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]invite.Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind(`SELECT username, first_name, status, error, invited_at FROM invited_users ORDER BY invited_at DESC, id DESC LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list invited_users: %w", err)
	}
	defer rows.Close()

	var out []invite.Record
	for rows.Next() {
		var (
			r            invite.Record
			name, detail sql.NullString
			status       string
		)
		if err := rows.Scan(&r.Handle, &name, &status, &detail, instant{&r.AttemptedAt}); err != nil {
			return nil, err
		}
		r.Outcome = invite.Outcome(status)
		if name.Valid {
			r.DisplayName = &name.String
		}
		if detail.Valid {
			r.ErrorDetail = &detail.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Reset deletes the records matched by f so their handles can be selected
// again. It returns the number of deleted records.
func (s *Store) Reset(ctx context.Context, f ResetFilter) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	if f.empty() {
		return 0, ErrEmptyFilter
	}

	var (
		where []string
		args  []any
	)
	if f.Handle != "" {
		h := invite.NormalizeHandle(f.Handle)
		where = append(where, "username IN (?, ?)")
		args = append(args, h, "@"+h)
	}
	if f.Outcome != "" {
		if !f.Outcome.Valid() {
			return 0, fmt.Errorf("invalid outcome %q", f.Outcome)
		}
		where = append(where, "status = ?")
		args = append(args, string(f.Outcome))
	}
	if !f.Before.IsZero() {
		where = append(where, "invited_at < ?")
		args = append(args, s.dialect.timeArg(f.Before))
	}

	q := "DELETE FROM invited_users WHERE " + strings.Join(where, " AND ")
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(q), args...)
	if err != nil {
		return 0, fmt.Errorf("reset invited_users: %w", err)
	}
	return res.RowsAffected()
}
