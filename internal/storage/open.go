package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	logx "inviter/pkg/logx"
)

// Store is the invitation ledger and candidate selector.
type Store struct {
	db      *sql.DB
	dsn     string
	dialect dialect
	log     logx.Logger
}

// Open connects to the configured database, waiting for it to accept
// connections, and applies migrations when cfg.AutoMigrate is set.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := d.dsn(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, err
	}
	if d.unixMillis {
		// SQLite prefers a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	st := &Store{db: db, dsn: dsn, dialect: d, log: log.With(logx.String("driver", d.name))}
	if err := st.waitReady(ctx, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return st, nil
}

func (s *Store) waitReady(ctx context.Context, cfg Config) error {
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = DefaultConnectAttempts
	}
	delay := cfg.ConnectDelay
	if delay <= 0 {
		delay = DefaultConnectDelay
	}

	var err error
	for i := 1; i <= attempts; i++ {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = s.db.PingContext(pctx)
		cancel()
		if err == nil {
			if i > 1 {
				s.log.Info("database ready", logx.Int("attempt", i))
			}
			return nil
		}
		if i == attempts {
			break
		}
		s.log.Warn("database not ready; retrying",
			logx.Int("attempt", i),
			logx.Int("max_attempts", attempts),
			logx.Err(err),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("database not ready after %d attempts: %w", attempts, err)
}

func (s *Store) Driver() string { return s.dialect.name }

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
