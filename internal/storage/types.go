package storage

import (
	"errors"
	"time"

	"inviter/internal/invite"
)

var (
	ErrClosed = errors.New("storage closed")
	// ErrDuplicateRecord means the handle already has a ledger record.
	ErrDuplicateRecord = errors.New("handle already recorded")
	ErrEmptyFilter     = errors.New("reset filter matches every record")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a libpq style URL or key/value string
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means 5s

	// ConnectAttempts bounds how often Open pings a database that is not up
	// yet, ConnectDelay apart.
	ConnectAttempts int
	ConnectDelay    time.Duration

	MaxOpenConns int // postgres only
	// AutoMigrate applies pending migrations during Open.
	AutoMigrate bool
}

const (
	DefaultConnectAttempts = 30
	DefaultConnectDelay    = time.Second
	defaultBusyTimeout     = 5 * time.Second
)

// Stats summarizes the ledger since a point in time.
type Stats struct {
	Since     time.Time
	ByOutcome map[invite.Outcome]int
	Total     int
	// Pending counts candidates without a ledger record.
	Pending int
}

// ResetFilter selects ledger records to delete so their handles become
// eligible again. Zero fields do not constrain.
type ResetFilter struct {
	Handle  string
	Outcome invite.Outcome
	Before  time.Time
}

func (f ResetFilter) empty() bool {
	return f.Handle == "" && f.Outcome == "" && f.Before.IsZero()
}
