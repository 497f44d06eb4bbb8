package storage

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect holds what differs between the supported databases: driver name,
// placeholder style and how instants are stored.
type dialect struct {
	name       string
	driverName string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	// instants stored as unix milliseconds instead of a native timestamp
	unixMillis bool
}

var (
	sqliteDialect   = dialect{name: "sqlite", driverName: "sqlite", unixMillis: true}
	postgresDialect = dialect{name: "postgres", driverName: "pgx", numbered: true}
)

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

// dsn returns the data source name for cfg.
func (d dialect) dsn(cfg Config) (string, error) {
	if !d.unixMillis {
		if strings.TrimSpace(cfg.DSN) == "" {
			return "", errors.New("postgres dsn is required")
		}
		return cfg.DSN, nil
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	// Pragmas in the DSN apply to every pooled connection.
	pragmas := []string{
		"busy_timeout(" + strconv.FormatInt(busy.Milliseconds(), 10) + ")",
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
	}
	return "file:" + path + "?_pragma=" + strings.Join(pragmas, "&_pragma="), nil
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (d dialect) timeArg(t time.Time) any {
	if d.unixMillis {
		return t.UTC().UnixMilli()
	}
	return t.UTC()
}

// instant scans either representation of a stored time.
type instant struct{ t *time.Time }

func (s instant) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s.t = time.Time{}
	case int64:
		*s.t = time.UnixMilli(v).UTC()
	case time.Time:
		*s.t = v.UTC()
	case []byte:
		return s.parse(string(v))
	case string:
		return s.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into time", src)
	}
	return nil
}

func (s instant) parse(v string) error {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		*s.t = time.UnixMilli(ms).UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return fmt.Errorf("parse time %q: %w", v, err)
	}
	*s.t = t.UTC()
	return nil
}

var _ driver.Valuer = nullString{}

// nullString stores nil for nil or blank strings.
type nullString struct{ s *string }

func (n nullString) Value() (driver.Value, error) {
	if n.s == nil || strings.TrimSpace(*n.s) == "" {
		return nil, nil
	}
	return *n.s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
