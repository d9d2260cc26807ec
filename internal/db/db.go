package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// sqlitePragmas: WAL keeps record feeds readable during writes, and the
// busy timeout turns lock contention into a wait instead of SQLITE_BUSY.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

type poolLimits struct {
	open, idle int
	lifetime   time.Duration
}

var pools = map[string]poolLimits{
	// One writer at a time regardless; extra connections only serve readers.
	DriverSQLite:   {open: 4, idle: 4, lifetime: 0},
	DriverPostgres: {open: 25, idle: 5, lifetime: 5 * time.Minute},
}

// Init opens and pings the database. SQLite files get their parent
// directory created first.
func Init(driver, connection string) (*sqlx.DB, error) {
	limits, ok := pools[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if driver == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(connection), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.Connect(driver, dsn(driver, connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	db.SetMaxOpenConns(limits.open)
	db.SetMaxIdleConns(limits.idle)
	db.SetConnMaxLifetime(limits.lifetime)

	slog.Info("database connected", "driver", driver, "max_open_conns", limits.open)
	return db, nil
}

func dsn(driver, connection string) string {
	if driver != DriverSQLite || strings.Contains(connection, "?") {
		return connection
	}
	return connection + "?" + sqlitePragmas
}

// Close is nil-safe for deferred cleanup on partially built commands.
func Close(db *sqlx.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
