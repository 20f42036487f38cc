package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens a local warehouse snapshot. The snapshot is opened
// read-only unless it is an in-memory database.
func OpenSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	dsn := strings.TrimPrefix(path, "sqlite://")
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?mode=ro&_pragma=busy_timeout(5000)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
