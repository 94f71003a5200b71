package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const maxConnLifetime = time.Minute * 3

// New opens a small database/sql pool on dsn through lib/pq and pings it.
// It serves metadata queries; the lock never goes through this pool.
func New(ctx context.Context, dsn DSN) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn.PQ())
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not reach %s: %s", dsn.Short(), Redact(err.Error()))
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(maxConnLifetime)
	return db, nil
}
