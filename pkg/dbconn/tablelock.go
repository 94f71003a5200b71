package dbconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/block/pgcutover/pkg/utils"
	"github.com/jackc/pgx/v5"
)

// SourceSession is a dedicated connection to the source database with one
// open transaction. Locks taken through it last until Close rolls the
// transaction back.
type SourceSession struct {
	conn     *pgx.Conn
	tx       pgx.Tx
	schema   string
	logger   *slog.Logger
	lockedAt time.Time

	closeOnce sync.Once
	closeErr  error
}

// OpenSourceSession connects to dsn, begins a transaction and scopes it to
// schema with no statement timeout. It does not lock anything yet.
func OpenSourceSession(ctx context.Context, dsn DSN, schema, applicationName string, logger *slog.Logger) (*SourceSession, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := dsn.PGXConfig(applicationName)
	if err != nil {
		return nil, err
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not connect to source %s: %s", dsn.Short(), Redact(err.Error()))
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		utils.CloseAndLogWithContext(context.WithoutCancel(ctx), logger, "source connection", conn)
		return nil, fmt.Errorf("could not begin source transaction: %w", err)
	}
	s := &SourceSession{
		conn:   conn,
		tx:     tx,
		schema: schema,
		logger: logger,
	}
	for _, stmt := range SessionSetupStatements(schema) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, errors.Join(fmt.Errorf("%s: %w", stmt, err), s.Close(context.WithoutCancel(ctx)))
		}
	}
	return s, nil
}

// SessionSetupStatements scope the lock transaction: no statement timeout
// (counting a large table under the lock may take long) and a search_path
// of only the migrated schema.
func SessionSetupStatements(schema string) []string {
	return []string{
		"SET LOCAL statement_timeout TO 0",
		"SET LOCAL search_path TO " + utils.QuoteIdent(schema),
	}
}

// LockStatement locks all tables in one statement, so the set is acquired
// atomically: LOCK TABLE "a", "b" IN EXCLUSIVE MODE.
func LockStatement(tables []string) string {
	return "LOCK TABLE " + utils.QuoteJoinIdents(tables) + " IN EXCLUSIVE MODE"
}

// CountStatement is the exact row count used on both sides.
func CountStatement(schema, table string) string {
	return "SELECT COUNT(1) FROM " + utils.QuoteTable(schema, table)
}

// Lock takes an EXCLUSIVE lock on every table. It waits as long as needed
// and does not retry.
func (s *SourceSession) Lock(ctx context.Context, tables []string) error {
	if len(tables) == 0 {
		return errors.New("no tables to lock")
	}
	s.logger.Warn("trying to acquire table locks", "schema", s.schema, "tables", strings.Join(tables, ","))
	if _, err := s.tx.Exec(ctx, LockStatement(tables)); err != nil {
		s.logger.Warn("failed to acquire table lock(s)", "error", err)
		return err
	}
	s.lockedAt = time.Now()
	s.logger.Warn("table lock(s) acquired")
	return nil
}

// Count returns the exact row count of table as seen by the transaction.
func (s *SourceSession) Count(ctx context.Context, table string) (int64, error) {
	var count int64
	if err := s.tx.QueryRow(ctx, CountStatement(s.schema, table)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Close rolls the transaction back, releasing any lock, and closes the
// connection. Only the first call does any work. A connection that pgx
// already closed (a query interrupted by its context) has ended the
// transaction on the server, so its rollback error is dropped.
func (s *SourceSession) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) && !s.conn.IsClosed() {
			errs = append(errs, fmt.Errorf("rollback: %w", err))
		}
		if err := s.conn.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
		s.closeErr = errors.Join(errs...)
		if !s.lockedAt.IsZero() {
			s.logger.Warn("table lock released", "held", time.Since(s.lockedAt).Round(time.Millisecond))
		}
	})
	return s.closeErr
}
