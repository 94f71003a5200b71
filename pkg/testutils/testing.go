// Package testutils contains some common utilities used exclusively
// by the test suite.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

// PostgresDSN returns the DSN of a scratch PostgreSQL database from
// $PG_TEST_DSN, skipping the test when it is not set.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set, skipping PostgreSQL integration test")
	}
	return dsn
}

// CreateUniqueSchema creates a schema named after the test and drops it
// again on cleanup. It returns the schema name.
func CreateUniqueSchema(t *testing.T, dsn string) string {
	t.Helper()
	schema := fmt.Sprintf("t_%s_%d",
		strings.NewReplacer("/", "_", "-", "_").Replace(strings.ToLower(t.Name())),
		os.Getpid())
	RunSQL(t, dsn, "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
	RunSQL(t, dsn, "CREATE SCHEMA "+schema)
	t.Cleanup(func() {
		db, err := sql.Open("postgres", dsn)
		require.NoError(t, err)
		defer func() {
			_ = db.Close()
		}()
		_, err = db.ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
		require.NoError(t, err)
	})
	return schema
}

// RunSQL runs stmt against dsn and fails the test on error.
func RunSQL(t *testing.T, dsn, stmt string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()
	_, err = db.ExecContext(t.Context(), stmt)
	require.NoError(t, err)
}
