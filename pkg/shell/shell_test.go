package shell

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/block/pgcutover/pkg/dbconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestLines(t *testing.T) {
	assert.Equal(t, []string{}, Lines(""))
	assert.Equal(t, []string{}, Lines("\n"))
	assert.Equal(t, []string{"5"}, Lines("5\n"))
	assert.Equal(t, []string{"a", "b"}, Lines("a\r\nb\r\n"))
	assert.Equal(t, []string{"a", "", "b"}, Lines("a\n\nb"))
}

func TestRunCapturesStdout(t *testing.T) {
	e := &Exec{}
	lines, err := e.Run(t.Context(), []string{"cat"}, "12\n34\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"12", "34"}, lines)
}

func TestRunEnv(t *testing.T) {
	e := &Exec{Env: []string{"PGCUTOVER_TEST_VAR=hello"}}
	lines, err := e.Run(t.Context(), []string{"sh", "-c", "echo $PGCUTOVER_TEST_VAR"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, lines)
}

func TestRunFailure(t *testing.T) {
	e := &Exec{}
	_, err := e.Run(t.Context(), []string{"sh", "-c", "echo boom >&2; exit 3", "postgres://u:hunter2@db/x"}, "")
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, "boom", exitErr.Stderr)
	assert.NotContains(t, err.Error(), "hunter2")
	assert.Contains(t, err.Error(), "postgres://u@db/x")

	var osErr *exec.ExitError
	require.ErrorAs(t, err, &osErr)
	assert.Equal(t, 3, osErr.ExitCode())
}

func TestRunEmptyCommand(t *testing.T) {
	_, err := (&Exec{}).Run(t.Context(), nil, "")
	assert.Error(t, err)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := (&Exec{}).Run(ctx, []string{"sleep", "10"}, "")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPipe(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.sql")
	err := (&Exec{}).Pipe(t.Context(),
		[]string{"printf", "CREATE TABLE a();\nCREATE TABLE b();\n"},
		[]string{"sh", "-c", "cat > " + out},
	)
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE a();\nCREATE TABLE b();\n", string(data))
}

func TestPipeProducerFails(t *testing.T) {
	err := (&Exec{}).Pipe(t.Context(),
		[]string{"sh", "-c", "echo partial; echo dump failed >&2; exit 2"},
		[]string{"cat"},
	)
	require.Error(t, err)
	var exitErr *ExitError
	assert.True(t, errors.As(err, &exitErr))
}

func TestPipeConsumerFails(t *testing.T) {
	err := (&Exec{}).Pipe(t.Context(),
		[]string{"printf", "SELECT 1;\n"},
		[]string{"sh", "-c", "cat > /dev/null; echo apply failed >&2; exit 1"},
	)
	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, "apply failed", exitErr.Stderr)
}

func TestCommandLines(t *testing.T) {
	dsn := dbconn.MustParseDSN("postgres://u:p@h:5432/db")
	assert.Equal(t,
		[]string{"psql", "--dbname=postgres://u:p@h:5432/db", "-X", "-A", "-t", "-q", "-v", "ON_ERROR_STOP=1"},
		PSQL("", dsn))
	assert.Equal(t,
		[]string{"/opt/pg/bin/psql", "--dbname=postgres://u:p@h:5432/db", "-X", "-A", "-t", "-q", "-v", "ON_ERROR_STOP=1", "--single-transaction"},
		PSQL("/opt/pg/bin/psql", dsn, "--single-transaction"))
	assert.Equal(t,
		[]string{"pg_dump", "--dbname=postgres://u:p@h:5432/db", "--schema-only"},
		PgDump("", dsn, "--schema-only"))
}
