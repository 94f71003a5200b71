package catchup

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/block/pgcutover/pkg/dbconn"
	"github.com/block/pgcutover/pkg/table"
	"github.com/block/pgcutover/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShell struct {
	argv  []string
	stdin string
	out   []string
	err   error
}

func (f *fakeShell) Run(_ context.Context, argv []string, stdin string) ([]string, error) {
	f.argv, f.stdin = argv, stdin
	return f.out, f.err
}

func TestPSQLCounter(t *testing.T) {
	sh := &fakeShell{out: []string{"42"}}
	c := &PSQLCounter{Runner: sh, Argv: []string{"psql", "--dbname=x"}, Schema: "billing"}
	n, err := c.Count(t.Context(), "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, []string{"psql", "--dbname=x"}, sh.argv)
	assert.Equal(t, `SELECT COUNT(1) FROM "billing"."orders";`+"\n", sh.stdin)

	sh.out = []string{" 7 ", "ignored"}
	n, err = c.Count(t.Context(), "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestPSQLCounterErrors(t *testing.T) {
	sh := &fakeShell{out: []string{}}
	c := &PSQLCounter{Runner: sh, Argv: []string{"psql"}, Schema: "billing"}
	_, err := c.Count(t.Context(), "orders")
	assert.ErrorContains(t, err, "no output counting rows of orders")

	sh.out = []string{"ERROR:  relation does not exist"}
	_, err = c.Count(t.Context(), "orders")
	assert.ErrorContains(t, err, "unexpected output counting rows of orders")

	boom := errors.New("exit status 3")
	sh.err = boom
	_, err = c.Count(t.Context(), "orders")
	assert.ErrorIs(t, err, boom)
}

func TestNewRequiresEndpoints(t *testing.T) {
	_, err := New(Config{Schema: "s"})
	assert.Error(t, err)
	_, err = New(Config{Source: dbconn.MustParseDSN("postgres://a@h/db"), Schema: "s"})
	assert.Error(t, err)

	r, err := New(Config{
		Source: dbconn.MustParseDSN("postgres://a@src/db"),
		Dest:   dbconn.MustParseDSN("postgres://a@dst/db"),
		Schema: "s",
		PSQL:   "/opt/psql",
	})
	require.NoError(t, err)
	counter, ok := r.dest.(*PSQLCounter)
	require.True(t, ok)
	assert.Equal(t, "/opt/psql", counter.Argv[0])
	assert.Equal(t, "--dbname=postgres://a@dst/db", counter.Argv[1])
}

func TestDetectEmptySchemaIntegration(t *testing.T) {
	dsn := testutils.PostgresDSN(t)
	schema := testutils.CreateUniqueSchema(t, dsn)
	d := dbconn.MustParseDSN(dsn)
	require.NoError(t, Detect(t.Context(), d, d, schema, nil))
}

func TestDetectMissingSchemaIntegration(t *testing.T) {
	dsn := testutils.PostgresDSN(t)
	d := dbconn.MustParseDSN(dsn)
	err := Detect(t.Context(), d, d, "pgcutover_no_such_schema", nil)
	assert.ErrorIs(t, err, table.ErrSchemaNotFound)
}

func TestDetectIntegration(t *testing.T) {
	dsn := testutils.PostgresDSN(t)
	psql, err := exec.LookPath("psql")
	if err != nil {
		t.Skip("psql not in PATH")
	}
	schema := testutils.CreateUniqueSchema(t, dsn)
	testutils.RunSQL(t, dsn, `CREATE TABLE "`+schema+`".orders (id bigint PRIMARY KEY)`)
	testutils.RunSQL(t, dsn, `CREATE TABLE "`+schema+`".users (id bigint PRIMARY KEY)`)
	testutils.RunSQL(t, dsn, `INSERT INTO "`+schema+`".orders SELECT generate_series(1, 100)`)

	// Source and destination are the same database, so the counts match
	// on the first poll.
	d := dbconn.MustParseDSN(dsn)
	reporter := &fakeReporter{rec: &recorder{}}
	r, err := New(Config{Source: d, Dest: d, Schema: schema, PSQL: psql, Reporter: reporter})
	require.NoError(t, err)
	require.NoError(t, r.Run(t.Context()))
	assert.Equal(t, int64(1), r.iterations.Load())
	assert.Contains(t, reporter.logs, convergedMessage)
}

func TestCatchupResolve(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "catchup.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(
		"source: postgres://a:pw@src/app\ndest: postgres://a:pw@dst/app\nschema: billing\npoll_interval: 3s\n"), 0o600))

	c := &Catchup{ConfigFile: cfgFile, Schema: "payments", LogFormat: "json"}
	cfg, err := c.resolve()
	require.NoError(t, err)
	assert.Equal(t, "payments", cfg.Schema)
	assert.Equal(t, "postgres://a:pw@src/app", cfg.Source)
	assert.Equal(t, "3s", cfg.PollInterval.String())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "psql", cfg.PSQL)

	destFile := filepath.Join(dir, "dest.dsn")
	require.NoError(t, os.WriteFile(destFile, []byte("postgres://b@other/app\n"), 0o600))
	c = &Catchup{Source: "postgres://a@src/app", DestFile: destFile, Schema: "s"}
	cfg, err = c.resolve()
	require.NoError(t, err)
	assert.Equal(t, "other:5432/app", cfg.DestDSN().Short())

	_, err = (&Catchup{Source: "postgres://a@src/app", Schema: "s"}).resolve()
	assert.ErrorContains(t, err, "dest is required")

	_, err = (&Catchup{Source: "postgres://a@src/app", Dest: "postgres://b@dst/app", DestFile: destFile, Schema: "s"}).resolve()
	assert.Error(t, err)
}
