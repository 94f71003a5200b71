package shell

import "github.com/block/pgcutover/pkg/dbconn"

const (
	DefaultPSQL   = "psql"
	DefaultPgDump = "pg_dump"
)

// PSQL is a psql command line that reads SQL from stdin and prints bare,
// unaligned tuples: no psqlrc, no headers, stop on the first error.
func PSQL(bin string, dsn dbconn.DSN, extra ...string) []string {
	if bin == "" {
		bin = DefaultPSQL
	}
	argv := []string{bin, "--dbname=" + dsn.Raw(), "-X", "-A", "-t", "-q", "-v", "ON_ERROR_STOP=1"}
	return append(argv, extra...)
}

// PgDump is a pg_dump command line writing a plain SQL script to stdout.
func PgDump(bin string, dsn dbconn.DSN, extra ...string) []string {
	if bin == "" {
		bin = DefaultPgDump
	}
	return append([]string{bin, "--dbname=" + dsn.Raw()}, extra...)
}
