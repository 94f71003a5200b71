// Package ddl copies the DDL of one schema from the source database to the
// destination database.
package ddl

import (
	"context"
	"errors"
	"fmt"

	"github.com/block/pgcutover/pkg/dbconn"
	"github.com/block/pgcutover/pkg/shell"
)

// Reporter receives the one progress line printed before the copy.
type Reporter interface {
	Log(msg string)
}

// Copier dumps a schema with pg_dump and restores it with psql in a single
// transaction on the destination.
type Copier struct {
	Piper    shell.Piper
	PgDump   string // pg_dump binary
	PSQL     string // psql binary
	Reporter Reporter
}

// DumpCommand is pg_dump --schema-only for one schema.
func DumpCommand(bin string, source dbconn.DSN, schema string) []string {
	return shell.PgDump(bin, source, "--schema-only", "-n", schema)
}

// RestoreCommand applies a SQL script read from stdin atomically.
func RestoreCommand(bin string, dest dbconn.DSN) []string {
	return []string{
		defaultString(bin, shell.DefaultPSQL), "--dbname=" + dest.Raw(),
		"-X", "-q", "-v", "ON_ERROR_STOP=1", "--single-transaction",
	}
}

// Copy streams the schema-only dump of schema from source into dest. Any
// failure on either side of the pipe fails the copy, and the destination
// transaction is not committed.
func (c *Copier) Copy(ctx context.Context, source, dest dbconn.DSN, schema string) error {
	if schema == "" {
		return errors.New("ddl: schema is required")
	}
	if c.Reporter != nil {
		c.Reporter.Log(fmt.Sprintf("Copying DDL for %s %s -> %s...", schema, source.Short(), dest.Short()))
	}
	piper := c.Piper
	if piper == nil {
		piper = &shell.Exec{}
	}
	if err := piper.Pipe(ctx, DumpCommand(c.PgDump, source, schema), RestoreCommand(c.PSQL, dest)); err != nil {
		return fmt.Errorf("ddl: copy schema %s: %w", schema, err)
	}
	return nil
}

// Copy copies the DDL of schema with the default client binaries from PATH.
func Copy(ctx context.Context, piper shell.Piper, source, dest dbconn.DSN, schema string) error {
	return (&Copier{Piper: piper}).Copy(ctx, source, dest, schema)
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
