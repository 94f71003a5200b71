package catchup

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/block/pgcutover/pkg/dbconn"
	"github.com/block/pgcutover/pkg/metrics"
	"github.com/block/pgcutover/pkg/shell"
	"github.com/block/pgcutover/pkg/table"
	"github.com/block/pgcutover/pkg/utils"
)

// PSQLCounter counts destination rows by running psql. Going through the
// client binary lets the destination be reached the same way operators
// reach it, e.g. through a connection pooler that a long-lived driver
// connection could not use.
type PSQLCounter struct {
	Runner shell.Runner
	Argv   []string // psql command line for the destination
	Schema string
}

var _ DestCounter = (*PSQLCounter)(nil)

func (c *PSQLCounter) Count(ctx context.Context, tbl string) (int64, error) {
	lines, err := c.Runner.Run(ctx, c.Argv, dbconn.CountStatement(c.Schema, tbl)+";\n")
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, fmt.Errorf("no output counting rows of %s", tbl)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected output counting rows of %s: %q", tbl, lines[0])
	}
	return n, nil
}

// sourceIntrospector opens a short-lived database/sql pool on the source
// for each listing.
type sourceIntrospector struct {
	dsn    dbconn.DSN
	logger *slog.Logger
}

func (s *sourceIntrospector) TablesInSchema(ctx context.Context, schema string) ([]string, error) {
	db, err := dbconn.New(ctx, s.dsn)
	if err != nil {
		return nil, err
	}
	defer utils.CloseAndLog(s.logger, "source introspection pool", db)
	return table.NewIntrospector(db).TablesInSchema(ctx, schema)
}

// Config wires a Runner to real databases.
type Config struct {
	Source       dbconn.DSN
	Dest         dbconn.DSN
	Schema       string
	PollInterval time.Duration
	PSQL         string       // psql binary, "psql" when empty
	Shell        shell.Runner // runs psql, shell.Exec when nil
	Reporter     Reporter
	Metrics      metrics.Sink
	Logger       *slog.Logger
	CancelCheck  CancelCheck
}

// New returns a Runner that lists tables and locks them on cfg.Source
// and counts destination rows with psql on cfg.Dest.
func New(cfg Config) (*Runner, error) {
	if cfg.Source.IsZero() || cfg.Dest.IsZero() {
		return nil, fmt.Errorf("catchup: source and destination are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := cfg.Shell
	if runner == nil {
		runner = &shell.Exec{}
	}
	return NewRunner(Deps{
		Introspector: &sourceIntrospector{dsn: cfg.Source, logger: logger},
		Dest: &PSQLCounter{
			Runner: runner,
			Argv:   shell.PSQL(cfg.PSQL, cfg.Dest),
			Schema: cfg.Schema,
		},
		OpenSource: func(ctx context.Context, applicationName string) (SourceSession, error) {
			session, err := dbconn.OpenSourceSession(ctx, cfg.Source, cfg.Schema, applicationName, logger)
			if err != nil {
				return nil, err
			}
			return session, nil
		},
		Reporter: cfg.Reporter,
		Metrics:  cfg.Metrics,
		Logger:   logger,
	}, Options{
		Schema:       cfg.Schema,
		PollInterval: cfg.PollInterval,
		CancelCheck:  cfg.CancelCheck,
	})
}

// Detect locks the source tables of schema and returns once the
// destination has the same row counts. check is probed at every checkpoint
// and may be nil.
func Detect(ctx context.Context, source, dest dbconn.DSN, schema string, check CancelCheck) error {
	r, err := New(Config{Source: source, Dest: dest, Schema: schema, CancelCheck: check})
	if err != nil {
		return err
	}
	return r.Run(ctx)
}
