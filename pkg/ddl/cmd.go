package ddl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/block/pgcutover/pkg/check"
	"github.com/block/pgcutover/pkg/config"
	"github.com/block/pgcutover/pkg/progress"
	"github.com/block/pgcutover/pkg/shell"
)

// CopyDDL is the copy-ddl command.
type CopyDDL struct {
	Source        string `name:"source" help:"Source database DSN."`
	Dest          string `name:"dest" help:"Destination database DSN."`
	Schema        string `name:"schema" help:"Schema to copy."`
	SourceFile    string `name:"source-file" help:"Read the source DSN from this file." type:"existingfile"`
	DestFile      string `name:"dest-file" help:"Read the destination DSN from this file." type:"existingfile"`
	SourceService string `name:"source-service" help:"Source service name in the pg_service.conf file."`
	DestService   string `name:"dest-service" help:"Destination service name in the pg_service.conf file."`
	ServiceFile   string `name:"service-file" help:"pg_service.conf to read services from."`
	PgDump        string `name:"pg-dump" help:"pg_dump binary (default pg_dump)."`
	PSQL          string `name:"psql" help:"psql binary (default psql)."`
	ConfigFile    string `name:"config" help:"YAML configuration file. Flags win over its values." type:"existingfile"`
}

func (c *CopyDDL) resolve() (*config.Config, error) {
	cfg := &config.Config{}
	if c.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(c.ConfigFile); err != nil {
			return nil, err
		}
	}
	source, err := config.Endpoint{DSN: c.Source, File: c.SourceFile, Service: c.SourceService}.Resolve(c.ServiceFile)
	if err != nil {
		return nil, err
	}
	dest, err := config.Endpoint{DSN: c.Dest, File: c.DestFile, Service: c.DestService}.Resolve(c.ServiceFile)
	if err != nil {
		return nil, err
	}
	cfg.Override(config.Config{Source: source, Dest: dest, Schema: c.Schema, PgDump: c.PgDump, PSQL: c.PSQL})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *CopyDDL) Run() error {
	cfg, err := c.resolve()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res := check.Resources{
		Source: cfg.SourceDSN(),
		Dest:   cfg.DestDSN(),
		Schema: cfg.Schema,
		PSQL:   cfg.PSQL,
		PgDump: cfg.PgDump,
	}
	if err := check.RunChecks(ctx, res, slog.Default(), check.ScopePreRun); err != nil {
		return fmt.Errorf("pre-run check failed: %w", err)
	}
	copier := &Copier{
		Piper:    &shell.Exec{},
		PgDump:   cfg.PgDump,
		PSQL:     cfg.PSQL,
		Reporter: progress.New(os.Stdout),
	}
	return copier.Copy(ctx, cfg.SourceDSN(), cfg.DestDSN(), cfg.Schema)
}
