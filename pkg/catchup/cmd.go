package catchup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/block/pgcutover/pkg/check"
	"github.com/block/pgcutover/pkg/config"
	"github.com/block/pgcutover/pkg/dbconn"
	"github.com/block/pgcutover/pkg/metrics"
	"github.com/block/pgcutover/pkg/progress"
	"github.com/block/pgcutover/pkg/status"
	"github.com/block/pgcutover/pkg/utils"
)

// Catchup is the wait-for-catchup command.
type Catchup struct {
	Source        string        `name:"source" help:"Source database DSN (the replication publisher)."`
	Dest          string        `name:"dest" help:"Destination database DSN (the subscriber)."`
	Schema        string        `name:"schema" help:"Schema whose tables are compared."`
	SourceFile    string        `name:"source-file" help:"Read the source DSN from this file." type:"existingfile"`
	DestFile      string        `name:"dest-file" help:"Read the destination DSN from this file." type:"existingfile"`
	SourceService string        `name:"source-service" help:"Source service name in the pg_service.conf file."`
	DestService   string        `name:"dest-service" help:"Destination service name in the pg_service.conf file."`
	ServiceFile   string        `name:"service-file" help:"pg_service.conf to read services from (default $PGSERVICEFILE or ~/.pg_service.conf)."`
	PollInterval  time.Duration `name:"poll-interval" help:"How long to sleep between destination polls (default 1s)."`
	PSQL          string        `name:"psql" help:"psql binary used to count destination rows (default psql)."`
	ConfigFile    string        `name:"config" help:"YAML configuration file. Flags win over its values." type:"existingfile"`
	LogLevel      string        `name:"log-level" help:"debug, info, warn or error (default info)."`
	LogFormat     string        `name:"log-format" help:"text or json (default text)."`
	StatsLog      bool          `name:"stats-log" help:"Log detector metrics at debug level." default:"false"`
	MetricsAddr   string        `name:"metrics-addr" help:"Serve Prometheus metrics on this address, e.g. :9187."`
	SkipPreflight bool          `name:"skip-preflight" help:"Do not connect with database/sql to check the destination tables first, e.g. when the destination is only reachable through psql." default:"false"`
}

// resolve merges the config file, if any, with the flags and validates
// the result.
func (c *Catchup) resolve() (*config.Config, error) {
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
	cfg.Override(config.Config{
		Source:       source,
		Dest:         dest,
		Schema:       c.Schema,
		PollInterval: c.PollInterval,
		PSQL:         c.PSQL,
		Logging:      config.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat},
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Catchup) Run() error {
	cfg, err := c.resolve()
	if err != nil {
		return err
	}
	reporter := progress.New(os.Stdout)
	logger, err := cfg.Logging.NewLogger(reporter)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink metrics.Sink = &metrics.NoopSink{}
	switch {
	case c.MetricsAddr != "":
		prom := metrics.NewPrometheusSink()
		serveCtx, stopServing := context.WithCancel(ctx)
		defer stopServing()
		go func() {
			if err := prom.Serve(serveCtx, c.MetricsAddr, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		sink = prom
	case c.StatsLog:
		sink = metrics.NewLogSink(logger)
	}
	r, err := New(Config{
		Source:       cfg.SourceDSN(),
		Dest:         cfg.DestDSN(),
		Schema:       cfg.Schema,
		PollInterval: cfg.PollInterval,
		PSQL:         cfg.PSQL,
		Reporter:     reporter,
		Metrics:      sink,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	if err := c.runChecks(ctx, cfg, logger); err != nil {
		return err
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	watched := status.WatchTask(watchCtx, r, logger)
	err = r.Run(ctx)
	stopWatch()
	<-watched
	return err
}

func (c *Catchup) runChecks(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	res := check.Resources{
		Source: cfg.SourceDSN(),
		Dest:   cfg.DestDSN(),
		Schema: cfg.Schema,
		PSQL:   cfg.PSQL,
	}
	if err := check.RunChecks(ctx, res, logger, check.ScopePreRun); err != nil {
		return fmt.Errorf("pre-run check failed: %w", err)
	}
	if c.SkipPreflight {
		return nil
	}
	sourceDB, err := dbconn.New(ctx, res.Source)
	if err != nil {
		return err
	}
	defer utils.CloseAndLog(logger, "source preflight pool", sourceDB)
	destDB, err := dbconn.New(ctx, res.Dest)
	if err != nil {
		return err
	}
	defer utils.CloseAndLog(logger, "destination preflight pool", destDB)
	res.SourceDB, res.DestDB = sourceDB, destDB
	if err := check.RunChecks(ctx, res, logger, check.ScopePreflight); err != nil {
		return fmt.Errorf("preflight check failed: %w", err)
	}
	return nil
}
