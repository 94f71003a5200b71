package catchup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/block/pgcutover/pkg/metrics"
	"github.com/block/pgcutover/pkg/status"
	"github.com/google/uuid"
)

const (
	DefaultPollInterval = time.Second

	lockAnnouncement = "ATTENTION: Locking source tables EXCLUSIVELY (pausing writes and reads)..."
	convergedMessage = "Counts of rows are now identical in source and destination tables"
	completedMessage = "Incremental replication completed!"
)

// Deps are the collaborators of a Runner.
type Deps struct {
	Introspector Introspector
	Dest         DestCounter
	OpenSource   SessionOpener
	Reporter     Reporter     // optional
	Metrics      metrics.Sink // optional
	Logger       *slog.Logger // optional
}

// Options configure one run.
type Options struct {
	Schema       string
	PollInterval time.Duration // DefaultPollInterval when zero
	CancelCheck  CancelCheck   // optional
}

// Runner performs one detection run. It implements status.Task.
type Runner struct {
	introspector Introspector
	dest         DestCounter
	openSource   SessionOpener
	reporter     Reporter
	metricsSink  metrics.Sink
	logger       *slog.Logger

	schema       string
	pollInterval time.Duration
	cancelCheck  CancelCheck
	id           string

	status     status.State
	tables     atomic.Int64
	mismatched atomic.Int64
	iterations atomic.Int64
	lockedAt   atomic.Int64 // unix nanos, 0 while not locked
	releasedAt atomic.Int64

	cancelMu  sync.Mutex
	cancel    context.CancelCauseFunc
	cancelled bool
}

var _ status.Task = (*Runner)(nil)

var errCancelRequested = errors.New("cancel requested")

type discardReporter struct{}

func (discardReporter) Update(...string) {}
func (discardReporter) Clear()           {}
func (discardReporter) Log(string)       {}

func NewRunner(deps Deps, opts Options) (*Runner, error) {
	if deps.Introspector == nil || deps.Dest == nil || deps.OpenSource == nil {
		return nil, errors.New("catchup: introspector, destination counter and source opener are required")
	}
	if opts.Schema == "" {
		return nil, errors.New("catchup: schema is required")
	}
	if opts.PollInterval < 0 {
		return nil, fmt.Errorf("catchup: poll interval must be positive, got %s", opts.PollInterval)
	}
	r := &Runner{
		introspector: deps.Introspector,
		dest:         deps.Dest,
		openSource:   deps.OpenSource,
		reporter:     deps.Reporter,
		metricsSink:  deps.Metrics,
		schema:       opts.Schema,
		pollInterval: opts.PollInterval,
		cancelCheck:  opts.CancelCheck,
		id:           uuid.New().String(),
	}
	if r.reporter == nil {
		r.reporter = discardReporter{}
	}
	if r.metricsSink == nil {
		r.metricsSink = &metrics.NoopSink{}
	}
	if r.pollInterval == 0 {
		r.pollInterval = DefaultPollInterval
	}
	r.SetLogger(deps.Logger)
	return r, nil
}

func (r *Runner) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.logger = logger.With("run_id", r.id, "schema", r.schema)
}

// ApplicationName identifies the source session of this run in
// pg_stat_activity.
func (r *Runner) ApplicationName() string {
	return "pgcutover-catchup-" + r.id
}

// Run waits until the destination has every row the source has. It
// returns nil once the counts converged, an error wrapping ErrCanceled if
// it was canceled, and the first failure otherwise. A final status line is
// always reported.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	r.cancelMu.Lock()
	r.cancel = cancel
	if r.cancelled {
		cancel(errCancelRequested)
	}
	r.cancelMu.Unlock()

	err := r.run(ctx)
	r.finish(err)
	return err
}

func (r *Runner) run(ctx context.Context) (err error) {
	r.status.Set(status.Enumerating)
	tables, err := r.introspector.TablesInSchema(ctx, r.schema)
	if err != nil {
		return r.failure(ctx, err, "list tables in schema %s", r.schema)
	}
	r.tables.Store(int64(len(tables)))
	if len(tables) == 0 {
		r.logger.Info("schema has no tables, nothing to wait for")
		return nil
	}
	if err := r.checkpoint(ctx); err != nil {
		return err
	}

	r.status.Set(status.PreWarming)
	if err := r.preWarm(ctx, tables); err != nil {
		return err
	}
	r.reporter.Clear()

	r.status.Set(status.Locking)
	session, err := r.openSource(ctx, r.ApplicationName())
	if err != nil {
		return r.failure(ctx, err, "open source session")
	}
	defer func() {
		// The run context may be canceled already; the lock must still go.
		if closeErr := session.Close(context.WithoutCancel(ctx)); closeErr != nil {
			r.logger.Error("could not release source session", "error", closeErr)
			err = errors.Join(err, fmt.Errorf("catchup: release source session: %w", closeErr))
		}
		if r.lockedAt.Load() != 0 {
			r.releasedAt.Store(time.Now().UnixNano())
		}
	}()
	if err := r.checkpoint(ctx); err != nil {
		return err
	}

	r.reporter.Log(lockAnnouncement)
	if err := session.Lock(ctx, tables); err != nil {
		return r.failure(ctx, err, "lock source tables")
	}
	r.lockedAt.Store(time.Now().UnixNano())
	if err := r.checkpoint(ctx); err != nil {
		return err
	}

	r.status.Set(status.Snapshotting)
	snapshot, err := r.snapshot(ctx, session, tables)
	if err != nil {
		return err
	}

	r.status.Set(status.Polling)
	return r.poll(ctx, tables, snapshot)
}

// preWarm counts every destination table once so that the precise counts
// taken later, while the source is locked, are served from a warm cache.
func (r *Runner) preWarm(ctx context.Context, tables []string) error {
	counts := make([]string, 0, len(tables))
	for _, table := range tables {
		r.reporter.Update(
			"...destination tables counts: "+strings.Join(counts, ", "),
			"...pre-warming destination table "+table+" to get its row count quicker...",
		)
		n, err := r.dest.Count(ctx, table)
		if err != nil {
			return r.failure(ctx, err, "pre-warm destination table %s", table)
		}
		counts = append(counts, fmt.Sprintf("%s:%d", table, n))
		if err := r.checkpoint(ctx); err != nil {
			return err
		}
	}
	return nil
}

// snapshot must only run once the lock is held.
func (r *Runner) snapshot(ctx context.Context, session SourceSession, tables []string) (Counts, error) {
	snapshot := make(Counts, len(tables))
	var total int64
	for _, table := range tables {
		r.reporter.Update("...getting precise row count for source table " + table + "...")
		n, err := session.Count(ctx, table)
		if err != nil {
			return nil, r.failure(ctx, err, "snapshot source table %s", table)
		}
		snapshot[table] = n
		total += n
		if err := r.checkpoint(ctx); err != nil {
			return nil, err
		}
	}
	r.logger.Info("source row counts captured under lock", "tables", len(tables), "rows", total)
	metrics.SendWithTimeout(ctx, r.metricsSink, &metrics.Metrics{Values: []metrics.MetricValue{
		{Name: metrics.SnapshotRowsMetricName, Value: float64(total), Type: metrics.GAUGE},
	}}, r.logger)
	return snapshot, nil
}

func (r *Runner) poll(ctx context.Context, tables []string, snapshot Counts) error {
	var previous []Mismatch
	for {
		current, err := r.sample(ctx, tables, snapshot, previous)
		if err != nil {
			return err
		}
		r.iterations.Add(1)
		r.mismatched.Store(int64(len(current)))
		r.sendPollMetrics(ctx, len(current))
		if len(current) == 0 {
			r.reporter.Clear()
			r.reporter.Log(convergedMessage)
			return nil
		}
		r.logger.Debug("destination still behind", "mismatches", formatMismatches(current))
		previous = current
		if err := sleep(ctx, r.pollInterval); err != nil {
			return r.canceled(ctx)
		}
		if err := r.checkpoint(ctx); err != nil {
			return err
		}
	}
}

// sample counts every destination table and returns the tables that do
// not match snapshot. While it runs, the progress shows the mismatches of
// the previous iteration, or the ones found so far if there is none.
func (r *Runner) sample(ctx context.Context, tables []string, snapshot Counts, previous []Mismatch) ([]Mismatch, error) {
	counts := make(Counts, len(tables))
	for i, table := range tables {
		shown := previous
		if len(shown) == 0 {
			shown = compareCounts(tables[:i], snapshot, counts)
		}
		r.reporter.Update(
			"...still replicating "+formatMismatches(shown),
			"...getting precise row count for destination table "+table+"...",
		)
		n, err := r.dest.Count(ctx, table)
		if err != nil {
			return nil, r.failure(ctx, err, "count destination table %s", table)
		}
		counts[table] = n
		if err := r.checkpoint(ctx); err != nil {
			return nil, err
		}
	}
	return compareCounts(tables, snapshot, counts), nil
}

func (r *Runner) sendPollMetrics(ctx context.Context, mismatched int) {
	metrics.SendWithTimeout(ctx, r.metricsSink, &metrics.Metrics{Values: []metrics.MetricValue{
		{Name: metrics.MismatchedTablesMetricName, Value: float64(mismatched), Type: metrics.GAUGE},
		{Name: metrics.PollIterationsMetricName, Value: 1, Type: metrics.COUNTER},
		{Name: metrics.LockHeldSecondsMetricName, Value: r.lockHeld().Seconds(), Type: metrics.GAUGE},
	}}, r.logger)
}

// checkpoint returns an error wrapping ErrCanceled if the context is done
// or the cancel check fires.
func (r *Runner) checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return r.canceled(ctx)
	}
	if r.cancelCheck != nil {
		if err := r.cancelCheck(); err != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, err)
		}
	}
	return nil
}

func (r *Runner) canceled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
}

// failure wraps err, unless the run was canceled meanwhile: a query
// interrupted by cancellation is reported as a cancellation.
func (r *Runner) failure(ctx context.Context, err error, format string, args ...any) error {
	if ctx.Err() != nil {
		return r.canceled(ctx)
	}
	return fmt.Errorf("catchup: %s: %w", fmt.Sprintf(format, args...), err)
}

func (r *Runner) finish(err error) {
	r.reporter.Clear()
	switch {
	case err == nil:
		r.status.Set(status.Converged)
		r.logger.Info("replication caught up", "poll_iterations", r.iterations.Load(), "lock_held", r.lockHeld().Round(time.Millisecond))
		r.reporter.Log(completedMessage)
	case errors.Is(err, ErrCanceled):
		r.status.Set(status.Cancelled)
		r.logger.Warn("catchup canceled", "error", err)
		r.reporter.Log("Cancelled: " + err.Error())
	default:
		r.status.Set(status.Failed)
		r.logger.Error("catchup failed", "error", err)
		r.reporter.Log("Failed: " + err.Error())
	}
}

// lockHeld is how long the source lock has been held, or was held if it
// has been released already.
func (r *Runner) lockHeld() time.Duration {
	locked := r.lockedAt.Load()
	if locked == 0 {
		return 0
	}
	end := r.releasedAt.Load()
	if end == 0 {
		end = time.Now().UnixNano()
	}
	return time.Duration(end - locked)
}

// Cancel stops the run at its next checkpoint. The lock is still released.
// Calling it before Run makes Run stop right away.
func (r *Runner) Cancel() {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	r.cancelled = true
	if r.cancel != nil {
		r.cancel(errCancelRequested)
	}
}

func (r *Runner) Progress() status.Progress {
	state := r.status.Get()
	var summary string
	switch state {
	case status.Polling:
		summary = fmt.Sprintf("%d/%d tables still replicating after %d checks, lock held %s",
			r.mismatched.Load(), r.tables.Load(), r.iterations.Load(), r.lockHeld().Round(time.Second))
	case status.Snapshotting, status.Locking:
		summary = fmt.Sprintf("%d tables, lock held %s", r.tables.Load(), r.lockHeld().Round(time.Second))
	default:
		summary = fmt.Sprintf("%d tables", r.tables.Load())
	}
	return status.Progress{
		CurrentState: state,
		Summary:      summary,
	}
}

func (r *Runner) Status() string {
	p := r.Progress()
	return fmt.Sprintf("catchup schema=%s state=%s %s", r.schema, p.CurrentState, p.Summary)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
