// Package check provides configuration and health checks that run before
// pgcutover touches the source tables.
package check

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"sync"

	"github.com/block/pgcutover/pkg/dbconn"
)

// ScopeFlag scopes a check
type ScopeFlag uint8

const (
	ScopeNone ScopeFlag = iota
	// ScopePreRun checks only look at the configuration.
	ScopePreRun
	// ScopePreflight checks have database connections but run before any
	// lock is taken.
	ScopePreflight
)

// Resources contains the resources needed for checks
type Resources struct {
	Source dbconn.DSN
	Dest   dbconn.DSN
	Schema string
	PSQL   string
	PgDump string // empty when the command does not dump
	// For Preflight checks
	SourceDB *sql.DB
	DestDB   *sql.DB
}

type check struct {
	callback func(context.Context, Resources, *slog.Logger) error
	scope    ScopeFlag
}

var (
	checks map[string]check
	lock   sync.Mutex
)

// registerCheck registers a check (callback func) and a scope (aka time) that it is expected to be run
func registerCheck(name string, callback func(context.Context, Resources, *slog.Logger) error, scope ScopeFlag) {
	lock.Lock()
	defer lock.Unlock()
	if checks == nil {
		checks = make(map[string]check)
	}
	checks[name] = check{callback: callback, scope: scope}
}

// RunChecks runs all checks that are registered for the given scope, in
// name order, and returns the first failure.
func RunChecks(ctx context.Context, r Resources, logger *slog.Logger, scope ScopeFlag) error {
	lock.Lock()
	names := make([]string, 0, len(checks))
	for name, c := range checks {
		if c.scope == scope {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	callbacks := make([]func(context.Context, Resources, *slog.Logger) error, len(names))
	for i, name := range names {
		callbacks[i] = checks[name].callback
	}
	lock.Unlock()
	for i, callback := range callbacks {
		logger.Debug("running check", "check", names[i])
		if err := callback(ctx, r, logger); err != nil {
			return err
		}
	}
	return nil
}
