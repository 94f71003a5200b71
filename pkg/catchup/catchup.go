// Package catchup detects when logical replication from a source schema
// to a destination schema has caught up.
//
// The detector locks every source table EXCLUSIVELY, which pauses all
// writes and reads on the source, takes an exact row count snapshot under
// that lock and then polls the destination until its counts are equal.
// The lock is released by rolling the transaction back, on every exit path.
package catchup

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrCanceled is returned when a run stops because it was canceled. The
// cause is wrapped alongside it.
var ErrCanceled = errors.New("catchup canceled")

// CancelCheck is probed at every checkpoint. A non-nil error cancels the
// run. It must be cheap and free of side effects.
type CancelCheck func() error

// Introspector lists the tables of a schema in a stable order.
type Introspector interface {
	TablesInSchema(ctx context.Context, schema string) ([]string, error)
}

// DestCounter returns the exact row count of a destination table.
type DestCounter interface {
	Count(ctx context.Context, table string) (int64, error)
}

// SourceSession is a transaction on a dedicated source connection.
// Close must roll the transaction back, which releases the lock.
type SourceSession interface {
	Lock(ctx context.Context, tables []string) error
	Count(ctx context.Context, table string) (int64, error)
	Close(ctx context.Context) error
}

// SessionOpener opens the source session, already scoped to the schema.
type SessionOpener func(ctx context.Context, applicationName string) (SourceSession, error)

// Reporter shows progress to the operator.
type Reporter interface {
	Update(lines ...string)
	Clear()
	Log(msg string)
}

// Counts maps a table name to its row count.
type Counts map[string]int64

// Mismatch is a table whose destination count differs from the snapshot.
type Mismatch struct {
	Table  string
	Source int64
	Dest   int64
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s (src=%d dst=%d)", m.Table, m.Source, m.Dest)
}

func formatMismatches(ms []Mismatch) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = m.String()
	}
	return strings.Join(parts, ", ")
}

// compareCounts returns the mismatches of sample against snapshot, in
// tables order.
func compareCounts(tables []string, snapshot, sample Counts) []Mismatch {
	var out []Mismatch
	for _, t := range tables {
		if sample[t] != snapshot[t] {
			out = append(out, Mismatch{Table: t, Source: snapshot[t], Dest: sample[t]})
		}
	}
	return out
}
