package catchup

import (
	"context"
	"strings"
	"sync"

	"github.com/block/pgcutover/pkg/metrics"
)

// recorder keeps the order of calls across all fakes of one run.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) index(e string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, got := range r.events {
		if got == e {
			return i
		}
	}
	return -1
}

func (r *recorder) count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.events {
		if strings.HasPrefix(got, prefix) {
			n++
		}
	}
	return n
}

type fakeIntrospector struct {
	rec    *recorder
	tables []string
	err    error
}

func (f *fakeIntrospector) TablesInSchema(_ context.Context, schema string) ([]string, error) {
	f.rec.add("tables:" + schema)
	return f.tables, f.err
}

// fakeDest answers the n-th count of a table from rounds[n]: round 0 is
// the pre-warm, round k the k-th poll. The last round repeats.
type fakeDest struct {
	rec     *recorder
	rounds  []Counts
	fail    func(table string, call int) error
	onCount func()

	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeDest) Count(_ context.Context, table string) (int64, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	call := f.calls[table]
	f.calls[table]++
	f.mu.Unlock()

	f.rec.add("dest-count:" + table)
	if f.onCount != nil {
		f.onCount()
	}
	if f.fail != nil {
		if err := f.fail(table, call); err != nil {
			return 0, err
		}
	}
	round := min(call, len(f.rounds)-1)
	return f.rounds[round][table], nil
}

type fakeSession struct {
	rec      *recorder
	counts   Counts
	lockErr  error
	countErr error
	closeErr error
	onCount  func()

	locked []string
}

func (f *fakeSession) Lock(_ context.Context, tables []string) error {
	f.rec.add("lock")
	f.locked = tables
	return f.lockErr
}

func (f *fakeSession) Count(_ context.Context, table string) (int64, error) {
	f.rec.add("source-count:" + table)
	if f.onCount != nil {
		f.onCount()
	}
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.counts[table], nil
}

func (f *fakeSession) Close(ctx context.Context) error {
	f.rec.add("close")
	if ctx.Err() != nil {
		f.rec.add("close-with-canceled-context")
	}
	return f.closeErr
}

type fakeReporter struct {
	rec     *recorder
	updates [][]string
	logs    []string
}

func (f *fakeReporter) Update(lines ...string) {
	f.updates = append(f.updates, lines)
}

func (f *fakeReporter) Clear() {
	f.rec.add("clear")
}

func (f *fakeReporter) Log(msg string) {
	f.rec.add("log:" + msg)
	f.logs = append(f.logs, msg)
}

func (f *fakeReporter) stillReplicating() []string {
	var out []string
	for _, u := range f.updates {
		if strings.HasPrefix(u[0], "...still replicating") {
			out = append(out, u[0])
		}
	}
	return out
}

type fakeSink struct {
	mu   sync.Mutex
	sent []metrics.MetricValue
}

func (f *fakeSink) Send(_ context.Context, m *metrics.Metrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m.Values...)
	return nil
}

func (f *fakeSink) sum(name string) float64 {
	var total float64
	for _, v := range f.sent {
		if v.Name == name {
			total += v.Value
		}
	}
	return total
}

func (f *fakeSink) last(name string) (float64, bool) {
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Name == name {
			return f.sent[i].Value, true
		}
	}
	return 0, false
}
