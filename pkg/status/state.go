package status

import "sync/atomic"

// State is the phase of one catch-up detection run.
//
//nolint:recvcheck // String() uses a value receiver, Get/Set use pointer receivers (atomic ops)
type State int32

const (
	Idle State = iota
	Enumerating
	PreWarming
	Locking
	Snapshotting
	Polling
	Converged
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Enumerating:
		return "enumerating"
	case PreWarming:
		return "preWarming"
	case Locking:
		return "locking"
	case Snapshotting:
		return "snapshotting"
	case Polling:
		return "polling"
	case Converged:
		return "converged"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s >= Converged
}

func (s *State) Get() State {
	return State(atomic.LoadInt32((*int32)(s)))
}

func (s *State) Set(newState State) {
	atomic.StoreInt32((*int32)(s), int32(newState))
}
