// Package status tracks the lifecycle of a single table operation.
package status

import (
	"sync/atomic"
)

//nolint:recvcheck // String() uses value receiver (called on State values), Get/Set use pointer receivers (atomic ops)
type State int32

// A table operation moves Planned -> Submitted -> {Succeeded, Failed}, or
// Planned -> Declined when the operator refuses a destructive statement.
// There are no retries.
const (
	Planned State = iota
	Submitted
	Succeeded
	Failed
	Declined
)

func (s State) String() string {
	switch s {
	case Planned:
		return "planned"
	case Submitted:
		return "submitted"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Declined:
		return "declined"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Declined
}

func (s *State) Get() State {
	return State(atomic.LoadInt32((*int32)(s)))
}

func (s *State) Set(newState State) {
	atomic.StoreInt32((*int32)(s), int32(newState))
}
