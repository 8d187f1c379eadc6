package domain

import "time"

type State string

const (
	StatePending   State = "pending"
	StateClaimed   State = "claimed"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Job is a unit of delayed work held by the job store. Queue selects the
// handler, DedupKey (if set) allows at most one pending job per queue.
type Job struct {
	ID         int64
	Queue      string
	Payload    []byte
	Due        time.Time
	DedupKey   string
	State      State
	Attempts   int
	LastError  string
	LeaseOwner string
	LeaseUntil time.Time
}
