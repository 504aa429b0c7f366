package model

// JobStatus is the lifecycle state of one run's attempt to satisfy one
// catalog resource.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobError     JobStatus = "error"
	JobCancelled JobStatus = "cancelled"
)

var terminalJobStatuses = map[JobStatus]bool{
	JobDone:      true,
	JobError:     true,
	JobCancelled: true,
}

// IsTerminal reports whether a job in status s has settled.
func (s JobStatus) IsTerminal() bool {
	return terminalJobStatuses[s]
}
