package model

import "time"

// Progress aggregates job statuses for the current run.
type Progress struct {
	Pending   int `json:"pending"`
	Loading   int `json:"loading"`
	Done      int `json:"done"`
	Errored   int `json:"errored"`
	Cancelled int `json:"cancelled"`
}

// RunMeta carries timing information for the current run.
type RunMeta struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	BootedAt   time.Time `json:"booted_at"`
}

// Snapshot is a point-in-time copy of the runtime state. It is safe to
// retain: the Resources map is always a fresh copy.
type Snapshot struct {
	Phase     Phase                `json:"phase"`
	Scope     Scope                `json:"scope"`
	IsReady   bool                 `json:"is_ready"`
	Err       string               `json:"error,omitempty"`
	ErrKey    string               `json:"error_key,omitempty"`
	Progress  Progress             `json:"progress"`
	Resources map[string]JobStatus `json:"resources"`
	RunID     uint64               `json:"run_id"`
	RunMeta   RunMeta              `json:"run_meta"`
}

// ComputeProgress tallies the resource statuses of a snapshot-in-progress.
func ComputeProgress(resources map[string]JobStatus) Progress {
	var p Progress
	for _, st := range resources {
		switch st {
		case JobPending:
			p.Pending++
		case JobRunning:
			p.Loading++
		case JobDone:
			p.Done++
		case JobError:
			p.Errored++
		case JobCancelled:
			p.Cancelled++
		}
	}
	return p
}
