package scheduler

import (
	"context"
	"errors"
	"fmt"
)

// IsCancellation reports whether err is a cooperative cancellation.
// Cancellation is never a failure: a cancelled job settles as cancelled,
// not as error.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// BlockedError marks a job whose dependencies can never be satisfied
// within its batch — an unsatisfiable dependency graph, usually caused by
// a failed or cancelled upstream job.
type BlockedError struct {
	Key string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("scheduler: resource %q blocked: dependency never satisfied", e.Key)
}
