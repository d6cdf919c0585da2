package task

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateTask = errors.New("duplicate task id")
	ErrNotProcessing = errors.New("task is not processing")
)

// ValidationError carries the individual violations of a rejected
// submission.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	msg := "invalid task config"
	for _, v := range e.Violations {
		msg += ": " + v
	}
	return msg
}
