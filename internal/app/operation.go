package app

import (
	"ib-go/internal/ib"
	"ib-go/internal/model"
)

// Operation tracks a CLI command that may mutate the database.
// Operations live in memory until the command first writes; only then are they
// recorded as a task, so read-only commands leave no history.
type Operation struct {
	Name       string
	Parameters string
	Status     string // ib.TaskSuccess or ib.TaskError

	task *model.Task
}

// NewOperation creates a new in-memory operation.
func NewOperation(name, parameters string) *Operation {
	return &Operation{
		Name:       name,
		Parameters: parameters,
		Status:     ib.TaskSuccess,
	}
}

// Persisted returns true if this operation has been recorded as a task.
func (op *Operation) Persisted() bool {
	return op.task != nil
}

// Fail marks the operation as failed if err is non-nil, and returns err.
func (op *Operation) Fail(err error) error {
	if err != nil {
		op.Status = ib.TaskError
	}
	return err
}
