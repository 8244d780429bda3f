package ib

import (
	"context"
	"fmt"

	"ib-go/internal/model"
)

// Task statuses.
const (
	TaskRunning = "running"
	TaskSuccess = "success"
	TaskError   = "error"
)

// TaskLog records mutating operations so they can be listed later.
type TaskLog struct {
	db    Database
	clock Clock
}

// NewTaskLog creates a TaskLog backed by db.
func NewTaskLog(db Database, clock Clock) *TaskLog {
	return &TaskLog{db: db, clock: clock}
}

// Start records the beginning of an operation and returns the stored task.
func (l *TaskLog) Start(ctx context.Context, operation, parameters string) (*model.Task, error) {
	task := &model.Task{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  l.clock.Now(),
		Status:     TaskRunning,
	}
	err := l.db.Update(ctx, func(tx Tx) error {
		if _, err := tx.InsertTask(task); err != nil {
			return fmt.Errorf("inserting task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Finish stamps a task with its final status.
func (l *TaskLog) Finish(ctx context.Context, task *model.Task, status string) error {
	finished := l.clock.Now()
	task.FinishedAt = &finished
	task.Status = status
	return l.db.Update(ctx, func(tx Tx) error {
		if err := tx.PutTask(task); err != nil {
			return fmt.Errorf("finishing task %d: %w", task.ID, err)
		}
		return nil
	})
}

// List returns the most recent tasks first.
func (l *TaskLog) List(ctx context.Context, limit int) ([]*model.Task, error) {
	var tasks []*model.Task
	err := l.db.View(ctx, func(tx Tx) error {
		var err error
		tasks, err = tx.ListTasks(limit)
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}
