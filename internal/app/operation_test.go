package app

import (
	"errors"
	"testing"

	"ib-go/internal/ib"
	"ib-go/internal/model"
)

func TestNewOperation(t *testing.T) {
	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{
			name:       "with parameters",
			operation:  "post import",
			parameters: "posts.json",
		},
		{
			name:       "empty parameters",
			operation:  "fav add",
			parameters: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.operation, tt.parameters)

			if op.Name != tt.operation {
				t.Errorf("Name = %q, want %q", op.Name, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != ib.TaskSuccess {
				t.Errorf("Status = %q, want %q", op.Status, ib.TaskSuccess)
			}
			if op.Persisted() {
				t.Error("new operation reports Persisted() = true")
			}
		})
	}
}

func TestOperation_Persisted(t *testing.T) {
	op := NewOperation("fav add", "")
	op.task = &model.Task{ID: 1}
	if !op.Persisted() {
		t.Error("Persisted() = false with a recorded task")
	}
}

func TestOperation_Fail(t *testing.T) {
	op := NewOperation("fav rm", "3")

	if err := op.Fail(nil); err != nil {
		t.Errorf("Fail(nil) = %v", err)
	}
	if op.Status != ib.TaskSuccess {
		t.Errorf("Status after Fail(nil) = %q, want %q", op.Status, ib.TaskSuccess)
	}

	boom := errors.New("boom")
	if err := op.Fail(boom); err != boom {
		t.Errorf("Fail() = %v, want the same error", err)
	}
	if op.Status != ib.TaskError {
		t.Errorf("Status = %q, want %q", op.Status, ib.TaskError)
	}
}
