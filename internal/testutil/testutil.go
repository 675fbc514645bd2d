// Package testutil provides fixtures shared by autopilot tests: task files
// in temporary directories and a scripted worker agent.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/autopilot/internal/task"
)

// WriteTasksFile writes tasks as a YAML tasks file in a fresh temporary
// directory and returns its path.
func WriteTasksFile(t *testing.T, tasks ...task.Task) string {
	t.Helper()

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string][]task.Task{"tasks": tasks}); err != nil {
		t.Fatalf("failed to encode tasks: %v", err)
	}
	_ = enc.Close()

	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write tasks file: %v", err)
	}
	return path
}

// NewTaskStore writes tasks to a temporary tasks file and opens a
// FileStore over it.
func NewTaskStore(t *testing.T, tasks ...task.Task) *task.FileStore {
	t.Helper()

	store, err := task.NewFileStore(WriteTasksFile(t, tasks...))
	if err != nil {
		t.Fatalf("failed to open task store: %v", err)
	}
	return store
}

// PendingTask returns a pending task with the given subtask titles.
func PendingTask(id, title string, subtasks ...string) task.Task {
	t := task.Task{
		ID:                 id,
		Title:              title,
		Description:        "Implement " + title,
		Status:             task.StatusPending,
		AcceptanceCriteria: title + " works",
	}
	for i, s := range subtasks {
		t.Subtasks = append(t.Subtasks, task.Subtask{
			ID:     task.SubtaskID(id, i+1),
			Title:  s,
			Status: task.StatusPending,
		})
	}
	return t
}

// MustGet loads a task or fails the test.
func MustGet(t *testing.T, store task.Store, id string) *task.Task {
	t.Helper()

	got, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get(%s) error: %v", id, err)
	}
	return got
}
