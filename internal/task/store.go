package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/util"
)

// document is the on-disk shape of a tasks file.
type document struct {
	Tasks []Task `json:"tasks" yaml:"tasks"`
}

// FileStore is a Store backed by a single YAML or JSON file (chosen by
// extension). Every mutation is a locked read-modify-write that publishes
// the new file with an atomic rename, so readers never see a partial file.
type FileStore struct {
	path      string
	expandCmd []string
	workDir   string
	logger    *logging.Logger
	now       func() time.Time
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithExpandCommand sets the argv template used by Expand. Every "{id}" in
// an argument is replaced by the task ID.
func WithExpandCommand(argv []string, workDir string) FileStoreOption {
	return func(s *FileStore) {
		s.expandCmd = append([]string(nil), argv...)
		s.workDir = workDir
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// NewFileStore opens the tasks file at path. The file must exist.
func NewFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.NewStoreError("open tasks file", err).WithPath(path).WithRetryable(false)
	}
	s := &FileStore{
		path:   path,
		logger: logging.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the tasks file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) isJSON() bool {
	return strings.EqualFold(filepath.Ext(s.path), ".json")
}

func (s *FileStore) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.NewStoreError("read tasks file", err).WithPath(s.path)
	}
	var doc document
	if s.isJSON() {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, errors.NewStoreError("parse tasks file", err).WithPath(s.path).WithRetryable(false)
	}
	for i := range doc.Tasks {
		normalize(&doc.Tasks[i])
	}
	return &doc, nil
}

// normalize maps external status spellings onto Status values.
func normalize(t *Task) {
	if st, err := ParseStatus(string(t.Status)); err == nil {
		t.Status = st
	}
	for i := range t.Subtasks {
		sub := &t.Subtasks[i]
		if st, err := ParseStatus(string(sub.Status)); err == nil {
			sub.Status = st
		}
		if !strings.Contains(sub.ID, ".") {
			// Some task tools number subtasks locally ("1", "2").
			sub.ID = SubtaskID(t.ID, i+1)
		}
	}
}

func (s *FileStore) write(doc *document) error {
	var (
		data []byte
		err  error
	)
	if s.isJSON() {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		err = enc.Encode(doc)
		_ = enc.Close()
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.NewStoreError("write temp file", err).WithPath(tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errors.NewStoreError("rename temp file", err).WithPath(s.path)
	}
	return nil
}

// view runs fn on a locked snapshot of the file.
func (s *FileStore) view(fn func(*document) error) error {
	fl := newFileLock(s.path)
	if err := fl.Lock(); err != nil {
		return errors.NewStoreError("acquire lock", err).WithPath(s.path)
	}
	defer func() { _ = fl.Unlock() }()

	doc, err := s.read()
	if err != nil {
		return err
	}
	return fn(doc)
}

// update runs fn on a locked snapshot and writes the result back.
func (s *FileStore) update(fn func(*document) error) error {
	fl := newFileLock(s.path)
	if err := fl.Lock(); err != nil {
		return errors.NewStoreError("acquire lock", err).WithPath(s.path)
	}
	defer func() { _ = fl.Unlock() }()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.write(doc)
}

func findTask(doc *document, id string) (*Task, error) {
	for i := range doc.Tasks {
		if doc.Tasks[i].ID == id {
			return &doc.Tasks[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
}

func findSubtask(doc *document, id string) (*Task, *Subtask, error) {
	for i := range doc.Tasks {
		if sub, ok := doc.Tasks[i].FindSubtask(id); ok {
			return &doc.Tasks[i], sub, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
}

// Get returns a copy of the task.
func (s *FileStore) Get(ctx context.Context, taskID string) (*Task, error) {
	var out *Task
	err := s.view(func(doc *document) error {
		t, err := findTask(doc, taskID)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// List returns all tasks in stored order.
func (s *FileStore) List(ctx context.Context) ([]Task, error) {
	var out []Task
	err := s.view(func(doc *document) error {
		out = doc.Tasks
		return nil
	})
	return out, err
}

// ListSubtasks returns the task's subtasks in stored order.
func (s *FileStore) ListSubtasks(ctx context.Context, taskID string) ([]Subtask, error) {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return t.Subtasks, nil
}

// AddSubtasks appends subtasks to a task. With an empty parentID they are
// top-level subtasks numbered after the existing ones; otherwise they are
// children of parentID, inserted right after its last descendant so stored
// order keeps each refinement next to the subtask it refines.
func (s *FileStore) AddSubtasks(ctx context.Context, taskID, parentID string, subtasks []NewSubtask) ([]Subtask, error) {
	var added []Subtask
	err := s.update(func(doc *document) error {
		t, err := findTask(doc, taskID)
		if err != nil {
			return err
		}

		prefix := taskID
		insertAt := len(t.Subtasks)
		if parentID != "" {
			if _, ok := t.FindSubtask(parentID); !ok {
				return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, parentID)
			}
			prefix = parentID
			insertAt = lastDescendantIndex(t, parentID) + 1
		}

		next := countWithPrefix(t, prefix) + 1
		added = make([]Subtask, 0, len(subtasks))
		for _, ns := range subtasks {
			added = append(added, Subtask{
				ID:          SubtaskID(prefix, next),
				ParentID:    parentID,
				Title:       ns.Title,
				Description: ns.Description,
				Status:      StatusPending,
			})
			next++
		}

		merged := make([]Subtask, 0, len(t.Subtasks)+len(added))
		merged = append(merged, t.Subtasks[:insertAt]...)
		merged = append(merged, added...)
		merged = append(merged, t.Subtasks[insertAt:]...)
		t.Subtasks = merged
		return nil
	})
	return added, err
}

// countWithPrefix counts direct children IDs of the form "{prefix}.{n}".
func countWithPrefix(t *Task, prefix string) int {
	n := 0
	for _, s := range t.Subtasks {
		rest, ok := strings.CutPrefix(s.ID, prefix+".")
		if ok && !strings.Contains(rest, ".") {
			n++
		}
	}
	return n
}

func lastDescendantIndex(t *Task, id string) int {
	last := -1
	for i, s := range t.Subtasks {
		if s.ID == id || strings.HasPrefix(s.ID, id+".") {
			last = i
		}
	}
	return last
}

// AppendAuditLog appends a timestamped entry to the task's audit log.
func (s *FileStore) AppendAuditLog(ctx context.Context, taskID, text string) error {
	return s.update(func(doc *document) error {
		t, err := findTask(doc, taskID)
		if err != nil {
			return err
		}
		t.AuditLog = append(t.AuditLog, AuditEntry{Time: s.now().UTC(), Text: text})
		return nil
	})
}

// AppendProgress appends text to a subtask's progress log.
func (s *FileStore) AppendProgress(ctx context.Context, subtaskID, text string) error {
	return s.update(func(doc *document) error {
		_, sub, err := findSubtask(doc, subtaskID)
		if err != nil {
			return err
		}
		sub.Progress = append(sub.Progress, text)
		return nil
	})
}

// SetStatus updates a task or subtask status. Task IDs are matched first.
func (s *FileStore) SetStatus(ctx context.Context, id string, status Status) error {
	if status == "" {
		return fmt.Errorf("%w: empty", errors.ErrInvalidStatus)
	}
	canonical, err := ParseStatus(string(status))
	if err != nil {
		return err
	}
	return s.update(func(doc *document) error {
		if t, err := findTask(doc, id); err == nil {
			t.Status = canonical
			return nil
		}
		_, sub, err := findSubtask(doc, id)
		if err != nil {
			return err
		}
		sub.Status = canonical
		return nil
	})
}

// Expand runs the configured expand command and returns the task's
// subtasks afterwards. The command may either rewrite the tasks file itself
// or print a JSON array of {title, description} objects on stdout, which
// is then appended as top-level subtasks.
func (s *FileStore) Expand(ctx context.Context, taskID string) ([]Subtask, error) {
	if len(s.expandCmd) == 0 {
		return nil, errors.ErrExpandUnavailable
	}
	if _, err := s.Get(ctx, taskID); err != nil {
		return nil, err
	}

	argv := make([]string, len(s.expandCmd))
	for i, arg := range s.expandCmd {
		argv[i] = strings.ReplaceAll(arg, "{id}", taskID)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = s.workDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Info("expanding task", "task_id", taskID, "command", strings.Join(argv, " "))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("expand %s: %w: %s", taskID, err, util.TailString(strings.TrimSpace(stderr.String()), 500))
	}

	subs, err := s.ListSubtasks(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(subs) > 0 {
		return subs, nil
	}

	var printed []NewSubtask
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &printed); err != nil || len(printed) == 0 {
		return nil, nil
	}
	return s.AddSubtasks(ctx, taskID, "", printed)
}
