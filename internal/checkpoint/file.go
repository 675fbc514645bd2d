package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/autopilot/internal/errors"
)

// recordName matches published checkpoint files: "{seq:010d}-{uuid}.json".
// Temp files (".tmp-*") never match.
var recordName = regexp.MustCompile(`^(\d{10})-([0-9a-f-]{36})\.json$`)

// FileStore keeps checkpoints as JSON files under {dir}/{task}/.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewStoreError("create checkpoint directory", err).WithPath(dir)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Dir returns the root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) taskDir(taskID string) string {
	return filepath.Join(s.dir, sanitizeID(taskID))
}

// sanitizeID keeps task IDs from escaping the store directory.
func sanitizeID(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(id)
}

type entry struct {
	seq  int64
	path string
}

// entries lists published records for a task, ascending by seq.
func (s *FileStore) entries(taskID string) ([]entry, error) {
	dir := s.taskDir(taskID)
	des, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewStoreError("read checkpoint directory", err).WithPath(dir)
	}
	var out []entry
	for _, de := range des {
		m := recordName.FindStringSubmatch(de.Name())
		if m == nil || de.IsDir() {
			continue
		}
		seq, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, entry{seq: seq, path: filepath.Join(dir, de.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out, nil
}

// Save writes cp to a temp file, syncs it and renames it into place.
func (s *FileStore) Save(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.entries(cp.TaskID)
	if err != nil {
		return err
	}
	var seq int64 = 1
	if n := len(existing); n > 0 {
		seq = existing[n-1].seq + 1
	}

	cp.ID = uuid.NewString()
	cp.Seq = seq
	if cp.Timestamp.IsZero() {
		cp.Timestamp = s.now().UTC()
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	dir := s.taskDir(cp.TaskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewStoreError("create task directory", err).WithPath(dir)
	}
	path := filepath.Join(dir, fmt.Sprintf("%010d-%s.json", seq, cp.ID))
	if err := atomicWriteFile(path, data, 0644); err != nil {
		return errors.NewStoreError("write checkpoint", err).WithPath(path)
	}
	return nil
}

func readRecord(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewStoreError("read checkpoint", err).WithPath(path)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.NewStoreError("parse checkpoint", err).WithPath(path).WithRetryable(false)
	}
	return &cp, nil
}

// Latest returns the task's highest-sequence checkpoint.
func (s *FileStore) Latest(ctx context.Context, taskID string) (*Checkpoint, error) {
	es, err := s.entries(taskID)
	if err != nil {
		return nil, err
	}
	if len(es) == 0 {
		return nil, fmt.Errorf("%w: task %s", errors.ErrNoCheckpoint, taskID)
	}
	return readRecord(es[len(es)-1].path)
}

// List returns the task's checkpoints in ascending sequence order.
func (s *FileStore) List(ctx context.Context, taskID string) ([]*Checkpoint, error) {
	es, err := s.entries(taskID)
	if err != nil {
		return nil, err
	}
	out := make([]*Checkpoint, 0, len(es))
	for _, e := range es {
		cp, err := readRecord(e.path)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Tasks returns the IDs of tasks that have checkpoints, sorted.
func (s *FileStore) Tasks(ctx context.Context) ([]string, error) {
	des, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.NewStoreError("read checkpoint directory", err).WithPath(s.dir)
	}
	var ids []string
	for _, de := range des {
		if !de.IsDir() {
			continue
		}
		es, err := s.entries(de.Name())
		if err != nil {
			return nil, err
		}
		if len(es) > 0 {
			ids = append(ids, de.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Purge removes the task's checkpoint directory.
func (s *FileStore) Purge(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.taskDir(taskID)
	if err := os.RemoveAll(dir); err != nil {
		return errors.NewStoreError("purge checkpoints", err).WithPath(dir)
	}
	return nil
}

// PurgeOlderThan removes records whose file was written more than d ago.
// Each task's latest record is the resume point and is always kept.
func (s *FileStore) PurgeOlderThan(ctx context.Context, d time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-d)
	des, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, errors.NewStoreError("read checkpoint directory", err).WithPath(s.dir)
	}

	removed := 0
	for _, de := range des {
		if !de.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		es, err := s.entries(de.Name())
		if err != nil {
			return removed, err
		}
		for i, e := range es {
			if i == len(es)-1 {
				break
			}
			info, err := os.Stat(e.path)
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(e.path); err == nil {
					removed++
				}
			}
		}
	}
	return removed, nil
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error {
	return nil
}

// atomicWriteFile writes data to a temp file in the target directory,
// syncs it, and renames it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
