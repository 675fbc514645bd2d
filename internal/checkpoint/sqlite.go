package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/autopilot/internal/errors"
)

// SQLiteStore keeps checkpoints in a single SQLite table. The full record
// is stored as a JSON payload; the indexed columns serve listing and
// retention queries.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.NewStoreError("open database", err).WithPath(path)
	}
	// One connection serializes writers and keeps seq assignment race-free.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dbPath: path, now: time.Now}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		phase TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		payload TEXT NOT NULL,
		UNIQUE(task_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_created ON checkpoints(created_at);
	`
	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", schema} {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.NewStoreError("initialize schema", err).WithPath(s.dbPath).WithRetryable(false)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Save inserts cp with the next sequence number for its task. The row
// becomes visible to readers when the transaction commits.
func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStoreError("begin transaction", err).WithPath(s.dbPath)
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM checkpoints WHERE task_id = ?`, cp.TaskID,
	).Scan(&maxSeq); err != nil {
		return errors.NewStoreError("read sequence", err).WithPath(s.dbPath)
	}

	cp.ID = uuid.NewString()
	cp.Seq = maxSeq + 1
	if cp.Timestamp.IsZero() {
		cp.Timestamp = s.now().UTC()
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (id, task_id, seq, phase, step_index, attempt, created_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.TaskID, cp.Seq, cp.Phase, cp.StepIndex, cp.Attempt, cp.Timestamp.UnixNano(), string(payload),
	); err != nil {
		return errors.NewStoreError("insert checkpoint", err).WithPath(s.dbPath)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStoreError("commit checkpoint", err).WithPath(s.dbPath)
	}
	return nil
}

func decode(payload string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return nil, errors.NewStoreError("parse checkpoint", err).WithRetryable(false)
	}
	return &cp, nil
}

// Latest returns the task's highest-sequence checkpoint.
func (s *SQLiteStore) Latest(ctx context.Context, taskID string) (*Checkpoint, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE task_id = ? ORDER BY seq DESC LIMIT 1`, taskID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", errors.ErrNoCheckpoint, taskID)
	}
	if err != nil {
		return nil, errors.NewStoreError("query latest checkpoint", err).WithPath(s.dbPath)
	}
	return decode(payload)
}

// List returns the task's checkpoints in ascending sequence order.
func (s *SQLiteStore) List(ctx context.Context, taskID string) ([]*Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM checkpoints WHERE task_id = ? ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, errors.NewStoreError("query checkpoints", err).WithPath(s.dbPath)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.NewStoreError("scan checkpoint", err).WithPath(s.dbPath)
		}
		cp, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Tasks returns the IDs of tasks that have checkpoints, sorted.
func (s *SQLiteStore) Tasks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT task_id FROM checkpoints ORDER BY task_id`)
	if err != nil {
		return nil, errors.NewStoreError("query tasks", err).WithPath(s.dbPath)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewStoreError("scan task id", err).WithPath(s.dbPath)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Purge removes every checkpoint of a task.
func (s *SQLiteStore) Purge(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE task_id = ?`, taskID); err != nil {
		return errors.NewStoreError("purge checkpoints", err).WithPath(s.dbPath)
	}
	return nil
}

// PurgeOlderThan removes checkpoints created more than d ago, keeping the
// latest checkpoint of every task.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, d time.Duration) (int, error) {
	cutoff := s.now().Add(-d).UnixNano()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE created_at < ?
		  AND seq < (SELECT MAX(c2.seq) FROM checkpoints c2 WHERE c2.task_id = checkpoints.task_id)`, cutoff)
	if err != nil {
		return 0, errors.NewStoreError("purge old checkpoints", err).WithPath(s.dbPath)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
