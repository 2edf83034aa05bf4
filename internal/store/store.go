package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrEmptyText = errors.New("empty task text")
	ErrNotFound  = errors.New("task not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	text          TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	completed     INTEGER NOT NULL DEFAULT 0,
	scheduled_for TEXT
);
CREATE INDEX IF NOT EXISTS tasks_created_at ON tasks(created_at);
`

// Store is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time

	mu       sync.Mutex
	snapshot []Task
	subs     map[int]func([]Task)
	nextSub  int

	// serializes deliveries so subscribers see snapshots in order
	notifyMu sync.Mutex
}

// DefaultPath returns $XDG_DATA_HOME/nebula/tasks.sqlite.
func DefaultPath() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "tasks.sqlite"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "nebula", "tasks.sqlite")
}

// Open opens (and if needed creates) the task database at path.
// ":memory:" gives a private in-memory store.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:   db,
		path: path,
		now:  time.Now,
		subs: make(map[int]func([]Task)),
	}

	if err := s.Refresh(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path is the database file, or ":memory:".
func (s *Store) Path() string {
	return s.path
}

// Create stores a new task and returns its id.
func (s *Store) Create(ctx context.Context, text string, scheduledFor *time.Time) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	id := uuid.NewString()

	var sched sql.NullString
	if scheduledFor != nil {
		sched = sql.NullString{String: scheduledFor.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, text, created_at, completed, scheduled_for) VALUES (?, ?, ?, 0, ?)`,
		id, text, s.now().UnixNano(), sched)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}

	log.Debug("Task created", "id", id, "text", text)

	if err := s.Refresh(ctx); err != nil {
		log.Warn("Failed to refresh after create", "err", err)
	}

	return id, nil
}

// Delete removes a task.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	log.Debug("Task deleted", "id", id)

	if err := s.Refresh(ctx); err != nil {
		log.Warn("Failed to refresh after delete", "err", err)
	}

	return nil
}

// Complete finishes a task. Completed bubbles leave the nebula, so this
// is a delete.
func (s *Store) Complete(ctx context.Context, id string) error {
	return s.Delete(ctx, id)
}

// List reads all tasks, newest first.
func (s *Store) List(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, created_at, completed, scheduled_for
		FROM tasks
		ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var (
			t         Task
			createdAt int64
			completed int
			sched     sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Text, &createdAt, &completed, &sched); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.CreatedAt = time.Unix(0, createdAt)
		t.Completed = completed != 0
		if sched.Valid {
			at, err := time.Parse(time.RFC3339Nano, sched.String)
			if err == nil {
				t.ScheduledFor = &at
			}
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Snapshot returns the latest known task list.
func (s *Store) Snapshot() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Task(nil), s.snapshot...)
}

// Subscribe registers fn for every snapshot change. fn is called once
// right away with the current snapshot.
func (s *Store) Subscribe(fn func([]Task)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	snap := append([]Task(nil), s.snapshot...)
	s.mu.Unlock()

	s.notifyMu.Lock()
	fn(snap)
	s.notifyMu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Refresh re-reads the table and notifies subscribers if anything changed.
func (s *Store) Refresh(ctx context.Context) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	tasks, err := s.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if sameTasks(s.snapshot, tasks) && s.snapshot != nil {
		s.mu.Unlock()
		return nil
	}
	if tasks == nil {
		tasks = []Task{}
	}
	s.snapshot = tasks
	subs := make([]func([]Task), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(append([]Task(nil), tasks...))
	}

	return nil
}
