package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/model"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed task and resource provider.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		due TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_group ON tasks(group_id);

	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imports (
		path TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		hash TEXT NOT NULL,
		records INTEGER NOT NULL DEFAULT 0,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertTask stores a task, replacing any task with the same id. The due
// value is kept as given, either an ISO-8601 string or a numeric epoch.
func (s *Store) UpsertTask(t model.TaskImport) error {
	due, err := cast.ToStringE(t.Due)
	if err != nil {
		return fmt.Errorf("task %s: due: %w", t.ID, err)
	}
	if due == "" {
		return fmt.Errorf("task %s: missing due", t.ID)
	}
	_, err = s.db.Exec(
		`INSERT INTO tasks (id, group_id, title, description, due) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET group_id = ?, title = ?, description = ?, due = ?`,
		t.ID, t.GroupID, t.Title, t.Description, due,
		t.GroupID, t.Title, t.Description, due,
	)
	return err
}

// GetTasksForGroup returns the raw task records of one group.
func (s *Store) GetTasksForGroup(ctx context.Context, groupID string) ([]model.RawTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, title, description, due FROM tasks WHERE group_id = ? ORDER BY id`, groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []model.RawTask
	for rows.Next() {
		var t model.RawTask
		var due string
		if err := rows.Scan(&t.ID, &t.GroupID, &t.Title, &t.Description, &due); err != nil {
			return nil, err
		}
		t.Due = due
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetTask returns a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (model.RawTask, error) {
	var t model.RawTask
	var due string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, title, description, due FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.GroupID, &t.Title, &t.Description, &due)
	t.Due = due
	return t, err
}

// ListGroups returns the distinct group ids that have tasks.
func (s *Store) ListGroups(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT group_id FROM tasks ORDER BY group_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// UpsertResource stores a resource, replacing any resource with the same id.
// A zero CreatedAt is set to the current time.
func (s *Store) UpsertResource(r model.ResourceImport) error {
	tags, err := json.Marshal(r.Tags)
	if err != nil {
		return fmt.Errorf("resource %s: tags: %w", r.ID, err)
	}
	if r.Tags == nil {
		tags = []byte("[]")
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.Exec(
		`INSERT INTO resources (id, title, description, topic, tags, url, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = ?, description = ?, topic = ?, tags = ?, url = ?, created_at = ?`,
		r.ID, r.Title, r.Description, r.Topic, string(tags), r.URL, created.UTC(),
		r.Title, r.Description, r.Topic, string(tags), r.URL, created.UTC(),
	)
	return err
}

// ListResources returns all resources, newest first.
func (s *Store) ListResources(ctx context.Context) ([]model.Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, topic, tags, url, created_at FROM resources ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var resources []model.Resource
	for rows.Next() {
		var r model.Resource
		var tags string
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Topic, &tags, &r.URL, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("resource %s: tags: %w", r.ID, err)
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// TaskCount returns the number of tasks in the database.
func (s *Store) TaskCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&count)
	return count, err
}

// ResourceCount returns the number of resources in the database.
func (s *Store) ResourceCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM resources`).Scan(&count)
	return count, err
}
