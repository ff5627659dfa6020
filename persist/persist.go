// Package persist stores the workspace snapshot and the recent-sessions
// list in an embedded sqlite database under the state directory.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"termmux/layout"
	"termmux/logging"
	"termmux/store"
)

var ErrNoWorkspace = errors.New("no workspace saved")

const recentsLimit = 20

type Store struct {
	db  *sql.DB
	log *logging.Logger
}

func Open(ctx context.Context, path string, log *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if log == nil {
		log = logging.Default()
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS workspace (
	id INTEGER PRIMARY KEY CHECK(id = 1),
	data TEXT NOT NULL,
	saved_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS recents (
	path TEXT PRIMARY KEY,
	layout TEXT,
	open_count INTEGER NOT NULL DEFAULT 1,
	last_opened_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS recents_last_opened_at
ON recents(last_opened_at DESC);
`)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SaveWorkspace replaces the single persisted workspace snapshot.
func (s *Store) SaveWorkspace(ctx context.Context, ws store.Workspace) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("marshal workspace: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO workspace(id, data, saved_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET data=excluded.data, saved_at=excluded.saved_at
`, string(data), ts(time.Now()))
	if err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	return nil
}

// LoadWorkspace returns the last saved snapshot, or ErrNoWorkspace when
// nothing was ever saved.
func (s *Store) LoadWorkspace(ctx context.Context) (store.Workspace, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM workspace WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Workspace{}, ErrNoWorkspace
	}
	if err != nil {
		return store.Workspace{}, fmt.Errorf("load workspace: %w", err)
	}
	var ws store.Workspace
	if err := json.Unmarshal([]byte(data), &ws); err != nil {
		return store.Workspace{}, fmt.Errorf("decode workspace: %w", err)
	}
	return ws, nil
}

// AddRecent upserts a recent session entry, bumping its open count and
// remembering the tab's last layout shape. The list is capped; the
// least recently opened entries beyond the cap are pruned.
func (s *Store) AddRecent(ctx context.Context, path string, shape *layout.Shape) error {
	if path == "" {
		return fmt.Errorf("recent path is empty")
	}
	var layoutJSON any
	if shape != nil {
		data, err := json.Marshal(shape)
		if err != nil {
			return fmt.Errorf("marshal layout: %w", err)
		}
		layoutJSON = string(data)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO recents(path, layout, open_count, last_opened_at) VALUES (?, ?, 1, ?)
ON CONFLICT(path) DO UPDATE SET
	layout=excluded.layout,
	open_count=recents.open_count + 1,
	last_opened_at=excluded.last_opened_at
`, path, layoutJSON, ts(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert recent: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
DELETE FROM recents WHERE path NOT IN (
	SELECT path FROM recents ORDER BY last_opened_at DESC LIMIT ?
)`, recentsLimit)
	if err != nil {
		return fmt.Errorf("prune recents: %w", err)
	}
	return nil
}

type Recent struct {
	Path         string        `json:"path"`
	Layout       *layout.Shape `json:"layout,omitempty"`
	OpenCount    int           `json:"openCount"`
	LastOpenedAt time.Time     `json:"lastOpenedAt"`
}

// ListRecents returns recents newest-first.
func (s *Store) ListRecents(ctx context.Context) ([]Recent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT path, layout, open_count, last_opened_at
FROM recents ORDER BY last_opened_at DESC LIMIT ?`, recentsLimit)
	if err != nil {
		return nil, fmt.Errorf("list recents: %w", err)
	}
	defer rows.Close()

	var out []Recent
	for rows.Next() {
		var r Recent
		var layoutJSON sql.NullString
		var lastOpened string
		if err := rows.Scan(&r.Path, &layoutJSON, &r.OpenCount, &lastOpened); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		if layoutJSON.Valid && layoutJSON.String != "" {
			var shape layout.Shape
			if err := json.Unmarshal([]byte(layoutJSON.String), &shape); err == nil {
				r.Layout = &shape
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, lastOpened); err == nil {
			r.LastOpenedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RemoveRecent deletes one entry from the recents list.
func (s *Store) RemoveRecent(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM recents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("remove recent: %w", err)
	}
	return nil
}

// RecordRecent satisfies the store's recents hook. Persistence failures
// are logged, never surfaced into the close-pane path.
func (s *Store) RecordRecent(path string, shape *layout.Shape) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.AddRecent(ctx, path, shape); err != nil {
		s.log.Warn("failed to record recent session", "path", path, "error", err)
	}
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
