package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/bodul/xwindex/internal/puzzle"
)

const schema = `
CREATE TABLE IF NOT EXISTS puzzles (
    id TEXT PRIMARY KEY,
    source TEXT UNIQUE,         -- NULL for uploads
    cols INTEGER NOT NULL,
    index_json TEXT NOT NULL,   -- {"a":[...],"d":[...],"s":n}
    created_at INTEGER NOT NULL -- Unix nanoseconds
);

CREATE INDEX IF NOT EXISTS idx_puzzles_created_at ON puzzles(created_at);

-- One row per across/down entry, for word lookups.
CREATE TABLE IF NOT EXISTS entries (
    puzzle_id TEXT NOT NULL,
    direction TEXT NOT NULL,
    seq INTEGER NOT NULL,
    word TEXT NOT NULL,
    position INTEGER NOT NULL,
    FOREIGN KEY(puzzle_id) REFERENCES puzzles(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_entries_word ON entries(word);
CREATE INDEX IF NOT EXISTS idx_entries_puzzle_id ON entries(puzzle_id);
`

// SQLite stores records in a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Save(ctx context.Context, r *Record) (rec *Record, err error) {
	cp := *r
	cp.ID = uuid.New().String()
	cp.CreatedAt = time.Now()

	data, err := json.Marshal(cp.Index)
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var source any
	if cp.Source != "" {
		source = cp.Source
		if _, err = tx.ExecContext(ctx, "DELETE FROM puzzles WHERE source = ?", cp.Source); err != nil {
			return nil, fmt.Errorf("replace %s: %w", cp.Source, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO puzzles (id, source, cols, index_json, created_at) VALUES (?, ?, ?, ?, ?)",
		cp.ID, source, cp.Index.S, string(data), cp.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert puzzle: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO entries (puzzle_id, direction, seq, word, position) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, list := range []struct {
		dir     string
		entries puzzle.Entries
	}{{Across, cp.Index.A}, {Down, cp.Index.D}} {
		for i, e := range list.entries {
			if _, err = stmt.ExecContext(ctx, cp.ID, list.dir, i, e.Word, e.Position); err != nil {
				return nil, fmt.Errorf("insert entry: %w", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, source, index_json, created_at FROM puzzles WHERE id = ?", id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *SQLite) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, source, index_json, created_at FROM puzzles ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

func (s *SQLite) FindWord(ctx context.Context, word string) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT e.puzzle_id, p.source, e.direction, e.position
FROM entries e JOIN puzzles p ON p.id = e.puzzle_id
WHERE e.word = ?
ORDER BY p.created_at DESC, p.rowid DESC, e.direction, e.seq`, word)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var source sql.NullString
		if err := rows.Scan(&h.PuzzleID, &source, &h.Direction, &h.Position); err != nil {
			return nil, err
		}
		h.Source = source.String
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *SQLite) DeleteSource(ctx context.Context, source string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM puzzles WHERE source = ?", source)
	if err != nil {
		return fmt.Errorf("delete %s: %w", source, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r      Record
		source sql.NullString
		data   string
		nanos  int64
	)
	if err := sc.Scan(&r.ID, &source, &data, &nanos); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &r.Index); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", r.ID, err)
	}
	r.Source = source.String
	r.CreatedAt = time.Unix(0, nanos)
	return &r, nil
}
