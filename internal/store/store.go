// Package store keeps indexed puzzles so they can be listed and searched by
// answer word. Memory is the default; SQLite persists across restarts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bodul/xwindex/internal/puzzle"
)

var ErrNotFound = errors.New("puzzle not found")

const (
	Across = "across"
	Down   = "down"
)

// Record is one indexed puzzle. Source is the input path relative to the
// input directory; saving a record with the Source of an existing one
// replaces it. Uploaded puzzles have no Source.
type Record struct {
	ID        string       `json:"id"`
	Source    string       `json:"source,omitempty"`
	Index     puzzle.Index `json:"index"`
	CreatedAt time.Time    `json:"created_at"`
}

// Hit locates an answer word inside a stored index.
type Hit struct {
	PuzzleID  string `json:"puzzle_id"`
	Source    string `json:"source,omitempty"`
	Direction string `json:"direction"`
	Position  int    `json:"position"`
}

// Store persists indexed puzzles.
type Store interface {
	// Save assigns an ID and creation time and stores r.
	Save(ctx context.Context, r *Record) (*Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	// List returns all records, most recent first.
	List(ctx context.Context) ([]*Record, error)
	// FindWord returns every across and down entry for word, most recent
	// puzzle first.
	FindWord(ctx context.Context, word string) ([]Hit, error)
	// DeleteSource removes the record saved with source. It returns
	// ErrNotFound when there is none.
	DeleteSource(ctx context.Context, source string) error
	Close() error
}

// Open returns a SQLite store at path, or a memory store when path is empty.
func Open(path string) (Store, error) {
	if path == "" {
		return NewMemory(), nil
	}
	return OpenSQLite(path)
}

func hitsFor(r *Record, word string) []Hit {
	var hits []Hit
	for _, list := range []struct {
		dir     string
		entries puzzle.Entries
	}{{Across, r.Index.A}, {Down, r.Index.D}} {
		for _, e := range list.entries {
			if e.Word == word {
				hits = append(hits, Hit{PuzzleID: r.ID, Source: r.Source, Direction: list.dir, Position: e.Position})
			}
		}
	}
	return hits
}
