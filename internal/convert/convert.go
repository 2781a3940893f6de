// Package convert runs the puzzle indexer over a directory tree.
//
// Every file under the input directory is decoded as a puzzle, indexed and
// written to the output directory under its relative path with separators
// replaced by "-" (2020/01/05.json becomes 2020-01-05.json). A file that
// cannot be read, decoded or written is logged and counted; the other files
// are still converted.
package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bodul/xwindex/internal/puzzle"
)

// Options configures a Converter.
type Options struct {
	InputDir  string
	OutputDir string
	// Workers bounds concurrent conversions; values below 1 mean 1.
	Workers int
	// Builder defaults to puzzle.NewBuilder().
	Builder *puzzle.Builder
	// Strict rejects puzzles that fail puzzle.Validate.
	Strict bool
	// Normalize converts cells and answers to NFC before indexing.
	Normalize bool
	Logger    *slog.Logger
	// OnIndexed is called after each successful conversion with the source
	// path relative to InputDir.
	OnIndexed func(ctx context.Context, source string, idx puzzle.Index)
	// OnRemoved is called by Watch after an input file is removed, with the
	// same source path OnIndexed received.
	OnRemoved func(ctx context.Context, source string)
}

// Converter converts puzzle files to index files.
type Converter struct {
	opts Options
	log  *slog.Logger
	// outAbs is the absolute output directory. It is never read as input,
	// even when it lies under the input directory.
	outAbs string
}

// New returns a Converter for opts.
func New(opts Options) *Converter {
	if opts.Builder == nil {
		opts.Builder = puzzle.NewBuilder()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &Converter{opts: opts, log: log}
	if opts.OutputDir != "" {
		if abs, err := filepath.Abs(opts.OutputDir); err == nil {
			c.outAbs = abs
		}
	}
	return c
}

// Builder returns the builder the converter indexes with.
func (c *Converter) Builder() *puzzle.Builder { return c.opts.Builder }

// inOutput reports whether path is the output directory or lies under it.
func (c *Converter) inOutput(path string) bool {
	if c.outAbs == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(c.outAbs, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// source is path relative to the input directory, with "/" separators.
func (c *Converter) source(path string) string {
	rel, err := filepath.Rel(c.opts.InputDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// FileError is the failure of one input file.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return e.Path + ": " + e.Err.Error() }
func (e *FileError) Unwrap() error { return e.Err }

// Summary reports a batch run.
type Summary struct {
	Converted int
	Failed    []*FileError
}

// Err joins the per-file errors, or returns nil when every file converted.
func (s Summary) Err() error {
	errs := make([]error, len(s.Failed))
	for i, f := range s.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Index validates (when strict), normalizes (when enabled) and indexes p.
func (c *Converter) Index(p *puzzle.Puzzle) (puzzle.Index, error) {
	if c.opts.Strict {
		if err := p.Validate(); err != nil {
			return puzzle.Index{}, err
		}
	}
	if c.opts.Normalize {
		p = p.Normalized()
	}
	return c.opts.Builder.Build(p), nil
}

// OutputPath returns where the index of the input file at path is written.
func (c *Converter) OutputPath(path string) (string, error) {
	rel, err := filepath.Rel(c.opts.InputDir, path)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.opts.OutputDir, flatName(rel)), nil
}

func flatName(rel string) string {
	rel = filepath.ToSlash(rel)
	rel = strings.ReplaceAll(rel, `\`, "-")
	return strings.ReplaceAll(rel, "/", "-")
}

// ConvertFile converts one input file and returns its index.
func (c *Converter) ConvertFile(ctx context.Context, path string) (puzzle.Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return puzzle.Index{}, fmt.Errorf("read %s: %w", path, err)
	}

	var p puzzle.Puzzle
	if err := json.Unmarshal(data, &p); err != nil {
		return puzzle.Index{}, fmt.Errorf("parse %s: %w", path, err)
	}

	idx, err := c.Index(&p)
	if err != nil {
		return puzzle.Index{}, fmt.Errorf("index %s: %w", path, err)
	}

	out, err := c.OutputPath(path)
	if err != nil {
		return puzzle.Index{}, err
	}
	encoded, err := json.Marshal(idx)
	if err != nil {
		return puzzle.Index{}, fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return puzzle.Index{}, err
	}
	if err := os.WriteFile(out, encoded, 0o644); err != nil {
		return puzzle.Index{}, fmt.Errorf("write %s: %w", out, err)
	}

	source := c.source(path)
	c.log.Debug("indexed", "source", source, "output", out, "across", len(idx.A), "down", len(idx.D))
	if c.opts.OnIndexed != nil {
		c.opts.OnIndexed(ctx, source, idx)
	}
	return idx, nil
}

// Run converts every .json file under the input directory. The returned
// error is only set when the walk itself fails or ctx is cancelled;
// per-file failures are in the Summary.
func (c *Converter) Run(ctx context.Context) (Summary, error) {
	if _, err := os.Stat(c.opts.InputDir); err != nil {
		return Summary{}, fmt.Errorf("input directory: %w", err)
	}

	var (
		mu  sync.Mutex
		sum Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)

	walkErr := filepath.WalkDir(c.opts.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}
		if d.IsDir() && c.inOutput(path) {
			return filepath.SkipDir
		}
		if d.IsDir() || !isPuzzleFile(path) {
			return nil
		}

		g.Go(func() error {
			_, err := c.ConvertFile(gctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.log.Warn("conversion failed", "path", path, "err", err)
				sum.Failed = append(sum.Failed, &FileError{Path: path, Err: err})
				return nil
			}
			sum.Converted++
			return nil
		})
		return nil
	})
	g.Wait()

	sort.Slice(sum.Failed, func(i, j int) bool { return sum.Failed[i].Path < sum.Failed[j].Path })
	c.log.Info("conversion finished", "converted", sum.Converted, "failed", len(sum.Failed))

	if walkErr != nil {
		return sum, fmt.Errorf("walk %s: %w", c.opts.InputDir, walkErr)
	}
	return sum, ctx.Err()
}

func isPuzzleFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
