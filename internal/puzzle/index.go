package puzzle

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Entry pairs an answer with its position: a flat grid offset in the across
// and down lists, a clue number in the generic list.
type Entry struct {
	Word     string
	Position int
}

// Entries is an ordered answer list. It encodes as a flat alternating array,
// ["CAT", 0, "ARE", 3].
type Entries []Entry

// Index is the output record. S is the column count of the puzzle.
type Index struct {
	A Entries `json:"a"`
	D Entries `json:"d"`
	S int     `json:"s"`
}

// Builder builds indices with a given Locator.
//
// With SquareDown set, the down list is computed the way the legacy
// converter did: the column loop is bounded by the row count, each column is
// read for as many cells as there are columns, and the offset multiplier is
// the row count. This only agrees with the general formula on square grids.
type Builder struct {
	Locator    Locator
	SquareDown bool
}

// NewBuilder returns a Builder using ForwardScan.
func NewBuilder() *Builder {
	return &Builder{Locator: ForwardScan{}}
}

// BuildIndex builds the index of p with the default builder.
func BuildIndex(p *Puzzle) Index {
	return NewBuilder().Build(p)
}

func (b *Builder) locator() Locator {
	if b.Locator == nil {
		return ForwardScan{}
	}
	return b.Locator
}

// Build assembles the across list, the down list and the column count.
func (b *Builder) Build(p *Puzzle) Index {
	g := NewGrid(p)
	return Index{
		A: b.across(g, p),
		D: b.down(g, p),
		S: p.Size.Cols,
	}
}

// Generic locates each word in the flattened grid and resolves the offset
// to the clue number stored in p.GridNums. It ignores orientation, so it is
// only reliable for words that do not cross a row boundary.
func (b *Builder) Generic(p *Puzzle, words []string) Entries {
	flat := NewGrid(p).Flatten()
	loc := b.locator()

	out := Entries{}
	for _, w := range words {
		m := loc.Locate(w, flat)
		if !m.Found() || m.Offset >= len(p.GridNums) {
			continue
		}
		out = append(out, Entry{Word: w, Position: p.GridNums[m.Offset]})
	}
	return out
}

// Across returns the flat offset of each across answer, searching rows top
// to bottom and keeping the first row that matches.
func (b *Builder) Across(p *Puzzle) Entries {
	return b.across(NewGrid(p), p)
}

// Down returns the flat offset of each down answer, searching columns left
// to right and keeping the first column that matches.
func (b *Builder) Down(p *Puzzle) Entries {
	return b.down(NewGrid(p), p)
}

func (b *Builder) across(g Grid, p *Puzzle) Entries {
	rows, cols := p.Size.Rows, p.Size.Cols
	loc := b.locator()

	out := Entries{}
	for _, w := range p.Answers.Across {
		for r := 0; r < rows; r++ {
			m := loc.Locate(w, g.Row(r))
			if !m.Found() {
				continue
			}
			out = append(out, Entry{Word: w, Position: m.Offset + r*cols})
			break
		}
	}
	return out
}

func (b *Builder) down(g Grid, p *Puzzle) Entries {
	columns, height, stride := p.Size.Cols, p.Size.Rows, p.Size.Cols
	if b.SquareDown {
		columns, height, stride = p.Size.Rows, p.Size.Cols, p.Size.Rows
	}
	loc := b.locator()

	out := Entries{}
	for _, w := range p.Answers.Down {
		for c := 0; c < columns; c++ {
			m := loc.Locate(w, g.Column(c, height))
			if !m.Found() {
				continue
			}
			out = append(out, Entry{Word: w, Position: c + m.Offset*stride})
			break
		}
	}
	return out
}

// Words returns the answers of the list in order.
func (e Entries) Words() []string {
	out := make([]string, len(e))
	for i, en := range e {
		out[i] = en.Word
	}
	return out
}

func (e Entries) MarshalJSON() ([]byte, error) {
	flat := make([]any, 0, 2*len(e))
	for _, en := range e {
		flat = append(flat, en.Word, en.Position)
	}
	return json.Marshal(flat)
}

var errOddEntries = errors.New("entry list must alternate word and number")

func (e *Entries) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw)%2 != 0 {
		return fmt.Errorf("%w: %d values", errOddEntries, len(raw))
	}

	out := make(Entries, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		var en Entry
		if err := json.Unmarshal(raw[i], &en.Word); err != nil {
			return fmt.Errorf("entry %d word: %w", i/2, err)
		}
		if err := json.Unmarshal(raw[i+1], &en.Position); err != nil {
			return fmt.Errorf("entry %d position: %w", i/2, err)
		}
		out = append(out, en)
	}
	*e = out
	return nil
}
