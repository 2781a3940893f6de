// Package puzzle turns a crossword puzzle description into a positional index
// of its answers.
//
// A Puzzle holds the flat letter grid, the clue numbers and the across/down
// answer lists. NewGrid reconstructs the 2-D grid, a Locator finds a word in a
// sequence of cells, and a Builder runs the locator over rows, columns and the
// flattened grid to produce an Index:
//
//	idx := puzzle.BuildIndex(p)
//	data, _ := json.Marshal(idx) // {"a":["CAT",0,...],"d":[...],"s":3}
//
// Nothing in this package performs I/O or logs.
package puzzle

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrBadSize        = errors.New("puzzle size must be positive")
	ErrGridLength     = errors.New("grid length does not match size")
	ErrGridNumsLength = errors.New("gridnums length does not match size")
)

// Size is the puzzle dimension in cells.
type Size struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Answers lists the answer words in clue order.
type Answers struct {
	Across []string `json:"across"`
	Down   []string `json:"down"`
}

// Puzzle is the input record. Grid holds one string per cell in row-major
// order, GridNums the clue number of each cell (0 when the cell has none).
type Puzzle struct {
	Size     Size     `json:"size"`
	Grid     []string `json:"grid"`
	GridNums []int    `json:"gridnums"`
	Answers  Answers  `json:"answers"`
}

// Cells returns the number of cells the size describes.
func (p *Puzzle) Cells() int {
	return p.Size.Rows * p.Size.Cols
}

// Validate checks that the dimensions agree with the grid and gridnums
// lengths. Index building does not call it; callers that want to reject
// inconsistent input do so explicitly.
func (p *Puzzle) Validate() error {
	if p.Size.Rows <= 0 || p.Size.Cols <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrBadSize, p.Size.Rows, p.Size.Cols)
	}
	if len(p.Grid) != p.Cells() {
		return fmt.Errorf("%w: %d cells for %dx%d", ErrGridLength, len(p.Grid), p.Size.Rows, p.Size.Cols)
	}
	if len(p.GridNums) != p.Cells() {
		return fmt.Errorf("%w: %d numbers for %dx%d", ErrGridNumsLength, len(p.GridNums), p.Size.Rows, p.Size.Cols)
	}
	return nil
}

// Normalized returns a copy of p with every cell and answer in Unicode NFC,
// so that decomposed accents in one field still match composed ones in the
// other.
func (p *Puzzle) Normalized() *Puzzle {
	cp := *p
	cp.Grid = normalizeAll(p.Grid)
	cp.Answers = Answers{
		Across: normalizeAll(p.Answers.Across),
		Down:   normalizeAll(p.Answers.Down),
	}
	return &cp
}

func normalizeAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = norm.NFC.String(s)
	}
	return out
}

// String renders the grid one row per line, "." for empty cells.
func (p *Puzzle) String() string {
	g := NewGrid(p)
	var sb strings.Builder
	for r := 0; r < g.Rows(); r++ {
		for c := 0; c < g.Cols(); c++ {
			cell := g.Cell(r, c)
			if cell == "" {
				cell = "."
			}
			sb.WriteString(cell)
		}
		if r < g.Rows()-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
