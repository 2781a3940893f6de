package puzzle

// Grid is the row-major 2-D view of a puzzle's cells.
// grid[r][c] holds the cell at flat offset r*cols + c.
type Grid struct {
	cells [][]string
	cols  int
}

// NewGrid rebuilds the 2-D grid from p.Grid and p.Size. The length of
// p.Grid is not checked: when it is shorter than rows*cols, the missing
// trailing cells are absent and read back as "".
func NewGrid(p *Puzzle) Grid {
	rows, cols := p.Size.Rows, p.Size.Cols
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}

	cells := make([][]string, rows)
	i := 0
	for r := 0; r < rows; r++ {
		cells[r] = make([]string, 0, cols)
		for c := 0; c < cols; c++ {
			if i >= len(p.Grid) {
				break
			}
			cells[r] = append(cells[r], p.Grid[i])
			i++
		}
	}
	return Grid{cells: cells, cols: cols}
}

// Rows returns the number of rows.
func (g Grid) Rows() int { return len(g.cells) }

// Cols returns the number of columns.
func (g Grid) Cols() int { return g.cols }

// Cell returns the cell at (r, c), or "" when the cell is outside the grid
// or absent.
func (g Grid) Cell(r, c int) string {
	if r < 0 || r >= len(g.cells) || c < 0 || c >= len(g.cells[r]) {
		return ""
	}
	return g.cells[r][c]
}

// Row returns the cells of row r, left to right, padded to the column count.
func (g Grid) Row(r int) []string {
	out := make([]string, g.cols)
	for c := range out {
		out[c] = g.Cell(r, c)
	}
	return out
}

// Column returns height cells of column c read top to bottom. height is
// normally Rows(); the square-grid compatibility mode passes Cols().
func (g Grid) Column(c, height int) []string {
	if height < 0 {
		height = 0
	}
	out := make([]string, height)
	for r := range out {
		out[r] = g.Cell(r, c)
	}
	return out
}

// Flatten returns the cells in row-major order.
func (g Grid) Flatten() []string {
	out := make([]string, 0, len(g.cells)*g.cols)
	for _, row := range g.cells {
		out = append(out, row...)
	}
	return out
}
