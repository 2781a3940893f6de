package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bodul/xwindex/internal/puzzle"
)

var (
	cellStyle  = lipgloss.NewStyle().Padding(0, 1)
	startStyle = cellStyle.Bold(true).Foreground(lipgloss.Color("39")) // Cyan
	blockStyle = cellStyle.Foreground(lipgloss.Color("240"))
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	missStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // Red
	gridBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
)

// isBlock reports whether a cell holds no letter.
func isBlock(cell string) bool {
	return cell == "" || cell == "." || cell == "#"
}

// renderGrid draws the puzzle grid, highlighting cells where an indexed
// across or down answer starts.
func renderGrid(p *puzzle.Puzzle, idx puzzle.Index) string {
	starts := make(map[int]bool)
	for _, e := range idx.A {
		starts[e.Position] = true
	}
	for _, e := range idx.D {
		starts[e.Position] = true
	}

	g := puzzle.NewGrid(p)
	rows := make([]string, g.Rows())
	for r := range rows {
		cells := make([]string, g.Cols())
		for c := range cells {
			cell := g.Cell(r, c)
			switch {
			case isBlock(cell):
				cells[c] = blockStyle.Render("■")
			case starts[r*g.Cols()+c]:
				cells[c] = startStyle.Render(cell)
			default:
				cells[c] = cellStyle.Render(cell)
			}
		}
		rows[r] = lipgloss.JoinHorizontal(lipgloss.Top, cells...)
	}
	return gridBorder.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// renderEntries lists each answer with its offset and row/column, and the
// answers that could not be located. clues maps answers to clue numbers, in
// answer order; an answer without one gets a blank clue column.
func renderEntries(title string, entries puzzle.Entries, answers []string, cols int, clues puzzle.Entries) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(title))
	sb.WriteByte('\n')

	numbers := make(map[string][]int)
	for _, c := range clues {
		numbers[c.Word] = append(numbers[c.Word], c.Position)
	}

	found := make(map[string]int)
	for _, e := range entries {
		found[e.Word]++
		row, col := 0, e.Position
		if cols > 0 {
			row, col = e.Position/cols, e.Position%cols
		}
		clue := ""
		if n := numbers[e.Word]; len(n) > 0 {
			clue = fmt.Sprintf("%d.", n[0])
			numbers[e.Word] = n[1:]
		}
		fmt.Fprintf(&sb, "%4s %-15s %4d  r%d c%d\n", clue, e.Word, e.Position, row, col)
	}
	for _, w := range answers {
		if found[w] > 0 {
			found[w]--
			continue
		}
		sb.WriteString(missStyle.Render(fmt.Sprintf("%4s %-15s    -  not found", "", w)))
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

// renderIndex draws the grid next to the across and down lists. Across
// entries carry the clue numbers found by the generic index.
func renderIndex(p *puzzle.Puzzle, b *puzzle.Builder, idx puzzle.Index) string {
	return lipgloss.JoinHorizontal(lipgloss.Top,
		renderGrid(p, idx),
		"  ",
		renderEntries("Across", idx.A, p.Answers.Across, idx.S, b.Generic(p, p.Answers.Across)),
		"    ",
		renderEntries("Down", idx.D, p.Answers.Down, idx.S, nil),
	)
}
