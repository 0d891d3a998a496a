package bingo

import "fmt"

// LineKind names the geometry of a winning line.
type LineKind string

const (
	LineRow          LineKind = "row"
	LineColumn       LineKind = "column"
	LineDiagonal     LineKind = "diagonal"
	LineAntiDiagonal LineKind = "anti_diagonal"
)

// Line identifies one of the twelve lines of a board. Index is the row or
// column number and is zero for diagonals.
type Line struct {
	Kind  LineKind `json:"kind"`
	Index int      `json:"index"`
}

func (l Line) String() string {
	switch l.Kind {
	case LineRow, LineColumn:
		return fmt.Sprintf("%s %d", l.Kind, l.Index)
	default:
		return string(l.Kind)
	}
}

// WinResult is the outcome of CheckWin. Numbers holds the matched values of
// the winning line in board order, free cell excluded.
type WinResult struct {
	Won     bool    `json:"won"`
	Line    Line    `json:"line"`
	Numbers Numbers `json:"numbers,omitempty"`
}

type cell struct{ row, col int }

type lineCells struct {
	line  Line
	cells [BoardSize]cell
}

// lines lists every line in scan order: rows, columns, then the two diagonals.
var lines = buildLines()

func buildLines() []lineCells {
	out := make([]lineCells, 0, 2*BoardSize+2)
	add := func(l Line, at func(i int) cell) {
		lc := lineCells{line: l}
		for i := 0; i < BoardSize; i++ {
			lc.cells[i] = at(i)
		}
		out = append(out, lc)
	}
	for r := 0; r < BoardSize; r++ {
		add(Line{Kind: LineRow, Index: r}, func(i int) cell { return cell{r, i} })
	}
	for c := 0; c < BoardSize; c++ {
		add(Line{Kind: LineColumn, Index: c}, func(i int) cell { return cell{i, c} })
	}
	add(Line{Kind: LineDiagonal}, func(i int) cell { return cell{i, i} })
	add(Line{Kind: LineAntiDiagonal}, func(i int) cell { return cell{i, BoardSize - 1 - i} })
	return out
}

// CheckWin reports the first line of b whose cells are all drawn. The free
// cell counts as drawn and its value is ignored, so lines through the
// center need their four other cells and every other line needs all five.
func CheckWin(b Board, drawn []uint8) WinResult {
	var seen [MaxNumber + 1]bool
	for _, n := range drawn {
		seen[n] = true
	}

	for _, l := range lines {
		numbers := make([]uint8, 0, BoardSize)
		complete := true
		for _, c := range l.cells {
			if isFree(c.row, c.col) {
				continue
			}
			v := b[c.row][c.col]
			if !seen[v] {
				complete = false
				break
			}
			numbers = append(numbers, v)
		}
		if complete {
			return WinResult{Won: true, Line: l.line, Numbers: numbers}
		}
	}
	return WinResult{}
}
