package bingo

import (
	"encoding/json"
	"fmt"
)

// BoardSize is the width and height of a board.
const BoardSize = 5

// Center is the row and column of the free cell.
const Center = BoardSize / 2

// MaxNumber is the largest value a cell or a drawn number can take.
const MaxNumber = 255

// Board is a player's grid, indexed [row][col]. The center cell holds a
// value like any other but always counts as matched.
type Board [BoardSize][BoardSize]uint8

// GenerateBoard fills every cell, the free cell included, with an
// independent value in [0, MaxNumber]. Duplicates are allowed.
func GenerateBoard(e Entropy) Board {
	var b Board
	for row := 0; row < BoardSize; row++ {
		for col := 0; col < BoardSize; col++ {
			b[row][col] = uint8(e.IntN(MaxNumber + 1))
		}
	}
	return b
}

// Cells returns the board in row-major order.
func (b Board) Cells() []uint8 {
	cells := make([]uint8, 0, BoardSize*BoardSize)
	for row := range b {
		cells = append(cells, b[row][:]...)
	}
	return cells
}

// BoardFromCells is the inverse of Cells.
func BoardFromCells(cells []uint8) (Board, bool) {
	var b Board
	if len(cells) != BoardSize*BoardSize {
		return b, false
	}
	for i, v := range cells {
		b[i/BoardSize][i%BoardSize] = v
	}
	return b, true
}

func isFree(row, col int) bool {
	return row == Center && col == Center
}

// Numbers is a list of drawn or matched values. It marshals to a JSON
// array of integers instead of the base64 string used for []byte.
type Numbers []uint8

func (n Numbers) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(n))
	for i, v := range n {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (n *Numbers) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make(Numbers, len(ints))
	for i, v := range ints {
		if v < 0 || v > MaxNumber {
			return fmt.Errorf("number %d out of range [0,%d]", v, MaxNumber)
		}
		out[i] = uint8(v)
	}
	*n = out
	return nil
}
