package bingo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seqBoard numbers cells 0..24 in row-major order.
func seqBoard() Board {
	var b Board
	for r := 0; r < BoardSize; r++ {
		for c := 0; c < BoardSize; c++ {
			b[r][c] = uint8(r*BoardSize + c)
		}
	}
	return b
}

func TestCheckWinMiddleRowNeedsFourNonCenterCells(t *testing.T) {
	res := CheckWin(seqBoard(), []uint8{10, 11, 13, 14})

	require.True(t, res.Won)
	assert.Equal(t, Line{Kind: LineRow, Index: 2}, res.Line)
	assert.Equal(t, Numbers{10, 11, 13, 14}, res.Numbers)
}

func TestCheckWinOuterRowNeedsAllFive(t *testing.T) {
	b := seqBoard()

	res := CheckWin(b, []uint8{0, 1, 2, 3})
	assert.False(t, res.Won)

	res = CheckWin(b, []uint8{0, 1, 2, 3, 4})
	require.True(t, res.Won)
	assert.Equal(t, Line{Kind: LineRow, Index: 0}, res.Line)
}

func TestCheckWinCenterValueIsIgnored(t *testing.T) {
	b := seqBoard()

	// 12 sits in the free cell: drawing it adds nothing to the middle row
	res := CheckWin(b, []uint8{10, 11, 12, 13})
	assert.False(t, res.Won)
}

func TestCheckWinColumns(t *testing.T) {
	b := seqBoard()

	res := CheckWin(b, []uint8{2, 7, 17, 22})
	require.True(t, res.Won)
	assert.Equal(t, Line{Kind: LineColumn, Index: 2}, res.Line)

	res = CheckWin(b, []uint8{4, 9, 14, 19, 24})
	require.True(t, res.Won)
	assert.Equal(t, Line{Kind: LineColumn, Index: 4}, res.Line)

	res = CheckWin(b, []uint8{4, 9, 14, 19})
	assert.False(t, res.Won)
}

func TestCheckWinDiagonals(t *testing.T) {
	b := seqBoard()

	res := CheckWin(b, []uint8{0, 6, 18, 24})
	require.True(t, res.Won)
	assert.Equal(t, Line{Kind: LineDiagonal}, res.Line)
	assert.Equal(t, Numbers{0, 6, 18, 24}, res.Numbers)

	res = CheckWin(b, []uint8{4, 8, 16, 20})
	require.True(t, res.Won)
	assert.Equal(t, Line{Kind: LineAntiDiagonal}, res.Line)
	assert.Equal(t, "anti_diagonal", res.Line.String())
}

func TestCheckWinScansRowsFirst(t *testing.T) {
	// row 0 and column 0 are both complete
	res := CheckWin(seqBoard(), []uint8{0, 1, 2, 3, 4, 5, 10, 15, 20})
	require.True(t, res.Won)
	assert.Equal(t, Line{Kind: LineRow, Index: 0}, res.Line)
}

func TestCheckWinDuplicateCells(t *testing.T) {
	var b Board
	for r := range b {
		for c := range b[r] {
			b[r][c] = 7
		}
	}
	res := CheckWin(b, []uint8{7})
	require.True(t, res.Won)
	assert.Equal(t, "row 0", res.Line.String())
}

func TestCheckWinNothingDrawn(t *testing.T) {
	assert.Equal(t, WinResult{}, CheckWin(seqBoard(), nil))
}

func TestGenerateBoardRange(t *testing.T) {
	b := GenerateBoard(NewCryptoEntropy())
	assert.Len(t, b.Cells(), BoardSize*BoardSize)

	same, ok := BoardFromCells(b.Cells())
	require.True(t, ok)
	assert.Equal(t, b, same)

	_, ok = BoardFromCells([]uint8{1, 2, 3})
	assert.False(t, ok)
}

func TestGenerateBoardUsesFullRange(t *testing.T) {
	b := GenerateBoard(&scripted{vals: []int{255, 256, 511}})
	assert.Equal(t, uint8(255), b[0][0])
	assert.Equal(t, uint8(0), b[0][1])
	assert.Equal(t, uint8(255), b[0][2])
}

func TestNumbersJSON(t *testing.T) {
	data, err := Numbers{1, 200, 255}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[1,200,255]`, string(data))

	var n Numbers
	require.NoError(t, n.UnmarshalJSON([]byte(`[0,9]`)))
	assert.Equal(t, Numbers{0, 9}, n)
	assert.Error(t, n.UnmarshalJSON([]byte(`[256]`)))
}
