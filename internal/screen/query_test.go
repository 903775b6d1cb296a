package screen

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Emulator {
	e := New(4, 12)
	feed(e, "\x1b[1;1HTITLE\x1b[2;3Hitem one\x1b[3;3Hitem two\x1b[4;1Hstatus: ok")
	return e
}

func TestCellAt(t *testing.T) {
	e := sample()
	r, err := e.CellAt(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 'T', r)

	r, err = e.CellAt(1, 0)
	require.NoError(t, err)
	assert.Equal(t, ' ', r)

	for _, pos := range [][2]int{{-1, 0}, {0, -1}, {4, 0}, {0, 12}} {
		_, err := e.CellAt(pos[0], pos[1])
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrOutOfRange))
		var oor *OutOfRangeError
		require.True(t, errors.As(err, &oor))
		assert.Equal(t, 4, oor.Rows)
		assert.Equal(t, 12, oor.Cols)
	}
}

func TestRegionText(t *testing.T) {
	e := sample()
	assert.Equal(t, "item\nitem", e.RegionText(1, 3, 2, 6))
	assert.Equal(t, "one\ntwo", e.RegionText(1, 3, 7, -1))
	assert.Equal(t, "status: ok", e.RegionText(3, -1, 0, -1))
	assert.Equal(t, "", e.RegionText(2, 2, 0, -1))
	assert.Equal(t, "", e.RegionText(10, 20, 0, -1))
	assert.Equal(t, "\n", e.RegionText(0, 2, 5, 5))
	assert.Equal(t, "TITLE", e.RegionText(-5, 1, -5, 100))
}

func TestRegionEqualsJoinedLines(t *testing.T) {
	e := sample()
	rows, cols := e.Size()
	lines := make([]string, rows)
	for r := 0; r < rows; r++ {
		lines[r] = e.LineText(r)
	}
	assert.Equal(t, strings.Join(lines, "\n"), e.RegionText(0, rows, 0, cols))
	assert.Equal(t, e.Text(), e.RegionText(0, rows, 0, cols))
}

func TestQueriesDoNotMutate(t *testing.T) {
	e := sample()
	first := []any{e.Cursor(), e.Display(), e.RegionText(0, -1, 0, -1), e.LineText(1)}
	for i := 0; i < 3; i++ {
		_, _ = e.CellAt(0, 0)
		_, _ = e.Span(0, 0, 5)
		again := []any{e.Cursor(), e.Display(), e.RegionText(0, -1, 0, -1), e.LineText(1)}
		assert.Equal(t, first, again)
	}
}

func TestSpanStopsAtRowEnd(t *testing.T) {
	e := sample()
	got, err := e.Span(0, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "TITLE", got)

	got, err = e.Span(3, 8, 10)
	require.NoError(t, err)
	assert.Equal(t, "ok  ", got)

	_, err = e.Span(9, 0, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
