package screen

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOutOfRange is matched by errors.Is for every *OutOfRangeError.
var ErrOutOfRange = errors.New("position out of range")

// OutOfRangeError reports a cell lookup outside the grid.
type OutOfRangeError struct {
	Row, Col   int
	Rows, Cols int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("cell (%d, %d) outside %dx%d grid", e.Row, e.Col, e.Rows, e.Cols)
}

// Is reports whether target is ErrOutOfRange.
func (e *OutOfRangeError) Is(target error) bool {
	return target == ErrOutOfRange
}

// CellAt returns the character displayed at row, col.
func (e *Emulator) CellAt(row, col int) (rune, error) {
	if row < 0 || row >= e.rows || col < 0 || col >= e.cols {
		return 0, &OutOfRangeError{Row: row, Col: col, Rows: e.rows, Cols: e.cols}
	}
	return e.g().cells[row][col], nil
}

// Cursor returns the cursor position. It is always inside the grid.
func (e *Emulator) Cursor() Position {
	return e.g().cur
}

// RegionText returns the text of the half-open rectangle
// [rowStart, rowEnd) × [colStart, colEnd). A negative end selects the grid
// bound and the rectangle is clipped to the grid. Trailing blanks are trimmed
// from each row and rows are joined with newlines.
func (e *Emulator) RegionText(rowStart, rowEnd, colStart, colEnd int) string {
	if rowEnd < 0 {
		rowEnd = e.rows
	}
	if colEnd < 0 {
		colEnd = e.cols
	}
	rowStart = clamp(rowStart, 0, e.rows)
	rowEnd = clamp(rowEnd, 0, e.rows)
	colStart = clamp(colStart, 0, e.cols)
	colEnd = clamp(colEnd, 0, e.cols)
	if rowStart >= rowEnd {
		return ""
	}

	g := e.g()
	lines := make([]string, 0, rowEnd-rowStart)
	for r := rowStart; r < rowEnd; r++ {
		if colStart >= colEnd {
			lines = append(lines, "")
			continue
		}
		lines = append(lines, strings.TrimRight(string(g.cells[r][colStart:colEnd]), " \t"))
	}
	return strings.Join(lines, "\n")
}

// LineText returns one full row with trailing blanks trimmed.
func (e *Emulator) LineText(row int) string {
	return e.RegionText(row, row+1, 0, e.cols)
}

// Display returns every row of the visible grid, trailing blanks trimmed.
func (e *Emulator) Display() []string {
	lines := make([]string, e.rows)
	for r := range lines {
		lines[r] = e.LineText(r)
	}
	return lines
}

// Text returns the whole screen as newline-joined rows.
func (e *Emulator) Text() string {
	return e.RegionText(0, e.rows, 0, e.cols)
}

// Span returns the n cells starting at row, col without crossing into the
// next row. It returns fewer than n cells when the row ends first.
func (e *Emulator) Span(row, col, n int) (string, error) {
	if row < 0 || row >= e.rows || col < 0 || col >= e.cols {
		return "", &OutOfRangeError{Row: row, Col: col, Rows: e.rows, Cols: e.cols}
	}
	end := min(col+max(n, 0), e.cols)
	return string(e.g().cells[row][col:end]), nil
}
