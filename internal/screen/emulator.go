// Package screen implements a virtual terminal emulator that maintains a
// rows×cols grid of characters. It consumes raw pty output incrementally,
// interprets the common VT control sequences and tracks the cursor, so that
// callers can ask what is displayed at a given row and column.
//
// An Emulator is not safe for concurrent use; callers serialize access.
package screen

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Position is a zero-based cursor or cell location.
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Emulator is a byte-stream driven terminal screen model.
type Emulator struct {
	rows int
	cols int

	main   grid
	alt    grid
	inAlt  bool
	noWrap bool

	state  parserState
	params []byte // CSI parameter and intermediate bytes
	utf    []byte // incomplete UTF-8 sequence carried between writes
}

type grid struct {
	cells       [][]rune
	cur         Position
	wrapPending bool
	top, bottom int // scroll region, inclusive
	saved       Position
}

type parserState byte

const (
	stateGround   parserState = iota
	stateEscape               // saw ESC
	stateCSI                  // saw ESC [
	stateOSC                  // saw ESC ]
	stateOSCEsc               // saw ESC inside an OSC string
	stateSkipByte             // charset designation, ignore one byte
)

const blank = ' '

// New creates an emulator with a fixed grid of rows×cols cells. Dimensions
// below one are raised to one.
func New(rows, cols int) *Emulator {
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	e := &Emulator{rows: rows, cols: cols}
	e.main = newGrid(rows, cols)
	e.alt = newGrid(rows, cols)
	return e
}

func newGrid(rows, cols int) grid {
	g := grid{
		cells:  make([][]rune, rows),
		bottom: rows - 1,
	}
	for i := range g.cells {
		g.cells[i] = blankRow(cols)
	}
	return g
}

func blankRow(cols int) []rune {
	row := make([]rune, cols)
	for i := range row {
		row[i] = blank
	}
	return row
}

func (e *Emulator) g() *grid {
	if e.inAlt {
		return &e.alt
	}
	return &e.main
}

// Size returns the grid dimensions.
func (e *Emulator) Size() (rows, cols int) {
	return e.rows, e.cols
}

// Write feeds raw terminal output into the emulator. It never fails; bytes it
// does not understand are skipped.
func (e *Emulator) Write(data []byte) (int, error) {
	n := len(data)
	if len(e.utf) > 0 {
		data = append(e.utf, data...)
		e.utf = nil
	}

	for i := 0; i < len(data); {
		b := data[i]

		if e.state != stateGround {
			e.feedEscape(b)
			i++
			continue
		}

		if b < 0x20 || b == 0x7f {
			e.control(b)
			i++
			continue
		}

		if b < 0x80 {
			e.put(rune(b))
			i++
			continue
		}

		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			if !utf8.FullRune(data[i:]) {
				e.utf = append([]byte(nil), data[i:]...)
				return n, nil
			}
			i++
			continue
		}
		e.put(r)
		i += size
	}
	return n, nil
}

// --- Ground state ---

func (e *Emulator) put(r rune) {
	g := e.g()
	if g.wrapPending {
		g.wrapPending = false
		g.cur.Col = 0
		e.lineFeed()
	}
	g.cells[g.cur.Row][g.cur.Col] = r
	if g.cur.Col == e.cols-1 {
		g.wrapPending = !e.noWrap
		return
	}
	g.cur.Col++
}

func (e *Emulator) control(b byte) {
	g := e.g()
	switch b {
	case 0x1b:
		e.state = stateEscape
		e.params = e.params[:0]
	case '\r':
		g.cur.Col = 0
		g.wrapPending = false
	case '\n', '\v', '\f':
		g.wrapPending = false
		e.lineFeed()
	case '\b':
		g.wrapPending = false
		if g.cur.Col > 0 {
			g.cur.Col--
		}
	case '\t':
		g.wrapPending = false
		g.cur.Col = min((g.cur.Col/8+1)*8, e.cols-1)
	}
	// BEL, NUL, DEL and the remaining C0 controls are ignored.
}

// --- Escape and control sequence states ---

func (e *Emulator) feedEscape(b byte) {
	switch e.state {
	case stateEscape:
		e.state = stateGround
		g := e.g()
		switch b {
		case '[':
			e.state = stateCSI
			e.params = e.params[:0]
		case ']':
			e.state = stateOSC
		case '(', ')', '*', '+', '#', '%':
			e.state = stateSkipByte
		case 'D': // IND
			g.wrapPending = false
			e.lineFeed()
		case 'E': // NEL
			g.wrapPending = false
			g.cur.Col = 0
			e.lineFeed()
		case 'M': // RI
			g.wrapPending = false
			e.reverseIndex()
		case '7': // DECSC
			g.saved = g.cur
		case '8': // DECRC
			e.restoreCursor()
		case 'c': // RIS
			e.reset()
		case 0x1b:
			e.state = stateEscape
		}

	case stateCSI:
		switch {
		case b >= 0x20 && b <= 0x3f:
			e.params = append(e.params, b)
		case b >= 0x40 && b <= 0x7e:
			e.state = stateGround
			e.execCSI(b, string(e.params))
			e.params = e.params[:0]
		case b == 0x1b:
			e.state = stateEscape
			e.params = e.params[:0]
		case b < 0x20:
			e.control(b)
		default:
			e.state = stateGround
			e.params = e.params[:0]
		}

	case stateOSC:
		switch b {
		case 0x07:
			e.state = stateGround
		case 0x1b:
			e.state = stateOSCEsc
		}

	case stateOSCEsc:
		e.state = stateGround

	case stateSkipByte:
		e.state = stateGround
	}
}

func (e *Emulator) execCSI(final byte, params string) {
	g := e.g()
	g.wrapPending = false

	private := len(params) > 0 && (params[0] == '?' || params[0] == '>' || params[0] == '=' || params[0] == '<')
	if private {
		switch final {
		case 'h':
			e.setPrivateMode(params[1:], true)
		case 'l':
			e.setPrivateMode(params[1:], false)
		case 'J':
			e.eraseDisplay(param(params[1:], 0, 0))
		case 'K':
			e.eraseLine(param(params[1:], 0, 0))
		}
		return
	}

	switch final {
	case 'H', 'f': // CUP, HVP
		g.cur.Row = clamp(param(params, 0, 1)-1, 0, e.rows-1)
		g.cur.Col = clamp(param(params, 1, 1)-1, 0, e.cols-1)
	case 'A': // CUU
		g.cur.Row = e.moveUp(g.cur.Row, param(params, 0, 1))
	case 'B', 'e': // CUD, VPR
		g.cur.Row = e.moveDown(g.cur.Row, param(params, 0, 1))
	case 'C', 'a': // CUF, HPR
		g.cur.Col = clamp(g.cur.Col+param(params, 0, 1), 0, e.cols-1)
	case 'D': // CUB
		g.cur.Col = clamp(g.cur.Col-param(params, 0, 1), 0, e.cols-1)
	case 'E': // CNL
		g.cur.Row = e.moveDown(g.cur.Row, param(params, 0, 1))
		g.cur.Col = 0
	case 'F': // CPL
		g.cur.Row = e.moveUp(g.cur.Row, param(params, 0, 1))
		g.cur.Col = 0
	case 'G', '`': // CHA, HPA
		g.cur.Col = clamp(param(params, 0, 1)-1, 0, e.cols-1)
	case 'd': // VPA
		g.cur.Row = clamp(param(params, 0, 1)-1, 0, e.rows-1)
	case 'J': // ED
		e.eraseDisplay(param(params, 0, 0))
	case 'K': // EL
		e.eraseLine(param(params, 0, 0))
	case 'X': // ECH
		n := param(params, 0, 1)
		row := g.cells[g.cur.Row]
		for i := g.cur.Col; i < g.cur.Col+n && i < e.cols; i++ {
			row[i] = blank
		}
	case 'L': // IL
		e.insertLines(param(params, 0, 1))
	case 'M': // DL
		e.deleteLines(param(params, 0, 1))
	case '@': // ICH
		e.insertChars(param(params, 0, 1))
	case 'P': // DCH
		e.deleteChars(param(params, 0, 1))
	case 'S': // SU
		e.scrollUp(param(params, 0, 1))
	case 'T': // SD
		e.scrollDown(param(params, 0, 1))
	case 'r': // DECSTBM
		top := clamp(param(params, 0, 1)-1, 0, e.rows-1)
		bottom := clamp(param(params, 1, e.rows)-1, 0, e.rows-1)
		if top < bottom {
			g.top, g.bottom = top, bottom
		} else {
			g.top, g.bottom = 0, e.rows-1
		}
		g.cur = Position{Row: 0, Col: 0}
	case 's': // SCP
		g.saved = g.cur
	case 'u': // RCP
		e.restoreCursor()
	}
	// SGR, DSR, DA and everything else change nothing on the grid.
}

func (e *Emulator) setPrivateMode(params string, set bool) {
	for _, p := range strings.Split(params, ";") {
		n, _ := strconv.Atoi(p)
		switch n {
		case 7: // DECAWM
			e.noWrap = !set
		case 47, 1047, 1049:
			if set && !e.inAlt {
				saved := e.main.cur
				e.inAlt = true
				e.alt = newGrid(e.rows, e.cols)
				if n == 1049 {
					e.main.saved = saved
					e.alt.cur = saved
				}
			} else if !set && e.inAlt {
				e.inAlt = false
				if n == 1049 {
					e.main.cur = e.main.saved
				}
				e.main.wrapPending = false
			}
		}
	}
}

func (e *Emulator) reset() {
	e.main = newGrid(e.rows, e.cols)
	e.alt = newGrid(e.rows, e.cols)
	e.inAlt = false
	e.noWrap = false
}

func (e *Emulator) restoreCursor() {
	g := e.g()
	g.cur.Row = clamp(g.saved.Row, 0, e.rows-1)
	g.cur.Col = clamp(g.saved.Col, 0, e.cols-1)
	g.wrapPending = false
}

// moveUp and moveDown stop at the scroll margins when the cursor starts
// inside the region, and at the screen edge otherwise.
func (e *Emulator) moveUp(row, n int) int {
	g := e.g()
	limit := 0
	if row >= g.top {
		limit = g.top
	}
	return max(row-n, limit)
}

func (e *Emulator) moveDown(row, n int) int {
	g := e.g()
	limit := e.rows - 1
	if row <= g.bottom {
		limit = g.bottom
	}
	return min(row+n, limit)
}

// --- Scrolling and line editing ---

func (e *Emulator) lineFeed() {
	g := e.g()
	switch {
	case g.cur.Row == g.bottom:
		e.scrollUp(1)
	case g.cur.Row < e.rows-1:
		g.cur.Row++
	}
}

func (e *Emulator) reverseIndex() {
	g := e.g()
	switch {
	case g.cur.Row == g.top:
		e.scrollDown(1)
	case g.cur.Row > 0:
		g.cur.Row--
	}
}

func (e *Emulator) scrollUp(n int) {
	g := e.g()
	e.scrollRegionUp(g.top, g.bottom, n)
}

func (e *Emulator) scrollDown(n int) {
	g := e.g()
	e.scrollRegionDown(g.top, g.bottom, n)
}

func (e *Emulator) scrollRegionUp(top, bottom, n int) {
	g := e.g()
	n = min(n, bottom-top+1)
	for r := top; r <= bottom-n; r++ {
		g.cells[r] = g.cells[r+n]
	}
	for r := bottom - n + 1; r <= bottom; r++ {
		g.cells[r] = blankRow(e.cols)
	}
}

func (e *Emulator) scrollRegionDown(top, bottom, n int) {
	g := e.g()
	n = min(n, bottom-top+1)
	for r := bottom; r >= top+n; r-- {
		g.cells[r] = g.cells[r-n]
	}
	for r := top; r < top+n; r++ {
		g.cells[r] = blankRow(e.cols)
	}
}

func (e *Emulator) insertLines(n int) {
	g := e.g()
	if g.cur.Row < g.top || g.cur.Row > g.bottom {
		return
	}
	e.scrollRegionDown(g.cur.Row, g.bottom, n)
	g.cur.Col = 0
}

func (e *Emulator) deleteLines(n int) {
	g := e.g()
	if g.cur.Row < g.top || g.cur.Row > g.bottom {
		return
	}
	e.scrollRegionUp(g.cur.Row, g.bottom, n)
	g.cur.Col = 0
}

func (e *Emulator) insertChars(n int) {
	g := e.g()
	row := g.cells[g.cur.Row]
	n = min(n, e.cols-g.cur.Col)
	copy(row[g.cur.Col+n:], row[g.cur.Col:e.cols-n])
	for i := g.cur.Col; i < g.cur.Col+n; i++ {
		row[i] = blank
	}
}

func (e *Emulator) deleteChars(n int) {
	g := e.g()
	row := g.cells[g.cur.Row]
	n = min(n, e.cols-g.cur.Col)
	copy(row[g.cur.Col:], row[g.cur.Col+n:])
	for i := e.cols - n; i < e.cols; i++ {
		row[i] = blank
	}
}

// --- Erase operations ---

func (e *Emulator) eraseDisplay(mode int) {
	g := e.g()
	switch mode {
	case 0:
		e.eraseLine(0)
		for r := g.cur.Row + 1; r < e.rows; r++ {
			g.cells[r] = blankRow(e.cols)
		}
	case 1:
		for r := 0; r < g.cur.Row; r++ {
			g.cells[r] = blankRow(e.cols)
		}
		e.eraseLine(1)
	case 2, 3:
		for r := 0; r < e.rows; r++ {
			g.cells[r] = blankRow(e.cols)
		}
	}
}

func (e *Emulator) eraseLine(mode int) {
	g := e.g()
	row := g.cells[g.cur.Row]
	switch mode {
	case 0:
		for i := g.cur.Col; i < e.cols; i++ {
			row[i] = blank
		}
	case 1:
		for i := 0; i <= g.cur.Col; i++ {
			row[i] = blank
		}
	case 2:
		g.cells[g.cur.Row] = blankRow(e.cols)
	}
}

// --- Parameter helpers ---

// maxParam bounds CSI parameters, as xterm does, so cursor arithmetic cannot
// overflow.
const maxParam = 65535

// param returns the idx'th numeric CSI parameter, or def when it is missing
// or zero. Values above maxParam, including ones too large for an int, are
// capped.
func param(params string, idx, def int) int {
	for i := 0; i < idx; i++ {
		j := strings.IndexByte(params, ';')
		if j < 0 {
			return def
		}
		params = params[j+1:]
	}
	if j := strings.IndexByte(params, ';'); j >= 0 {
		params = params[:j]
	}
	n, err := strconv.Atoi(params)
	if errors.Is(err, strconv.ErrRange) || n > maxParam {
		return maxParam
	}
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
