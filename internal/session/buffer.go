package session

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/GeorgePearse/mcp-tui-test/internal/screen"
)

// BufferSession replays output through a terminal emulator. Each query first
// feeds the emulator whatever the process printed since the previous one.
type BufferSession struct {
	base
	emu *screen.Emulator
	fed int // bytes of process output already given to emu
}

// refreshLocked drains the process and feeds new output to the emulator.
func (s *BufferSession) refreshLocked() {
	s.proc.Drain()
	data := s.proc.Since(s.fed)
	if len(data) == 0 {
		return
	}
	_, _ = s.emu.Write(data)
	s.fed += len(data)
}

// CaptureScreen returns the reconstructed screen, one line per row with
// trailing blanks trimmed. The grid holds no escape sequences, so stripANSI
// has no effect.
func (s *BufferSession) CaptureScreen(stripANSI bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	return s.emu.Text()
}

// CaptureStream returns the raw output stream of a buffer session.
func (s *BufferSession) CaptureStream(stripANSI bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureStreamLocked(stripANSI)
}

// ExpectText waits for pattern in the output stream and brings the screen up
// to date before returning.
func (s *BufferSession) ExpectText(ctx context.Context, pattern string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, err := s.expectLocked(ctx, pattern, timeout)
	s.refreshLocked()
	return text, err
}

// AssertContains checks the reconstructed screen for text.
func (s *BufferSession) AssertContains(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	out := s.emu.Text()
	if !strings.Contains(out, text) {
		return &AssertionError{Op: "contains", Expected: text, Observed: out, Row: -1, Col: -1}
	}
	return nil
}

// AssertStreamContains checks the escape-stripped output stream for text.
func (s *BufferSession) AssertStreamContains(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.captureStreamLocked(true)
	if !strings.Contains(out, text) {
		return &AssertionError{Op: "contains", Expected: text, Observed: out, Row: -1, Col: -1}
	}
	return nil
}

// AssertAtPosition succeeds when the cells of row starting at col spell text
// exactly. The comparison never continues onto the next row.
func (s *BufferSession) AssertAtPosition(text string, row, col int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	observed, err := s.emu.Span(row, col, utf8.RuneCountInString(text))
	if err != nil {
		return &AssertionError{Op: "at_position", Expected: text, Row: row, Col: col, Err: err}
	}
	if observed != text {
		return &AssertionError{Op: "at_position", Expected: text, Observed: observed, Row: row, Col: col}
	}
	return nil
}

// CursorPosition returns the emulated cursor.
func (s *BufferSession) CursorPosition() screen.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	return s.emu.Cursor()
}

// ScreenRegion returns the half-open rectangle [rowStart, rowEnd) ×
// [colStart, colEnd). A negative end means the screen edge.
func (s *BufferSession) ScreenRegion(rowStart, rowEnd, colStart, colEnd int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	return s.emu.RegionText(rowStart, rowEnd, colStart, colEnd)
}

// Line returns one row of the screen.
func (s *BufferSession) Line(row int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	return s.emu.LineText(row)
}

// CellAt returns the character at row, col.
func (s *BufferSession) CellAt(row, col int) (rune, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	return s.emu.CellAt(row, col)
}
