package session

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeorgePearse/mcp-tui-test/internal/ansi"
	"github.com/GeorgePearse/mcp-tui-test/internal/pty"
)

// fakeProc is an in-memory Process whose output is set by the test.
type fakeProc struct {
	mu      sync.Mutex
	output  []byte
	written []byte
	cursor  int
	closed  bool
}

func (f *fakeProc) emit(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output = append(f.output, s...)
}

func (f *fakeProc) Write(data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, pty.ErrClosed
	}
	f.written = append(f.written, data...)
	return len(data), nil
}

func (f *fakeProc) Drain() int { return 0 }

func (f *fakeProc) Since(offset int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset >= len(f.output) {
		return nil
	}
	return append([]byte(nil), f.output[offset:]...)
}

func (f *fakeProc) Snapshot(stripANSI bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stripANSI {
		return ansi.StripComplete(f.output)
	}
	return string(f.output)
}

func (f *fakeProc) WaitForPattern(_ context.Context, re *regexp.Regexp, _ time.Duration) (pty.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	loc := re.FindIndex(f.output[f.cursor:])
	if loc == nil {
		return pty.Match{}, &pty.WaitError{Pattern: re.String(), Err: pty.ErrTimeout}
	}
	m := pty.Match{Text: string(f.output[f.cursor+loc[0] : f.cursor+loc[1]]), End: f.cursor + loc[1]}
	f.cursor = m.End
	return m, nil
}

func (f *fakeProc) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeProc) ExitCode() int { return -1 }
func (f *fakeProc) Pid() int      { return 4242 }

func (f *fakeProc) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newFake(t *testing.T, mode Mode, rows, cols int) (Session, *fakeProc) {
	t.Helper()
	f := &fakeProc{}
	s := New(Config{ID: "t", Command: "fake", Mode: mode, Rows: rows, Cols: cols}, f)
	return s, f
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Buffer")
	require.NoError(t, err)
	assert.Equal(t, ModeBuffer, m)

	m, err = ParseMode(" stream ")
	require.NoError(t, err)
	assert.Equal(t, ModeStream, m)

	_, err = ParseMode("auto")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestNew(t *testing.T) {
	t.Run("defaults to stream", func(t *testing.T) {
		s := New(Config{ID: "x"}, &fakeProc{})
		assert.Equal(t, ModeStream, s.Mode())
		_, ok := s.(*StreamSession)
		assert.True(t, ok)
		info := s.Info()
		assert.Equal(t, 24, info.Rows)
		assert.Equal(t, 80, info.Cols)
		assert.NotEmpty(t, info.Instance)
	})

	t.Run("buffer variant", func(t *testing.T) {
		s, _ := newFake(t, ModeBuffer, 5, 20)
		bs, err := AsBuffer(s, "cursor")
		require.NoError(t, err)
		assert.Equal(t, ModeBuffer, bs.Mode())
	})

	t.Run("instances differ", func(t *testing.T) {
		a, _ := newFake(t, ModeStream, 0, 0)
		b, _ := newFake(t, ModeStream, 0, 0)
		assert.NotEqual(t, a.Info().Instance, b.Info().Instance)
	})
}

func TestAsBufferRejectsStream(t *testing.T) {
	s, _ := newFake(t, ModeStream, 0, 0)
	_, err := AsBuffer(s, "get_cursor_position")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMode)

	var me *ModeError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "get_cursor_position", me.Op)
	assert.Equal(t, ModeStream, me.Mode)
	assert.Contains(t, err.Error(), "buffer")
}

func TestSendKeys(t *testing.T) {
	s, f := newFake(t, ModeStream, 0, 0)
	ctx := context.Background()

	require.NoError(t, s.SendKeys(ctx, "ls\n", 0))
	require.NoError(t, s.SendCtrl(ctx, "c"))
	assert.Equal(t, []byte("ls\n\x03"), f.written)

	t.Run("delay honours context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		start := time.Now()
		err := s.SendKeys(cctx, "x", time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("invalid ctrl key", func(t *testing.T) {
		err := s.SendCtrl(ctx, "1")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("closed process", func(t *testing.T) {
		require.NoError(t, s.Close())
		assert.ErrorIs(t, s.SendKeys(ctx, "x", 0), pty.ErrClosed)
		assert.False(t, s.Alive())
	})
}

func TestStreamAssertContains(t *testing.T) {
	s, f := newFake(t, ModeStream, 0, 0)
	f.emit("\x1b[32mready\x1b[0m> ")

	assert.NoError(t, s.AssertContains("ready>"))

	err := s.AssertContains("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAssertion)
	var ae *AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "missing", ae.Expected)
	assert.Equal(t, "ready> ", ae.Observed)

	assert.Equal(t, "\x1b[32mready\x1b[0m> ", s.CaptureScreen(false))
	assert.Equal(t, "ready> ", s.CaptureScreen(true))
}

func TestExpectTextInvalidPattern(t *testing.T) {
	s, _ := newFake(t, ModeStream, 0, 0)
	_, err := s.ExpectText(context.Background(), "([", time.Second)
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestBufferQueries(t *testing.T) {
	s, f := newFake(t, ModeBuffer, 4, 20)
	bs, err := AsBuffer(s, "test")
	require.NoError(t, err)

	f.emit("\x1b[2J\x1b[1;1HTITLE\x1b[3;5Hbody text")

	t.Run("screen and stream", func(t *testing.T) {
		assert.Equal(t, "TITLE\n\n    body text\n", bs.CaptureScreen(true))
		assert.Contains(t, bs.CaptureStream(false), "\x1b[1;1H")
		assert.Equal(t, "TITLEbody text", bs.CaptureStream(true))
	})

	t.Run("position assertions", func(t *testing.T) {
		assert.NoError(t, bs.AssertAtPosition("TITLE", 0, 0))
		assert.NoError(t, bs.AssertAtPosition("body", 2, 4))
		assert.NoError(t, bs.AssertAtPosition("", 3, 0))

		err := bs.AssertAtPosition("TITLE", 1, 0)
		var ae *AssertionError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, 1, ae.Row)
		assert.Equal(t, "     ", ae.Observed)

		err = bs.AssertAtPosition("x", 9, 0)
		assert.ErrorIs(t, err, ErrAssertion)
		assert.Contains(t, err.Error(), "(9, 0)")
	})

	t.Run("cursor region line", func(t *testing.T) {
		pos := bs.CursorPosition()
		assert.Equal(t, 2, pos.Row)
		assert.Equal(t, 13, pos.Col)
		assert.Equal(t, "body", bs.ScreenRegion(2, 3, 4, 8))
		assert.Equal(t, "    body text", bs.Line(2))
		r, err := bs.CellAt(0, 1)
		require.NoError(t, err)
		assert.Equal(t, 'I', r)
	})

	t.Run("contains checks the screen", func(t *testing.T) {
		assert.NoError(t, bs.AssertContains("body text"))
		assert.ErrorIs(t, bs.AssertContains("\x1b[2J"), ErrAssertion)
		assert.NoError(t, bs.AssertStreamContains("TITLEbody"))
	})

	t.Run("new output is picked up", func(t *testing.T) {
		f.emit("\x1b[4;1Hfooter")
		assert.Equal(t, "footer", bs.Line(3))
	})
}

func TestBufferExpectFeedsScreen(t *testing.T) {
	s, f := newFake(t, ModeBuffer, 3, 10)
	f.emit("one\r\ntwo\r\n")

	text, err := s.ExpectText(context.Background(), "t.o", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "two", text)

	bs, _ := AsBuffer(s, "test")
	assert.Equal(t, "one", bs.Line(0))
	assert.Equal(t, "two", bs.Line(1))

	_, err = s.ExpectText(context.Background(), "one", time.Second)
	assert.ErrorIs(t, err, pty.ErrTimeout)
}

func TestCtrlByte(t *testing.T) {
	cases := map[string]byte{
		"a": 0x01, "C": 0x03, "z": 0x1a, "@": 0x00, " ": 0x00,
		"[": 0x1b, "\\": 0x1c, "]": 0x1d, "^": 0x1e, "_": 0x1f, "?": 0x7f,
	}
	for key, want := range cases {
		got, err := CtrlByte(key)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}
	for _, key := range []string{"", "ab", "1", "é"} {
		_, err := CtrlByte(key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestKeySequence(t *testing.T) {
	seq, err := KeySequence("Enter")
	require.NoError(t, err)
	assert.Equal(t, "\r", seq)

	seq, err = KeySequence("UP")
	require.NoError(t, err)
	assert.Equal(t, "\x1b[A", seq)

	seq, err = KeySequence("C-d")
	require.NoError(t, err)
	assert.Equal(t, "\x04", seq)

	_, err = KeySequence("hyper")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = KeySequence("C-1")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
