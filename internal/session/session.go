// Package session pairs a pty process with one of two ways of observing it:
// a stream session treats output as sequential text, a buffer session replays
// it through a terminal emulator so callers can address the screen by row and
// column.
//
// Every operation on a session holds that session's lock for its whole
// duration, so at most one operation is in flight per session. Close, Alive
// and Info never wait for the lock, which lets a close interrupt a blocked
// ExpectText.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GeorgePearse/mcp-tui-test/internal/pty"
	"github.com/GeorgePearse/mcp-tui-test/internal/screen"
)

// Mode selects how a session's output is observed.
type Mode string

const (
	// ModeStream observes output as a raw text stream.
	ModeStream Mode = "stream"
	// ModeBuffer reconstructs a 2D screen from the output.
	ModeBuffer Mode = "buffer"
)

// ErrInvalidMode is returned by ParseMode for unknown names.
var ErrInvalidMode = errors.New("invalid session mode")

// ParseMode converts "stream" or "buffer" (case-insensitive) into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStream:
		return ModeStream, nil
	case ModeBuffer:
		return ModeBuffer, nil
	}
	return "", fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidMode, s, ModeStream, ModeBuffer)
}

// Process is the part of a pty handle a session drives.
type Process interface {
	Write(data []byte) (int, error)
	Drain() int
	Since(offset int) []byte
	Snapshot(stripANSI bool) string
	WaitForPattern(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (pty.Match, error)
	Alive() bool
	ExitCode() int
	Pid() int
	Close() error
}

// Session is the surface shared by both variants. Use a type switch (or
// AsBuffer) to reach the buffer-only queries.
type Session interface {
	ID() string
	Mode() Mode
	Info() Info
	Alive() bool
	SendKeys(ctx context.Context, text string, delay time.Duration) error
	SendCtrl(ctx context.Context, key string) error
	CaptureScreen(stripANSI bool) string
	ExpectText(ctx context.Context, pattern string, timeout time.Duration) (string, error)
	AssertContains(text string) error
	Close() error
}

// Info is a point-in-time description of a session.
type Info struct {
	ID        string    `json:"id"`
	Instance  string    `json:"instance"`
	Mode      Mode      `json:"mode"`
	Rows      int       `json:"rows"`
	Cols      int       `json:"cols"`
	Command   string    `json:"command"`
	Pid       int       `json:"pid"`
	Alive     bool      `json:"alive"`
	ExitCode  int       `json:"exit_code"`
	CreatedAt time.Time `json:"created_at"`
}

// Config describes a session to start.
type Config struct {
	ID      string
	Command string
	Mode    Mode
	Rows    int
	Cols    int
	// Timeout is the default ExpectText timeout.
	Timeout time.Duration
	// PTY carries the remaining spawn options. Rows, Cols and Timeout above
	// take precedence over the ones set here.
	PTY    pty.Options
	Logger *slog.Logger
}

// Start spawns cfg.Command on a pty and wraps it in a session of cfg.Mode.
func Start(ctx context.Context, cfg Config) (Session, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeStream
	}
	if cfg.Mode != ModeStream && cfg.Mode != ModeBuffer {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Mode)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := cfg.PTY
	opts.Rows = uint16(cfg.Rows)
	opts.Cols = uint16(cfg.Cols)
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	if opts.Logger == nil {
		opts.Logger = cfg.Logger
	}

	h, err := pty.Spawn(ctx, cfg.Command, opts)
	if err != nil {
		return nil, err
	}
	return New(cfg, h), nil
}

// New wraps an already running process. Rows and Cols default to 24×80.
func New(cfg Config, proc Process) Session {
	if cfg.Rows <= 0 {
		cfg.Rows = 24
	}
	if cfg.Cols <= 0 {
		cfg.Cols = 80
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := base{
		id:       cfg.ID,
		instance: uuid.NewString(),
		mode:     cfg.Mode,
		rows:     cfg.Rows,
		cols:     cfg.Cols,
		command:  cfg.Command,
		proc:     proc,
		created:  time.Now(),
	}
	b.logger = cfg.Logger.With(slog.String("session", cfg.ID), slog.String("instance", b.instance))

	if cfg.Mode == ModeBuffer {
		return &BufferSession{base: b, emu: screen.New(cfg.Rows, cfg.Cols)}
	}
	b.mode = ModeStream
	return &StreamSession{base: b}
}

// AsBuffer returns s as a *BufferSession, or a ModeError naming op.
func AsBuffer(s Session, op string) (*BufferSession, error) {
	if bs, ok := s.(*BufferSession); ok {
		return bs, nil
	}
	return nil, &ModeError{Op: op, ID: s.ID(), Mode: s.Mode(), Want: ModeBuffer}
}

// base holds what both variants share.
type base struct {
	mu sync.Mutex

	id       string
	instance string
	mode     Mode
	rows     int
	cols     int
	command  string
	proc     Process
	created  time.Time
	logger   *slog.Logger
}

func (b *base) ID() string  { return b.id }
func (b *base) Mode() Mode  { return b.mode }
func (b *base) Alive() bool { return b.proc.Alive() }

func (b *base) Info() Info {
	return Info{
		ID:        b.id,
		Instance:  b.instance,
		Mode:      b.mode,
		Rows:      b.rows,
		Cols:      b.cols,
		Command:   b.command,
		Pid:       b.proc.Pid(),
		Alive:     b.proc.Alive(),
		ExitCode:  b.proc.ExitCode(),
		CreatedAt: b.created,
	}
}

// sendLocked writes data and then sleeps for delay; the caller holds b.mu.
func (b *base) sendLocked(ctx context.Context, data []byte, delay time.Duration) error {
	if _, err := b.proc.Write(data); err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SendKeys writes text to the process and waits delay afterwards.
func (b *base) SendKeys(ctx context.Context, text string, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendLocked(ctx, []byte(text), delay)
}

// SendCtrl writes the control byte for key, e.g. "c" for Ctrl+C.
func (b *base) SendCtrl(ctx context.Context, key string) error {
	c, err := CtrlByte(key)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendLocked(ctx, []byte{c}, 0)
}

func (b *base) expectLocked(ctx context.Context, pattern string, timeout time.Duration) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	m, err := b.proc.WaitForPattern(ctx, re, timeout)
	if err != nil {
		b.logger.Debug("expect failed", slog.String("pattern", pattern), slog.Any("error", err))
		return "", err
	}
	return m.Text, nil
}

func (b *base) captureStreamLocked(stripANSI bool) string {
	return b.proc.Snapshot(stripANSI)
}

// Close terminates the process. It does not wait for in-flight operations,
// which observe the closed process and return promptly.
func (b *base) Close() error {
	err := b.proc.Close()
	b.logger.Debug("session closed", slog.Int("exit_code", b.proc.ExitCode()))
	return err
}

// StreamSession observes output as an undifferentiated text stream.
type StreamSession struct {
	base
}

// CaptureScreen returns everything the process has printed so far.
func (s *StreamSession) CaptureScreen(stripANSI bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureStreamLocked(stripANSI)
}

// ExpectText waits for pattern to appear after the previous match and
// returns the matched text.
func (s *StreamSession) ExpectText(ctx context.Context, pattern string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expectLocked(ctx, pattern, timeout)
}

// AssertContains checks the escape-stripped output for text.
func (s *StreamSession) AssertContains(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.captureStreamLocked(true)
	if !strings.Contains(out, text) {
		return &AssertionError{Op: "contains", Expected: text, Observed: out, Row: -1, Col: -1}
	}
	return nil
}
