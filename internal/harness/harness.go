// Package harness is the caller-facing surface of tuitest: launch a program
// on a pty, drive it with keystrokes and inspect what it printed, addressing
// sessions by id.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/GeorgePearse/mcp-tui-test/internal/pty"
	"github.com/GeorgePearse/mcp-tui-test/internal/registry"
	"github.com/GeorgePearse/mcp-tui-test/internal/screen"
	"github.com/GeorgePearse/mcp-tui-test/internal/session"
)

// ErrConfig marks caller input that can never succeed as given, such as
// malformed dimensions, an unknown mode or an invalid pattern.
var ErrConfig = errors.New("invalid configuration")

// DefaultSessionID is used when a request leaves the session id empty.
const DefaultSessionID = "default"

// Defaults are the values applied when a request leaves a field empty.
type Defaults struct {
	Dimensions    string
	Mode          string
	LaunchTimeout time.Duration
	ExpectTimeout time.Duration
	KeyDelay      time.Duration
	PollInterval  time.Duration
	CloseGrace    time.Duration
	Shell         string
}

// DefaultDefaults returns the stock defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Dimensions:    "80x24",
		Mode:          string(session.ModeStream),
		LaunchTimeout: 30 * time.Second,
		ExpectTimeout: 10 * time.Second,
		KeyDelay:      100 * time.Millisecond,
		PollInterval:  50 * time.Millisecond,
		CloseGrace:    100 * time.Millisecond,
		Shell:         "/bin/sh",
	}
}

// Options configures a Harness. Zero fields in Defaults fall back to
// DefaultDefaults.
type Options struct {
	Defaults Defaults
	Logger   *slog.Logger
	// Start overrides how sessions are launched. Tests use it to avoid
	// spawning real processes.
	Start registry.StartFunc
}

// Harness owns a session registry and applies defaults to every call.
type Harness struct {
	sessions *registry.Registry
	defaults Defaults
	logger   *slog.Logger
}

// New returns a harness with an empty session table.
func New(opts Options) *Harness {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Harness{
		sessions: registry.New(registry.Options{Start: opts.Start, Logger: opts.Logger}),
		defaults: mergeDefaults(opts.Defaults),
		logger:   opts.Logger,
	}
}

func mergeDefaults(d Defaults) Defaults {
	def := DefaultDefaults()
	if d == (Defaults{}) {
		return def
	}
	if d.Dimensions == "" {
		d.Dimensions = def.Dimensions
	}
	if d.Mode == "" {
		d.Mode = def.Mode
	}
	if d.LaunchTimeout <= 0 {
		d.LaunchTimeout = def.LaunchTimeout
	}
	if d.ExpectTimeout <= 0 {
		d.ExpectTimeout = def.ExpectTimeout
	}
	if d.KeyDelay < 0 {
		d.KeyDelay = def.KeyDelay
	}
	if d.PollInterval <= 0 {
		d.PollInterval = def.PollInterval
	}
	if d.CloseGrace <= 0 {
		d.CloseGrace = def.CloseGrace
	}
	if d.Shell == "" {
		d.Shell = def.Shell
	}
	return d
}

// Defaults returns the effective defaults.
func (h *Harness) Defaults() Defaults {
	return h.defaults
}

// ParseDimensions parses "WIDTHxHEIGHT" into columns and rows.
func ParseDimensions(s string) (cols, rows int, err error) {
	w, ht, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w: dimensions %q must look like WIDTHxHEIGHT", ErrConfig, s)
	}
	cols, err1 := strconv.Atoi(strings.TrimSpace(w))
	rows, err2 := strconv.Atoi(strings.TrimSpace(ht))
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("%w: dimensions %q must be integers", ErrConfig, s)
	}
	if cols <= 0 || rows <= 0 || cols > 0xffff || rows > 0xffff {
		return 0, 0, fmt.Errorf("%w: dimensions %q out of range", ErrConfig, s)
	}
	return cols, rows, nil
}

// LaunchRequest describes a program to start. Empty fields take the
// harness defaults.
type LaunchRequest struct {
	Command   string
	SessionID string
	// Timeout is the session's default expect timeout.
	Timeout    time.Duration
	Dimensions string
	Mode       string
	// Replace closes an existing session with the same id instead of
	// rejecting the launch.
	Replace bool
	Env     []string
	Dir     string
}

// Launch starts req.Command on a pty and registers the session.
func (h *Harness) Launch(ctx context.Context, req LaunchRequest) (session.Info, error) {
	if strings.TrimSpace(req.Command) == "" {
		return session.Info{}, fmt.Errorf("%w: command cannot be empty", ErrConfig)
	}
	if req.SessionID == "" {
		req.SessionID = DefaultSessionID
	}
	if req.Dimensions == "" {
		req.Dimensions = h.defaults.Dimensions
	}
	if req.Mode == "" {
		req.Mode = h.defaults.Mode
	}
	if req.Timeout <= 0 {
		req.Timeout = h.defaults.LaunchTimeout
	}

	cols, rows, err := ParseDimensions(req.Dimensions)
	if err != nil {
		return session.Info{}, err
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		return session.Info{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	s, err := h.sessions.Create(ctx, session.Config{
		ID:      req.SessionID,
		Command: req.Command,
		Mode:    mode,
		Rows:    rows,
		Cols:    cols,
		Timeout: req.Timeout,
		PTY: pty.Options{
			PollInterval: h.defaults.PollInterval,
			CloseGrace:   h.defaults.CloseGrace,
			Shell:        h.defaults.Shell,
			Dir:          req.Dir,
			Env:          req.Env,
		},
		Logger: h.logger,
	}, req.Replace)
	if err != nil {
		return session.Info{}, err
	}
	return s.Info(), nil
}

// Session returns the session registered under id.
func (h *Harness) Session(id string) (session.Session, error) {
	return h.sessions.Get(orDefault(id))
}

func (h *Harness) buffer(id, op string) (*session.BufferSession, error) {
	s, err := h.Session(id)
	if err != nil {
		return nil, err
	}
	return session.AsBuffer(s, op)
}

// SendKeys writes keys to the session and then pauses for delay. A negative
// delay uses the default key delay.
func (h *Harness) SendKeys(ctx context.Context, id, keys string, delay time.Duration) error {
	s, err := h.Session(id)
	if err != nil {
		return err
	}
	if delay < 0 {
		delay = h.defaults.KeyDelay
	}
	return s.SendKeys(ctx, keys, delay)
}

// SendCtrl sends Ctrl+key to the session.
func (h *Harness) SendCtrl(ctx context.Context, id, key string) error {
	s, err := h.Session(id)
	if err != nil {
		return err
	}
	if err := s.SendCtrl(ctx, key); err != nil {
		if errors.Is(err, session.ErrInvalidKey) {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
		return err
	}
	return nil
}

// CaptureScreen returns the session's output as seen through view.
func (h *Harness) CaptureScreen(id string, includeANSI bool, view View) (string, error) {
	s, err := h.Session(id)
	if err != nil {
		return "", err
	}
	strip := !includeANSI
	switch resolve(view, s) {
	case ViewBuffer:
		bs, err := session.AsBuffer(s, "capture_screen")
		if err != nil {
			return "", err
		}
		return bs.CaptureScreen(strip), nil
	default:
		if bs, ok := s.(*session.BufferSession); ok {
			return bs.CaptureStream(strip), nil
		}
		return s.CaptureScreen(strip), nil
	}
}

// ExpectText waits for pattern, a regular expression, and returns the text
// it matched. A timeout <= 0 uses the default expect timeout.
func (h *Harness) ExpectText(ctx context.Context, id, pattern string, timeout time.Duration) (string, error) {
	if _, err := regexp.Compile(pattern); err != nil {
		return "", fmt.Errorf("%w: pattern %q: %w", ErrConfig, pattern, err)
	}
	s, err := h.Session(id)
	if err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = h.defaults.ExpectTimeout
	}
	return s.ExpectText(ctx, pattern, timeout)
}

// AssertContains checks that text appears in the session's output as seen
// through view.
func (h *Harness) AssertContains(id, text string, view View) error {
	s, err := h.Session(id)
	if err != nil {
		return err
	}
	switch resolve(view, s) {
	case ViewBuffer:
		bs, err := session.AsBuffer(s, "assert_contains")
		if err != nil {
			return err
		}
		return bs.AssertContains(text)
	default:
		if bs, ok := s.(*session.BufferSession); ok {
			return bs.AssertStreamContains(text)
		}
		return s.AssertContains(text)
	}
}

// AssertAtPosition checks that text starts exactly at row, col.
func (h *Harness) AssertAtPosition(id, text string, row, col int) error {
	bs, err := h.buffer(id, "assert_at_position")
	if err != nil {
		return err
	}
	return bs.AssertAtPosition(text, row, col)
}

// CursorPosition returns the emulated cursor of a buffer session.
func (h *Harness) CursorPosition(id string) (screen.Position, error) {
	bs, err := h.buffer(id, "get_cursor_position")
	if err != nil {
		return screen.Position{}, err
	}
	return bs.CursorPosition(), nil
}

// ScreenRegion returns rows [rowStart, rowEnd) and columns
// [colStart, colEnd) of a buffer session. A negative end means the edge of
// the screen.
func (h *Harness) ScreenRegion(id string, rowStart, rowEnd, colStart, colEnd int) (string, error) {
	bs, err := h.buffer(id, "get_screen_region")
	if err != nil {
		return "", err
	}
	return bs.ScreenRegion(rowStart, rowEnd, colStart, colEnd), nil
}

// Line returns one row of a buffer session's screen.
func (h *Harness) Line(id string, row int) (string, error) {
	bs, err := h.buffer(id, "get_line")
	if err != nil {
		return "", err
	}
	return bs.Line(row), nil
}

// CloseSession terminates and unregisters the session. Unknown ids are
// ignored.
func (h *Harness) CloseSession(id string) error {
	return h.sessions.Remove(orDefault(id))
}

// ListSessions describes every live session, ordered by id.
func (h *Harness) ListSessions() []session.Info {
	return h.sessions.List()
}

// Shutdown closes every session.
func (h *Harness) Shutdown(ctx context.Context) error {
	return h.sessions.CloseAll(ctx)
}

func orDefault(id string) string {
	if id == "" {
		return DefaultSessionID
	}
	return id
}
