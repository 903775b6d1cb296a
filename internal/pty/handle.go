// Package pty runs a command on a pseudo-terminal and collects everything it
// prints. A Handle accumulates output in an append-only buffer and supports
// blocking waits for a regular expression, with a last-match cursor so that
// successive waits never report the same text twice.
package pty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/GeorgePearse/mcp-tui-test/internal/ansi"
)

// ErrNotSupported is returned when PTY operations are not supported on
// the current platform.
var ErrNotSupported = errors.New("PTY operations not supported on this platform")

// ErrSpawn is returned when the command cannot be started or no pty can be
// allocated.
var ErrSpawn = errors.New("spawn failed")

// ErrIO is returned when writing to a process that has exited.
var ErrIO = errors.New("pty I/O failed")

// ErrTimeout is returned when a wait operation times out.
var ErrTimeout = errors.New("operation timed out")

// ErrExited is returned when the process ends before a wait is satisfied.
var ErrExited = errors.New("process exited")

// ErrClosed is returned when operating on a closed handle.
var ErrClosed = errors.New("PTY handle is closed")

// Options configures how a command is spawned.
type Options struct {
	// Rows is the number of terminal rows (default: 24).
	Rows uint16
	// Cols is the number of terminal columns (default: 80).
	Cols uint16
	// Timeout is the default for WaitForPattern when none is given.
	Timeout time.Duration
	// PollInterval bounds the sleep between pattern scans.
	PollInterval time.Duration
	// CloseGrace is how long Close waits after SIGTERM before SIGKILL.
	CloseGrace time.Duration
	// Shell runs the command string as `Shell -c command`.
	Shell string
	// Dir is the working directory for the command.
	Dir string
	// Env is additional environment variables for the command.
	Env []string
	// Logger receives lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Rows:         24,
		Cols:         80,
		Timeout:      30 * time.Second,
		PollInterval: 50 * time.Millisecond,
		CloseGrace:   100 * time.Millisecond,
		Shell:        "/bin/sh",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Rows == 0 {
		o.Rows = d.Rows
	}
	if o.Cols == 0 {
		o.Cols = d.Cols
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.CloseGrace <= 0 {
		o.CloseGrace = d.CloseGrace
	}
	if o.Shell == "" {
		o.Shell = d.Shell
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Match is a successful WaitForPattern result.
type Match struct {
	// Before is the output between the previous cursor and the match.
	Before string
	// Text is the matched text.
	Text string
	// End is the buffer offset just past the match.
	End int
}

// Consumed returns everything the wait moved the cursor over.
func (m Match) Consumed() string {
	return m.Before + m.Text
}

// WaitError describes a WaitForPattern that gave up. Buffer holds the output
// accumulated since the last match, for diagnosis.
type WaitError struct {
	Pattern string
	Buffer  string
	Err     error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("waiting for %q: %v", e.Pattern, e.Err)
}

func (e *WaitError) Unwrap() error {
	return e.Err
}

// Handle owns one child process attached to a pseudo-terminal.
type Handle struct {
	cmd     *exec.Cmd
	ptmx    *os.File
	opts    Options
	logger  *slog.Logger
	command string

	mu       sync.Mutex
	pending  []byte // read from the pty, not yet drained
	output   []byte // accumulated output
	cursor   int    // end of the last pattern match in output
	readErr  error
	exitCode int

	notify    chan struct{}
	readDone  chan struct{}
	exited    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Spawn starts command under opts.Shell on a new pseudo-terminal sized
// opts.Rows × opts.Cols.
func Spawn(ctx context.Context, command string, opts Options) (*Handle, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%w: empty command", ErrSpawn)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	opts = opts.withDefaults()

	cmd := exec.Command(opts.Shell, "-c", command)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	ptmx, err := start(cmd, opts.Rows, opts.Cols)
	if err != nil {
		return nil, fmt.Errorf("%w: start pty: %w", ErrSpawn, err)
	}

	h := &Handle{
		cmd:      cmd,
		ptmx:     ptmx,
		opts:     opts,
		logger:   opts.Logger,
		command:  command,
		exitCode: -1,
		notify:   make(chan struct{}, 1),
		readDone: make(chan struct{}),
		exited:   make(chan struct{}),
		closed:   make(chan struct{}),
	}
	go h.readLoop()
	go h.waitLoop()

	h.logger.Debug("pty spawned",
		slog.String("command", command),
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("rows", int(opts.Rows)),
		slog.Int("cols", int(opts.Cols)))
	return h, nil
}

// readLoop copies pty output into the pending buffer until the pty reports
// EOF/EIO or is closed.
func (h *Handle) readLoop() {
	defer close(h.readDone)
	buf := make([]byte, 4096)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			h.mu.Lock()
			h.pending = append(h.pending, buf[:n]...)
			h.mu.Unlock()
			select {
			case h.notify <- struct{}{}:
			default:
			}
		}
		if err != nil {
			h.mu.Lock()
			h.readErr = err
			h.mu.Unlock()
			return
		}
	}
}

func (h *Handle) waitLoop() {
	err := h.cmd.Wait()
	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}
	h.mu.Lock()
	h.exitCode = code
	h.mu.Unlock()
	close(h.exited)
	h.logger.Debug("pty process exited",
		slog.Int("pid", h.cmd.Process.Pid),
		slog.Int("exit_code", code),
		slog.Any("wait_err", err))
}

// Pid returns the child's process id.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Command returns the command string the handle was spawned with.
func (h *Handle) Command() string {
	return h.command
}

// Alive reports whether the child is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// ExitCode returns the child's exit code, or -1 while it is running or when
// it was killed by a signal.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Exited is closed once the child has been reaped.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// Write sends input to the child.
func (h *Handle) Write(data []byte) (int, error) {
	select {
	case <-h.closed:
		return 0, fmt.Errorf("%w: %w", ErrIO, ErrClosed)
	case <-h.exited:
		return 0, fmt.Errorf("%w: %w", ErrIO, ErrExited)
	default:
	}
	n, err := h.ptmx.Write(data)
	if err != nil {
		return n, fmt.Errorf("%w: write to pty: %w", ErrIO, err)
	}
	return n, nil
}

// Drain moves all output received so far into the accumulated buffer and
// returns the number of bytes moved.
func (h *Handle) Drain() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.pending)
	if n > 0 {
		h.output = append(h.output, h.pending...)
		h.pending = h.pending[:0]
	}
	return n
}

// Len returns the size of the accumulated buffer.
func (h *Handle) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.output)
}

// Since returns a copy of the accumulated buffer from offset on.
func (h *Handle) Since(offset int) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(h.output) {
		return nil
	}
	return append([]byte(nil), h.output[offset:]...)
}

// Snapshot drains pending output and returns the whole accumulated buffer,
// optionally with escape sequences removed. It never moves the match cursor.
func (h *Handle) Snapshot(stripANSI bool) string {
	h.Drain()
	h.mu.Lock()
	defer h.mu.Unlock()
	if stripANSI {
		return ansi.StripComplete(h.output)
	}
	return string(h.output)
}

// Unconsumed returns the output after the last match.
func (h *Handle) Unconsumed() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.output[h.cursor:])
}

// WaitForPattern blocks until pattern matches output after the last match,
// the timeout elapses, the process ends, the handle is closed or ctx is done.
// A timeout <= 0 uses the handle's default.
func (h *Handle) WaitForPattern(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (Match, error) {
	if pattern == nil {
		return Match{}, fmt.Errorf("pattern cannot be nil")
	}
	if timeout <= 0 {
		timeout = h.opts.Timeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		h.Drain()
		if m, ok := h.scan(pattern); ok {
			return m, nil
		}

		select {
		case <-h.closed:
			return Match{}, h.waitErr(pattern, ErrClosed)
		case <-h.readDone:
			if m, ok := h.final(pattern); ok {
				return m, nil
			}
			return Match{}, h.waitErr(pattern, ErrExited)
		default:
		}

		poll := time.NewTimer(h.opts.PollInterval)
		select {
		case <-ctx.Done():
			poll.Stop()
			return Match{}, h.waitErr(pattern, ctx.Err())
		case <-deadline.C:
			poll.Stop()
			if m, ok := h.final(pattern); ok {
				return m, nil
			}
			h.logger.Debug("pty wait timed out",
				slog.Int("pid", h.Pid()),
				slog.String("pattern", pattern.String()),
				slog.Duration("timeout", timeout))
			return Match{}, h.waitErr(pattern, ErrTimeout)
		case <-h.notify:
		case <-poll.C:
		case <-h.closed:
		case <-h.readDone:
		}
		poll.Stop()
	}
}

func (h *Handle) final(pattern *regexp.Regexp) (Match, bool) {
	h.Drain()
	return h.scan(pattern)
}

func (h *Handle) scan(pattern *regexp.Regexp) (Match, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	loc := pattern.FindIndex(h.output[h.cursor:])
	if loc == nil {
		return Match{}, false
	}
	start, end := h.cursor+loc[0], h.cursor+loc[1]
	m := Match{
		Before: string(h.output[h.cursor:start]),
		Text:   string(h.output[start:end]),
		End:    end,
	}
	h.cursor = end
	return m, true
}

func (h *Handle) waitErr(pattern *regexp.Regexp, err error) error {
	return &WaitError{Pattern: pattern.String(), Buffer: h.Unconsumed(), Err: err}
}

// Close terminates the child if it is still running and releases the pty.
// It is idempotent and may be called while a wait is in flight.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)

		if err := h.ptmx.Close(); err != nil {
			h.closeErr = fmt.Errorf("close pty: %w", err)
		}

		if h.Alive() {
			terminate(h.cmd.Process, false)
			select {
			case <-h.exited:
			case <-time.After(h.opts.CloseGrace):
				terminate(h.cmd.Process, true)
				select {
				case <-h.exited:
				case <-time.After(time.Second):
					h.logger.Warn("pty process did not exit after SIGKILL", slog.Int("pid", h.Pid()))
				}
			}
		}
		h.logger.Debug("pty closed", slog.Int("pid", h.Pid()), slog.Int("exit_code", h.ExitCode()))
	})
	return h.closeErr
}
