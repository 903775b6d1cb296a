package harness

import (
	"fmt"
	"strings"

	"github.com/GeorgePearse/mcp-tui-test/internal/session"
)

// View selects how a query observes a session.
type View string

const (
	// ViewAuto follows the session's own mode.
	ViewAuto View = "auto"
	// ViewStream reads the raw output stream. Valid for both modes.
	ViewStream View = "stream"
	// ViewBuffer reads the emulated screen. Buffer sessions only.
	ViewBuffer View = "buffer"
)

// ParseView accepts "", "auto", "stream" or "buffer".
func ParseView(s string) (View, error) {
	switch v := View(strings.ToLower(strings.TrimSpace(s))); v {
	case "", ViewAuto:
		return ViewAuto, nil
	case ViewStream, ViewBuffer:
		return v, nil
	}
	return "", fmt.Errorf("%w: view %q (want auto, stream or buffer)", ErrConfig, s)
}

func resolve(v View, s session.Session) View {
	if v == ViewStream || v == ViewBuffer {
		return v
	}
	if s.Mode() == session.ModeBuffer {
		return ViewBuffer
	}
	return ViewStream
}
