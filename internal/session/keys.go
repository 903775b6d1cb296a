package session

import (
	"fmt"
	"strings"
)

// CtrlByte maps a key to the byte produced by holding Ctrl with it:
// "a".."z" (either case) map to 0x01..0x1A, "@" and space to 0x00,
// "[" "\" "]" "^" "_" to 0x1B..0x1F and "?" to DEL.
func CtrlByte(key string) (byte, error) {
	if len(key) != 1 {
		return 0, fmt.Errorf("%w: %q (want a single character)", ErrInvalidKey, key)
	}
	c := key[0]
	switch {
	case c >= 'a' && c <= 'z':
		return c - 'a' + 1, nil
	case c >= 'A' && c <= 'Z':
		return c - 'A' + 1, nil
	case c == '@' || c == ' ':
		return 0, nil
	case c >= '[' && c <= '_':
		return c - '[' + 0x1b, nil
	case c == '?':
		return 0x7f, nil
	}
	return 0, fmt.Errorf("%w: ctrl+%q", ErrInvalidKey, key)
}

var namedKeys = map[string]string{
	"enter":     "\r",
	"tab":       "\t",
	"escape":    "\x1b",
	"esc":       "\x1b",
	"backspace": "\x7f",
	"space":     " ",
	"up":        "\x1b[A",
	"down":      "\x1b[B",
	"right":     "\x1b[C",
	"left":      "\x1b[D",
	"home":      "\x1b[H",
	"end":       "\x1b[F",
	"pageup":    "\x1b[5~",
	"pagedown":  "\x1b[6~",
	"insert":    "\x1b[2~",
	"delete":    "\x1b[3~",
	"f1":        "\x1bOP",
	"f2":        "\x1bOQ",
	"f3":        "\x1bOR",
	"f4":        "\x1bOS",
	"f5":        "\x1b[15~",
	"f6":        "\x1b[17~",
	"f7":        "\x1b[18~",
	"f8":        "\x1b[19~",
	"f9":        "\x1b[20~",
	"f10":       "\x1b[21~",
	"f11":       "\x1b[23~",
	"f12":       "\x1b[24~",
}

// KeySequence returns the bytes a terminal sends for a named key such as
// "Enter", "Up" or "F5". Names of the form "C-x" map through CtrlByte.
func KeySequence(name string) (string, error) {
	lower := strings.ToLower(name)
	if seq, ok := namedKeys[lower]; ok {
		return seq, nil
	}
	if rest, ok := strings.CutPrefix(lower, "c-"); ok {
		b, err := CtrlByte(rest)
		if err != nil {
			return "", err
		}
		return string([]byte{b}), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKey, name)
}
