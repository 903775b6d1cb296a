// Package ansi strips and locates ANSI/VT escape sequences in terminal output.
package ansi

import (
	"bytes"
	"regexp"
	"strings"
)

// esc is the byte that introduces every escape sequence.
const esc = 0x1b

// escapePattern matches the escape families seen in ordinary program output:
//   - CSI sequences: ESC [ params intermediates final
//   - OSC sequences: ESC ] ... BEL or ST
//   - Charset designation: ESC ( B and friends
//   - Two-byte escapes: ESC + one final byte in 0x30-0x7e other than [ and ]
var escapePattern = regexp.MustCompile(
	`\x1b\[[0-?]*[ -/]*[@-~]` +
		`|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)` +
		`|\x1b[()*+#%][ -~]` +
		`|\x1b[0-Z\\^-~]`,
)

// Strip removes all complete escape sequences from s.
func Strip(s string) string {
	return escapePattern.ReplaceAllString(s, "")
}

// StripBytes is Strip for byte slices.
func StripBytes(b []byte) []byte {
	return escapePattern.ReplaceAll(b, nil)
}

// StripComplete strips escape sequences from b, dropping a trailing sequence
// that has not been fully received yet instead of leaking its bytes as text.
func StripComplete(b []byte) string {
	complete, _ := SplitIncomplete(b)
	return string(StripBytes(complete))
}

// SplitIncomplete splits b into a prefix that contains only complete escape
// sequences and a tail holding an unterminated trailing sequence. The tail is
// empty when b does not end inside a sequence.
func SplitIncomplete(b []byte) (complete, tail []byte) {
	if j := openOSC(b); j >= 0 {
		return b[:j], b[j:]
	}
	i := bytes.LastIndexByte(b, esc)
	if i < 0 || !isPartial(b[i:]) {
		return b, nil
	}
	return b[:i], b[i:]
}

// openOSC returns the offset of a trailing OSC string that has no BEL or ST
// yet, or -1. A lone ESC at the very end may be the first half of ST.
func openOSC(b []byte) int {
	j := bytes.LastIndex(b, []byte{esc, ']'})
	if j < 0 {
		return -1
	}
	body := b[j+2:]
	if bytes.IndexByte(body, 0x07) >= 0 {
		return -1
	}
	if k := bytes.IndexByte(body, esc); k >= 0 && k != len(body)-1 {
		return -1
	}
	return j
}

// isPartial reports whether seq, which starts with ESC, is a proper prefix of
// an escape sequence that more input could still complete.
func isPartial(seq []byte) bool {
	if len(seq) == 1 {
		return true
	}
	switch seq[1] {
	case '[':
		for _, c := range seq[2:] {
			if c < 0x20 || c > 0x3f {
				return false
			}
		}
		return true
	case ']':
		return bytes.IndexByte(seq[2:], 0x07) < 0
	case '(', ')', '*', '+', '#', '%':
		return len(seq) == 2
	}
	return false
}

// Locate returns the [start, end) byte offsets of every complete escape
// sequence in s.
func Locate(s string) [][2]int {
	idx := escapePattern.FindAllStringIndex(s, -1)
	if len(idx) == 0 {
		return nil
	}
	out := make([][2]int, len(idx))
	for i, m := range idx {
		out[i] = [2]int{m[0], m[1]}
	}
	return out
}

// HasEscape reports whether s contains any escape byte.
func HasEscape(s string) bool {
	return strings.IndexByte(s, esc) >= 0
}
