package session

import (
	"errors"
	"fmt"
)

var (
	// ErrMode is returned when an operation is not available in the
	// session's mode.
	ErrMode = errors.New("operation not supported in this session mode")
	// ErrAssertion matches every *AssertionError.
	ErrAssertion = errors.New("assertion failed")
	// ErrInvalidPattern is returned when an expect pattern does not compile.
	ErrInvalidPattern = errors.New("invalid pattern")
	// ErrInvalidKey is returned for keys that have no control code.
	ErrInvalidKey = errors.New("invalid key")
)

// ModeError reports an operation invoked on a session of the wrong mode.
type ModeError struct {
	Op   string
	ID   string
	Mode Mode
	Want Mode
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("%s requires a %s session; session %q is in %s mode", e.Op, e.Want, e.ID, e.Mode)
}

func (e *ModeError) Is(target error) bool { return target == ErrMode }

// AssertionError carries what an assertion looked for and what it saw.
// Row and Col are -1 for assertions that are not positional.
type AssertionError struct {
	Op       string
	Expected string
	Observed string
	Row      int
	Col      int
	// Err is set when the assertion could not be evaluated, for example
	// because the position is off screen.
	Err error
}

func (e *AssertionError) Error() string {
	if e.Row >= 0 {
		if e.Err != nil {
			return fmt.Sprintf("assertion failed: expected %q at (%d, %d): %v", e.Expected, e.Row, e.Col, e.Err)
		}
		return fmt.Sprintf("assertion failed: expected %q at (%d, %d), observed %q", e.Expected, e.Row, e.Col, e.Observed)
	}
	return fmt.Sprintf("assertion failed: expected output to contain %q, observed %q", e.Expected, e.Observed)
}

func (e *AssertionError) Is(target error) bool { return target == ErrAssertion }

func (e *AssertionError) Unwrap() error { return e.Err }
