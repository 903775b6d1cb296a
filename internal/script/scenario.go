// Package script runs YAML scenarios against a harness: launch programs,
// type at them and check what ends up on screen, one step at a time.
package script

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/GeorgePearse/mcp-tui-test/internal/config"
	"github.com/GeorgePearse/mcp-tui-test/internal/harness"
	"github.com/GeorgePearse/mcp-tui-test/internal/session"
)

// ErrInvalid is wrapped by every scenario validation error.
var ErrInvalid = errors.New("invalid scenario")

// Scenario is a named list of steps. Session is the id steps use when they
// do not name one.
type Scenario struct {
	Name    string `yaml:"name"`
	Session string `yaml:"session,omitempty"`
	Steps   []Step `yaml:"steps"`

	// Path is the file the scenario was read from, if any.
	Path string `yaml:"-"`
}

// Target names the session a step acts on.
type Target struct {
	Session string `yaml:"session,omitempty"`
}

// Step holds exactly one action.
type Step struct {
	Launch         *LaunchStep         `yaml:"launch,omitempty"`
	Send           *SendStep           `yaml:"send,omitempty"`
	Ctrl           *CtrlStep           `yaml:"ctrl,omitempty"`
	Key            *KeyStep            `yaml:"key,omitempty"`
	Expect         *ExpectStep         `yaml:"expect,omitempty"`
	Capture        *CaptureStep        `yaml:"capture,omitempty"`
	AssertContains *AssertContainsStep `yaml:"assert_contains,omitempty"`
	AssertAt       *AssertAtStep       `yaml:"assert_at,omitempty"`
	Cursor         *CursorStep         `yaml:"cursor,omitempty"`
	Region         *RegionStep         `yaml:"region,omitempty"`
	Line           *LineStep           `yaml:"line,omitempty"`
	Close          *CloseStep          `yaml:"close,omitempty"`
	List           *ListStep           `yaml:"list,omitempty"`
	Sleep          *SleepStep          `yaml:"sleep,omitempty"`

	// SourceLine is the line of the step in its YAML file.
	SourceLine int `yaml:"-"`
}

type LaunchStep struct {
	Target     `yaml:",inline"`
	Command    string          `yaml:"command"`
	Timeout    config.Duration `yaml:"timeout,omitempty"`
	Dimensions string          `yaml:"dimensions,omitempty"`
	Mode       string          `yaml:"mode,omitempty"`
	Replace    bool            `yaml:"replace,omitempty"`
	Env        []string        `yaml:"env,omitempty"`
	Dir        string          `yaml:"dir,omitempty"`
}

type SendStep struct {
	Target `yaml:",inline"`
	Keys   string `yaml:"keys"`
	// Delay overrides the default pause after sending.
	Delay *config.Duration `yaml:"delay,omitempty"`
}

type CtrlStep struct {
	Target `yaml:",inline"`
	Key    string `yaml:"key"`
}

// KeyStep sends a named key such as Enter, Up or F5.
type KeyStep struct {
	Target `yaml:",inline"`
	Name   string `yaml:"name"`
}

type ExpectStep struct {
	Target  `yaml:",inline"`
	Pattern string          `yaml:"pattern"`
	Timeout config.Duration `yaml:"timeout,omitempty"`
}

type CaptureStep struct {
	Target `yaml:",inline"`
	ANSI   bool   `yaml:"ansi,omitempty"`
	View   string `yaml:"view,omitempty"`
}

type AssertContainsStep struct {
	Target `yaml:",inline"`
	Text   string `yaml:"text"`
	View   string `yaml:"view,omitempty"`
}

type AssertAtStep struct {
	Target `yaml:",inline"`
	Text   string `yaml:"text"`
	Row    int    `yaml:"row"`
	Col    int    `yaml:"col"`
}

// CursorStep reports the cursor and, when Row or Col is set, checks it.
type CursorStep struct {
	Target `yaml:",inline"`
	Row    *int `yaml:"row,omitempty"`
	Col    *int `yaml:"col,omitempty"`
}

// RegionStep reads a rectangle of the screen. Missing ends mean the edge of
// the screen. Expect, when set, must equal the region exactly.
type RegionStep struct {
	Target   `yaml:",inline"`
	RowStart int     `yaml:"row_start"`
	RowEnd   *int    `yaml:"row_end,omitempty"`
	ColStart int     `yaml:"col_start"`
	ColEnd   *int    `yaml:"col_end,omitempty"`
	Expect   *string `yaml:"expect,omitempty"`
}

type LineStep struct {
	Target `yaml:",inline"`
	Row    int     `yaml:"row"`
	Expect *string `yaml:"expect,omitempty"`
}

type CloseStep struct {
	Target `yaml:",inline"`
}

// ListStep reports the live sessions and, when Count is set, checks how many
// there are.
type ListStep struct {
	Count *int `yaml:"count,omitempty"`
}

type SleepStep struct {
	Duration config.Duration `yaml:"duration"`
}

// UnmarshalYAML records the step's source line.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	type plain Step
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = Step(p)
	s.SourceLine = value.Line
	return nil
}

// Kind names the step's action, or "" if none is set.
func (s *Step) Kind() string {
	kinds := s.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (s *Step) kinds() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(s.Launch != nil, "launch")
	add(s.Send != nil, "send")
	add(s.Ctrl != nil, "ctrl")
	add(s.Key != nil, "key")
	add(s.Expect != nil, "expect")
	add(s.Capture != nil, "capture")
	add(s.AssertContains != nil, "assert_contains")
	add(s.AssertAt != nil, "assert_at")
	add(s.Cursor != nil, "cursor")
	add(s.Region != nil, "region")
	add(s.Line != nil, "line")
	add(s.Close != nil, "close")
	add(s.List != nil, "list")
	add(s.Sleep != nil, "sleep")
	return out
}

// target returns the session id named by the step, if any.
func (s *Step) target() string {
	switch {
	case s.Launch != nil:
		return s.Launch.Session
	case s.Send != nil:
		return s.Send.Session
	case s.Ctrl != nil:
		return s.Ctrl.Session
	case s.Key != nil:
		return s.Key.Session
	case s.Expect != nil:
		return s.Expect.Session
	case s.Capture != nil:
		return s.Capture.Session
	case s.AssertContains != nil:
		return s.AssertContains.Session
	case s.AssertAt != nil:
		return s.AssertAt.Session
	case s.Cursor != nil:
		return s.Cursor.Session
	case s.Region != nil:
		return s.Region.Session
	case s.Line != nil:
		return s.Line.Session
	case s.Close != nil:
		return s.Close.Session
	}
	return ""
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// ParseFile reads and parses the scenario at path. An unnamed scenario takes
// the file name.
func ParseFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.Path = path
	if sc.Name == "" {
		sc.Name = path
	}
	return sc, nil
}

// Validate checks every step without running anything.
func (sc *Scenario) Validate() error {
	if len(sc.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalid)
	}
	for i := range sc.Steps {
		if err := sc.Steps[i].validate(); err != nil {
			return fmt.Errorf("%w: step %d%s: %w", ErrInvalid, i+1, lineSuffix(sc.Steps[i].SourceLine), err)
		}
	}
	return nil
}

func lineSuffix(line int) string {
	if line <= 0 {
		return ""
	}
	return fmt.Sprintf(" (line %d)", line)
}

func (s *Step) validate() error {
	kinds := s.kinds()
	switch len(kinds) {
	case 0:
		return errors.New("no action set")
	case 1:
	default:
		return fmt.Errorf("more than one action set: %v", kinds)
	}

	switch {
	case s.Launch != nil:
		if s.Launch.Command == "" {
			return errors.New("launch: command is required")
		}
		if s.Launch.Dimensions != "" {
			if _, _, err := harness.ParseDimensions(s.Launch.Dimensions); err != nil {
				return fmt.Errorf("launch: %w", err)
			}
		}
		if s.Launch.Mode != "" {
			if _, err := session.ParseMode(s.Launch.Mode); err != nil {
				return fmt.Errorf("launch: %w", err)
			}
		}
	case s.Send != nil:
		if s.Send.Keys == "" {
			return errors.New("send: keys is required")
		}
	case s.Ctrl != nil:
		if _, err := session.CtrlByte(s.Ctrl.Key); err != nil {
			return fmt.Errorf("ctrl: %w", err)
		}
	case s.Key != nil:
		if _, err := session.KeySequence(s.Key.Name); err != nil {
			return fmt.Errorf("key: %w", err)
		}
	case s.Expect != nil:
		if s.Expect.Pattern == "" {
			return errors.New("expect: pattern is required")
		}
		if _, err := regexp.Compile(s.Expect.Pattern); err != nil {
			return fmt.Errorf("expect: %w", err)
		}
	case s.Capture != nil:
		if _, err := harness.ParseView(s.Capture.View); err != nil {
			return fmt.Errorf("capture: %w", err)
		}
	case s.AssertContains != nil:
		if s.AssertContains.Text == "" {
			return errors.New("assert_contains: text is required")
		}
		if _, err := harness.ParseView(s.AssertContains.View); err != nil {
			return fmt.Errorf("assert_contains: %w", err)
		}
	case s.AssertAt != nil:
		if s.AssertAt.Text == "" {
			return errors.New("assert_at: text is required")
		}
		if s.AssertAt.Row < 0 || s.AssertAt.Col < 0 {
			return errors.New("assert_at: row and col cannot be negative")
		}
	case s.Line != nil:
		if s.Line.Row < 0 {
			return errors.New("line: row cannot be negative")
		}
	case s.Sleep != nil:
		if s.Sleep.Duration <= 0 {
			return errors.New("sleep: duration must be positive")
		}
	}
	return nil
}
