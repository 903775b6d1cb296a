package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GeorgePearse/mcp-tui-test/internal/harness"
	"github.com/GeorgePearse/mcp-tui-test/internal/screen"
	"github.com/GeorgePearse/mcp-tui-test/internal/session"
)

// Driver is the harness surface a scenario needs. *harness.Harness
// implements it.
type Driver interface {
	Launch(ctx context.Context, req harness.LaunchRequest) (session.Info, error)
	SendKeys(ctx context.Context, id, keys string, delay time.Duration) error
	SendCtrl(ctx context.Context, id, key string) error
	CaptureScreen(id string, includeANSI bool, view harness.View) (string, error)
	ExpectText(ctx context.Context, id, pattern string, timeout time.Duration) (string, error)
	AssertContains(id, text string, view harness.View) error
	AssertAtPosition(id, text string, row, col int) error
	CursorPosition(id string) (screen.Position, error)
	ScreenRegion(id string, rowStart, rowEnd, colStart, colEnd int) (string, error)
	Line(id string, row int) (string, error)
	CloseSession(id string) error
	ListSessions() []session.Info
	Shutdown(ctx context.Context) error
}

var _ Driver = (*harness.Harness)(nil)

// Result records one executed step.
type Result struct {
	Step     int           `json:"step"`
	Kind     string        `json:"kind"`
	Session  string        `json:"session,omitempty"`
	Output   string        `json:"output,omitempty"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// OK reports whether the step succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Report is the outcome of one scenario.
type Report struct {
	Scenario string        `json:"scenario"`
	Path     string        `json:"path,omitempty"`
	Passed   bool          `json:"passed"`
	Results  []Result      `json:"results"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	// Skipped counts steps not run after a failure.
	Skipped int `json:"skipped,omitempty"`
}

// Failure returns the failing step, or nil if the scenario passed.
func (r *Report) Failure() *Result {
	for i := range r.Results {
		if !r.Results[i].OK() {
			return &r.Results[i]
		}
	}
	return nil
}

// Runner executes scenarios.
type Runner struct {
	Logger *slog.Logger
}

// Run executes sc step by step against d and stops at the first failure.
// Sessions the scenario launched are closed before Run returns, whatever
// the outcome.
func (r *Runner) Run(ctx context.Context, d Driver, sc *Scenario) *Report {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("scenario", sc.Name))

	rep := &Report{Scenario: sc.Name, Path: sc.Path, Passed: true, Started: time.Now()}
	launched := make(map[string]struct{})
	defer func() {
		for id := range launched {
			if err := d.CloseSession(id); err != nil {
				logger.Warn("close session", slog.String("session", id), slog.Any("error", err))
			}
		}
		rep.Duration = time.Since(rep.Started)
	}()

	for i := range sc.Steps {
		step := &sc.Steps[i]
		id := step.target()
		if id == "" {
			id = sc.Session
		}
		if id == "" {
			id = harness.DefaultSessionID
		}

		start := time.Now()
		out, err := r.exec(ctx, d, step, id)
		res := Result{
			Step:     i + 1,
			Kind:     step.Kind(),
			Output:   out,
			Err:      err,
			Duration: time.Since(start),
		}
		if step.List == nil && step.Sleep == nil {
			res.Session = id
		}
		if err == nil && step.Launch != nil {
			launched[id] = struct{}{}
		}
		if err != nil {
			res.Error = err.Error()
		}
		rep.Results = append(rep.Results, res)

		logger.Debug("step done",
			slog.Int("step", res.Step),
			slog.String("kind", res.Kind),
			slog.Duration("duration", res.Duration),
			slog.Any("error", err))

		if err != nil {
			rep.Passed = false
			rep.Skipped = len(sc.Steps) - i - 1
			logger.Info("scenario failed", slog.Int("step", res.Step), slog.Any("error", err))
			return rep
		}
		if err := ctx.Err(); err != nil && i+1 < len(sc.Steps) {
			// The next step never ran; record it as failed by the cancellation.
			next := &sc.Steps[i+1]
			rep.Results = append(rep.Results, Result{
				Step:  i + 2,
				Kind:  next.Kind(),
				Err:   err,
				Error: err.Error(),
			})
			rep.Passed = false
			rep.Skipped = len(sc.Steps) - i - 2
			logger.Info("scenario cancelled", slog.Int("step", i+2), slog.Any("error", err))
			return rep
		}
	}
	logger.Info("scenario passed", slog.Int("steps", len(rep.Results)))
	return rep
}

func (r *Runner) exec(ctx context.Context, d Driver, s *Step, id string) (string, error) {
	switch {
	case s.Launch != nil:
		l := s.Launch
		info, err := d.Launch(ctx, harness.LaunchRequest{
			Command:    l.Command,
			SessionID:  id,
			Timeout:    l.Timeout.Duration(),
			Dimensions: l.Dimensions,
			Mode:       l.Mode,
			Replace:    l.Replace,
			Env:        l.Env,
			Dir:        l.Dir,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("pid %d, %s mode, %dx%d", info.Pid, info.Mode, info.Cols, info.Rows), nil

	case s.Send != nil:
		delay := time.Duration(-1)
		if s.Send.Delay != nil {
			delay = s.Send.Delay.Duration()
		}
		return "", d.SendKeys(ctx, id, s.Send.Keys, delay)

	case s.Ctrl != nil:
		return "", d.SendCtrl(ctx, id, s.Ctrl.Key)

	case s.Key != nil:
		seq, err := session.KeySequence(s.Key.Name)
		if err != nil {
			return "", err
		}
		return "", d.SendKeys(ctx, id, seq, -1)

	case s.Expect != nil:
		return d.ExpectText(ctx, id, s.Expect.Pattern, s.Expect.Timeout.Duration())

	case s.Capture != nil:
		view, err := harness.ParseView(s.Capture.View)
		if err != nil {
			return "", err
		}
		return d.CaptureScreen(id, s.Capture.ANSI, view)

	case s.AssertContains != nil:
		view, err := harness.ParseView(s.AssertContains.View)
		if err != nil {
			return "", err
		}
		return "", d.AssertContains(id, s.AssertContains.Text, view)

	case s.AssertAt != nil:
		a := s.AssertAt
		return "", d.AssertAtPosition(id, a.Text, a.Row, a.Col)

	case s.Cursor != nil:
		pos, err := d.CursorPosition(id)
		if err != nil {
			return "", err
		}
		out := fmt.Sprintf("%d,%d", pos.Row, pos.Col)
		if c := s.Cursor; (c.Row != nil && *c.Row != pos.Row) || (c.Col != nil && *c.Col != pos.Col) {
			want := fmt.Sprintf("%s,%s", optInt(c.Row, pos.Row), optInt(c.Col, pos.Col))
			return out, &session.AssertionError{Op: "cursor", Expected: want, Observed: out, Row: pos.Row, Col: pos.Col}
		}
		return out, nil

	case s.Region != nil:
		g := s.Region
		text, err := d.ScreenRegion(id, g.RowStart, deref(g.RowEnd, -1), g.ColStart, deref(g.ColEnd, -1))
		if err != nil {
			return "", err
		}
		if g.Expect != nil && *g.Expect != text {
			return text, &session.AssertionError{Op: "region", Expected: *g.Expect, Observed: text, Row: g.RowStart, Col: g.ColStart}
		}
		return text, nil

	case s.Line != nil:
		text, err := d.Line(id, s.Line.Row)
		if err != nil {
			return "", err
		}
		if s.Line.Expect != nil && *s.Line.Expect != text {
			return text, &session.AssertionError{Op: "line", Expected: *s.Line.Expect, Observed: text, Row: s.Line.Row, Col: 0}
		}
		return text, nil

	case s.Close != nil:
		return "", d.CloseSession(id)

	case s.List != nil:
		infos := d.ListSessions()
		ids := make([]string, len(infos))
		for i, info := range infos {
			ids[i] = info.ID
		}
		out := strings.Join(ids, ",")
		if s.List.Count != nil && *s.List.Count != len(infos) {
			return out, &session.AssertionError{
				Op: "list", Expected: fmt.Sprintf("%d sessions", *s.List.Count),
				Observed: fmt.Sprintf("%d sessions (%s)", len(infos), out), Row: -1, Col: -1,
			}
		}
		return out, nil

	case s.Sleep != nil:
		t := time.NewTimer(s.Sleep.Duration.Duration())
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
			return "", nil
		}
	}
	return "", errors.New("step has no action")
}

func deref(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func optInt(p *int, fallback int) string {
	if p == nil {
		return fmt.Sprint(fallback)
	}
	return fmt.Sprint(*p)
}

// RunAll runs every scenario concurrently, each against its own driver from
// newDriver. With failFast the remaining scenarios are cancelled after the
// first failure. Reports come back in input order.
func (r *Runner) RunAll(ctx context.Context, scenarios []*Scenario, newDriver func() Driver, failFast bool) []*Report {
	reports := make([]*Report, len(scenarios))
	g, gctx := errgroup.WithContext(ctx)
	for i, sc := range scenarios {
		g.Go(func() error {
			d := newDriver()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
				defer cancel()
				_ = d.Shutdown(shutdownCtx)
			}()

			rep := r.Run(gctx, d, sc)
			reports[i] = rep
			if failFast && !rep.Passed {
				return fmt.Errorf("scenario %s failed", sc.Name)
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// Passed reports whether every report passed.
func Passed(reports []*Report) bool {
	for _, rep := range reports {
		if rep == nil || !rep.Passed {
			return false
		}
	}
	return true
}
