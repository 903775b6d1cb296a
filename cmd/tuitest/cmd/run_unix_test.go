//go:build unix

package cmd

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/GeorgePearse/mcp-tui-test/internal/testutil"
)

const passingScenario = `name: ready
steps:
  - launch: {command: "echo ready; sleep 5"}
  - expect: {pattern: ready, timeout: 5s}
  - assert_contains: {text: ready}
`

const failingScenario = `name: never
steps:
  - launch: {command: "echo something else; sleep 5"}
  - expect: {pattern: "does not appear", timeout: 300ms}
  - assert_contains: {text: unreachable}
`

func TestRunPassingScenarioRecordsHistory(t *testing.T) {
	testutil.RequireTools(t, "sh", "sleep")
	w := testutil.NewWorkspace(t)
	file := w.WriteScenario("ready", passingScenario)

	out, _, err := execute(t, "run", "--record", "--verbose", file)
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "PASS") || !strings.Contains(out, "1 scenarios, 1 passed, 0 failed") {
		t.Errorf("run output:\n%s", out)
	}

	out, _, err = execute(t, "history")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out, "ready") || !strings.Contains(out, "pass") {
		t.Errorf("history output:\n%s", out)
	}
}

func TestRunFailingScenario(t *testing.T) {
	testutil.RequireTools(t, "sh", "sleep")
	w := testutil.NewWorkspace(t)
	file := w.WriteScenario("never", failingScenario)

	out, _, err := execute(t, "run", file)
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("run error = %v, want ErrFailed", err)
	}
	if !strings.Contains(out, "FAIL") || !strings.Contains(out, "1 steps skipped") {
		t.Errorf("run output:\n%s", out)
	}
}

func TestRunJSONReport(t *testing.T) {
	testutil.RequireTools(t, "sh", "sleep")
	w := testutil.NewWorkspace(t)
	w.WriteScenario("a", passingScenario)
	w.WriteScenario("b", failingScenario)

	out, _, err := execute(t, "run", "--json", w.Path("scenarios"))
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("run error = %v, want ErrFailed", err)
	}

	var reports []struct {
		Scenario string `json:"scenario"`
		Passed   bool   `json:"passed"`
	}
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	if reports[0].Scenario != "ready" || !reports[0].Passed {
		t.Errorf("first report = %+v", reports[0])
	}
	if reports[1].Scenario != "never" || reports[1].Passed {
		t.Errorf("second report = %+v", reports[1])
	}
}

func TestRunInvalidScenarioIsNotAFailure(t *testing.T) {
	w := testutil.NewWorkspace(t)
	file := w.WriteScenario("bad", "name: bad\nsteps: []\n")

	_, _, err := execute(t, "run", file)
	if err == nil || errors.Is(err, ErrFailed) {
		t.Fatalf("run error = %v, want a parse error", err)
	}
}
