//go:build unix

package script

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeorgePearse/mcp-tui-test/internal/harness"
	"github.com/GeorgePearse/mcp-tui-test/internal/session"
)

func loadScenarios(t *testing.T, names ...string) []*Scenario {
	t.Helper()
	var out []*Scenario
	for _, name := range names {
		sc, err := ParseFile("testdata/" + name + ".yaml")
		require.NoError(t, err)
		out = append(out, sc)
	}
	return out
}

func TestScenariosEndToEnd(t *testing.T) {
	scenarios := loadScenarios(t, "greet", "title", "broken")
	newDriver := func() Driver { return harness.New(harness.Options{}) }

	reports := (&Runner{}).RunAll(context.Background(), scenarios, newDriver, false)
	require.Len(t, reports, 3)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, reports, true))
	t.Logf("[TEST] report:\n%s", buf.String())

	assert.True(t, reports[0].Passed, "greet: %+v", reports[0].Failure())
	assert.True(t, reports[1].Passed, "title: %+v", reports[1].Failure())

	broken := reports[2]
	require.False(t, broken.Passed)
	fail := broken.Failure()
	require.NotNil(t, fail)
	assert.Equal(t, 3, fail.Step)
	assert.Equal(t, "assert_at", fail.Kind)
	assert.ErrorIs(t, fail.Err, session.ErrAssertion)
	assert.Equal(t, 1, broken.Skipped)
}

func TestRunClosesLaunchedSessions(t *testing.T) {
	h := harness.New(harness.Options{})
	defer h.Shutdown(context.Background())

	sc := loadScenarios(t, "broken")[0]
	rep := (&Runner{}).Run(context.Background(), h, sc)
	require.False(t, rep.Passed)
	assert.Empty(t, h.ListSessions())
}
