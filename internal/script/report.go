package script

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	pass, fail, dim lipgloss.Style
}

// newStyles picks colours for w. Writers that are not terminals get plain
// text.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		pass: r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		fail: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		dim:  r.NewStyle().Faint(true),
	}
}

// WriteText renders reports for humans. With verbose every step is listed,
// otherwise only failures are.
func WriteText(w io.Writer, reports []*Report, verbose bool) error {
	st := newStyles(w)
	var b strings.Builder
	passed := 0

	for _, rep := range reports {
		if rep == nil {
			continue
		}
		status := st.fail.Render("FAIL")
		if rep.Passed {
			status = st.pass.Render("PASS")
			passed++
		}
		fmt.Fprintf(&b, "%s  %s %s\n", status, rep.Scenario,
			st.dim.Render(fmt.Sprintf("(%s, %d steps)", round(rep.Duration), len(rep.Results))))

		for _, res := range rep.Results {
			if !verbose && res.OK() {
				continue
			}
			mark := "ok  "
			if !res.OK() {
				mark = st.fail.Render("fail")
			}
			fmt.Fprintf(&b, "      %s %2d %-15s %-10s %s\n", mark, res.Step, res.Kind, res.Session, st.dim.Render(round(res.Duration).String()))
			if !res.OK() {
				fmt.Fprintf(&b, "           %s\n", indent(res.Error, "           "))
			} else if verbose && res.Output != "" {
				fmt.Fprintf(&b, "           %s\n", st.dim.Render(indent(firstLines(res.Output, 5), "           ")))
			}
		}
		if rep.Skipped > 0 {
			fmt.Fprintf(&b, "      %s\n", st.dim.Render(fmt.Sprintf("%d steps skipped", rep.Skipped)))
		}
	}

	fmt.Fprintf(&b, "%d scenarios, %d passed, %d failed\n", len(reports), passed, len(reports)-passed)
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON renders reports as an indented JSON array.
func WriteJSON(w io.Writer, reports []*Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func round(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(10 * time.Millisecond)
}

func indent(s, prefix string) string {
	return strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n"+prefix)
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = append(lines[:n], "...")
	}
	return strings.Join(lines, "\n")
}
