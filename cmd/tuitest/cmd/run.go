package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GeorgePearse/mcp-tui-test/internal/db"
	"github.com/GeorgePearse/mcp-tui-test/internal/script"
	"github.com/GeorgePearse/mcp-tui-test/internal/watch"
)

type runOptions struct {
	failFast bool
	json     bool
	verbose  bool
	record   bool
	watch    bool
}

func newRunCmd(a *app) *cobra.Command {
	var o runOptions

	c := &cobra.Command{
		Use:   "run <scenario.yaml|dir>...",
		Short: "Run scenarios",
		Long: `Runs each scenario file concurrently, each against its own set of sessions.
A directory argument runs every .yaml and .yml file directly inside it.

Sessions a scenario launched are closed when it finishes. The command exits
non-zero when any scenario fails.

Examples:
  tuitest run login.yaml menu.yaml
  tuitest run scenarios/ --fail-fast
  tuitest run scenarios/ --json > report.json
  tuitest run scenarios/ --watch      # re-run files as they are saved
  tuitest run scenarios/ --record     # keep results for 'tuitest history'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), args, o)
		},
	}

	f := c.Flags()
	f.BoolVar(&o.failFast, "fail-fast", false, "cancel remaining scenarios after the first failure")
	f.BoolVar(&o.json, "json", false, "write the report as JSON")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "list every step, not only failures")
	f.BoolVar(&o.record, "record", false, "store results in the run history")
	f.BoolVarP(&o.watch, "watch", "w", false, "re-run scenario files when they change")
	return c
}

func (a *app) run(ctx context.Context, out io.Writer, args []string, o runOptions) error {
	files, err := scenarioFiles(args)
	if err != nil {
		return err
	}

	passed, err := a.runFiles(ctx, out, files, o)
	if err != nil {
		return err
	}
	if o.watch {
		return a.watch(ctx, out, args, o)
	}
	if !passed {
		return ErrFailed
	}
	return nil
}

func (a *app) runFiles(ctx context.Context, out io.Writer, files []string, o runOptions) (bool, error) {
	scenarios := make([]*script.Scenario, 0, len(files))
	for _, f := range files {
		sc, err := script.ParseFile(f)
		if err != nil {
			return false, err
		}
		scenarios = append(scenarios, sc)
	}

	runner := &script.Runner{Logger: a.logger}
	reports := runner.RunAll(ctx, scenarios, a.newDriver, o.failFast)

	var err error
	if o.json {
		err = script.WriteJSON(out, reports)
	} else {
		err = script.WriteText(out, reports, o.verbose)
	}
	if err != nil {
		return false, fmt.Errorf("write report: %w", err)
	}

	if o.record {
		// Record even when interrupted.
		if err := a.record(context.WithoutCancel(ctx), reports); err != nil {
			return false, err
		}
	}
	return script.Passed(reports), nil
}

func (a *app) watch(ctx context.Context, out io.Writer, args []string, o runOptions) error {
	w, err := watch.New(watch.Config{
		Paths:  args,
		Logger: a.logger,
		OnChange: func(ctx context.Context, changed []string) {
			fmt.Fprintf(out, "\n%s changed, re-running\n", strings.Join(changed, ", "))
			if _, err := a.runFiles(ctx, out, changed, o); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "watching for changes, interrupt to stop")
	return w.Run(ctx)
}

func (a *app) record(ctx context.Context, reports []*script.Report) error {
	store, err := db.Open()
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	for _, rep := range reports {
		if rep == nil {
			continue
		}
		id, err := store.RecordRun(ctx, runFromReport(rep))
		if err != nil {
			return fmt.Errorf("record %s: %w", rep.Scenario, err)
		}
		a.logger.Debug("run recorded", "scenario", rep.Scenario, "id", id)
	}
	return nil
}

func runFromReport(rep *script.Report) db.Run {
	run := db.Run{
		Scenario:  rep.Scenario,
		Path:      rep.Path,
		Passed:    rep.Passed,
		StartedAt: rep.Started,
		Duration:  rep.Duration,
		Skipped:   rep.Skipped,
	}
	for _, res := range rep.Results {
		run.Steps = append(run.Steps, db.Step{
			Step:     res.Step,
			Kind:     res.Kind,
			Session:  res.Session,
			Output:   res.Output,
			Error:    res.Error,
			Duration: res.Duration,
		})
	}
	return run
}

// scenarioFiles expands directory arguments into their YAML files. Files
// named explicitly are kept whatever their extension.
func scenarioFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", arg, err)
		}
		var found []string
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if e.Type().IsRegular() && (ext == ".yaml" || ext == ".yml") {
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no scenario files in %s", arg)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}
