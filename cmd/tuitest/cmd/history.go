package cmd

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/GeorgePearse/mcp-tui-test/internal/db"
)

func newHistoryCmd(a *app) *cobra.Command {
	var filter db.RunFilter

	c := &cobra.Command{
		Use:   "history",
		Short: "List recorded scenario runs",
		Long: `Shows runs stored with 'tuitest run --record', newest first.

Examples:
  tuitest history                 # last 20 runs
  tuitest history --failed -n 5   # last 5 failures
  tuitest history show 42         # steps of run 42
  tuitest history prune --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := db.Open()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.RecentRuns(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			return renderRunList(cmd.OutOrStdout(), runs)
		},
	}
	c.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "maximum number of runs to show")
	c.Flags().BoolVar(&filter.FailedOnly, "failed", false, "only show failed runs")
	c.Flags().StringVar(&filter.Scenario, "scenario", "", "only show runs of this scenario")

	c.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the steps of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			store, err := db.Open()
			if err != nil {
				return err
			}
			defer store.Close()

			steps, err := store.RunSteps(cmd.Context(), id)
			if err != nil {
				return err
			}
			return renderStepList(cmd.OutOrStdout(), steps)
		},
	})

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, err := db.Open()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PruneRuns(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			a.logger.Info("pruned run history", "runs", n, "older_than", olderThan)
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs.\n", n)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete runs started before this long ago")
	c.AddCommand(prune)

	return c
}

func renderRunList(w io.Writer, runs []db.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTARTED\tRESULT\tDURATION\tSCENARIO")
	for _, r := range runs {
		result := "pass"
		if !r.Passed {
			result = "fail"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			result,
			r.Duration.Round(time.Millisecond),
			r.Scenario,
		)
	}
	return tw.Flush()
}

func renderStepList(w io.Writer, steps []db.Step) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STEP\tKIND\tSESSION\tDURATION\tERROR")
	for _, s := range steps {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			s.Step, s.Kind, s.Session, s.Duration.Round(time.Millisecond), s.Error)
	}
	return tw.Flush()
}
