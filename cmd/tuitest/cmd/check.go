package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GeorgePearse/mcp-tui-test/internal/script"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <scenario.yaml|dir>...",
		Short: "Parse and validate scenarios without running them",
		Long: `Reports unknown step kinds, missing fields and malformed values with the
step number and source line. Nothing is launched.

Examples:
  tuitest check login.yaml
  tuitest check scenarios/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := scenarioFiles(args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bad := 0
			for _, f := range files {
				sc, err := script.ParseFile(f)
				if err != nil {
					bad++
					fmt.Fprintf(out, "error %v\n", err)
					continue
				}
				fmt.Fprintf(out, "ok    %s (%s, %d steps)\n", f, sc.Name, len(sc.Steps))
			}
			a.logger.Debug("check done", "files", len(files), "invalid", bad)
			if bad > 0 {
				return ErrFailed
			}
			return nil
		},
	}
}
