package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/GeorgePearse/mcp-tui-test/internal/demo"
)

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the built-in demo TUI",
		Long: `Starts a small full-screen program with a selectable list and a name prompt.
It is a stable target for trying buffer-mode scenarios:

  - launch: {command: "tuitest demo", mode: buffer}
  - expect: {pattern: Apples}
  - key: {name: down}
  - key: {name: enter}
  - expect: {pattern: "Selected: Bananas"}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isTerminal() {
				return errors.New("demo needs an interactive terminal")
			}
			return demo.Run(cmd.Context())
		},
	}
}
