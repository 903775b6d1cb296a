// Package cmd implements the tuitest command line.
//
// tuitest drives terminal programs through a pseudo-terminal and checks
// what they print. Scenarios are YAML files listing launch, send, expect and
// assertion steps; see "tuitest run --help".
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/GeorgePearse/mcp-tui-test/internal/config"
	"github.com/GeorgePearse/mcp-tui-test/internal/harness"
	"github.com/GeorgePearse/mcp-tui-test/internal/logs"
	"github.com/GeorgePearse/mcp-tui-test/internal/script"
	"github.com/GeorgePearse/mcp-tui-test/internal/version"
)

// ErrFailed is returned when a command ran to completion but at least one
// scenario or file did not pass. The details are already on stdout.
var ErrFailed = errors.New("one or more scenarios failed")

// app carries the state shared by every command once the root pre-run has
// loaded configuration.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	logFile    string

	cfg     *config.Config
	logger  *slog.Logger
	logSink io.Closer
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "tuitest",
		Short: "Drive terminal programs through a pty and assert on their output",
		Long: `tuitest launches terminal programs under a pseudo-terminal, sends them
keystrokes and checks what they print.

Sessions run in one of two modes:
  stream  raw output is kept as text, good for line-oriented programs
  buffer  output is fed through a terminal emulator so the screen can be
          queried by row and column, good for full-screen TUIs

Scenarios are YAML files:

  name: greet
  steps:
    - launch: {command: "sh -c 'read n; echo Hello, $n'"}
    - send: {keys: "World\n"}
    - expect: {pattern: "Hello, World"}

Run them with: tuitest run greet.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default $TUITEST_HOME/config.yaml or ~/.tuitest/config.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: auto, text, json")
	pf.StringVar(&a.logFile, "log-file", "", "append logs to this file instead of stderr")

	root.AddCommand(
		newRunCmd(a),
		newCheckCmd(a),
		newConfigCmd(a),
		newHistoryCmd(a),
		newDemoCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, ErrFailed) {
			fmt.Fprintln(root.ErrOrStderr(), "tuitest:", err)
		}
		return 1
	}
	return 0
}

func (a *app) setup(cmd *cobra.Command) error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFile(a.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if a.logLevel != "" {
		a.cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		a.cfg.Logging.Format = a.logFormat
	}
	if a.logFile != "" {
		a.cfg.Logging.File = a.logFile
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	opts := a.cfg.LogOptions()
	opts.Output = cmd.ErrOrStderr()
	if path := a.cfg.Logging.File; path != "" {
		f, err := logs.OpenFile(path)
		if err != nil {
			return err
		}
		opts.Output = f
		a.logSink = f
	}
	a.logger, err = logs.New(opts)
	if err != nil {
		a.teardown()
		return err
	}
	return nil
}

func (a *app) teardown() {
	if a.logSink != nil {
		_ = a.logSink.Close()
		a.logSink = nil
	}
}

func (a *app) path() string {
	if a.configPath != "" {
		return a.configPath
	}
	return config.Path()
}

// newDriver gives each scenario its own harness so session ids never clash
// across concurrently running files.
func (a *app) newDriver() script.Driver {
	return harness.New(harness.Options{
		Defaults: a.cfg.HarnessDefaults(),
		Logger:   a.logger,
	})
}

// isTerminal returns true if stdout is a terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
