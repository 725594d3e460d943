// Command agent plans and executes multi-agent code-change sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/agentcoord/agentcoord/internal/agentio"
	"github.com/agentcoord/agentcoord/internal/config"
	"github.com/agentcoord/agentcoord/internal/graph"
	"github.com/agentcoord/agentcoord/internal/orchestrate"
)

// Process exit codes. Validation problems (2) are distinguishable from
// execution failures (3) so callers can branch on the outcome; 130 means
// the run was interrupted by a signal and left resumable.
const (
	exitOK         = 0
	exitUserError  = 1
	exitValidation = 2
	exitExecution  = 3
	exitSignal     = 130
)

// exitCodeError carries a process exit code out of a cobra RunE. A nil
// wrapped error means everything worth printing already went to stdout.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *exitCodeError) Unwrap() error { return e.err }

func exitWith(code int, err error) error { return &exitCodeError{code: code, err: err} }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "agent: .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		var xe *exitCodeError
		if errors.As(err, &xe) {
			if xe.err != nil {
				fmt.Fprintf(os.Stderr, "agent: %v\n", xe.err)
			}
			return xe.code
		}
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		if ctx.Err() != nil {
			return exitSignal
		}
		return exitUserError
	}
	return exitOK
}

type rootFlags struct {
	base    string
	config  string
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "coordinate planner, worker, and judge agents over a session journal",
		Long: `agent breaks a change instruction into tasks, schedules them across a
worker pool in dependency order, reviews each result, and records every
step in an append-only session journal so interrupted sessions resume
where they left off.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if flags.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	cmd.PersistentFlags().StringVar(&flags.base, "path", orchestrate.DefaultBase(), "coordinator state directory")
	cmd.PersistentFlags().StringVar(&flags.config, "config", "", "config file (default <path>/config.json)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	cmd.AddCommand(newPlanCmd(flags), newRunCmd(flags), newStatusCmd(flags))
	return cmd
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	path := flags.config
	if path == "" {
		located, ok := config.Locate(flags.base)
		if !ok {
			return config.Default(), nil
		}
		path = located
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, exitWith(exitUserError, err)
	}
	return cfg, nil
}

// newOrchestrator assembles the orchestrator the way every subcommand
// needs it: configured agents run as subprocesses in the current working
// directory, which is also where accepted task outputs land.
func newOrchestrator(flags *rootFlags) (*orchestrate.Orchestrator, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	o, err := orchestrate.New(orchestrate.Options{
		Base:    flags.base,
		Config:  cfg,
		Invoker: agentio.NewSubprocessInvoker(cfg.Agents, "", nil, slog.Default()),
		WorkDir: ".",
		Logger:  slog.Default(),
	})
	if err != nil {
		return nil, exitWith(exitUserError, err)
	}
	return o, nil
}

// classify maps an orchestration error to an exit code: interrupted
// sessions report 130, dependency validation problems 2, everything
// else is a user-facing error.
func classify(ctx context.Context, err error) int {
	switch {
	case ctx.Err() != nil:
		return exitSignal
	case errors.Is(err, graph.ErrUnknownDependency):
		return exitValidation
	default:
		return exitUserError
	}
}
