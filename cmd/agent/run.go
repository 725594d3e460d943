package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcoord/agentcoord/internal/journal"
	"github.com/agentcoord/agentcoord/internal/orchestrate"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var sessionID string
	var maxWorkers int
	cmd := &cobra.Command{
		Use:   "run --session <id>",
		Short: "execute a planned session",
		Long: `run executes the session's tasks in dependency order across a worker
pool, reviews each result, and finishes with a judge verdict. Interrupt
it with Ctrl-C and the session stays resumable: a second run skips
every task that already completed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := newOrchestrator(flags)
			if err != nil {
				return err
			}
			id := journal.SessionID(sessionID)
			if snap, err := orchestrate.LoadSnapshot(o.Paths().PlanningSnapshot(id)); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s: %s (%d tasks)\n", id, snap.Instruction, len(snap.Tasks))
			}

			res, err := o.Run(cmd.Context(), id, orchestrate.RunOverrides{MaxWorkers: maxWorkers})
			if err != nil {
				return exitWith(classify(cmd.Context(), err), err)
			}

			printRunResult(cmd.OutOrStdout(), res)
			switch {
			case res.Aborted && cmd.Context().Err() != nil:
				return exitWith(exitSignal, nil)
			case res.Aborted:
				return exitWith(exitUserError, errors.New("session aborted"))
			case len(res.Failed) > 0:
				return exitWith(exitExecution, fmt.Errorf("%d task(s) failed", len(res.Failed)))
			case len(res.CycleBlocked) > 0:
				return exitWith(exitValidation, fmt.Errorf("%d task(s) blocked by dependency cycles", len(res.CycleBlocked)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to execute")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "override the configured worker pool size")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func printRunResult(w io.Writer, res *orchestrate.RunResult) {
	if res.Aborted {
		fmt.Fprintf(w, "Session %s interrupted: %d done, %d failed, %d blocked\n",
			res.SessionID, len(res.Completed), len(res.Failed), len(res.Blocked))
		fmt.Fprintf(w, "Resume with: agent run --session %s\n", res.SessionID)
		return
	}
	m := res.Metrics
	dur := (time.Duration(m.DurationMS) * time.Millisecond).Round(time.Millisecond)
	fmt.Fprintf(w, "Session %s: %d/%d done, %d failed, %d blocked (%d attempts in %s)\n",
		res.SessionID, m.Done, m.Tasks, m.Failed, m.Blocked, m.Attempts, dur)
	if res.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", res.Summary)
	}
}
