package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentcoord/agentcoord/internal/journal"
	"github.com/agentcoord/agentcoord/internal/orchestrate"
	"github.com/agentcoord/agentcoord/internal/task"
)

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var sessionID string
	var follow bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status [--session <id>]",
		Short: "inspect a session's journal",
		Long: `status reduces a session's journal to its current state: phase, task
counts, and the final verdict once the session is terminal. --follow
streams journal records as they are appended until the session
completes or aborts. Without --session the most recent session is
inspected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := orchestrate.NewPaths(flags.base)
			id := journal.SessionID(sessionID)
			if id == "" {
				ptr, err := journal.LoadPointer(paths.Pointer())
				if err != nil {
					return exitWith(exitUserError, err)
				}
				if ptr.Current == "" {
					return exitWith(exitUserError, errors.New("no sessions recorded; run agent plan first"))
				}
				id = ptr.Current
			}

			jpath := paths.Journal(id)
			st, err := orchestrate.ReadStatus(jpath, id, slog.Default())
			if err != nil {
				return exitWith(exitUserError, err)
			}

			if follow {
				if err := orchestrate.Follow(cmd.Context(), jpath, cmd.OutOrStdout(), 0); err != nil {
					return exitWith(classify(cmd.Context(), err), err)
				}
				if st, err = orchestrate.ReadStatus(jpath, id, slog.Default()); err != nil {
					return exitWith(exitUserError, err)
				}
			}

			switch {
			case asJSON:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(st); err != nil {
					return exitWith(exitUserError, err)
				}
			case !follow:
				printStatus(cmd.OutOrStdout(), st)
			}

			if st.State == orchestrate.StateAborted || (st.Metrics != nil && st.Metrics.Failed > 0) {
				return exitWith(exitExecution, nil)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: the most recent session)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream journal records until the session is terminal")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the status as JSON")
	return cmd
}

// statusStateOrder fixes the task count rendering so the most
// interesting states lead.
var statusStateOrder = []task.State{
	task.StateDone, task.StateRunning, task.StateReady,
	task.StateNew, task.StateFailed, task.StateBlocked,
}

func printStatus(w io.Writer, st *orchestrate.Status) {
	fmt.Fprintf(w, "Session:  %s\n", st.SessionID)
	if st.Instruction != "" {
		fmt.Fprintf(w, "Task:     %s\n", st.Instruction)
	}
	state := st.State
	if st.State == orchestrate.StateAborted && st.AbortReason != "" {
		state += " (" + st.AbortReason + ")"
	}
	fmt.Fprintf(w, "State:    %s\n", state)
	if st.Phase != "" {
		fmt.Fprintf(w, "Phase:    %s\n", st.Phase)
	}
	if !st.LastEventAt.IsZero() {
		fmt.Fprintf(w, "Last:     %s at %s\n", st.LastEvent, st.LastEventAt.Local().Format("15:04:05"))
	}
	if len(st.Counts) > 0 {
		parts := make([]string, 0, len(st.Counts))
		for _, s := range statusStateOrder {
			if n := st.Counts[s]; n > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(string(s))))
			}
		}
		fmt.Fprintf(w, "Tasks:    %s\n", strings.Join(parts, ", "))
	}
	if st.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", st.Summary)
	}
}
