package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentcoord/agentcoord/internal/orchestrate"
	"github.com/agentcoord/agentcoord/internal/task"
)

func newPlanCmd(flags *rootFlags) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "plan [instruction]",
		Short: "break an instruction into an executable task plan",
		Long: `plan starts a new session: the planner agent decomposes the instruction
into tasks, the dependency graph is validated, and the plan is persisted
so a later "agent run" can execute it. With --resume the most recent
unfinished session is picked up instead; an already planned session is
returned as stored without invoking the planner again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instruction := ""
			if len(args) == 1 {
				instruction = args[0]
			}
			if resume && instruction != "" {
				return exitWith(exitUserError, errors.New("--resume takes no instruction"))
			}
			if !resume && strings.TrimSpace(instruction) == "" {
				return exitWith(exitUserError, errors.New("an instruction is required (or pass --resume)"))
			}

			o, err := newOrchestrator(flags)
			if err != nil {
				return err
			}
			var res *orchestrate.PlanResult
			if resume {
				res, err = o.ResumePlan(cmd.Context())
			} else {
				res, err = o.Plan(cmd.Context(), instruction)
			}
			if err != nil {
				return exitWith(classify(cmd.Context(), err), err)
			}

			printPlan(cmd.OutOrStdout(), res)
			if len(res.Cycles) > 0 {
				return exitWith(exitValidation, nil)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "resume the most recent unfinished planning session")
	return cmd
}

func printPlan(w io.Writer, res *orchestrate.PlanResult) {
	verb := "Planned"
	if res.Resumed {
		verb = "Resumed"
	}
	fmt.Fprintf(w, "%s session %s: %s\n", verb, res.SessionID, res.Instruction)
	fmt.Fprintf(w, "%d task(s):\n", len(res.Tasks))
	for _, t := range res.Tasks {
		fmt.Fprintf(w, "  %-12s %s", t.ID, t.Title)
		if len(t.Dependencies) > 0 {
			fmt.Fprintf(w, "  (after %s)", joinTaskIDs(t.Dependencies))
		}
		fmt.Fprintln(w)
	}
	for _, cycle := range res.Cycles {
		fmt.Fprintf(w, "warning: dependency cycle: %s\n", joinTaskIDs(cycle))
	}
	fmt.Fprintf(w, "Run it with: agent run --session %s\n", res.SessionID)
}

func joinTaskIDs(ids []task.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
