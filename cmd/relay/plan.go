package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/mtzanidakis/relay/internal/orchestrator"
	"github.com/mtzanidakis/relay/internal/workflow"
	"github.com/spf13/cobra"
)

var outputJSON bool

var planCmd = &cobra.Command{
	Use:   "plan <query>",
	Short: "Build and schedule a plan without executing it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.orch.Plan(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd.OutOrStdout(), plan)
		}
		return printPlan(cmd.OutOrStdout(), plan)
	},
}

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Plan a request and execute it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		plan, results, err := a.orch.RunWorkflow(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd.OutOrStdout(), map[string]any{"plan": plan, "results": results})
		}
		fmt.Fprintln(cmd.OutOrStdout(), orchestrator.Summarize(plan, results))
		return nil
	},
}

func init() {
	planCmd.Flags().BoolVar(&outputJSON, "json", false, "print the plan as JSON")
	runCmd.Flags().BoolVar(&outputJSON, "json", false, "print the plan and results as JSON")
}

// printPlan lists the steps by parallel group.
func printPlan(w io.Writer, plan *workflow.Plan) error {
	fmt.Fprintf(w, "Plan %s (%d steps)\n", plan.RequestID, len(plan.Steps))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tSTEP\tOPERATION\tDEPENDS ON")
	for i, group := range plan.ParallelGroups {
		for _, id := range group {
			s, _ := plan.Step(id)
			deps := "-"
			if len(s.Dependencies) > 0 {
				deps = strings.Join(s.Dependencies, ", ")
			}
			fmt.Fprintf(tw, "%d\t%s\t%s/%s\t%s\n", i+1, s.StepID, s.AgentType, s.Action, deps)
		}
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
