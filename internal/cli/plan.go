package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cairn-io/cairn/internal/config"
	"github.com/cairn-io/cairn/internal/engine"
	"github.com/cairn-io/cairn/internal/ir"
	"github.com/cairn-io/cairn/internal/provider"
)

var (
	planVars     []string
	planVarFiles []string
	planTargets  []string
	planJSON     bool
	planOut      string
)

var planCmd = &cobra.Command{
	Use:   "plan [dir]",
	Short: "Preview the changes the configuration implies",
	Long: `Resolves the configuration, compares it against recorded state, and
prints the changes an apply would perform. The plan itself changes
nothing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringArrayVar(&planVars, "var", nil, "Set an input variable, as name=value")
	planCmd.Flags().StringArrayVar(&planVarFiles, "var-file", nil, "Load input variables from a file")
	planCmd.Flags().StringArrayVar(&planTargets, "target", nil, "Limit the plan to a resource address and its dependencies")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the plan as JSON")
	planCmd.Flags().StringVarP(&planOut, "out", "o", "", "Also write the plan as JSON to this file")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	doc, err := config.Load(configDir(args))
	if err != nil {
		return err
	}

	resolver, err := buildResolver(doc, planVars, planVarFiles)
	if err != nil {
		return err
	}
	cfg, err := resolver.Resolve()
	if err != nil {
		return err
	}

	store, err := stateStore(doc)
	if err != nil {
		return err
	}
	st, err := store.Read(ctx)
	if err != nil {
		return err
	}

	eng := engine.NewEngine(provider.NewRegistry())
	plan, err := eng.CreatePlanWithTargets(ctx, cfg, st, planTargets)
	if err != nil {
		return err
	}

	if planOut != "" {
		if err := writePlanFile(planOut, plan); err != nil {
			return err
		}
	}

	if planJSON {
		b, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		fmt.Println(string(b))
		return nil
	}

	if !plan.HasChanges() {
		fmt.Println("No changes. Your infrastructure matches the configuration.")
		return nil
	}

	renderPlanChanges(plan)
	return nil
}

func writePlanFile(path string, plan *ir.Plan) error {
	b, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	fmt.Printf("Plan written to %s\n", path)
	return nil
}
