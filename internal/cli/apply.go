package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cairn-io/cairn/internal/config"
	"github.com/cairn-io/cairn/internal/engine"
	"github.com/cairn-io/cairn/internal/ir"
	"github.com/cairn-io/cairn/internal/provider"
)

var (
	applyVars            []string
	applyVarFiles        []string
	applyTargets         []string
	applyAutoApprove     bool
	applyContinueOnError bool
)

var applyCmd = &cobra.Command{
	Use:   "apply [dir]",
	Short: "Create or update resources to match the configuration",
	Long: `Plans the configuration against recorded state, shows the changes, and
after approval executes them in dependency order. State is updated as
each resource completes, so a failed run records everything that
finished.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringArrayVar(&applyVars, "var", nil, "Set an input variable, as name=value")
	applyCmd.Flags().StringArrayVar(&applyVarFiles, "var-file", nil, "Load input variables from a file")
	applyCmd.Flags().StringArrayVar(&applyTargets, "target", nil, "Limit the apply to a resource address and its dependencies")
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip the interactive approval prompt")
	applyCmd.Flags().BoolVar(&applyContinueOnError, "continue-on-error", false, "Keep applying independent resources after a failure")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	doc, err := config.Load(configDir(args))
	if err != nil {
		return err
	}

	resolver, err := buildResolver(doc, applyVars, applyVarFiles)
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
	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	st, err := store.Read(ctx)
	if err != nil {
		return err
	}

	registry := provider.NewRegistry()
	if err := loadRequiredProviders(registry, cfg); err != nil {
		return err
	}
	if err := loadStateProviders(registry, st); err != nil {
		return err
	}

	eng := engine.NewEngine(registry)
	eng.ContinueOnError = applyContinueOnError

	plan, err := eng.CreatePlanWithTargets(ctx, cfg, st, applyTargets)
	if err != nil {
		return err
	}

	if !plan.HasChanges() {
		fmt.Println("No changes. Your infrastructure matches the configuration.")
		return nil
	}

	renderPlanChanges(plan)

	if !applyAutoApprove {
		if !confirm("\nDo you want to perform these actions?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}
	fmt.Println()

	newState, applyErr := eng.ApplyPlanWithCallback(ctx, plan, st, printApplyEvent)

	// Whatever completed is recorded even when the run failed partway.
	if err := store.Write(ctx, newState); err != nil {
		if applyErr != nil {
			return fmt.Errorf("apply failed (%v) and state could not be saved: %w", applyErr, err)
		}
		return fmt.Errorf("failed to save state: %w", err)
	}
	if applyErr != nil {
		return applyErr
	}

	added, changed, destroyed := applyCounts(plan.Summary)
	fmt.Printf("\nApply complete! Resources: %d added, %d changed, %d destroyed.\n", added, changed, destroyed)

	printOutputs(newState.Outputs)
	return nil
}

func printApplyEvent(e engine.ApplyEvent) {
	switch e.Status {
	case "started":
		fmt.Printf("%s: %s...\n", e.Address, applyingVerb(e.Action))
	case "completed":
		fmt.Printf("%s: %s after %s\n", e.Address, completedVerb(e.Action), e.Duration.Round(time.Second))
	case "failed":
		fmt.Printf("%s%s: failed: %s%s\n", colorize(colorRed), e.Address, e.Error, colorize(colorReset))
	}
}

func applyingVerb(a ir.Action) string {
	switch a {
	case ir.ActionCreate:
		return "Creating"
	case ir.ActionDelete:
		return "Destroying"
	case ir.ActionReplace:
		return "Replacing"
	default:
		return "Updating"
	}
}

func completedVerb(a ir.Action) string {
	switch a {
	case ir.ActionCreate:
		return "Creation complete"
	case ir.ActionDelete:
		return "Destruction complete"
	case ir.ActionReplace:
		return "Replacement complete"
	default:
		return "Update complete"
	}
}
