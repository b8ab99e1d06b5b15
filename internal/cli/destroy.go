package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cairn-io/cairn/internal/config"
	"github.com/cairn-io/cairn/internal/engine"
	"github.com/cairn-io/cairn/internal/ir"
	"github.com/cairn-io/cairn/internal/logging"
	"github.com/cairn-io/cairn/internal/provider"
)

var (
	destroyVars        []string
	destroyVarFiles    []string
	destroyAutoApprove bool
)

var destroyCmd = &cobra.Command{
	Use:   "destroy [dir]",
	Short: "Remove every resource under management",
	Long: `Plans the removal of everything recorded in state, dependents before
their dependencies, and after approval executes it. Resources marked
prevent_destroy in the configuration abort the plan.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().StringArrayVar(&destroyVars, "var", nil, "Set an input variable, as name=value")
	destroyCmd.Flags().StringArrayVar(&destroyVarFiles, "var-file", nil, "Load input variables from a file")
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip the interactive approval prompt")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// The configuration is only consulted for lifecycle rules and the
	// backend block, so destroy still works when it no longer loads.
	doc, err := config.Load(configDir(args))
	if err != nil {
		logging.Warn("configuration not loadable, destroying from state only", "error", err)
		doc = nil
	}

	cfg, err := resolveForDestroy(doc)
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

	if len(st.Resources) == 0 {
		fmt.Println("No resources to destroy.")
		return nil
	}

	registry := provider.NewRegistry()
	if err := loadStateProviders(registry, st); err != nil {
		return err
	}

	eng := engine.NewEngine(registry)
	plan, err := eng.CreateDestroyPlan(ctx, cfg, st)
	if err != nil {
		return err
	}

	renderPlanChanges(plan)

	if !destroyAutoApprove {
		if !confirm("\nDo you really want to destroy all resources?") {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}
	fmt.Println()

	newState, applyErr := eng.ApplyPlanWithCallback(ctx, plan, st, printApplyEvent)

	if err := store.Write(ctx, newState); err != nil {
		if applyErr != nil {
			return fmt.Errorf("destroy failed (%v) and state could not be saved: %w", applyErr, err)
		}
		return fmt.Errorf("failed to save state: %w", err)
	}
	if applyErr != nil {
		return applyErr
	}

	fmt.Printf("\nDestroy complete! Resources: %d destroyed.\n", plan.Summary.Delete)
	return nil
}

func resolveForDestroy(doc *config.Document) (*ir.Config, error) {
	if doc == nil {
		return nil, nil
	}
	resolver, err := buildResolver(doc, destroyVars, destroyVarFiles)
	if err != nil {
		return nil, err
	}
	cfg, err := resolver.Resolve()
	if err != nil {
		logging.Warn("configuration not resolvable, destroying from state only", "error", err)
		return nil, nil
	}
	return cfg, nil
}
