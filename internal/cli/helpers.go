package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/cairn-io/cairn/internal/config"
	"github.com/cairn-io/cairn/internal/eval"
	"github.com/cairn-io/cairn/internal/ir"
	"github.com/cairn-io/cairn/internal/provider"
	"github.com/cairn-io/cairn/internal/state"
)

// configDir returns the configuration directory a command operates on.
func configDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

// parseVarFlags splits repeated --var name=value flags.
func parseVarFlags(flags []string) (map[string]string, error) {
	vars := make(map[string]string, len(flags))
	for _, f := range flags {
		name, value, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var value %q: expected name=value", f)
		}
		vars[name] = value
	}
	return vars, nil
}

// buildResolver wires up every input variable source for a document:
// --var flags, CAIRN_VAR_ environment variables, then var files in load
// order. The default vars file in the config directory loads before any
// --var-file, so explicit files win.
func buildResolver(doc *config.Document, varFlags, varFiles []string) (*eval.Resolver, error) {
	overrides, err := parseVarFlags(varFlags)
	if err != nil {
		return nil, err
	}

	var fileValues []map[string]cty.Value
	auto := filepath.Join(doc.Dir, config.DefaultVarsFile)
	if _, err := os.Stat(auto); err == nil {
		vals, err := config.ParseVarsFile(auto)
		if err != nil {
			return nil, err
		}
		fileValues = append(fileValues, vals)
	}
	for _, path := range varFiles {
		vals, err := config.ParseVarsFile(path)
		if err != nil {
			return nil, err
		}
		fileValues = append(fileValues, vals)
	}

	return eval.NewResolver(doc, eval.Options{
		Overrides:  overrides,
		Env:        eval.EnvironOverrides(os.Environ()),
		FileValues: fileValues,
	}), nil
}

// stateStore picks the state backend for a run: the backend block when
// the configuration declares one, otherwise the --state override or the
// current workspace's local state file.
func stateStore(doc *config.Document) (state.Backend, error) {
	if doc != nil && doc.Backend != nil {
		return state.NewBackend(&state.BackendConfig{
			Type:   doc.Backend.Type,
			Config: doc.Backend.Config,
		})
	}
	if statePath != "" {
		return state.NewManager(statePath), nil
	}
	return state.NewManager(WorkspaceStatePath()), nil
}

// loadRequiredProviders loads every provider the resolved configuration
// names.
func loadRequiredProviders(registry *provider.Registry, cfg *ir.Config) error {
	for _, res := range cfg.Resources {
		if err := registry.LoadProvider(res.Provider); err != nil {
			return err
		}
	}
	return nil
}

// loadStateProviders loads providers for resources recorded in state, so
// resources dropped from the configuration can still be destroyed.
func loadStateProviders(registry *provider.Registry, st *ir.State) error {
	for _, rs := range st.Resources {
		if err := registry.LoadProvider(rs.Provider); err != nil {
			return err
		}
	}
	return nil
}

// confirm prompts on stdout and reads a single line of approval.
func confirm(prompt string) bool {
	fmt.Printf("%s (y/n): ", prompt)
	var answer string
	fmt.Scanln(&answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

const (
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorReset  = "\033[0m"
)

// colorize returns the ANSI code, or nothing when color is disabled.
func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

func actionSymbol(a ir.Action) string {
	switch a {
	case ir.ActionCreate:
		return "+"
	case ir.ActionDelete:
		return "-"
	case ir.ActionReplace:
		return "-/+"
	case ir.ActionUpdate:
		return "~"
	default:
		return " "
	}
}

func actionColor(a ir.Action) string {
	switch a {
	case ir.ActionCreate:
		return colorize(colorGreen)
	case ir.ActionDelete, ir.ActionReplace:
		return colorize(colorRed)
	case ir.ActionUpdate:
		return colorize(colorYellow)
	default:
		return ""
	}
}

func actionVerb(a ir.Action) string {
	switch a {
	case ir.ActionCreate:
		return "created"
	case ir.ActionDelete:
		return "destroyed"
	case ir.ActionReplace:
		return "replaced"
	case ir.ActionUpdate:
		return "updated"
	default:
		return "left unchanged"
	}
}

// renderPlanChanges prints the human-readable diff for every planned
// change, followed by the summary line.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		if change.Action == ir.ActionNoop {
			continue
		}
		renderResourceChange(change)
	}
	renderPlanSummary(plan.Summary)
}

func renderResourceChange(change *ir.ResourceChange) {
	color := actionColor(change.Action)
	reset := colorize(colorReset)

	fmt.Printf("%s# %s will be %s%s\n", color, change.Address, actionVerb(change.Action), reset)

	res := change.Desired
	if res == nil {
		res = change.Prior
	}
	fmt.Printf("%s%s resource %q %q {%s\n", color, actionSymbol(change.Action), res.Type, res.Name, reset)

	for _, name := range slices.Sorted(maps.Keys(change.Diff)) {
		renderPropertyDiff(name, change.Diff[name])
	}
	fmt.Printf("%s}%s\n\n", color, reset)
}

func renderPropertyDiff(name string, diff *ir.PropertyDiff) {
	before, after := formatValue(diff.Before), formatValue(diff.After)
	if diff.Sensitive {
		before, after = "(sensitive value)", "(sensitive value)"
	}

	reset := colorize(colorReset)
	switch diff.Action {
	case ir.ActionCreate:
		fmt.Printf("    %s+%s %s = %s\n", colorize(colorGreen), reset, name, after)
	case ir.ActionDelete:
		fmt.Printf("    %s-%s %s = %s\n", colorize(colorRed), reset, name, before)
	default:
		suffix := ""
		if diff.ForcesReplacement {
			suffix = " # forces replacement"
		}
		fmt.Printf("    %s~%s %s = %s -> %s%s\n", colorize(colorYellow), reset, name, before, after, suffix)
	}
}

// formatValue renders a property value for diff output.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func renderPlanSummary(s *ir.PlanSummary) {
	added, changed, destroyed := applyCounts(s)
	fmt.Printf("Plan: %d to add, %d to change, %d to destroy.\n", added, changed, destroyed)
}

// applyCounts folds a plan summary into added/changed/destroyed totals.
// A replacement is one resource added and one destroyed.
func applyCounts(s *ir.PlanSummary) (added, changed, destroyed int) {
	return s.Create + s.Replace, s.Update, s.Delete + s.Replace
}
