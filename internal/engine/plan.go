package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cairn-io/cairn/internal/ir"
	"github.com/cairn-io/cairn/internal/logging"
	"github.com/cairn-io/cairn/internal/provider"
	sdk "github.com/cairn-io/cairn/pkg/provider"
)

// Engine orchestrates the lifecycle of resources.
type Engine struct {
	registry        *provider.Registry
	ContinueOnError bool // If true, apply continues past failures instead of stopping
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry: registry,
	}
}

// CreatePlan generates an execution plan by comparing desired config with current state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource addresses.
// If targets is nil or empty, all resources are planned. Targeting a resource
// pulls in its transitive dependencies.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources), "targets", len(targets))
	plan := &ir.Plan{
		Metadata: planMetadata(cfg, state),
		Changes:  []*ir.ResourceChange{},
		Summary:  &ir.PlanSummary{},
		Outputs:  cfg.Outputs,
	}

	for _, res := range cfg.Resources {
		if err := e.registry.LoadProvider(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}

	resources := ExpandForEach(cfg.Resources)

	dag, err := BuildDAG(resources)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	stateMap := make(map[string]*ir.ResourceState)
	for _, rs := range state.Resources {
		stateMap[rs.Addr()] = rs
	}

	configByAddr := make(map[string]*ir.Resource, len(resources))
	for _, res := range resources {
		configByAddr[res.Addr()] = res
	}

	// Targets pull in their transitive dependencies so a targeted resource
	// is never planned against missing prerequisites.
	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			targetSet[t] = true
		}
		for _, t := range targets {
			for _, dep := range dag.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	for _, addr := range dag.CreationOrder() {
		res := configByAddr[addr]
		if res == nil {
			continue
		}

		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		prov, err := e.registry.Get(res.Provider)
		if err != nil {
			return nil, err
		}

		desiredJSON, err := json.Marshal(normalizeValue(res.Properties))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for %s: %w", addr, err)
		}

		prior := stateMap[addr]

		// Inputs identical to the last apply cannot produce a change, so the
		// provider is not consulted.
		if prior != nil && prior.InputsHash != "" && prior.InputsHash == hashJSON(desiredJSON) {
			plan.Summary.NoOp++
			continue
		}

		var priorConfigJSON, priorStateJSON []byte
		if prior != nil {
			priorConfigJSON, _ = json.Marshal(prior.Inputs)
			priorStateJSON, _ = json.Marshal(prior.Outputs)
		}

		resp, err := prov.Plan(ctx, &sdk.PlanRequest{
			Type:              res.Type,
			Name:              res.Name,
			DesiredConfigJSON: desiredJSON,
			PriorConfigJSON:   priorConfigJSON,
			PriorStateJSON:    priorStateJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("plan failed for %s: %w", addr, err)
		}

		action := resp.Action
		if action == ir.ActionUpdate {
			action = filterIgnoredChanges(res, resp)
		}
		if action == ir.ActionNoop {
			plan.Summary.NoOp++
			continue
		}

		if err := enforceLifecycle(res, action, addr); err != nil {
			return nil, err
		}

		change := &ir.ResourceChange{
			Address: addr,
			Action:  action,
			Desired: res,
		}

		if prior != nil {
			change.Prior = priorResource(prior)
			change.Diff = buildPropertyDiff(prior.Inputs, res.Properties, ignoredAttrs(res))
			if action == ir.ActionReplace {
				for _, attr := range resp.ChangedAttributes {
					if d, ok := change.Diff[attr]; ok {
						d.ForcesReplacement = true
					}
				}
			}
		} else {
			change.Diff = buildCreateDiff(res.Properties)
		}

		plan.Changes = append(plan.Changes, change)

		switch action {
		case ir.ActionCreate:
			plan.Summary.Create++
		case ir.ActionUpdate:
			plan.Summary.Update++
		case ir.ActionReplace:
			plan.Summary.Replace++
		case ir.ActionDelete:
			plan.Summary.Delete++
		}
	}

	// Resources in state but absent from config are destroyed, dependents
	// before their dependencies.
	stateDag, err := BuildDAGFromState(state)
	if err != nil {
		return nil, fmt.Errorf("failed to build state dependency graph: %w", err)
	}
	for _, addr := range stateDag.DestructionOrder() {
		if configByAddr[addr] != nil {
			continue
		}
		rs := stateMap[addr]
		if rs == nil {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			continue
		}
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: addr,
			Action:  ir.ActionDelete,
			Prior:   priorResource(rs),
			Diff:    buildDeleteDiff(rs.Inputs),
		})
		plan.Summary.Delete++
	}

	return plan, nil
}

// CreateDestroyPlan generates a plan that removes everything tracked in
// state, dependents before their dependencies. The config is consulted only
// for lifecycle rules.
func (e *Engine) CreateDestroyPlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	logging.Debug("creating destroy plan", "state_resources", len(state.Resources))
	plan := &ir.Plan{
		Metadata: planMetadata(cfg, state),
		Changes:  []*ir.ResourceChange{},
		Summary:  &ir.PlanSummary{},
	}

	for _, rs := range state.Resources {
		if err := e.registry.LoadProvider(rs.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", rs.Provider, err)
		}
	}

	protected := make(map[string]bool)
	if cfg != nil {
		for _, res := range ExpandForEach(cfg.Resources) {
			if res.Lifecycle != nil && res.Lifecycle.PreventDestroy {
				protected[res.Addr()] = true
			}
		}
	}

	dag, err := BuildDAGFromState(state)
	if err != nil {
		return nil, fmt.Errorf("failed to build state dependency graph: %w", err)
	}

	for _, addr := range dag.DestructionOrder() {
		rs := state.Resource(addr)
		if rs == nil {
			continue
		}
		if protected[addr] {
			return nil, fmt.Errorf("resource %s has prevent_destroy set but plan requires destruction", addr)
		}
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: addr,
			Action:  ir.ActionDelete,
			Prior:   priorResource(rs),
			Diff:    buildDeleteDiff(rs.Inputs),
		})
		plan.Summary.Delete++
	}

	return plan, nil
}

func planMetadata(cfg *ir.Config, state *ir.State) *ir.PlanMetadata {
	meta := &ir.PlanMetadata{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if cfg != nil {
		if b, err := json.Marshal(cfg); err == nil {
			meta.ConfigHash = hashJSON(b)
		}
	}
	if state != nil && len(state.Resources) > 0 {
		if b, err := json.Marshal(state); err == nil {
			h := hashJSON(b)
			meta.PriorStateHash = &h
		}
	}
	return meta
}

func hashJSON(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// enforceLifecycle checks lifecycle rules and returns an error if violated.
func enforceLifecycle(res *ir.Resource, action ir.Action, addr string) error {
	if res.Lifecycle == nil {
		return nil
	}

	if res.Lifecycle.PreventDestroy && (action == ir.ActionDelete || action == ir.ActionReplace) {
		return fmt.Errorf("resource %s has prevent_destroy set but plan requires destruction", addr)
	}

	return nil
}

// filterIgnoredChanges downgrades an update to a no-op when every changed
// attribute is listed in lifecycle.ignore_changes.
func filterIgnoredChanges(res *ir.Resource, resp *sdk.PlanResponse) ir.Action {
	ignored := ignoredAttrs(res)
	if ignored == nil || len(resp.ChangedAttributes) == 0 {
		return resp.Action
	}
	for _, attr := range resp.ChangedAttributes {
		if !ignored[attr] {
			return resp.Action
		}
	}
	return ir.ActionNoop
}

func ignoredAttrs(res *ir.Resource) map[string]bool {
	if res.Lifecycle == nil || len(res.Lifecycle.IgnoreChanges) == 0 {
		return nil
	}
	set := make(map[string]bool, len(res.Lifecycle.IgnoreChanges))
	for _, attr := range res.Lifecycle.IgnoreChanges {
		set[attr] = true
	}
	return set
}

func priorResource(rs *ir.ResourceState) *ir.Resource {
	return &ir.Resource{
		Type:       rs.Type,
		Name:       rs.Name,
		Module:     rs.Module,
		Provider:   rs.Provider,
		Properties: rs.Inputs,
	}
}

// buildPropertyDiff compares prior and desired properties and returns a diff
// map. Attributes in ignored are left out entirely.
func buildPropertyDiff(prior, desired map[string]any, ignored map[string]bool) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		if ignored[k] {
			continue
		}
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{
				After:  desiredVal,
				Action: ir.ActionCreate,
			}
		case !inDesired:
			diff[k] = &ir.PropertyDiff{
				Before: priorVal,
				Action: ir.ActionDelete,
			}
		case fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal):
			diff[k] = &ir.PropertyDiff{
				Before: priorVal,
				After:  desiredVal,
				Action: ir.ActionUpdate,
			}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			After:  v,
			Action: ir.ActionCreate,
		}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			Before: v,
			Action: ir.ActionDelete,
		}
	}
	return diff
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any, len(val))
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any, len(val))
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}
