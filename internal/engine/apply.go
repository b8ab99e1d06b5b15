package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cairn-io/cairn/internal/ir"
	"github.com/cairn-io/cairn/internal/logging"
	sdk "github.com/cairn-io/cairn/pkg/provider"
)

const defaultParallelism = 10

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   ir.Action
	Status   string // "started", "completed", "failed"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// ApplyPlan executes a plan and updates the state.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// ApplyPlanWithCallback executes a plan with progress event callbacks.
// Writes run first in dependency order, then deletes in reverse dependency
// order; independent changes within each phase run in parallel. If
// e.ContinueOnError is true, apply continues past individual resource
// failures and returns an aggregated error at the end.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ir.State, error) {
	var mu sync.Mutex
	var errs []error

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	stateIndex := make(map[string]int)
	for i, rs := range state.Resources {
		stateIndex[rs.Addr()] = i
	}

	var writes, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == ir.ActionDelete {
			deletes = append(deletes, change)
		} else {
			writes = append(writes, change)
		}
	}

	deleteOrder := deleteDeps(deletes, state)

	if err := e.applyChanges(ctx, writes, writeDeps(writes), state, &stateIndex, &mu, emit); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 || e.ContinueOnError {
		if err := e.applyChanges(ctx, deletes, deleteOrder, state, &stateIndex, &mu, emit); err != nil {
			errs = append(errs, err)
		}
	}

	// The serial advances even on partial failure: completed changes have
	// already mutated the state.
	state.Serial++

	if len(errs) > 0 {
		return state, errors.Join(errs...)
	}

	state.Outputs = resolveOutputs(plan.Outputs, state)

	return state, nil
}

// applyChanges applies one phase of the plan. A single change runs inline;
// larger batches run through the parallel scheduler.
func (e *Engine) applyChanges(ctx context.Context, changes []*ir.ResourceChange, deps map[string]map[string]bool, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, emit func(ApplyEvent)) error {
	if len(changes) > 1 {
		return e.applyParallel(ctx, changes, deps, state, stateIndex, mu, emit)
	}

	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("apply cancelled: %w", err)
		}
		start := time.Now()
		emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "started"})
		if err := e.applyChange(ctx, change, state, stateIndex, mu); err != nil {
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "failed", Duration: time.Since(start), Error: err})
			return err
		}
		emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "completed", Duration: time.Since(start)})
	}
	return nil
}

// writeDeps maps each write change to the other changes in the batch it
// must wait for, from depends_on and reference placeholders.
func writeDeps(changes []*ir.ResourceChange) map[string]map[string]bool {
	changeSet := make(map[string]bool, len(changes))
	for _, c := range changes {
		changeSet[c.Address] = true
	}

	deps := make(map[string]map[string]bool, len(changes))
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
		if c.Desired == nil {
			continue
		}
		for _, d := range c.Desired.DependsOn {
			for _, t := range depTargets(d, changeSet) {
				if t != c.Address {
					deps[c.Address][t] = true
				}
			}
		}
		for _, ref := range extractPtrRefs(c.Desired.Properties) {
			if depAddr, ok := ptrRefToAddr(ref); ok {
				for _, t := range depTargets(depAddr, changeSet) {
					if t != c.Address {
						deps[c.Address][t] = true
					}
				}
			}
		}
	}
	return deps
}

// deleteDeps inverts the recorded state dependencies: a resource is deleted
// only after everything that depended on it is gone.
func deleteDeps(changes []*ir.ResourceChange, state *ir.State) map[string]map[string]bool {
	changeSet := make(map[string]bool, len(changes))
	for _, c := range changes {
		changeSet[c.Address] = true
	}

	deps := make(map[string]map[string]bool, len(changes))
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
	}

	for _, rs := range state.Resources {
		addr := rs.Addr()
		if !changeSet[addr] {
			continue
		}
		for _, d := range stateResourceDeps(rs) {
			for _, t := range depTargets(d, changeSet) {
				if t != addr {
					deps[t][addr] = true
				}
			}
		}
	}
	return deps
}

// depTargets resolves a declared dependency to change addresses. A dep
// written without an index also matches expanded instances.
func depTargets(dep string, addrs map[string]bool) []string {
	if addrs[dep] {
		return []string{dep}
	}
	var targets []string
	prefix := dep + "["
	for addr := range addrs {
		if strings.HasPrefix(addr, prefix) {
			targets = append(targets, addr)
		}
	}
	return targets
}

func stateResourceDeps(rs *ir.ResourceState) []string {
	deps := slices.Clone(rs.Dependencies)
	for _, ref := range extractPtrRefs(rs.Inputs) {
		if addr, ok := ptrRefToAddr(ref); ok {
			deps = append(deps, addr)
		}
	}
	return deps
}

// applyParallel applies changes concurrently, respecting the dependency
// edges computed for the batch.
func (e *Engine) applyParallel(ctx context.Context, changes []*ir.ResourceChange, deps map[string]map[string]bool, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, emit func(ApplyEvent)) error {
	completed := make(map[string]bool)
	failed := make(map[string]bool)
	completedMu := sync.Mutex{}
	completedCond := sync.NewCond(&completedMu)
	var firstErr error
	var allErrs []error
	sem := make(chan struct{}, defaultParallelism)

	var wg sync.WaitGroup

	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			// Wait for dependencies to complete
			completedMu.Lock()
			for {
				if firstErr != nil && !e.ContinueOnError {
					completedMu.Unlock()
					return
				}
				allDepsReady := true
				depFailed := false
				for dep := range deps[c.Address] {
					if failed[dep] {
						depFailed = true
						break
					}
					if !completed[dep] {
						allDepsReady = false
						break
					}
				}
				// If a dependency failed, skip this resource
				if depFailed {
					failed[c.Address] = true
					allErrs = append(allErrs, fmt.Errorf("skipped %s: dependency failed", c.Address))
					completedMu.Unlock()
					completedCond.Broadcast()
					return
				}
				if allDepsReady {
					break
				}
				completedCond.Wait()
			}
			completedMu.Unlock()

			if err := ctx.Err(); err != nil {
				completedMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("apply cancelled: %w", err)
				}
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			if err := e.applyChange(ctx, c, state, stateIndex, mu); err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
				completedMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				allErrs = append(allErrs, err)
				failed[c.Address] = true
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: time.Since(start)})

			completedMu.Lock()
			completed[c.Address] = true
			completedMu.Unlock()
			completedCond.Broadcast()
		}(change)
	}

	wg.Wait()

	if e.ContinueOnError && len(allErrs) > 0 {
		return fmt.Errorf("%d resource(s) failed: %w", len(allErrs), errors.Join(allErrs...))
	}
	if firstErr != nil {
		return firstErr
	}
	return nil
}

func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	var timeout time.Duration
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil {
			timeout = d
		}
	}
	ctx, cancel := WithTimeout(ctx, timeout)
	defer cancel()

	var desiredJSON []byte
	var priorJSON []byte
	var name, typ string

	if change.Desired != nil {
		name = change.Desired.Name
		typ = change.Desired.Type
		props := normalizeValue(change.Desired.Properties)
		mu.Lock()
		resolvedProps, err := resolveReferences(props, state)
		mu.Unlock()
		if err != nil {
			return fmt.Errorf("resolving references for %s: %w", addr, err)
		}
		desiredJSON, _ = json.Marshal(resolvedProps)
	} else if change.Prior != nil {
		name = change.Prior.Name
		typ = change.Prior.Type
	}

	mu.Lock()
	if idx, ok := (*stateIndex)[addr]; ok {
		priorState := state.Resources[idx]
		if priorState.Outputs != nil {
			priorJSON, _ = json.Marshal(priorState.Outputs)
		}
	}
	mu.Unlock()

	provName := "null"
	if change.Desired != nil {
		provName = change.Desired.Provider
	} else if change.Prior != nil {
		provName = change.Prior.Provider
	}

	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not found: %s", provName)
	}

	retryPolicy := DefaultRetryPolicy()

	switch change.Action {
	case ir.ActionCreate, ir.ActionUpdate, ir.ActionReplace:
		var resp *sdk.ApplyResponse
		err := RetryWithBackoff(ctx, retryPolicy, func() error {
			var applyErr error
			resp, applyErr = prov.Apply(ctx, &sdk.ApplyRequest{
				Type:              typ,
				Name:              name,
				DesiredConfigJSON: desiredJSON,
				PriorStateJSON:    priorJSON,
			})
			return applyErr
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("apply failed for %s: %w", addr, err)
		}

		var outputs map[string]any
		if len(resp.NewStateJSON) > 0 {
			if err := json.Unmarshal(resp.NewStateJSON, &outputs); err != nil {
				return fmt.Errorf("failed to unmarshal state for %s: %w", addr, err)
			}
		}

		inputsJSON, err := json.Marshal(normalizeValue(change.Desired.Properties))
		if err != nil {
			return fmt.Errorf("failed to marshal inputs for %s: %w", addr, err)
		}

		newResState := &ir.ResourceState{
			Type:         typ,
			Name:         name,
			Module:       change.Desired.Module,
			Provider:     provName,
			Inputs:       change.Desired.Properties,
			InputsHash:   hashJSON(inputsJSON),
			Outputs:      outputs,
			Dependencies: slices.Clone(change.Desired.DependsOn),
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources[idx] = newResState
		} else {
			(*stateIndex)[addr] = len(state.Resources)
			state.Resources = append(state.Resources, newResState)
		}
		mu.Unlock()

	case ir.ActionDelete:
		var resourceID string
		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			if id, exists := state.Resources[idx].Outputs["id"]; exists {
				resourceID = fmt.Sprintf("%v", id)
			}
		}
		mu.Unlock()

		err := RetryWithBackoff(ctx, retryPolicy, func() error {
			_, deleteErr := prov.Delete(ctx, &sdk.DeleteRequest{
				Type:             typ,
				Name:             name,
				ID:               resourceID,
				CurrentStateJSON: priorJSON,
			})
			return deleteErr
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("delete failed for %s: %w", addr, err)
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources = append(state.Resources[:idx], state.Resources[idx+1:]...)
			// Rebuild index after removal
			*stateIndex = make(map[string]int)
			for i, rs := range state.Resources {
				(*stateIndex)[rs.Addr()] = i
			}
		}
		mu.Unlock()
	}

	return nil
}

// resolveReferences substitutes reference placeholders with live values from
// state, preferring provider outputs over recorded inputs. A placeholder
// naming a resource or attribute missing from state is an error; the literal
// must not reach a provider.
func resolveReferences(val any, state *ir.State) (any, error) {
	switch v := val.(type) {
	case string:
		addr, attr, ok := ptrRefParts(v)
		if !ok {
			return v, nil
		}
		rs := state.Resource(addr)
		if rs == nil {
			return nil, fmt.Errorf("no state recorded for %s", addr)
		}
		if out, ok := rs.Outputs[attr]; ok {
			return out, nil
		}
		if in, ok := rs.Inputs[attr]; ok {
			return in, nil
		}
		return nil, fmt.Errorf("output %q not recorded for %s", attr, addr)
	case map[string]any:
		newMap := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := resolveReferences(item, state)
			if err != nil {
				return nil, err
			}
			newMap[k] = resolved
		}
		return newMap, nil
	case []any:
		newSlice := make([]any, len(v))
		for i, item := range v {
			resolved, err := resolveReferences(item, state)
			if err != nil {
				return nil, err
			}
			newSlice[i] = resolved
		}
		return newSlice, nil
	default:
		return val, nil
	}
}

// resolveOutputs evaluates output values against the post-apply state. An
// output that cannot be resolved keeps its placeholder value; a targeted
// apply can leave referenced resources uncreated.
func resolveOutputs(outputs map[string]*ir.OutputValue, state *ir.State) map[string]*ir.OutputValue {
	if outputs == nil {
		return nil
	}
	resolved := make(map[string]*ir.OutputValue, len(outputs))
	for name, out := range outputs {
		val, err := resolveReferences(out.Value, state)
		if err != nil {
			val = out.Value
		}
		resolved[name] = &ir.OutputValue{
			Value:     val,
			Sensitive: out.Sensitive,
		}
	}
	return resolved
}
