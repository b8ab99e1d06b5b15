// Package eval turns a loaded configuration document into fully resolved
// intermediate form: inputs bound, constraints checked, and symbolic
// references replaced with placeholder pointers the engine can resolve
// against live state.
package eval

import (
	"fmt"
	"maps"
	"math/big"
	"path/filepath"
	"slices"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/cairn-io/cairn/internal/config"
	"github.com/cairn-io/cairn/internal/ir"
	"github.com/cairn-io/cairn/internal/logging"
)

// Placeholder returns the pointer string standing in for an attribute of
// the resource at addr until apply resolves it against state.
func Placeholder(addr, attr string) string {
	return "ptr://" + addr + "/" + attr
}

// Options control where input variable values come from. Precedence is
// Overrides, then Env, then FileValues (later files win), then declared
// defaults.
type Options struct {
	// Overrides are explicit per-run values, e.g. from -var flags.
	Overrides map[string]string
	// Env maps variable names to raw values taken from CAIRN_VAR_*
	// environment variables; see EnvironOverrides.
	Env map[string]string
	// FileValues holds parsed var files in load order.
	FileValues []map[string]cty.Value
}

// Resolver owns the resolution pipeline for one document. All
// intermediate state lives on the resolver itself, so resolving two
// documents concurrently never interferes.
type Resolver struct {
	doc  *config.Document
	opts Options

	inputs map[string]cty.Value
	locals map[string]cty.Value
	depsOf map[string][]string

	bound     bool
	validated bool
}

func NewResolver(doc *config.Document, opts Options) *Resolver {
	return &Resolver{doc: doc, opts: opts}
}

// Resolve runs BindInputs, Validate, and ResolveReferences in order.
func (r *Resolver) Resolve() (*ir.Config, error) {
	return r.ResolveReferences()
}

// BindInputs assigns a value to every declared variable. Missing required
// variables are collected and reported together. Values supplied for
// undeclared variables are logged and ignored.
func (r *Resolver) BindInputs() error {
	inputs := make(map[string]cty.Value, len(r.doc.Variables))
	var missing []string
	for _, name := range slices.Sorted(maps.Keys(r.doc.Variables)) {
		v := r.doc.Variables[name]
		val, source, ok := r.lookupInput(v)
		if !ok {
			missing = append(missing, name)
			continue
		}
		logging.Debug("bound input variable", "name", name, "source", source)
		inputs[name] = val
	}

	for _, name := range slices.Sorted(maps.Keys(r.opts.Overrides)) {
		if _, declared := r.doc.Variables[name]; !declared {
			logging.Warn("value supplied for undeclared variable", "name", name, "source", "flag")
		}
	}
	for _, fv := range r.opts.FileValues {
		for _, name := range slices.Sorted(maps.Keys(fv)) {
			if _, declared := r.doc.Variables[name]; !declared {
				logging.Warn("value supplied for undeclared variable", "name", name, "source", "var file")
			}
		}
	}

	if len(missing) > 0 {
		return &MissingRequiredInputError{Names: missing}
	}
	r.inputs = inputs
	r.bound = true
	return nil
}

func (r *Resolver) lookupInput(v *config.Variable) (cty.Value, string, bool) {
	if raw, ok := r.opts.Overrides[v.Name]; ok {
		return parseInputValue(raw, v.Type), "flag", true
	}
	if raw, ok := r.opts.Env[v.Name]; ok {
		return parseInputValue(raw, v.Type), "environment", true
	}
	for i := len(r.opts.FileValues) - 1; i >= 0; i-- {
		if val, ok := r.opts.FileValues[i][v.Name]; ok {
			return val, "var file", true
		}
	}
	if v.HasDefault {
		return v.Default, "default", true
	}
	return cty.NilVal, "", false
}

// Validate converts every bound value to its declared type and runs
// custom validation rules. All violations are collected before returning.
func (r *Resolver) Validate() error {
	if !r.bound {
		if err := r.BindInputs(); err != nil {
			return err
		}
	}

	var violations []Violation
	for _, name := range slices.Sorted(maps.Keys(r.doc.Variables)) {
		v := r.doc.Variables[name]
		conv, err := convert.Convert(r.inputs[name], v.Type)
		if err != nil {
			violations = append(violations, Violation{
				Subject: "var." + name,
				Message: fmt.Sprintf("value is not assignable to %s: %s", v.Type.FriendlyName(), err),
			})
			continue
		}
		r.inputs[name] = conv
	}

	ctx := &hcl.EvalContext{Variables: map[string]cty.Value{"var": cty.ObjectVal(r.inputs)}}
	for _, name := range slices.Sorted(maps.Keys(r.doc.Variables)) {
		for _, rule := range r.doc.Variables[name].Validations {
			violations = append(violations, checkValidationRule(name, rule, ctx)...)
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	r.validated = true
	return nil
}

func checkValidationRule(name string, rule *config.Validation, ctx *hcl.EvalContext) []Violation {
	condVal, diags := rule.Condition.Value(ctx)
	if diags.HasErrors() {
		return []Violation{{
			Subject: "var." + name,
			Message: "validation condition failed to evaluate: " + diags.Error(),
		}}
	}
	condVal, err := convert.Convert(condVal, cty.Bool)
	if err != nil || condVal.IsNull() {
		return []Violation{{
			Subject: "var." + name,
			Message: "validation condition must produce a boolean",
		}}
	}
	if condVal.True() {
		return nil
	}

	msg := "validation condition failed"
	if msgVal, diags := rule.ErrorMessage.Value(ctx); !diags.HasErrors() {
		if s, err := convert.Convert(msgVal, cty.String); err == nil && !s.IsNull() {
			msg = s.AsString()
		}
	}
	return []Violation{{Subject: "var." + name, Message: msg}}
}

// ResolveReferences checks every symbolic reference, rejects dependency
// cycles, and evaluates the document into intermediate form. Property
// values referring to other resources come back as placeholder pointers,
// so resolution needs no particular evaluation order and re-resolving
// yields the same result.
func (r *Resolver) ResolveReferences() (*ir.Config, error) {
	if !r.validated {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}

	rootDir, err := filepath.Abs(r.doc.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving config directory: %w", err)
	}
	resources, outputs, err := r.resolveModule("", []string{rootDir})
	if err != nil {
		return nil, err
	}

	cfg := &ir.Config{Resources: resources, Outputs: map[string]*ir.OutputValue{}}
	for _, name := range slices.Sorted(maps.Keys(r.doc.Outputs)) {
		cfg.Outputs[name] = &ir.OutputValue{
			Value:     ctyToGo(outputs[name]),
			Sensitive: r.doc.Outputs[name].Sensitive,
		}
	}
	logging.Debug("references resolved", "resources", len(cfg.Resources), "outputs", len(cfg.Outputs))
	return cfg, nil
}

// resolveModule resolves one document into resources and output values.
// prefix is the module path ("" at the root); stack holds the directories
// of enclosing calls so self-inclusion is caught.
func (r *Resolver) resolveModule(prefix string, stack []string) ([]*ir.Resource, map[string]cty.Value, error) {
	if err := r.checkReferences(); err != nil {
		return nil, nil, err
	}
	r.depsOf = r.buildResourceDeps()
	if err := r.checkResourceCycles(); err != nil {
		return nil, nil, err
	}

	baseVars := r.placeholderScope(prefix)
	baseVars["var"] = cty.ObjectVal(r.inputs)

	locals, err := r.resolveLocals(baseVars)
	if err != nil {
		return nil, nil, err
	}
	r.locals = locals
	baseVars["local"] = cty.ObjectVal(locals)

	moduleOuts, childResources, err := r.expandModuleCalls(prefix, stack, baseVars)
	if err != nil {
		return nil, nil, err
	}
	if len(moduleOuts) > 0 {
		baseVars["module"] = cty.ObjectVal(moduleOuts)
	}

	resources, violations := r.evalResources(prefix, baseVars)
	outputs, outViolations := r.evalOutputs(baseVars)
	violations = append(violations, outViolations...)
	if len(violations) > 0 {
		return nil, nil, &ValidationError{Violations: violations}
	}

	return append(childResources, resources...), outputs, nil
}

// checkReferences verifies that every traversal in the document points at
// a declared variable, local, module call, or resource. It walks in a
// fixed order so the first reported error is deterministic.
func (r *Resolver) checkReferences() error {
	for _, name := range slices.Sorted(maps.Keys(r.doc.Locals)) {
		if err := r.checkExpr("local."+name, r.doc.Locals[name].Expr, refScope{}); err != nil {
			return err
		}
	}
	for _, res := range r.doc.Resources {
		referrer := res.Addr()
		iterated := res.Count != nil || res.ForEach != nil
		for _, expr := range []hcl.Expression{res.Count, res.ForEach, res.Timeout} {
			if expr == nil {
				continue
			}
			if err := r.checkExpr(referrer, expr, refScope{modules: true}); err != nil {
				return err
			}
		}
		for _, name := range slices.Sorted(maps.Keys(res.Attrs)) {
			if err := r.checkExpr(referrer, res.Attrs[name].Expr, refScope{modules: true, iteration: iterated}); err != nil {
				return err
			}
		}
		for _, tr := range res.DependsOn {
			if err := r.checkTraversal(referrer, tr, refScope{modules: true}); err != nil {
				return err
			}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.doc.ModuleCalls)) {
		call := r.doc.ModuleCalls[name]
		for _, attrName := range slices.Sorted(maps.Keys(call.Inputs)) {
			if err := r.checkExpr("module."+name, call.Inputs[attrName].Expr, refScope{}); err != nil {
				return err
			}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.doc.Outputs)) {
		if err := r.checkExpr("output."+name, r.doc.Outputs[name].Value, refScope{modules: true}); err != nil {
			return err
		}
	}
	return nil
}

// refScope describes which reference roots are legal at a given position.
type refScope struct {
	// modules allows module.<name> references. Locals and module inputs
	// evaluate before module outputs exist, so they must not use them.
	modules bool
	// iteration allows count.index and each.* references.
	iteration bool
}

func (r *Resolver) checkExpr(referrer string, expr hcl.Expression, scope refScope) error {
	for _, tr := range expr.Variables() {
		if err := r.checkTraversal(referrer, tr, scope); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) checkTraversal(referrer string, tr hcl.Traversal, scope refScope) error {
	unresolved := func(target string) error {
		return &UnresolvedReferenceError{Referrer: referrer, Target: target, Subject: tr.SourceRange()}
	}

	switch root := tr.RootName(); root {
	case "var":
		name, ok := traversalAttr(tr, 1)
		if !ok {
			return unresolved(traversalString(tr))
		}
		if _, declared := r.doc.Variables[name]; !declared {
			return unresolved("var." + name)
		}
	case "local":
		name, ok := traversalAttr(tr, 1)
		if !ok {
			return unresolved(traversalString(tr))
		}
		if _, declared := r.doc.Locals[name]; !declared {
			return unresolved("local." + name)
		}
	case "module":
		name, ok := traversalAttr(tr, 1)
		if !ok {
			return unresolved(traversalString(tr))
		}
		if _, declared := r.doc.ModuleCalls[name]; !declared {
			return unresolved("module." + name)
		}
		if !scope.modules {
			return &ValidationError{Violations: []Violation{{
				Subject: referrer,
				Message: fmt.Sprintf("module outputs such as %q cannot be used here", traversalString(tr)),
			}}}
		}
	case "count", "each":
		if !scope.iteration {
			return unresolved(traversalString(tr))
		}
	default:
		name, ok := traversalAttr(tr, 1)
		if !ok {
			return unresolved(root)
		}
		addr := root + "." + name
		if _, declared := r.doc.ByAddress[addr]; !declared {
			return unresolved(addr)
		}
	}
	return nil
}

// buildResourceDeps computes each resource's direct dependencies, seen as
// local addresses. References reached through locals are folded in so
// cycle detection sees them.
func (r *Resolver) buildResourceDeps() map[string][]string {
	localDeps := r.localResourceDeps()

	out := make(map[string][]string, len(r.doc.Resources))
	for _, res := range r.doc.Resources {
		set := map[string]struct{}{}
		add := func(tr hcl.Traversal) {
			switch root := tr.RootName(); root {
			case "var", "module", "count", "each":
			case "local":
				if name, ok := traversalAttr(tr, 1); ok {
					for _, addr := range localDeps[name] {
						set[addr] = struct{}{}
					}
				}
			default:
				if name, ok := traversalAttr(tr, 1); ok {
					addr := root + "." + name
					if _, declared := r.doc.ByAddress[addr]; declared {
						set[addr] = struct{}{}
					}
				}
			}
		}
		for _, tr := range res.DependsOn {
			add(tr)
		}
		for _, expr := range resourceExprs(res) {
			for _, tr := range expr.Variables() {
				add(tr)
			}
		}
		out[res.Addr()] = slices.Sorted(maps.Keys(set))
	}
	return out
}

// localResourceDeps maps each local to the resource addresses reachable
// through it, following local-to-local references.
func (r *Resolver) localResourceDeps() map[string][]string {
	memo := map[string][]string{}
	var walk func(name string, seen map[string]bool) []string
	walk = func(name string, seen map[string]bool) []string {
		if got, ok := memo[name]; ok {
			return got
		}
		if seen[name] {
			return nil // local cycle, reported by resolveLocals
		}
		seen[name] = true
		l, declared := r.doc.Locals[name]
		if !declared {
			return nil
		}

		set := map[string]struct{}{}
		for _, tr := range l.Expr.Variables() {
			switch root := tr.RootName(); root {
			case "var", "module", "count", "each":
			case "local":
				if dep, ok := traversalAttr(tr, 1); ok {
					for _, addr := range walk(dep, seen) {
						set[addr] = struct{}{}
					}
				}
			default:
				if resName, ok := traversalAttr(tr, 1); ok {
					addr := root + "." + resName
					if _, ok := r.doc.ByAddress[addr]; ok {
						set[addr] = struct{}{}
					}
				}
			}
		}
		out := slices.Sorted(maps.Keys(set))
		memo[name] = out
		return out
	}
	for _, name := range slices.Sorted(maps.Keys(r.doc.Locals)) {
		walk(name, map[string]bool{})
	}
	return memo
}

const (
	colorWhite = iota
	colorGrey
	colorBlack
)

// checkResourceCycles runs a three-color depth-first walk over the
// dependency graph. A grey node seen again closes a cycle.
func (r *Resolver) checkResourceCycles() error {
	color := map[string]int{}
	var path []string
	var found []string

	var visit func(addr string) bool
	visit = func(addr string) bool {
		color[addr] = colorGrey
		path = append(path, addr)
		for _, dep := range r.depsOf[addr] {
			switch color[dep] {
			case colorGrey:
				found = cyclePath(path, dep)
				return true
			case colorWhite:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[addr] = colorBlack
		return false
	}

	for _, res := range r.doc.Resources {
		if color[res.Addr()] == colorWhite && visit(res.Addr()) {
			return &CyclicDependencyError{Path: found}
		}
	}
	return nil
}

// cyclePath slices the visit path from the first occurrence of start and
// closes the loop.
func cyclePath(path []string, start string) []string {
	for i, n := range path {
		if n == start {
			out := make([]string, 0, len(path)-i+1)
			out = append(out, path[i:]...)
			return append(out, start)
		}
	}
	return []string{start, start}
}

// placeholderScope builds eval-context roots exposing every declared
// resource as an object of placeholder strings. Only attributes actually
// referenced somewhere appear, which keeps the objects concrete.
func (r *Resolver) placeholderScope(prefix string) map[string]cty.Value {
	attrsByAddr := map[string]map[string]struct{}{}
	record := func(tr hcl.Traversal) {
		switch root := tr.RootName(); root {
		case "var", "local", "module", "count", "each":
		default:
			name, ok := traversalAttr(tr, 1)
			if !ok {
				return
			}
			addr := root + "." + name
			if _, declared := r.doc.ByAddress[addr]; !declared {
				return
			}
			if attrsByAddr[addr] == nil {
				attrsByAddr[addr] = map[string]struct{}{}
			}
			if attrName, ok := traversalAttr(tr, 2); ok {
				attrsByAddr[addr][attrName] = struct{}{}
			}
		}
	}

	for _, name := range slices.Sorted(maps.Keys(r.doc.Locals)) {
		for _, tr := range r.doc.Locals[name].Expr.Variables() {
			record(tr)
		}
	}
	for _, res := range r.doc.Resources {
		for _, expr := range resourceExprs(res) {
			for _, tr := range expr.Variables() {
				record(tr)
			}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.doc.ModuleCalls)) {
		for _, attrName := range slices.Sorted(maps.Keys(r.doc.ModuleCalls[name].Inputs)) {
			for _, tr := range r.doc.ModuleCalls[name].Inputs[attrName].Expr.Variables() {
				record(tr)
			}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.doc.Outputs)) {
		for _, tr := range r.doc.Outputs[name].Value.Variables() {
			record(tr)
		}
	}

	byType := map[string]map[string]cty.Value{}
	for addr, attrs := range attrsByAddr {
		typ, name, _ := splitAddr(addr)
		obj := make(map[string]cty.Value, len(attrs))
		for attr := range attrs {
			obj[attr] = cty.StringVal(Placeholder(prefixAddr(prefix, addr), attr))
		}
		if byType[typ] == nil {
			byType[typ] = map[string]cty.Value{}
		}
		byType[typ][name] = cty.ObjectVal(obj)
	}

	vars := make(map[string]cty.Value, len(byType))
	for typ, names := range byType {
		vars[typ] = cty.ObjectVal(names)
	}
	return vars
}

func splitAddr(addr string) (typ, name string, ok bool) {
	for i := 0; i < len(addr); i++ {
		if addr[i] == '.' {
			return addr[:i], addr[i+1:], true
		}
	}
	return addr, "", false
}

func prefixAddr(prefix, addr string) string {
	if prefix == "" {
		return addr
	}
	return "module." + prefix + "." + addr
}

func resourceExprs(res *config.Resource) []hcl.Expression {
	var exprs []hcl.Expression
	for _, expr := range []hcl.Expression{res.Count, res.ForEach, res.Timeout} {
		if expr != nil {
			exprs = append(exprs, expr)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(res.Attrs)) {
		exprs = append(exprs, res.Attrs[name].Expr)
	}
	return exprs
}

// resolveLocals evaluates locals in dependency order with the same
// three-color walk used for resources, so loops among locals are caught.
func (r *Resolver) resolveLocals(baseVars map[string]cty.Value) (map[string]cty.Value, error) {
	deps := map[string][]string{}
	for _, name := range slices.Sorted(maps.Keys(r.doc.Locals)) {
		set := map[string]struct{}{}
		for _, tr := range r.doc.Locals[name].Expr.Variables() {
			if tr.RootName() != "local" {
				continue
			}
			if dep, ok := traversalAttr(tr, 1); ok {
				if _, declared := r.doc.Locals[dep]; declared {
					set[dep] = struct{}{}
				}
			}
		}
		deps[name] = slices.Sorted(maps.Keys(set))
	}

	vals := map[string]cty.Value{}
	color := map[string]int{}
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = colorGrey
		path = append(path, name)
		for _, dep := range deps[name] {
			switch color[dep] {
			case colorGrey:
				cycle := cyclePath(path, dep)
				for i := range cycle {
					cycle[i] = "local." + cycle[i]
				}
				return &CyclicDependencyError{Path: cycle}
			case colorWhite:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]

		vars := maps.Clone(baseVars)
		vars["local"] = cty.ObjectVal(vals)
		v, diags := r.doc.Locals[name].Expr.Value(&hcl.EvalContext{Variables: vars})
		if diags.HasErrors() {
			return &ValidationError{Violations: []Violation{{
				Subject: "local." + name,
				Message: diags.Error(),
			}}}
		}
		vals[name] = v
		color[name] = colorBlack
		return nil
	}

	for _, name := range slices.Sorted(maps.Keys(r.doc.Locals)) {
		if color[name] == colorWhite {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}
	return vals, nil
}

// expandModuleCalls loads and resolves each child module. Child inputs
// are the call's attributes evaluated in the caller's scope; outputs come
// back as an object usable under module.<name>.
func (r *Resolver) expandModuleCalls(prefix string, stack []string, baseVars map[string]cty.Value) (map[string]cty.Value, []*ir.Resource, error) {
	if len(r.doc.ModuleCalls) == 0 {
		return nil, nil, nil
	}

	moduleOuts := map[string]cty.Value{}
	var resources []*ir.Resource
	ctx := &hcl.EvalContext{Variables: baseVars}

	for _, name := range slices.Sorted(maps.Keys(r.doc.ModuleCalls)) {
		call := r.doc.ModuleCalls[name]
		srcDir, err := filepath.Abs(filepath.Join(r.doc.Dir, call.Source))
		if err != nil {
			return nil, nil, fmt.Errorf("module %q: resolving source %q: %w", name, call.Source, err)
		}
		if slices.Contains(stack, srcDir) {
			return nil, nil, config.NewParseError(
				"Module include cycle",
				fmt.Sprintf("Module %q at %s is already being loaded by an enclosing call.", name, call.Source),
				call.DeclRange.Ptr(),
			)
		}

		vals := make(map[string]cty.Value, len(call.Inputs))
		var violations []Violation
		for _, attrName := range slices.Sorted(maps.Keys(call.Inputs)) {
			v, diags := call.Inputs[attrName].Expr.Value(ctx)
			if diags.HasErrors() {
				violations = append(violations, Violation{
					Subject: "module." + name,
					Message: fmt.Sprintf("input %q: %s", attrName, diags.Error()),
				})
				continue
			}
			vals[attrName] = v
		}
		if len(violations) > 0 {
			return nil, nil, &ValidationError{Violations: violations}
		}

		childDoc, err := config.Load(srcDir)
		if err != nil {
			return nil, nil, fmt.Errorf("loading module %q from %s: %w", name, call.Source, err)
		}

		child := NewResolver(childDoc, Options{FileValues: []map[string]cty.Value{vals}})
		if err := child.Validate(); err != nil {
			return nil, nil, fmt.Errorf("module %q: %w", name, err)
		}

		childPrefix := name
		if prefix != "" {
			childPrefix = prefix + "." + name
		}
		childResources, childOuts, err := child.resolveModule(childPrefix, append(stack, srcDir))
		if err != nil {
			return nil, nil, fmt.Errorf("module %q: %w", name, err)
		}
		logging.Debug("module expanded", "name", childPrefix, "resources", len(childResources))

		resources = append(resources, childResources...)
		if len(childOuts) == 0 {
			moduleOuts[name] = cty.EmptyObjectVal
		} else {
			moduleOuts[name] = cty.ObjectVal(childOuts)
		}
	}
	return moduleOuts, resources, nil
}

// evalResources evaluates every resource body. Expression failures are
// collected per attribute rather than stopping at the first.
func (r *Resolver) evalResources(prefix string, baseVars map[string]cty.Value) ([]*ir.Resource, []Violation) {
	var violations []Violation
	out := make([]*ir.Resource, 0, len(r.doc.Resources))

	for _, res := range r.doc.Resources {
		built, vs := r.evalResource(prefix, res, baseVars)
		violations = append(violations, vs...)
		if built != nil {
			out = append(out, built)
		}
	}
	slices.SortFunc(out, func(a, b *ir.Resource) int {
		if a.Addr() < b.Addr() {
			return -1
		}
		return 1
	})
	return out, violations
}

func (r *Resolver) evalResource(prefix string, res *config.Resource, baseVars map[string]cty.Value) (*ir.Resource, []Violation) {
	addr := res.Addr()
	var violations []Violation
	fail := func(format string, args ...any) {
		violations = append(violations, Violation{Subject: addr, Message: fmt.Sprintf(format, args...)})
	}

	metaCtx := &hcl.EvalContext{Variables: baseVars}

	count := 0
	if res.Count != nil {
		v, diags := res.Count.Value(metaCtx)
		if diags.HasErrors() {
			fail("count: %s", diags.Error())
		} else if n, ok := wholeNumber(v); !ok || n < 0 {
			fail("count must be a non-negative whole number")
		} else {
			count = n
		}
	}

	var forEach map[string]any
	if res.ForEach != nil {
		v, diags := res.ForEach.Value(metaCtx)
		switch {
		case diags.HasErrors():
			fail("for_each: %s", diags.Error())
		case v.IsNull() || (!v.Type().IsMapType() && !v.Type().IsObjectType()):
			fail("for_each requires a map value")
		default:
			forEach = map[string]any{}
			for it := v.ElementIterator(); it.Next(); {
				k, ev := it.Element()
				ks, err := convert.Convert(k, cty.String)
				if err != nil || ks.IsNull() {
					fail("for_each keys must be strings")
					continue
				}
				forEach[ks.AsString()] = ctyToGo(ev)
			}
		}
	}

	timeout := ""
	if res.Timeout != nil {
		v, diags := res.Timeout.Value(metaCtx)
		if diags.HasErrors() {
			fail("timeout: %s", diags.Error())
		} else if s, err := convert.Convert(v, cty.String); err != nil || s.IsNull() {
			fail("timeout must be a duration string")
		} else if _, err := time.ParseDuration(s.AsString()); err != nil {
			fail("timeout %q is not a valid duration", s.AsString())
		} else {
			timeout = s.AsString()
		}
	}

	attrVars := baseVars
	if res.Count != nil || res.ForEach != nil {
		attrVars = maps.Clone(baseVars)
		if res.Count != nil {
			attrVars["count"] = cty.ObjectVal(map[string]cty.Value{
				"index": cty.StringVal("${count.index}"),
			})
		}
		if res.ForEach != nil {
			attrVars["each"] = cty.ObjectVal(map[string]cty.Value{
				"key":   cty.StringVal("${each.key}"),
				"value": cty.StringVal("${each.value}"),
			})
		}
	}
	attrCtx := &hcl.EvalContext{Variables: attrVars}

	props := make(map[string]any, len(res.Attrs))
	for _, name := range slices.Sorted(maps.Keys(res.Attrs)) {
		v, diags := res.Attrs[name].Expr.Value(attrCtx)
		if diags.HasErrors() {
			fail("attribute %q: %s", name, diags.Error())
			continue
		}
		props[name] = ctyToGo(v)
	}

	if len(violations) > 0 {
		return nil, violations
	}
	if res.Count != nil && count == 0 {
		// count = 0 declares zero instances
		return nil, nil
	}

	deps := make([]string, 0, len(r.depsOf[addr]))
	for _, d := range r.depsOf[addr] {
		deps = append(deps, prefixAddr(prefix, d))
	}

	return &ir.Resource{
		Type:       res.Type,
		Name:       res.Name,
		Module:     prefix,
		Provider:   res.Provider,
		Count:      count,
		ForEach:    forEach,
		Lifecycle:  convertLifecycle(res.Lifecycle),
		DependsOn:  deps,
		Timeout:    timeout,
		Properties: props,
	}, nil
}

func (r *Resolver) evalOutputs(baseVars map[string]cty.Value) (map[string]cty.Value, []Violation) {
	ctx := &hcl.EvalContext{Variables: baseVars}
	outputs := make(map[string]cty.Value, len(r.doc.Outputs))
	var violations []Violation
	for _, name := range slices.Sorted(maps.Keys(r.doc.Outputs)) {
		v, diags := r.doc.Outputs[name].Value.Value(ctx)
		if diags.HasErrors() {
			violations = append(violations, Violation{
				Subject: "output." + name,
				Message: diags.Error(),
			})
			continue
		}
		outputs[name] = v
	}
	return outputs, violations
}

func convertLifecycle(lc *config.Lifecycle) *ir.Lifecycle {
	if lc == nil {
		return nil
	}
	return &ir.Lifecycle{
		CreateBeforeDestroy: lc.CreateBeforeDestroy,
		PreventDestroy:      lc.PreventDestroy,
		IgnoreChanges:       lc.IgnoreChanges,
	}
}

func wholeNumber(v cty.Value) (int, bool) {
	num, err := convert.Convert(v, cty.Number)
	if err != nil || num.IsNull() {
		return 0, false
	}
	i, acc := num.AsBigFloat().Int64()
	if acc != big.Exact {
		return 0, false
	}
	return int(i), true
}
