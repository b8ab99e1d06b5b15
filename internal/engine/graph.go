package engine

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/cairn-io/cairn/internal/ir"
)

const ptrPrefix = "ptr://"

// DAG is the dependency graph over resource addresses. Creation order is
// a topological sort computed once at build time; ties break
// alphabetically so the same graph always yields the same order.
type DAG struct {
	nodes map[string]*dagNode
	order []string
}

type dagNode struct {
	addr     string
	edges    map[string]struct{} // addresses this node depends on
	revEdges map[string]struct{} // addresses depending on this node
}

// BuildDAG constructs the graph from resolved resources. Edges come from
// explicit depends_on entries and from placeholder pointers embedded in
// property values.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	d := &DAG{nodes: make(map[string]*dagNode, len(resources))}
	for _, res := range resources {
		addr := res.Addr()
		if _, exists := d.nodes[addr]; exists {
			return nil, fmt.Errorf("duplicate resource address: %s", addr)
		}
		d.nodes[addr] = newDagNode(addr)
	}

	for _, res := range resources {
		node := d.nodes[res.Addr()]
		for _, dep := range res.DependsOn {
			d.connect(node, dep)
		}
		for _, ref := range extractPtrRefs(res.Properties) {
			if addr, ok := ptrRefToAddr(ref); ok {
				d.connect(node, addr)
			}
		}
	}

	return d.finish()
}

// BuildDAGFromState constructs the graph from prior state, using the
// recorded dependencies plus pointers still present in stored inputs.
func BuildDAGFromState(state *ir.State) (*DAG, error) {
	d := &DAG{nodes: make(map[string]*dagNode, len(state.Resources))}
	for _, rs := range state.Resources {
		addr := rs.Addr()
		if _, exists := d.nodes[addr]; exists {
			return nil, fmt.Errorf("duplicate resource address in state: %s", addr)
		}
		d.nodes[addr] = newDagNode(addr)
	}

	for _, rs := range state.Resources {
		node := d.nodes[rs.Addr()]
		for _, dep := range rs.Dependencies {
			d.connect(node, dep)
		}
		for _, ref := range extractPtrRefs(rs.Inputs) {
			if addr, ok := ptrRefToAddr(ref); ok {
				d.connect(node, addr)
			}
		}
	}

	return d.finish()
}

func newDagNode(addr string) *dagNode {
	return &dagNode{addr: addr, edges: map[string]struct{}{}, revEdges: map[string]struct{}{}}
}

// connect adds an edge from node to dep. A dep written without an index
// also matches expanded instances, so "subnet.private" reaches
// "subnet.private[0]" and friends. Unknown deps are skipped; the resolver
// has already rejected truly dangling references.
func (d *DAG) connect(node *dagNode, dep string) {
	if dep == node.addr {
		return
	}
	if _, ok := d.nodes[dep]; ok {
		node.edges[dep] = struct{}{}
		return
	}
	prefix := dep + "["
	for addr := range d.nodes {
		if addr != node.addr && strings.HasPrefix(addr, prefix) {
			node.edges[addr] = struct{}{}
		}
	}
}

func (d *DAG) finish() (*DAG, error) {
	for _, node := range d.nodes {
		for dep := range node.edges {
			d.nodes[dep].revEdges[node.addr] = struct{}{}
		}
	}
	order, err := d.topoSort()
	if err != nil {
		return nil, err
	}
	d.order = order
	return d, nil
}

// topoSort is Kahn's algorithm with an alphabetically ordered frontier.
func (d *DAG) topoSort() ([]string, error) {
	indegree := make(map[string]int, len(d.nodes))
	for addr, node := range d.nodes {
		indegree[addr] = len(node.edges)
	}

	var queue []string
	for addr, deg := range indegree {
		if deg == 0 {
			queue = append(queue, addr)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(d.nodes))
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		order = append(order, addr)

		var ready []string
		for dependent := range d.nodes[addr].revEdges {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(order) != len(d.nodes) {
		return nil, fmt.Errorf("dependency cycle detected in resource graph")
	}
	return order, nil
}

// CreationOrder returns addresses with dependencies before dependents.
func (d *DAG) CreationOrder() []string {
	return slices.Clone(d.order)
}

// DestructionOrder returns addresses with dependents before dependencies.
func (d *DAG) DestructionOrder() []string {
	out := slices.Clone(d.order)
	slices.Reverse(out)
	return out
}

// Dependencies returns the direct dependencies of addr, sorted.
func (d *DAG) Dependencies(addr string) []string {
	node, ok := d.nodes[addr]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(node.edges))
}

// TransitiveDeps returns every address reachable from addr through
// dependency edges, sorted.
func (d *DAG) TransitiveDeps(addr string) []string {
	seen := map[string]struct{}{}
	var walk func(a string)
	walk = func(a string) {
		node, ok := d.nodes[a]
		if !ok {
			return
		}
		for dep := range node.edges {
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			walk(dep)
		}
	}
	walk(addr)
	return slices.Sorted(maps.Keys(seen))
}

// extractPtrRefs walks a property tree collecting placeholder pointers.
func extractPtrRefs(v any) []string {
	var refs []string
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			if strings.HasPrefix(val, ptrPrefix) {
				refs = append(refs, val)
			}
		case map[string]any:
			for _, item := range val {
				walk(item)
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(v)
	return refs
}

// ptrRefParts splits a placeholder pointer into resource address and
// attribute, e.g. "ptr://module.net.vpc.main/id" yields
// ("module.net.vpc.main", "id").
func ptrRefParts(ref string) (addr, attr string, ok bool) {
	rest, found := strings.CutPrefix(ref, ptrPrefix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, "/")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func ptrRefToAddr(ref string) (string, bool) {
	addr, _, ok := ptrRefParts(ref)
	return addr, ok
}
