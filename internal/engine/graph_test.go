package engine

import (
	"testing"

	"github.com/cairn-io/cairn/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDAG_NoDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null"},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	assert.Len(t, order, 3)
}

func TestBuildDAG_ExplicitDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null", DependsOn: []string{"null_resource.a"}},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 3)

	posB := indexOf(order, "null_resource.b")
	posA := indexOf(order, "null_resource.a")
	posC := indexOf(order, "null_resource.c")

	assert.Less(t, posB, posA, "b should come before a")
	assert.Less(t, posA, posC, "a should come before c")
}

func TestBuildDAG_ImplicitPtrRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "subnet",
			Name:     "public",
			Provider: "aws",
			Properties: map[string]any{
				"vpc_id": "ptr://vpc.main/id",
			},
		},
		{Type: "vpc", Name: "main", Provider: "aws"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 2)

	posVpc := indexOf(order, "vpc.main")
	posSubnet := indexOf(order, "subnet.public")

	assert.Less(t, posVpc, posSubnet, "VPC should be created before subnet")
}

func TestBuildDAG_ModuleAddresses(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "subnet",
			Name:     "public",
			Module:   "network",
			Provider: "aws",
			Properties: map[string]any{
				"vpc_id": "ptr://module.network.vpc.main/id",
			},
		},
		{Type: "vpc", Name: "main", Module: "network", Provider: "aws"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 2)
	assert.Equal(t, "module.network.vpc.main", order[0])
	assert.Equal(t, "module.network.subnet.public", order[1])
}

func TestBuildDAG_CycleDetection(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null", DependsOn: []string{"null_resource.a"}},
	}

	_, err := BuildDAG(resources)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuildDAG_DuplicateAddress(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null"},
		{Type: "null_resource", Name: "a", Provider: "null"},
	}

	_, err := BuildDAG(resources)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate resource address")
}

func TestBuildDAG_DestructionOrder(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	revOrder := dag.DestructionOrder()
	require.Len(t, revOrder, 2)

	// a depends on b, so a is destroyed first
	posA := indexOf(revOrder, "null_resource.a")
	posB := indexOf(revOrder, "null_resource.b")

	assert.Less(t, posA, posB, "a should be destroyed before b")
}

func TestBuildDAG_ExpandedInstanceDeps(t *testing.T) {
	// An unindexed dep matches every expanded instance of the target.
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "web[0]", Provider: "null"},
		{Type: "null_resource", Name: "web[1]", Provider: "null"},
		{Type: "null_resource", Name: "lb", Provider: "null", DependsOn: []string{"null_resource.web"}},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 3)

	posLB := indexOf(order, "null_resource.lb")
	assert.Greater(t, posLB, indexOf(order, "null_resource.web[0]"))
	assert.Greater(t, posLB, indexOf(order, "null_resource.web[1]"))

	deps := dag.Dependencies("null_resource.lb")
	assert.ElementsMatch(t, []string{"null_resource.web[0]", "null_resource.web[1]"}, deps)
}

func TestBuildDAG_DeterministicOrder(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "z", Provider: "null"},
		{Type: "null_resource", Name: "m", Provider: "null"},
		{Type: "null_resource", Name: "a", Provider: "null"},
	}

	first, err := BuildDAG(resources)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		next, err := BuildDAG(resources)
		require.NoError(t, err)
		assert.Equal(t, first.CreationOrder(), next.CreationOrder())
	}

	// Independent nodes come out in address order.
	assert.Equal(t, []string{"null_resource.a", "null_resource.m", "null_resource.z"}, first.CreationOrder())
}

func TestBuildDAGFromState(t *testing.T) {
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "subnet",
				Name:     "public",
				Provider: "aws",
				Inputs: map[string]any{
					"vpc_id": "ptr://vpc.main/id",
				},
			},
			{
				Type:         "eks_cluster",
				Name:         "main",
				Provider:     "aws",
				Dependencies: []string{"subnet.public"},
			},
			{Type: "vpc", Name: "main", Provider: "aws"},
		},
	}

	dag, err := BuildDAGFromState(state)
	require.NoError(t, err)

	order := dag.DestructionOrder()
	require.Len(t, order, 3)

	assert.Less(t, indexOf(order, "eks_cluster.main"), indexOf(order, "subnet.public"))
	assert.Less(t, indexOf(order, "subnet.public"), indexOf(order, "vpc.main"))
}

func TestTransitiveDeps(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "vpc", Name: "main", Provider: "aws"},
		{
			Type:     "subnet",
			Name:     "public",
			Provider: "aws",
			Properties: map[string]any{
				"vpc_id": "ptr://vpc.main/id",
			},
		},
		{
			Type:      "eks_cluster",
			Name:      "main",
			Provider:  "aws",
			DependsOn: []string{"subnet.public"},
		},
		{Type: "null_resource", Name: "unrelated", Provider: "null"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	deps := dag.TransitiveDeps("eks_cluster.main")
	assert.Len(t, deps, 2)
	assert.Contains(t, deps, "subnet.public")
	assert.Contains(t, deps, "vpc.main")

	assert.Empty(t, dag.TransitiveDeps("vpc.main"))
}

func TestPtrRefToAddr(t *testing.T) {
	tests := []struct {
		ref    string
		want   string
		wantOK bool
	}{
		{"ptr://vpc.main/id", "vpc.main", true},
		{"ptr://module.network.vpc.main/cidr_block", "module.network.vpc.main", true},
		{"ptr://iam_role.eks/arn", "iam_role.eks", true},
		{"not-a-ref", "", false},
		{"ptr://short", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, ok := ptrRefToAddr(tt.ref)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractPtrRefs(t *testing.T) {
	props := map[string]any{
		"vpc_id": "ptr://vpc.main/id",
		"name":   "public",
		"tags": map[string]any{
			"cluster": "ptr://eks_cluster.main/arn",
		},
		"subnet_ids": []any{
			"ptr://subnet.a/id",
			"plain-string",
		},
	}

	refs := extractPtrRefs(props)
	assert.Len(t, refs, 3)
	assert.Contains(t, refs, "ptr://vpc.main/id")
	assert.Contains(t, refs, "ptr://eks_cluster.main/arn")
	assert.Contains(t, refs, "ptr://subnet.a/id")
}

func TestDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b", "null_resource.c"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	deps := dag.Dependencies("null_resource.a")
	assert.Len(t, deps, 2)
	assert.Contains(t, deps, "null_resource.b")
	assert.Contains(t, deps, "null_resource.c")
}

func indexOf(slice []string, item string) int {
	for i, s := range slice {
		if s == item {
			return i
		}
	}
	return -1
}
