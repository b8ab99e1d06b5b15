package eval

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/cairn-io/cairn/internal/config"
)

func writeConfigDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func loadDoc(t *testing.T, files map[string]string) *config.Document {
	t.Helper()
	doc, err := config.Load(writeConfigDir(t, files))
	require.NoError(t, err)
	return doc
}

func TestBindInputs_MissingRequired(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
variable "cluster_name" {
  type = string
}

variable "vpc_cidr" {
  type    = string
  default = "10.0.0.0/16"
}
`,
	})

	r := NewResolver(doc, Options{Overrides: map[string]string{"vpc_cidr": "10.0.0.0/16"}})
	err := r.BindInputs()
	require.Error(t, err)

	var missing *MissingRequiredInputError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"cluster_name"}, missing.Names)
	assert.Contains(t, err.Error(), "cluster_name")
}

func TestBindInputs_CollectsAllMissing(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
variable "a" {}
variable "b" {}
variable "c" { default = 1 }
`,
	})

	err := NewResolver(doc, Options{}).BindInputs()
	var missing *MissingRequiredInputError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"a", "b"}, missing.Names)
}

func TestBindInputs_Precedence(t *testing.T) {
	files := map[string]string{
		"main.hcl": `
variable "region" {
  type    = string
  default = "us-east-1"
}

output "region" {
  value = var.region
}
`,
	}

	resolveRegion := func(t *testing.T, opts Options) string {
		doc := loadDoc(t, files)
		cfg, err := NewResolver(doc, opts).Resolve()
		require.NoError(t, err)
		return cfg.Outputs["region"].Value.(string)
	}

	fileA, err := config.ParseVarsFile(writeVarsFile(t, `region = "eu-west-1"`))
	require.NoError(t, err)
	fileB, err := config.ParseVarsFile(writeVarsFile(t, `region = "eu-north-1"`))
	require.NoError(t, err)

	t.Run("default", func(t *testing.T) {
		assert.Equal(t, "us-east-1", resolveRegion(t, Options{}))
	})
	t.Run("var file beats default", func(t *testing.T) {
		opts := Options{FileValues: []map[string]cty.Value{fileA}}
		assert.Equal(t, "eu-west-1", resolveRegion(t, opts))
	})
	t.Run("later var file wins", func(t *testing.T) {
		opts := Options{FileValues: []map[string]cty.Value{fileA, fileB}}
		assert.Equal(t, "eu-north-1", resolveRegion(t, opts))
	})
	t.Run("env beats var file", func(t *testing.T) {
		opts := Options{
			FileValues: []map[string]cty.Value{fileA},
			Env:        map[string]string{"region": "eu-central-1"},
		}
		assert.Equal(t, "eu-central-1", resolveRegion(t, opts))
	})
	t.Run("flag beats env", func(t *testing.T) {
		opts := Options{
			FileValues: []map[string]cty.Value{fileA},
			Env:        map[string]string{"region": "eu-central-1"},
			Overrides:  map[string]string{"region": "ap-south-1"},
		}
		assert.Equal(t, "ap-south-1", resolveRegion(t, opts))
	})
}

func TestBindInputs_NumberFromString(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
variable "replicas" { type = number }

output "replicas" { value = var.replicas }
`,
	})

	cfg, err := NewResolver(doc, Options{Env: map[string]string{"replicas": "3"}}).Resolve()
	require.NoError(t, err)
	assert.Equal(t, int64(3), cfg.Outputs["replicas"].Value)
}

func TestResolve_Placeholders(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
resource "vpc" "main" {
  cidr_block = "10.0.0.0/16"
}

resource "subnet" "public" {
  vpc_id     = vpc.main.id
  cidr_block = "10.0.1.0/24"
}
`,
	})

	cfg, err := NewResolver(doc, Options{}).Resolve()
	require.NoError(t, err)
	require.Len(t, cfg.Resources, 2)

	subnet := cfg.Resource("subnet.public")
	require.NotNil(t, subnet)
	assert.Equal(t, "ptr://vpc.main/id", subnet.Properties["vpc_id"])
	assert.Equal(t, []string{"vpc.main"}, subnet.DependsOn)
	assert.Equal(t, "aws", subnet.Provider)
}

func TestResolve_UnresolvedReference(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
resource "eks_node_group" "workers" {
  cluster_name = cluster.eks_cluster.name
  subnet_ids   = []
}
`,
	})

	_, err := NewResolver(doc, Options{}).Resolve()
	require.Error(t, err)

	var unresolved *UnresolvedReferenceError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, "cluster.eks_cluster", unresolved.Target)
	assert.Equal(t, "eks_node_group.workers", unresolved.Referrer)
}

func TestResolve_UnresolvedVariable(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
resource "null_resource" "a" {
  triggers = { name = var.missing }
}
`,
	})

	_, err := NewResolver(doc, Options{}).Resolve()
	var unresolved *UnresolvedReferenceError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, "var.missing", unresolved.Target)
}

func TestResolve_CyclicDependency(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
resource "null_resource" "a" {
  triggers = { peer = null_resource.b.id }
}

resource "null_resource" "b" {
  triggers = { peer = null_resource.a.id }
}
`,
	})

	_, err := NewResolver(doc, Options{}).Resolve()
	require.Error(t, err)

	var cyclic *CyclicDependencyError
	require.True(t, errors.As(err, &cyclic))
	assert.Equal(t, []string{"null_resource.a", "null_resource.b", "null_resource.a"}, cyclic.Path)
	assert.Contains(t, err.Error(), "cycle")
}

func TestResolve_SelfReferenceIsCycle(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
resource "null_resource" "a" {
  triggers = { self = null_resource.a.id }
}
`,
	})

	_, err := NewResolver(doc, Options{}).Resolve()
	var cyclic *CyclicDependencyError
	require.True(t, errors.As(err, &cyclic))
	assert.Equal(t, []string{"null_resource.a", "null_resource.a"}, cyclic.Path)
}

func TestResolve_DependsOn(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
resource "vpc" "main" {
  cidr_block = "10.0.0.0/16"
}

resource "null_resource" "waiter" {
  depends_on = [vpc.main]
  triggers   = {}
}
`,
	})

	cfg, err := NewResolver(doc, Options{}).Resolve()
	require.NoError(t, err)
	assert.Equal(t, []string{"vpc.main"}, cfg.Resource("null_resource.waiter").DependsOn)
}

func TestResolve_DependsOnCycle(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
resource "null_resource" "a" {
  depends_on = [null_resource.b]
  triggers   = {}
}

resource "null_resource" "b" {
  depends_on = [null_resource.a]
  triggers   = {}
}
`,
	})

	_, err := NewResolver(doc, Options{}).Resolve()
	var cyclic *CyclicDependencyError
	require.True(t, errors.As(err, &cyclic))
}

func TestResolve_Idempotent(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
variable "cidr" { default = "10.0.0.0/16" }

locals {
  tag = "managed"
}

resource "vpc" "main" {
  cidr_block = var.cidr
  tags       = { role = local.tag }
}

resource "subnet" "a" {
  vpc_id     = vpc.main.id
  cidr_block = "10.0.1.0/24"
}

output "vpc_id" {
  value = vpc.main.id
}
`,
	})

	first, err := NewResolver(doc, Options{}).Resolve()
	require.NoError(t, err)
	second, err := NewResolver(doc, Options{}).Resolve()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Resolving through the same resolver again is also stable.
	r := NewResolver(doc, Options{})
	a, err := r.Resolve()
	require.NoError(t, err)
	b, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestResolve_Locals(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
variable "env" { default = "prod" }

locals {
  prefix      = "cairn-${var.env}"
  full_prefix = "${local.prefix}-eks"
}

resource "null_resource" "a" {
  triggers = { name = local.full_prefix }
}
`,
	})

	cfg, err := NewResolver(doc, Options{}).Resolve()
	require.NoError(t, err)
	triggers := cfg.Resource("null_resource.a").Properties["triggers"].(map[string]any)
	assert.Equal(t, "cairn-prod-eks", triggers["name"])
}

func TestResolve_LocalCycle(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
locals {
  a = local.b
  b = local.a
}
`,
	})

	_, err := NewResolver(doc, Options{}).Resolve()
	var cyclic *CyclicDependencyError
	require.True(t, errors.As(err, &cyclic))
	assert.Equal(t, []string{"local.a", "local.b", "local.a"}, cyclic.Path)
}

func TestResolve_LocalMediatedResourceCycle(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
locals {
  a_id = null_resource.a.id
}

resource "null_resource" "a" {
  triggers = { peer = null_resource.b.id }
}

resource "null_resource" "b" {
  triggers = { peer = local.a_id }
}
`,
	})

	_, err := NewResolver(doc, Options{}).Resolve()
	var cyclic *CyclicDependencyError
	require.True(t, errors.As(err, &cyclic))
}

func TestResolve_Count(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
variable "az_count" { default = 2 }

resource "subnet" "private" {
  count      = var.az_count
  vpc_id     = "vpc-123"
  cidr_block = "10.0.${count.index}.0/24"
}
`,
	})

	cfg, err := NewResolver(doc, Options{}).Resolve()
	require.NoError(t, err)
	require.Len(t, cfg.Resources, 1)

	subnet := cfg.Resources[0]
	assert.Equal(t, 2, subnet.Count)
	assert.Equal(t, "10.0.${count.index}.0/24", subnet.Properties["cidr_block"])
}

func TestResolve_CountZeroDropsResource(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
resource "null_resource" "optional" {
  count    = 0
  triggers = {}
}
`,
	})

	cfg, err := NewResolver(doc, Options{}).Resolve()
	require.NoError(t, err)
	assert.Empty(t, cfg.Resources)
}

func TestResolve_ForEach(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
resource "log_group" "services" {
  for_each       = { api = 30, worker = 14 }
  log_group_name = "/eks/${each.key}"
}
`,
	})

	cfg, err := NewResolver(doc, Options{}).Resolve()
	require.NoError(t, err)
	require.Len(t, cfg.Resources, 1)

	lg := cfg.Resources[0]
	assert.Equal(t, map[string]any{"api": int64(30), "worker": int64(14)}, lg.ForEach)
	assert.Equal(t, "/eks/${each.key}", lg.Properties["log_group_name"])
}

func TestResolve_CountIndexOutsideCountedResource(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
resource "null_resource" "a" {
  triggers = { idx = count.index }
}
`,
	})

	_, err := NewResolver(doc, Options{}).Resolve()
	var unresolved *UnresolvedReferenceError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, "count.index", unresolved.Target)
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
variable "size" {
  type = number
}

variable "name" {
  type = string

  validation {
    condition     = var.name != ""
    error_message = "name must not be empty"
  }
}
`,
	})

	r := NewResolver(doc, Options{Overrides: map[string]string{
		"size": "not-a-number",
		"name": "",
	}})
	err := r.Validate()
	require.Error(t, err)

	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
	require.Len(t, validation.Violations, 2)

	subjects := []string{validation.Violations[0].Subject, validation.Violations[1].Subject}
	assert.ElementsMatch(t, []string{"var.size", "var.name"}, subjects)
	assert.Contains(t, err.Error(), "name must not be empty")
}

func TestValidate_NumericRule(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
variable "node_count" {
  type    = number
  default = 2

  validation {
    condition     = var.node_count >= 1 && var.node_count <= 10
    error_message = "node_count must be between 1 and 10"
  }
}
`,
	})

	require.NoError(t, NewResolver(doc, Options{}).Validate())

	err := NewResolver(doc, Options{Overrides: map[string]string{"node_count": "0"}}).Validate()
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "var.node_count", validation.Violations[0].Subject)
	assert.Equal(t, "node_count must be between 1 and 10", validation.Violations[0].Message)
}

func TestResolve_ModuleExpansion(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
variable "vpc_cidr" { default = "10.0.0.0/16" }

module "net" {
  source = "./network"
  cidr   = var.vpc_cidr
}

resource "subnet" "public" {
  vpc_id     = module.net.vpc_id
  cidr_block = "10.0.1.0/24"
}

output "vpc_id" {
  value = module.net.vpc_id
}
`,
		"network/main.hcl": `
variable "cidr" {
  type = string
}

resource "vpc" "main" {
  cidr_block = var.cidr
}

output "vpc_id" {
  value = vpc.main.id
}
`,
	})

	cfg, err := NewResolver(doc, Options{}).Resolve()
	require.NoError(t, err)
	require.Len(t, cfg.Resources, 2)

	vpc := cfg.Resource("module.net.vpc.main")
	require.NotNil(t, vpc)
	assert.Equal(t, "net", vpc.Module)
	assert.Equal(t, "10.0.0.0/16", vpc.Properties["cidr_block"])

	subnet := cfg.Resource("subnet.public")
	require.NotNil(t, subnet)
	assert.Equal(t, "ptr://module.net.vpc.main/id", subnet.Properties["vpc_id"])

	assert.Equal(t, "ptr://module.net.vpc.main/id", cfg.Outputs["vpc_id"].Value)
}

func TestResolve_ModuleMissingInput(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
module "net" {
  source = "./network"
}
`,
		"network/main.hcl": `
variable "cidr" {
  type = string
}
`,
	})

	_, err := NewResolver(doc, Options{}).Resolve()
	require.Error(t, err)

	var missing *MissingRequiredInputError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"cidr"}, missing.Names)
	assert.Contains(t, err.Error(), `module "net"`)
}

func TestResolve_ModuleIncludeCycle(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
module "self" {
  source = "."
}

resource "null_resource" "a" {
  triggers = {}
}
`,
	})

	_, err := NewResolver(doc, Options{}).Resolve()
	require.Error(t, err)

	var parseErr *config.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Contains(t, err.Error(), "cycle")
}

func TestResolve_SensitiveOutput(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
variable "db_password" {
  type      = string
  sensitive = true
}

output "password" {
  value     = var.db_password
  sensitive = true
}
`,
	})

	cfg, err := NewResolver(doc, Options{Overrides: map[string]string{"db_password": "hunter2"}}).Resolve()
	require.NoError(t, err)
	require.NotNil(t, cfg.Outputs["password"])
	assert.True(t, cfg.Outputs["password"].Sensitive)
	assert.Equal(t, "hunter2", cfg.Outputs["password"].Value)
}

func TestEnvironOverrides(t *testing.T) {
	env := EnvironOverrides([]string{
		"PATH=/usr/bin",
		"CAIRN_VAR_region=eu-west-1",
		"CAIRN_VAR_node_count=3",
		"CAIRN_VAR_=ignored",
	})
	assert.Equal(t, map[string]string{
		"region":     "eu-west-1",
		"node_count": "3",
	}, env)
}

func TestResolve_EnvOverride(t *testing.T) {
	doc := loadDoc(t, map[string]string{
		"main.hcl": `
variable "region" { default = "us-east-1" }

output "region" { value = var.region }
`,
	})

	cfg, err := NewResolver(doc, Options{Env: map[string]string{"region": "eu-west-1"}}).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Outputs["region"].Value)
}

func writeVarsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.vars.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
