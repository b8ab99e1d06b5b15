package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func loadParseError(t *testing.T, files map[string]string) *ParseError {
	t.Helper()
	_, err := Load(writeFiles(t, files))
	require.Error(t, err)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	return pe
}

func summaries(pe *ParseError) []string {
	out := make([]string, 0, len(pe.Diags))
	for _, d := range pe.Diags {
		out = append(out, d.Summary)
	}
	return out
}

func TestLoad_MergesFiles(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"main.hcl": `
variable "environment" {
  type        = string
  description = "Deployment environment name."
}

resource "vpc" "main" {
  cidr_block = "10.0.0.0/16"
}
`,
		"outputs.hcl": `
locals {
  name_prefix = "cairn"
}

output "vpc_id" {
  value     = vpc.main.id
  sensitive = true
}
`,
		// Value files and subdirectories hold no declarations; loading
		// either would fail, so success proves they were skipped.
		"cairn.vars.hcl":    `environment = "prod"`,
		"modules/extra.hcl": `resource "vpc" "main" {}`,
		"notes.txt":         "scratch",
	})

	doc, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, doc.Dir)
	require.Len(t, doc.Resources, 1)
	assert.Same(t, doc.Resources[0], doc.ByAddress["vpc.main"])
	assert.Equal(t, "Deployment environment name.", doc.Variables["environment"].Description)
	require.Contains(t, doc.Locals, "name_prefix")

	out := doc.Outputs["vpc_id"]
	require.NotNil(t, out)
	assert.True(t, out.Sensitive)
	assert.NotNil(t, out.Value)
}

func TestLoad_NoConfigFiles(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .hcl configuration files")
}

func TestLoad_SyntaxError(t *testing.T) {
	pe := loadParseError(t, map[string]string{
		"main.hcl": `resource "vpc" "main" {`,
	})
	assert.True(t, pe.Diags.HasErrors())
}

func TestLoad_DuplicateResourceAddress(t *testing.T) {
	pe := loadParseError(t, map[string]string{
		"a.hcl": `
resource "vpc" "main" {
  cidr_block = "10.0.0.0/16"
}
`,
		"b.hcl": `
resource "vpc" "main" {
  cidr_block = "10.1.0.0/16"
}
`,
	})
	require.Len(t, pe.Diags, 1)
	assert.Equal(t, "Duplicate resource declaration", pe.Diags[0].Summary)
	assert.Contains(t, pe.Diags[0].Detail, `"vpc.main"`)
	assert.Contains(t, pe.Diags[0].Detail, "a.hcl")
}

func TestLoad_DuplicateDeclarations(t *testing.T) {
	pe := loadParseError(t, map[string]string{
		"main.hcl": `
variable "environment" {}
variable "environment" {}

output "id" {
  value = "a"
}

output "id" {
  value = "b"
}
`,
	})
	assert.Contains(t, summaries(pe), "Duplicate variable declaration")
	assert.Contains(t, summaries(pe), "Duplicate output declaration")
}

func TestLoad_VariableDeclarations(t *testing.T) {
	doc, err := Load(writeFiles(t, map[string]string{
		"variables.hcl": `
variable "node_count" {
  type        = number
  default     = 3
  description = "Worker nodes per group."

  validation {
    condition     = var.node_count > 0
    error_message = "node_count must be positive"
  }
}

variable "cluster_name" {
  type = string
}

variable "db_password" {
  type      = string
  sensitive = true
}

variable "tags" {}
`,
	}))
	require.NoError(t, err)

	nc := doc.Variables["node_count"]
	require.NotNil(t, nc)
	assert.Equal(t, cty.Number, nc.Type)
	assert.True(t, nc.HasDefault)
	assert.True(t, nc.Default.RawEquals(cty.NumberIntVal(3)))
	require.Len(t, nc.Validations, 1)
	assert.NotNil(t, nc.Validations[0].Condition)
	assert.NotNil(t, nc.Validations[0].ErrorMessage)

	assert.False(t, doc.Variables["cluster_name"].HasDefault)
	assert.Equal(t, cty.String, doc.Variables["cluster_name"].Type)
	assert.True(t, doc.Variables["db_password"].Sensitive)
	assert.Equal(t, cty.DynamicPseudoType, doc.Variables["tags"].Type)
}

func TestLoad_ResourceMetaArguments(t *testing.T) {
	doc, err := Load(writeFiles(t, map[string]string{
		"main.hcl": `
resource "eks_cluster" "main" {
  name    = "prod"
  version = "1.29"

  timeout    = "20m"
  depends_on = [vpc.main]

  lifecycle {
    prevent_destroy = true
    ignore_changes  = ["tags"]
  }
}

resource "vpc" "main" {
  cidr_block = "10.0.0.0/16"
}

resource "subnet" "private" {
  count      = 3
  vpc_id     = vpc.main.id
  cidr_block = "10.0.0.0/24"
}
`,
	}))
	require.NoError(t, err)
	require.Len(t, doc.Resources, 3)

	cluster := doc.ByAddress["eks_cluster.main"]
	require.NotNil(t, cluster)
	assert.Equal(t, "aws", cluster.Provider)
	assert.NotNil(t, cluster.Timeout)
	require.Len(t, cluster.DependsOn, 1)
	assert.Equal(t, "vpc", cluster.DependsOn[0].RootName())

	require.NotNil(t, cluster.Lifecycle)
	assert.True(t, cluster.Lifecycle.PreventDestroy)
	assert.Equal(t, []string{"tags"}, cluster.Lifecycle.IgnoreChanges)

	// Meta-arguments are split out of the attribute map.
	assert.Contains(t, cluster.Attrs, "name")
	assert.Contains(t, cluster.Attrs, "version")
	assert.NotContains(t, cluster.Attrs, "timeout")
	assert.NotContains(t, cluster.Attrs, "depends_on")

	subnet := doc.ByAddress["subnet.private"]
	assert.NotNil(t, subnet.Count)
	assert.Nil(t, subnet.ForEach)
}

func TestLoad_ProviderInference(t *testing.T) {
	doc, err := Load(writeFiles(t, map[string]string{
		"main.hcl": `
resource "null_resource" "anchor" {}

resource "custom_widget" "w" {
  provider = "mycloud"
}
`,
	}))
	require.NoError(t, err)
	assert.Equal(t, "null", doc.ByAddress["null_resource.anchor"].Provider)
	assert.Equal(t, "mycloud", doc.ByAddress["custom_widget.w"].Provider)

	pe := loadParseError(t, map[string]string{
		"main.hcl": `resource "custom_widget" "w" {}`,
	})
	assert.Contains(t, summaries(pe), "Unknown resource type")
}

func TestLoad_CountForEachConflict(t *testing.T) {
	pe := loadParseError(t, map[string]string{
		"main.hcl": `
resource "null_resource" "both" {
  count    = 1
  for_each = { a = 1 }
}
`,
	})
	assert.Contains(t, summaries(pe), "Conflicting meta-arguments")
}

func TestLoad_InvalidResourceAddress(t *testing.T) {
	pe := loadParseError(t, map[string]string{
		"main.hcl": `resource "aws.vpc" "main" {}`,
	})
	assert.Contains(t, summaries(pe), "Invalid resource address")
}

func TestLoad_BackendBlock(t *testing.T) {
	doc, err := Load(writeFiles(t, map[string]string{
		"main.hcl": `
backend "s3" {
  bucket = "cairn-state"
  region = "us-west-2"
}

resource "null_resource" "anchor" {}
`,
	}))
	require.NoError(t, err)
	require.NotNil(t, doc.Backend)
	assert.Equal(t, "s3", doc.Backend.Type)
	assert.Equal(t, map[string]string{
		"bucket": "cairn-state",
		"region": "us-west-2",
	}, doc.Backend.Config)

	pe := loadParseError(t, map[string]string{
		"main.hcl": `
backend "s3" {
  bucket = "cairn-state"
}

backend "local" {}
`,
	})
	assert.Contains(t, summaries(pe), "Duplicate backend declaration")
}

func TestLoad_ModuleCall(t *testing.T) {
	doc, err := Load(writeFiles(t, map[string]string{
		"main.hcl": `
module "network" {
  source   = "./modules/network"
  vpc_cidr = "10.1.0.0/16"
}
`,
	}))
	require.NoError(t, err)

	call := doc.ModuleCalls["network"]
	require.NotNil(t, call)
	assert.Equal(t, "./modules/network", call.Source)
	assert.Contains(t, call.Inputs, "vpc_cidr")
	assert.NotContains(t, call.Inputs, "source")

	pe := loadParseError(t, map[string]string{
		"main.hcl": `
module "broken" {
  vpc_cidr = "10.1.0.0/16"
}
`,
	})
	assert.Contains(t, summaries(pe), "Missing module source")
}

func TestInferProvider(t *testing.T) {
	p, ok := InferProvider("vpc")
	require.True(t, ok)
	assert.Equal(t, "aws", p)

	p, ok = InferProvider("null_resource")
	require.True(t, ok)
	assert.Equal(t, "null", p)

	_, ok = InferProvider("datadog_monitor")
	assert.False(t, ok)
}

func TestParseVarsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.vars.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
environment = "prod"
node_count  = 3
`), 0o644))

	vals, err := ParseVarsFile(path)
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.True(t, vals["environment"].RawEquals(cty.StringVal("prod")))
	assert.True(t, vals["node_count"].RawEquals(cty.NumberIntVal(3)))
}

func TestParseVarsFile_RejectsNonConstant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.vars.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`region = var.default_region`), 0o644))

	_, err := ParseVarsFile(path)
	require.Error(t, err)
	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestParseVarsFile_MissingFile(t *testing.T) {
	_, err := ParseVarsFile(filepath.Join(t.TempDir(), "absent.vars.hcl"))
	require.Error(t, err)
	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}
