package declarative

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakerun/internal/domain"
)

func writeDefFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const pipelineYAML = `apiVersion: lakerun/v1
kind: Pipeline
metadata:
  name: loans
spec:
  schedule: "0 * * * *"
  landing_zones:
    - name: txs
      type: dir
      path: landing/txs
      format: json
  references:
    - name: accounting
      path: reference/accounting.csv
      format: csv
`

const sourceTableYAML = `apiVersion: lakerun/v1
kind: Table
metadata:
  name: raw_txs
spec:
  kind: source
  landing_zone: txs
`

func writeValidDefinition(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeDefFile(t, dir, "pipeline.yaml", pipelineYAML)
	writeDefFile(t, dir, "tables/raw_txs.yaml", sourceTableYAML)
	writeDefFile(t, dir, "tables/ref_accounting.yaml", `apiVersion: lakerun/v1
kind: Table
metadata:
  name: ref_accounting
spec:
  kind: full
  reference: accounting
`)
	writeDefFile(t, dir, "tables/cleaned_txs.yaml", `apiVersion: lakerun/v1
kind: Table
metadata:
  name: cleaned_txs
spec:
  kind: incremental
  inputs: [raw_txs, ref_accounting]
  join:
    left: raw_txs
    right: ref_accounting
    on: [accounting_treatment_id]
  columns:
    - name: id
    - name: balance
      expr: float(balance)
  expectations:
    - name: balance_positive
      expr: balance >= 0
`)
	return dir
}

func TestLoadDirectory(t *testing.T) {
	def, err := LoadDirectory(writeValidDefinition(t))
	require.NoError(t, err)

	assert.Equal(t, "loans", def.Name)
	assert.Equal(t, "0 * * * *", def.Schedule)

	require.Len(t, def.LandingZones, 1)
	assert.Equal(t, "txs", def.LandingZones[0].Name)
	require.Len(t, def.References, 1)
	assert.Equal(t, "accounting", def.References[0].Name)

	require.Len(t, def.Tables, 3)

	byName := map[string]domain.TableSpec{}
	for _, tbl := range def.Tables {
		byName[tbl.Name] = tbl
	}
	cleaned := byName["cleaned_txs"]
	assert.Equal(t, domain.TableKindIncremental, cleaned.Kind)
	require.NotNil(t, cleaned.Join)
	assert.Equal(t, domain.JoinLatest, cleaned.Join.Policy, "join policy defaults to latest")
	require.Len(t, cleaned.Constraints, 1)
	assert.Equal(t, domain.PolicyWarn, cleaned.Constraints[0].OnViolation, "violation policy defaults to warn")
}

func TestLoadDirectory_ResolvesLocalPaths(t *testing.T) {
	dir := writeValidDefinition(t)
	def, err := LoadDirectory(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "landing/txs"), def.LandingZones[0].Path)
	assert.Equal(t, filepath.Join(dir, "reference/accounting.csv"), def.References[0].Path)
}

func TestLoadDirectory_S3PathNotResolved(t *testing.T) {
	dir := t.TempDir()
	writeDefFile(t, dir, "pipeline.yaml", `apiVersion: lakerun/v1
kind: Pipeline
metadata:
  name: loans
spec:
  landing_zones:
    - name: txs
      type: s3
      bucket: data
      path: landing/txs
      format: json
`)
	writeDefFile(t, dir, "tables/raw_txs.yaml", sourceTableYAML)

	def, err := LoadDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, "landing/txs", def.LandingZones[0].Path, "s3 key prefixes stay as declared")
}

func TestLoadDirectory_MissingPipelineFile(t *testing.T) {
	dir := t.TempDir()
	writeDefFile(t, dir, "tables/raw_txs.yaml", sourceTableYAML)

	_, err := LoadDirectory(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.yaml is required")
}

func TestLoadDirectory_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipelineYAML), 0o644))

	_, err := LoadDirectory(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a directory")
}

func TestLoadDirectory_RejectsUnknownFields(t *testing.T) {
	dir := writeValidDefinition(t)
	writeDefFile(t, dir, "tables/raw_txs.yaml", `apiVersion: lakerun/v1
kind: Table
metadata:
  name: raw_txs
spec:
  kind: source
  landing_zone: txs
  retention_days: 30
`)

	_, err := LoadDirectory(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention_days")
}

func TestLoadDirectory_RejectsWrongAPIVersion(t *testing.T) {
	dir := writeValidDefinition(t)
	writeDefFile(t, dir, "pipeline.yaml", `apiVersion: lakerun/v2
kind: Pipeline
metadata:
  name: loans
`)

	_, err := LoadDirectory(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported apiVersion "lakerun/v2"`)
}

func TestLoadDirectory_RejectsWrongKind(t *testing.T) {
	dir := writeValidDefinition(t)
	writeDefFile(t, dir, "tables/raw_txs.yaml", `apiVersion: lakerun/v1
kind: Pipeline
metadata:
  name: raw_txs
spec:
  kind: source
  landing_zone: txs
`)

	_, err := LoadDirectory(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unexpected kind "Pipeline"`)
}

func TestLoadDirectory_NameMustMatchFileName(t *testing.T) {
	dir := writeValidDefinition(t)
	writeDefFile(t, dir, "tables/raw_txs.yaml", `apiVersion: lakerun/v1
kind: Table
metadata:
  name: something_else
spec:
  kind: source
  landing_zone: txs
`)

	_, err := LoadDirectory(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `metadata.name "something_else" does not match file name "raw_txs"`)
}

func TestLoadDirectory_IgnoresNonYAMLFiles(t *testing.T) {
	dir := writeValidDefinition(t)
	writeDefFile(t, dir, "tables/README.md", "# notes\n")
	writeDefFile(t, dir, "tables/backup/old.yaml", "garbage: [")

	def, err := LoadDirectory(dir)
	require.NoError(t, err)
	assert.Len(t, def.Tables, 3)
}
