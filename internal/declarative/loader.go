package declarative

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"lakerun/internal/domain"
)

// LoadDirectory reads a pipeline definition directory: pipeline.yaml plus
// tables/*.yaml. The returned definition is validated; definition errors are
// fatal here, before any run starts.
func LoadDirectory(dir string) (*domain.PipelineDefinition, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("definition directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("definition directory: %s is not a directory", dir)
	}

	plPath := filepath.Join(dir, "pipeline.yaml")
	var plDoc PipelineDoc
	found, err := loadYAMLFile(plPath, &plDoc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s: pipeline.yaml is required", dir)
	}
	if err := validateDocument(plPath, plDoc.APIVersion, plDoc.Kind, KindNamePipeline); err != nil {
		return nil, err
	}
	if plDoc.Metadata.Name == "" {
		return nil, fmt.Errorf("%s: metadata.name is required", plPath)
	}

	def := &domain.PipelineDefinition{
		Name:     plDoc.Metadata.Name,
		Schedule: plDoc.Spec.Schedule,
	}
	for _, z := range plDoc.Spec.LandingZones {
		def.LandingZones = append(def.LandingZones, domain.LandingZoneSpec{
			Name:   z.Name,
			Type:   z.Type,
			Path:   resolvePath(dir, z.Type, z.Path),
			Format: z.Format,
			Bucket: z.Bucket,
			Region: z.Region,
		})
	}
	for _, r := range plDoc.Spec.References {
		def.References = append(def.References, domain.ReferenceSpec{
			Name:   r.Name,
			Path:   resolvePath(dir, "dir", r.Path),
			Format: r.Format,
		})
	}

	if err := loadTables(dir, def); err != nil {
		return nil, err
	}

	if err := Validate(def); err != nil {
		return nil, err
	}
	return def, nil
}

// loadTables walks tables/ within the definition directory. Each .yaml file
// is one table. File order is not meaningful; execution order comes from the
// dependency graph.
func loadTables(dir string, def *domain.PipelineDefinition) error {
	tablesDir := filepath.Join(dir, "tables")
	entries, err := os.ReadDir(tablesDir)
	if err != nil {
		return fmt.Errorf("read tables directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		tableName := strings.TrimSuffix(name, ".yaml")
		tableFile := filepath.Join(tablesDir, name)

		var tableDoc TableDoc
		found, err := loadYAMLFile(tableFile, &tableDoc)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := validateDocument(tableFile, tableDoc.APIVersion, tableDoc.Kind, KindNameTable); err != nil {
			return err
		}
		if tableDoc.Metadata.Name != tableName {
			return fmt.Errorf("%s: metadata.name %q does not match file name %q", tableFile, tableDoc.Metadata.Name, tableName)
		}

		def.Tables = append(def.Tables, tableFromDoc(tableName, tableDoc.Spec))
	}

	return nil
}

func tableFromDoc(name string, spec TableSpec) domain.TableSpec {
	t := domain.TableSpec{
		Name:           name,
		Kind:           domain.TableKind(spec.Kind),
		Comment:        spec.Comment,
		Inputs:         spec.Inputs,
		LandingZone:    spec.LandingZone,
		Reference:      spec.Reference,
		GroupBy:        spec.GroupBy,
		ClusterBy:      spec.ClusterBy,
		TimeoutSeconds: spec.TimeoutSeconds,
	}
	for _, c := range spec.Columns {
		t.Columns = append(t.Columns, domain.ColumnSpec{Name: c.Name, Expr: c.Expr})
	}
	if spec.Join != nil {
		policy := domain.JoinPolicy(spec.Join.Policy)
		if policy == "" {
			policy = domain.JoinLatest
		}
		t.Join = &domain.JoinSpec{
			Left:   spec.Join.Left,
			Right:  spec.Join.Right,
			On:     spec.Join.On,
			Policy: policy,
		}
	}
	for _, a := range spec.Aggregations {
		t.Aggregations = append(t.Aggregations, domain.Aggregation{Column: a.Column, Op: a.Op, As: a.As})
	}
	for _, e := range spec.Expectations {
		policy := domain.ViolationPolicy(e.OnViolation)
		if policy == "" {
			policy = domain.PolicyWarn
		}
		t.Constraints = append(t.Constraints, domain.Constraint{
			Name:        e.Name,
			Expr:        e.Expr,
			OnViolation: policy,
		})
	}
	return t
}

// loadYAMLFile reads and strictly unmarshals a YAML file into target.
// Returns (false, nil) if the file does not exist.
func loadYAMLFile(path string, target interface{}) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // intentional: reading user-specified config files
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(target); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// validateDocument checks the apiVersion and kind fields.
func validateDocument(path string, apiVersion, kind, expectedKind string) error {
	if apiVersion != SupportedAPIVersion {
		return fmt.Errorf("%s: unsupported apiVersion %q (expected %q)", path, apiVersion, SupportedAPIVersion)
	}
	if kind != expectedKind {
		return fmt.Errorf("%s: unexpected kind %q (expected %q)", path, kind, expectedKind)
	}
	return nil
}

// resolvePath makes local paths relative to the definition directory.
func resolvePath(dir, zoneType, path string) string {
	if zoneType == "s3" || path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
