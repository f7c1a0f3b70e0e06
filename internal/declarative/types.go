// Package declarative loads and validates YAML pipeline definitions.
package declarative

// SupportedAPIVersion is the apiVersion accepted in definition documents.
const SupportedAPIVersion = "lakerun/v1"

// Document kind names.
const (
	KindNamePipeline = "Pipeline"
	KindNameTable    = "Table"
)

// ObjectMeta holds common metadata for named resources.
type ObjectMeta struct {
	Name string `yaml:"name"`
}

// PipelineDoc declares a pipeline: its schedule and external inputs.
type PipelineDoc struct {
	APIVersion string       `yaml:"apiVersion"`
	Kind       string       `yaml:"kind"`
	Metadata   ObjectMeta   `yaml:"metadata"`
	Spec       PipelineSpec `yaml:"spec"`
}

// PipelineSpec holds the pipeline-level configuration.
type PipelineSpec struct {
	Schedule     string            `yaml:"schedule,omitempty"` // cron expression
	LandingZones []LandingZoneSpec `yaml:"landing_zones,omitempty"`
	References   []ReferenceSpec   `yaml:"references,omitempty"`
}

// LandingZoneSpec declares an append-only file landing zone.
type LandingZoneSpec struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"` // "dir" or "s3"
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // "json" or "csv"
	Bucket string `yaml:"bucket,omitempty"`
	Region string `yaml:"region,omitempty"`
}

// ReferenceSpec declares a full-snapshot reference source.
type ReferenceSpec struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}

// TableDoc declares one table of the pipeline.
type TableDoc struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   ObjectMeta `yaml:"metadata"`
	Spec       TableSpec  `yaml:"spec"`
}

// TableSpec holds the declared transformation of a table.
type TableSpec struct {
	Kind           string            `yaml:"kind"` // source, incremental, full, aggregate
	Comment        string            `yaml:"comment,omitempty"`
	Inputs         []string          `yaml:"inputs,omitempty"`
	LandingZone    string            `yaml:"landing_zone,omitempty"` // source tables
	Reference      string            `yaml:"reference,omitempty"`    // full tables
	Columns        []ColumnSpec      `yaml:"columns,omitempty"`
	Join           *JoinSpec         `yaml:"join,omitempty"`
	GroupBy        []string          `yaml:"group_by,omitempty"`
	Aggregations   []AggregationSpec `yaml:"aggregations,omitempty"`
	Expectations   []ExpectationSpec `yaml:"expectations,omitempty"`
	ClusterBy      []string          `yaml:"cluster_by,omitempty"` // opaque layout hint
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty"`
}

// ColumnSpec declares an output column. An empty expr passes through the
// input column of the same name.
type ColumnSpec struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr,omitempty"`
}

// JoinSpec declares an inner join between an incremental and a full input.
type JoinSpec struct {
	Left   string   `yaml:"left"`
	Right  string   `yaml:"right"`
	On     []string `yaml:"on"`
	Policy string   `yaml:"policy,omitempty"` // "latest" (default) or "frozen"
}

// AggregationSpec declares one aggregated output column.
type AggregationSpec struct {
	Column string `yaml:"column,omitempty"` // optional for count
	Op     string `yaml:"op"`               // count, sum, min, max, avg
	As     string `yaml:"as"`
}

// ExpectationSpec declares a data-quality constraint on a table.
type ExpectationSpec struct {
	Name        string `yaml:"name"`
	Expr        string `yaml:"expr"`
	OnViolation string `yaml:"on_violation,omitempty"` // warn (default), drop, fail
}
