package domain

import "github.com/google/uuid"

// TableKind describes how a table is materialized.
type TableKind string

const (
	// TableKindSource reads new files from an external landing zone.
	TableKindSource TableKind = "source"
	// TableKindIncremental processes only new upstream rows per run.
	TableKindIncremental TableKind = "incremental"
	// TableKindFull re-reads a reference snapshot in full per run.
	TableKindFull TableKind = "full"
	// TableKindAggregate recomputes an aggregate from the complete current
	// input state per run.
	TableKindAggregate TableKind = "aggregate"
)

// ViolationPolicy controls what happens to rows that fail a constraint.
type ViolationPolicy string

const (
	// PolicyWarn keeps violating rows and counts them (default).
	PolicyWarn ViolationPolicy = "warn"
	// PolicyDrop excludes violating rows from the batch output.
	PolicyDrop ViolationPolicy = "drop"
	// PolicyFail aborts the entire batch on the first violation.
	PolicyFail ViolationPolicy = "fail"
)

// JoinPolicy selects which reference snapshot an incremental join reads.
type JoinPolicy string

const (
	// JoinLatest joins each batch against the reference snapshot current at
	// processing time.
	JoinLatest JoinPolicy = "latest"
	// JoinFrozen captures the reference snapshot once at run start.
	JoinFrozen JoinPolicy = "frozen"
)

// Row is a mapping from column name to value. Values are the JSON scalar
// types: string, float64, int64, bool, or nil.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Constraint is a named boolean predicate over a row with a violation policy.
type Constraint struct {
	Name        string
	Expr        string
	OnViolation ViolationPolicy
}

// ColumnSpec declares one output column of a table. An empty Expr passes the
// input column of the same name through; otherwise Expr is evaluated per row.
type ColumnSpec struct {
	Name string
	Expr string
}

// JoinSpec declares an inner join between an incremental input and a full input.
type JoinSpec struct {
	Left   string
	Right  string
	On     []string
	Policy JoinPolicy
}

// Aggregation declares one aggregated output column.
type Aggregation struct {
	Column string
	Op     string // count, sum, min, max, avg
	As     string
}

// TableSpec is the declared definition of one table.
type TableSpec struct {
	Name           string
	Kind           TableKind
	Comment        string
	Inputs         []string
	LandingZone    string // source tables: name of the landing zone to read
	Reference      string // full tables: name of the reference source to read
	Columns        []ColumnSpec
	Join           *JoinSpec
	GroupBy        []string
	Aggregations   []Aggregation
	Constraints    []Constraint
	ClusterBy      []string // opaque layout hint, passed through to storage
	TimeoutSeconds int
}

// Incremental reports whether the table consumes only new records per run.
func (t *TableSpec) Incremental() bool {
	return t.Kind == TableKindSource || t.Kind == TableKindIncremental
}

// LandingZoneSpec declares an append-only file landing zone.
type LandingZoneSpec struct {
	Name   string
	Type   string // dir or s3
	Path   string // dir: directory path; s3: key prefix
	Format string // json or csv
	Bucket string // s3 only
	Region string // s3 only
}

// ReferenceSpec declares a full-snapshot external reference source.
type ReferenceSpec struct {
	Name   string
	Path   string
	Format string // json or csv
}

// PipelineDefinition is the complete declared pipeline, passed explicitly to
// the resolver and executor.
type PipelineDefinition struct {
	Name         string
	Schedule     string // cron expression, empty for manual-only pipelines
	LandingZones []LandingZoneSpec
	References   []ReferenceSpec
	Tables       []TableSpec
}

// Table returns the declared table with the given name, or nil.
func (d *PipelineDefinition) Table(name string) *TableSpec {
	for i := range d.Tables {
		if d.Tables[i].Name == name {
			return &d.Tables[i]
		}
	}
	return nil
}

// NewID returns a new unique identifier.
func NewID() string {
	return uuid.New().String()
}
