package domain

import "time"

// Pipeline run statuses.
const (
	RunStatusPending   = "PENDING"
	RunStatusRunning   = "RUNNING"
	RunStatusSuccess   = "SUCCESS"
	RunStatusFailed    = "FAILED"
	RunStatusCancelled = "CANCELLED"
)

// Table run statuses.
const (
	TableRunStatusPending   = "PENDING"
	TableRunStatusRunning   = "RUNNING"
	TableRunStatusSuccess   = "SUCCESS"
	TableRunStatusFailed    = "FAILED"
	TableRunStatusSkipped   = "SKIPPED"
	TableRunStatusCancelled = "CANCELLED"
)

// Run trigger types.
const (
	TriggerTypeManual    = "manual"
	TriggerTypeScheduled = "scheduled"
)

// Run is one execution of a pipeline.
type Run struct {
	ID           string
	Pipeline     string
	Status       string
	TriggerType  string
	ErrorMessage *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// TableRun is the execution record of one table within a run.
type TableRun struct {
	ID           string
	RunID        string
	TableName    string
	Status       string
	ErrorMessage *string
	RowsWritten  int64
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// Checkpoint tracks the last consumed upstream position for an incrementally
// materialized table. Positions advance monotonically and are committed in the
// same transaction as the batch rows they cover.
type Checkpoint struct {
	Table    string
	Upstream string
	Position string
}

// ConstraintReport is the per-batch outcome of one constraint.
type ConstraintReport struct {
	Constraint   string          `json:"constraint"`
	Policy       ViolationPolicy `json:"policy"`
	RowsChecked  int             `json:"rows_checked"`
	RowsViolated int             `json:"rows_violated"`
	Action       string          `json:"action"` // kept, dropped, aborted
}

// QualityReport aggregates the constraint outcomes for one committed batch.
type QualityReport struct {
	Table       string             `json:"table"`
	BatchID     string             `json:"batch_id"`
	Constraints []ConstraintReport `json:"constraints"`
}

// BatchCommit is the atomic unit of a table write: all rows of the batch, the
// checkpoint advances they cover, and the quality report, committed together
// or not at all. Replace indicates a full-refresh commit that supersedes the
// table's previous state.
type BatchCommit struct {
	Table       string
	BatchID     string
	Replace     bool
	Rows        []Row
	Checkpoints []Checkpoint
	Report      *QualityReport
}
