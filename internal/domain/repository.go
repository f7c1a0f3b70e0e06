package domain

import "context"

// StateRepository persists committed table state, checkpoints, and quality
// reports. CommitBatch is atomic: either every part of the commit becomes
// visible or none of it does. A commit with a batch ID that was already
// committed replaces that batch's rows, making retries idempotent.
type StateRepository interface {
	CommitBatch(ctx context.Context, commit BatchCommit) error

	// Rows returns the complete committed state of a table.
	Rows(ctx context.Context, table string) ([]Row, error)

	// RowsSince returns committed rows with sequence greater than since,
	// plus the highest sequence seen. The sequence is the restartable
	// position for downstream incremental consumers.
	RowsSince(ctx context.Context, table string, since int64) ([]Row, int64, error)

	// MaxSeq returns the highest committed row sequence for a table, or 0.
	MaxSeq(ctx context.Context, table string) (int64, error)

	// Checkpoint returns the persisted position for (table, upstream), or ""
	// when the table has never committed against that upstream.
	Checkpoint(ctx context.Context, table, upstream string) (string, error)

	// RowCount returns the number of committed rows in a table.
	RowCount(ctx context.Context, table string) (int64, error)

	// QualityReports returns the committed quality reports for a table,
	// newest first.
	QualityReports(ctx context.Context, table string) ([]QualityReport, error)
}

// RunRepository persists pipeline run and table run records.
type RunRepository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, pipeline string, limit int) ([]Run, error)
	CountActiveRuns(ctx context.Context, pipeline string) (int64, error)

	// FailAbandonedRuns marks PENDING and RUNNING runs of a pipeline, and
	// their unfinished table runs, as failed. Called at process startup,
	// when no run can legitimately be active, so a crash mid-run does not
	// block the pipeline forever. Returns the number of runs reaped.
	FailAbandonedRuns(ctx context.Context, pipeline string) (int64, error)

	UpdateRunStarted(ctx context.Context, id string) error
	UpdateRunFinished(ctx context.Context, id string, status string, errorMsg *string) error

	CreateTableRun(ctx context.Context, tr *TableRun) error
	ListTableRuns(ctx context.Context, runID string) ([]TableRun, error)
	UpdateTableRunStarted(ctx context.Context, id string) error
	UpdateTableRunFinished(ctx context.Context, id string, status string, errorMsg *string, rowsWritten int64) error
}
