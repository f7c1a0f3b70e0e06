package repository

import (
	"context"
	"database/sql"
	"time"

	"lakerun/internal/domain"
)

// Compile-time check.
var _ domain.RunRepository = (*RunRepo)(nil)

// RunRepo implements RunRepository using SQLite.
type RunRepo struct {
	db *sql.DB
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

// CreateRun inserts a new pipeline run and fills in its creation time.
func (r *RunRepo) CreateRun(ctx context.Context, run *domain.Run) error {
	now := time.Now().UTC().Truncate(time.Second)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, pipeline, status, trigger_type, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Pipeline, run.Status, run.TriggerType, now.Format(sqliteTimeFormat))
	if err != nil {
		return mapDBError(err)
	}
	run.CreatedAt = now
	return nil
}

// GetRun returns a pipeline run by its ID.
func (r *RunRepo) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, pipeline, status, trigger_type, error_message, created_at, started_at, finished_at
		 FROM pipeline_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return run, nil
}

// ListRuns returns the most recent runs of a pipeline, newest first.
func (r *RunRepo) ListRuns(ctx context.Context, pipeline string, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, pipeline, status, trigger_type, error_message, created_at, started_at, finished_at
		 FROM pipeline_runs WHERE pipeline = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		pipeline, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// CountActiveRuns returns the number of PENDING or RUNNING runs for a pipeline.
func (r *RunRepo) CountActiveRuns(ctx context.Context, pipeline string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pipeline_runs WHERE pipeline = ? AND status IN (?, ?)`,
		pipeline, domain.RunStatusPending, domain.RunStatusRunning).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// FailAbandonedRuns fails any run left PENDING or RUNNING by a previous
// process, together with its unfinished table runs. A stale active run would
// otherwise trip the one-active-run gate on every future trigger.
func (r *RunRepo) FailAbandonedRuns(ctx context.Context, pipeline string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE table_runs
		 SET status = ?, finished_at = CURRENT_TIMESTAMP
		 WHERE status IN (?, ?)
		   AND run_id IN (SELECT id FROM pipeline_runs WHERE pipeline = ? AND status IN (?, ?))`,
		domain.TableRunStatusCancelled,
		domain.TableRunStatusPending, domain.TableRunStatusRunning,
		pipeline, domain.RunStatusPending, domain.RunStatusRunning)
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE pipeline_runs
		 SET status = ?, error_message = ?, finished_at = CURRENT_TIMESTAMP
		 WHERE pipeline = ? AND status IN (?, ?)`,
		domain.RunStatusFailed, "run abandoned: process exited before the run finished",
		pipeline, domain.RunStatusPending, domain.RunStatusRunning)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// UpdateRunStarted marks a pipeline run as started.
func (r *RunRepo) UpdateRunStarted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, started_at = CURRENT_TIMESTAMP WHERE id = ?`,
		domain.RunStatusRunning, id)
	return mapDBError(err)
}

// UpdateRunFinished marks a pipeline run as finished with a final status.
func (r *RunRepo) UpdateRunFinished(ctx context.Context, id string, status string, errorMsg *string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_runs
		 SET status = ?, error_message = ?, finished_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		status, nullStrFromPtr(errorMsg), id)
	return mapDBError(err)
}

// CreateTableRun inserts a new table run record.
func (r *RunRepo) CreateTableRun(ctx context.Context, tr *domain.TableRun) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO table_runs (id, run_id, table_name, status) VALUES (?, ?, ?, ?)`,
		tr.ID, tr.RunID, tr.TableName, tr.Status)
	return mapDBError(err)
}

// ListTableRuns returns all table runs of a pipeline run in creation order.
func (r *RunRepo) ListTableRuns(ctx context.Context, runID string) ([]domain.TableRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, table_name, status, error_message, rows_written, started_at, finished_at
		 FROM table_runs WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trs []domain.TableRun
	for rows.Next() {
		var tr domain.TableRun
		var errMsg sql.NullString
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&tr.ID, &tr.RunID, &tr.TableName, &tr.Status,
			&errMsg, &tr.RowsWritten, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		tr.ErrorMessage = strPtrFromNull(errMsg)
		tr.StartedAt = timePtrFromNull(startedAt)
		tr.FinishedAt = timePtrFromNull(finishedAt)
		trs = append(trs, tr)
	}
	return trs, rows.Err()
}

// UpdateTableRunStarted marks a table run as started.
func (r *RunRepo) UpdateTableRunStarted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE table_runs SET status = ?, started_at = CURRENT_TIMESTAMP WHERE id = ?`,
		domain.TableRunStatusRunning, id)
	return mapDBError(err)
}

// UpdateTableRunFinished marks a table run as finished with a final status.
func (r *RunRepo) UpdateTableRunFinished(ctx context.Context, id string, status string, errorMsg *string, rowsWritten int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE table_runs
		 SET status = ?, error_message = ?, rows_written = ?, finished_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		status, nullStrFromPtr(errorMsg), rowsWritten, id)
	return mapDBError(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*domain.Run, error) {
	var run domain.Run
	var errMsg sql.NullString
	var createdAt, startedAt, finishedAt sql.NullTime
	if err := s.Scan(&run.ID, &run.Pipeline, &run.Status, &run.TriggerType,
		&errMsg, &createdAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.ErrorMessage = strPtrFromNull(errMsg)
	if createdAt.Valid {
		run.CreatedAt = createdAt.Time.UTC()
	}
	run.StartedAt = timePtrFromNull(startedAt)
	run.FinishedAt = timePtrFromNull(finishedAt)
	return &run, nil
}
