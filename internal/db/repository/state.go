package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"lakerun/internal/domain"
)

// Compile-time check.
var _ domain.StateRepository = (*StateRepo)(nil)

// StateRepo implements StateRepository using SQLite. Writes go through
// CommitBatch inside a single transaction so a batch's rows, checkpoint
// advances, and quality report become visible together or not at all.
type StateRepo struct {
	db *sql.DB
}

// NewStateRepo creates a new StateRepo. The *sql.DB must be a write pool
// when the repo is used for commits.
func NewStateRepo(db *sql.DB) *StateRepo {
	return &StateRepo{db: db}
}

// CommitBatch atomically persists one materialization batch. Re-committing
// the same batch ID replaces the batch's previous rows, so a retry after a
// failed run produces no duplicates. Replace commits supersede all prior
// rows of the table.
func (r *StateRepo) CommitBatch(ctx context.Context, commit domain.BatchCommit) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if commit.Replace {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM table_rows WHERE table_name = ?`, commit.Table)
	} else {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM table_rows WHERE table_name = ? AND batch_id = ?`,
			commit.Table, commit.BatchID)
	}
	if err != nil {
		return fmt.Errorf("clear previous batch rows: %w", err)
	}

	for _, row := range commit.Rows {
		rowJSON, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal row for table %q: %w", commit.Table, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO table_rows (table_name, batch_id, row_json) VALUES (?, ?, ?)`,
			commit.Table, commit.BatchID, string(rowJSON))
		if err != nil {
			return fmt.Errorf("insert row for table %q: %w", commit.Table, err)
		}
	}

	for _, cp := range commit.Checkpoints {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO checkpoints (table_name, upstream, position)
			 VALUES (?, ?, ?)
			 ON CONFLICT (table_name, upstream)
			 DO UPDATE SET position = excluded.position, updated_at = CURRENT_TIMESTAMP`,
			cp.Table, cp.Upstream, cp.Position)
		if err != nil {
			return fmt.Errorf("upsert checkpoint %q/%q: %w", cp.Table, cp.Upstream, err)
		}
	}

	if commit.Report != nil {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM quality_reports WHERE table_name = ? AND batch_id = ?`,
			commit.Table, commit.BatchID)
		if err != nil {
			return fmt.Errorf("clear previous quality report: %w", err)
		}
		for _, cr := range commit.Report.Constraints {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO quality_reports
				 (table_name, batch_id, constraint_name, policy, rows_checked, rows_violated, action)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				commit.Table, commit.BatchID, cr.Constraint, string(cr.Policy),
				cr.RowsChecked, cr.RowsViolated, cr.Action)
			if err != nil {
				return fmt.Errorf("insert quality report for %q: %w", commit.Table, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch for table %q: %w", commit.Table, err)
	}
	return nil
}

// Rows returns the complete committed state of a table in commit order.
func (r *StateRepo) Rows(ctx context.Context, table string) ([]domain.Row, error) {
	rows, _, err := r.rowsQuery(ctx, table, 0)
	return rows, err
}

// RowsSince returns committed rows with sequence greater than since, plus the
// highest sequence seen. An unchanged table yields no rows and maxSeq == since.
func (r *StateRepo) RowsSince(ctx context.Context, table string, since int64) ([]domain.Row, int64, error) {
	return r.rowsQuery(ctx, table, since)
}

func (r *StateRepo) rowsQuery(ctx context.Context, table string, since int64) ([]domain.Row, int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, row_json FROM table_rows WHERE table_name = ? AND seq > ? ORDER BY seq`,
		table, since)
	if err != nil {
		return nil, 0, fmt.Errorf("query rows for table %q: %w", table, err)
	}
	defer rows.Close()

	var out []domain.Row
	maxSeq := since
	for rows.Next() {
		var seq int64
		var rowJSON string
		if err := rows.Scan(&seq, &rowJSON); err != nil {
			return nil, 0, err
		}
		row := domain.Row{}
		if err := json.Unmarshal([]byte(rowJSON), &row); err != nil {
			return nil, 0, fmt.Errorf("unmarshal row %d of table %q: %w", seq, table, err)
		}
		out = append(out, normalizeRow(row))
		maxSeq = seq
	}
	return out, maxSeq, rows.Err()
}

// MaxSeq returns the highest committed row sequence for a table, or 0.
func (r *StateRepo) MaxSeq(ctx context.Context, table string) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM table_rows WHERE table_name = ?`,
		table).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Checkpoint returns the persisted position for (table, upstream), or ""
// when no commit has been made against that upstream yet.
func (r *StateRepo) Checkpoint(ctx context.Context, table, upstream string) (string, error) {
	var position string
	err := r.db.QueryRowContext(ctx,
		`SELECT position FROM checkpoints WHERE table_name = ? AND upstream = ?`,
		table, upstream).Scan(&position)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return position, nil
}

// RowCount returns the number of committed rows in a table.
func (r *StateRepo) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM table_rows WHERE table_name = ?`, table).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// QualityReports returns the committed quality reports for a table, newest
// batch first, constraints in declaration order within each batch.
func (r *StateRepo) QualityReports(ctx context.Context, table string) ([]domain.QualityReport, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT batch_id, constraint_name, policy, rows_checked, rows_violated, action
		 FROM quality_reports WHERE table_name = ? ORDER BY id`,
		table)
	if err != nil {
		return nil, fmt.Errorf("query quality reports for table %q: %w", table, err)
	}
	defer rows.Close()

	var reports []domain.QualityReport
	for rows.Next() {
		var batchID string
		var cr domain.ConstraintReport
		var policy string
		if err := rows.Scan(&batchID, &cr.Constraint, &policy,
			&cr.RowsChecked, &cr.RowsViolated, &cr.Action); err != nil {
			return nil, err
		}
		cr.Policy = domain.ViolationPolicy(policy)

		if len(reports) == 0 || reports[len(reports)-1].BatchID != batchID {
			reports = append(reports, domain.QualityReport{Table: table, BatchID: batchID})
		}
		last := &reports[len(reports)-1]
		last.Constraints = append(last.Constraints, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Insertion order is oldest first.
	for i, j := 0, len(reports)-1; i < j; i, j = i+1, j-1 {
		reports[i], reports[j] = reports[j], reports[i]
	}
	return reports, nil
}

// normalizeRow restores the integer typing that a JSON round trip loses.
// Whole-number float64 values come back as int64 so that committed rows
// compare equal to the rows that produced them.
func normalizeRow(row domain.Row) domain.Row {
	for k, v := range row {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			row[k] = int64(f)
		}
	}
	return row
}
