// Package constraint evaluates declared data-quality constraints against the
// rows a table produces for one batch.
package constraint

import (
	"fmt"

	"lakerun/internal/domain"
	"lakerun/internal/expr"
)

// maxSampleRows bounds how many offending rows a FAIL violation reports.
const maxSampleRows = 5

// Result is the outcome of applying a table's constraints to one batch.
type Result struct {
	// Rows is the batch output after DROP-policy exclusions.
	Rows []domain.Row
	// Reports holds one entry per declared constraint, in declaration order.
	Reports []domain.ConstraintReport
}

// Apply evaluates each constraint against each row, in declaration order.
//
// The first FAIL-policy violation encountered aborts the batch: Apply returns
// a ConstraintViolationError carrying up to maxSampleRows offending rows and
// no output, so nothing from the batch can be committed. DROP policies are
// cumulative: a row is excluded when any DROP constraint rejects it. Rows
// violating a WARN (default) constraint are kept and counted. Dropped rows
// are reported, never stored.
func Apply(table string, constraints []domain.Constraint, rows []domain.Row) (*Result, error) {
	if len(constraints) == 0 {
		return &Result{Rows: rows}, nil
	}

	reports := make([]domain.ConstraintReport, len(constraints))
	for i, c := range constraints {
		reports[i] = domain.ConstraintReport{
			Constraint: c.Name,
			Policy:     c.OnViolation,
			Action:     actionFor(c.OnViolation),
		}
	}

	kept := make([]domain.Row, 0, len(rows))
	for rowIdx, row := range rows {
		drop := false
		for i, c := range constraints {
			reports[i].RowsChecked++
			ok, err := evalConstraint(table, c, row)
			if err != nil {
				return nil, err
			}
			if ok {
				continue
			}
			reports[i].RowsViolated++

			switch c.OnViolation {
			case domain.PolicyFail:
				samples := collectSamples(table, c, row, rows[rowIdx+1:])
				return nil, &domain.ConstraintViolationError{
					Table:      table,
					Constraint: c.Name,
					Samples:    samples,
				}
			case domain.PolicyDrop:
				drop = true
			}
		}
		if !drop {
			kept = append(kept, row)
		}
	}

	return &Result{Rows: kept, Reports: reports}, nil
}

// collectSamples gathers further rows violating the same FAIL constraint so
// the error is diagnosable without re-running. Evaluation errors during
// sampling are ignored; the batch is already aborted.
func collectSamples(table string, c domain.Constraint, first domain.Row, rest []domain.Row) []domain.Row {
	samples := []domain.Row{first.Clone()}
	for _, row := range rest {
		if len(samples) >= maxSampleRows {
			break
		}
		if ok, err := evalConstraint(table, c, row); err == nil && !ok {
			samples = append(samples, row.Clone())
		}
	}
	return samples
}

func evalConstraint(table string, c domain.Constraint, row domain.Row) (bool, error) {
	ok, err := expr.EvalBool(c.Name, c.Expr, row)
	if err != nil {
		return false, fmt.Errorf("table %q: evaluate constraint %q: %w", table, c.Name, err)
	}
	return ok, nil
}

func actionFor(p domain.ViolationPolicy) string {
	switch p {
	case domain.PolicyDrop:
		return "dropped"
	case domain.PolicyFail:
		return "aborted"
	default:
		return "kept"
	}
}
