package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakerun/internal/domain"
)

func balanceRows(balances ...float64) []domain.Row {
	rows := make([]domain.Row, len(balances))
	for i, b := range balances {
		rows[i] = domain.Row{"id": int64(i + 1), "balance": b}
	}
	return rows
}

func TestApply_NoConstraints(t *testing.T) {
	rows := balanceRows(1, 2)

	res, err := Apply("t", nil, rows)
	require.NoError(t, err)
	assert.Equal(t, rows, res.Rows)
	assert.Empty(t, res.Reports)
}

func TestApply_WarnKeepsAndCounts(t *testing.T) {
	rows := balanceRows(10, -5, 20)

	res, err := Apply("t", []domain.Constraint{
		{Name: "positive", Expr: "balance >= 0", OnViolation: domain.PolicyWarn},
	}, rows)
	require.NoError(t, err)

	assert.Len(t, res.Rows, 3)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, 3, res.Reports[0].RowsChecked)
	assert.Equal(t, 1, res.Reports[0].RowsViolated)
	assert.Equal(t, "kept", res.Reports[0].Action)
}

func TestApply_DropExcludesViolatingRows(t *testing.T) {
	rows := balanceRows(10, -5, 20, -1, 30)

	res, err := Apply("t", []domain.Constraint{
		{Name: "positive", Expr: "balance >= 0", OnViolation: domain.PolicyDrop},
	}, rows)
	require.NoError(t, err)

	require.Len(t, res.Rows, 3)
	for _, row := range res.Rows {
		assert.GreaterOrEqual(t, row["balance"], 0.0)
	}
	assert.Equal(t, 2, res.Reports[0].RowsViolated)
	assert.Equal(t, "dropped", res.Reports[0].Action)
}

func TestApply_DropIsCumulative(t *testing.T) {
	rows := []domain.Row{
		{"id": int64(1), "balance": 10.0, "cc": "a"},
		{"id": int64(2), "balance": -1.0, "cc": "a"},
		{"id": int64(3), "balance": 10.0, "cc": ""},
	}

	res, err := Apply("t", []domain.Constraint{
		{Name: "positive", Expr: "balance >= 0", OnViolation: domain.PolicyDrop},
		{Name: "has_cc", Expr: `cc != ""`, OnViolation: domain.PolicyDrop},
	}, rows)
	require.NoError(t, err)

	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(1), res.Rows[0]["id"])
}

func TestApply_FailAbortsWithSamples(t *testing.T) {
	rows := balanceRows(1, -2, -3, -4, -5, -6, -7)

	res, err := Apply("t", []domain.Constraint{
		{Name: "positive", Expr: "balance >= 0", OnViolation: domain.PolicyFail},
	}, rows)
	require.Error(t, err)
	assert.Nil(t, res)

	var cve *domain.ConstraintViolationError
	require.ErrorAs(t, err, &cve)
	assert.Equal(t, "t", cve.Table)
	assert.Equal(t, "positive", cve.Constraint)
	assert.Len(t, cve.Samples, 5)
	assert.Equal(t, int64(2), cve.Samples[0]["id"])
}

func TestApply_FailShortCircuitsBeforeLaterConstraints(t *testing.T) {
	rows := balanceRows(-1)

	res, err := Apply("t", []domain.Constraint{
		{Name: "positive", Expr: "balance >= 0", OnViolation: domain.PolicyFail},
		{Name: "broken", Expr: "undefined_column > 0", OnViolation: domain.PolicyWarn},
	}, rows)
	require.Error(t, err)
	assert.Nil(t, res)

	var cve *domain.ConstraintViolationError
	assert.ErrorAs(t, err, &cve)
}

func TestApply_EvalErrorAbortsBatch(t *testing.T) {
	rows := balanceRows(1)

	_, err := Apply("t", []domain.Constraint{
		{Name: "broken", Expr: "missing_column > 0", OnViolation: domain.PolicyWarn},
	}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `evaluate constraint "broken"`)
}
