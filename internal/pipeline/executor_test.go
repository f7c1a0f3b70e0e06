package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakerun/internal/db"
	"lakerun/internal/db/repository"
	"lakerun/internal/domain"
	"lakerun/internal/source"
)

type runnerFixture struct {
	runner     *Runner
	state      domain.StateRepository
	runs       domain.RunRepository
	landingDir string
}

// loanDefinition is the definition under test: a dir landing zone feeding a
// source table, a reference snapshot, a joined incremental table with
// expectations, and an aggregate on top.
func loanDefinition(joinPolicy domain.JoinPolicy, constraints []domain.Constraint) *domain.PipelineDefinition {
	return &domain.PipelineDefinition{
		Name: "loans",
		Tables: []domain.TableSpec{
			{Name: "raw_txs", Kind: domain.TableKindSource, LandingZone: "txs"},
			{Name: "ref_accounting", Kind: domain.TableKindFull, Reference: "accounting"},
			{
				Name:   "cleaned_txs",
				Kind:   domain.TableKindIncremental,
				Inputs: []string{"raw_txs", "ref_accounting"},
				Join: &domain.JoinSpec{
					Left:   "raw_txs",
					Right:  "ref_accounting",
					On:     []string{"treatment_id"},
					Policy: joinPolicy,
				},
				Constraints: constraints,
			},
			{
				Name:   "total_balances",
				Kind:   domain.TableKindAggregate,
				Inputs: []string{"cleaned_txs"},
				Aggregations: []domain.Aggregation{
					{Op: "sum", Column: "balance", As: "total_balance"},
					{Op: "count", As: "tx_count"},
				},
			},
		},
	}
}

func setupRunner(t *testing.T, def *domain.PipelineDefinition) *runnerFixture {
	t.Helper()

	writeDB, _ := db.OpenTestSQLite(t)
	state := repository.NewStateRepo(writeDB)
	runs := repository.NewRunRepo(writeDB)

	landingDir := filepath.Join(t.TempDir(), "txs")
	require.NoError(t, os.MkdirAll(landingDir, 0o755))

	refPath := filepath.Join(t.TempDir(), "ref_accounting.json")
	require.NoError(t, os.WriteFile(refPath, []byte(
		`[{"treatment_id": 10, "treatment": "held"}, {"treatment_id": 20, "treatment": "sold"}]`,
	), 0o644))

	zones := map[string]source.LandingZone{
		"txs": source.NewDirLandingZone("txs", landingDir, "json"),
	}
	refs := map[string]source.ReferenceSource{
		"accounting": source.NewFileReference("accounting", refPath, "json"),
	}

	runner, err := NewRunner(def, state, runs, zones, refs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	return &runnerFixture{runner: runner, state: state, runs: runs, landingDir: landingDir}
}

func (f *runnerFixture) addLandingFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.landingDir, name), []byte(content), 0o644))
}

func tableStatuses(t *testing.T, f *runnerFixture, runID string) map[string]string {
	t.Helper()
	trs, err := f.runs.ListTableRuns(context.Background(), runID)
	require.NoError(t, err)
	statuses := make(map[string]string, len(trs))
	for _, tr := range trs {
		statuses[tr.TableName] = tr.Status
	}
	return statuses
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	f := setupRunner(t, loanDefinition(domain.JoinLatest, nil))
	f.addLandingFile(t, "txs_001.json", `[
		{"id": 1, "treatment_id": 10, "balance": 100.5},
		{"id": 2, "treatment_id": 20, "balance": 50},
		{"id": 3, "treatment_id": 99, "balance": 7}
	]`)

	run, err := f.runner.Execute(ctx, domain.TriggerTypeManual)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, domain.TriggerTypeManual, run.TriggerType)
	require.NotNil(t, run.FinishedAt)

	statuses := tableStatuses(t, f, run.ID)
	for _, name := range []string{"raw_txs", "ref_accounting", "cleaned_txs", "total_balances"} {
		assert.Equal(t, domain.TableRunStatusSuccess, statuses[name], name)
	}

	rawCount, err := f.state.RowCount(ctx, "raw_txs")
	require.NoError(t, err)
	assert.EqualValues(t, 3, rawCount)

	// The unmatched treatment_id 99 row is excluded by the join.
	cleaned, err := f.state.Rows(ctx, "cleaned_txs")
	require.NoError(t, err)
	require.Len(t, cleaned, 2)
	assert.Equal(t, "held", cleaned[0]["treatment"])

	totals, err := f.state.Rows(ctx, "total_balances")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, 150.5, totals[0]["total_balance"])
	assert.Equal(t, int64(2), totals[0]["tx_count"])

	pos, err := f.state.Checkpoint(ctx, "raw_txs", "zone:txs")
	require.NoError(t, err)
	assert.Equal(t, "txs_001.json", pos)
}

func TestExecute_SecondRunIsIncremental(t *testing.T) {
	ctx := context.Background()
	f := setupRunner(t, loanDefinition(domain.JoinLatest, nil))
	f.addLandingFile(t, "txs_001.json", `[{"id": 1, "treatment_id": 10, "balance": 100}]`)

	_, err := f.runner.Execute(ctx, domain.TriggerTypeManual)
	require.NoError(t, err)

	// Nothing new: a second run succeeds and commits no stream rows.
	run, err := f.runner.Execute(ctx, domain.TriggerTypeManual)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)

	rawCount, err := f.state.RowCount(ctx, "raw_txs")
	require.NoError(t, err)
	assert.EqualValues(t, 1, rawCount)
	cleanedCount, err := f.state.RowCount(ctx, "cleaned_txs")
	require.NoError(t, err)
	assert.EqualValues(t, 1, cleanedCount)

	// A third run picks up only the appended file.
	f.addLandingFile(t, "txs_002.json", `[{"id": 2, "treatment_id": 20, "balance": 50}]`)
	_, err = f.runner.Execute(ctx, domain.TriggerTypeManual)
	require.NoError(t, err)

	cleanedCount, err = f.state.RowCount(ctx, "cleaned_txs")
	require.NoError(t, err)
	assert.EqualValues(t, 2, cleanedCount)

	totals, err := f.state.Rows(ctx, "total_balances")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, int64(150), totals[0]["total_balance"])
}

func TestExecute_UpstreamFailureSkipsDependents(t *testing.T) {
	ctx := context.Background()
	f := setupRunner(t, loanDefinition(domain.JoinLatest, nil))
	// Remove the landing dir so the source table fails.
	require.NoError(t, os.RemoveAll(f.landingDir))

	run, err := f.runner.Execute(ctx, domain.TriggerTypeManual)
	require.Error(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)

	statuses := tableStatuses(t, f, run.ID)
	assert.Equal(t, domain.TableRunStatusFailed, statuses["raw_txs"])
	assert.Equal(t, domain.TableRunStatusSkipped, statuses["cleaned_txs"])
	assert.Equal(t, domain.TableRunStatusSkipped, statuses["total_balances"])
	// The reference table does not depend on the broken zone.
	assert.Equal(t, domain.TableRunStatusSuccess, statuses["ref_accounting"])
}

func TestExecute_FailConstraintAbortsBatch(t *testing.T) {
	ctx := context.Background()
	f := setupRunner(t, loanDefinition(domain.JoinLatest, []domain.Constraint{
		{Name: "balance_positive", Expr: "balance >= 0", OnViolation: domain.PolicyFail},
	}))
	f.addLandingFile(t, "txs_001.json", `[{"id": 1, "treatment_id": 10, "balance": -12}]`)

	run, err := f.runner.Execute(ctx, domain.TriggerTypeManual)
	require.Error(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)

	statuses := tableStatuses(t, f, run.ID)
	assert.Equal(t, domain.TableRunStatusFailed, statuses["cleaned_txs"])

	// Nothing committed, checkpoint not advanced: the batch retries next run.
	count, err := f.state.RowCount(ctx, "cleaned_txs")
	require.NoError(t, err)
	assert.Zero(t, count)
	pos, err := f.state.Checkpoint(ctx, "cleaned_txs", "raw_txs")
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestExecute_DropConstraintReports(t *testing.T) {
	ctx := context.Background()
	f := setupRunner(t, loanDefinition(domain.JoinLatest, []domain.Constraint{
		{Name: "balance_positive", Expr: "balance >= 0", OnViolation: domain.PolicyDrop},
	}))
	f.addLandingFile(t, "txs_001.json", `[
		{"id": 1, "treatment_id": 10, "balance": 100},
		{"id": 2, "treatment_id": 10, "balance": -12}
	]`)

	run, err := f.runner.Execute(ctx, domain.TriggerTypeManual)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)

	cleaned, err := f.state.Rows(ctx, "cleaned_txs")
	require.NoError(t, err)
	require.Len(t, cleaned, 1)
	assert.Equal(t, int64(1), cleaned[0]["id"])

	reports, err := f.state.QualityReports(ctx, "cleaned_txs")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Len(t, reports[0].Constraints, 1)
	cr := reports[0].Constraints[0]
	assert.Equal(t, "balance_positive", cr.Constraint)
	assert.EqualValues(t, 2, cr.RowsChecked)
	assert.EqualValues(t, 1, cr.RowsViolated)
	assert.Equal(t, "dropped", cr.Action)
}

func TestExecute_FrozenJoinUsesRunStartSnapshot(t *testing.T) {
	ctx := context.Background()
	f := setupRunner(t, loanDefinition(domain.JoinFrozen, nil))
	f.addLandingFile(t, "txs_001.json", `[{"id": 1, "treatment_id": 10, "balance": 100}]`)

	// First run: the snapshot frozen at run start is empty, so the join
	// produces nothing even though ref_accounting loads during the run.
	run, err := f.runner.Execute(ctx, domain.TriggerTypeManual)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)

	count, err := f.state.RowCount(ctx, "cleaned_txs")
	require.NoError(t, err)
	assert.Zero(t, count)

	// The stream still advanced past the batch. The seq is global across
	// tables, so compare against the upstream's own high-water mark.
	pos, err := f.state.Checkpoint(ctx, "cleaned_txs", "raw_txs")
	require.NoError(t, err)
	maxSeq, err := f.state.MaxSeq(ctx, "raw_txs")
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(maxSeq, 10), pos)

	// Second run: the frozen snapshot now holds the reference loaded in run
	// one, so new stream rows join against it.
	f.addLandingFile(t, "txs_002.json", `[{"id": 2, "treatment_id": 20, "balance": 50}]`)
	_, err = f.runner.Execute(ctx, domain.TriggerTypeManual)
	require.NoError(t, err)

	cleaned, err := f.state.Rows(ctx, "cleaned_txs")
	require.NoError(t, err)
	require.Len(t, cleaned, 1)
	assert.Equal(t, "sold", cleaned[0]["treatment"])
}

func TestExecute_RejectsConcurrentRun(t *testing.T) {
	ctx := context.Background()
	f := setupRunner(t, loanDefinition(domain.JoinLatest, nil))

	stuck := &domain.Run{
		ID:          domain.NewID(),
		Pipeline:    "loans",
		Status:      domain.RunStatusRunning,
		TriggerType: domain.TriggerTypeManual,
	}
	require.NoError(t, f.runs.CreateRun(ctx, stuck))

	_, err := f.runner.Execute(ctx, domain.TriggerTypeManual)

	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, err.Error(), "already has an active run")
}

func TestExecute_CancelledContext(t *testing.T) {
	f := setupRunner(t, loanDefinition(domain.JoinLatest, nil))
	f.addLandingFile(t, "txs_001.json", `[{"id": 1, "treatment_id": 10, "balance": 100}]`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner.Execute(ctx, domain.TriggerTypeManual)
	require.ErrorIs(t, err, context.Canceled)

	count, err := f.state.RowCount(context.Background(), "raw_txs")
	require.NoError(t, err)
	assert.Zero(t, count)
}
