package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lakerun/internal/constraint"
	"lakerun/internal/domain"
)

// runState tracks per-table outcomes across levels of one run.
type runState struct {
	mu       sync.Mutex
	statuses map[string]string // table name → table run status
	frozen   map[string][]domain.Row
}

func (s *runState) set(table, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[table] = status
}

func (s *runState) upstreamsSucceeded(t *domain.TableSpec) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range t.Inputs {
		if s.statuses[in] != domain.TableRunStatusSuccess {
			return false
		}
	}
	return true
}

// executeRun drives one pipeline run level by level. Tables within a level
// run concurrently; a table runs only if every upstream succeeded in this
// run, otherwise it is skipped and its own dependents skip in turn.
// Independent siblings of a failed table are unaffected.
func (r *Runner) executeRun(ctx context.Context, run *domain.Run, tableRunIDs map[string]string) error {
	logger := r.logger.With("run_id", run.ID, "pipeline", r.def.Name)

	if err := r.runs.UpdateRunStarted(ctx, run.ID); err != nil {
		return fmt.Errorf("update run started: %w", err)
	}

	state := &runState{statuses: make(map[string]string, len(r.def.Tables))}
	if err := r.freezeSnapshots(ctx, state); err != nil {
		errMsg := err.Error()
		_ = r.runs.UpdateRunFinished(ctx, run.ID, domain.RunStatusFailed, &errMsg)
		return err
	}

	for _, level := range r.levels {
		g, levelCtx := errgroup.WithContext(ctx)
		for _, name := range level {
			t := r.def.Table(name)
			trID := tableRunIDs[name]
			g.Go(func() error {
				r.executeTable(levelCtx, t, trID, state, logger)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}

	// Finalize.
	if ctx.Err() != nil {
		errMsg := "run cancelled"
		_ = r.runs.UpdateRunFinished(context.WithoutCancel(ctx), run.ID, domain.RunStatusCancelled, &errMsg)
		return ctx.Err()
	}

	failed := false
	state.mu.Lock()
	for _, st := range state.statuses {
		if st == domain.TableRunStatusFailed {
			failed = true
		}
	}
	state.mu.Unlock()

	if failed {
		errMsg := "one or more tables failed"
		if err := r.runs.UpdateRunFinished(ctx, run.ID, domain.RunStatusFailed, &errMsg); err != nil {
			return err
		}
		return domain.ErrValidation("run %s: one or more tables failed", run.ID)
	}
	return r.runs.UpdateRunFinished(ctx, run.ID, domain.RunStatusSuccess, nil)
}

// freezeSnapshots captures the right-side state of frozen-policy joins before
// any level executes, so those joins see the reference as of run start.
func (r *Runner) freezeSnapshots(ctx context.Context, state *runState) error {
	for i := range r.def.Tables {
		t := &r.def.Tables[i]
		if t.Join == nil || t.Join.Policy != domain.JoinFrozen {
			continue
		}
		rows, err := r.state.Rows(ctx, t.Join.Right)
		if err != nil {
			return fmt.Errorf("freeze snapshot of %q: %w", t.Join.Right, err)
		}
		if state.frozen == nil {
			state.frozen = map[string][]domain.Row{}
		}
		state.frozen[t.Join.Right] = rows
	}
	return nil
}

// executeTable runs one table to completion and records its outcome. Errors
// never propagate: a failed table is recorded so dependents skip, while
// siblings continue.
func (r *Runner) executeTable(ctx context.Context, t *domain.TableSpec, tableRunID string, state *runState, logger *slog.Logger) {
	logger = logger.With("table", t.Name)

	if ctx.Err() != nil {
		state.set(t.Name, domain.TableRunStatusCancelled)
		_ = r.runs.UpdateTableRunFinished(context.WithoutCancel(ctx), tableRunID, domain.TableRunStatusCancelled, nil, 0)
		return
	}

	if !state.upstreamsSucceeded(t) {
		logger.Info("skipping table, upstream did not succeed")
		state.set(t.Name, domain.TableRunStatusSkipped)
		_ = r.runs.UpdateTableRunFinished(ctx, tableRunID, domain.TableRunStatusSkipped, nil, 0)
		return
	}

	if err := r.runs.UpdateTableRunStarted(ctx, tableRunID); err != nil {
		logger.Error("update table run started", "error", err)
		state.set(t.Name, domain.TableRunStatusFailed)
		return
	}

	tableCtx := ctx
	if t.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		tableCtx, cancel = context.WithTimeout(ctx, time.Duration(t.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	rowsWritten, err := r.materializeTable(tableCtx, t, state)
	if err != nil {
		logger.Warn("table batch failed", "error", err)
		errMsg := err.Error()
		state.set(t.Name, domain.TableRunStatusFailed)
		_ = r.runs.UpdateTableRunFinished(context.WithoutCancel(ctx), tableRunID, domain.TableRunStatusFailed, &errMsg, 0)
		return
	}

	logger.Info("table batch committed", "rows", rowsWritten)
	state.set(t.Name, domain.TableRunStatusSuccess)
	_ = r.runs.UpdateTableRunFinished(ctx, tableRunID, domain.TableRunStatusSuccess, nil, rowsWritten)
}

// materializeTable executes the table's transformation against its resolved
// inputs, applies constraints, and commits the batch atomically with its
// checkpoint advances. Nothing is written on any error path.
func (r *Runner) materializeTable(ctx context.Context, t *domain.TableSpec, state *runState) (int64, error) {
	tr := &tracker{state: r.state}

	var (
		rows        []domain.Row
		checkpoints []domain.Checkpoint
		replace     bool
		err         error
	)

	switch t.Kind {
	case domain.TableKindSource:
		zone, ok := r.zones[t.LandingZone]
		if !ok {
			return 0, domain.ErrValidation("table %q: landing zone %q not configured", t.Name, t.LandingZone)
		}
		rows, checkpoints, err = tr.newLandingRecords(ctx, t.Name, zone)
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 && len(checkpoints) == 0 {
			return 0, nil // nothing new this run
		}

	case domain.TableKindIncremental:
		rows, checkpoints, err = r.incrementalInput(ctx, t, tr, state)
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 && len(checkpoints) == 0 {
			return 0, nil
		}

	case domain.TableKindFull:
		ref, ok := r.refs[t.Reference]
		if !ok {
			return 0, domain.ErrValidation("table %q: reference %q not configured", t.Name, t.Reference)
		}
		rows, err = ref.CurrentSnapshot(ctx)
		if err != nil {
			return 0, err
		}
		replace = true

	case domain.TableKindAggregate:
		var input []domain.Row
		for _, in := range t.Inputs {
			upstream, err := r.state.Rows(ctx, in)
			if err != nil {
				return 0, err
			}
			input = append(input, upstream...)
		}
		rows, err = applyAggregations(t, input)
		if err != nil {
			return 0, err
		}
		replace = true

	default:
		return 0, domain.ErrValidation("table %q: unknown kind %q", t.Name, t.Kind)
	}

	if t.Kind != domain.TableKindAggregate {
		rows, err = applyProjection(t, rows)
		if err != nil {
			return 0, err
		}
	}

	result, err := constraint.Apply(t.Name, t.Constraints, rows)
	if err != nil {
		return 0, err
	}

	commit := domain.BatchCommit{
		Table:       t.Name,
		BatchID:     batchID(t.Name, checkpoints),
		Replace:     replace,
		Rows:        result.Rows,
		Checkpoints: checkpoints,
	}
	if len(result.Reports) > 0 {
		commit.Report = &domain.QualityReport{
			Table:       t.Name,
			BatchID:     commit.BatchID,
			Constraints: result.Reports,
		}
	}
	if err := r.state.CommitBatch(ctx, commit); err != nil {
		return 0, fmt.Errorf("commit batch for table %q: %w", t.Name, err)
	}
	return int64(len(result.Rows)), nil
}

// incrementalInput gathers the new upstream rows for an incremental table:
// either a join of the new stream rows against the full-side snapshot, or the
// concatenated new rows of its incremental inputs.
func (r *Runner) incrementalInput(ctx context.Context, t *domain.TableSpec, tr *tracker, state *runState) ([]domain.Row, []domain.Checkpoint, error) {
	if t.Join != nil {
		leftRows, checkpoints, err := tr.newTableRecords(ctx, t.Name, t.Join.Left)
		if err != nil {
			return nil, nil, err
		}
		if len(leftRows) == 0 && len(checkpoints) == 0 {
			return nil, nil, nil
		}

		var rightRows []domain.Row
		if t.Join.Policy == domain.JoinFrozen {
			state.mu.Lock()
			rightRows = state.frozen[t.Join.Right]
			state.mu.Unlock()
		} else {
			rightRows, err = r.state.Rows(ctx, t.Join.Right)
			if err != nil {
				return nil, nil, err
			}
		}

		joined, err := applyJoin(t, leftRows, rightRows)
		if err != nil {
			return nil, nil, err
		}
		return joined, checkpoints, nil
	}

	var (
		rows        []domain.Row
		checkpoints []domain.Checkpoint
	)
	for _, in := range t.Inputs {
		upstream := r.def.Table(in)
		if upstream == nil || !upstream.Incremental() {
			return nil, nil, domain.ErrValidation("table %q: input %q is not incremental; declare a join to read full snapshots", t.Name, in)
		}
		newRows, cps, err := tr.newTableRecords(ctx, t.Name, in)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, newRows...)
		checkpoints = append(checkpoints, cps...)
	}
	return rows, checkpoints, nil
}

// batchID derives a deterministic batch identifier from the checkpoint
// positions the batch covers, so a retried batch replaces rather than
// duplicates its rows. Replace-mode commits get a fresh ID; they supersede
// the whole table anyway.
func batchID(table string, checkpoints []domain.Checkpoint) string {
	if len(checkpoints) == 0 {
		return domain.NewID()
	}
	parts := make([]string, len(checkpoints))
	for i, cp := range checkpoints {
		parts[i] = cp.Upstream + "=" + cp.Position
	}
	sort.Strings(parts)

	h := fnv.New64a()
	_, _ = h.Write([]byte(table))
	_, _ = h.Write([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%s-%016x", table, h.Sum64())
}
