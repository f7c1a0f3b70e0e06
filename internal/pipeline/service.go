package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"lakerun/internal/domain"
	"lakerun/internal/source"
)

// Runner executes runs of one declared pipeline against its state store and
// configured sources. The definition is resolved once at construction;
// dependency-graph errors are fatal before any run starts.
type Runner struct {
	def    *domain.PipelineDefinition
	levels [][]string
	state  domain.StateRepository
	runs   domain.RunRepository
	zones  map[string]source.LandingZone
	refs   map[string]source.ReferenceSource
	logger *slog.Logger
}

// NewRunner resolves the definition's dependency graph and builds a runner.
func NewRunner(
	def *domain.PipelineDefinition,
	state domain.StateRepository,
	runs domain.RunRepository,
	zones map[string]source.LandingZone,
	refs map[string]source.ReferenceSource,
	logger *slog.Logger,
) (*Runner, error) {
	levels, err := ResolveExecutionOrder(def)
	if err != nil {
		return nil, err
	}
	return &Runner{
		def:    def,
		levels: levels,
		state:  state,
		runs:   runs,
		zones:  zones,
		refs:   refs,
		logger: logger,
	}, nil
}

// Definition returns the pipeline definition the runner executes.
func (r *Runner) Definition() *domain.PipelineDefinition { return r.def }

// Levels returns the resolved execution levels.
func (r *Runner) Levels() [][]string { return r.levels }

// TableRuns returns the per-table execution records of a run.
func (r *Runner) TableRuns(ctx context.Context, runID string) ([]domain.TableRun, error) {
	return r.runs.ListTableRuns(ctx, runID)
}

// Execute performs one batch run of the pipeline to completion. At most one
// run per pipeline may be active; a second concurrent trigger is rejected.
// Cancelling ctx before a table's commit leaves that table untouched.
func (r *Runner) Execute(ctx context.Context, triggerType string) (*domain.Run, error) {
	active, err := r.runs.CountActiveRuns(ctx, r.def.Name)
	if err != nil {
		return nil, fmt.Errorf("count active runs: %w", err)
	}
	if active > 0 {
		return nil, domain.ErrValidation("pipeline %q already has an active run", r.def.Name)
	}

	run := &domain.Run{
		ID:          domain.NewID(),
		Pipeline:    r.def.Name,
		Status:      domain.RunStatusPending,
		TriggerType: triggerType,
	}
	if err := r.runs.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	tableRunIDs := make(map[string]string, len(r.def.Tables))
	for _, t := range r.def.Tables {
		tr := &domain.TableRun{
			ID:        domain.NewID(),
			RunID:     run.ID,
			TableName: t.Name,
			Status:    domain.TableRunStatusPending,
		}
		if err := r.runs.CreateTableRun(ctx, tr); err != nil {
			return nil, fmt.Errorf("create table run: %w", err)
		}
		tableRunIDs[t.Name] = tr.ID
	}

	execErr := r.executeRun(ctx, run, tableRunIDs)

	final, err := r.runs.GetRun(context.WithoutCancel(ctx), run.ID)
	if err != nil {
		return run, execErr
	}
	return final, execErr
}
