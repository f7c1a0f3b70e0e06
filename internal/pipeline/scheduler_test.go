package pipeline

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakerun/internal/domain"
)

func TestScheduler_Add(t *testing.T) {
	f := setupRunner(t, loanDefinition(domain.JoinLatest, nil))
	f.runner.Definition().Schedule = "0 * * * *"

	s := NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Add(f.runner))
	assert.Len(t, s.entries, 1)

	// Re-adding the same pipeline replaces its entry.
	require.NoError(t, s.Add(f.runner))
	assert.Len(t, s.entries, 1)

	s.Start()
	s.Stop()
}

func TestScheduler_IgnoresUnscheduledPipeline(t *testing.T) {
	f := setupRunner(t, loanDefinition(domain.JoinLatest, nil))

	s := NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Add(f.runner))
	assert.Empty(t, s.entries)
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	f := setupRunner(t, loanDefinition(domain.JoinLatest, nil))
	f.runner.Definition().Schedule = "not a cron spec"

	s := NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := s.Add(f.runner)

	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, err.Error(), "invalid schedule")
}
