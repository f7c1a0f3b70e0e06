package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"lakerun/internal/domain"
)

// Scheduler triggers pipeline runs on their declared cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID // pipeline name → cron entry
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a runner's declared schedule. Runners without a schedule are
// ignored.
func (s *Scheduler) Add(r *Runner) error {
	def := r.Definition()
	if def.Schedule == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[def.Name]; ok {
		s.cron.Remove(old)
	}

	entryID, err := s.cron.AddFunc(def.Schedule, func() {
		ctx := context.Background()
		if _, err := r.Execute(ctx, domain.TriggerTypeScheduled); err != nil {
			s.logger.Warn("scheduled run failed",
				"pipeline", def.Name,
				"error", err,
			)
		}
	})
	if err != nil {
		return domain.ErrValidation("pipeline %q: invalid schedule %q: %v", def.Name, def.Schedule, err)
	}

	s.entries[def.Name] = entryID
	s.logger.Info("scheduled pipeline", "pipeline", def.Name, "schedule", def.Schedule)
	return nil
}

// Start begins triggering scheduled runs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("pipeline scheduler started")
}

// Stop stops the scheduler and waits for in-flight triggers to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("pipeline scheduler stopped")
}
