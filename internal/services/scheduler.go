package services

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"storyboard-backend/internal/models"
)

// ErrSweepInProgress is returned when a sweep is requested while one runs.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Scheduler runs the periodic sweep. The cron endpoint goes through RunOnce
// as well, so the in-process ticker and external triggers never overlap.
type Scheduler struct {
	tasks    *TaskService
	interval time.Duration
	limit    int
	logger   *slog.Logger
	started  atomic.Bool
	sweeping atomic.Bool
	paused   atomic.Bool
}

func NewScheduler(tasks *TaskService, logger *slog.Logger) *Scheduler {
	tuning := tasks.Tuning()
	return &Scheduler{
		tasks:    tasks,
		interval: tuning.SweepInterval,
		limit:    tuning.SweepLimit,
		logger:   logger,
	}
}

// Start blocks until ctx is done. It returns immediately when the interval
// is zero or the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("sweep scheduler disabled")
		return
	}
	if s.started.Swap(true) {
		return
	}
	defer s.started.Store(false)

	s.logger.Info("sweep scheduler started", "interval", s.interval.String(), "limit", s.limit)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep scheduler stopping")
			return
		case <-ticker.C:
			if s.paused.Load() {
				continue
			}
			if _, err := s.RunOnce(ctx, s.limit); err != nil && !errors.Is(err, ErrSweepInProgress) {
				s.logger.Warn("scheduled sweep skipped", "error", err)
			}
		}
	}
}

// RunOnce performs one sweep unless another is already running.
func (s *Scheduler) RunOnce(ctx context.Context, limit int) (*models.BatchReport, error) {
	if s.sweeping.Swap(true) {
		return nil, ErrSweepInProgress
	}
	defer s.sweeping.Store(false)

	start := time.Now()
	report, err := s.tasks.Sweep(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.logger.Info("sweep finished",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

func (s *Scheduler) Pause() {
	s.paused.Store(true)
}

func (s *Scheduler) Resume() {
	s.paused.Store(false)
}

func (s *Scheduler) IsRunning() bool {
	return s.started.Load()
}
