// Package scheduler emits whois_check work on a cadence. Each tick collects
// domains whose registration has lapsed past its expiry date plus a bounded
// batch of domains that have not been checked recently, and enqueues one
// system-owned whois_check job with their ids. The worker pool drains that job
// through the same batch routine as user-created jobs; the scheduler itself
// never performs lookups.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piowaw/domainalert/internal/db"
	"github.com/piowaw/domainalert/internal/metrics"
	"github.com/piowaw/domainalert/internal/repositories"
)

const (
	// maxExpiredPerTick caps the expired selection so a pathological backlog
	// cannot produce an unboundedly large job payload.
	maxExpiredPerTick = 10000

	tickTimeout = 30 * time.Second

	// Read in-app notifications are pruned once they are this old.
	pruneAfter    = 30 * 24 * time.Hour
	pruneInterval = 24 * time.Hour
)

// SystemUser owns scheduler-created jobs. It is the zero UUID, which no real
// account can have.
var SystemUser = uuid.Nil

// Config assembles a Scheduler.
type Config struct {
	Jobs          repositories.JobRepository
	Domains       repositories.DomainRepository
	Notifications repositories.NotificationRepository
	Logger        *zap.Logger

	ScanInterval time.Duration
	StaleAfter   time.Duration
	StaleBatch   int
}

// Scheduler wraps gocron and coordinates the periodic scan.
// The zero value is not usable — create instances with New.
type Scheduler struct {
	cron          gocron.Scheduler
	jobs          repositories.JobRepository
	domains       repositories.DomainRepository
	notifications repositories.NotificationRepository
	logger        *zap.Logger

	scanInterval time.Duration
	staleAfter   time.Duration
	staleBatch   int
}

// New creates a configured Scheduler. Call Start to begin ticking.
func New(cfg Config) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		cron:          cron,
		jobs:          cfg.Jobs,
		domains:       cfg.Domains,
		notifications: cfg.Notifications,
		logger:        cfg.Logger.Named("scheduler"),
		scanInterval:  cfg.ScanInterval,
		staleAfter:    cfg.StaleAfter,
		staleBatch:    cfg.StaleBatch,
	}, nil
}

// Start registers the scan and pruning jobs and starts the underlying gocron
// scheduler. Singleton mode keeps a slow tick from overlapping the next one.
func (s *Scheduler) Start() error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.scanInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
			defer cancel()
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scan tick failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule scan: %w", err)
	}

	_, err = s.cron.NewJob(
		gocron.DurationJob(pruneInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
			defer cancel()
			if err := s.Prune(ctx); err != nil {
				s.logger.Error("notification pruning failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.Duration("scan_interval", s.scanInterval),
		zap.Duration("stale_after", s.staleAfter),
		zap.Int("stale_batch", s.staleBatch))
	return nil
}

// Stop gracefully shuts down gocron, waiting for a running tick to complete.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown error: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// Tick runs one scan: select due and stale domains and enqueue a whois_check
// job with their ids. A tick that finds a previous scan still unclaimed or in
// flight is a no-op, so a slow worker pool never accumulates duplicate scans.
func (s *Scheduler) Tick(ctx context.Context) error {
	active, err := s.jobs.HasActiveScan(ctx, SystemUser)
	if err != nil {
		return fmt.Errorf("scheduler: check active scan: %w", err)
	}
	if active {
		s.logger.Debug("previous scan still active, skipping tick")
		return nil
	}

	now := time.Now().UTC()
	expired, err := s.domains.ListExpired(ctx, now, maxExpiredPerTick)
	if err != nil {
		return fmt.Errorf("scheduler: list expired: %w", err)
	}
	stale, err := s.domains.ListStale(ctx, now.Add(-s.staleAfter), s.staleBatch)
	if err != nil {
		return fmt.Errorf("scheduler: list stale: %w", err)
	}

	seen := make(map[int64]struct{}, len(expired)+len(stale))
	ids := make([]int64, 0, len(expired)+len(stale))
	for _, list := range [][]db.Domain{expired, stale} {
		for _, d := range list {
			if _, ok := seen[d.ID]; ok {
				continue
			}
			seen[d.ID] = struct{}{}
			ids = append(ids, d.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	payload, err := db.EncodeCheckPayload(ids)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	job := &db.Job{
		UserID:  SystemUser,
		Kind:    db.JobKindWhoisCheck,
		Status:  db.JobStatusPending,
		Total:   len(ids),
		Payload: payload,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("scheduler: enqueue scan: %w", err)
	}

	metrics.ScansEnqueued.Inc()
	s.logger.Info("scan enqueued",
		zap.Int64("job_id", job.ID),
		zap.Int("expired", len(expired)),
		zap.Int("stale", len(stale)),
		zap.Int("total", len(ids)))
	return nil
}

// Prune removes read in-app notifications older than the retention window.
func (s *Scheduler) Prune(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-pruneAfter)
	if err := s.notifications.DeleteReadOlderThan(ctx, cutoff); err != nil {
		return fmt.Errorf("scheduler: prune notifications: %w", err)
	}
	return nil
}
