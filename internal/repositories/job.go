package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/piowaw/domainalert/internal/db"
	"github.com/piowaw/domainalert/internal/retry"
)

// gormJobRepository is the GORM implementation of JobRepository.
type gormJobRepository struct {
	db     *gorm.DB
	claims retry.Policy
}

// NewJobRepository returns a JobRepository backed by the provided *gorm.DB.
func NewJobRepository(database *gorm.DB) JobRepository {
	return &gormJobRepository{db: database, claims: retry.Claims}
}

// Create inserts a new job record into the database.
func (r *gormJobRepository) Create(ctx context.Context, job *db.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("jobs: create: %w", err)
	}
	return nil
}

// GetByID retrieves a job by id. Returns ErrNotFound if no record exists.
func (r *gormJobRepository) GetByID(ctx context.Context, id int64) (*db.Job, error) {
	var job db.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobs: get by id: %w", err)
	}
	return &job, nil
}

// List returns a paginated list of jobs and the total count,
// ordered by creation time descending (most recent first).
func (r *gormJobRepository) List(ctx context.Context, opts ListOptions) ([]db.Job, int64, error) {
	var jobs []db.Job
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Job{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC, id DESC").
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list: %w", err)
	}

	return jobs, total, nil
}

// ListByUser returns a paginated list of jobs created by a given user,
// ordered by creation time descending.
func (r *gormJobRepository) ListByUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]db.Job, int64, error) {
	var jobs []db.Job
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list by user count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC, id DESC").
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list by user: %w", err)
	}

	return jobs, total, nil
}

// Delete removes a job row. Returns ErrNotFound if no record exists.
func (r *gormJobRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&db.Job{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("jobs: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Claim hands out the next unclaimed slice of the payload.
//
// The select and the cursor write happen inside one transaction that locks the
// job row, so a concurrent claimer observes either the pre-claim or the
// post-claim cursor, never a torn value — two callers always receive disjoint
// ranges. Transient failures (lock timeouts, serialization conflicts) are
// retried with jittered backoff inside a budget of roughly one second.
func (r *gormJobRepository) Claim(ctx context.Context, jobID int64, maxSize int) (int, int, error) {
	if maxSize <= 0 {
		return 0, 0, fmt.Errorf("jobs: claim: max size must be positive, got %d", maxSize)
	}

	var start, end int
	err := r.claims.Do(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			q := tx
			// SQLite serializes writers on its single connection; row locks
			// are a Postgres concern.
			if tx.Dialector.Name() == "postgres" {
				q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
			}

			var job db.Job
			if err := q.First(&job, "id = ?", jobID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return retry.Permanent(ErrNotFound)
				}
				return err
			}

			if job.Status != db.JobStatusPending && job.Status != db.JobStatusProcessing {
				return retry.Permanent(ErrNoWork)
			}
			if job.Processed >= job.Total {
				return retry.Permanent(ErrNoWork)
			}

			start = job.Processed
			end = start + maxSize
			if end > job.Total {
				end = job.Total
			}

			return tx.Model(&db.Job{}).
				Where("id = ?", jobID).
				Updates(map[string]interface{}{
					"processed": end,
					"status":    db.JobStatusProcessing,
				}).Error
		})
	})
	if err != nil {
		if errors.Is(err, ErrNoWork) || errors.Is(err, ErrNotFound) {
			return 0, 0, err
		}
		return 0, 0, fmt.Errorf("jobs: claim: %w", err)
	}
	return start, end, nil
}

// FinishBatch increments the errors counter and writes the terminal completed
// status once the cursor has reached the end of the payload. Calling it again
// for an already-completed job only re-applies the (zero) status write, so the
// completion is idempotent. Pending counts as completable too: a resumed job
// whose cursor is already exhausted has nothing left to claim and only needs
// this write.
func (r *gormJobRepository) FinishBatch(ctx context.Context, jobID int64, errDelta int) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDelta != 0 {
			result := tx.Model(&db.Job{}).
				Where("id = ?", jobID).
				Update("errors", gorm.Expr("errors + ?", errDelta))
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrNotFound
			}
		}
		return tx.Model(&db.Job{}).
			Where("id = ? AND status IN ? AND processed >= total",
				jobID, []string{db.JobStatusPending, db.JobStatusProcessing}).
			Update("status", db.JobStatusCompleted).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("jobs: finish batch: %w", err)
	}
	return nil
}

// Resume flips processing back to pending without touching the cursor.
// A no-op for jobs in any other status.
func (r *gormJobRepository) Resume(ctx context.Context, jobID int64) error {
	var job db.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("jobs: resume: %w", err)
	}
	if job.Status != db.JobStatusProcessing {
		return nil
	}
	if err := r.db.WithContext(ctx).Model(&db.Job{}).
		Where("id = ? AND status = ?", jobID, db.JobStatusProcessing).
		Update("status", db.JobStatusPending).Error; err != nil {
		return fmt.Errorf("jobs: resume: %w", err)
	}
	return nil
}

// MarkFailed writes the terminal failed status with a reason.
func (r *gormJobRepository) MarkFailed(ctx context.Context, jobID int64, reason string) error {
	result := r.db.WithContext(ctx).Model(&db.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status": db.JobStatusFailed,
			"result": reason,
		})
	if result.Error != nil {
		return fmt.Errorf("jobs: mark failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// NextRunnable returns the oldest job a worker can advance: any pending job,
// or a processing one with unclaimed payload. A pending job whose cursor is
// already exhausted still qualifies, because it needs its completion write.
// Returns ErrNoWork when the queue is drained.
func (r *gormJobRepository) NextRunnable(ctx context.Context) (*db.Job, error) {
	var job db.Job
	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND processed < total)",
			db.JobStatusPending, db.JobStatusProcessing).
		Order("created_at ASC, id ASC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoWork
		}
		return nil, fmt.Errorf("jobs: next runnable: %w", err)
	}
	return &job, nil
}

// HasActiveScan reports whether a scheduler-created whois_check job still has
// unclaimed payload.
func (r *gormJobRepository) HasActiveScan(ctx context.Context, systemUser uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("user_id = ? AND kind = ? AND status IN ? AND processed < total",
			systemUser, db.JobKindWhoisCheck,
			[]string{db.JobStatusPending, db.JobStatusProcessing}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("jobs: has active scan: %w", err)
	}
	return count > 0, nil
}
