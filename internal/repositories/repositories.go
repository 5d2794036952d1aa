package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/piowaw/domainalert/internal/db"
)

// -----------------------------------------------------------------------------
// Common
// -----------------------------------------------------------------------------

// ListOptions contains common pagination and filtering options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// DomainUpdate is one lookup outcome to persist. Exactly one of ID or Name
// addresses the row: import flushes are name-addressed (the row may not exist
// yet), whois_check flushes are id-addressed.
//
// A nil ExpiryDate leaves the stored expiry_date untouched; registries that
// answer 404 for a lapsed name publish no expiration event, and wiping the
// old date would erase the only record of when the name lapsed.
//
// Authoritative marks a result backed by a real registry answer. FlushImport
// refreshes the state of pre-existing rows only for authoritative updates; a
// non-authoritative one can still create a missing row but never overwrites
// what an earlier authoritative lookup stored.
type DomainUpdate struct {
	ID            int64
	Name          string
	IsRegistered  bool
	ExpiryDate    *time.Time
	CheckedAt     time.Time
	Authoritative bool
}

// -----------------------------------------------------------------------------
// DomainRepository
// -----------------------------------------------------------------------------

type DomainRepository interface {
	Create(ctx context.Context, domain *db.Domain) error
	GetByID(ctx context.Context, id int64) (*db.Domain, error)
	GetByName(ctx context.Context, name string) (*db.Domain, error)

	// GetByIDs returns the rows for the given ids in a single bulk read.
	// Missing ids are silently absent from the result (the domain may have
	// been deleted between job creation and processing).
	GetByIDs(ctx context.Context, ids []int64) ([]db.Domain, error)

	// Existing reports which of the given names already have a row. The read
	// runs outside any transaction and chunks the input, so it scales to
	// payloads far larger than the database's parameter limit.
	Existing(ctx context.Context, names []string) (map[string]struct{}, error)

	// GetByNames returns the rows for the given names, chunked like Existing.
	// Names with no row are silently absent from the result.
	GetByNames(ctx context.Context, names []string) ([]db.Domain, error)

	// FlushImport persists one batch of import results in a single
	// transaction: insert-or-ignore on name, then, for authoritative results,
	// an update that refreshes registration state on pre-existing rows.
	FlushImport(ctx context.Context, updates []DomainUpdate, addedBy uuid.UUID) error

	// FlushCheck persists one batch of whois_check results in a single
	// transaction, addressing rows by id.
	FlushCheck(ctx context.Context, updates []DomainUpdate) error

	// ListExpired returns registered domains whose expiry_date is on or
	// before asOf, ordered by expiry_date ascending.
	ListExpired(ctx context.Context, asOf time.Time, limit int) ([]db.Domain, error)

	// ListStale returns domains whose last_checked is before the cutoff or
	// has never been set, oldest first.
	ListStale(ctx context.Context, before time.Time, limit int) ([]db.Domain, error)

	List(ctx context.Context, opts ListOptions) ([]db.Domain, int64, error)
	ListByUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]db.Domain, int64, error)

	// ListAvailable returns unregistered domains, scoped to userID unless it
	// is uuid.Nil (then all rows qualify).
	ListAvailable(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]db.Domain, int64, error)

	Delete(ctx context.Context, id int64) error
}

// -----------------------------------------------------------------------------
// JobRepository
// -----------------------------------------------------------------------------

type JobRepository interface {
	Create(ctx context.Context, job *db.Job) error
	GetByID(ctx context.Context, id int64) (*db.Job, error)
	List(ctx context.Context, opts ListOptions) ([]db.Job, int64, error)
	ListByUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]db.Job, int64, error)
	Delete(ctx context.Context, id int64) error

	// Claim atomically hands out the next unclaimed slice of the job's
	// payload as a half-open index range [start, end). Two concurrent callers
	// always receive disjoint ranges. Returns ErrNoWork when the job is
	// terminal or fully claimed. Transient storage errors are retried
	// internally with jittered backoff; on exhaustion the job is not advanced.
	Claim(ctx context.Context, jobID int64, maxSize int) (start, end int, err error)

	// FinishBatch records the completion of one claimed batch: it increments
	// the errors counter by errDelta and, if every payload position has been
	// claimed, marks the job completed. The completion write is idempotent.
	FinishBatch(ctx context.Context, jobID int64, errDelta int) error

	// Resume flips a job from processing back to pending, leaving the
	// processed cursor untouched so workers continue from the current offset.
	Resume(ctx context.Context, jobID int64) error

	// MarkFailed sets the terminal failed status with a reason. Used only
	// when the payload cannot be interpreted.
	MarkFailed(ctx context.Context, jobID int64, reason string) error

	// NextRunnable returns the oldest job a worker can advance: any pending
	// job, or a processing one with unclaimed payload. Returns ErrNoWork
	// when the queue is drained.
	NextRunnable(ctx context.Context) (*db.Job, error)

	// HasActiveScan reports whether a scheduler-created whois_check job is
	// still pending or in flight, so ticks don't pile duplicate scans onto
	// the queue.
	HasActiveScan(ctx context.Context, systemUser uuid.UUID) (bool, error)
}

// -----------------------------------------------------------------------------
// UserRepository
// -----------------------------------------------------------------------------

type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetByEmail(ctx context.Context, email string) (*db.User, error)
	Update(ctx context.Context, user *db.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.User, int64, error)
}

// -----------------------------------------------------------------------------
// NotificationRepository
// -----------------------------------------------------------------------------

type NotificationRepository interface {
	Create(ctx context.Context, notification *db.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	MarkAsRead(ctx context.Context, id uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]db.Notification, int64, error)
	DeleteReadOlderThan(ctx context.Context, t time.Time) error
}
