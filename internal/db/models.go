package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Job kinds and statuses. Kinds discriminate the payload encoding — see
// payload.go for the tagged variants.
const (
	JobKindImport     = "import"
	JobKindWhoisCheck = "whois_check"

	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// UUIDBase contains the common fields for UUID-keyed models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing; CreatedAt and
// UpdatedAt are managed automatically by GORM.
type UUIDBase struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
func (b *UUIDBase) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

// User is an account that can log in, import domains, and receive
// notifications. Passwords are bcrypt hashes — never plaintext.
type User struct {
	UUIDBase
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	IsAdmin      bool   `gorm:"not null;default:false"`
}

// -----------------------------------------------------------------------------
// Domains
// -----------------------------------------------------------------------------

// Domain is the tracked unit: one row per unique name. Rows are created by
// import or single-add and mutated only when a lookup completes. The pipeline
// never deletes them; only a user action does.
//
// ExpiryDate is a calendar date, never a point in time — it is normalized to
// midnight UTC on write (see DateOnly). It may be nil when the name is
// unregistered or the registry did not publish an expiration event.
type Domain struct {
	ID           int64      `gorm:"primaryKey;autoIncrement"`
	Name         string     `gorm:"uniqueIndex;not null"`
	IsRegistered bool       `gorm:"not null;default:false;index"`
	ExpiryDate   *time.Time `gorm:"index"`
	LastChecked  *time.Time `gorm:"index"`
	AddedBy      uuid.UUID  `gorm:"type:text;not null;index"`
	CreatedAt    time.Time  `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

// Job is one unit of bulk work. The payload is immutable once created; all
// progress state lives in Processed/Errors/Status, and the job row itself is
// the synchronization point between workers — every mutation goes through
// the repository's Claim, FinishBatch, Resume, or MarkFailed.
//
// Status transitions: pending → processing (first claim) → completed (worker
// that writes the final slice). Resume flips processing → pending without
// touching Processed. Failed is reserved for undecodable payloads.
type Job struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    uuid.UUID `gorm:"type:text;not null;index"`
	Kind      string    `gorm:"not null"`
	Status    string    `gorm:"not null;default:'pending';index"`
	Total     int       `gorm:"not null;default:0"`
	Processed int       `gorm:"not null;default:0"`
	Errors    int       `gorm:"not null;default:0"`
	Payload   []byte    `gorm:"not null"`
	Result    string    `gorm:"type:text;default:''"` // failure reason when status=failed
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

// Notification is an in-app record of a delivered event, one row per
// recipient. Availability transitions are the only kind the pipeline writes.
type Notification struct {
	UUIDBase
	UserID  uuid.UUID `gorm:"type:text;not null;index"`
	Type    string    `gorm:"not null"` // "domain_available"
	Title   string    `gorm:"not null"`
	Body    string    `gorm:"type:text;not null"`
	ReadAt  *time.Time
	Payload string `gorm:"type:text;default:'{}'"` // JSON, extra context
}

// -----------------------------------------------------------------------------
// Invitations
// -----------------------------------------------------------------------------

// Invitation is managed by the user-invitation flow, which lives outside this
// service. The model exists so migrations own the full schema and other rows
// can reference it.
type Invitation struct {
	UUIDBase
	Email     string    `gorm:"not null;index"`
	Token     string    `gorm:"uniqueIndex;not null"`
	InvitedBy uuid.UUID `gorm:"type:text;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	UsedAt    *time.Time
}

// DateOnly strips the time-of-day component, returning midnight UTC of the
// same calendar date. Every ExpiryDate write goes through this.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
