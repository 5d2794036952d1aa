package repositories

import (
	"errors"
	"strings"
)

// ErrNotFound is returned by repository methods when the requested record
// does not exist in the database. Callers should check for this error
// explicitly using errors.Is to distinguish missing records from other
// database errors.
//
//	job, err := repo.GetByID(ctx, id)
//	if errors.Is(err, repositories.ErrNotFound) {
//	    handle not found
//	}
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when an insert or update violates a unique constraint,
// for example when registering a user with an email that already exists.
var ErrConflict = errors.New("record already exists")

// ErrNoWork is returned by Claim and NextRunnable when there is nothing left
// to hand out: the job is already fully claimed, terminal, or the queue is
// empty. It is a normal condition, not a failure.
var ErrNoWork = errors.New("no work available")

// isUniqueViolation catches unique-constraint errors the dialector did not
// translate. The GORM sqlite dialector only recognizes mattn/go-sqlite3 error
// types; errors from the modernc driver pass through untranslated.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
