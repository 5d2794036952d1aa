package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/piowaw/domainalert/internal/db"
)

// existingChunk caps the IN-list size of the dedup pre-filter read. Both
// dialects tolerate 10k bind parameters; import payloads can be much larger.
const existingChunk = 10000

// gormDomainRepository is the GORM implementation of DomainRepository.
type gormDomainRepository struct {
	db *gorm.DB
}

// NewDomainRepository returns a DomainRepository backed by the provided *gorm.DB.
func NewDomainRepository(database *gorm.DB) DomainRepository {
	return &gormDomainRepository{db: database}
}

// Create inserts a new domain record. Returns ErrConflict if the name is
// already tracked.
func (r *gormDomainRepository) Create(ctx context.Context, domain *db.Domain) error {
	if err := r.db.WithContext(ctx).Create(domain).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("domains: create: %w", err)
	}
	return nil
}

// GetByID retrieves a domain by id. Returns ErrNotFound if no record exists.
func (r *gormDomainRepository) GetByID(ctx context.Context, id int64) (*db.Domain, error) {
	var domain db.Domain
	err := r.db.WithContext(ctx).First(&domain, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("domains: get by id: %w", err)
	}
	return &domain, nil
}

// GetByName retrieves a domain by its cleaned name.
// Returns ErrNotFound if no record exists.
func (r *gormDomainRepository) GetByName(ctx context.Context, name string) (*db.Domain, error) {
	var domain db.Domain
	err := r.db.WithContext(ctx).First(&domain, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("domains: get by name: %w", err)
	}
	return &domain, nil
}

// GetByIDs returns the rows for the given ids in one bulk read. Ids with no
// row are silently absent from the result.
func (r *gormDomainRepository) GetByIDs(ctx context.Context, ids []int64) ([]db.Domain, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var domains []db.Domain
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&domains).Error; err != nil {
		return nil, fmt.Errorf("domains: get by ids: %w", err)
	}
	return domains, nil
}

// Existing reports which of the given names already have a row. The input is
// chunked so arbitrarily large import batches never exceed the parameter
// limit of a single query.
func (r *gormDomainRepository) Existing(ctx context.Context, names []string) (map[string]struct{}, error) {
	present := make(map[string]struct{}, len(names))
	for offset := 0; offset < len(names); offset += existingChunk {
		chunkEnd := offset + existingChunk
		if chunkEnd > len(names) {
			chunkEnd = len(names)
		}
		var found []string
		if err := r.db.WithContext(ctx).
			Model(&db.Domain{}).
			Where("name IN ?", names[offset:chunkEnd]).
			Pluck("name", &found).Error; err != nil {
			return nil, fmt.Errorf("domains: existing: %w", err)
		}
		for _, name := range found {
			present[name] = struct{}{}
		}
	}
	return present, nil
}

// GetByNames returns the rows for the given names in one bulk read, chunked
// like Existing so import-sized inputs stay under the parameter limit.
func (r *gormDomainRepository) GetByNames(ctx context.Context, names []string) ([]db.Domain, error) {
	var out []db.Domain
	for offset := 0; offset < len(names); offset += existingChunk {
		chunkEnd := offset + existingChunk
		if chunkEnd > len(names) {
			chunkEnd = len(names)
		}
		var rows []db.Domain
		if err := r.db.WithContext(ctx).
			Where("name IN ?", names[offset:chunkEnd]).
			Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("domains: get by names: %w", err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

// FlushImport persists one batch of import results in a single transaction.
//
// Each result is written in two steps: an insert-or-ignore keyed on name, then
// an update that refreshes registration state. Pre-existing rows therefore get
// their expiry and checked timestamps refreshed on re-import, while the unique
// index guarantees one row per name no matter how often it is imported.
// COALESCE keeps the stored expiry_date when the lookup produced none.
//
// The refresh step is skipped for non-authoritative results: a synthesized
// miss may land a row for a brand-new name, but it must never flip a row an
// authoritative lookup previously marked registered.
func (r *gormDomainRepository) FlushImport(ctx context.Context, updates []DomainUpdate, addedBy uuid.UUID) error {
	if len(updates) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, u := range updates {
			checked := u.CheckedAt
			row := db.Domain{
				Name:         u.Name,
				IsRegistered: u.IsRegistered,
				ExpiryDate:   u.ExpiryDate,
				LastChecked:  &checked,
				AddedBy:      addedBy,
				CreatedAt:    now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoNothing: true,
			}).Create(&row).Error; err != nil {
				return err
			}
			if !u.Authoritative {
				continue
			}
			if err := tx.Exec(
				"UPDATE domains SET is_registered = ?, last_checked = ?, expiry_date = COALESCE(?, expiry_date) WHERE name = ?",
				u.IsRegistered, checked, u.ExpiryDate, u.Name,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("domains: flush import: %w", err)
	}
	return nil
}

// FlushCheck persists one batch of whois_check results in a single
// transaction, addressing rows by id. Rows deleted since job creation match
// nothing and are skipped without error.
func (r *gormDomainRepository) FlushCheck(ctx context.Context, updates []DomainUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := tx.Exec(
				"UPDATE domains SET is_registered = ?, last_checked = ?, expiry_date = COALESCE(?, expiry_date) WHERE id = ?",
				u.IsRegistered, u.CheckedAt, u.ExpiryDate, u.ID,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("domains: flush check: %w", err)
	}
	return nil
}

// ListExpired returns registered domains whose expiry_date is on or before
// asOf, soonest first.
func (r *gormDomainRepository) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]db.Domain, error) {
	var domains []db.Domain
	if err := r.db.WithContext(ctx).
		Where("is_registered = ? AND expiry_date IS NOT NULL AND expiry_date <= ?", true, asOf).
		Order("expiry_date ASC").
		Limit(limit).
		Find(&domains).Error; err != nil {
		return nil, fmt.Errorf("domains: list expired: %w", err)
	}
	return domains, nil
}

// ListStale returns domains last checked before the cutoff, never-checked
// rows first, then oldest check first. The CASE ordering keeps NULL handling
// identical across SQLite and Postgres.
func (r *gormDomainRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]db.Domain, error) {
	var domains []db.Domain
	if err := r.db.WithContext(ctx).
		Where("last_checked IS NULL OR last_checked < ?", before).
		Order("CASE WHEN last_checked IS NULL THEN 0 ELSE 1 END, last_checked ASC").
		Limit(limit).
		Find(&domains).Error; err != nil {
		return nil, fmt.Errorf("domains: list stale: %w", err)
	}
	return domains, nil
}

// List returns a paginated list of all tracked domains and the total count,
// ordered by name ascending.
func (r *gormDomainRepository) List(ctx context.Context, opts ListOptions) ([]db.Domain, int64, error) {
	var domains []db.Domain
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Domain{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("domains: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("name ASC").
		Find(&domains).Error; err != nil {
		return nil, 0, fmt.Errorf("domains: list: %w", err)
	}

	return domains, total, nil
}

// ListByUser returns a paginated list of domains added by a given user.
func (r *gormDomainRepository) ListByUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]db.Domain, int64, error) {
	var domains []db.Domain
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&db.Domain{}).
		Where("added_by = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("domains: list by user count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("added_by = ?", userID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("name ASC").
		Find(&domains).Error; err != nil {
		return nil, 0, fmt.Errorf("domains: list by user: %w", err)
	}

	return domains, total, nil
}

// ListAvailable returns unregistered domains, scoped to userID unless it is
// the zero UUID.
func (r *gormDomainRepository) ListAvailable(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]db.Domain, int64, error) {
	var domains []db.Domain
	var total int64

	scope := func(tx *gorm.DB) *gorm.DB {
		tx = tx.Where("is_registered = ?", false)
		if userID != (uuid.UUID{}) {
			tx = tx.Where("added_by = ?", userID)
		}
		return tx
	}

	if err := scope(r.db.WithContext(ctx).Model(&db.Domain{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("domains: list available count: %w", err)
	}

	if err := scope(r.db.WithContext(ctx)).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("name ASC").
		Find(&domains).Error; err != nil {
		return nil, 0, fmt.Errorf("domains: list available: %w", err)
	}

	return domains, total, nil
}

// Delete removes a domain row. Returns ErrNotFound if no record exists.
func (r *gormDomainRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&db.Domain{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("domains: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
