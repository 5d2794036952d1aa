package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/piowaw/domainalert/internal/db"
	"github.com/piowaw/domainalert/internal/lookup"
	"github.com/piowaw/domainalert/internal/repositories"
	"github.com/piowaw/domainalert/internal/worker"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      ":memory:",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return database
}

func newScheduler(t *testing.T, gdb *gorm.DB) *Scheduler {
	t.Helper()
	s, err := New(Config{
		Jobs:          repositories.NewJobRepository(gdb),
		Domains:       repositories.NewDomainRepository(gdb),
		Notifications: repositories.NewNotificationRepository(gdb),
		Logger:        zap.NewNop(),
		ScanInterval:  time.Minute,
		StaleAfter:    24 * time.Hour,
		StaleBatch:    500,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func seedDomain(t *testing.T, domains repositories.DomainRepository, name string, registered bool, expiry, checked *time.Time) *db.Domain {
	t.Helper()
	d := &db.Domain{
		Name:         name,
		IsRegistered: registered,
		ExpiryDate:   expiry,
		LastChecked:  checked,
		AddedBy:      uuid.New(),
	}
	if err := domains.Create(context.Background(), d); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return d
}

func TestTickEnqueuesScanForDueDomains(t *testing.T) {
	gdb := newTestDB(t)
	jobs := repositories.NewJobRepository(gdb)
	domains := repositories.NewDomainRepository(gdb)
	ctx := context.Background()

	now := time.Now().UTC()
	yesterday := now.Add(-24 * time.Hour)
	wantIDs := make(map[int64]struct{})
	for _, name := range []string{"a.example", "b.example", "c.example", "d.example", "e.example"} {
		d := seedDomain(t, domains, name, true, &yesterday, nil)
		wantIDs[d.ID] = struct{}{}
	}
	// Recently checked, unexpired: not part of the scan.
	future := now.Add(365 * 24 * time.Hour)
	seedDomain(t, domains, "fresh.example", true, &future, &now)

	s := newScheduler(t, gdb)
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	list, total, err := jobs.List(ctx, repositories.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if total != 1 {
		t.Fatalf("jobs = %d, want 1", total)
	}
	job := list[0]
	if job.Kind != db.JobKindWhoisCheck || job.UserID != SystemUser || job.Total != 5 {
		t.Errorf("job = kind %q user %s total %d", job.Kind, job.UserID, job.Total)
	}

	payload, err := db.DecodeCheckPayload(job.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.IDs) != 5 {
		t.Fatalf("payload ids = %d, want 5", len(payload.IDs))
	}
	for _, id := range payload.IDs {
		if _, ok := wantIDs[id]; !ok {
			t.Errorf("payload carries unexpected id %d", id)
		}
	}
}

func TestTickSkipsWhileScanActive(t *testing.T) {
	gdb := newTestDB(t)
	jobs := repositories.NewJobRepository(gdb)
	domains := repositories.NewDomainRepository(gdb)
	ctx := context.Background()

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	seedDomain(t, domains, "due.example", true, &yesterday, nil)

	s := newScheduler(t, gdb)
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	if _, total, err := jobs.List(ctx, repositories.ListOptions{Limit: 10}); err != nil {
		t.Fatalf("list jobs: %v", err)
	} else if total != 1 {
		t.Errorf("jobs after two ticks = %d, want 1", total)
	}
}

func TestTickWithNothingDueIsANoOp(t *testing.T) {
	gdb := newTestDB(t)
	jobs := repositories.NewJobRepository(gdb)

	s := newScheduler(t, gdb)
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if _, err := jobs.NextRunnable(context.Background()); !errors.Is(err, repositories.ErrNoWork) {
		t.Errorf("queue not empty after an idle tick: %v", err)
	}
}

// renewedEngine answers every name as registered with a fixed renewal date.
type renewedEngine struct {
	expiry time.Time
}

func (e *renewedEngine) LookupBatch(_ context.Context, names []string) map[string]lookup.Result {
	out := make(map[string]lookup.Result, len(names))
	for _, name := range names {
		exp := e.expiry
		out[name] = lookup.Result{
			Name:       name,
			Registered: true,
			ExpiryDate: &exp,
			Source:     lookup.SourceRDAP,
		}
	}
	return out
}

func TestScanDrainsThroughTheWorkerPool(t *testing.T) {
	gdb := newTestDB(t)
	jobs := repositories.NewJobRepository(gdb)
	domains := repositories.NewDomainRepository(gdb)
	ctx := context.Background()

	began := time.Now().UTC()
	yesterday := began.Add(-24 * time.Hour)
	var ids []int64
	for _, name := range []string{"a.example", "b.example", "c.example", "d.example", "e.example"} {
		d := seedDomain(t, domains, name, true, &yesterday, nil)
		ids = append(ids, d.ID)
	}

	s := newScheduler(t, gdb)
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	renewed := time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)
	pool := worker.NewPool(worker.Config{
		Jobs:      jobs,
		Domains:   domains,
		Engine:    &renewedEngine{expiry: renewed},
		Logger:    zap.NewNop(),
		BatchSize: 3,
	})
	for {
		job, err := jobs.NextRunnable(ctx)
		if errors.Is(err, repositories.ErrNoWork) {
			break
		}
		if err != nil {
			t.Fatalf("next runnable: %v", err)
		}
		if _, err := pool.ProcessBatch(ctx, job); err != nil {
			t.Fatalf("process batch: %v", err)
		}
	}

	for _, id := range ids {
		row, err := domains.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("get domain %d: %v", id, err)
		}
		// Stored timestamps may lose sub-second precision.
		if row.LastChecked == nil || row.LastChecked.Before(began.Truncate(time.Second)) {
			t.Errorf("domain %d last_checked = %v, want within the scan", id, row.LastChecked)
		}
		if row.ExpiryDate == nil || !row.ExpiryDate.Equal(renewed) {
			t.Errorf("domain %d expiry = %v, want the renewed date", id, row.ExpiryDate)
		}
	}
}
