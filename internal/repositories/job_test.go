package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/piowaw/domainalert/internal/db"
)

func createJob(t *testing.T, repo JobRepository, kind string, total int) *db.Job {
	t.Helper()
	job := &db.Job{
		UserID:  uuid.New(),
		Kind:    kind,
		Status:  db.JobStatusPending,
		Total:   total,
		Payload: []byte(`{}`),
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestClaimHandsOutContiguousSlices(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	job := createJob(t, repo, db.JobKindImport, 25)

	start, end, err := repo.Claim(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if start != 0 || end != 10 {
		t.Errorf("first claim = [%d, %d), want [0, 10)", start, end)
	}

	start, end, err = repo.Claim(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if start != 10 || end != 20 {
		t.Errorf("second claim = [%d, %d), want [10, 20)", start, end)
	}

	// Last slice is truncated to the payload length.
	start, end, err = repo.Claim(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
	if start != 20 || end != 25 {
		t.Errorf("third claim = [%d, %d), want [20, 25)", start, end)
	}

	if _, _, err := repo.Claim(ctx, job.ID, 10); !errors.Is(err, ErrNoWork) {
		t.Errorf("claim on exhausted job = %v, want ErrNoWork", err)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != db.JobStatusProcessing {
		t.Errorf("status = %q, want processing", got.Status)
	}
	if got.Processed != 25 {
		t.Errorf("processed = %d, want 25", got.Processed)
	}
}

func TestClaimConcurrentCallersPartitionPayload(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()

	const total = 10000
	const batch = 100
	const callers = 100
	job := createJob(t, repo, db.JobKindImport, total)

	type span struct{ start, end int }
	var mu sync.Mutex
	var spans []span

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				start, end, err := repo.Claim(ctx, job.ID, batch)
				if errors.Is(err, ErrNoWork) {
					return
				}
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				mu.Lock()
				spans = append(spans, span{start, end})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	covered := make([]int, total)
	claimed := 0
	for _, s := range spans {
		if s.start < 0 || s.end > total || s.start >= s.end {
			t.Fatalf("invalid span [%d, %d)", s.start, s.end)
		}
		for i := s.start; i < s.end; i++ {
			covered[i]++
		}
		claimed += s.end - s.start
	}
	if claimed != total {
		t.Errorf("claimed %d positions, want %d", claimed, total)
	}
	for i, n := range covered {
		if n != 1 {
			t.Fatalf("position %d claimed %d times, want exactly once", i, n)
		}
	}
}

func TestClaimOnTerminalJob(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	job := createJob(t, repo, db.JobKindImport, 5)

	if err := repo.MarkFailed(ctx, job.ID, "unknown kind"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, _, err := repo.Claim(ctx, job.ID, 5); !errors.Is(err, ErrNoWork) {
		t.Errorf("claim on failed job = %v, want ErrNoWork", err)
	}
}

func TestClaimMissingJob(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	if _, _, err := repo.Claim(context.Background(), 9999, 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("claim = %v, want ErrNotFound", err)
	}
}

func TestFinishBatchCompletesExhaustedJob(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	job := createJob(t, repo, db.JobKindImport, 3)

	if _, _, err := repo.Claim(ctx, job.ID, 3); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.FinishBatch(ctx, job.ID, 1); err != nil {
		t.Fatalf("finish batch: %v", err)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != db.JobStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Errors != 1 {
		t.Errorf("errors = %d, want 1", got.Errors)
	}

	// The completion write is idempotent.
	if err := repo.FinishBatch(ctx, job.ID, 0); err != nil {
		t.Fatalf("repeat finish batch: %v", err)
	}
	got, err = repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != db.JobStatusCompleted || got.Errors != 1 {
		t.Errorf("after repeat: status=%q errors=%d, want completed/1", got.Status, got.Errors)
	}
}

func TestFinishBatchLeavesUnfinishedJobProcessing(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	job := createJob(t, repo, db.JobKindImport, 10)

	if _, _, err := repo.Claim(ctx, job.ID, 4); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.FinishBatch(ctx, job.ID, 2); err != nil {
		t.Fatalf("finish batch: %v", err)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != db.JobStatusProcessing {
		t.Errorf("status = %q, want processing", got.Status)
	}
	if got.Errors != 2 {
		t.Errorf("errors = %d, want 2", got.Errors)
	}
}

func TestResumeFlipsProcessingToPending(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	job := createJob(t, repo, db.JobKindImport, 10)

	if _, _, err := repo.Claim(ctx, job.ID, 5); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.Resume(ctx, job.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != db.JobStatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.Processed != 5 {
		t.Errorf("processed = %d, want 5 (cursor must survive resume)", got.Processed)
	}

	// Resuming a pending job is a no-op.
	if err := repo.Resume(ctx, job.ID); err != nil {
		t.Errorf("resume pending job: %v", err)
	}

	if err := repo.Resume(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("resume missing job = %v, want ErrNotFound", err)
	}
}

func TestNextRunnableSkipsExhaustedJobs(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()

	if _, err := repo.NextRunnable(ctx); !errors.Is(err, ErrNoWork) {
		t.Errorf("next runnable on empty queue = %v, want ErrNoWork", err)
	}

	first := createJob(t, repo, db.JobKindImport, 5)
	second := createJob(t, repo, db.JobKindWhoisCheck, 5)

	got, err := repo.NextRunnable(ctx)
	if err != nil {
		t.Fatalf("next runnable: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("next runnable = job %d, want oldest job %d", got.ID, first.ID)
	}

	// Fully claim the first job; it stays processing but is no longer runnable.
	if _, _, err := repo.Claim(ctx, first.ID, 5); err != nil {
		t.Fatalf("claim: %v", err)
	}
	got, err = repo.NextRunnable(ctx)
	if err != nil {
		t.Fatalf("next runnable: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("next runnable = job %d, want job %d", got.ID, second.ID)
	}
}

func TestResumedExhaustedJobRunsUntilCompleted(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	job := createJob(t, repo, db.JobKindImport, 5)

	// Fully claimed and then abandoned, as after a crash mid-batch.
	if _, _, err := repo.Claim(ctx, job.ID, 5); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := repo.NextRunnable(ctx); !errors.Is(err, ErrNoWork) {
		t.Fatalf("next runnable = %v, want ErrNoWork while another worker may hold the claim", err)
	}

	// Resume puts it back in front of the workers even though nothing is
	// left to claim; only the completion write is missing.
	if err := repo.Resume(ctx, job.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	got, err := repo.NextRunnable(ctx)
	if err != nil {
		t.Fatalf("next runnable after resume: %v", err)
	}
	if got.ID != job.ID {
		t.Fatalf("next runnable = job %d, want resumed job %d", got.ID, job.ID)
	}

	if err := repo.FinishBatch(ctx, job.ID, 0); err != nil {
		t.Fatalf("finish batch: %v", err)
	}
	final, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if final.Status != db.JobStatusCompleted || final.Processed != 5 {
		t.Errorf("job = status %q processed %d, want completed/5", final.Status, final.Processed)
	}
	if _, err := repo.NextRunnable(ctx); !errors.Is(err, ErrNoWork) {
		t.Errorf("next runnable after completion = %v, want ErrNoWork", err)
	}
}

func TestHasActiveScan(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	system := uuid.Nil

	active, err := repo.HasActiveScan(ctx, system)
	if err != nil {
		t.Fatalf("has active scan: %v", err)
	}
	if active {
		t.Error("has active scan = true on empty queue")
	}

	scan := &db.Job{
		UserID:  system,
		Kind:    db.JobKindWhoisCheck,
		Status:  db.JobStatusPending,
		Total:   3,
		Payload: []byte(`{}`),
	}
	if err := repo.Create(ctx, scan); err != nil {
		t.Fatalf("create scan job: %v", err)
	}

	active, err = repo.HasActiveScan(ctx, system)
	if err != nil {
		t.Fatalf("has active scan: %v", err)
	}
	if !active {
		t.Error("has active scan = false with a pending scan job")
	}

	// A user-created whois_check does not count as a scan.
	createJob(t, repo, db.JobKindWhoisCheck, 3)

	if _, _, err := repo.Claim(ctx, scan.ID, 3); err != nil {
		t.Fatalf("claim: %v", err)
	}
	active, err = repo.HasActiveScan(ctx, system)
	if err != nil {
		t.Fatalf("has active scan: %v", err)
	}
	if active {
		t.Error("has active scan = true after the scan payload was fully claimed")
	}
}

func TestMarkFailedSetsReason(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	job := createJob(t, repo, "bogus", 1)

	if err := repo.MarkFailed(ctx, job.ID, `unknown job kind "bogus"`); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != db.JobStatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.Result != `unknown job kind "bogus"` {
		t.Errorf("result = %q", got.Result)
	}
}

func TestJobDelete(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	job := createJob(t, repo, db.JobKindImport, 1)

	if err := repo.Delete(ctx, job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestListByUserScopesToOwner(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()

	owner := uuid.New()
	for i := 0; i < 3; i++ {
		job := &db.Job{UserID: owner, Kind: db.JobKindImport, Status: db.JobStatusPending, Total: 1, Payload: []byte(`{}`)}
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	createJob(t, repo, db.JobKindImport, 1) // someone else's

	jobs, total, err := repo.ListByUser(ctx, owner, ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if total != 3 || len(jobs) != 3 {
		t.Errorf("list by user = %d rows, total %d, want 3/3", len(jobs), total)
	}
	for _, j := range jobs {
		if j.UserID != owner {
			t.Errorf("job %d belongs to %s, want %s", j.ID, j.UserID, owner)
		}
	}
}
