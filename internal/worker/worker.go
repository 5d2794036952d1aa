// Package worker drives the job queue: each loop claims a slice of the oldest
// runnable job's payload, resolves it through the lookup engine, flushes the
// results in one transaction and records the batch's completion. Progress
// state lives entirely in the job row, so any number of loops — in this
// process or another — can work the same job without coordination beyond the
// claim transaction.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/piowaw/domainalert/internal/db"
	"github.com/piowaw/domainalert/internal/lookup"
	"github.com/piowaw/domainalert/internal/metrics"
	"github.com/piowaw/domainalert/internal/notifier"
	"github.com/piowaw/domainalert/internal/repositories"
	"github.com/piowaw/domainalert/internal/ws"
)

// Outcome reports what a single claim-lookup-flush cycle achieved.
type Outcome string

const (
	// OutcomeProcessed: a slice was claimed, resolved and flushed.
	OutcomeProcessed Outcome = "processed"
	// OutcomeComplete: the job has no unclaimed payload left.
	OutcomeComplete Outcome = "complete"
	// OutcomeContended: the claim's retry budget was exhausted without
	// advancing the cursor. The job is untouched and can be re-claimed.
	OutcomeContended Outcome = "contended"
)

// EventSink receives availability transitions detected during a flush.
// Delivery must not block; the notifier's bounded queue satisfies this.
type EventSink interface {
	Enqueue(ev notifier.Event)
}

// Publisher pushes live progress frames to subscribed clients.
type Publisher interface {
	Publish(topic string, msg ws.Message)
}

// Config assembles a Pool.
type Config struct {
	Jobs    repositories.JobRepository
	Domains repositories.DomainRepository
	Engine  lookup.Engine
	Events  EventSink // optional
	Hub     Publisher // optional
	Logger  *zap.Logger

	// BatchSize is the payload slice claimed per iteration.
	BatchSize int
	// PollInterval is the idle sleep when the queue is drained.
	PollInterval time.Duration
	// Loops is the number of parallel claim-lookup-flush loops.
	Loops int
}

// Pool runs the configured number of worker loops against the job queue.
type Pool struct {
	jobs    repositories.JobRepository
	domains repositories.DomainRepository
	engine  lookup.Engine
	events  EventSink
	hub     Publisher
	logger  *zap.Logger

	batchSize    int
	pollInterval time.Duration
	loops        int
}

// NewPool wires a worker pool. Zero-valued tunables take the defaults a
// single modest deployment would use.
func NewPool(cfg Config) *Pool {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Loops <= 0 {
		cfg.Loops = 1
	}
	return &Pool{
		jobs:         cfg.Jobs,
		domains:      cfg.Domains,
		engine:       cfg.Engine,
		events:       cfg.Events,
		hub:          cfg.Hub,
		logger:       cfg.Logger.Named("worker"),
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
		loops:        cfg.Loops,
	}
}

// Run blocks until ctx is cancelled, driving the queue with the configured
// number of parallel loops.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.loops; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.runLoop(ctx, n)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runLoop(ctx context.Context, n int) {
	logger := p.logger.With(zap.Int("loop", n))
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.jobs.NextRunnable(ctx)
		if err != nil {
			if !errors.Is(err, repositories.ErrNoWork) {
				logger.Error("failed to poll job queue", zap.Error(err))
			}
			p.sleep(ctx)
			continue
		}

		outcome, err := p.ProcessBatch(ctx, job)
		if err != nil {
			logger.Error("batch processing failed",
				zap.Int64("job_id", job.ID),
				zap.String("kind", job.Kind),
				zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if outcome != OutcomeProcessed {
			// Another loop finished or holds the job; back off briefly.
			p.sleep(ctx)
		}
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}

// ProcessBatch runs one claim-lookup-flush cycle against the given job. The
// claim advances the cursor before any lookup starts, so a crash mid-cycle
// loses at most one slice; the job still completes once every position has
// been claimed.
func (p *Pool) ProcessBatch(ctx context.Context, job *db.Job) (Outcome, error) {
	return p.processBatch(ctx, job, p.batchSize)
}

// ProcessJob runs one cycle for a specific job id with an optional batch size
// override (0 means the pool default) and returns the post-cycle job row.
// This is the synchronous drive path the Job API exposes, so a client can
// work a job to completion without a long-lived worker.
func (p *Pool) ProcessJob(ctx context.Context, jobID int64, batchSize int) (Outcome, *db.Job, error) {
	if batchSize <= 0 {
		batchSize = p.batchSize
	}
	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		return "", nil, err
	}
	outcome, err := p.processBatch(ctx, job, batchSize)
	if err != nil {
		return "", nil, err
	}
	after, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		return "", nil, err
	}
	return outcome, after, nil
}

func (p *Pool) processBatch(ctx context.Context, job *db.Job, batchSize int) (Outcome, error) {
	start, end, err := p.jobs.Claim(ctx, job.ID, batchSize)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrNoWork):
			// A crash between the final claim and its bookkeeping leaves the
			// cursor exhausted with a non-terminal status; re-apply the
			// idempotent completion write so the job cannot strand. A no-op
			// for jobs that are already terminal.
			if ferr := p.jobs.FinishBatch(ctx, job.ID, 0); ferr != nil {
				return "", ferr
			}
			return OutcomeComplete, nil
		case errors.Is(err, repositories.ErrNotFound):
			return "", err
		default:
			p.logger.Warn("claim contended, abandoning batch",
				zap.Int64("job_id", job.ID),
				zap.Error(err))
			return OutcomeContended, nil
		}
	}

	began := time.Now()
	var errDelta int
	switch job.Kind {
	case db.JobKindImport:
		errDelta, err = p.processImport(ctx, job, start, end)
	case db.JobKindWhoisCheck:
		errDelta, err = p.processCheck(ctx, job, start, end)
	default:
		// PayloadLen rejects unknown kinds at creation; reaching this means
		// the row was tampered with. Terminal failure, not a retry.
		reason := fmt.Sprintf("unknown job kind %q", job.Kind)
		if ferr := p.jobs.MarkFailed(ctx, job.ID, reason); ferr != nil {
			return "", ferr
		}
		return "", errors.New("worker: " + reason)
	}
	if err != nil {
		var bad *payloadError
		if errors.As(err, &bad) {
			if ferr := p.jobs.MarkFailed(ctx, job.ID, bad.Error()); ferr != nil {
				return "", ferr
			}
		}
		return "", err
	}

	if err := p.jobs.FinishBatch(ctx, job.ID, errDelta); err != nil {
		return "", err
	}

	metrics.BatchesProcessed.WithLabelValues(job.Kind).Inc()
	metrics.BatchDuration.WithLabelValues(job.Kind).Observe(time.Since(began).Seconds())
	p.publishProgress(job, end, errDelta)

	p.logger.Debug("batch processed",
		zap.Int64("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int("start", start),
		zap.Int("end", end),
		zap.Int("errors", errDelta),
		zap.Duration("took", time.Since(began)))
	return OutcomeProcessed, nil
}

// payloadError marks a payload that cannot be interpreted; it moves the job
// to the terminal failed status instead of leaving it claimable.
type payloadError struct{ err error }

func (e *payloadError) Error() string { return e.err.Error() }
func (e *payloadError) Unwrap() error { return e.err }

// processImport resolves one slice of an import job's raw names. Names are
// cleaned here, not at creation, so the stored payload keeps exactly what the
// user submitted. A re-imported name whose row was registered and now answers
// an authoritative miss raises the same availability event a scheduled check
// would. Returns the number of input positions that count as errors.
func (p *Pool) processImport(ctx context.Context, job *db.Job, start, end int) (int, error) {
	payload, err := db.DecodeImportPayload(job.Payload)
	if err != nil {
		return 0, &payloadError{err}
	}
	if end > len(payload.Names) {
		return 0, &payloadError{fmt.Errorf("worker: import payload has %d names, claim ends at %d", len(payload.Names), end)}
	}
	slice := payload.Names[start:end]

	errDelta := 0
	names := make([]string, 0, len(slice))
	for _, raw := range slice {
		name, err := CleanName(raw)
		if err != nil {
			errDelta++
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return errDelta, nil
	}

	// Prior rows classify new versus refreshed names and carry the state a
	// transition is diffed against. Known names are not skipped: the flush
	// below refreshes them, so a re-import picks up a changed expiry.
	priorRows, err := p.domains.GetByNames(ctx, names)
	if err != nil {
		return 0, err
	}
	prior := make(map[string]db.Domain, len(priorRows))
	for _, row := range priorRows {
		prior[row.Name] = row
	}

	now := time.Now().UTC()
	results := p.engine.LookupBatch(ctx, names)

	updates := make([]repositories.DomainUpdate, 0, len(results))
	var transitions []notifier.Event
	for _, res := range results {
		if res.Err != nil {
			errDelta++
			continue
		}
		updates = append(updates, repositories.DomainUpdate{
			Name:          res.Name,
			IsRegistered:  res.Registered,
			ExpiryDate:    res.ExpiryDate,
			CheckedAt:     now,
			Authoritative: res.Authoritative(),
		})
		if row, ok := prior[res.Name]; ok && row.IsRegistered && res.Authoritative() && !res.Registered {
			transitions = append(transitions, notifier.Event{
				DomainID:   row.ID,
				Name:       row.Name,
				UserID:     row.AddedBy,
				ObservedAt: now,
			})
		}
	}
	if err := p.domains.FlushImport(ctx, updates, job.UserID); err != nil {
		return 0, err
	}
	// Events fire only after the flush commits, same as the check path.
	if p.events != nil {
		for _, ev := range transitions {
			p.events.Enqueue(ev)
		}
	}

	p.logger.Info("import slice flushed",
		zap.Int64("job_id", job.ID),
		zap.Int("new", len(names)-len(prior)),
		zap.Int("refreshed", len(prior)),
		zap.Int("errors", errDelta))
	return errDelta, nil
}

// processCheck re-resolves one slice of tracked domains by id and detects
// registered→available transitions. Only authoritative results are flushed: a
// synthesized miss or a failed lookup must never flip a row to available.
func (p *Pool) processCheck(ctx context.Context, job *db.Job, start, end int) (int, error) {
	payload, err := db.DecodeCheckPayload(job.Payload)
	if err != nil {
		return 0, &payloadError{err}
	}
	if end > len(payload.IDs) {
		return 0, &payloadError{fmt.Errorf("worker: check payload has %d ids, claim ends at %d", len(payload.IDs), end)}
	}
	slice := payload.IDs[start:end]

	// Ids whose rows have been deleted since job creation are silently
	// absent here and simply drop out of the batch.
	rows, err := p.domains.GetByIDs(ctx, slice)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	names := make([]string, len(rows))
	prior := make(map[string]db.Domain, len(rows))
	for i, row := range rows {
		names[i] = row.Name
		prior[row.Name] = row
	}

	now := time.Now().UTC()
	results := p.engine.LookupBatch(ctx, names)

	errDelta := 0
	updates := make([]repositories.DomainUpdate, 0, len(rows))
	var transitions []notifier.Event
	for name, res := range results {
		row, ok := prior[name]
		if !ok {
			continue
		}
		if res.Err != nil {
			errDelta++
			continue
		}
		if !res.Authoritative() {
			continue
		}
		updates = append(updates, repositories.DomainUpdate{
			ID:           row.ID,
			IsRegistered: res.Registered,
			ExpiryDate:   res.ExpiryDate,
			CheckedAt:    now,
		})
		if row.IsRegistered && !res.Registered {
			transitions = append(transitions, notifier.Event{
				DomainID:   row.ID,
				Name:       row.Name,
				UserID:     row.AddedBy,
				ObservedAt: now,
			})
		}
	}

	if err := p.domains.FlushCheck(ctx, updates); err != nil {
		return 0, err
	}
	// Events fire only after the flush commits; a failed flush produces no
	// notification and the next scan re-detects the transition.
	if p.events != nil {
		for _, ev := range transitions {
			p.events.Enqueue(ev)
		}
	}
	return errDelta, nil
}

func (p *Pool) publishProgress(job *db.Job, cursor, errDelta int) {
	if p.hub == nil {
		return
	}
	topic := fmt.Sprintf("job:%d", job.ID)
	p.hub.Publish(topic, ws.Message{
		Type:  ws.MsgJobProgress,
		Topic: topic,
		Payload: map[string]any{
			"job_id":    job.ID,
			"kind":      job.Kind,
			"processed": cursor,
			"total":     job.Total,
			"errors":    errDelta,
		},
	})
}
