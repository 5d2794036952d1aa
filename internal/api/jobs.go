package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piowaw/domainalert/internal/db"
	"github.com/piowaw/domainalert/internal/repositories"
	"github.com/piowaw/domainalert/internal/worker"
)

// JobHandler groups the job queue endpoints. Jobs are created here or by the
// scheduler; their payload never changes afterwards, so every other endpoint
// is a read or a status transition.
type JobHandler struct {
	jobs    repositories.JobRepository
	domains repositories.DomainRepository
	pool    *worker.Pool
	logger  *zap.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(jobs repositories.JobRepository, domains repositories.DomainRepository, pool *worker.Pool, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		jobs:    jobs,
		domains: domains,
		pool:    pool,
		logger:  logger.Named("job_handler"),
	}
}

// -----------------------------------------------------------------------------
// Request / response types
// -----------------------------------------------------------------------------

// createJobRequest carries a new job. Payload is kind-dependent: an array of
// raw name strings for import, an array of domain ids for whois_check. An
// absent or empty whois_check payload means "all of the caller's domains";
// explicit ids are narrowed to domains the caller owns.
type createJobRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type processJobRequest struct {
	JobID     int64 `json:"job_id"`
	BatchSize int   `json:"batch_size,omitempty"`
}

type resumeJobRequest struct {
	JobID int64 `json:"job_id"`
}

// jobResponse is the JSON representation of a job row.
type jobResponse struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Errors    int    `json:"errors"`
	Result    string `json:"result,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func jobToResponse(j *db.Job) jobResponse {
	return jobResponse{
		ID:        j.ID,
		Kind:      j.Kind,
		Status:    j.Status,
		Total:     j.Total,
		Processed: j.Processed,
		Errors:    j.Errors,
		Result:    j.Result,
		CreatedAt: j.CreatedAt.UTC().String(),
		UpdatedAt: j.UpdatedAt.UTC().String(),
	}
}

// listJobsResponse wraps a paginated list of jobs.
type listJobsResponse struct {
	Items []jobResponse `json:"items"`
	Total int64         `json:"total"`
}

// processJobResponse pairs the post-cycle job row with a sentinel telling the
// caller what the cycle achieved: "processed" (keep calling), "complete" (no
// unclaimed payload left) or "contended" (a concurrent caller held the claim;
// retry or wait).
type processJobResponse struct {
	Result string      `json:"result"`
	Job    jobResponse `json:"job"`
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Create handles POST /api/v1/jobs.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := userIDFromCtx(r.Context())

	var (
		payload []byte
		err     error
	)
	switch req.Kind {
	case db.JobKindImport:
		var names []string
		if err := json.Unmarshal(req.Payload, &names); err != nil {
			ErrBadRequest(w, "import payload must be an array of name strings")
			return
		}
		if len(names) == 0 {
			ErrBadRequest(w, "import payload must not be empty")
			return
		}
		payload, err = db.EncodeImportPayload(names)

	case db.JobKindWhoisCheck:
		var ids []int64
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, &ids); err != nil {
				ErrBadRequest(w, "whois_check payload must be an array of domain ids")
				return
			}
		}
		if len(ids) == 0 {
			// No explicit ids: check everything the caller tracks.
			ids, err = h.allDomainIDs(r, userID)
			if err != nil {
				h.logger.Error("failed to list caller domains", zap.Error(err))
				ErrInternal(w)
				return
			}
		} else {
			ids, err = h.ownedDomainIDs(r, userID, ids)
			if err != nil {
				h.logger.Error("failed to resolve check ids", zap.Error(err))
				ErrInternal(w)
				return
			}
		}
		if len(ids) == 0 {
			ErrBadRequest(w, "no domains to check")
			return
		}
		payload, err = db.EncodeCheckPayload(ids)

	default:
		ErrBadRequest(w, "unknown job kind: use \"import\" or \"whois_check\"")
		return
	}
	if err != nil {
		h.logger.Error("failed to encode job payload", zap.Error(err))
		ErrInternal(w)
		return
	}

	total, err := db.PayloadLen(req.Kind, payload)
	if err != nil {
		ErrInternal(w)
		return
	}

	job := &db.Job{
		UserID:  userID,
		Kind:    req.Kind,
		Status:  db.JobStatusPending,
		Total:   total,
		Payload: payload,
	}
	if err := h.jobs.Create(r.Context(), job); err != nil {
		h.logger.Error("failed to create job", zap.Error(err))
		ErrInternal(w)
		return
	}
	Created(w, jobToResponse(job))
}

// List handles GET /api/v1/jobs. Regular users see their own jobs; admins see
// everything, including scheduler-created scans.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)
	claims := claimsFromCtx(r.Context())

	var (
		jobs  []db.Job
		total int64
		err   error
	)
	if claims != nil && claims.IsAdmin {
		jobs, total, err = h.jobs.List(r.Context(), opts)
	} else {
		jobs, total, err = h.jobs.ListByUser(r.Context(), userIDFromCtx(r.Context()), opts)
	}
	if err != nil {
		h.logger.Error("failed to list jobs", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]jobResponse, len(jobs))
	for i := range jobs {
		items[i] = jobToResponse(&jobs[i])
	}
	Ok(w, listJobsResponse{Items: items, Total: total})
}

// GetByID handles GET /api/v1/jobs/{id}.
func (h *JobHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	job, ok := h.loadVisible(w, r, id)
	if !ok {
		return
	}
	Ok(w, jobToResponse(job))
}

// Process handles POST /api/v1/jobs/process: synchronously runs one
// claim-lookup-flush cycle so a client can drive a job without a worker.
func (h *JobHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req processJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.JobID <= 0 {
		ErrBadRequest(w, "job_id is required")
		return
	}
	if req.BatchSize < 0 || req.BatchSize > 5000 {
		ErrBadRequest(w, "batch_size must be in [1, 5000]")
		return
	}
	if _, ok := h.loadVisible(w, r, req.JobID); !ok {
		return
	}

	outcome, job, err := h.pool.ProcessJob(r.Context(), req.JobID, req.BatchSize)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("process cycle failed",
			zap.Int64("job_id", req.JobID),
			zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, processJobResponse{Result: string(outcome), Job: jobToResponse(job)})
}

// Resume handles POST /api/v1/jobs/resume: flips processing back to pending
// so workers pick the job up again from the current cursor.
func (h *JobHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req resumeJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.JobID <= 0 {
		ErrBadRequest(w, "job_id is required")
		return
	}
	if _, ok := h.loadVisible(w, r, req.JobID); !ok {
		return
	}

	if err := h.jobs.Resume(r.Context(), req.JobID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to resume job", zap.Int64("job_id", req.JobID), zap.Error(err))
		ErrInternal(w)
		return
	}

	job, err := h.jobs.GetByID(r.Context(), req.JobID)
	if err != nil {
		ErrInternal(w)
		return
	}
	Ok(w, jobToResponse(job))
}

// Delete handles DELETE /api/v1/jobs/{id}.
func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.loadVisible(w, r, id); !ok {
		return
	}
	if err := h.jobs.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete job", zap.Int64("job_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}

// -----------------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------------

// loadVisible fetches a job and enforces ownership: regular users only see
// their own jobs, admins see all. A foreign job answers 404, not 403, so ids
// cannot be probed.
func (h *JobHandler) loadVisible(w http.ResponseWriter, r *http.Request, id int64) (*db.Job, bool) {
	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return nil, false
		}
		h.logger.Error("failed to get job", zap.Int64("job_id", id), zap.Error(err))
		ErrInternal(w)
		return nil, false
	}

	claims := claimsFromCtx(r.Context())
	if claims != nil && claims.IsAdmin {
		return job, true
	}
	if job.UserID != userIDFromCtx(r.Context()) {
		ErrNotFound(w)
		return nil, false
	}
	return job, true
}

// ownedDomainIDs scopes explicit check ids to the caller's own catalogue.
// Foreign and unknown ids drop out silently, the same non-answer a direct read
// of the domain would give; admins may check any tracked domain.
func (h *JobHandler) ownedDomainIDs(r *http.Request, userID uuid.UUID, ids []int64) ([]int64, error) {
	claims := claimsFromCtx(r.Context())
	admin := claims != nil && claims.IsAdmin

	rows, err := h.domains.GetByIDs(r.Context(), ids)
	if err != nil {
		return nil, err
	}
	owned := make([]int64, 0, len(rows))
	for _, d := range rows {
		if admin || d.AddedBy == userID {
			owned = append(owned, d.ID)
		}
	}
	return owned, nil
}

// allDomainIDs collects every domain id the caller tracks, paging through the
// catalogue so the read is bounded per query.
func (h *JobHandler) allDomainIDs(r *http.Request, userID uuid.UUID) ([]int64, error) {
	const page = 10000
	var ids []int64
	for offset := 0; ; offset += page {
		rows, _, err := h.domains.ListByUser(r.Context(), userID, repositories.ListOptions{Limit: page, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, d := range rows {
			ids = append(ids, d.ID)
		}
		if len(rows) < page {
			return ids, nil
		}
	}
}
