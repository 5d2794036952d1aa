package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piowaw/domainalert/internal/db"
	"github.com/piowaw/domainalert/internal/lookup"
	"github.com/piowaw/domainalert/internal/repositories"
	"github.com/piowaw/domainalert/internal/worker"
)

// DomainHandler groups the domain catalogue endpoints. Single adds run
// through the same clean-and-lookup path as bulk imports, just without a job;
// deletion is a user action the pipeline itself never performs.
type DomainHandler struct {
	domains repositories.DomainRepository
	engine  lookup.Engine
	logger  *zap.Logger
}

// NewDomainHandler creates a new DomainHandler.
func NewDomainHandler(domains repositories.DomainRepository, engine lookup.Engine, logger *zap.Logger) *DomainHandler {
	return &DomainHandler{
		domains: domains,
		engine:  engine,
		logger:  logger.Named("domain_handler"),
	}
}

// -----------------------------------------------------------------------------
// Request / response types
// -----------------------------------------------------------------------------

type createDomainRequest struct {
	Name string `json:"name"`
}

// domainResponse is the JSON representation of a tracked domain. ExpiryDate
// is a calendar date; LastChecked is a full timestamp.
type domainResponse struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	IsRegistered bool    `json:"is_registered"`
	ExpiryDate   *string `json:"expiry_date"`
	LastChecked  *string `json:"last_checked"`
	CreatedAt    string  `json:"created_at"`
}

func domainToResponse(d *db.Domain) domainResponse {
	resp := domainResponse{
		ID:           d.ID,
		Name:         d.Name,
		IsRegistered: d.IsRegistered,
		CreatedAt:    d.CreatedAt.UTC().String(),
	}
	if d.ExpiryDate != nil {
		s := d.ExpiryDate.UTC().Format("2006-01-02")
		resp.ExpiryDate = &s
	}
	if d.LastChecked != nil {
		s := d.LastChecked.UTC().Format(time.RFC3339)
		resp.LastChecked = &s
	}
	return resp
}

type listDomainsResponse struct {
	Items []domainResponse `json:"items"`
	Total int64            `json:"total"`
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// List handles GET /api/v1/domains. Regular users see their own catalogue;
// admins see everything. `?filter=expiring` narrows the result to registered
// domains whose expiry date has passed or falls within the next 30 days;
// `?filter=available` to domains currently observed as unregistered.
func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)
	claims := claimsFromCtx(r.Context())

	switch r.URL.Query().Get("filter") {
	case "expiring":
		horizon := time.Now().UTC().Add(30 * 24 * time.Hour)
		rows, err := h.domains.ListExpired(r.Context(), horizon, opts.Limit)
		if err != nil {
			h.logger.Error("failed to list expiring domains", zap.Error(err))
			ErrInternal(w)
			return
		}
		h.writeDomainList(w, rows, int64(len(rows)))
		return

	case "available":
		scope := userIDFromCtx(r.Context())
		if claims != nil && claims.IsAdmin {
			scope = uuid.Nil
		}
		rows, total, err := h.domains.ListAvailable(r.Context(), scope, opts)
		if err != nil {
			h.logger.Error("failed to list available domains", zap.Error(err))
			ErrInternal(w)
			return
		}
		h.writeDomainList(w, rows, total)
		return
	}

	var (
		rows  []db.Domain
		total int64
		err   error
	)
	if claims != nil && claims.IsAdmin {
		rows, total, err = h.domains.List(r.Context(), opts)
	} else {
		rows, total, err = h.domains.ListByUser(r.Context(), userIDFromCtx(r.Context()), opts)
	}
	if err != nil {
		h.logger.Error("failed to list domains", zap.Error(err))
		ErrInternal(w)
		return
	}
	h.writeDomainList(w, rows, total)
}

// GetByID handles GET /api/v1/domains/{id}.
func (h *DomainHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	d, err := h.domains.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get domain", zap.Int64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, domainToResponse(d))
}

// Create handles POST /api/v1/domains: clean the name, look it up once, and
// store the result.
func (h *DomainHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDomainRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	name, err := worker.CleanName(req.Name)
	if err != nil {
		ErrBadRequest(w, "invalid domain name")
		return
	}

	existing, err := h.domains.Existing(r.Context(), []string{name})
	if err != nil {
		h.logger.Error("failed to check existing domain", zap.Error(err))
		ErrInternal(w)
		return
	}
	if _, ok := existing[name]; ok {
		ErrConflict(w, "domain is already tracked")
		return
	}

	results := h.engine.LookupBatch(r.Context(), []string{name})
	res := results[name]
	if res.Err != nil {
		h.logger.Warn("single-add lookup failed",
			zap.String("name", name),
			zap.Error(res.Err))
		errJSON(w, http.StatusBadGateway, "lookup failed, try again later", "lookup_failed")
		return
	}

	update := repositories.DomainUpdate{
		Name:          name,
		IsRegistered:  res.Registered,
		ExpiryDate:    res.ExpiryDate,
		CheckedAt:     time.Now().UTC(),
		Authoritative: res.Authoritative(),
	}
	if err := h.domains.FlushImport(r.Context(), []repositories.DomainUpdate{update}, userIDFromCtx(r.Context())); err != nil {
		h.logger.Error("failed to store domain", zap.String("name", name), zap.Error(err))
		ErrInternal(w)
		return
	}

	d, err := h.domains.GetByName(r.Context(), name)
	if err != nil {
		ErrInternal(w)
		return
	}
	Created(w, domainToResponse(d))
}

// Delete handles DELETE /api/v1/domains/{id}.
func (h *DomainHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.domains.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete domain", zap.Int64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}

func (h *DomainHandler) writeDomainList(w http.ResponseWriter, rows []db.Domain, total int64) {
	items := make([]domainResponse, len(rows))
	for i := range rows {
		items[i] = domainToResponse(&rows[i])
	}
	Ok(w, listDomainsResponse{Items: items, Total: total})
}
