package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piowaw/domainalert/internal/db"
	"github.com/piowaw/domainalert/internal/repositories"
)

// NotificationHandler groups the in-app notification endpoints. All reads and
// writes are scoped to the authenticated user.
type NotificationHandler struct {
	repo   repositories.NotificationRepository
	logger *zap.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(repo repositories.NotificationRepository, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		repo:   repo,
		logger: logger.Named("notification_handler"),
	}
}

// notificationResponse is the JSON representation of an in-app notification.
type notificationResponse struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	Payload   string  `json:"payload"`
	ReadAt    *string `json:"read_at"`
	CreatedAt string  `json:"created_at"`
}

func notificationToResponse(n *db.Notification) notificationResponse {
	resp := notificationResponse{
		ID:        n.ID.String(),
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Body,
		Payload:   n.Payload,
		CreatedAt: n.CreatedAt.UTC().String(),
	}
	if n.ReadAt != nil {
		s := n.ReadAt.UTC().String()
		resp.ReadAt = &s
	}
	return resp
}

type listNotificationsResponse struct {
	Items []notificationResponse `json:"items"`
	Total int64                  `json:"total"`
}

// List handles GET /api/v1/notifications.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	notifications, total, err := h.repo.ListByUser(r.Context(), userIDFromCtx(r.Context()), paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]notificationResponse, len(notifications))
	for i := range notifications {
		items[i] = notificationToResponse(&notifications[i])
	}
	Ok(w, listNotificationsResponse{Items: items, Total: total})
}

// MarkAsRead handles PATCH /api/v1/notifications/{id}/read.
func (h *NotificationHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		ErrBadRequest(w, "invalid id: must be a valid UUID")
		return
	}

	// Ownership check before the write: marking another user's notification
	// is indistinguishable from a missing one.
	n, err := h.repo.GetByID(r.Context(), id)
	if err != nil || n.UserID != userIDFromCtx(r.Context()) {
		ErrNotFound(w)
		return
	}

	if err := h.repo.MarkAsRead(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to mark notification as read", zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}

// MarkAllAsRead handles PATCH /api/v1/notifications/read-all.
func (h *NotificationHandler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.MarkAllAsRead(r.Context(), userIDFromCtx(r.Context())); err != nil {
		h.logger.Error("failed to mark notifications as read", zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}
