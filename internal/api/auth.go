package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/piowaw/domainalert/internal/auth"
	"github.com/piowaw/domainalert/internal/repositories"
)

// AuthHandler groups the authentication endpoints.
type AuthHandler struct {
	svc    *auth.Service
	users  repositories.UserRepository
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc *auth.Service, users repositories.UserRepository, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		users:  users,
		logger: logger.Named("auth_handler"),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type userResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		ErrBadRequest(w, "email and password are required")
		return
	}

	token, user, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			ErrUnauthorized(w)
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, loginResponse{
		Token: token,
		User: userResponse{
			ID:      user.ID.String(),
			Email:   user.Email,
			IsAdmin: user.IsAdmin,
		},
	})
}

// ListUsers handles GET /api/v1/users. Admin only.
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, total, err := h.users.List(r.Context(), paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		ErrInternal(w)
		return
	}
	items := make([]userResponse, len(users))
	for i := range users {
		items[i] = userResponse{
			ID:      users[i].ID.String(),
			Email:   users[i].Email,
			IsAdmin: users[i].IsAdmin,
		}
	}
	Ok(w, envelope{"items": items, "total": total})
}

// GetMe handles GET /api/v1/users/me.
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(r.Context(), userIDFromCtx(r.Context()))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrUnauthorized(w)
			return
		}
		h.logger.Error("failed to load current user", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, userResponse{
		ID:      user.ID.String(),
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
	})
}
