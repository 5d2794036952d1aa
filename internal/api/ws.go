package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/piowaw/domainalert/internal/auth"
	"github.com/piowaw/domainalert/internal/ws"
)

// WSHandler handles the WebSocket upgrade endpoint GET /api/v1/ws.
// Authentication uses a JWT passed as the `token` query parameter instead of
// the Authorization header, because browsers cannot set custom headers on
// WebSocket connections opened via the native WebSocket API.
//
// Topic subscription is declared at connection time via the `topics` query
// parameter (comma-separated, e.g. "availability,job:42"). The
// notifications:<user_id> topic is always added from the JWT claims so the
// client does not need to know its own user id.
type WSHandler struct {
	hub     *ws.Hub
	manager *auth.Manager
	logger  *zap.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *ws.Hub, manager *auth.Manager, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:     hub,
		manager: manager,
		logger:  logger.Named("ws_handler"),
	}
}

// ServeWS handles GET /api/v1/ws. The handler blocks until the connection
// closes; this is expected for WebSocket handlers.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		ErrUnauthorized(w)
		return
	}
	claims, err := h.manager.ValidateAccessToken(tokenStr)
	if err != nil {
		ErrUnauthorized(w)
		return
	}

	topics := resolveTopics(r, claims)

	client, err := ws.NewClient(h.hub, w, r, topics, h.logger)
	if err != nil {
		// The upgrader has already written the error response.
		h.logger.Warn("ws: upgrade failed",
			zap.String("user_id", claims.UserID),
			zap.Error(err))
		return
	}

	h.logger.Info("ws: client connected",
		zap.String("user_id", claims.UserID),
		zap.Strings("topics", topics))

	client.Run()

	h.logger.Info("ws: client disconnected",
		zap.String("user_id", claims.UserID))
}

// resolveTopics combines the explicit topics from the query parameter with
// the user's own notification channel. Unknown topic strings are harmless
// since nothing is ever published to them.
func resolveTopics(r *http.Request, claims *auth.Claims) []string {
	seen := make(map[string]struct{})
	var topics []string

	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, exists := seen[t]; !exists {
			seen[t] = struct{}{}
			topics = append(topics, t)
		}
	}

	add("notifications:" + claims.UserID)
	if raw := r.URL.Query().Get("topics"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			add(t)
		}
	}
	return topics
}
