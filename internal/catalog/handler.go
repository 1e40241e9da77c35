package catalog

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/flowyoga/coach-backend/internal/shared"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/sessions", h.ListSessions)
	g.GET("/sessions/:slug", h.GetSession)
}

type sessionListResponse struct {
	Sessions []YogaSession `json:"sessions"`
	Count    int           `json:"count"`
}

func (h *Handler) ListSessions(c echo.Context) error {
	filter := ListFilter{
		Level: Level(c.QueryParam("level")),
		Focus: Focus(c.QueryParam("focus")),
	}

	sessions, err := h.store.List(c.Request().Context(), filter)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		return shared.InternalError("list_failed", "failed to list sessions")
	}

	return c.JSON(http.StatusOK, sessionListResponse{
		Sessions: sessions,
		Count:    len(sessions),
	})
}

func (h *Handler) GetSession(c echo.Context) error {
	slug := c.Param("slug")

	sess, err := h.store.GetBySlug(c.Request().Context(), slug)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("session_not_found", "session not found")
		}
		h.logger.Error("failed to get session", "error", err, "slug", slug)
		return shared.InternalError("get_failed", "failed to get session")
	}

	return c.JSON(http.StatusOK, sess)
}
