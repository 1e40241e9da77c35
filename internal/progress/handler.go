package progress

import (
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
	g.GET("/progress", h.GetAll)
	g.GET("/progress/:slug", h.GetOne)
	g.PUT("/progress/:slug", h.Update)
}

type updateRequest struct {
	Percent float64 `json:"percent"`
}

type progressResponse struct {
	Slug    string `json:"slug"`
	Percent int    `json:"percent"`
}

func (h *Handler) GetAll(c echo.Context) error {
	all, err := h.store.All(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to read progress", "error", err)
		return shared.InternalError("progress_read_failed", "failed to read progress")
	}
	return c.JSON(http.StatusOK, all)
}

func (h *Handler) GetOne(c echo.Context) error {
	slug := c.Param("slug")

	percent, err := h.store.Get(c.Request().Context(), slug)
	if err != nil {
		h.logger.Error("failed to read progress", "error", err, "slug", slug)
		return shared.InternalError("progress_read_failed", "failed to read progress")
	}
	return c.JSON(http.StatusOK, progressResponse{Slug: slug, Percent: percent})
}

func (h *Handler) Update(c echo.Context) error {
	slug := c.Param("slug")

	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_body", "expected {\"percent\": number}")
	}

	stored, err := h.store.Set(c.Request().Context(), slug, req.Percent)
	if err != nil {
		h.logger.Error("failed to save progress", "error", err, "slug", slug)
		return shared.InternalError("progress_write_failed", "failed to save progress")
	}
	return c.JSON(http.StatusOK, progressResponse{Slug: slug, Percent: stored})
}
