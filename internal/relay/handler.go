package relay

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// allowedHeaders matches the permissive header allow-list browsers send
// with the live-coach preflight.
const allowedHeaders = "authorization, x-client-info, apikey, content-type"

type Handler struct {
	factory CoachFactory
	logger  *slog.Logger
}

func NewHandler(factory CoachFactory, logger *slog.Logger) *Handler {
	return &Handler{
		factory: factory,
		logger:  logger.With("handler", "relay"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/live", h.handleLive)
	g.OPTIONS("/live", h.handlePreflight)
}

func setCORSHeaders(c echo.Context) {
	header := c.Response().Header()
	header.Set(echo.HeaderAccessControlAllowOrigin, "*")
	header.Set(echo.HeaderAccessControlAllowHeaders, allowedHeaders)
}

// handlePreflight short-circuits CORS preflight with permissive headers
// and no body, independent of the socket-upgrade path.
func (h *Handler) handlePreflight(c echo.Context) error {
	setCORSHeaders(c)
	return c.NoContent(http.StatusOK)
}

func (h *Handler) handleLive(c echo.Context) error {
	setCORSHeaders(c)

	if !websocket.IsWebSocketUpgrade(c.Request()) {
		h.logger.Debug("rejected non-upgrade request", "method", c.Request().Method)
		return c.String(http.StatusBadRequest, "Expected WebSocket upgrade")
	}

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	connID := "conn_" + uuid.NewString()
	bridge := NewBridge(connID, ws, h.logger)

	h.logger.Info("client connected", "connection_id", connID)
	bridge.Run(c.Request().Context(), h.factory)
	h.logger.Info("client disconnected", "connection_id", connID)

	return nil
}
