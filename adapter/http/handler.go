// Package http provides a thin HTTP front-end over the agentic core, for
// callers that would rather speak JSON over a socket than embed the bot
// directly.
package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dchu3/base-mcp-bot/internal/core"
	"github.com/dchu3/base-mcp-bot/internal/planner"
)

// Handler adapts core.Core to echo routes.
type Handler struct {
	core *core.Core
}

// NewHandler builds a Handler over a running Core.
func NewHandler(c *core.Core) *Handler {
	return &Handler{core: c}
}

// NewServer builds a fully configured echo server exposing the bot's
// HTTP surface.
func NewServer(c *core.Core) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h := NewHandler(c)
	h.RegisterRoutes(e)

	return e
}

// RegisterRoutes wires the bot's routes onto an echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/ask", h.Ask)
	e.POST("/v1/sessions/:user_key/clear", h.Clear)
	e.GET("/health", h.Health)
}

// AskRequest is the request body for POST /v1/ask.
type AskRequest struct {
	UserKey string `json:"user_key"`
	Message string `json:"message"`
}

// AskResponse is the response body for POST /v1/ask.
type AskResponse struct {
	Answer        string           `json:"answer"`
	ToolCallsMade []ToolCallRecord `json:"tool_calls_made"`
	TerminalState string           `json:"terminal_state"`
}

// ToolCallRecord mirrors planner.ToolCallRecord for the wire response.
type ToolCallRecord struct {
	ServerName string `json:"server_name"`
	ToolName   string `json:"tool_name"`
	OK         bool   `json:"ok"`
}

func toWireToolCalls(records []planner.ToolCallRecord) []ToolCallRecord {
	out := make([]ToolCallRecord, 0, len(records))
	for _, r := range records {
		out = append(out, ToolCallRecord{ServerName: r.ServerName, ToolName: r.ToolName, OK: r.OK})
	}
	return out
}

// Ask runs one user message through the agentic loop.
// POST /v1/ask
func (h *Handler) Ask(c echo.Context) error {
	ctx := c.Request().Context()

	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.UserKey == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_key is required"})
	}
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}

	result, err := h.core.Ask(ctx, req.UserKey, req.Message)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, AskResponse{
		Answer:        result.AssistantText,
		ToolCallsMade: toWireToolCalls(result.ToolCallsMade),
		TerminalState: string(result.TerminalState),
	})
}

// Clear forgets a user's conversation history.
// POST /v1/sessions/:user_key/clear
func (h *Handler) Clear(c echo.Context) error {
	ctx := c.Request().Context()
	userKey := c.Param("user_key")

	if err := h.core.Clear(ctx, userKey); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
