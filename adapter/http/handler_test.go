package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/dchu3/base-mcp-bot/internal/config"
	"github.com/dchu3/base-mcp-bot/internal/core"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	cfg := config.Load()
	cfg.DatabaseDSN = ":memory:"
	cfg.UseMockLLM = true
	cfg.WallClock = 5 * time.Second
	// core.New needs at least one tool server. This one never starts, so the
	// catalog stays empty and the mock bridge answers without calling a tool.
	cfg.ToolServers = []config.ToolServerConfig{{Name: "absent", Command: "/nonexistent/tool-server"}}

	c, err := core.New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("core.New failed: %v", err)
	}
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return NewHandler(c)
}

func TestAskValidation(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", bytes.NewBufferString(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Ask(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAskSuccess(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	body := `{"user_key":"u1","message":"what is the weather"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Ask(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp AskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer == "" {
		t.Fatalf("expected non-empty answer")
	}
}

func TestClearSuccess(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/u1/clear", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("user_key")
	c.SetParamValues("u1")

	if err := h.Clear(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
