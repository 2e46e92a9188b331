// Package httpapi implements the External Service's HTTP report ingress:
// three header-authenticated endpoints that turn an ESS
// POST into an api_receive_log row, domain writes, and a report_publish_log
// row for the broker-publish poller, plus /healthz.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/store"
)

// DBPool is the subset of *pgxpool.Pool the handler needs.
type DBPool interface {
	store.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Handler serves the ES report-ingress endpoints.
type Handler struct {
	pool    DBPool
	systems *store.ExternalSystemStore
	logger  *zap.Logger
}

// New constructs a Handler.
func New(pool DBPool, logger *zap.Logger) *Handler {
	return &Handler{pool: pool, systems: store.NewExternalSystemStore(pool), logger: logger}
}

// Register mounts every route this handler serves on e.
func (h *Handler) Register(e *echo.Echo) {
	g := e.Group("/api/reports", h.authMiddleware)
	g.POST("/device-info", h.DeviceInfo)
	g.POST("/device-status", h.DeviceStatus)
	g.POST("/disaster-result", h.DisasterResult)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

type contextKey int

const externalSystemContextKey contextKey = iota

// authMiddleware validates x-system-name/x-api-key against external_systems
// (active only) and stashes the resolved row in the request context
//.
func (h *Handler) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		systemName := c.Request().Header.Get("x-system-name")
		apiKey := c.Request().Header.Get("x-api-key")
		if systemName == "" || apiKey == "" {
			return writeError(c, http.StatusUnauthorized, "missing x-system-name/x-api-key", nil)
		}

		system, err := h.systems.GetByCredentials(c.Request().Context(), systemName, apiKey)
		if err != nil {
			return writeError(c, http.StatusUnauthorized, "invalid x-system-name/x-api-key", nil)
		}

		ctx := context.WithValue(c.Request().Context(), externalSystemContextKey, system)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func externalSystemFromContext(c echo.Context) *store.ExternalSystem {
	system, _ := c.Request().Context().Value(externalSystemContextKey).(*store.ExternalSystem)
	return system
}

// fieldError is one entry in a 400 response's details list.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeError(c echo.Context, status int, msg string, details []fieldError) error {
	body := map[string]any{"error": msg}
	if len(details) > 0 {
		body["details"] = details
	}
	return c.JSON(status, body)
}

func writeOK(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, map[string]string{"message": msg})
}

func (h *Handler) writeServerError(c echo.Context, op string, err error) error {
	h.logger.Error(op, zap.Error(err))
	return writeError(c, http.StatusInternalServerError, "internal error", nil)
}

// bindAndCapture reads the request body once, decodes it into dst, and
// returns the raw bytes for api_receive_log/report_publish_log's audit
// storage — Echo's Bind consumes the body, so this must happen before any
// other read of c.Request().Body.
func bindAndCapture(c echo.Context, dst any) ([]byte, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, err
	}
	c.Request().Body = io.NopCloser(bytes.NewReader(raw))
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, err
	}
	return raw, nil
}
