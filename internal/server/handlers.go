package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"pagecache/internal/core"
)

// CacheAdmin is the part of the cache store the admin routes operate on.
type CacheAdmin interface {
	Len() int
	Namespace() string
	HasDurable() bool
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// Handler holds the HTTP handlers
type Handler struct {
	store CacheAdmin
}

// NewHandler creates a new handler for store
func NewHandler(store CacheAdmin) *Handler {
	return &Handler{store: store}
}

// StatsResponse is returned by GET /cache
type StatsResponse struct {
	Namespace     string `json:"namespace"`
	MemoryEntries int    `json:"memory_entries"`
	Durable       bool   `json:"durable"`
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Stats handles GET /cache
func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, StatsResponse{
		Namespace:     h.store.Namespace(),
		MemoryEntries: h.store.Len(),
		Durable:       h.store.HasDurable(),
	})
}

// Clear handles DELETE /cache
func (h *Handler) Clear(c echo.Context) error {
	h.store.Clear(c.Request().Context())
	slog.Info("cache cleared via admin API",
		"namespace", h.store.Namespace(),
		"request_id", core.GetRequestID(c.Request().Context()),
	)
	return c.NoContent(http.StatusNoContent)
}

// Delete handles DELETE /cache/:key
func (h *Handler) Delete(c echo.Context) error {
	key, err := url.PathUnescape(c.Param("key"))
	if err != nil || key == "" {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request_error", "invalid cache key"))
	}
	h.store.Delete(c.Request().Context(), key)
	slog.Info("cache entry deleted via admin API",
		"key", key,
		"request_id", core.GetRequestID(c.Request().Context()),
	)
	return c.NoContent(http.StatusNoContent)
}

func errorBody(typ, message string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    typ,
			"message": message,
		},
	}
}
