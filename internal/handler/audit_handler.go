package handler

import (
	"context"
	"strconv"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/gofiber/fiber/v3"
)

const maxAuditRows = 500

// AuditLister reads persisted audit rows.
type AuditLister interface {
	ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error)
}

// AuditHandler exposes the request audit trail.
type AuditHandler struct {
	store AuditLister
}

func NewAuditHandler(store AuditLister) *AuditHandler {
	return &AuditHandler{store: store}
}

// Register mounts GET /audit/logs.
func (h *AuditHandler) Register(router fiber.Router) {
	router.Get("/audit/logs", h.ListLogs)
}

// ListLogs returns the newest rows, optionally narrowed to one action
// (decide, compare, index_ingest, mcp_call...).
func (h *AuditHandler) ListLogs(c fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "100"))
	if err != nil || limit <= 0 {
		return badRequest(c, "limit must be a positive integer")
	}
	limit = min(limit, maxAuditRows)

	logs, err := h.store.ListAuditLogs(c.Context(), limit, c.Query("action"))
	if err != nil {
		return respondError(c, err)
	}
	if logs == nil {
		logs = []domain.AuditLog{}
	}
	return c.JSON(fiber.Map{"logs": logs, "count": len(logs), "limit": limit})
}
