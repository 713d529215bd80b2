package middleware

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/gofiber/fiber/v3"
)

// AuditWriter defines how audit records are persisted.
type AuditWriter interface {
	WriteAudit(operator, action, resource, resourceID, details, ip, userAgent string) error
}

// AuditMiddleware records every API request. Writes happen off the request
// path; a failed write is logged and otherwise ignored.
func AuditMiddleware(writer AuditWriter) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Capture request data BEFORE handler execution (Fiber reuses context objects)
		method := c.Method()
		path := strings.Clone(c.Path())
		ip := c.IP()
		userAgent := strings.Clone(c.Get("User-Agent"))

		err := c.Next()

		operator := "anonymous"
		if op := GetOperator(c); op != nil {
			operator = op.ID
		}

		statusCode := c.Response().StatusCode()
		details := map[string]any{
			"method":      method,
			"path":        path,
			"status":      statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		detailsJSON, _ := json.Marshal(details)
		action, resourceID := auditAction(method, path)

		go func() {
			if writeErr := writer.WriteAudit(
				operator,
				action,
				"api",
				resourceID,
				string(detailsJSON),
				ip,
				userAgent,
			); writeErr != nil {
				slog.Error("failed to write audit log", "error", writeErr)
			}
		}()

		return err
	}
}

// auditAction classifies a request into an audit action and resource id.
func auditAction(method, path string) (string, string) {
	rest := strings.TrimPrefix(path, "/api/v1")
	switch {
	case strings.HasPrefix(rest, "/decide/"):
		return domain.AuditActionDecide, strings.TrimPrefix(rest, "/decide/")
	case rest == "/compare":
		return domain.AuditActionCompare, ""
	case rest == "/index/search":
		return domain.AuditActionSearch, ""
	case method == fiber.MethodDelete && strings.HasPrefix(rest, "/index/"):
		return domain.AuditActionClear, ""
	case method == fiber.MethodPost && strings.HasPrefix(rest, "/index/"):
		return domain.AuditActionIngest, strings.TrimPrefix(rest, "/index/")
	default:
		return domain.AuditActionHTTPRequest, path
	}
}
