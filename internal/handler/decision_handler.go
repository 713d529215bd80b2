package handler

import (
	"strconv"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/service"
	"github.com/gofiber/fiber/v3"
)

// DecisionHandler handles strategy and decision endpoints.
type DecisionHandler struct {
	decisions *service.DecisionService
}

// NewDecisionHandler creates a new decision handler.
func NewDecisionHandler(decisions *service.DecisionService) *DecisionHandler {
	return &DecisionHandler{decisions: decisions}
}

// Register sets up decision routes.
func (h *DecisionHandler) Register(router fiber.Router) {
	router.Get("/strategies", h.ListStrategies)
	router.Post("/decide/:strategy", h.Decide)
	router.Post("/compare", h.Compare)
	router.Get("/decisions", h.ListDecisions)
}

// ListStrategies returns the registered strategies.
func (h *DecisionHandler) ListStrategies(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"strategies": h.decisions.ListStrategies(),
	})
}

// Decide runs the named strategy on the scenario in the body. The optional
// k query parameter sets the retrieval depth.
func (h *DecisionHandler) Decide(c fiber.Ctx) error {
	var s domain.Scenario
	if err := c.Bind().JSON(&s); err != nil {
		return badRequest(c, "invalid scenario body")
	}
	k := 0
	if raw := c.Query("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(c, "k must be a positive integer")
		}
		k = n
	}

	rec, err := h.decisions.Decide(c.Context(), c.Params("strategy"), &s, k)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

// Compare runs every strategy on the scenario in the body.
func (h *DecisionHandler) Compare(c fiber.Ctx) error {
	var s domain.Scenario
	if err := c.Bind().JSON(&s); err != nil {
		return badRequest(c, "invalid scenario body")
	}
	return c.JSON(h.decisions.Compare(c.Context(), &s))
}

// ListDecisions returns persisted decisions, newest first.
func (h *DecisionHandler) ListDecisions(c fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	logs, err := h.decisions.History(c.Context(), limit, c.Query("strategy"))
	if err != nil {
		return respondError(c, err)
	}
	if logs == nil {
		logs = []domain.DecisionLog{}
	}
	return c.JSON(fiber.Map{
		"decisions": logs,
		"count":     len(logs),
	})
}
