package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/index"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
	"github.com/arturoeanton/go-pitwall-ollama/internal/validator"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// maxSearchK bounds the k a caller may request from /index/search.
const maxSearchK = 50

// IndexHandler handles similarity index endpoints.
type IndexHandler struct {
	index     *index.Index
	tracker   *JobTracker
	guard     fiber.Handler
	goldenDir string
}

// NewIndexHandler creates a new index handler. guard protects every route
// that changes the index; goldenDir is the default ingest directory.
func NewIndexHandler(idx *index.Index, tracker *JobTracker, guard fiber.Handler, goldenDir string) *IndexHandler {
	if guard == nil {
		guard = func(c fiber.Ctx) error { return c.Next() }
	}
	return &IndexHandler{index: idx, tracker: tracker, guard: guard, goldenDir: goldenDir}
}

// Register sets up index routes.
func (h *IndexHandler) Register(router fiber.Router) {
	idx := router.Group("/index")
	idx.Post("/search", h.Search)
	idx.Get("/stats", h.Stats)
	idx.Get("/scenarios/:id", h.Get)

	idx.Post("/scenarios", h.guard, h.Upsert)
	idx.Post("/collections", h.guard, h.IngestCollection)
	idx.Post("/ingest-directory", h.guard, h.IngestDirectory)
	idx.Delete("/scenarios", h.guard, h.Clear)
}

// Search returns the k scenarios nearest to the one in the body.
func (h *IndexHandler) Search(c fiber.Ctx) error {
	var body struct {
		Scenario *domain.Scenario   `json:"scenario"`
		K        int                `json:"k"`
		Filter   *port.SearchFilter `json:"filter"`
	}
	if err := c.Bind().JSON(&body); err != nil || body.Scenario == nil {
		return badRequest(c, "body must contain a scenario")
	}
	if body.K <= 0 {
		body.K = 5
	}
	if body.K > maxSearchK {
		body.K = maxSearchK
	}
	if err := validator.Check(body.Scenario); err != nil {
		return respondError(c, err)
	}

	hits, err := h.index.Search(c.Context(), body.Scenario, body.K, body.Filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"results": hits,
		"count":   len(hits),
	})
}

// Get returns one stored scenario.
func (h *IndexHandler) Get(c fiber.Ctx) error {
	s, err := h.index.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(s)
}

// Stats summarises the index.
func (h *IndexHandler) Stats(c fiber.Ctx) error {
	stats, err := h.index.Stats(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// Upsert stores one scenario under the given id, replacing any previous entry.
func (h *IndexHandler) Upsert(c fiber.Ctx) error {
	var body struct {
		ID       string           `json:"id"`
		Scenario *domain.Scenario `json:"scenario"`
	}
	if err := c.Bind().JSON(&body); err != nil || body.Scenario == nil {
		return badRequest(c, "body must contain id and scenario")
	}
	if body.ID == "" {
		body.ID = body.Scenario.ID
	}
	if body.ID == "" {
		return badRequest(c, "scenario id is required")
	}
	if err := validator.Check(body.Scenario); err != nil {
		return respondError(c, err)
	}

	if err := h.index.Ingest(c.Context(), body.Scenario, body.ID); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": body.ID})
}

// IngestCollection validates a golden collection against the schema and
// ingests it.
func (h *IndexHandler) IngestCollection(c fiber.Ctx) error {
	raw := c.Body()
	violations, err := validator.ValidateCollectionJSON(raw)
	if err != nil {
		return badRequest(c, "invalid collection JSON")
	}
	if len(violations) > 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":      "collection failed schema validation",
			"violations": violations,
		})
	}

	var coll domain.ScenarioCollection
	if err := json.Unmarshal(raw, &coll); err != nil {
		return badRequest(c, "invalid collection JSON")
	}
	n, err := h.index.IngestCollection(c.Context(), &coll)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"race":     coll.Race.Name,
		"ingested": n,
	})
}

// IngestDirectory starts a background ingest of every collection in a
// directory and returns 202 with the job id immediately.
func (h *IndexHandler) IngestDirectory(c fiber.Ctx) error {
	var body struct {
		Path string `json:"path"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	dir, err := withinRoot(h.goldenDir, body.Path)
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return badRequest(c, "not a directory: "+body.Path)
	}

	jobID := uuid.New().String()
	h.tracker.CreateJob(jobID, dir)

	// Ingest in the background; the request returns immediately
	go h.runIngestJob(jobID, dir)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":  jobID,
		"source":  filepath.Clean(dir),
		"message": "ingest started",
	})
}

// withinRoot resolves requested against root and refuses anything that
// leaves it. Relative paths are taken from root; "" is root itself.
func withinRoot(root, requested string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve ingest root: %w", err)
	}
	dir := requested
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(absRoot, dir)
	}
	dir = filepath.Clean(dir)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
		if r, err := filepath.EvalSymlinks(absRoot); err == nil {
			absRoot = r
		}
	}
	rel, err := filepath.Rel(absRoot, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the ingest root", requested)
	}
	return dir, nil
}

func (h *IndexHandler) runIngestJob(jobID, dir string) {
	n, err := h.index.IngestDirectory(context.Background(), dir, func(file string, done, total, ingested int) {
		h.tracker.Progress(jobID, file, done, total, ingested)
	})
	if err != nil {
		slog.Error("ingest job failed", "job_id", jobID, "dir", dir, "error", err)
	} else {
		slog.Info("✅ ingest job complete", "job_id", jobID, "scenarios", n)
	}
	h.tracker.Finish(jobID, n, err)
}

// Clear removes every entry from the index.
func (h *IndexHandler) Clear(c fiber.Ctx) error {
	if err := h.index.Clear(c.Context()); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"cleared": true})
}
