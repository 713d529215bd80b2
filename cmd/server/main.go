package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/arturoeanton/go-pitwall-ollama/internal/bootstrap"
	"github.com/arturoeanton/go-pitwall-ollama/internal/handler"
	"github.com/arturoeanton/go-pitwall-ollama/internal/logging"
	"github.com/arturoeanton/go-pitwall-ollama/internal/mcp"
	"github.com/arturoeanton/go-pitwall-ollama/internal/middleware"
	"github.com/arturoeanton/go-pitwall-ollama/internal/service"
	"github.com/arturoeanton/go-pitwall-ollama/pkg/config"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()
	logging.Init(cfg.LogFormat, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("🚀 Starting Pitwall",
		"port", cfg.Port,
		"index_backend", cfg.IndexBackend,
		"encoder", cfg.EncoderProvider,
		"ollama_chat", cfg.OllamaChatURL,
		"mcp_enabled", cfg.MCPEnabled,
	)

	// ── Store, encoder, index, strategies ───────────────────────────────
	components, err := bootstrap.Build(context.Background(), cfg, nil)
	if err != nil {
		slog.Error("failed to initialise components", "error", err)
		os.Exit(1)
	}
	defer components.Close()

	// ── Services ─────────────────────────────────────────────────────────
	decisionService := service.NewDecisionService(components.Engine, components.Store, cfg.ReasonerTimeout+cfg.EncoderTimeout)

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ReasonerTimeout + cfg.EncoderTimeout + 10*time.Second,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
	}))

	// Audit middleware (logs all requests)
	app.Use(middleware.AuditMiddleware(components.Store))

	// Health check
	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		stats, err := components.Index.Stats(c.Context())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "degraded",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"app":       cfg.AppName,
			"version":   "1.0.0",
			"encoder":   components.Encoder.ModelName(),
			"scenarios": stats.TotalScenarios,
		})
	})

	// ── Routes ───────────────────────────────────────────────────────────
	jwtConfig := middleware.JWTConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		ExpiresIn: time.Duration(cfg.JWTExpiration) * time.Hour,
	}
	if !jwtConfig.Enabled() {
		slog.Warn("⚠️ JWT_SECRET not set: index mutation routes are open")
	}

	api := app.Group("/api/v1")

	jobTracker := handler.NewJobTracker()

	decisionHandler := handler.NewDecisionHandler(decisionService)
	decisionHandler.Register(api)

	indexHandler := handler.NewIndexHandler(components.Index, jobTracker, middleware.OperatorGuard(jwtConfig), cfg.GoldenDir)
	indexHandler.Register(api)

	jobsHandler := handler.NewJobsHandler(jobTracker)
	jobsHandler.Register(api)

	auditHandler := handler.NewAuditHandler(components.Store)
	auditHandler.Register(api)

	// ── MCP Server (separate port) ───────────────────────────────────────
	if cfg.MCPEnabled {
		mcpServer := mcp.NewServer(decisionService, components.Index, components.Store, cfg.MCPPort)
		go func() {
			if err := mcpServer.Start(); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	// ── Start ────────────────────────────────────────────────────────────
	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
		components.Close()
		os.Exit(1)
	}
}
