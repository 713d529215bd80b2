// Package bootstrap wires configuration into the advisor's components. Every
// command builds the same graph: store, encoder, index and strategies.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/go-pitwall-ollama/internal/adapter/ai"
	"github.com/arturoeanton/go-pitwall-ollama/internal/adapter/hashenc"
	"github.com/arturoeanton/go-pitwall-ollama/internal/adapter/onnx"
	"github.com/arturoeanton/go-pitwall-ollama/internal/adapter/sidecar"
	"github.com/arturoeanton/go-pitwall-ollama/internal/adapter/store"
	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/embedding"
	"github.com/arturoeanton/go-pitwall-ollama/internal/index"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
	"github.com/arturoeanton/go-pitwall-ollama/internal/strategy"
	"github.com/arturoeanton/go-pitwall-ollama/pkg/config"
)

// Store is the durable decision and audit log.
type Store interface {
	SaveDecision(ctx context.Context, scenarioID string, rec *domain.DecisionRecord) (*domain.DecisionLog, error)
	ListDecisions(ctx context.Context, limit int, strategy string) ([]domain.DecisionLog, error)
	WriteAudit(operator, action, resource, resourceID, details, ip, userAgent string) error
	ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error)
	Close() error
}

// Components is the wired object graph.
type Components struct {
	Store    Store
	Index    *index.Index
	Encoder  port.TextEncoder
	Reasoner port.Reasoner
	Rules    *strategy.RuleEngine
	RAG      *strategy.RAGReasoner
	Engine   *port.StrategyEngine

	closers []func() error
}

// Close releases every resource Build opened, in reverse order.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Build opens the configured store, encoder and backend and registers both
// strategies. reasoner overrides the Ollama chat endpoint when non-nil.
func Build(ctx context.Context, cfg *config.Config, reasoner port.Reasoner) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	backend, err := c.openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ollama := ai.NewOllamaProvider(
		ai.OllamaEndpointConfig{BaseURL: cfg.OllamaEmbedURL, Model: cfg.OllamaEmbedModel, Token: cfg.OllamaEmbedToken},
		ai.OllamaEndpointConfig{BaseURL: cfg.OllamaChatURL, Model: cfg.OllamaChatModel, Token: cfg.OllamaChatToken},
	)

	enc, err := c.openEncoder(ctx, cfg, ollama)
	if err != nil {
		return nil, err
	}
	c.Encoder = WithEncoderTimeout(enc, cfg.EncoderTimeout)

	c.Index, err = index.New(embedding.New(c.Encoder, cfg.TextEmbeddingDimension), backend)
	if err != nil {
		return nil, err
	}

	if reasoner == nil {
		reasoner = ollama
	}
	c.Reasoner = WithReasonerTimeout(reasoner, cfg.ReasonerTimeout)
	c.Rules = strategy.NewRuleEngine()
	c.RAG = strategy.NewRAGReasoner(c.Index, c.Reasoner, cfg.RetrievalK, cfg.ReasonerTemperature)
	c.Engine = port.NewStrategyEngine(c.Rules, c.RAG)

	slog.Info("🧩 components ready",
		"backend", cfg.IndexBackend,
		"location", cfg.DSN(),
		"encoder", c.Encoder.ModelName(),
		"text_dim", cfg.TextEmbeddingDimension,
		"strategies", c.Engine.AvailableStrategies(),
	)
	ok = true
	return c, nil
}

func (c *Components) openBackend(ctx context.Context, cfg *config.Config) (port.VectorBackend, error) {
	dim := cfg.TextEmbeddingDimension + embedding.NumFeatures
	switch cfg.IndexBackend {
	case "postgres":
		pg, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		c.Store = pg
		c.closers = append(c.closers, pg.Close)
		return store.NewPgVectorIndex(ctx, pg, dim)
	case "sqlite", "":
		lite, err := store.NewSQLiteStore(cfg.IndexPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		c.Store = lite
		c.closers = append(c.closers, lite.Close)
		return store.NewSQLiteIndex(ctx, lite, dim)
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}

func (c *Components) openEncoder(ctx context.Context, cfg *config.Config, ollama *ai.OllamaProvider) (port.TextEncoder, error) {
	switch cfg.EncoderProvider {
	case "ollama", "":
		return ollama, nil
	case "hash":
		return hashenc.New(cfg.TextEmbeddingDimension), nil
	case "onnx":
		enc, err := OpenONNX(cfg)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, enc.Close)
		if enc.Dimension() != cfg.TextEmbeddingDimension {
			return nil, fmt.Errorf("%w: model %s outputs %d dims, TEXT_EMBEDDING_DIMENSION is %d",
				port.ErrDimensionMismatch, enc.ModelName(), enc.Dimension(), cfg.TextEmbeddingDimension)
		}
		return enc, nil
	case "sidecar":
		cl, err := sidecar.Dial(cfg.SidecarAddr)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, cl.Close)
		infoCtx := ctx
		if cfg.EncoderTimeout > 0 {
			var cancel context.CancelFunc
			infoCtx, cancel = context.WithTimeout(ctx, cfg.EncoderTimeout)
			defer cancel()
		}
		_, dim, err := cl.Info(infoCtx)
		if err != nil {
			return nil, err
		}
		if dim != cfg.TextEmbeddingDimension {
			return nil, fmt.Errorf("%w: sidecar %s outputs %d dims, TEXT_EMBEDDING_DIMENSION is %d",
				port.ErrDimensionMismatch, cfg.SidecarAddr, dim, cfg.TextEmbeddingDimension)
		}
		return cl, nil
	default:
		return nil, fmt.Errorf("unknown encoder provider %q", cfg.EncoderProvider)
	}
}

// OpenONNX loads the in-process sentence encoder from the configured files.
func OpenONNX(cfg *config.Config) (*onnx.Encoder, error) {
	return onnx.New(onnx.Config{
		ModelPath:   cfg.ONNXModelPath,
		VocabPath:   cfg.ONNXVocabPath,
		LibraryPath: cfg.ONNXLibraryPath,
	})
}
