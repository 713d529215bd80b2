// Package mcp serves the advisor's tools over the Model Context Protocol
// (JSON-RPC 2.0 over HTTP).
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
	"github.com/arturoeanton/go-pitwall-ollama/internal/service"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

// IndexReader is the read side of the similarity index.
type IndexReader interface {
	Search(ctx context.Context, q *domain.Scenario, k int, filter *port.SearchFilter) ([]domain.SimilarScenario, error)
	Stats(ctx context.Context) (*domain.IndexStats, error)
}

// AuditWriter records tool calls.
type AuditWriter interface {
	WriteAudit(operator, action, resource, resourceID, details, ip, userAgent string) error
}

// Server implements the Model Context Protocol (MCP) server.
// It exposes pit-wall tools to external AI agents.
type Server struct {
	decisions *service.DecisionService
	index     IndexReader
	audit     AuditWriter
	port      string
}

// NewServer creates a new MCP server. audit may be nil.
func NewServer(decisions *service.DecisionService, index IndexReader, audit AuditWriter, port string) *Server {
	return &Server{
		decisions: decisions,
		index:     index,
		audit:     audit,
		port:      port,
	}
}

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// Handler returns the MCP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleRPC)
	mux.HandleFunc("/mcp/sse", s.handleSSE)
	return mux
}

// Start begins the MCP server on the configured port.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("🔌 MCP server starting", "port", s.port)
	return srv.ListenAndServe()
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, codeParseError, "parse error")
		return
	}

	var result any
	var err error

	switch req.Method {
	case "tools/list":
		result = s.listTools()
	case "tools/call":
		result, err = s.callTool(r, req.Params)
	case "initialize":
		result = map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo": map[string]string{
				"name":    "pitwall",
				"version": "1.0.0",
			},
			"capabilities": map[string]any{
				"tools": map[string]bool{"listChanged": false},
			},
		}
	default:
		writeError(w, req.ID, codeMethodNotFound, "method not found")
		return
	}

	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			writeError(w, req.ID, rpcErr.Code, rpcErr.Message)
			return
		}
		writeError(w, req.ID, codeInternal, err.Error())
		return
	}

	writeResult(w, req.ID, result)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Send initial endpoint message
	fmt.Fprintf(w, "event: endpoint\ndata: /mcp\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	// Keep connection alive
	<-r.Context().Done()
}

const scenarioSchema = `{
	"type": "object",
	"description": "Race snapshot: lap, driver, position, tires {compound, age_laps}, weather {condition}, race_state, gaps",
	"properties": {
		"lap": {"type": "integer"},
		"tires": {"type": "object"}
	},
	"required": ["lap", "tires"]
}`

func (s *Server) listTools() map[string]any {
	tools := []Tool{
		{
			Name:        "recommend_pit_strategy",
			Description: "Recommend BOX or STAY_OUT for a race snapshot",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"scenario": ` + scenarioSchema + `,
					"strategy": {"type": "string", "description": "Strategy name: rag (default) or rules"},
					"k": {"type": "integer", "description": "Number of similar scenarios to retrieve"}
				},
				"required": ["scenario"]
			}`),
		},
		{
			Name:        "search_similar_scenarios",
			Description: "Find the historical scenarios most similar to a race snapshot",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"scenario": ` + scenarioSchema + `,
					"k": {"type": "integer", "description": "Number of results (default 5)"},
					"track": {"type": "string"},
					"driver": {"type": "string"},
					"tire_compound": {"type": "string"}
				},
				"required": ["scenario"]
			}`),
		},
		{
			Name:        "list_strategies",
			Description: "List available pit-stop strategies",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {}
			}`),
		},
		{
			Name:        "index_stats",
			Description: "Summarise the historical scenario index",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {}
			}`),
		},
	}
	return map[string]any{"tools": tools}
}

func (s *Server) callTool(r *http.Request, params json.RawMessage) (any, error) {
	var req struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	s.record(r, req.Name)
	ctx := r.Context()

	switch req.Name {
	case "recommend_pit_strategy":
		var args struct {
			Scenario *domain.Scenario `json:"scenario"`
			Strategy string           `json:"strategy"`
			K        int              `json:"k"`
		}
		if err := decodeArgs(req.Arguments, &args); err != nil {
			return nil, err
		}
		if args.Scenario == nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: "scenario is required"}
		}
		if args.Strategy == "" {
			args.Strategy = "rag"
		}

		rec, err := s.decisions.Decide(ctx, args.Strategy, args.Scenario, args.K)
		if err != nil {
			return nil, toolError(err)
		}
		return textResult(summarise(rec), rec)

	case "search_similar_scenarios":
		var args struct {
			Scenario *domain.Scenario `json:"scenario"`
			K        int              `json:"k"`
			port.SearchFilter
		}
		if err := decodeArgs(req.Arguments, &args); err != nil {
			return nil, err
		}
		if args.Scenario == nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: "scenario is required"}
		}
		if args.K <= 0 {
			args.K = 5
		}

		hits, err := s.index.Search(ctx, args.Scenario, args.K, &args.SearchFilter)
		if err != nil {
			return nil, toolError(err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%d similar scenarios:\n", len(hits))
		for i := range hits {
			h := &hits[i]
			fmt.Fprintf(&b, "%d. %s (%.0f%% similar) lap %d %s/%d laps → %s\n", i+1, h.ID, h.Similarity*100,
				h.Metadata.Lap, h.Metadata.TireCompound, h.Metadata.TireAge, h.Label())
		}
		return textResult(b.String(), map[string]any{"results": hits})

	case "list_strategies":
		list := s.decisions.ListStrategies()
		names := make([]string, len(list))
		for i, st := range list {
			names[i] = st.Name
		}
		return textResult(fmt.Sprintf("Available strategies: %s", strings.Join(names, ", ")), map[string]any{"strategies": list})

	case "index_stats":
		stats, err := s.index.Stats(ctx)
		if err != nil {
			return nil, toolError(err)
		}
		return textResult(fmt.Sprintf("%d scenarios across %d tracks (embedding dim %d)",
			stats.TotalScenarios, len(stats.Tracks), stats.EmbeddingDim), stats)

	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: "unknown tool: " + req.Name}
	}
}

func (s *Server) record(r *http.Request, tool string) {
	if s.audit == nil {
		return
	}
	ip, ua := r.RemoteAddr, r.UserAgent()
	go func() {
		if err := s.audit.WriteAudit("mcp", domain.AuditActionMCPCall, "mcp", tool, "{}", ip, ua); err != nil {
			slog.Error("failed to write audit log", "error", err)
		}
	}()
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid arguments: " + err.Error()}
	}
	return nil
}

// toolError maps bad input onto invalid-params; everything else is internal.
func toolError(err error) error {
	if errors.Is(err, port.ErrInvalidScenario) || errors.Is(err, port.ErrStrategyNotFound) {
		return &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	return &RPCError{Code: codeInternal, Message: err.Error()}
}

func summarise(rec *domain.DecisionRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (confidence %.0f%%, risk %s)", rec.Decision, rec.Confidence*100, rec.RiskLevel)
	if rec.RecommendedCompound != "" {
		fmt.Fprintf(&b, " → %s", rec.RecommendedCompound)
	}
	b.WriteString("\n")
	b.WriteString(rec.Reasoning)
	if rec.Warning != "" {
		b.WriteString("\nWarning: ")
		b.WriteString(rec.Warning)
	}
	return b.String()
}

func textResult(text string, structured any) (any, error) {
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"structuredContent": structured,
	}, nil
}

func writeResult(w http.ResponseWriter, id any, result any) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id any, code int, message string) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
