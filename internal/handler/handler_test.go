package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arturoeanton/go-pitwall-ollama/internal/adapter/hashenc"
	"github.com/arturoeanton/go-pitwall-ollama/internal/adapter/store"
	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/embedding"
	"github.com/arturoeanton/go-pitwall-ollama/internal/index"
	"github.com/arturoeanton/go-pitwall-ollama/internal/middleware"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
	"github.com/arturoeanton/go-pitwall-ollama/internal/service"
	"github.com/arturoeanton/go-pitwall-ollama/internal/strategy"
	"github.com/gofiber/fiber/v3"
)

const boxAnswer = `{"decision": "BOX", "confidence": 0.88, "reasoning": "Safety car and worn tires.", "risk_level": "LOW"}`

var goldenDir = filepath.Join("..", "..", "datasets", "golden")

type testEnv struct {
	app     *fiber.App
	index   *index.Index
	db      *store.SQLiteStore
	tracker *JobTracker
}

func newEnv(t *testing.T, answer string, jwt middleware.JWTConfig) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pitwall.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	emb := embedding.New(hashenc.New(64), 64)
	backend, err := store.NewSQLiteIndex(ctx, db, emb.Dimension())
	if err != nil {
		t.Fatal(err)
	}
	idx, err := index.New(emb, backend)
	if err != nil {
		t.Fatal(err)
	}

	reasoner := port.ReasonerFunc(func(context.Context, string, float64) (string, error) { return answer, nil })
	engine := port.NewStrategyEngine(strategy.NewRuleEngine(), strategy.NewRAGReasoner(idx, reasoner, 3, 0.1))
	decisions := service.NewDecisionService(engine, db, 5*time.Second)
	tracker := NewJobTracker()

	app := fiber.New()
	api := app.Group("/api/v1")
	NewDecisionHandler(decisions).Register(api)
	NewIndexHandler(idx, tracker, middleware.OperatorGuard(jwt), goldenDir).Register(api)
	NewJobsHandler(tracker).Register(api)
	NewAuditHandler(db).Register(api)

	return &testEnv{app: app, index: idx, db: db, tracker: tracker}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := e.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func goldenBody(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(goldenDir, "silverstone_2023_scenarios.json"))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

const wornHard = `{"id":"q1","lap":35,"driver":"HAM","tires":{"compound":"HARD","age_laps":32},"weather":{"condition":"dry"},"gaps":{"to_p1":20,"to_p4":20}}`

func TestListStrategies(t *testing.T) {
	env := newEnv(t, boxAnswer, middleware.JWTConfig{})
	status, body := env.do(t, http.MethodGet, "/api/v1/strategies", "")
	if status != fiber.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if list, _ := body["strategies"].([]any); len(list) != 2 {
		t.Fatalf("strategies = %v", body["strategies"])
	}
}

func TestDecideStatusCodes(t *testing.T) {
	env := newEnv(t, boxAnswer, middleware.JWTConfig{})
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"rules", "/api/v1/decide/rules", wornHard, fiber.StatusOK},
		{"invalid scenario", "/api/v1/decide/rules", `{"lap":0,"tires":{"compound":"SLICK","age_laps":-1}}`, fiber.StatusUnprocessableEntity},
		{"empty index", "/api/v1/decide/rag", wornHard, fiber.StatusFailedDependency},
		{"unknown strategy", "/api/v1/decide/oracle", wornHard, fiber.StatusNotFound},
		{"bad k", "/api/v1/decide/rag?k=zero", wornHard, fiber.StatusBadRequest},
		{"bad body", "/api/v1/decide/rules", `{"lap":`, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, tt.path, tt.body)
			if status != tt.want {
				t.Fatalf("status = %d, want %d (%v)", status, tt.want, body)
			}
		})
	}

	_, body := env.do(t, http.MethodPost, "/api/v1/decide/rules", `{"lap":0,"tires":{"compound":"SLICK","age_laps":-1}}`)
	if v, _ := body["violations"].([]any); len(v) != 3 {
		t.Fatalf("violations = %v", body["violations"])
	}
}

func TestDecideRAGAfterIngest(t *testing.T) {
	env := newEnv(t, boxAnswer, middleware.JWTConfig{})
	if status, body := env.do(t, http.MethodPost, "/api/v1/index/collections", goldenBody(t)); status != fiber.StatusCreated || body["ingested"] != float64(11) {
		t.Fatalf("ingest: %d %v", status, body)
	}

	status, body := env.do(t, http.MethodPost, "/api/v1/decide/rag?k=2", wornHard)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d %v", status, body)
	}
	if body["decision"] != "BOX" || body["num_retrieved"] != float64(2) || body["strategy"] != "rag" {
		t.Fatalf("record = %v", body)
	}

	_, hist := env.do(t, http.MethodGet, "/api/v1/decisions?strategy=rag", "")
	if hist["count"] != float64(1) {
		t.Fatalf("history = %v", hist)
	}
}

func TestDecideContractViolation(t *testing.T) {
	env := newEnv(t, "I think you should pit.", middleware.JWTConfig{})
	env.do(t, http.MethodPost, "/api/v1/index/collections", goldenBody(t))
	if status, _ := env.do(t, http.MethodPost, "/api/v1/decide/rag", wornHard); status != fiber.StatusBadGateway {
		t.Fatalf("status = %d, want 502", status)
	}
}

func TestCompare(t *testing.T) {
	env := newEnv(t, boxAnswer, middleware.JWTConfig{})
	env.do(t, http.MethodPost, "/api/v1/index/collections", goldenBody(t))

	status, body := env.do(t, http.MethodPost, "/api/v1/compare", wornHard)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d", status)
	}
	results, _ := body["results"].(map[string]any)
	if len(results) != 2 || body["agree"] != true {
		t.Fatalf("comparison = %v", body)
	}
}

func TestIndexRoutes(t *testing.T) {
	env := newEnv(t, boxAnswer, middleware.JWTConfig{})
	env.do(t, http.MethodPost, "/api/v1/index/collections", goldenBody(t))

	_, stats := env.do(t, http.MethodGet, "/api/v1/index/stats", "")
	if stats["total_scenarios"] != float64(11) || stats["embedding_dim"] != float64(64+embedding.NumFeatures) {
		t.Fatalf("stats = %v", stats)
	}

	status, s := env.do(t, http.MethodGet, "/api/v1/index/scenarios/sil_2023_ver_l33_safety_car", "")
	if status != fiber.StatusOK || s["lap"] != float64(33) {
		t.Fatalf("get: %d %v", status, s)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/v1/index/scenarios/nope", ""); status != fiber.StatusNotFound {
		t.Fatalf("missing id status = %d", status)
	}

	status, res := env.do(t, http.MethodPost, "/api/v1/index/search",
		`{"scenario":`+wornHard+`,"k":3,"filter":{"tire_compound":"HARD"}}`)
	if status != fiber.StatusOK || res["count"] != float64(3) {
		t.Fatalf("search: %d %v", status, res)
	}

	status, up := env.do(t, http.MethodPost, "/api/v1/index/scenarios", `{"id":"live_1","scenario":`+wornHard+`}`)
	if status != fiber.StatusCreated || up["id"] != "live_1" {
		t.Fatalf("upsert: %d %v", status, up)
	}

	if status, _ := env.do(t, http.MethodDelete, "/api/v1/index/scenarios", ""); status != fiber.StatusOK {
		t.Fatalf("clear status = %d", status)
	}
	_, stats = env.do(t, http.MethodGet, "/api/v1/index/stats", "")
	if stats["total_scenarios"] != float64(0) {
		t.Fatalf("stats after clear = %v", stats)
	}
}

func TestIngestCollectionRejectsSchemaViolations(t *testing.T) {
	env := newEnv(t, boxAnswer, middleware.JWTConfig{})
	status, body := env.do(t, http.MethodPost, "/api/v1/index/collections", `{"race":{"name":"x"},"scenarios":[]}`)
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d", status)
	}
	if v, _ := body["violations"].([]any); len(v) == 0 {
		t.Fatal("expected violations")
	}
}

func TestMutationRoutesAreGuarded(t *testing.T) {
	cfg := middleware.JWTConfig{Secret: "pit-secret", Issuer: "pitwall", ExpiresIn: time.Hour}
	env := newEnv(t, boxAnswer, cfg)

	if status, _ := env.do(t, http.MethodDelete, "/api/v1/index/scenarios", ""); status != fiber.StatusUnauthorized {
		t.Fatalf("unguarded delete: %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/v1/index/stats", ""); status != fiber.StatusOK {
		t.Fatalf("reads must stay public: %d", status)
	}

	tok, err := middleware.GenerateJWT(&domain.OperatorContext{ID: "strategist", Role: domain.RoleOperator}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if status, _ := env.do(t, http.MethodDelete, "/api/v1/index/scenarios", "", "Authorization", "Bearer "+tok); status != fiber.StatusOK {
		t.Fatalf("operator delete: %d", status)
	}
}

func TestIngestDirectoryJob(t *testing.T) {
	env := newEnv(t, boxAnswer, middleware.JWTConfig{})
	status, body := env.do(t, http.MethodPost, "/api/v1/index/ingest-directory", `{}`)
	if status != fiber.StatusAccepted {
		t.Fatalf("status = %d %v", status, body)
	}
	id, _ := body["job_id"].(string)

	deadline := time.Now().Add(10 * time.Second)
	for {
		job, ok := env.tracker.GetJob(id)
		if !ok {
			t.Fatal("job not tracked")
		}
		if job.Status == JobComplete {
			if job.Ingested == 0 || job.FilesDone != job.FilesTotal || len(job.Completed) != job.FilesTotal {
				t.Fatalf("job = %+v", job)
			}
			break
		}
		if job.Status == JobError {
			t.Fatalf("job failed: %s", job.Error)
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not finish")
		}
		time.Sleep(20 * time.Millisecond)
	}

	status, job := env.do(t, http.MethodGet, "/api/v1/jobs/"+id, "")
	if status != fiber.StatusOK || job["status"] != JobComplete {
		t.Fatalf("job status: %d %v", status, job)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id+"/stream", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(raw), "event: complete\n") {
		t.Fatalf("stream = %q", raw)
	}

	for path, want := range map[string]int{
		"/does/not/exist": fiber.StatusForbidden,
		"../../internal":  fiber.StatusForbidden,
		"missing":         fiber.StatusBadRequest,
	} {
		if status, _ := env.do(t, http.MethodPost, "/api/v1/index/ingest-directory", `{"path":"`+path+`"}`); status != want {
			t.Fatalf("path %q: status = %d, want %d", path, status, want)
		}
	}
	if status, _ := env.do(t, http.MethodGet, "/api/v1/jobs/unknown", ""); status != fiber.StatusNotFound {
		t.Fatalf("unknown job status = %d", status)
	}
}

func TestWithinRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "2024"), 0o755); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		path string
		ok   bool
	}{
		{"", true},
		{"2024", true},
		{filepath.Join(root, "2024"), true},
		{"..", false},
		{"2024/../../etc", false},
		{"/etc", false},
	}
	for _, tt := range tests {
		dir, err := withinRoot(root, tt.path)
		if (err == nil) != tt.ok {
			t.Fatalf("withinRoot(%q) = %q, %v", tt.path, dir, err)
		}
	}
}

func TestJobTrackerNotifiesSubscribers(t *testing.T) {
	tr := NewJobTracker()
	tr.CreateJob("j", "dir")
	ch := tr.Subscribe("j")
	tr.Progress("j", "/x/a.json", 1, 2, 5)
	tr.Finish("j", 9, errors.New("boom"))

	first, second := <-ch, <-ch
	if first.Current != "a.json" || first.Ingested != 5 || first.Status != JobRunning {
		t.Fatalf("progress = %+v", first)
	}
	if second.Status != JobError || second.Error != "boom" || second.Ingested != 9 {
		t.Fatalf("final = %+v", second)
	}
	tr.Unsubscribe("j", ch)
	if _, open := <-ch; open {
		t.Fatal("channel should be closed")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&port.ValidationError{Errors: []string{"lap"}}, fiber.StatusUnprocessableEntity},
		{port.ErrRetrievalEmpty, fiber.StatusFailedDependency},
		{&port.ReasoningContractError{Reason: "no json"}, fiber.StatusBadGateway},
		{&port.ConnectivityError{Service: "reasoner", Err: errors.New("refused")}, fiber.StatusServiceUnavailable},
		{&port.ConnectivityError{Service: "reasoner", Err: context.DeadlineExceeded}, fiber.StatusGatewayTimeout},
		{port.ErrScenarioNotFound, fiber.StatusNotFound},
		{port.ErrStrategyNotFound, fiber.StatusNotFound},
		{port.ErrDimensionMismatch, fiber.StatusConflict},
		{errors.New("disk on fire"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAuditLogsRoute(t *testing.T) {
	env := newEnv(t, boxAnswer, middleware.JWTConfig{})
	if err := env.db.WriteAudit("strategist", domain.AuditActionDecide, "api", "rules", "{}", "127.0.0.1", "test"); err != nil {
		t.Fatal(err)
	}
	_, body := env.do(t, http.MethodGet, "/api/v1/audit/logs?action="+domain.AuditActionDecide, "")
	if body["count"] != float64(1) {
		t.Fatalf("audit = %v", body)
	}
}

func TestAuditLogsRejectsBadLimit(t *testing.T) {
	env := newEnv(t, boxAnswer, middleware.JWTConfig{})
	for _, q := range []string{"0", "-3", "ten"} {
		if status, _ := env.do(t, http.MethodGet, "/api/v1/audit/logs?limit="+q, ""); status != fiber.StatusBadRequest {
			t.Fatalf("limit=%s: status = %d", q, status)
		}
	}
}
