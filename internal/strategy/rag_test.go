package strategy

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arturoeanton/go-pitwall-ollama/internal/adapter/hashenc"
	"github.com/arturoeanton/go-pitwall-ollama/internal/adapter/store"
	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/embedding"
	"github.com/arturoeanton/go-pitwall-ollama/internal/index"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

type stubSearcher struct {
	hits  []domain.SimilarScenario
	err   error
	calls int
	k     int
}

func (s *stubSearcher) Search(_ context.Context, _ *domain.Scenario, k int, _ *port.SearchFilter) ([]domain.SimilarScenario, error) {
	s.calls++
	s.k = k
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > k {
		return s.hits[:k], nil
	}
	return s.hits, nil
}

type recordingReasoner struct {
	answer      string
	err         error
	prompt      string
	temperature float64
	calls       int
}

func (r *recordingReasoner) Generate(_ context.Context, prompt string, temperature float64) (string, error) {
	r.calls++
	r.prompt = prompt
	r.temperature = temperature
	return r.answer, r.err
}

const boxAnswer = `{"decision": "BOX", "confidence": 0.9, "reasoning": "Applying RULE 2: SAFETY_CAR active. 18-lap tires. Free pit window.", "risk_level": "LOW"}`

func safetyCarScenario() *domain.Scenario {
	s := scenario(20, domain.CompoundMedium, 18, "dry")
	s.RaceState = domain.NewRaceState("safety_car")
	return s
}

func TestRAGDecideAttachesEvidence(t *testing.T) {
	search := &stubSearcher{hits: []domain.SimilarScenario{
		hit("a", 0.9, domain.DecisionBox),
		hit("b", 0.8, domain.DecisionBox),
		hit("c", 0.7, domain.DecisionStayOut),
	}}
	llm := &recordingReasoner{answer: "Here you go:\n" + boxAnswer}
	rag := NewRAGReasoner(search, llm, 0, -1)

	rec, err := rag.Decide(context.Background(), safetyCarScenario())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if rec.Decision != domain.DecisionBox || rec.RiskLevel != domain.RiskLow {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.NumRetrieved != 3 || len(rec.Retrieved) != 3 || rec.Retrieved[0].ID != "a" {
		t.Fatalf("evidence not attached: %d %v", rec.NumRetrieved, rec.Retrieved)
	}
	if rec.Strategy != "rag" {
		t.Errorf("strategy = %q", rec.Strategy)
	}
	if search.k != DefaultK {
		t.Errorf("searched k = %d, want %d", search.k, DefaultK)
	}
	if llm.temperature != DefaultTemperature {
		t.Errorf("temperature = %v", llm.temperature)
	}
	if !strings.Contains(llm.prompt, "Race State: safety_car (SAFETY_CAR)") || !strings.Contains(llm.prompt, "2 × BOX") {
		t.Errorf("prompt lacks scenario context:\n%s", llm.prompt)
	}
}

func TestRAGDecideKOverridesK(t *testing.T) {
	search := &stubSearcher{hits: []domain.SimilarScenario{hit("a", 0.9, domain.DecisionBox)}}
	rag := NewRAGReasoner(search, &recordingReasoner{answer: boxAnswer}, 5, 0.1)
	if _, err := rag.DecideK(context.Background(), safetyCarScenario(), 3); err != nil {
		t.Fatal(err)
	}
	if search.k != 3 {
		t.Fatalf("k = %d, want 3", search.k)
	}
}

func TestRAGEmptyRetrievalFailsFast(t *testing.T) {
	llm := &recordingReasoner{answer: boxAnswer}
	rag := NewRAGReasoner(&stubSearcher{}, llm, 5, 0.1)

	_, err := rag.Decide(context.Background(), safetyCarScenario())
	if !errors.Is(err, port.ErrRetrievalEmpty) {
		t.Fatalf("expected ErrRetrievalEmpty, got %v", err)
	}
	if !strings.Contains(err.Error(), "lap 20") {
		t.Errorf("error should name the query: %v", err)
	}
	if llm.calls != 0 {
		t.Fatal("reasoner must not be called without evidence")
	}
}

func TestRAGValidatesBeforeRetrieval(t *testing.T) {
	search := &stubSearcher{hits: []domain.SimilarScenario{hit("a", 0.9, domain.DecisionBox)}}
	rag := NewRAGReasoner(search, &recordingReasoner{answer: boxAnswer}, 5, 0.1)

	_, err := rag.Decide(context.Background(), scenario(0, domain.CompoundSoft, -3, "dry"))
	var ve *port.ValidationError
	if !errors.As(err, &ve) || len(ve.Errors) != 2 {
		t.Fatalf("expected two validation errors, got %v", err)
	}
	if search.calls != 0 {
		t.Fatal("search ran on an invalid scenario")
	}
}

func TestRAGContractViolation(t *testing.T) {
	search := &stubSearcher{hits: []domain.SimilarScenario{hit("a", 0.9, domain.DecisionBox)}}
	llm := &recordingReasoner{answer: `{"decision": "MAYBE", "confidence": 0.5, "reasoning": "?", "risk_level": "LOW"}`}
	rag := NewRAGReasoner(search, llm, 5, 0.1)

	_, err := rag.Decide(context.Background(), safetyCarScenario())
	if !errors.Is(err, port.ErrReasoningContract) {
		t.Fatalf("expected contract error, got %v", err)
	}
	if port.IsRetryable(err) {
		t.Fatal("contract errors are not retryable")
	}
}

func TestRAGConnectivityPropagates(t *testing.T) {
	search := &stubSearcher{hits: []domain.SimilarScenario{hit("a", 0.9, domain.DecisionBox)}}
	down := &port.ConnectivityError{Service: "ollama", Endpoint: "http://localhost:11434", Err: errors.New("connection refused")}
	rag := NewRAGReasoner(search, &recordingReasoner{err: down}, 5, 0.1)

	_, err := rag.Decide(context.Background(), safetyCarScenario())
	if !port.IsRetryable(err) {
		t.Fatalf("expected retryable connectivity error, got %v", err)
	}
	if errors.Is(err, port.ErrReasoningContract) {
		t.Fatal("connectivity must not look like a contract violation")
	}

	search.err = &port.ConnectivityError{Service: "encoder", Endpoint: "x", Err: errors.New("refused")}
	if _, err := rag.Decide(context.Background(), safetyCarScenario()); !errors.Is(err, port.ErrConnectivity) {
		t.Fatalf("encoder outage should surface as connectivity, got %v", err)
	}
}

func TestRAGOverRealIndex(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	emb := embedding.New(hashenc.New(64), 64)
	backend, err := store.NewSQLiteIndex(ctx, db, emb.Dimension())
	if err != nil {
		t.Fatal(err)
	}
	idx, err := index.New(emb, backend)
	if err != nil {
		t.Fatal(err)
	}

	coll := &domain.ScenarioCollection{
		Race: domain.RaceInfo{Name: "British Grand Prix", Track: "Silverstone", Year: 2023, TotalLaps: 52},
	}
	for i, age := range []int{16, 18, 20, 22, 2} {
		s := *safetyCarScenario()
		s.ID = []string{"sc1", "sc2", "sc3", "sc4", "fresh"}[i]
		s.Tires.AgeLaps = age
		decision := domain.DecisionBox
		if age < 10 {
			decision = domain.DecisionStayOut
			s.RaceState = domain.NewRaceState("racing")
		}
		s.GoldenTruth = &domain.GoldenTruth{Decision: decision, Rationale: "labelled for test"}
		coll.Scenarios = append(coll.Scenarios, s)
	}
	if n, err := idx.IngestCollection(ctx, coll); err != nil || n != 5 {
		t.Fatalf("IngestCollection = %d, %v", n, err)
	}

	llm := &recordingReasoner{answer: "```json\n" + boxAnswer + "\n```"}
	rec, err := NewRAGReasoner(idx, llm, 4, 0.1).Decide(ctx, safetyCarScenario())
	if err != nil {
		t.Fatal(err)
	}
	if rec.NumRetrieved != 4 {
		t.Fatalf("retrieved %d, want 4", rec.NumRetrieved)
	}
	if rec.Retrieved[0].ID != "sc2" || rec.Retrieved[0].Similarity < 0.95 {
		t.Fatalf("identical scenario should rank first: %s %.3f", rec.Retrieved[0].ID, rec.Retrieved[0].Similarity)
	}
	for i := 1; i < len(rec.Retrieved); i++ {
		if rec.Retrieved[i].Similarity > rec.Retrieved[i-1].Similarity {
			t.Fatal("evidence not sorted by similarity")
		}
	}
	if !strings.Contains(llm.prompt, "4 × BOX") {
		t.Errorf("consensus not reported in prompt")
	}
}

func TestStrategiesShareOneRegistry(t *testing.T) {
	search := &stubSearcher{hits: []domain.SimilarScenario{hit("a", 0.9, domain.DecisionBox)}}
	eng := port.NewStrategyEngine(NewRuleEngine(), NewRAGReasoner(search, &recordingReasoner{answer: boxAnswer}, 5, 0.1))

	if got := eng.AvailableStrategies(); len(got) != 2 || got[0] != "rag" || got[1] != "rules" {
		t.Fatalf("strategies = %v", got)
	}
	results, errs := eng.RunAll(context.Background(), safetyCarScenario())
	if len(errs) != 0 {
		t.Fatalf("errors: %v", errs)
	}
	for name, rec := range results {
		if rec.Decision != domain.DecisionBox || rec.Strategy != name {
			t.Fatalf("%s: %+v", name, rec)
		}
	}
	if _, err := eng.Run(context.Background(), "coin-flip", safetyCarScenario()); !errors.Is(err, port.ErrStrategyNotFound) {
		t.Fatalf("expected ErrStrategyNotFound, got %v", err)
	}
}
