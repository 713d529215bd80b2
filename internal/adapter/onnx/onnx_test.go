package onnx

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func closeEnough(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestMeanPoolRespectsMask(t *testing.T) {
	// batch 2, seq 3, dim 2
	hidden := []float32{
		1, 2, 3, 4, 100, 100,
		5, 5, 7, 7, 9, 9,
	}
	mask := []int64{
		1, 1, 0,
		1, 1, 1,
	}
	got := meanPool(hidden, mask, 2, 3, 2)
	want := [][]float32{{2, 3}, {7, 7}}
	for i := range want {
		for d := range want[i] {
			if !closeEnough(got[i][d], want[i][d]) {
				t.Fatalf("row %d = %v, want %v", i, got[i], want[i])
			}
		}
	}
}

func TestMeanPoolAllMasked(t *testing.T) {
	got := meanPool([]float32{3, 3}, []int64{0}, 1, 1, 2)
	if got[0][0] != 0 || got[0][1] != 0 {
		t.Fatalf("expected zero vector, got %v", got[0])
	}
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	normalize(v)
	if !closeEnough(v[0], 0.6) || !closeEnough(v[1], 0.8) {
		t.Fatalf("normalize = %v", v)
	}
	zero := []float32{0, 0}
	normalize(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("zero vector changed: %v", zero)
	}
}

func testVocab(t *testing.T) *vocabulary {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.txt")
	lines := "[PAD]\n[UNK]\n[CLS]\n[SEP]\nsoft\ntyre\n##s\nlap\n,\nsafety\ncar\n"
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := loadVocabulary(path)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestTokenizerWordPiece(t *testing.T) {
	tok := &tokenizer{vocab: testVocab(t), maxSeqLen: defaultMaxSeqLen}

	got := tok.encode("Soft tyres, Safety Car lap")
	// [CLS] soft tyre ##s , safety car lap [SEP]
	want := []int64{2, 4, 5, 6, 8, 9, 10, 7, 3}
	if len(got) != len(want) {
		t.Fatalf("encode = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("encode = %v, want %v", got, want)
		}
	}

	if ids := tok.encode("drizzle"); ids[1] != 1 {
		t.Fatalf("unknown word should map to [UNK], got %v", ids)
	}
}

func TestTokenizerStripsAccents(t *testing.T) {
	words := splitWords("Pérez  CAR")
	if len(words) != 2 || words[0] != "perez" || words[1] != "car" {
		t.Fatalf("splitWords = %q", words)
	}
}

func TestEncodeBatchPads(t *testing.T) {
	tok := &tokenizer{vocab: testVocab(t), maxSeqLen: defaultMaxSeqLen}
	b := tok.encodeBatch([]string{"lap", "soft tyres"})
	if b.size != 2 || b.seqLen != 5 {
		t.Fatalf("batch shape = %dx%d", b.size, b.seqLen)
	}
	// first row: [CLS] lap [SEP] [PAD] [PAD]
	if b.inputIDs[3] != 0 || b.attentionMask[3] != 0 || b.attentionMask[2] != 1 {
		t.Fatalf("padding wrong: ids %v mask %v", b.inputIDs[:5], b.attentionMask[:5])
	}
}

func TestTruncation(t *testing.T) {
	tok := &tokenizer{vocab: testVocab(t), maxSeqLen: 4}
	ids := tok.encode("soft soft soft soft soft")
	if len(ids) != 4 || ids[3] != 3 {
		t.Fatalf("truncated encode = %v", ids)
	}
}

func skipIfNoModel(t *testing.T) Config {
	t.Helper()
	cfg := Config{
		ModelPath:   os.Getenv("ONNX_MODEL_PATH"),
		VocabPath:   os.Getenv("ONNX_VOCAB_PATH"),
		LibraryPath: os.Getenv("ONNX_LIBRARY_PATH"),
	}
	if cfg.ModelPath == "" || cfg.VocabPath == "" {
		t.Skip("ONNX_MODEL_PATH / ONNX_VOCAB_PATH not set")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		t.Skipf("model not available: %v", err)
	}
	return cfg
}

func TestEncoderWithModel(t *testing.T) {
	cfg := skipIfNoModel(t)
	enc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer enc.Close()

	vecs, err := enc.EmbedBatch(context.Background(), []string{"SOFT tires 20 laps old", "safety car deployed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || len(vecs[0]) != enc.Dimension() {
		t.Fatalf("unexpected shape %d x %d", len(vecs), len(vecs[0]))
	}
	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-3 {
		t.Fatalf("embedding not unit length: %v", norm)
	}

	single, _ := enc.Embed(context.Background(), "SOFT tires 20 laps old")
	for i := range single {
		if math.Abs(float64(single[i]-vecs[0][i])) > 1e-4 {
			t.Fatal("single and batch embeddings differ")
		}
	}
}
