package onnx

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	defaultMaxSeqLen = 128
	maxWordRunes     = 200
)

type vocabulary struct {
	ids                map[string]int64
	pad, unk, cls, sep int64
}

func loadVocabulary(path string) (*vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: open vocab: %w", err)
	}
	defer f.Close()

	v := &vocabulary{ids: make(map[string]int64, 32000)}
	sc := bufio.NewScanner(f)
	var n int64
	for sc.Scan() {
		v.ids[strings.TrimRight(sc.Text(), "\r")] = n
		n++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("onnx: read vocab: %w", err)
	}

	for tok, dst := range map[string]*int64{"[PAD]": &v.pad, "[UNK]": &v.unk, "[CLS]": &v.cls, "[SEP]": &v.sep} {
		id, ok := v.ids[tok]
		if !ok {
			return nil, fmt.Errorf("onnx: vocab missing special token %s", tok)
		}
		*dst = id
	}
	return v, nil
}

// batch is a padded, model-ready group of token sequences.
type batch struct {
	size, seqLen  int64
	inputIDs      []int64
	attentionMask []int64
	tokenTypeIDs  []int64
}

type tokenizer struct {
	vocab     *vocabulary
	maxSeqLen int
}

// encode turns one text into [CLS] pieces... [SEP], truncated to maxSeqLen.
func (t *tokenizer) encode(text string) []int64 {
	ids := []int64{t.vocab.cls}
	for _, word := range splitWords(text) {
		for _, id := range t.wordPiece(word) {
			if len(ids) >= t.maxSeqLen-1 {
				return append(ids, t.vocab.sep)
			}
			ids = append(ids, id)
		}
	}
	return append(ids, t.vocab.sep)
}

// encodeBatch pads every sequence to the longest one in the batch.
func (t *tokenizer) encodeBatch(texts []string) *batch {
	seqs := make([][]int64, len(texts))
	longest := 0
	for i, text := range texts {
		seqs[i] = t.encode(text)
		longest = max(longest, len(seqs[i]))
	}

	b := &batch{
		size:          int64(len(texts)),
		seqLen:        int64(longest),
		inputIDs:      make([]int64, len(texts)*longest),
		attentionMask: make([]int64, len(texts)*longest),
		tokenTypeIDs:  make([]int64, len(texts)*longest),
	}
	for i, seq := range seqs {
		row := i * longest
		for j := 0; j < longest; j++ {
			if j < len(seq) {
				b.inputIDs[row+j] = seq[j]
				b.attentionMask[row+j] = 1
			} else {
				b.inputIDs[row+j] = t.vocab.pad
			}
		}
	}
	return b
}

// wordPiece performs greedy longest-match-first subword splitting.
func (t *tokenizer) wordPiece(word string) []int64 {
	runes := []rune(word)
	if len(runes) > maxWordRunes {
		return []int64{t.vocab.unk}
	}

	var pieces []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		found := int64(-1)
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab.ids[sub]; ok {
				found = id
				break
			}
			end--
		}
		if found < 0 {
			return []int64{t.vocab.unk}
		}
		pieces = append(pieces, found)
		start = end
	}
	return pieces
}

// splitWords lower-cases, strips accents and splits on whitespace and
// punctuation, keeping each punctuation rune as its own word.
func splitWords(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}

	for _, r := range norm.NFD.String(strings.ToLower(text)) {
		switch {
		case r == 0 || r == unicode.ReplacementChar || unicode.IsControl(r) && !unicode.IsSpace(r):
			continue
		case unicode.Is(unicode.Mn, r):
			continue
		case unicode.IsSpace(r):
			flush()
		case isPunct(r) || isCJK(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
