// Package tokenizer provides token counting used to enforce the ranked
// context token budget.
package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenizer counts and encodes tokens for budget enforcement.
type Tokenizer interface {
	Encode(text string) []int
	CountTokens(text string) int
	DecodeIds(ids []int) string
}

var _ Tokenizer = (*SimpleTokenizer)(nil)

// SimpleTokenizer is a vocabulary-free fallback tokenizer: letters and digits
// group into words, everything else stands alone. Counts only approximate a
// real BPE encoding but need no model files.
type SimpleTokenizer struct {
	vocab    map[string]int
	invVocab map[int]string
	nextID   int
}

// NewSimpleTokenizer creates new tokenizer with empty vocab.
func NewSimpleTokenizer() *SimpleTokenizer {
	return &SimpleTokenizer{
		vocab:    make(map[string]int),
		invVocab: make(map[int]string),
		nextID:   1,
	}
}

func (t *SimpleTokenizer) addToken(tok string) int {
	if id, ok := t.vocab[tok]; ok {
		return id
	}
	id := t.nextID
	t.vocab[tok] = id
	t.invVocab[id] = tok
	t.nextID++
	return id
}

func (t *SimpleTokenizer) splitTokens(s string) []string {
	var toks []string
	var buf strings.Builder

	flush := func() {
		if buf.Len() > 0 {
			toks = append(toks, buf.String())
			buf.Reset()
		}
	}

	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			buf.WriteRune(r)
		default:
			flush()
			toks = append(toks, string(r))
		}
	}

	flush()
	return toks
}

// Encode maps the text onto incrementally assigned token ids.
func (t *SimpleTokenizer) Encode(text string) []int {
	toks := t.splitTokens(text)
	ids := make([]int, 0, len(toks))
	for _, tok := range toks {
		ids = append(ids, t.addToken(tok))
	}
	return ids
}

// CountTokens returns the number of tokens in text.
func (t *SimpleTokenizer) CountTokens(text string) int {
	return len(t.splitTokens(text))
}

// DecodeIds reassembles previously encoded ids.
func (t *SimpleTokenizer) DecodeIds(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if tok, ok := t.invVocab[id]; ok {
			sb.WriteString(tok)
		}
	}
	return sb.String()
}
