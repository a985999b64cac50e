package embedding

import (
	"strings"
	"unicode"
)

// CLIP special tokens.
const (
	StartOfText = 49406
	EndOfText   = 49407
)

// Tokenizer produces fixed-length token ID sequences for a text encoder.
type Tokenizer interface {
	Tokenize(text string, contextLength int) []int64
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs framed by the CLIP
// start and end tokens and zero padded to the context length.
// TODO: load the model's BPE vocabulary from <model dir>/tokenizer.json and use it when present.
type SimpleTokenizer struct{}

// Tokenize lowercases text, splits it into words and punctuation and returns contextLength token IDs.
// The end token is always present, truncating words if needed.
func (t *SimpleTokenizer) Tokenize(text string, contextLength int) []int64 {
	if contextLength < 2 {
		contextLength = 77
	}
	ids := make([]int64, contextLength)
	ids[0] = StartOfText
	pos := 1
	for _, word := range SplitWords(strings.ToLower(text)) {
		if pos >= contextLength-1 {
			break
		}
		ids[pos] = int64(1 + HashString(word)%(StartOfText-1))
		pos++
	}
	ids[pos] = EndOfText
	return ids
}

// SplitWords splits text into words and single punctuation marks, dropping whitespace.
func SplitWords(text string) []string {
	var words []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			words = append(words, word.String())
			word.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return words
}

// HashString returns a deterministic non-negative hash for use as a simple token ID.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		h = 0
	}
	return h
}
