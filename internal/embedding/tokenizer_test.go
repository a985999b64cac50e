package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids := tok.Tokenize("A man in a red jacket", 10)
	if len(ids) != 10 {
		t.Fatalf("len(ids)=%d", len(ids))
	}
	if ids[0] != StartOfText {
		t.Errorf("expected start token, got %d", ids[0])
	}
	if ids[7] != EndOfText {
		t.Errorf("expected end token after 6 words, got %v", ids)
	}
	for i := 1; i < 7; i++ {
		if ids[i] <= 0 || ids[i] >= StartOfText {
			t.Errorf("word token %d out of range: %d", i, ids[i])
		}
	}
	if ids[8] != 0 || ids[9] != 0 {
		t.Error("expected zero padding")
	}
}

func TestSimpleTokenizer_caseInsensitive(t *testing.T) {
	tok := &SimpleTokenizer{}
	a := tok.Tokenize("Red Jacket", 8)
	b := tok.Tokenize("red jacket", 8)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("token %d differs: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestSimpleTokenizer_truncateKeepsEnd(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids := tok.Tokenize("one two three four five six", 4)
	if ids[0] != StartOfText || ids[3] != EndOfText {
		t.Errorf("got %v", ids)
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  a  b,c  ")
	if len(words) != 4 {
		t.Errorf("expected 4 tokens, got %v", words)
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestHashString(t *testing.T) {
	h := HashString("abc")
	if h == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
}
