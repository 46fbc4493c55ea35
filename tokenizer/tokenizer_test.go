package tokenizer

import "testing"

func TestSimpleTokenizerCounts(t *testing.T) {
	tok := NewSimpleTokenizer()
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hello", 1},
		{"hello world", 2},
		{"hello, world!", 4},
	}
	for _, tc := range cases {
		if got := tok.CountTokens(tc.text); got != tc.want {
			t.Errorf("CountTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestSimpleTokenizerRoundTrip(t *testing.T) {
	tok := NewSimpleTokenizer()
	ids := tok.Encode("brush twice daily")
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	if decoded := tok.DecodeIds(ids); decoded != "brushtwicedaily" {
		t.Errorf("decode mismatch: %q", decoded)
	}
}
