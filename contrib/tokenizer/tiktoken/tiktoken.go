package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"

	consulttokenizer "github.com/edmondsbay/consult/tokenizer"
)

// Tokenizer wraps tiktoken BPE encodings behind the tokenizer.Tokenizer
// interface.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

var _ consulttokenizer.Tokenizer = (*Tokenizer)(nil)

// New resolves an encoding by model name, falling back to encoding name.
func New(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Tokenizer{enc: enc}, nil
}

// Encode returns the BPE token ids for text.
func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.Encode(text))
}

// DecodeIds reassembles token ids into text.
func (t *Tokenizer) DecodeIds(ids []int) string {
	return t.enc.Decode(ids)
}
