package ingestion

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Tokenizer counts model tokens. Implementations must be deterministic.
type Tokenizer interface {
	CountTokens(text string) int
}

// WordTokenizer counts whitespace separated words.
type WordTokenizer struct{}

func (WordTokenizer) CountTokens(text string) int {
	return len(strings.Fields(text))
}

// TiktokenTokenizer counts BPE tokens with an OpenAI encoding.
type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// offlineBPE makes tiktoken read encodings embedded in the binary instead of
// downloading them on first use.
var offlineBPE sync.Once

func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	offlineBPE.Do(func() { tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader()) })
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encoding, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// NewTokenizer selects a tokenizer by configured name.
func NewTokenizer(name string) (Tokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "words":
		return WordTokenizer{}, nil
	case "cl100k_base", "p50k_base", "r50k_base":
		return NewTiktokenTokenizer(strings.ToLower(strings.TrimSpace(name)))
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}
