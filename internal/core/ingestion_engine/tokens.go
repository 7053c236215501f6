package ingestion_engine

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many model tokens a string costs.
type TokenCounter interface {
	Count(s string) int
}

// TiktokenCounter counts with a BPE encoding. The encoding is loaded on first
// use; if it cannot be loaded every count degrades to approxTokens so that
// all size decisions use the same measure.
type TiktokenCounter struct {
	model string
	once  sync.Once
	enc   *tiktoken.Tiktoken
}

func NewTiktokenCounter(model string) *TiktokenCounter {
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	return &TiktokenCounter{model: model}
}

func (c *TiktokenCounter) Count(s string) int {
	c.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.model)
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return approxTokens(s)
	}
	return len(c.enc.Encode(s, nil, nil))
}

// ApproxCounter always uses the character-length estimate.
type ApproxCounter struct{}

func (ApproxCounter) Count(s string) int { return approxTokens(s) }

// approxTokens is ceil(runes/4).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
