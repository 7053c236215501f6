// Package coretest provides deterministic stand-ins for the model and OCR
// services so pipeline and retrieval behaviour can be tested offline.
package coretest

import (
	"context"
	"errors"
	"sync"

	"github.com/markdave123-py/studykb/internal/core"
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("injected failure")

// Call records one Generate invocation.
type Call struct {
	System string
	User   string
	Opts   core.GenerateOptions
}

// LLM answers from a script. Respond, when set, takes precedence; otherwise
// Responses are returned in order and the last one repeats.
type LLM struct {
	mu        sync.Mutex
	Responses []string
	Respond   func(system, user string) (string, error)
	Err       error
	Tokens    int
	calls     []Call
}

func (f *LLM) Generate(_ context.Context, system, user string, opts core.GenerateOptions) (*core.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{System: system, User: user, Opts: opts})
	if f.Err != nil {
		return nil, f.Err
	}
	var text string
	switch {
	case f.Respond != nil:
		var err error
		if text, err = f.Respond(system, user); err != nil {
			return nil, err
		}
	case len(f.Responses) > 0:
		k := len(f.calls) - 1
		if k >= len(f.Responses) {
			k = len(f.Responses) - 1
		}
		text = f.Responses[k]
	}
	return &core.Generation{Text: text, TotalTokens: f.Tokens, OutputTokens: f.Tokens}, nil
}

func (f *LLM) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *LLM) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Embedder returns Dim-length vectors whose first element is the text's
// length. FailOnBatch makes the n-th call (1-based) fail.
type Embedder struct {
	mu          sync.Mutex
	Dim         int
	FailOnBatch int
	batches     [][]string
}

func (f *Embedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	if f.FailOnBatch > 0 && len(f.batches) == f.FailOnBatch {
		return nil, ErrInjected
	}
	dim := f.Dim
	if dim <= 0 {
		dim = 4
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dim)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func (f *Embedder) Batches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.batches...)
}

// OCR maps image bytes to text. Images whose bytes are listed in Fail error.
type OCR struct {
	mu         sync.Mutex
	Text       map[string]string
	Fail       map[string]bool
	Confidence float64
	calls      int
}

func (f *OCR) Recognize(_ context.Context, image []byte, _ []string) (*core.OCRResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := string(image)
	if f.Fail[key] {
		return nil, ErrInjected
	}
	conf := f.Confidence
	if conf == 0 {
		conf = 90
	}
	return &core.OCRResult{Text: f.Text[key], Confidence: conf}, nil
}

func (f *OCR) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var (
	_ core.LLMProvider       = (*LLM)(nil)
	_ core.EmbeddingProvider = (*Embedder)(nil)
	_ core.OCRProvider       = (*OCR)(nil)
)
