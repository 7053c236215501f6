package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/studykb/internal/core"
)

type GeminiLLM struct {
	client    *genai.Client
	modelName string
	limiter   *RateLimiter
}

func NewGeminiLLM(ctx context.Context, apiKey, modelName string, limiter *RateLimiter) (*GeminiLLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiLLM{client: cl, modelName: modelName, limiter: limiter}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, opts core.GenerateOptions) (*core.Generation, error) {
	m := g.client.GenerativeModel(g.modelName)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}
	m.SetTemperature(opts.Temperature)
	if opts.JSON {
		m.ResponseMIMEType = "application/json"
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		g.limiter.Observe(err)
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	out := &core.Generation{}
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
		out.TotalTokens = int(u.TotalTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	out.Text = b.String()
	return out, nil
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
