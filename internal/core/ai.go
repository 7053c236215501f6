package core

import "context"

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerateOptions tunes a single completion request.
type GenerateOptions struct {
	Temperature float32
	// JSON asks the model for a JSON response body.
	JSON bool
}

// Generation is a completion result with provider-reported token usage.
type Generation struct {
	Text         string
	PromptTokens int
	OutputTokens int
	TotalTokens  int
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, opts GenerateOptions) (*Generation, error)
}

// OCRResult is the transcription of one image. Confidence is in [0,100].
type OCRResult struct {
	Text       string
	Confidence float64
}

type OCRProvider interface {
	Recognize(ctx context.Context, image []byte, languageHints []string) (*OCRResult, error)
}
