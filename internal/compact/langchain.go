package compact

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

// LLMSummarizer adapts a langchaingo model to the Summarizer interface.
type LLMSummarizer struct {
	model llms.Model
}

func NewLLMSummarizer(model llms.Model) *LLMSummarizer {
	return &LLMSummarizer{model: model}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s.model, prompt,
		llms.WithTemperature(0.1),
	)
}
