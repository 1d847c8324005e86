package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

const geminiName = "gemini"

// GeminiProvider adapts Google's Gemini API behind the capability
// interface. Text generation only; no audio capability.
type GeminiProvider struct {
	llm    *googleai.GoogleAI
	model  string
	models []string
}

func NewGemini(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
	}
	return &GeminiProvider{
		llm:    llm,
		model:  model,
		models: []string{model, "gemini-1.5-pro", "gemini-1.5-flash"},
	}, nil
}

func (p *GeminiProvider) Name() string         { return geminiName }
func (p *GeminiProvider) DefaultModel() string { return p.model }
func (p *GeminiProvider) Models() []string     { return p.models }

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message) (*Response, error) {
	resp, err := p.llm.GenerateContent(ctx, toLangchainMessages(messages))
	if err != nil {
		return nil, generationFailure(geminiName, err)
	}
	if len(resp.Choices) == 0 {
		return nil, generationFailure(geminiName, fmt.Errorf("empty response"))
	}
	choice := resp.Choices[0]
	return responseFromChoice(choice, p.model, choice.Content, messages), nil
}

func (p *GeminiProvider) GenerateStream(ctx context.Context, messages []Message, onChunk ChunkFunc) (*Response, error) {
	var accumulated strings.Builder
	resp, err := p.llm.GenerateContent(ctx, toLangchainMessages(messages),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			accumulated.Write(chunk)
			return onChunk(Chunk{Content: string(chunk)})
		}))
	if err != nil {
		return nil, generationFailure(geminiName, err)
	}
	if len(resp.Choices) == 0 {
		return nil, generationFailure(geminiName, fmt.Errorf("empty response"))
	}
	choice := resp.Choices[0]

	content := accumulated.String()
	if content == "" && choice.Content != "" {
		content = choice.Content
		if err := onChunk(Chunk{Content: content}); err != nil {
			return nil, generationFailure(geminiName, err)
		}
	}
	if err := onChunk(Chunk{Done: true}); err != nil {
		return nil, generationFailure(geminiName, err)
	}
	return responseFromChoice(choice, p.model, content, messages), nil
}
