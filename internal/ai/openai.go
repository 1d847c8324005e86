package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	openAIName            = "openai"
	defaultOpenAIBaseURL  = "https://api.openai.com/v1"
	transcriptionModel    = "whisper-1"
	transcriptionEndpoint = "/audio/transcriptions"
)

// OpenAIProvider adapts the OpenAI chat API behind the capability
// interface. It is the one provider that also implements Transcriber.
type OpenAIProvider struct {
	llm        *openai.LLM
	apiKey     string
	baseURL    string
	model      string
	models     []string
	httpClient *http.Client
}

// NewOpenAI constructs the adapter from a credential and default model.
// baseURL may be empty for the public API.
func NewOpenAI(apiKey, model, baseURL string) (*OpenAIProvider, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		llm:        llm,
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		models:     []string{model, "gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"},
		httpClient: http.DefaultClient,
	}, nil
}

func (p *OpenAIProvider) Name() string         { return openAIName }
func (p *OpenAIProvider) DefaultModel() string { return p.model }
func (p *OpenAIProvider) Models() []string     { return p.models }

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message) (*Response, error) {
	resp, err := p.llm.GenerateContent(ctx, toLangchainMessages(messages))
	if err != nil {
		return nil, generationFailure(openAIName, err)
	}
	if len(resp.Choices) == 0 {
		return nil, generationFailure(openAIName, fmt.Errorf("empty response"))
	}
	choice := resp.Choices[0]
	return responseFromChoice(choice, p.model, choice.Content, messages), nil
}

func (p *OpenAIProvider) GenerateStream(ctx context.Context, messages []Message, onChunk ChunkFunc) (*Response, error) {
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
		return nil, generationFailure(openAIName, err)
	}
	if len(resp.Choices) == 0 {
		return nil, generationFailure(openAIName, fmt.Errorf("empty response"))
	}
	choice := resp.Choices[0]

	content := accumulated.String()
	if content == "" && choice.Content != "" {
		// Vendor delivered the whole completion without streaming; emit it
		// as one chunk so the stream contract still holds.
		content = choice.Content
		if err := onChunk(Chunk{Content: content}); err != nil {
			return nil, generationFailure(openAIName, err)
		}
	}
	if err := onChunk(Chunk{Done: true}); err != nil {
		return nil, generationFailure(openAIName, err)
	}
	return responseFromChoice(choice, p.model, content, messages), nil
}

// Transcribe sends audio to the Whisper endpoint. langchaingo has no audio
// surface, so this speaks to the vendor directly. verbose_json is requested
// so the detected language comes back alongside the text.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, language string) (*Transcription, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.webm")
	if err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}
	fields := map[string]string{
		"model":           transcriptionModel,
		"response_format": "verbose_json",
	}
	if language != "" {
		fields["language"] = language
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to build transcription request: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+transcriptionEndpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, generationFailure(openAIName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, generationFailure(openAIName,
			fmt.Errorf("transcription returned status %d: %s", resp.StatusCode, string(data)))
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, generationFailure(openAIName, fmt.Errorf("failed to decode transcription response: %w", err))
	}
	return &Transcription{Text: result.Text, Language: result.Language}, nil
}
