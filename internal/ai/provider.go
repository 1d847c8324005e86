// Package ai defines the uniform capability interface over vendor
// text-generation backends and the runtime registry that selects between
// them. Adapters hold no mutable per-request state and never retry; vendor
// failures surface as typed errors.
package ai

import "context"

// Message roles as consumed by providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation context handed to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries token accounting for one generation call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the completed output of one generation call.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// Chunk is one incremental text delta of a streaming generation. The stream
// contract is zero or more chunks with Done=false carrying text, then
// exactly one final chunk with empty Content and Done=true.
type Chunk struct {
	Content string
	Done    bool
}

// ChunkFunc receives stream chunks in generation order. Returning an error
// aborts the stream.
type ChunkFunc func(Chunk) error

// Provider is the capability interface every vendor adapter implements.
type Provider interface {
	Name() string
	DefaultModel() string
	Models() []string

	// Generate runs a single-shot completion over the given context.
	Generate(ctx context.Context, messages []Message) (*Response, error)

	// GenerateStream runs a streaming completion, invoking onChunk per the
	// Chunk contract, and returns the fully accumulated response.
	GenerateStream(ctx context.Context, messages []Message, onChunk ChunkFunc) (*Response, error)
}

// Transcription is the result of one audio transcription call. Language is
// the language the vendor detected, when it reports one.
type Transcription struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// Transcriber is the optional audio capability. Callers detect support via
// type assertion: provider.(Transcriber).
type Transcriber interface {
	// Transcribe converts audio bytes to text. language is a hint and may
	// be empty.
	Transcribe(ctx context.Context, audio []byte, language string) (*Transcription, error)
}
