package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// estimateUsage fills in token counts with a cl100k_base estimate for
// responses where the vendor omitted usage (common on streaming calls).
// The ledger prefers real counts but must never be empty.
func estimateUsage(messages []Message, completion string) *Usage {
	encodingOnce.Do(func() {
		encoding, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if encoding == nil {
		return &Usage{}
	}

	var promptTokens int
	for _, m := range messages {
		// Per-message framing overhead, same constant OpenAI documents
		// for chat completions.
		promptTokens += 4 + len(encoding.Encode(m.Content, nil, nil))
	}
	completionTokens := len(encoding.Encode(completion, nil, nil))

	return &Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

// usageFromGenerationInfo extracts token counts from a langchaingo
// GenerationInfo map. Key names and value types vary by vendor module.
func usageFromGenerationInfo(info map[string]any) *Usage {
	prompt := intFromInfo(info, "PromptTokens", "input_tokens", "prompt_tokens")
	completion := intFromInfo(info, "CompletionTokens", "output_tokens", "completion_tokens")
	total := intFromInfo(info, "TotalTokens", "total_tokens")
	if prompt == 0 && completion == 0 && total == 0 {
		return nil
	}
	if total == 0 {
		total = prompt + completion
	}
	return &Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

func intFromInfo(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
