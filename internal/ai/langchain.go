package ai

import (
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// toLangchainMessages maps the provider-neutral context into langchaingo
// message contents.
func toLangchainMessages(messages []Message) []llms.MessageContent {
	contents := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var role schema.ChatMessageType
		switch m.Role {
		case RoleSystem:
			role = schema.ChatMessageTypeSystem
		case RoleAssistant:
			role = schema.ChatMessageTypeAI
		default:
			role = schema.ChatMessageTypeHuman
		}
		contents = append(contents, llms.TextParts(role, m.Content))
	}
	return contents
}

// responseFromChoice builds a Response from the first generation choice,
// estimating usage when the vendor reported none.
func responseFromChoice(choice *llms.ContentChoice, model, content string, messages []Message) *Response {
	usage := usageFromGenerationInfo(choice.GenerationInfo)
	if usage == nil {
		usage = estimateUsage(messages, content)
	}
	return &Response{
		Content:      content,
		Model:        model,
		FinishReason: choice.StopReason,
		Usage:        usage,
	}
}
