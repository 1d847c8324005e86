package chat

import (
	"context"

	"github.com/eagleisbatman/farmerchat-server/internal/ai"
	"github.com/eagleisbatman/farmerchat-server/internal/models"
)

// buildContext assembles the message list a provider consumes: up to the
// last 20 stored messages oldest first, an optional system prompt rendered
// for the profile's language prepended, and the new user message appended.
func (s *Service) buildContext(ctx context.Context, req Request) ([]ai.Message, error) {
	history, err := s.store.GetRecentMessages(req.ConversationID, historyLimit)
	if err != nil {
		return nil, err
	}

	messages := make([]ai.Message, 0, len(history)+2)

	if req.Profile != nil {
		// English fallback happens inside the engine; a miss after that
		// fails the request rather than silently dropping the system prompt.
		systemPrompt, err := s.prompts.Render(ctx, models.CategorySystem, req.language(), mergeVars(req.Profile, map[string]any{
			"language": req.language(),
		}))
		if err != nil {
			return nil, err
		}
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: systemPrompt})
	}

	// GetRecentMessages returns newest first; the provider wants
	// chronological order.
	for i := len(history) - 1; i >= 0; i-- {
		role := ai.RoleAssistant
		if history[i].IsUser {
			role = ai.RoleUser
		}
		messages = append(messages, ai.Message{Role: role, Content: history[i].Content})
	}

	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: req.Message})
	return messages, nil
}
