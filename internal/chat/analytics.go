package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/eagleisbatman/farmerchat-server/internal/ai"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// The tag/summary pipeline has no template category; its prompts are fixed.
const (
	tagsPrompt = `Extract 3 to 5 short topical tags from this farming conversation.
Respond in %s with one tag per line, nothing else.

Conversation:
%s`

	translateTagsPrompt = `Translate each of these farming topic tags to English.
Respond with one translated tag per line, in the same order, nothing else.

%s`

	summaryPrompt = `Summarize this farming conversation in at most 100 words.
Respond in %s with only the summary.

Conversation:
%s`
)

// maybeRunAnalytics runs the tag/summary pipeline if this request wins the
// atomic analytics_done claim.
func (s *Service) maybeRunAnalytics(ctx context.Context, conversationID, language string) {
	claimed, err := s.store.ClaimAnalytics(conversationID)
	if err != nil || !claimed {
		if err != nil {
			s.logger.Warn("failed to claim analytics run",
				zap.String("conversation", conversationID),
				zap.Error(err))
		}
		return
	}
	s.processConversationAnalytics(ctx, conversationID, language)
}

// processConversationAnalytics extracts topical tags in the user's
// language, translates them to English for canonical storage, and
// generates a short summary, writing all three in one update. Each stage
// degrades independently to an empty or identity result; the pipeline as a
// whole never fails the caller.
func (s *Service) processConversationAnalytics(ctx context.Context, conversationID, language string) {
	history, err := s.store.GetRecentMessages(conversationID, historyLimit)
	if err != nil {
		s.logger.Warn("analytics skipped, history unavailable",
			zap.String("conversation", conversationID),
			zap.Error(err))
		return
	}

	var transcript strings.Builder
	for i := len(history) - 1; i >= 0; i-- {
		role := "assistant"
		if history[i].IsUser {
			role = "farmer"
		}
		fmt.Fprintf(&transcript, "%s: %s\n", role, history[i].Content)
	}
	conversation := transcript.String()

	var stageErrs error

	tags, err := s.completeLines(ctx, fmt.Sprintf(tagsPrompt, language, conversation), 5)
	if err != nil {
		stageErrs = multierr.Append(stageErrs, fmt.Errorf("tags: %w", err))
		tags = []string{}
	}

	englishTags := tags
	if language != "en" && len(tags) > 0 {
		englishTags, err = s.completeLines(ctx,
			fmt.Sprintf(translateTagsPrompt, strings.Join(tags, "\n")), len(tags))
		if err != nil {
			stageErrs = multierr.Append(stageErrs, fmt.Errorf("english tags: %w", err))
			englishTags = tags
		}
	}

	summary, err := s.completeText(ctx, fmt.Sprintf(summaryPrompt, language, conversation))
	if err != nil {
		stageErrs = multierr.Append(stageErrs, fmt.Errorf("summary: %w", err))
		summary = ""
	}

	if stageErrs != nil {
		s.logger.Warn("analytics pipeline degraded",
			zap.String("conversation", conversationID),
			zap.Error(stageErrs))
	}

	if err := s.store.UpdateConversationAnalytics(conversationID, tags, englishTags, summary); err != nil {
		s.logger.Warn("failed to store conversation analytics",
			zap.String("conversation", conversationID),
			zap.Error(err))
	}
}

func (s *Service) completeLines(ctx context.Context, prompt string, max int) ([]string, error) {
	text, err := s.completeText(ctx, prompt)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, max)
	for _, line := range strings.Split(text, "\n") {
		line = cleanQuestionLine(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == max {
			break
		}
	}
	return lines, nil
}

func (s *Service) completeText(ctx context.Context, prompt string) (string, error) {
	provider, err := s.registry.Get("")
	if err != nil {
		return "", err
	}
	resp, err := provider.Generate(ctx, []ai.Message{{Role: ai.RoleUser, Content: prompt}})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
