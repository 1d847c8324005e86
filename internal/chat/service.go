// Package chat is the orchestrator: it selects a provider, assembles
// conversation context, drives single-shot or streaming generation,
// persists the resulting exchange, and runs the derived extraction tasks
// (follow-ups always, title and tags/summary behind atomic triggers).
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eagleisbatman/farmerchat-server/internal/ai"
	"github.com/eagleisbatman/farmerchat-server/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	historyLimit        = 20
	maxFollowUps        = 3
	maxStarterQuestions = 4
	followUpContextMax  = 500
	titleMaxLen         = 50
	titleFallbackLen    = 30
)

// Store is the slice of the relational store the orchestrator needs.
type Store interface {
	CreateConversation(userID string) (*models.Conversation, error)
	GetConversation(id string) (*models.Conversation, error)
	GetRecentMessages(conversationID string, limit int) ([]models.Message, error)
	SaveExchange(userMsg, assistantMsg *models.Message) error
	CountMessages(conversationID string) (int, error)
	ClaimTitleGeneration(conversationID string) (bool, error)
	ClaimAnalytics(conversationID string) (bool, error)
	UpdateConversationTitle(id, title string) error
	UpdateConversationAnalytics(id string, tags, englishTags []string, summary string) error
	SaveUsage(record *models.UsageRecord) error
}

// Renderer resolves and interpolates prompt templates.
type Renderer interface {
	Render(ctx context.Context, category, languageCode string, vars map[string]any) (string, error)
}

// Counter is the cache-backed usage counter; it fails open to zero.
type Counter interface {
	Incr(ctx context.Context, key string) int64
}

type Service struct {
	registry *ai.Registry
	store    Store
	prompts  Renderer
	counter  Counter
	logger   *zap.Logger
}

func NewService(registry *ai.Registry, store Store, prompts Renderer, counter Counter, logger *zap.Logger) *Service {
	return &Service{
		registry: registry,
		store:    store,
		prompts:  prompts,
		counter:  counter,
		logger:   logger,
	}
}

// Request is one inbound chat turn. ConversationID may be empty, in which
// case a new conversation is created for the user.
type Request struct {
	Message        string
	ConversationID string
	UserID         string
	Profile        *models.UserProfile
}

// Reply is the orchestrator's answer to one turn.
type Reply struct {
	ConversationID    string            `json:"conversation_id"`
	Content           string            `json:"content"`
	FollowUpQuestions []models.FollowUp `json:"follow_up_questions"`
	Title             string            `json:"title,omitempty"`
	Usage             *ai.Usage         `json:"usage,omitempty"`
}

// SendMessage runs one complete exchange: generate, persist, derive.
func (s *Service) SendMessage(ctx context.Context, req Request) (*Reply, error) {
	return s.run(ctx, req, nil)
}

// StreamMessage is SendMessage with the provider's streaming call driving
// onChunk. Chunks are forwarded in generation order before persistence and
// extraction run against the accumulated text.
func (s *Service) StreamMessage(ctx context.Context, req Request, onChunk ai.ChunkFunc) (*Reply, error) {
	return s.run(ctx, req, onChunk)
}

func (s *Service) run(ctx context.Context, req Request, onChunk ai.ChunkFunc) (*Reply, error) {
	// Always the configured default; no cross-provider failover.
	provider, err := s.registry.Get("")
	if err != nil {
		return nil, err
	}

	if req.ConversationID == "" {
		conv, err := s.store.CreateConversation(req.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		req.ConversationID = conv.ID
	}

	messages, err := s.buildContext(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp *ai.Response
	if onChunk != nil {
		resp, err = provider.GenerateStream(ctx, messages, onChunk)
	} else {
		resp, err = provider.Generate(ctx, messages)
	}
	if err != nil {
		return nil, err
	}

	s.recordUsage(ctx, req.UserID, provider.Name(), resp)

	language := req.language()
	followUps := s.ExtractFollowUps(ctx, resp.Content, language, req.Profile)

	userMsg := &models.Message{
		ConversationID: req.ConversationID,
		Content:        req.Message,
		IsUser:         true,
	}
	assistantMsg := &models.Message{
		ConversationID:    req.ConversationID,
		Content:           resp.Content,
		IsUser:            false,
		FollowUpQuestions: followUps,
	}
	if err := s.store.SaveExchange(userMsg, assistantMsg); err != nil {
		return nil, err
	}

	reply := &Reply{
		ConversationID:    req.ConversationID,
		Content:           resp.Content,
		FollowUpQuestions: followUps,
		Usage:             resp.Usage,
	}

	count, err := s.store.CountMessages(req.ConversationID)
	if err != nil {
		s.logger.Warn("failed to count messages, skipping derived triggers",
			zap.String("conversation", req.ConversationID),
			zap.Error(err))
		return reply, nil
	}

	if count <= 2 {
		reply.Title = s.maybeGenerateTitle(ctx, req, language)
	}
	if count >= 4 {
		s.maybeRunAnalytics(ctx, req.ConversationID, language)
	}

	return reply, nil
}

func (r Request) language() string {
	if r.Profile != nil && r.Profile.LanguageCode != "" {
		return r.Profile.LanguageCode
	}
	return "en"
}

// recordUsage appends to the ledger and bumps the per-user daily counter.
// Both are best-effort observability sinks.
func (s *Service) recordUsage(ctx context.Context, userID, provider string, resp *ai.Response) {
	usage := resp.Usage
	if usage == nil {
		usage = &ai.Usage{}
	}
	record := &models.UsageRecord{
		UserID:           userID,
		Provider:         provider,
		Model:            resp.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}
	if err := s.store.SaveUsage(record); err != nil {
		s.logger.Warn("failed to record usage",
			zap.String("provider", provider),
			zap.Error(err))
	}
	s.counter.Incr(ctx, fmt.Sprintf("usage:%s:%s", userID, time.Now().UTC().Format("2006-01-02")))
}

// ExtractFollowUps derives up to three suggested next questions from the
// assistant's reply, in the request's language. Best-effort: any failure
// yields an empty list and never fails the parent request.
func (s *Service) ExtractFollowUps(ctx context.Context, text, language string, profile *models.UserProfile) []models.FollowUp {
	prompt, err := s.prompts.Render(ctx, models.CategoryFollowUp, language, mergeVars(profile, map[string]any{
		"response": truncate(text, followUpContextMax),
		"language": language,
	}))
	if err != nil {
		s.logger.Warn("follow-up template unavailable",
			zap.String("language", language),
			zap.Error(err))
		return []models.FollowUp{}
	}

	questions, err := s.completeAndSplit(ctx, prompt, maxFollowUps)
	if err != nil {
		s.logger.Warn("follow-up generation failed",
			zap.String("language", language),
			zap.Error(err))
		return []models.FollowUp{}
	}
	return questions
}

// GenerateStarterQuestions produces up to four conversation openers for a
// profile, using the starter_question template category.
func (s *Service) GenerateStarterQuestions(ctx context.Context, profile *models.UserProfile, language string) ([]models.FollowUp, error) {
	prompt, err := s.prompts.Render(ctx, models.CategoryStarterQuestion, language, mergeVars(profile, map[string]any{
		"language": language,
	}))
	if err != nil {
		return nil, err
	}
	return s.completeAndSplit(ctx, prompt, maxStarterQuestions)
}

// completeAndSplit asks the default provider for a completion and splits it
// into cleaned, id-tagged question lines, keeping at most max.
func (s *Service) completeAndSplit(ctx context.Context, prompt string, max int) ([]models.FollowUp, error) {
	provider, err := s.registry.Get("")
	if err != nil {
		return nil, err
	}
	resp, err := provider.Generate(ctx, []ai.Message{{Role: ai.RoleUser, Content: prompt}})
	if err != nil {
		return nil, err
	}

	questions := make([]models.FollowUp, 0, max)
	for _, line := range strings.Split(resp.Content, "\n") {
		line = cleanQuestionLine(line)
		if line == "" {
			continue
		}
		questions = append(questions, models.FollowUp{ID: uuid.NewString(), Question: line})
		if len(questions) == max {
			break
		}
	}
	return questions, nil
}

// cleanQuestionLine strips list markers the model tends to prepend.
func cleanQuestionLine(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "0123456789")
	line = strings.TrimLeft(line, ".)")
	line = strings.TrimPrefix(line, "-")
	line = strings.TrimPrefix(line, "*")
	return strings.TrimSpace(line)
}

// maybeGenerateTitle runs the title pipeline if this request wins the
// atomic has_title claim. Returns the stored title, or "" when another
// request already claimed it.
func (s *Service) maybeGenerateTitle(ctx context.Context, req Request, language string) string {
	claimed, err := s.store.ClaimTitleGeneration(req.ConversationID)
	if err != nil || !claimed {
		if err != nil {
			s.logger.Warn("failed to claim title generation",
				zap.String("conversation", req.ConversationID),
				zap.Error(err))
		}
		return ""
	}

	title := s.generateTitle(ctx, req.Message, language, req.Profile)
	if err := s.store.UpdateConversationTitle(req.ConversationID, title); err != nil {
		s.logger.Warn("failed to store conversation title",
			zap.String("conversation", req.ConversationID),
			zap.Error(err))
	}
	return title
}

func (s *Service) generateTitle(ctx context.Context, userMessage, language string, profile *models.UserProfile) string {
	fallback := truncate(userMessage, titleFallbackLen) + "..."

	prompt, err := s.prompts.Render(ctx, models.CategoryTitle, language, mergeVars(profile, map[string]any{
		"message":  userMessage,
		"language": language,
	}))
	if err != nil {
		s.logger.Warn("title template unavailable", zap.String("language", language), zap.Error(err))
		return fallback
	}

	provider, err := s.registry.Get("")
	if err != nil {
		return fallback
	}
	resp, err := provider.Generate(ctx, []ai.Message{{Role: ai.RoleUser, Content: prompt}})
	if err != nil {
		s.logger.Warn("title generation failed", zap.String("language", language), zap.Error(err))
		return fallback
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Content), `"`))
	if title == "" {
		return fallback
	}
	return truncate(title, titleMaxLen)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// mergeVars builds the template variable map from a profile plus extras.
func mergeVars(profile *models.UserProfile, extra map[string]any) map[string]any {
	vars := make(map[string]any, len(extra)+4)
	if profile != nil {
		vars["name"] = profile.Name
		vars["location"] = profile.Location
		vars["crops"] = profile.Crops
		vars["livestock"] = profile.Livestock
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}
