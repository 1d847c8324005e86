package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/eagleisbatman/farmerchat-server/internal/ai"
	"github.com/eagleisbatman/farmerchat-server/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fakeProvider scripts generation by inspecting the last message. Streaming
// emits the configured chunks then the completion marker.
type fakeProvider struct {
	generate func(messages []ai.Message) (string, error)
	chunks   []string
}

func (f *fakeProvider) Name() string         { return "fake" }
func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Models() []string     { return []string{"fake-model"} }

func (f *fakeProvider) Generate(_ context.Context, messages []ai.Message) (*ai.Response, error) {
	content, err := f.generate(messages)
	if err != nil {
		return nil, err
	}
	return &ai.Response{
		Content: content,
		Model:   "fake-model",
		Usage:   &ai.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func (f *fakeProvider) GenerateStream(_ context.Context, messages []ai.Message, onChunk ai.ChunkFunc) (*ai.Response, error) {
	var accumulated strings.Builder
	for _, chunk := range f.chunks {
		accumulated.WriteString(chunk)
		if err := onChunk(ai.Chunk{Content: chunk}); err != nil {
			return nil, err
		}
	}
	if err := onChunk(ai.Chunk{Done: true}); err != nil {
		return nil, err
	}
	return &ai.Response{
		Content: accumulated.String(),
		Model:   "fake-model",
		Usage:   &ai.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

type fakeStore struct {
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
	usage         []models.UsageRecord
	titleClaimed  map[string]bool
	analyticsDone map[string]bool
	titles        map[string]string
	tags          map[string][]string
	englishTags   map[string][]string
	summaries     map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
		titleClaimed:  make(map[string]bool),
		analyticsDone: make(map[string]bool),
		titles:        make(map[string]string),
		tags:          make(map[string][]string),
		englishTags:   make(map[string][]string),
		summaries:     make(map[string]string),
	}
}

func (s *fakeStore) CreateConversation(userID string) (*models.Conversation, error) {
	conv := &models.Conversation{ID: uuid.NewString(), UserID: userID}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *fakeStore) GetConversation(id string) (*models.Conversation, error) {
	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("no such conversation: %s", id)
	}
	return conv, nil
}

func (s *fakeStore) GetRecentMessages(conversationID string, limit int) ([]models.Message, error) {
	all := s.messages[conversationID]
	// Newest first, like the sqlite store.
	reversed := make([]models.Message, 0, limit)
	for i := len(all) - 1; i >= 0 && len(reversed) < limit; i-- {
		reversed = append(reversed, all[i])
	}
	return reversed, nil
}

func (s *fakeStore) SaveExchange(userMsg, assistantMsg *models.Message) error {
	for _, msg := range []*models.Message{userMsg, assistantMsg} {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	}
	return nil
}

func (s *fakeStore) CountMessages(conversationID string) (int, error) {
	return len(s.messages[conversationID]), nil
}

func (s *fakeStore) ClaimTitleGeneration(conversationID string) (bool, error) {
	if s.titleClaimed[conversationID] {
		return false, nil
	}
	s.titleClaimed[conversationID] = true
	return true, nil
}

func (s *fakeStore) ClaimAnalytics(conversationID string) (bool, error) {
	if s.analyticsDone[conversationID] {
		return false, nil
	}
	s.analyticsDone[conversationID] = true
	return true, nil
}

func (s *fakeStore) UpdateConversationTitle(id, title string) error {
	s.titles[id] = title
	return nil
}

func (s *fakeStore) UpdateConversationAnalytics(id string, tags, englishTags []string, summary string) error {
	s.tags[id] = tags
	s.englishTags[id] = englishTags
	s.summaries[id] = summary
	return nil
}

func (s *fakeStore) SaveUsage(record *models.UsageRecord) error {
	s.usage = append(s.usage, *record)
	return nil
}

// fakeRenderer renders "<category>:<language>" so scripted providers can
// switch on the prompt they received.
type fakeRenderer struct {
	err error
}

func (r *fakeRenderer) Render(_ context.Context, category, languageCode string, _ map[string]any) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return category + ":" + languageCode, nil
}

type fakeCounter struct{ counts map[string]int64 }

func (c *fakeCounter) Incr(_ context.Context, key string) int64 {
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[key]++
	return c.counts[key]
}

func newTestService(provider *fakeProvider, store *fakeStore) *Service {
	registry := ai.NewRegistry("fake", zap.NewNop())
	registry.Register(provider)
	return NewService(registry, store, &fakeRenderer{}, &fakeCounter{}, zap.NewNop())
}

// answerThenFollowUps scripts the provider: template-rendered prompts get a
// multi-line question list, everything else gets the canned answer.
func answerThenFollowUps(answer string, questions ...string) func([]ai.Message) (string, error) {
	return func(messages []ai.Message) (string, error) {
		last := messages[len(messages)-1].Content
		if strings.HasPrefix(last, models.CategoryFollowUp+":") {
			return strings.Join(questions, "\n"), nil
		}
		if strings.HasPrefix(last, models.CategoryTitle+":") {
			return "Pest control for maize", nil
		}
		return answer, nil
	}
}

func TestSendMessagePersistsExchange(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{generate: answerThenFollowUps("Use neem oil.", "Q1?", "Q2?")}
	svc := newTestService(provider, store)

	reply, err := svc.SendMessage(context.Background(), Request{
		Message: "How do I stop stem borers?",
		UserID:  "user-1",
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if reply.Content != "Use neem oil." {
		t.Errorf("unexpected content %q", reply.Content)
	}
	if reply.ConversationID == "" {
		t.Error("expected a conversation to be created")
	}

	msgs := store.messages[reply.ConversationID]
	if len(msgs) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(msgs))
	}
	if !msgs[0].IsUser || msgs[1].IsUser {
		t.Error("expected user message then assistant message")
	}
	if len(msgs[1].FollowUpQuestions) != 2 {
		t.Errorf("assistant message should carry follow-ups, got %d", len(msgs[1].FollowUpQuestions))
	}
	if len(store.usage) != 1 || store.usage[0].TotalTokens != 30 {
		t.Errorf("expected one usage record with 30 tokens, got %+v", store.usage)
	}
}

func TestFollowUpCap(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{generate: answerThenFollowUps("answer",
		"1. First?", "2. Second?", "3. Third?", "4. Fourth?", "", "  ")}
	svc := newTestService(provider, store)

	followUps := svc.ExtractFollowUps(context.Background(), "some reply", "en", nil)
	if len(followUps) != 3 {
		t.Fatalf("expected at most 3 follow-ups, got %d", len(followUps))
	}
	seen := make(map[string]bool)
	for _, fu := range followUps {
		if fu.Question == "" {
			t.Error("follow-up with empty question")
		}
		if strings.ContainsAny(fu.Question[:1], "0123456789.-*") {
			t.Errorf("numbering not stripped: %q", fu.Question)
		}
		if seen[fu.ID] {
			t.Errorf("duplicate follow-up id %q", fu.ID)
		}
		seen[fu.ID] = true
	}
}

func TestFollowUpFailureYieldsEmptyList(t *testing.T) {
	store := newFakeStore()
	calls := 0
	provider := &fakeProvider{generate: func(messages []ai.Message) (string, error) {
		calls++
		last := messages[len(messages)-1].Content
		if strings.HasPrefix(last, models.CategoryFollowUp+":") {
			return "", errors.New("vendor exploded")
		}
		return "the answer", nil
	}}
	svc := newTestService(provider, store)

	reply, err := svc.SendMessage(context.Background(), Request{Message: "hi", UserID: "u"})
	if err != nil {
		t.Fatalf("a follow-up failure must not fail the parent request: %v", err)
	}
	if len(reply.FollowUpQuestions) != 0 {
		t.Errorf("expected empty follow-ups, got %+v", reply.FollowUpQuestions)
	}
	if reply.Content != "the answer" {
		t.Errorf("primary content lost: %q", reply.Content)
	}
}

func TestTitleTriggerBoundary(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{generate: answerThenFollowUps("answer", "Q?")}
	svc := newTestService(provider, store)
	ctx := context.Background()

	first, err := svc.SendMessage(ctx, Request{Message: "first question", UserID: "u"})
	if err != nil {
		t.Fatalf("first SendMessage failed: %v", err)
	}
	if first.Title == "" {
		t.Fatal("first exchange must produce a title")
	}
	if store.titles[first.ConversationID] != first.Title {
		t.Errorf("title not persisted: %q vs %q", store.titles[first.ConversationID], first.Title)
	}

	second, err := svc.SendMessage(ctx, Request{
		Message:        "second question",
		ConversationID: first.ConversationID,
		UserID:         "u",
	})
	if err != nil {
		t.Fatalf("second SendMessage failed: %v", err)
	}
	if second.Title != "" {
		t.Errorf("second exchange must not produce a title, got %q", second.Title)
	}
}

func TestTitleFallbackOnProviderFailure(t *testing.T) {
	store := newFakeStore()
	longMessage := strings.Repeat("maize pest question ", 5)
	provider := &fakeProvider{generate: func(messages []ai.Message) (string, error) {
		last := messages[len(messages)-1].Content
		if strings.HasPrefix(last, models.CategoryTitle+":") {
			return "", errors.New("vendor down")
		}
		if strings.HasPrefix(last, models.CategoryFollowUp+":") {
			return "Q?", nil
		}
		return "answer", nil
	}}
	svc := newTestService(provider, store)

	reply, err := svc.SendMessage(context.Background(), Request{Message: longMessage, UserID: "u"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	want := string([]rune(longMessage)[:titleFallbackLen]) + "..."
	if reply.Title != want {
		t.Errorf("fallback title = %q, want %q", reply.Title, want)
	}
}

func TestStreamingConcatenationMatchesComplete(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{
		generate: answerThenFollowUps("unused", "Q?"),
		chunks:   []string{"Rotate ", "your ", "crops ", "yearly."},
	}
	svc := newTestService(provider, store)

	var emitted []string
	var sawDone bool
	reply, err := svc.StreamMessage(context.Background(), Request{Message: "advice?", UserID: "u"},
		func(chunk ai.Chunk) error {
			if chunk.Done {
				sawDone = true
				if chunk.Content != "" {
					t.Errorf("final chunk must carry no content, got %q", chunk.Content)
				}
				return nil
			}
			if sawDone {
				t.Error("chunk emitted after completion marker")
			}
			emitted = append(emitted, chunk.Content)
			return nil
		})
	if err != nil {
		t.Fatalf("StreamMessage failed: %v", err)
	}
	if !sawDone {
		t.Error("stream never signalled completion")
	}
	if got := strings.Join(emitted, ""); got != reply.Content {
		t.Errorf("chunk concatenation %q != complete content %q", got, reply.Content)
	}
	msgs := store.messages[reply.ConversationID]
	if len(msgs) != 2 || msgs[1].Content != reply.Content {
		t.Errorf("streamed content not persisted against accumulated text: %+v", msgs)
	}
}

func TestStarterQuestionsCap(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{generate: func(messages []ai.Message) (string, error) {
		return "A?\nB?\nC?\nD?\nE?\nF?", nil
	}}
	svc := newTestService(provider, store)

	questions, err := svc.GenerateStarterQuestions(context.Background(), nil, "en")
	if err != nil {
		t.Fatalf("GenerateStarterQuestions failed: %v", err)
	}
	if len(questions) != 4 {
		t.Errorf("expected 4 starter questions, got %d", len(questions))
	}
}

func TestProviderUnavailable(t *testing.T) {
	registry := ai.NewRegistry("openai", zap.NewNop())
	svc := NewService(registry, newFakeStore(), &fakeRenderer{}, &fakeCounter{}, zap.NewNop())

	_, err := svc.SendMessage(context.Background(), Request{Message: "hi", UserID: "u"})
	if !ai.IsKind(err, ai.KindProviderUnavailable) {
		t.Fatalf("expected provider_unavailable, got %v", err)
	}
}
