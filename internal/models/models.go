package models

import "time"

// Message is one turn in a conversation. Rows are immutable once persisted
// and always written in user/assistant pairs within a single transaction.
type Message struct {
	ID                string     `json:"id"`
	ConversationID    string     `json:"conversation_id"`
	Content           string     `json:"content"`
	IsUser            bool       `json:"is_user"`
	FollowUpQuestions []FollowUp `json:"follow_up_questions,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// FollowUp is a suggested next question derived from an assistant reply.
type FollowUp struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

type Conversation struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	LastMessage string    `json:"last_message"`
	Tags        []string  `json:"tags,omitempty"`
	EnglishTags []string  `json:"english_tags,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	// HasTitle and AnalyticsDone are claim flags for the derived-content
	// triggers; they are only ever flipped by an atomic conditional update.
	HasTitle      bool      `json:"-"`
	AnalyticsDone bool      `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PromptTemplate categories.
const (
	CategorySystem          = "system"
	CategoryFollowUp        = "follow_up"
	CategoryTitle           = "title"
	CategoryStarterQuestion = "starter_question"
)

// PromptTemplate is a versioned, language-tagged template with {{var}}
// placeholders. Resolution key is (Category, LanguageCode); the highest
// active version wins.
type PromptTemplate struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Category     string   `json:"category"`
	LanguageCode string   `json:"language_code"`
	Template     string   `json:"template"`
	Variables    []string `json:"variables"`
	Version      int      `json:"version"`
	IsActive     bool     `json:"is_active"`
}

// UsageRecord is one row of the append-only token ledger.
type UsageRecord struct {
	UserID           string    `json:"user_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// UserProfile is the slice of the externally-owned user record the
// orchestrator needs for prompt rendering.
type UserProfile struct {
	UserID       string   `json:"user_id"`
	Name         string   `json:"name"`
	LanguageCode string   `json:"language_code"`
	Location     string   `json:"location"`
	Crops        []string `json:"crops,omitempty"`
	Livestock    []string `json:"livestock,omitempty"`
}

// Language is one supported language, annotated with translation coverage.
type Language struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"native_name"`
	Coverage   int    `json:"coverage"`
}

// TranslationBundle is the denormalized read-model served to clients,
// cached under translations:<language>.
type TranslationBundle struct {
	LanguageCode string            `json:"language_code"`
	UI           map[string]string `json:"ui"`
	Crops        map[string]string `json:"crops"`
	Livestock    map[string]string `json:"livestock"`
	Coverage     int               `json:"coverage"`
}
