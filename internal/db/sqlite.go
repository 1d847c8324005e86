package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/eagleisbatman/farmerchat-server/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    last_message TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    english_tags TEXT NOT NULL DEFAULT '[]',
    summary TEXT NOT NULL DEFAULT '',
    has_title INTEGER NOT NULL DEFAULT 0,
    analytics_done INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    content TEXT NOT NULL,
    is_user INTEGER NOT NULL,
    follow_up_questions TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS prompt_templates (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    category TEXT NOT NULL CHECK (category IN ('system', 'follow_up', 'title', 'starter_question')),
    language_code TEXT NOT NULL,
    template TEXT NOT NULL,
    variables TEXT NOT NULL DEFAULT '[]',
    version INTEGER NOT NULL DEFAULT 1,
    is_active INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_prompts_key ON prompt_templates(category, language_code);

CREATE TABLE IF NOT EXISTS translations (
    namespace TEXT NOT NULL,
    key TEXT NOT NULL,
    language_code TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (namespace, key, language_code)
);

CREATE TABLE IF NOT EXISTS languages (
    code TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    native_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS usage_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    prompt_tokens INTEGER NOT NULL,
    completion_tokens INTEGER NOT NULL,
    total_tokens INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

INSERT OR IGNORE INTO languages (code, name, native_name) VALUES
    ('en', 'English', 'English'),
    ('hi', 'Hindi', 'हिन्दी'),
    ('sw', 'Swahili', 'Kiswahili'),
    ('am', 'Amharic', 'አማርኛ'),
    ('fr', 'French', 'Français');`

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (db *Database) CreateConversation(userID string) (*models.Conversation, error) {
	query := `
        INSERT INTO conversations (id, user_id, created_at, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
        RETURNING created_at, updated_at`

	conv := &models.Conversation{ID: uuid.NewString(), UserID: userID}
	err := db.db.QueryRow(query, conv.ID, userID).Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (db *Database) GetConversation(id string) (*models.Conversation, error) {
	query := `
        SELECT id, user_id, title, last_message, tags, english_tags, summary,
               has_title, analytics_done, created_at, updated_at
        FROM conversations
        WHERE id = ?`

	var conv models.Conversation
	var tags, englishTags string
	err := db.db.QueryRow(query, id).Scan(
		&conv.ID, &conv.UserID, &conv.Title, &conv.LastMessage,
		&tags, &englishTags, &conv.Summary,
		&conv.HasTitle, &conv.AnalyticsDone, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	json.Unmarshal([]byte(tags), &conv.Tags)
	json.Unmarshal([]byte(englishTags), &conv.EnglishTags)
	return &conv, nil
}

func (db *Database) GetConversations(userID string) ([]models.Conversation, error) {
	query := `
        SELECT id, user_id, title, last_message, tags, english_tags, summary,
               has_title, analytics_done, created_at, updated_at
        FROM conversations
        WHERE user_id = ?
        ORDER BY updated_at DESC`

	rows, err := db.db.Query(query, userID)
	if err != nil {
		return []models.Conversation{}, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		var tags, englishTags string
		err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.LastMessage,
			&tags, &englishTags, &conv.Summary,
			&conv.HasTitle, &conv.AnalyticsDone, &conv.CreatedAt, &conv.UpdatedAt)
		if err != nil {
			return []models.Conversation{}, err
		}
		json.Unmarshal([]byte(tags), &conv.Tags)
		json.Unmarshal([]byte(englishTags), &conv.EnglishTags)
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

// SaveExchange persists one user/assistant message pair and the
// conversation's last-message fields in a single transaction, so an
// assistant message can never exist without its preceding user message.
func (db *Database) SaveExchange(userMsg, assistantMsg *models.Message) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, msg := range []*models.Message{userMsg, assistantMsg} {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		followUps, err := json.Marshal(msg.FollowUpQuestions)
		if err != nil {
			return fmt.Errorf("failed to marshal follow-ups: %w", err)
		}
		if err := tx.QueryRow(`
            INSERT INTO messages (id, conversation_id, content, is_user, follow_up_questions, created_at)
            VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
            RETURNING created_at`,
			msg.ID, msg.ConversationID, msg.Content, msg.IsUser, string(followUps),
		).Scan(&msg.CreatedAt); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	if _, err := tx.Exec(`
        UPDATE conversations SET last_message = ?, updated_at = CURRENT_TIMESTAMP
        WHERE id = ?`,
		assistantMsg.Content, assistantMsg.ConversationID); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	return tx.Commit()
}

// GetRecentMessages returns up to limit messages, newest first. Callers
// that need chronological order reverse the slice.
func (db *Database) GetRecentMessages(conversationID string, limit int) ([]models.Message, error) {
	query := `
        SELECT id, conversation_id, content, is_user, follow_up_questions, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at DESC, rowid DESC
        LIMIT ?`

	rows, err := db.db.Query(query, conversationID, limit)
	if err != nil {
		return []models.Message{}, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var followUps string
		err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Content, &msg.IsUser, &followUps, &msg.CreatedAt)
		if err != nil {
			return []models.Message{}, err
		}
		json.Unmarshal([]byte(followUps), &msg.FollowUpQuestions)
		messages = append(messages, msg)
	}
	return messages, nil
}

func (db *Database) CountMessages(conversationID string) (int, error) {
	var count int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count)
	return count, err
}

// ClaimTitleGeneration atomically claims the title trigger for a
// conversation. Exactly one caller wins; everyone else gets false.
func (db *Database) ClaimTitleGeneration(conversationID string) (bool, error) {
	result, err := db.db.Exec(`
        UPDATE conversations SET has_title = 1
        WHERE id = ? AND has_title = 0`, conversationID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected == 1, err
}

// ClaimAnalytics is the same atomic claim for the tag/summary pipeline.
func (db *Database) ClaimAnalytics(conversationID string) (bool, error) {
	result, err := db.db.Exec(`
        UPDATE conversations SET analytics_done = 1
        WHERE id = ? AND analytics_done = 0`, conversationID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected == 1, err
}

func (db *Database) UpdateConversationTitle(id, title string) error {
	_, err := db.db.Exec(`UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	return err
}

// UpdateConversationAnalytics writes tags, english tags and summary in one
// update.
func (db *Database) UpdateConversationAnalytics(id string, tags, englishTags []string, summary string) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	englishJSON, err := json.Marshal(englishTags)
	if err != nil {
		return err
	}
	_, err = db.db.Exec(`
        UPDATE conversations SET tags = ?, english_tags = ?, summary = ?, updated_at = CURRENT_TIMESTAMP
        WHERE id = ?`,
		string(tagsJSON), string(englishJSON), summary, id)
	return err
}

func (db *Database) DeleteConversation(id string) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// GetActivePrompts loads every active template row, highest version first,
// for the engine's snapshot cache.
func (db *Database) GetActivePrompts() ([]models.PromptTemplate, error) {
	query := `
        SELECT id, name, category, language_code, template, variables, version, is_active
        FROM prompt_templates
        WHERE is_active = 1
        ORDER BY category, language_code, version DESC`

	rows, err := db.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	defer rows.Close()

	prompts := make([]models.PromptTemplate, 0)
	for rows.Next() {
		var p models.PromptTemplate
		var variables string
		err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.LanguageCode, &p.Template, &variables, &p.Version, &p.IsActive)
		if err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(variables), &p.Variables)
		prompts = append(prompts, p)
	}
	return prompts, nil
}

func (db *Database) CreatePrompt(p *models.PromptTemplate) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	variables, err := json.Marshal(p.Variables)
	if err != nil {
		return err
	}
	_, err = db.db.Exec(`
        INSERT INTO prompt_templates (id, name, category, language_code, template, variables, version, is_active)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Category, p.LanguageCode, p.Template, string(variables), p.Version, p.IsActive)
	if err != nil {
		return fmt.Errorf("failed to create prompt: %w", err)
	}
	return nil
}

func (db *Database) UpdatePrompt(p *models.PromptTemplate) error {
	variables, err := json.Marshal(p.Variables)
	if err != nil {
		return err
	}
	_, err = db.db.Exec(`
        UPDATE prompt_templates
        SET name = ?, template = ?, variables = ?, version = ?, is_active = ?
        WHERE id = ?`,
		p.Name, p.Template, string(variables), p.Version, p.IsActive, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update prompt: %w", err)
	}
	return nil
}

// GetTranslations returns key->value for one namespace and language.
func (db *Database) GetTranslations(namespace, languageCode string) (map[string]string, error) {
	rows, err := db.db.Query(`
        SELECT key, value FROM translations
        WHERE namespace = ? AND language_code = ?`, namespace, languageCode)
	if err != nil {
		return nil, fmt.Errorf("failed to get translations: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		result[key] = value
	}
	return result, nil
}

func (db *Database) UpsertTranslation(namespace, key, languageCode, value string) error {
	_, err := db.db.Exec(`
        INSERT INTO translations (namespace, key, language_code, value)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (namespace, key, language_code) DO UPDATE SET value = excluded.value`,
		namespace, key, languageCode, value)
	if err != nil {
		return fmt.Errorf("failed to upsert translation: %w", err)
	}
	return nil
}

// TranslationCounts returns the number of translated keys for the language
// and the number of English reference keys, across all namespaces.
func (db *Database) TranslationCounts(languageCode string) (translated, reference int, err error) {
	err = db.db.QueryRow(`
        SELECT
            (SELECT COUNT(*) FROM translations WHERE language_code = ?),
            (SELECT COUNT(*) FROM translations WHERE language_code = 'en')`,
		languageCode).Scan(&translated, &reference)
	return translated, reference, err
}

func (db *Database) GetLanguages() ([]models.Language, error) {
	rows, err := db.db.Query(`SELECT code, name, native_name FROM languages ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to get languages: %w", err)
	}
	defer rows.Close()

	languages := make([]models.Language, 0)
	for rows.Next() {
		var lang models.Language
		if err := rows.Scan(&lang.Code, &lang.Name, &lang.NativeName); err != nil {
			return nil, err
		}
		languages = append(languages, lang)
	}
	return languages, nil
}

// SaveUsage appends one row to the token ledger.
func (db *Database) SaveUsage(record *models.UsageRecord) error {
	_, err := db.db.Exec(`
        INSERT INTO usage_records (user_id, provider, model, prompt_tokens, completion_tokens, total_tokens, created_at)
        VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		record.UserID, record.Provider, record.Model,
		record.PromptTokens, record.CompletionTokens, record.TotalTokens)
	return err
}
