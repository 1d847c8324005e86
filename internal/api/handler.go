package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/eagleisbatman/farmerchat-server/internal/auth"
	"github.com/eagleisbatman/farmerchat-server/internal/chat"
	"github.com/eagleisbatman/farmerchat-server/internal/db"
	"github.com/eagleisbatman/farmerchat-server/internal/models"
	"github.com/eagleisbatman/farmerchat-server/internal/prompts"
	"github.com/eagleisbatman/farmerchat-server/internal/translations"
	"go.uber.org/zap"
)

type Handler struct {
	db           *db.Database
	chat         *chat.Service
	prompts      *prompts.Engine
	translations *translations.Service
	auth         auth.Authenticator
	profiles     auth.ProfileLoader
	logger       *zap.Logger
}

func NewHandler(database *db.Database, chatService *chat.Service, promptEngine *prompts.Engine,
	translationService *translations.Service, authenticator auth.Authenticator,
	profiles auth.ProfileLoader, logger *zap.Logger) *Handler {
	return &Handler{
		db:           database,
		chat:         chatService,
		prompts:      promptEngine,
		translations: translationService,
		auth:         authenticator,
		profiles:     profiles,
		logger:       logger,
	}
}

type MessageRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type TranscribeRequest struct {
	Audio    string `json:"audio"` // base64
	Language string `json:"language"`
}

type StarterQuestionsRequest struct {
	Language string `json:"language"`
}

type UpdateTranslationRequest struct {
	Namespace    string `json:"namespace"`
	Key          string `json:"key"`
	LanguageCode string `json:"language_code"`
	Value        string `json:"value"`
}

// authenticate resolves the bearer token; a failure writes the 401 itself
// and returns "".
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) string {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	userID, err := h.auth.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return ""
	}
	return userID
}

func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := h.authenticate(w, r)
	if userID == "" {
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	profile, err := h.profiles.Profile(r.Context(), userID)
	if err != nil {
		h.logger.Warn("profile lookup failed, proceeding without one",
			zap.String("user", userID), zap.Error(err))
	}

	reply, err := h.chat.SendMessage(r.Context(), chat.Request{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		UserID:         userID,
		Profile:        profile,
	})
	if err != nil {
		h.logger.Error("failed to process message",
			zap.String("user", userID),
			zap.String("conversation", req.ConversationID),
			zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, prompts.ErrTemplateNotFound) {
			status = http.StatusFailedDependency
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, reply)
}

func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := h.authenticate(w, r)
	if userID == "" {
		return
	}

	conversations, err := h.db.GetConversations(userID)
	if err != nil {
		h.logger.Error("failed to get conversations", zap.String("user", userID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, conversations)
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.authenticate(w, r) == "" {
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	messages, err := h.db.GetRecentMessages(conversationID, 50)
	if err != nil {
		h.logger.Error("failed to get messages", zap.String("conversation", conversationID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Stored newest first; clients want chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	writeJSON(w, messages)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.authenticate(w, r) == "" {
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	if err := h.db.DeleteConversation(conversationID); err != nil {
		h.logger.Error("failed to delete conversation", zap.String("conversation", conversationID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) StarterQuestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := h.authenticate(w, r)
	if userID == "" {
		return
	}

	var req StarterQuestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Language == "" {
		req.Language = "en"
	}

	profile, err := h.profiles.Profile(r.Context(), userID)
	if err != nil {
		h.logger.Warn("profile lookup failed", zap.String("user", userID), zap.Error(err))
	}

	questions, err := h.chat.GenerateStarterQuestions(r.Context(), profile, req.Language)
	if err != nil {
		h.logger.Error("failed to generate starter questions",
			zap.String("user", userID),
			zap.String("language", req.Language),
			zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, questions)
}

func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.authenticate(w, r) == "" {
		return
	}

	var req TranscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		http.Error(w, "audio must be base64 encoded", http.StatusBadRequest)
		return
	}

	text, err := h.chat.Transcribe(r.Context(), audio, req.Language)
	if err != nil {
		var tErr *chat.TranscriptionError
		if errors.As(err, &tErr) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(transcriptionStatus(tErr.Kind))
			json.NewEncoder(w).Encode(tErr)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"text": text})
}

// transcriptionStatus maps each failure kind to its HTTP status.
func transcriptionStatus(kind string) int {
	switch kind {
	case chat.TranscriptionAudioTooLarge:
		return http.StatusRequestEntityTooLarge
	case chat.TranscriptionEmpty, chat.TranscriptionTooShort,
		chat.TranscriptionLanguageMismatch, chat.TranscriptionInvalidAudio:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) GetTranslations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	language := r.URL.Query().Get("language")
	if language == "" {
		language = "en"
	}

	bundle, err := h.translations.GetBundle(r.Context(), language)
	if err != nil {
		h.logger.Error("failed to get translations", zap.String("language", language), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, bundle)
}

func (h *Handler) UpdateTranslation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.authenticate(w, r) == "" {
		return
	}

	var req UpdateTranslationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.Namespace == "" || req.Key == "" || req.LanguageCode == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	coverage, err := h.translations.UpdateTranslation(r.Context(), req.Namespace, req.Key, req.LanguageCode, req.Value)
	if err != nil {
		h.logger.Error("failed to update translation",
			zap.String("language", req.LanguageCode),
			zap.String("key", req.Key),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{"coverage": coverage})
}

func (h *Handler) GetLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	languages, err := h.translations.Languages(r.Context())
	if err != nil {
		h.logger.Error("failed to get languages", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, languages)
}

// HandlePrompts is the administrative write-through surface for templates.
func (h *Handler) HandlePrompts(w http.ResponseWriter, r *http.Request) {
	if h.authenticate(w, r) == "" {
		return
	}

	var template models.PromptTemplate
	if err := json.NewDecoder(r.Body).Decode(&template); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch r.Method {
	case http.MethodPost:
		err = h.prompts.Create(r.Context(), &template)
	case http.MethodPut:
		err = h.prompts.Update(r.Context(), &template)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		h.logger.Error("failed to write prompt template",
			zap.String("category", template.Category),
			zap.String("language", template.LanguageCode),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, template)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
