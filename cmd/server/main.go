package main

import (
	"context"
	"net/http"

	"github.com/eagleisbatman/farmerchat-server/internal/ai"
	"github.com/eagleisbatman/farmerchat-server/internal/api"
	"github.com/eagleisbatman/farmerchat-server/internal/auth"
	"github.com/eagleisbatman/farmerchat-server/internal/cache"
	"github.com/eagleisbatman/farmerchat-server/internal/chat"
	"github.com/eagleisbatman/farmerchat-server/internal/config"
	"github.com/eagleisbatman/farmerchat-server/internal/db"
	"github.com/eagleisbatman/farmerchat-server/internal/prompts"
	"github.com/eagleisbatman/farmerchat-server/internal/translations"
	"github.com/eagleisbatman/farmerchat-server/internal/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DBPath))
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("invalid REDIS_URL", zap.Error(err))
	}
	// The cache fails open, so an unreachable redis degrades rather than
	// aborting startup.
	contentCache := cache.New(redis.NewClient(redisOpts), logger)

	promptEngine := prompts.NewEngine(database, logger)

	registry := ai.NewRegistry(cfg.DefaultProvider, logger)
	if cfg.OpenAIKey != "" {
		provider, err := ai.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		if err != nil {
			logger.Fatal("failed to initialize OpenAI provider", zap.Error(err))
		}
		registry.Register(provider)
	}
	if cfg.GeminiKey != "" {
		provider, err := ai.NewGemini(context.Background(), cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			logger.Fatal("failed to initialize Gemini provider", zap.Error(err))
		}
		registry.Register(provider)
	}

	translationService := translations.NewService(database, contentCache, logger)
	chatService := chat.NewService(registry, database, promptEngine, contentCache, logger)

	authenticator := auth.StaticTokens(cfg.AuthTokens)
	profiles := auth.StaticProfiles{}

	restHandler := api.NewHandler(database, chatService, promptEngine, translationService, authenticator, profiles, logger)
	wsHandler := ws.NewHandler(chatService, profiles, authenticator, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/message", restHandler.HandleMessage)
	mux.HandleFunc("/api/conversations", restHandler.GetConversations)
	mux.HandleFunc("/api/conversations/delete", restHandler.DeleteConversation)
	mux.HandleFunc("/api/messages", restHandler.GetMessages)
	mux.HandleFunc("/api/starter-questions", restHandler.StarterQuestions)
	mux.HandleFunc("/api/transcribe", restHandler.Transcribe)
	mux.HandleFunc("/api/translations", restHandler.GetTranslations)
	mux.HandleFunc("/api/translations/update", restHandler.UpdateTranslation)
	mux.HandleFunc("/api/languages", restHandler.GetLanguages)
	mux.HandleFunc("/api/prompts", restHandler.HandlePrompts)
	mux.Handle("/ws", wsHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	logger.Info("starting server",
		zap.String("addr", cfg.ListenAddr),
		zap.Strings("providers", registry.Names()),
		zap.String("defaultProvider", cfg.DefaultProvider))
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
