// Package translations serves the denormalized language read-models (UI
// strings, crop and livestock name maps, coverage) through the derived
// content cache, falling through to the store on any miss.
package translations

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/eagleisbatman/farmerchat-server/internal/cache"
	"github.com/eagleisbatman/farmerchat-server/internal/models"
	"go.uber.org/zap"
)

const (
	bundleKeyPrefix = "translations:"
	languagesKey    = "languages:all"
)

// Store is the slice of the relational store this service needs.
type Store interface {
	GetTranslations(namespace, languageCode string) (map[string]string, error)
	UpsertTranslation(namespace, key, languageCode, value string) error
	TranslationCounts(languageCode string) (translated, reference int, err error)
	GetLanguages() ([]models.Language, error)
}

// Cache is the fail-open key/value layer fronting bundle reads.
type Cache interface {
	Get(ctx context.Context, key string) string
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

type Service struct {
	store  Store
	cache  Cache
	logger *zap.Logger
}

func NewService(store Store, c Cache, logger *zap.Logger) *Service {
	return &Service{store: store, cache: c, logger: logger}
}

// GetBundle returns the translation bundle for a language, cached for an
// hour. A cache miss or an unreachable backend falls through to the store.
func (s *Service) GetBundle(ctx context.Context, languageCode string) (*models.TranslationBundle, error) {
	key := bundleKeyPrefix + languageCode

	if cached := s.cache.Get(ctx, key); cached != "" {
		var bundle models.TranslationBundle
		if err := json.Unmarshal([]byte(cached), &bundle); err == nil {
			return &bundle, nil
		}
		// Unreadable entry; rebuild below.
		s.cache.Delete(ctx, key)
	}

	bundle, err := s.buildBundle(languageCode)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(bundle); err == nil {
		s.cache.Set(ctx, key, string(data), cache.TranslationTTL)
	}
	return bundle, nil
}

func (s *Service) buildBundle(languageCode string) (*models.TranslationBundle, error) {
	ui, err := s.store.GetTranslations("ui", languageCode)
	if err != nil {
		return nil, fmt.Errorf("failed to build translation bundle: %w", err)
	}
	crops, err := s.store.GetTranslations("crops", languageCode)
	if err != nil {
		return nil, fmt.Errorf("failed to build translation bundle: %w", err)
	}
	livestock, err := s.store.GetTranslations("livestock", languageCode)
	if err != nil {
		return nil, fmt.Errorf("failed to build translation bundle: %w", err)
	}
	coverage, err := s.coverage(languageCode)
	if err != nil {
		return nil, err
	}
	return &models.TranslationBundle{
		LanguageCode: languageCode,
		UI:           ui,
		Crops:        crops,
		Livestock:    livestock,
		Coverage:     coverage,
	}, nil
}

// UpdateTranslation writes one row through to the store, synchronously
// invalidates the cached bundle for that language, and returns the
// recomputed coverage percentage.
func (s *Service) UpdateTranslation(ctx context.Context, namespace, key, languageCode, value string) (int, error) {
	if err := s.store.UpsertTranslation(namespace, key, languageCode, value); err != nil {
		return 0, err
	}

	s.cache.Delete(ctx, bundleKeyPrefix+languageCode)

	coverage, err := s.coverage(languageCode)
	if err != nil {
		return 0, err
	}
	s.logger.Info("translation updated",
		zap.String("namespace", namespace),
		zap.String("key", key),
		zap.String("language", languageCode),
		zap.Int("coverage", coverage))
	return coverage, nil
}

// Languages returns the supported-language list annotated with coverage,
// cached for a day.
func (s *Service) Languages(ctx context.Context) ([]models.Language, error) {
	if cached := s.cache.Get(ctx, languagesKey); cached != "" {
		var languages []models.Language
		if err := json.Unmarshal([]byte(cached), &languages); err == nil {
			return languages, nil
		}
		s.cache.Delete(ctx, languagesKey)
	}

	languages, err := s.store.GetLanguages()
	if err != nil {
		return nil, err
	}
	for i := range languages {
		coverage, err := s.coverage(languages[i].Code)
		if err != nil {
			return nil, err
		}
		languages[i].Coverage = coverage
	}

	if data, err := json.Marshal(languages); err == nil {
		s.cache.Set(ctx, languagesKey, string(data), cache.LanguageListTTL)
	}
	return languages, nil
}

// coverage is the ratio of translated keys to English reference keys,
// rounded to a percentage. English is always 100.
func (s *Service) coverage(languageCode string) (int, error) {
	if languageCode == "en" {
		return 100, nil
	}
	translated, reference, err := s.store.TranslationCounts(languageCode)
	if err != nil {
		return 0, fmt.Errorf("failed to compute coverage: %w", err)
	}
	if reference == 0 {
		return 0, nil
	}
	return int(math.Round(float64(translated) / float64(reference) * 100)), nil
}
