// Package prompts renders versioned, language-tagged templates with
// {{var}} placeholders. Active templates are cached in-process as an
// immutable snapshot and rebuilt wholesale when stale.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/eagleisbatman/farmerchat-server/internal/models"
	"go.uber.org/zap"
)

// ErrTemplateNotFound means the category/language pair is unresolvable
// even after the English fallback. Rendering cannot proceed.
var ErrTemplateNotFound = errors.New("template not found")

const (
	englishCode     = "en"
	refreshInterval = 5 * time.Minute
)

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Store is the slice of the relational store the engine needs.
type Store interface {
	GetActivePrompts() ([]models.PromptTemplate, error)
	CreatePrompt(p *models.PromptTemplate) error
	UpdatePrompt(p *models.PromptTemplate) error
}

type Engine struct {
	store  Store
	logger *zap.Logger

	mu          sync.RWMutex
	snapshot    map[string]models.PromptTemplate // key: category|language
	refreshedAt time.Time
}

func NewEngine(store Store, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		logger:   logger,
		snapshot: make(map[string]models.PromptTemplate),
	}
}

func cacheKey(category, languageCode string) string {
	return category + "|" + languageCode
}

// Get resolves the active template for (category, language), falling back
// to English for a missing non-English language. A miss after fallback is
// ErrTemplateNotFound.
func (e *Engine) Get(ctx context.Context, category, languageCode string) (*models.PromptTemplate, error) {
	if err := e.ensureFresh(ctx); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if t, ok := e.snapshot[cacheKey(category, languageCode)]; ok {
		return &t, nil
	}
	if languageCode != englishCode {
		if t, ok := e.snapshot[cacheKey(category, englishCode)]; ok {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: category %q language %q", ErrTemplateNotFound, category, languageCode)
}

// Render resolves and interpolates in one step.
func (e *Engine) Render(ctx context.Context, category, languageCode string, vars map[string]any) (string, error) {
	t, err := e.Get(ctx, category, languageCode)
	if err != nil {
		return "", err
	}
	return Interpolate(t.Template, vars), nil
}

// Interpolate replaces every {{name}} occurrence. Slice values are
// comma-joined; a missing variable renders as a visible [name] marker
// instead of disappearing.
func Interpolate(template string, vars map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		val, ok := vars[name]
		if !ok {
			return "[" + name + "]"
		}
		switch v := val.(type) {
		case string:
			return v
		case []string:
			return strings.Join(v, ", ")
		case fmt.Stringer:
			return v.String()
		default:
			return fmt.Sprintf("%v", v)
		}
	})
}

// Create writes a template through to the store and installs it in the
// snapshot immediately, without waiting for the next refresh.
func (e *Engine) Create(ctx context.Context, t *models.PromptTemplate) error {
	if err := e.store.CreatePrompt(t); err != nil {
		return err
	}
	e.install(t)
	return nil
}

// Update is the write-through counterpart of Create.
func (e *Engine) Update(ctx context.Context, t *models.PromptTemplate) error {
	if err := e.store.UpdatePrompt(t); err != nil {
		return err
	}
	e.install(t)
	return nil
}

func (e *Engine) install(t *models.PromptTemplate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := cacheKey(t.Category, t.LanguageCode)
	if !t.IsActive {
		delete(e.snapshot, key)
		return
	}
	if existing, ok := e.snapshot[key]; !ok || t.Version >= existing.Version {
		e.snapshot[key] = *t
	}
}

// ensureFresh rebuilds the snapshot when it is older than the refresh
// interval. Concurrent rebuilds are idempotent; last writer wins.
func (e *Engine) ensureFresh(ctx context.Context) error {
	e.mu.RLock()
	fresh := time.Since(e.refreshedAt) < refreshInterval && len(e.snapshot) > 0
	e.mu.RUnlock()
	if fresh {
		return nil
	}

	rows, err := e.store.GetActivePrompts()
	if err != nil {
		e.mu.RLock()
		empty := len(e.snapshot) == 0
		e.mu.RUnlock()
		if empty {
			return fmt.Errorf("failed to load prompt templates: %w", err)
		}
		// Keep serving the stale snapshot; the store may recover.
		e.logger.Warn("prompt refresh failed, serving stale snapshot", zap.Error(err))
		return nil
	}

	snapshot := make(map[string]models.PromptTemplate, len(rows))
	for _, row := range rows {
		key := cacheKey(row.Category, row.LanguageCode)
		if existing, ok := snapshot[key]; ok && existing.Version >= row.Version {
			continue
		}
		snapshot[key] = row
	}

	e.mu.Lock()
	e.snapshot = snapshot
	e.refreshedAt = time.Now()
	e.mu.Unlock()

	e.logger.Debug("prompt snapshot refreshed", zap.Int("templates", len(snapshot)))
	return nil
}
