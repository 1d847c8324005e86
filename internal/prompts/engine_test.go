package prompts

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/eagleisbatman/farmerchat-server/internal/models"
	"go.uber.org/zap"
)

type fakeStore struct {
	templates []models.PromptTemplate
	loadErr   error
	loads     int
}

func (s *fakeStore) GetActivePrompts() ([]models.PromptTemplate, error) {
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.templates, nil
}

func (s *fakeStore) CreatePrompt(p *models.PromptTemplate) error {
	s.templates = append(s.templates, *p)
	return nil
}

func (s *fakeStore) UpdatePrompt(p *models.PromptTemplate) error {
	for i := range s.templates {
		if s.templates[i].ID == p.ID {
			s.templates[i] = *p
			return nil
		}
	}
	return fmt.Errorf("no such template: %s", p.ID)
}

func newTestEngine(store *fakeStore) *Engine {
	return NewEngine(store, zap.NewNop())
}

func TestGetFallsBackToEnglish(t *testing.T) {
	store := &fakeStore{templates: []models.PromptTemplate{
		{ID: "1", Category: models.CategorySystem, LanguageCode: "en", Template: "english system", Version: 1, IsActive: true},
		{ID: "2", Category: models.CategoryTitle, LanguageCode: "hi", Template: "hindi title", Version: 1, IsActive: true},
	}}
	engine := newTestEngine(store)
	ctx := context.Background()

	got, err := engine.Get(ctx, models.CategorySystem, "hi")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Template != "english system" {
		t.Errorf("expected English fallback, got %q", got.Template)
	}

	got, err = engine.Get(ctx, models.CategoryTitle, "hi")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Template != "hindi title" {
		t.Errorf("expected exact hindi match, got %q", got.Template)
	}
}

func TestGetReturnsTemplateNotFound(t *testing.T) {
	store := &fakeStore{templates: []models.PromptTemplate{
		{ID: "1", Category: models.CategorySystem, LanguageCode: "en", Template: "x", Version: 1, IsActive: true},
	}}
	engine := newTestEngine(store)

	_, err := engine.Get(context.Background(), models.CategoryFollowUp, "sw")
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}

	_, err = engine.Render(context.Background(), models.CategoryFollowUp, "sw", nil)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("Render: expected ErrTemplateNotFound, got %v", err)
	}
}

func TestHighestActiveVersionWins(t *testing.T) {
	store := &fakeStore{templates: []models.PromptTemplate{
		{ID: "1", Category: models.CategoryTitle, LanguageCode: "en", Template: "old", Version: 1, IsActive: true},
		{ID: "2", Category: models.CategoryTitle, LanguageCode: "en", Template: "new", Version: 3, IsActive: true},
	}}
	engine := newTestEngine(store)

	got, err := engine.Get(context.Background(), models.CategoryTitle, "en")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Template != "new" {
		t.Errorf("expected version 3 to win, got %q", got.Template)
	}
}

func TestInterpolate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]any
		want     string
	}{
		{
			name:     "simple substitution",
			template: "Hello {{name}} from {{location}}",
			vars:     map[string]any{"name": "Asha", "location": "Kenya"},
			want:     "Hello Asha from Kenya",
		},
		{
			name:     "list values are comma-joined",
			template: "Crops: {{crops}}",
			vars:     map[string]any{"crops": []string{"maize", "beans"}},
			want:     "Crops: maize, beans",
		},
		{
			name:     "missing variable stays visible",
			template: "Hello {{name}}",
			vars:     map[string]any{},
			want:     "Hello [name]",
		},
		{
			name:     "repeated placeholder",
			template: "{{lang}} and {{lang}}",
			vars:     map[string]any{"lang": "sw"},
			want:     "sw and sw",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Interpolate(tt.template, tt.vars); got != tt.want {
				t.Errorf("Interpolate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreateInstallsImmediately(t *testing.T) {
	store := &fakeStore{templates: []models.PromptTemplate{
		{ID: "1", Category: models.CategorySystem, LanguageCode: "en", Template: "x", Version: 1, IsActive: true},
	}}
	engine := newTestEngine(store)
	ctx := context.Background()

	// Prime the snapshot.
	if _, err := engine.Get(ctx, models.CategorySystem, "en"); err != nil {
		t.Fatalf("priming Get failed: %v", err)
	}
	loadsBefore := store.loads

	created := &models.PromptTemplate{
		ID: "2", Category: models.CategoryFollowUp, LanguageCode: "hi",
		Template: "naye sawaal", Version: 1, IsActive: true,
	}
	if err := engine.Create(ctx, created); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := engine.Get(ctx, models.CategoryFollowUp, "hi")
	if err != nil {
		t.Fatalf("Get after Create failed: %v", err)
	}
	if got.Template != "naye sawaal" {
		t.Errorf("expected created template, got %q", got.Template)
	}
	if store.loads != loadsBefore {
		t.Errorf("Create should not trigger a store reload, loads went %d -> %d", loadsBefore, store.loads)
	}
}

func TestStaleSnapshotServedWhenStoreFails(t *testing.T) {
	store := &fakeStore{templates: []models.PromptTemplate{
		{ID: "1", Category: models.CategorySystem, LanguageCode: "en", Template: "x", Version: 1, IsActive: true},
	}}
	engine := newTestEngine(store)
	ctx := context.Background()

	if _, err := engine.Get(ctx, models.CategorySystem, "en"); err != nil {
		t.Fatalf("priming Get failed: %v", err)
	}

	// Force staleness and a failing store.
	engine.mu.Lock()
	engine.refreshedAt = engine.refreshedAt.Add(-2 * refreshInterval)
	engine.mu.Unlock()
	store.loadErr = errors.New("store down")

	if _, err := engine.Get(ctx, models.CategorySystem, "en"); err != nil {
		t.Fatalf("expected stale snapshot to be served, got %v", err)
	}
}
