package ai

import (
	"fmt"

	"go.uber.org/zap"
)

// Registry maps provider names to constructed adapters. It is populated
// once at process start and read-only afterwards; providers with no
// credential are simply absent.
type Registry struct {
	providers   map[string]Provider
	defaultName string
	logger      *zap.Logger
}

func NewRegistry(defaultName string, logger *zap.Logger) *Registry {
	return &Registry{
		providers:   make(map[string]Provider),
		defaultName: defaultName,
		logger:      logger,
	}
}

// Register adds a constructed adapter. Call only during startup.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
	r.logger.Info("registered AI provider",
		zap.String("provider", p.Name()),
		zap.String("defaultModel", p.DefaultModel()))
}

// Get resolves a provider by name; an empty name means the configured
// default. No failover is attempted: an unregistered name fails.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, &Error{
			Kind:    KindProviderUnavailable,
			Message: fmt.Sprintf("provider %q is not configured", name),
		}
	}
	return p, nil
}

// Transcriber returns the one registered provider with the audio
// capability, or false if none has it.
func (r *Registry) Transcriber() (Transcriber, bool) {
	for _, p := range r.providers {
		if t, ok := p.(Transcriber); ok {
			return t, true
		}
	}
	return nil, false
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
