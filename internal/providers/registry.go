package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/marketbot/relay/internal/config"
)

// Registry holds constructed providers keyed by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// Names returns registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromConfig builds a registry from the configured provider credentials.
// Providers without an API key are skipped; the echo provider is always
// available for dev and tests.
func FromConfig(cfg *config.Config) *Registry {
	r := NewRegistry()
	r.Register(NewEchoProvider())

	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		r.Register(NewAnthropicProvider(key,
			WithAnthropicBaseURL(cfg.Providers.Anthropic.APIBase)))
	}
	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		r.Register(NewOpenAIProvider(key,
			WithOpenAIBaseURL(cfg.Providers.OpenAI.APIBase)))
	}
	if key := cfg.Providers.OpenRouter.APIKey; key != "" {
		r.Register(NewOpenRouterProvider(key,
			WithOpenAIBaseURL(cfg.Providers.OpenRouter.APIBase)))
	}
	if key := cfg.Providers.Gemini.APIKey; key != "" {
		// Gemini exposes an OpenAI-compatible endpoint.
		base := cfg.Providers.Gemini.APIBase
		if base == "" {
			base = "https://generativelanguage.googleapis.com/v1beta/openai"
		}
		r.Register(NewOpenAIProvider(key,
			WithOpenAIName("gemini"),
			WithOpenAIBaseURL(base),
			WithOpenAIModel("gemini-2.5-flash")))
	}

	return r
}
