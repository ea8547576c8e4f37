package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
)

// Constructor builds an LLM from a provider config.
type Constructor func(cfg *dbrheoconfig.LLMProviderConfig) (LLM, error)

var (
	constructorsMu sync.RWMutex
	constructors   = map[Provider]Constructor{}
)

// RegisterConstructor registers ctor for provider, called from provider
// subpackages' init() the same way pkg/llms/registry.go self-registers.
func RegisterConstructor(p Provider, ctor Constructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[p] = ctor
}

// Factory builds LLM instances from configuration, caching one instance
// per logical name (config key) so repeated lookups reuse the same
// underlying transport.
type Factory struct {
	mu    sync.Mutex
	cache map[string]LLM
}

// NewFactory constructs an empty Factory.
func NewFactory() *Factory { return &Factory{cache: make(map[string]LLM)} }

// Get returns the LLM for the named provider config, constructing it on
// first use. Dispatch is on model-name prefix, exactly as the teacher's
// pkg/llms/registry.go does; an unrecognized prefix defaults to Gemini
// with a logged warning rather than failing outright.
func (f *Factory) Get(name string, cfg *dbrheoconfig.LLMProviderConfig) (LLM, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.cache[name]; ok {
		return existing, nil
	}

	provider := ResolveProvider(cfg.Type, cfg.Model)

	constructorsMu.RLock()
	ctor, ok := constructors[provider]
	constructorsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no LLM constructor registered for provider %q", provider)
	}

	inst, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("constructing LLM %q: %w", name, err)
	}
	f.cache[name] = inst
	return inst, nil
}

// ResolveProvider maps an explicit type or a model-name prefix to a
// Provider, defaulting unknown prefixes to Gemini with a warning.
func ResolveProvider(explicitType, model string) Provider {
	switch strings.ToLower(explicitType) {
	case "openai":
		return ProviderOpenAI
	case "anthropic":
		return ProviderAnthropic
	case "gemini":
		return ProviderGemini
	}

	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return ProviderOpenAI
	case strings.HasPrefix(m, "claude-"), strings.HasPrefix(m, "sonnet"), strings.HasPrefix(m, "opus"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "gemini-"):
		return ProviderGemini
	default:
		slog.Warn("unrecognized model prefix, defaulting to gemini", "model", model)
		return ProviderGemini
	}
}
