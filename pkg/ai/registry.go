package ai

import (
	"fmt"
	"strings"
)

// ModelDescriptor identifies a selectable model and the provider that serves it.
type ModelDescriptor struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Provider    string `json:"provider" yaml:"provider"`
	// Upstream is the vendor model name. Empty means ID.
	Upstream string `json:"-" yaml:"upstream"`
	// Thinking asks the vendor to stream its reasoning as thinking chunks.
	Thinking bool `json:"thinking,omitempty" yaml:"thinking"`
}

// UpstreamModel returns the name sent to the vendor API.
func (m ModelDescriptor) UpstreamModel() string {
	if strings.TrimSpace(m.Upstream) != "" {
		return strings.TrimSpace(m.Upstream)
	}
	return m.ID
}

// DefaultModelID is the fallback when no default is configured.
const DefaultModelID = "gemini-2.0-flash-lite"

// BuiltinModels is the model table used when configuration supplies none.
func BuiltinModels() []ModelDescriptor {
	return []ModelDescriptor{
		{
			ID:          "gemini-2.0-flash-lite",
			Name:        "Gemini 2.0 Flash Lite",
			Description: "Fast and cost efficient replies",
			Provider:    ProviderGemini,
		},
		{
			ID:          "gemini-2.0-flash",
			Name:        "Gemini 2.0 Flash",
			Description: "Balanced quality and speed",
			Provider:    ProviderGemini,
		},
	}
}

// Registry is an immutable lookup table of models. It is safe for concurrent use.
type Registry struct {
	models   []ModelDescriptor
	index    map[string]int
	fallback int
}

// NewRegistry validates models and builds a registry. An empty defaultID
// selects the first model.
func NewRegistry(models []ModelDescriptor, defaultID string) (*Registry, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("model registry requires at least one model")
	}
	r := &Registry{
		models: make([]ModelDescriptor, 0, len(models)),
		index:  make(map[string]int, len(models)),
	}
	for _, m := range models {
		m.ID = strings.TrimSpace(m.ID)
		m.Provider = strings.TrimSpace(m.Provider)
		if m.ID == "" {
			return nil, fmt.Errorf("model id required")
		}
		if m.Provider == "" {
			return nil, fmt.Errorf("model %s: provider required", m.ID)
		}
		if prev, ok := r.index[m.ID]; ok {
			return nil, fmt.Errorf("model %s declared twice (providers %s and %s)", m.ID, r.models[prev].Provider, m.Provider)
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		r.index[m.ID] = len(r.models)
		r.models = append(r.models, m)
	}
	defaultID = strings.TrimSpace(defaultID)
	if defaultID != "" {
		idx, ok := r.index[defaultID]
		if !ok {
			return nil, fmt.Errorf("default model %s is not registered", defaultID)
		}
		r.fallback = idx
	}
	return r, nil
}

// Resolve returns the descriptor for id, or the default when id is blank or unknown.
func (r *Registry) Resolve(id string) ModelDescriptor {
	if m, ok := r.Lookup(id); ok {
		return m
	}
	return r.Default()
}

// Lookup returns the descriptor for id without falling back.
func (r *Registry) Lookup(id string) (ModelDescriptor, bool) {
	idx, ok := r.index[strings.TrimSpace(id)]
	if !ok {
		return ModelDescriptor{}, false
	}
	return r.models[idx], true
}

// Default returns the fallback descriptor.
func (r *Registry) Default() ModelDescriptor {
	return r.models[r.fallback]
}

// List returns the models in declaration order.
func (r *Registry) List() []ModelDescriptor {
	out := make([]ModelDescriptor, len(r.models))
	copy(out, r.models)
	return out
}
