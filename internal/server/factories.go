package server

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrDuplicateFactory indicates a tag already has a factory registered.
var ErrDuplicateFactory = errors.New("stage factory already registered")

// FactoryRegistry maps stage tags to the factories that build them, so a
// theme switch can rebuild exactly the theme-tagged stages.
type FactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]StageFactory
}

// NewFactoryRegistry returns an empty registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]StageFactory)}
}

// Register stores the factory for a tag.
func (r *FactoryRegistry) Register(tag string, factory StageFactory) error {
	key := normalizeTag(tag)
	if key == "" {
		return errors.New("stage tag required")
	}
	if factory == nil {
		return errors.New("stage factory required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		return ErrDuplicateFactory
	}
	r.factories[key] = factory
	return nil
}

// MustRegister panics on registration failure.
func (r *FactoryRegistry) MustRegister(tag string, factory StageFactory) {
	if err := r.Register(tag, factory); err != nil {
		panic(err)
	}
}

// Fetch retrieves the factory associated with a tag.
func (r *FactoryRegistry) Fetch(tag string) (StageFactory, bool) {
	key := normalizeTag(tag)
	if key == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[key]
	return factory, ok
}

// Status returns "registered" or "missing" for a tag.
func (r *FactoryRegistry) Status(tag string) string {
	if _, ok := r.Fetch(tag); ok {
		return "registered"
	}
	return "missing"
}

// Keys returns the registered tags in sorted order.
func (r *FactoryRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.factories))
	for key := range r.factories {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns status for a list of tags.
func (r *FactoryRegistry) Snapshot(tags []string) map[string]string {
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		if normalized := normalizeTag(tag); normalized != "" {
			out[normalized] = r.Status(normalized)
		}
	}
	return out
}

func normalizeTag(tag string) string {
	return strings.TrimSpace(tag)
}
