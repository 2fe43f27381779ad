package providers

import (
	"fmt"
	"sort"
	"sync"

	"ArticleReview/internal/ports"
)

// Registry keeps a mapping from evaluator provider names to implementations.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]ports.Evaluator
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{evaluators: map[string]ports.Evaluator{}}
}

// Register adds or replaces an evaluator implementation.
func (r *Registry) Register(evaluator ports.Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.evaluators == nil {
		r.evaluators = map[string]ports.Evaluator{}
	}
	r.evaluators[evaluator.Name()] = evaluator
}

// Resolve returns an evaluator by name or an error if it is absent.
func (r *Registry) Resolve(name string) (ports.Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if evaluator, ok := r.evaluators[name]; ok {
		return evaluator, nil
	}
	return nil, fmt.Errorf("evaluator provider %s is not registered (have %v)", name, r.namesLocked())
}

// Names lists registered providers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.evaluators))
	for name := range r.evaluators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
