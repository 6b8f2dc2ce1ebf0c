package resolvers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/gophsync/internal/common"
)

// Registry maps resolver names to resolvers.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// NewDefaultRegistry returns a registry with the built-in resolvers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, res := range []Resolver{CommentFile(), AppendLines()} {
		if err := r.Register(res); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds res under its name. A name can be registered once.
func (r *Registry) Register(res Resolver) error {
	name := res.Name()
	if name == "" {
		return fmt.Errorf("resolver without name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resolvers[name]; ok {
		return fmt.Errorf("%s: %w", name, common.ErrDuplicateResolver)
	}
	r.resolvers[name] = res
	return nil
}

func (r *Registry) Lookup(name string) (Resolver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, common.ErrUnknownResolver)
	}
	return res, nil
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.resolvers))
	for name := range r.resolvers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
