// Package service implements the reference-counted shared client registry
// spec.md §5 ("Shared resources") and §4.11 describe: one long-lived client
// per ServiceDescriptor, shared by every job supervisor that references it.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/mstreamhq/mstream/internal/model"
)

// Client is anything the registry can create once and hand out
// ref-counted: a *mongo.Client, *kafka.Consumer/Producer, *pubsub.Client,
// or *http.Client, held as an opaque handle by the registry.
type Client interface {
	Close() error
}

// Factory builds a new Client for a ServiceDescriptor. One Factory is
// registered per Provider in cmd/mstream/main.go.
type Factory func(ctx context.Context, desc model.ServiceDescriptor) (Client, error)

type entry struct {
	client   Client
	refCount int
}

// Registry hands out one shared Client per ServiceDescriptor name,
// creating it lazily on first Get and closing it once the last Release
// drops its count to zero.
type Registry struct {
	factories map[model.Provider]Factory

	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry(factories map[model.Provider]Factory) *Registry {
	return &Registry{factories: factories, entries: make(map[string]*entry)}
}

// Get returns the shared client for desc, creating it on first request and
// incrementing its reference count on every call thereafter.
func (r *Registry) Get(ctx context.Context, desc model.ServiceDescriptor) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[desc.Name]; ok {
		e.refCount++
		return e.client, nil
	}

	factory, ok := r.factories[desc.Provider]
	if !ok {
		return nil, fmt.Errorf("service: no client factory registered for provider %q", desc.Provider)
	}
	client, err := factory(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("service: creating client for %q: %w", desc.Name, err)
	}
	r.entries[desc.Name] = &entry{client: client, refCount: 1}
	return client, nil
}

// Release decrements the reference count for name, closing and removing
// the client once no job supervisor references it any longer.
func (r *Registry) Release(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return nil
	}
	e.refCount--
	if e.refCount > 0 {
		return nil
	}
	delete(r.entries, name)
	return e.client.Close()
}

// RefCount reports the current reference count for name, for tests and
// diagnostics.
func (r *Registry) RefCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		return e.refCount
	}
	return 0
}
