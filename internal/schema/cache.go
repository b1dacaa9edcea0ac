// Package schema implements the content-addressed Avro schema cache keyed
// by (service, resource), described in spec.md §4.2: lazy load on first
// miss, concurrent-safe, coalesced fetches, process-lifetime retention.
package schema

import (
	"context"
	"fmt"
	"sync"

	"github.com/amient/avro"

	"github.com/mstreamhq/mstream/internal/model"
)

// Fetcher retrieves the raw Avro schema text for a resource from its
// backing service — the Pub/Sub Schema Registry or a Mongo schema
// collection document, depending on the service's provider.
type Fetcher interface {
	Fetch(ctx context.Context, ref model.ResourceReference) (string, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, ref model.ResourceReference) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, ref model.ResourceReference) (string, error) {
	return f(ctx, ref)
}

type cacheKey model.ResourceReference

// Cache is a single-flight-coalescing, append-only map of SchemaRecord
// keyed by (service, resource). Entries are never mutated once populated;
// a Replace swaps the whole entry.
type Cache struct {
	fetcher Fetcher

	mu      sync.Mutex
	entries map[cacheKey]*model.SchemaRecord
	inFlight map[cacheKey]*sync.WaitGroup
}

// New builds a schema cache backed by fetcher.
func New(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher:  fetcher,
		entries:  make(map[cacheKey]*model.SchemaRecord),
		inFlight: make(map[cacheKey]*sync.WaitGroup),
	}
}

// Get returns the cached SchemaRecord for ref, fetching and parsing it on
// first demand. Concurrent misses for the same key coalesce into a single
// upstream fetch.
func (c *Cache) Get(ctx context.Context, ref model.ResourceReference) (*model.SchemaRecord, error) {
	key := cacheKey(ref)

	c.mu.Lock()
	if rec, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return rec, nil
	}
	if wg, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		wg.Wait()
		c.mu.Lock()
		rec, ok := c.entries[key]
		c.mu.Unlock()
		if !ok {
			return nil, &model.SchemaError{Kind: model.SchemaFetch, Detail: fmt.Sprintf("coalesced fetch for %s/%s failed", ref.ServiceName, ref.Resource)}
		}
		return rec, nil
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	c.inFlight[key] = wg
	c.mu.Unlock()

	rec, err := c.load(ctx, ref)

	c.mu.Lock()
	if err == nil {
		c.entries[key] = rec
	}
	delete(c.inFlight, key)
	c.mu.Unlock()
	wg.Done()

	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Cache) load(ctx context.Context, ref model.ResourceReference) (*model.SchemaRecord, error) {
	text, err := c.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, &model.SchemaError{Kind: model.SchemaFetch, Detail: fmt.Sprintf("%s/%s", ref.ServiceName, ref.Resource), Err: err}
	}
	parsed, err := avro.ParseSchema(text)
	if err != nil {
		return nil, &model.SchemaError{Kind: model.SchemaValidation, Detail: fmt.Sprintf("%s/%s: invalid avro schema", ref.ServiceName, ref.Resource), Err: err}
	}
	return &model.SchemaRecord{
		Ref:    ref,
		Text:   text,
		Fields: fieldNames(parsed),
		Avro:   parsed,
	}, nil
}

// Replace swaps the cache entry for ref with a freshly loaded one. Entries
// are never edited in place, only replaced wholesale (spec.md §3).
func (c *Cache) Replace(ctx context.Context, ref model.ResourceReference) (*model.SchemaRecord, error) {
	rec, err := c.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[cacheKey(ref)] = rec
	c.mu.Unlock()
	return rec, nil
}

func fieldNames(schema avro.Schema) []string {
	rec, ok := schema.(*avro.RecordSchema)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(rec.Fields))
	for _, f := range rec.Fields {
		names = append(names, f.Name)
	}
	return names
}
