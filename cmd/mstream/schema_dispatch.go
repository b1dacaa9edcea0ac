package main

import (
	"context"
	"fmt"

	"github.com/mstreamhq/mstream/internal/config"
	"github.com/mstreamhq/mstream/internal/model"
	"github.com/mstreamhq/mstream/internal/schema"
	"github.com/mstreamhq/mstream/internal/service"
)

// dispatchFetcher resolves a schema.Fetcher per resource reference's backing
// service, the way wiring.go resolves sources and sinks: Mongo-backed
// resources fetch through a schema collection, Pub/Sub-backed resources
// fetch through the Schema Registry client held by the shared client
// registry.
type dispatchFetcher struct {
	cfg      *config.Config
	registry *service.Registry
}

func (f *dispatchFetcher) Fetch(ctx context.Context, ref model.ResourceReference) (string, error) {
	desc, ok := f.cfg.Services[ref.ServiceName]
	if !ok {
		return "", fmt.Errorf("schema reference service %q not declared", ref.ServiceName)
	}
	client, err := f.registry.Get(ctx, desc)
	if err != nil {
		return "", err
	}
	switch desc.Provider {
	case model.ProviderMongo:
		fetcher := &schema.MongoFetcher{Database: client.(*mongoClient).db}
		return fetcher.Fetch(ctx, ref)
	case model.ProviderPubSub:
		fetcher := &schema.PubSubFetcher{Client: &pubsubSchemaAdapter{client: client.(*pubsubClient).schema}}
		return fetcher.Fetch(ctx, ref)
	default:
		return "", fmt.Errorf("service %q: provider %q has no schema registry", desc.Name, desc.Provider)
	}
}
