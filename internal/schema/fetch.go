package schema

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mstreamhq/mstream/internal/model"
)

// schemaDoc is the shape of a schema document in a Mongo schema collection:
// {_id: resource, schema: "<avro json>"}.
type schemaDoc struct {
	ID     string `bson:"_id"`
	Schema string `bson:"schema"`
}

// MongoFetcher reads Avro schema text from a MongoDB schema collection,
// one document per resource, per spec.md §4.2.
type MongoFetcher struct {
	Database *mongo.Database
}

func (f *MongoFetcher) Fetch(ctx context.Context, ref model.ResourceReference) (string, error) {
	var doc schemaDoc
	err := f.Database.Collection("schemas").FindOne(ctx, bson.M{"_id": ref.Resource}).Decode(&doc)
	if err != nil {
		return "", fmt.Errorf("loading schema document %q: %w", ref.Resource, err)
	}
	return doc.Schema, nil
}

// PubSubSchemaClient is the narrow slice of the Pub/Sub Schema Registry API
// the fetcher needs: fetch a schema's definition by its resource name.
type PubSubSchemaClient interface {
	SchemaDefinition(ctx context.Context, name string) (string, error)
}

// PubSubFetcher retrieves Avro schema text from the Pub/Sub Schema
// Registry, per spec.md §4.2.
type PubSubFetcher struct {
	Client PubSubSchemaClient
}

func (f *PubSubFetcher) Fetch(ctx context.Context, ref model.ResourceReference) (string, error) {
	text, err := f.Client.SchemaDefinition(ctx, ref.Resource)
	if err != nil {
		return "", fmt.Errorf("fetching pubsub schema %q: %w", ref.Resource, err)
	}
	return text, nil
}
