package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/mstreamhq/mstream/internal/model"
	"github.com/mstreamhq/mstream/internal/service"
)

// mongoClient holds the shared *mongo.Client a ServiceDescriptor's database
// lives under, handed to MongoSource/MongoSink/checkpoint.MongoStore/
// job.MongoLifecycleStore/schema.MongoFetcher by name.
type mongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

func (c *mongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// kafkaClient holds one shared producer. Sources open their own consumer
// per job on Open() instead, since confluent-kafka-go consumers are not
// safe to share across independent consumer-group memberships.
type kafkaClient struct {
	producer *kafka.Producer
}

func (c *kafkaClient) Close() error {
	c.producer.Flush(15 * 1000)
	c.producer.Close()
	return nil
}

type pubsubClient struct {
	client *pubsub.Client
	schema *pubsub.SchemaClient
}

func (c *pubsubClient) Close() error {
	if c.schema != nil {
		c.schema.Close()
	}
	return c.client.Close()
}

type httpClient struct {
	client *http.Client
}

func (c *httpClient) Close() error { return nil }

// serviceFactories builds the per-provider service.Factory map main()
// registers with the shared client registry, one factory per provider a
// ConnectorSpec can reference as a source, middleware, or sink.
func serviceFactories() map[model.Provider]service.Factory {
	return map[model.Provider]service.Factory{
		model.ProviderMongo:  mongoFactory,
		model.ProviderKafka:  kafkaFactory,
		model.ProviderPubSub: pubsubFactory,
		model.ProviderHTTP:   httpFactory,
	}
}

func mongoFactory(ctx context.Context, desc model.ServiceDescriptor) (service.Client, error) {
	timeout := time.Duration(desc.ConnectionTimeoutSec) * time.Second
	opts := options.Client().ApplyURI(desc.ConnectionString).SetConnectTimeout(timeout)
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo service %q: %w", desc.Name, err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("pinging mongo service %q: %w", desc.Name, err)
	}
	return &mongoClient{client: client, db: client.Database(desc.DBName)}, nil
}

func kafkaFactory(ctx context.Context, desc model.ServiceDescriptor) (service.Client, error) {
	cfg := &kafka.ConfigMap{}
	for k, v := range desc.ClientConfig {
		if err := cfg.SetKey(k, v); err != nil {
			return nil, fmt.Errorf("kafka service %q: invalid client_config key %q: %w", desc.Name, k, err)
		}
	}
	producer, err := kafka.NewProducer(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer for %q: %w", desc.Name, err)
	}
	return &kafkaClient{producer: producer}, nil
}

func pubsubFactory(ctx context.Context, desc model.ServiceDescriptor) (service.Client, error) {
	projectID := desc.ClientConfig["project_id"]
	if projectID == "" {
		return nil, fmt.Errorf("pubsub service %q: client_config.project_id is required", desc.Name)
	}
	var opts []option.ClientOption
	switch desc.PubSubAuth.Kind {
	case "service_account":
		if desc.PubSubAuth.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(desc.PubSubAuth.CredentialsFile))
		} else {
			opts = append(opts, option.WithCredentialsJSON([]byte(desc.PubSubAuth.Credentials)))
		}
	case "static_token":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: desc.PubSubAuth.Token})
		opts = append(opts, option.WithTokenSource(ts))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client for %q: %w", desc.Name, err)
	}
	schemaClient, err := pubsub.NewSchemaClient(ctx, projectID, opts...)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("creating pubsub schema client for %q: %w", desc.Name, err)
	}
	return &pubsubClient{client: client, schema: schemaClient}, nil
}

func httpFactory(ctx context.Context, desc model.ServiceDescriptor) (service.Client, error) {
	timeout := time.Duration(desc.TimeoutSec) * time.Second
	return &httpClient{client: &http.Client{Timeout: timeout}}, nil
}

// pubsubSchemaAdapter implements schema.PubSubSchemaClient against the
// real Pub/Sub Schema Registry client.
type pubsubSchemaAdapter struct {
	client *pubsub.SchemaClient
}

func (a *pubsubSchemaAdapter) SchemaDefinition(ctx context.Context, name string) (string, error) {
	s, err := a.client.Schema(ctx, name, pubsub.SchemaViewFull)
	if err != nil {
		return "", fmt.Errorf("fetching pubsub schema %q: %w", name, err)
	}
	return s.Definition, nil
}
