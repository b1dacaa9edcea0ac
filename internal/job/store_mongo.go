package job

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mstreamhq/mstream/internal/model"
)

// lifecycleDoc wraps one persisted ConnectorSpec keyed by its name, the
// same {_id, ...} shape checkpoint.MongoStore uses for checkpoints.
type lifecycleDoc struct {
	ID   string             `bson:"_id"`
	Spec model.ConnectorSpec `bson:"spec"`
}

// MongoLifecycleStore persists the set of connector specs the job manager
// runs in Collection, one document per job, per spec.md §4.8.
type MongoLifecycleStore struct {
	Collection *mongo.Collection
}

func (s *MongoLifecycleStore) LoadAll(ctx context.Context) ([]model.ConnectorSpec, error) {
	cur, err := s.Collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("job: loading lifecycle specs: %w", err)
	}
	defer cur.Close(ctx)

	var specs []model.ConnectorSpec
	for cur.Next(ctx) {
		var doc lifecycleDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("job: decoding lifecycle spec: %w", err)
		}
		specs = append(specs, doc.Spec)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("job: iterating lifecycle specs: %w", err)
	}
	return specs, nil
}

func (s *MongoLifecycleStore) SaveAll(ctx context.Context, specs []model.ConnectorSpec) error {
	if _, err := s.Collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("job: clearing lifecycle store: %w", err)
	}
	if len(specs) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(specs))
	for _, spec := range specs {
		docs = append(docs, lifecycleDoc{ID: spec.Name, Spec: spec})
	}
	if _, err := s.Collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("job: saving lifecycle specs: %w", err)
	}
	return nil
}

// NoopLifecycleStore is used when [system.job_lifecycle] has no collection
// configured: the config file's connectors are the sole source of truth
// and reconciliation becomes a pass-through.
type NoopLifecycleStore struct{}

func (NoopLifecycleStore) LoadAll(ctx context.Context) ([]model.ConnectorSpec, error) { return nil, nil }
func (NoopLifecycleStore) SaveAll(ctx context.Context, specs []model.ConnectorSpec) error {
	return nil
}
