package checkpoint

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mstreamhq/mstream/internal/model"
)

// checkpointDoc is the Mongo document shape spec.md §6 names: {_id,
// token, updated_at, source_ts}.
type checkpointDoc struct {
	ID        string    `bson:"_id"`
	Token     []byte    `bson:"token"`
	UpdatedAt time.Time `bson:"updated_at"`
	SourceTS  time.Time `bson:"source_ts"`
}

// MongoStore persists one checkpoint document per job in Collection,
// upserting on every Save, per spec.md §4.7.
type MongoStore struct {
	Collection *mongo.Collection
}

func (s *MongoStore) Load(ctx context.Context, jobName string) (*Record, error) {
	var doc checkpointDoc
	err := s.Collection.FindOne(ctx, bson.M{"_id": jobName}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: loading %q: %w", jobName, err)
	}
	return &Record{Token: model.CheckpointToken(doc.Token), SourceTS: &doc.SourceTS}, nil
}

func (s *MongoStore) Save(ctx context.Context, jobName string, rec Record) error {
	doc := bson.M{
		"token":      []byte(rec.Token),
		"updated_at": time.Now(),
	}
	if rec.SourceTS != nil {
		doc["source_ts"] = *rec.SourceTS
	}
	_, err := s.Collection.UpdateOne(ctx,
		bson.M{"_id": jobName},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("checkpoint: saving %q: %w", jobName, err)
	}
	return nil
}

// NoopStore is used for connectors with checkpoint_enabled = false, per
// spec.md §4.7. Sources with no durable resume point (Pub/Sub) emit empty
// tokens, which the driver's commit loop skips before calling any Store.
type NoopStore struct{}

func (NoopStore) Load(ctx context.Context, jobName string) (*Record, error) { return nil, nil }
func (NoopStore) Save(ctx context.Context, jobName string, rec Record) error { return nil }
