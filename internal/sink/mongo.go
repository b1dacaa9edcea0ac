package sink

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mstreamhq/mstream/internal/model"
)

// MongoSink writes single documents or batches per the collection's
// write_mode, per spec.md §4.6. A framed {items: [...]} batch is split
// into its items, which are written as separate documents through one
// InsertMany or BulkWrite call. The wire format Mongo requires is always
// BSON; when an upstream step hands it a different encoding, it transcodes
// via Schema before writing, per spec.md §4.3/§4.4.
type MongoSink struct {
	Name       string
	Collection *mongo.Collection
	WriteMode  model.WriteMode
	Schema     *model.SchemaRecord // only needed when the incoming encoding is Avro
	Retry      RetryPolicy
}

func (s *MongoSink) Write(ctx context.Context, rec *model.PipelineRecord) model.Acknowledgement {
	err := s.Retry.Do(ctx, func() error { return s.write(ctx, rec) })
	return model.Acknowledgement{SinkName: s.Name, Err: err}
}

func (s *MongoSink) write(ctx context.Context, rec *model.PipelineRecord) error {
	value, _, err := targetEncoding(s.Name, rec, model.EncodingBSON, s.Schema)
	if err != nil {
		return err
	}
	docs := splitBatch(value, model.EncodingBSON)
	if s.WriteMode == model.WriteModeReplace {
		return s.replaceAll(ctx, docs)
	}
	return s.insertAll(ctx, docs)
}

func (s *MongoSink) insertAll(ctx context.Context, docs [][]byte) error {
	if len(docs) == 1 {
		_, err := s.Collection.InsertOne(ctx, bson.Raw(docs[0]))
		return s.classify(err)
	}
	ifaces := make([]interface{}, len(docs))
	for i, d := range docs {
		ifaces[i] = bson.Raw(d)
	}
	_, err := s.Collection.InsertMany(ctx, ifaces)
	return s.classify(err)
}

func (s *MongoSink) replaceAll(ctx context.Context, docs [][]byte) error {
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		raw := bson.Raw(d)
		id := raw.Lookup("_id")
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": id}).
			SetReplacement(raw).
			SetUpsert(true))
	}
	_, err := s.Collection.BulkWrite(ctx, models)
	return s.classify(err)
}

func (s *MongoSink) classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return &model.SinkPermanentError{SinkName: s.Name, Err: err}
	}
	return err
}

func (s *MongoSink) Close() error {
	return nil
}
