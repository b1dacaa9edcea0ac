package source

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mstreamhq/mstream/internal/model"
)

// changeEvent mirrors the subset of a MongoDB change-stream document this
// adapter cares about.
type changeEvent struct {
	OperationType string      `bson:"operationType"`
	FullDocument  bson.Raw    `bson:"fullDocument"`
	DocumentKey   bson.Raw    `bson:"documentKey"`
	ClusterTime   interface{} `bson:"clusterTime"`
	WallTime      *time.Time  `bson:"wallTime"`
	Ns            struct {
		DB   string `bson:"db"`
		Coll string `bson:"coll"`
	} `bson:"ns"`
}

// fatalOperations are the change-stream control events that terminate the
// stream without a checkpoint for the triggering event, per spec.md §4.1.
var fatalOperations = map[string]bool{
	"invalidate":   true,
	"drop":         true,
	"dropDatabase": true,
}

// MongoSource opens change streams against a single database.
type MongoSource struct {
	Database *mongo.Database
}

func (s *MongoSource) Open(ctx context.Context, ref model.ResourceReference, inputEncoding model.Encoding, checkpoint model.CheckpointToken) (Stream, error) {
	coll := s.Database.Collection(ref.Resource)
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if len(checkpoint) > 0 {
		opts.SetResumeAfter(bson.Raw(checkpoint))
	} else {
		opts.SetStartAtOperationTime(nil)
	}
	cs, err := coll.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return nil, fmt.Errorf("source: opening change stream on %s.%s: %w", s.Database.Name(), ref.Resource, err)
	}
	return &mongoStream{cs: cs, db: s.Database.Name(), coll: ref.Resource}, nil
}

type mongoStream struct {
	cs   *mongo.ChangeStream
	db   string
	coll string
}

func (m *mongoStream) Next(ctx context.Context) (*model.SourceEvent, error) {
	if !m.cs.Next(ctx) {
		if err := m.cs.Err(); err != nil {
			return nil, fmt.Errorf("source: change stream error: %w", err)
		}
		return nil, ErrStreamClosed
	}

	var ev changeEvent
	if err := m.cs.Decode(&ev); err != nil {
		return nil, fmt.Errorf("source: decoding change event: %w", err)
	}

	token := model.CheckpointToken(m.cs.ResumeToken())

	if fatalOperations[ev.OperationType] {
		return nil, &model.FatalSourceError{Reason: fmt.Sprintf("mongo change stream %s event on %s.%s", ev.OperationType, m.db, m.coll)}
	}

	payload := ev.FullDocument
	if ev.OperationType == model.OpDelete {
		payload = ev.DocumentKey
	}

	sourceTS := ev.WallTime
	if sourceTS == nil {
		now := time.Now()
		sourceTS = &now
	}

	return &model.SourceEvent{
		Payload:  payload,
		Encoding: model.EncodingBSON,
		Attributes: map[string]string{
			model.AttrOperationType: ev.OperationType,
			model.AttrDatabase:      ev.Ns.DB,
			model.AttrCollection:    ev.Ns.Coll,
		},
		SourceTS:   sourceTS,
		Checkpoint: token,
	}, nil
}

func (m *mongoStream) Close() error {
	return m.cs.Close(context.Background())
}
