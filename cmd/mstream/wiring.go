package main

import (
	"context"
	"fmt"

	"github.com/mstreamhq/mstream/internal/batch"
	"github.com/mstreamhq/mstream/internal/checkpoint"
	"github.com/mstreamhq/mstream/internal/config"
	"github.com/mstreamhq/mstream/internal/driver"
	"github.com/mstreamhq/mstream/internal/metrics"
	"github.com/mstreamhq/mstream/internal/middleware"
	"github.com/mstreamhq/mstream/internal/model"
	"github.com/mstreamhq/mstream/internal/schema"
	"github.com/mstreamhq/mstream/internal/service"
	"github.com/mstreamhq/mstream/internal/sink"
	"github.com/mstreamhq/mstream/internal/source"
)

// wirer holds everything a ConnectorSpec is wired against: the declared
// services, the shared client registry, and the process-lifetime schema
// cache. Its buildDriver method is the job.DriverFactory cmd/mstream hands
// to job.NewManager. Every sink and HTTP middleware it builds gets the
// job's metrics.JobScope wired into its RetryPolicy, so an absorbed retry
// attempt bumps total_errors even when the job itself never fails.
type wirer struct {
	cfg      *config.Config
	registry *service.Registry
	schemas  *schema.Cache
}

func (w *wirer) buildDriver(ctx context.Context, spec model.ConnectorSpec, scope *metrics.JobScope) (*driver.Driver, error) {
	srcDesc, ok := w.cfg.Services[spec.Source.Ref.ServiceName]
	if !ok {
		return nil, &model.ConfigError{Connector: spec.Name, Reason: fmt.Sprintf("source service %q not declared", spec.Source.Ref.ServiceName)}
	}
	src, err := w.buildSource(ctx, srcDesc)
	if err != nil {
		return nil, fmt.Errorf("connector %q: %w", spec.Name, err)
	}

	onAttemptError := func(error) { scope.RecordError() }

	chain, finalEncoding, err := w.buildMiddlewares(ctx, &spec, onAttemptError)
	if err != nil {
		return nil, fmt.Errorf("connector %q: %w", spec.Name, err)
	}

	sinks, err := w.buildSinks(ctx, &spec, onAttemptError)
	if err != nil {
		return nil, fmt.Errorf("connector %q: %w", spec.Name, err)
	}

	store, err := w.buildCheckpointStore(ctx, &spec)
	if err != nil {
		return nil, fmt.Errorf("connector %q: %w", spec.Name, err)
	}

	return &driver.Driver{
		JobName:       spec.Name,
		Source:        src,
		SourceRef:     spec.Source.Ref,
		InputEncoding: spec.Source.InputEncoding,
		Batcher:       w.buildBatcher(&spec),
		Middlewares:   chain,
		Sinks:         sinks,
		Checkpoints:   store,
		FinalEncoding: finalEncoding,
	}, nil
}

func (w *wirer) buildSource(ctx context.Context, desc model.ServiceDescriptor) (source.Source, error) {
	client, err := w.registry.Get(ctx, desc)
	if err != nil {
		return nil, err
	}
	switch desc.Provider {
	case model.ProviderMongo:
		return &source.MongoSource{Database: client.(*mongoClient).db}, nil
	case model.ProviderKafka:
		return &source.KafkaSource{Service: desc}, nil
	case model.ProviderPubSub:
		return &source.PubSubSource{Client: client.(*pubsubClient).client}, nil
	default:
		return nil, fmt.Errorf("service %q: provider %q cannot act as a source", desc.Name, desc.Provider)
	}
}

// buildMiddlewares wires the chain in declared order, threading the
// effective encoding/schema inherited from the previous step exactly as
// model.ConnectorSpec.Validate checks it, and returns the last step's
// declared output_encoding (the source's, if there are no middlewares) as
// the driver's FinalEncoding.
func (w *wirer) buildMiddlewares(ctx context.Context, spec *model.ConnectorSpec, onAttemptError func(error)) (middleware.Chain, model.Encoding, error) {
	upstreamEnc := spec.Source.OutputEncoding
	upstreamSchema := spec.Source.SchemaID

	steps := make([]middleware.Middleware, 0, len(spec.Middlewares))
	for i, mw := range spec.Middlewares {
		desc, ok := w.cfg.Services[mw.Ref.ServiceName]
		if !ok {
			return middleware.Chain{}, "", &model.ConfigError{Connector: spec.Name, Reason: fmt.Sprintf("middleware[%d] service %q not declared", i, mw.Ref.ServiceName)}
		}

		outputSchemaID := upstreamSchema
		if mw.SchemaID != "" {
			outputSchemaID = mw.SchemaID
		}
		inputSchema, err := w.resolveSchema(ctx, spec, upstreamSchema)
		if err != nil {
			return middleware.Chain{}, "", fmt.Errorf("middleware[%d]: %w", i, err)
		}
		outputSchema, err := w.resolveSchema(ctx, spec, outputSchemaID)
		if err != nil {
			return middleware.Chain{}, "", fmt.Errorf("middleware[%d]: %w", i, err)
		}

		step, err := w.buildMiddleware(ctx, desc, mw, upstreamEnc, inputSchema, outputSchema, onAttemptError)
		if err != nil {
			return middleware.Chain{}, "", fmt.Errorf("middleware[%d]: %w", i, err)
		}
		steps = append(steps, step)

		upstreamEnc = mw.OutputEncoding
		upstreamSchema = outputSchemaID
	}
	return middleware.Chain{Steps: steps}, upstreamEnc, nil
}

func (w *wirer) buildMiddleware(ctx context.Context, desc model.ServiceDescriptor, step model.StepSpec, inputEnc model.Encoding, inputSchema, outputSchema *model.SchemaRecord, onAttemptError func(error)) (middleware.Middleware, error) {
	switch desc.Provider {
	case model.ProviderUDF:
		return &middleware.ScriptMiddleware{
			ServiceName:    desc.Name,
			Resource:       step.Ref.Resource,
			ScriptPath:     desc.ScriptPath,
			InputEncoding:  inputEnc,
			InputSchema:    inputSchema,
			OutputEncoding: step.OutputEncoding,
			OutputSchema:   outputSchema,
		}, nil
	case model.ProviderHTTP:
		client, err := w.registry.Get(ctx, desc)
		if err != nil {
			return nil, err
		}
		return &middleware.HTTPMiddleware{
			Client:   client.(*httpClient).client,
			Host:     desc.Host,
			Resource: step.Ref.Resource,
			Retry:    sink.NewRetryPolicy(desc, onAttemptError),
		}, nil
	default:
		return nil, fmt.Errorf("service %q: provider %q cannot act as a middleware", desc.Name, desc.Provider)
	}
}

func (w *wirer) buildSinks(ctx context.Context, spec *model.ConnectorSpec, onAttemptError func(error)) ([]sink.Sink, error) {
	upstreamSchema := spec.Source.SchemaID
	for _, mw := range spec.Middlewares {
		if mw.SchemaID != "" {
			upstreamSchema = mw.SchemaID
		}
	}

	sinks := make([]sink.Sink, 0, len(spec.Sinks))
	for i, sk := range spec.Sinks {
		desc, ok := w.cfg.Services[sk.Ref.ServiceName]
		if !ok {
			return nil, &model.ConfigError{Connector: spec.Name, Reason: fmt.Sprintf("sink[%d] service %q not declared", i, sk.Ref.ServiceName)}
		}
		schemaID := upstreamSchema
		if sk.SchemaID != "" {
			schemaID = sk.SchemaID
		}
		rec, err := w.resolveSchema(ctx, spec, schemaID)
		if err != nil {
			return nil, fmt.Errorf("sink[%d]: %w", i, err)
		}
		s, err := w.buildSink(ctx, desc, sk, rec, onAttemptError)
		if err != nil {
			return nil, fmt.Errorf("sink[%d]: %w", i, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func (w *wirer) buildSink(ctx context.Context, desc model.ServiceDescriptor, step model.StepSpec, rec *model.SchemaRecord, onAttemptError func(error)) (sink.Sink, error) {
	client, err := w.registry.Get(ctx, desc)
	if err != nil {
		return nil, err
	}
	switch desc.Provider {
	case model.ProviderMongo:
		mc := client.(*mongoClient)
		return &sink.MongoSink{
			Name:       desc.Name + "/" + step.Ref.Resource,
			Collection: mc.db.Collection(step.Ref.Resource),
			WriteMode:  desc.WriteMode,
			Schema:     rec,
			Retry:      sink.NewRetryPolicy(desc, onAttemptError),
		}, nil
	case model.ProviderKafka:
		kc := client.(*kafkaClient)
		return &sink.KafkaSink{
			Name:           desc.Name + "/" + step.Ref.Resource,
			Producer:       kc.producer,
			Topic:          step.Ref.Resource,
			OutputEncoding: step.OutputEncoding,
			Schema:         rec,
			Retry:          sink.NewRetryPolicy(desc, onAttemptError),
		}, nil
	case model.ProviderPubSub:
		pc := client.(*pubsubClient)
		return &sink.PubSubSink{
			Name:           desc.Name + "/" + step.Ref.Resource,
			Topic:          pc.client.Topic(step.Ref.Resource),
			OutputEncoding: step.OutputEncoding,
			Schema:         rec,
			Retry:          sink.NewRetryPolicy(desc, onAttemptError),
		}, nil
	case model.ProviderHTTP:
		hc := client.(*httpClient)
		return &sink.HTTPSink{
			Name:           desc.Name + "/" + step.Ref.Resource,
			Client:         hc.client,
			Host:           desc.Host,
			Resource:       step.Ref.Resource,
			OutputEncoding: step.OutputEncoding,
			Schema:         rec,
			Retry:          sink.NewRetryPolicy(desc, onAttemptError),
		}, nil
	default:
		return nil, fmt.Errorf("service %q: provider %q cannot act as a sink", desc.Name, desc.Provider)
	}
}

// buildBatcher frames batches as a single {items: [...]} BSON document
// when the connector's one and only sink is Mongo, and as an array in the
// source's declared output_encoding otherwise. A connector fanning out a
// batch to sinks of genuinely mixed encodings keeps array framing for all
// of them; per-sink re-framing is not implemented (spec.md §4.4's known
// gap list already accepts a narrower time-bound batch trigger as unbuilt,
// and this is the same class of simplification).
func (w *wirer) buildBatcher(spec *model.ConnectorSpec) *batch.Batcher {
	if spec.Batch == nil {
		return nil
	}
	sinkIsMongo := len(spec.Sinks) == 1 && w.cfg.Services[spec.Sinks[0].Ref.ServiceName].Provider == model.ProviderMongo
	return &batch.Batcher{
		Size:           spec.Batch.Size,
		OutputEncoding: spec.Source.OutputEncoding,
		SinkIsMongo:    sinkIsMongo,
	}
}

func (w *wirer) buildCheckpointStore(ctx context.Context, spec *model.ConnectorSpec) (checkpoint.Store, error) {
	if !spec.CheckpointEnabled {
		return checkpoint.NoopStore{}, nil
	}
	cpCfg := w.cfg.System.Checkpoints
	if cpCfg.ServiceName == "" || cpCfg.Collection == "" {
		return nil, &model.ConfigError{Connector: spec.Name, Reason: "checkpoint_enabled is true but [system.checkpoints] has no service_name/collection configured"}
	}
	desc, ok := w.cfg.Services[cpCfg.ServiceName]
	if !ok {
		return nil, &model.ConfigError{Connector: spec.Name, Reason: fmt.Sprintf("[system.checkpoints] service_name %q not declared", cpCfg.ServiceName)}
	}
	client, err := w.registry.Get(ctx, desc)
	if err != nil {
		return nil, err
	}
	mc, ok := client.(*mongoClient)
	if !ok {
		return nil, &model.ConfigError{Connector: spec.Name, Reason: fmt.Sprintf("[system.checkpoints] service_name %q is not a mongodb service", cpCfg.ServiceName)}
	}
	return &checkpoint.MongoStore{Collection: mc.db.Collection(cpCfg.Collection)}, nil
}

// resolveSchema looks up schemaID through the connector's declared schema
// bindings and fetches it from the shared process-lifetime cache. An empty
// schemaID is not an error: most steps never touch Avro.
func (w *wirer) resolveSchema(ctx context.Context, spec *model.ConnectorSpec, schemaID model.SchemaID) (*model.SchemaRecord, error) {
	if schemaID == "" {
		return nil, nil
	}
	ref, ok := spec.Schemas[schemaID]
	if !ok {
		return nil, &model.ConfigError{Connector: spec.Name, Reason: fmt.Sprintf("schema_id %q does not resolve against [[connectors.schemas]]", schemaID)}
	}
	return w.schemas.Get(ctx, ref)
}
