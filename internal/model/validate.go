package model

import "fmt"

// Validate checks the encoding-chain and schema-inheritance invariants from
// spec.md §3 against the set of declared services. It never runs at job
// runtime — only at config load, per spec.md §7.
func (c *ConnectorSpec) Validate(services map[string]ServiceDescriptor) error {
	if c.Name == "" {
		return &ConfigError{Connector: c.Name, Reason: "name is required"}
	}
	if _, ok := services[c.Source.Ref.ServiceName]; !ok {
		return &ConfigError{Connector: c.Name, Reason: fmt.Sprintf("source service %q not declared", c.Source.Ref.ServiceName)}
	}
	for _, mw := range c.Middlewares {
		if _, ok := services[mw.Ref.ServiceName]; !ok {
			return &ConfigError{Connector: c.Name, Reason: fmt.Sprintf("middleware service %q not declared", mw.Ref.ServiceName)}
		}
	}
	for _, sink := range c.Sinks {
		if _, ok := services[sink.Ref.ServiceName]; !ok {
			return &ConfigError{Connector: c.Name, Reason: fmt.Sprintf("sink service %q not declared", sink.Ref.ServiceName)}
		}
	}
	if c.Batch != nil && c.Batch.Kind != BatchPolicyCount {
		return &ConfigError{Connector: c.Name, Reason: fmt.Sprintf("unsupported batch policy %q", c.Batch.Kind)}
	}
	if c.Batch != nil && c.Batch.Size <= 0 {
		return &ConfigError{Connector: c.Name, Reason: "batch.size must be positive"}
	}
	// Effective input encoding of each step must equal the previous step's
	// output encoding: source -> middleware[0] -> ... -> middleware[n-1] -> each sink.
	upstream := c.Source.OutputEncoding
	upstreamSchema := c.Source.SchemaID
	for i, mw := range c.Middlewares {
		if err := requireAvroSchema(c.Name, fmt.Sprintf("middleware[%d]", i), upstream, upstreamSchema); err != nil {
			return err
		}
		upstream = mw.OutputEncoding
		if mw.SchemaID != "" {
			upstreamSchema = mw.SchemaID
		}
		if err := requireAvroSchema(c.Name, fmt.Sprintf("middleware[%d] output", i), mw.OutputEncoding, upstreamSchema); err != nil {
			return err
		}
	}
	for i, sink := range c.Sinks {
		if err := requireAvroSchema(c.Name, fmt.Sprintf("sink[%d]", i), sink.OutputEncoding, resolveSchema(sink.SchemaID, upstreamSchema)); err != nil {
			return err
		}
		if _, ok := c.Schemas[resolveSchema(sink.SchemaID, upstreamSchema)]; sink.OutputEncoding == EncodingAvro && !ok && resolveSchema(sink.SchemaID, upstreamSchema) != "" {
			return &ConfigError{Connector: c.Name, Reason: fmt.Sprintf("sink[%d] schema_id %q does not resolve", i, resolveSchema(sink.SchemaID, upstreamSchema))}
		}
	}
	if len(c.Sinks) == 0 {
		return &ConfigError{Connector: c.Name, Reason: "at least one sink is required"}
	}
	if err := requireNaturalSourceEncoding(c.Name, services[c.Source.Ref.ServiceName].Provider, c.Source); err != nil {
		return err
	}
	return nil
}

// requireNaturalSourceEncoding rejects a source.output_encoding that
// disagrees with what the provider actually puts on the wire. The driver
// stamps output_encoding onto the record after the middleware chain runs
// without converting a single byte (see internal/driver), so a mismatch
// here would silently relabel the payload instead of transcoding it: Mongo
// change streams are always BSON, and Kafka/PubSub sources pass through
// whatever input_encoding declares with no transcoding at the source seam.
func requireNaturalSourceEncoding(connector string, provider Provider, source StepSpec) error {
	if source.OutputEncoding == "" {
		return nil
	}
	switch provider {
	case ProviderMongo:
		if source.OutputEncoding != EncodingBSON {
			return &ConfigError{Connector: connector, Reason: fmt.Sprintf("source: output_encoding %q does not match mongodb's natural wire encoding %q; add a middleware to transcode", source.OutputEncoding, EncodingBSON)}
		}
	case ProviderKafka, ProviderPubSub:
		if source.InputEncoding != "" && source.OutputEncoding != source.InputEncoding {
			return &ConfigError{Connector: connector, Reason: fmt.Sprintf("source: output_encoding %q does not match input_encoding %q; this provider does not transcode at the source, add a middleware", source.OutputEncoding, source.InputEncoding)}
		}
	}
	return nil
}

func resolveSchema(declared, inherited SchemaID) SchemaID {
	if declared != "" {
		return declared
	}
	return inherited
}

func requireAvroSchema(connector, step string, enc Encoding, schema SchemaID) error {
	if enc == EncodingAvro && schema == "" {
		return &ConfigError{Connector: connector, Reason: fmt.Sprintf("%s: avro encoding requires a resolvable schema_id", step)}
	}
	return nil
}

// EffectiveSchema returns the schema_id a step should use, applying the
// inheritance rule from spec.md §3: a step without schema_id inherits the
// most recent upstream schema_id.
func (c *ConnectorSpec) EffectiveSchema(stepIndex int) SchemaID {
	upstream := c.Source.SchemaID
	for i, mw := range c.Middlewares {
		if i > stepIndex {
			break
		}
		if mw.SchemaID != "" {
			upstream = mw.SchemaID
		}
	}
	return upstream
}
