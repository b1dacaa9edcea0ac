package model

import (
	"testing"

	"gotest.tools/v3/assert"
)

func services() map[string]ServiceDescriptor {
	return map[string]ServiceDescriptor{
		"src":  {Name: "src", Provider: ProviderMongo},
		"sink": {Name: "sink", Provider: ProviderKafka},
	}
}

func TestValidateRejectsUndeclaredService(t *testing.T) {
	spec := &ConnectorSpec{
		Name:   "c1",
		Source: StepSpec{Ref: ResourceReference{ServiceName: "missing"}, OutputEncoding: EncodingBSON},
		Sinks:  []StepSpec{{Ref: ResourceReference{ServiceName: "sink"}, OutputEncoding: EncodingJSON}},
	}
	err := spec.Validate(services())
	assert.ErrorContains(t, err, "not declared")
}

func TestValidateRequiresAtLeastOneSink(t *testing.T) {
	spec := &ConnectorSpec{
		Name:   "c1",
		Source: StepSpec{Ref: ResourceReference{ServiceName: "src"}, OutputEncoding: EncodingBSON},
	}
	err := spec.Validate(services())
	assert.ErrorContains(t, err, "at least one sink")
}

func TestValidateRejectsAvroWithoutSchema(t *testing.T) {
	spec := &ConnectorSpec{
		Name:   "c1",
		Source: StepSpec{Ref: ResourceReference{ServiceName: "src"}, OutputEncoding: EncodingBSON},
		Sinks:  []StepSpec{{Ref: ResourceReference{ServiceName: "sink"}, OutputEncoding: EncodingAvro}},
	}
	err := spec.Validate(services())
	assert.ErrorContains(t, err, "avro encoding requires")
}

func TestValidateAcceptsInheritedSchema(t *testing.T) {
	svcs := services()
	svcs["src"] = ServiceDescriptor{Name: "src", Provider: ProviderKafka}
	spec := &ConnectorSpec{
		Name:    "c1",
		Source:  StepSpec{Ref: ResourceReference{ServiceName: "src"}, InputEncoding: EncodingAvro, OutputEncoding: EncodingAvro, SchemaID: "s1"},
		Schemas: map[SchemaID]ResourceReference{"s1": {ServiceName: "src", Resource: "schema1"}},
		Sinks:   []StepSpec{{Ref: ResourceReference{ServiceName: "sink"}, OutputEncoding: EncodingAvro}},
	}
	err := spec.Validate(svcs)
	assert.NilError(t, err)
}

func TestValidateRejectsSourceEncodingNotMatchingMongoNaturalEncoding(t *testing.T) {
	spec := &ConnectorSpec{
		Name:   "c1",
		Source: StepSpec{Ref: ResourceReference{ServiceName: "src"}, OutputEncoding: EncodingJSON},
		Sinks:  []StepSpec{{Ref: ResourceReference{ServiceName: "sink"}, OutputEncoding: EncodingJSON}},
	}
	err := spec.Validate(services())
	assert.ErrorContains(t, err, "natural wire encoding")
}

func TestValidateRejectsSourceEncodingNotMatchingKafkaInputEncoding(t *testing.T) {
	svcs := services()
	svcs["src"] = ServiceDescriptor{Name: "src", Provider: ProviderKafka}
	spec := &ConnectorSpec{
		Name:   "c1",
		Source: StepSpec{Ref: ResourceReference{ServiceName: "src"}, InputEncoding: EncodingJSON, OutputEncoding: EncodingAvro, SchemaID: "s1"},
		Schemas: map[SchemaID]ResourceReference{"s1": {ServiceName: "src", Resource: "schema1"}},
		Sinks:  []StepSpec{{Ref: ResourceReference{ServiceName: "sink"}, OutputEncoding: EncodingAvro}},
	}
	err := spec.Validate(svcs)
	assert.ErrorContains(t, err, "does not transcode at the source")
}

func TestValidateRejectsBadBatchSize(t *testing.T) {
	spec := &ConnectorSpec{
		Name:   "c1",
		Batch:  &BatchPolicy{Kind: BatchPolicyCount, Size: 0},
		Source: StepSpec{Ref: ResourceReference{ServiceName: "src"}, OutputEncoding: EncodingBSON},
		Sinks:  []StepSpec{{Ref: ResourceReference{ServiceName: "sink"}, OutputEncoding: EncodingJSON}},
	}
	err := spec.Validate(services())
	assert.ErrorContains(t, err, "batch.size")
}

func TestEffectiveSchemaInheritsUpstream(t *testing.T) {
	spec := &ConnectorSpec{
		Source: StepSpec{SchemaID: "s1"},
		Middlewares: []StepSpec{
			{SchemaID: ""},
			{SchemaID: "s2"},
		},
	}
	assert.Equal(t, spec.EffectiveSchema(0), SchemaID("s1"))
	assert.Equal(t, spec.EffectiveSchema(1), SchemaID("s2"))
}
