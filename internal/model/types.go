/*
 * Copyright 2018 Amient Ltd, London
 *
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package model holds the core value types shared across the connector
// engine: services, resources, encodings, schemas, events and the records
// that flow from source to sink.
package model

import "time"

// Provider identifies the kind of external system a ServiceDescriptor
// speaks to.
type Provider string

const (
	ProviderMongo  Provider = "mongodb"
	ProviderKafka  Provider = "kafka"
	ProviderPubSub Provider = "pubsub"
	ProviderHTTP   Provider = "http"
	ProviderUDF    Provider = "udf"
)

// ServiceDescriptor is an immutable, named connection configuration for one
// provider. It is registered once at process startup and referenced by name
// from ConnectorSpec resources.
type ServiceDescriptor struct {
	Name     string
	Provider Provider

	// Mongo
	ConnectionString string
	DBName           string
	SchemaCollection string
	WriteMode        WriteMode

	// Kafka
	ClientConfig           map[string]string
	OffsetSeekBackSeconds  int

	// Pub/Sub
	PubSubAuth PubSubAuth

	// HTTP
	Host                 string
	MaxRetries           int
	BaseBackoffMillis    int
	ConnectionTimeoutSec int
	TimeoutSec           int
	TCPKeepAliveSec      int

	// UDF
	EngineKind string
	ScriptPath string
}

// WriteMode controls how the Mongo sink applies a record.
type WriteMode string

const (
	WriteModeInsert  WriteMode = "insert"
	WriteModeReplace WriteMode = "replace"
)

// PubSubAuth describes how the Pub/Sub client authenticates.
type PubSubAuth struct {
	Kind            string // "service_account" | "static_token"
	Credentials     string // inline service-account JSON
	CredentialsFile string // path to a service-account JSON file, takes priority over Credentials
	Token           string
}

// ResourceReference names one endpoint within a service: a collection, a
// topic, a subscription, a URL path, or a script filename, depending on
// the service's Provider.
type ResourceReference struct {
	ServiceName string
	Resource    string
}

// Encoding is the wire representation of a payload.
type Encoding string

const (
	EncodingBSON  Encoding = "bson"
	EncodingJSON  Encoding = "json"
	EncodingAvro  Encoding = "avro"
	EncodingOther Encoding = "other"
)

// SchemaID is a connector-local name resolved through ConnectorSpec.Schemas
// to a ResourceReference the schema cache can fetch.
type SchemaID string

// SchemaRecord is a parsed Avro schema plus its original source text.
// Immutable after first load.
type SchemaRecord struct {
	Ref      ResourceReference
	Text     string
	Fields   []string
	Avro     interface{} // avro.Schema, held as interface{} to keep this package dependency-free
}

// CheckpointToken is opaque per-source progress state: a Mongo resume
// token, a Kafka (topic, partition, offset) triple encoded as bytes, or nil
// for sources that do not support checkpointing.
type CheckpointToken []byte

// SourceEvent is one raw record yielded by a source adapter in source
// order, together with the checkpoint position it corresponds to.
type SourceEvent struct {
	Payload    []byte
	Encoding   Encoding
	Attributes map[string]string
	SourceTS   *time.Time
	Checkpoint CheckpointToken
}

// Mongo change-stream attribute keys.
const (
	AttrOperationType = "operation_type"
	AttrDatabase      = "database"
	AttrCollection    = "collection"
)

// Kafka attribute keys.
const (
	AttrTopic     = "topic"
	AttrPartition = "partition"
	AttrOffset    = "offset"
)

// Mongo change-stream operation types.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// PipelineRecord is the internal unit the driver moves from the batcher
// through middlewares to the sinks. It represents either a single
// SourceEvent or a batch folded by the Batcher.
type PipelineRecord struct {
	Value       []byte
	Encoding    Encoding
	Attributes  map[string]string
	SourceTS    *time.Time
	Checkpoints []CheckpointToken
}

// LatestCheckpoint returns the highest-order checkpoint in the record,
// which is the one the Checkpoint Manager is allowed to commit.
func (r *PipelineRecord) LatestCheckpoint() CheckpointToken {
	if len(r.Checkpoints) == 0 {
		return nil
	}
	return r.Checkpoints[len(r.Checkpoints)-1]
}

// BatchPolicyKind enumerates supported batching strategies. Only "count" is
// implemented; spec.md acknowledges a time-based trigger as a known gap.
type BatchPolicyKind string

const BatchPolicyCount BatchPolicyKind = "count"

// BatchPolicy configures the Batcher.
type BatchPolicy struct {
	Kind BatchPolicyKind
	Size int
}

// StepSpec describes one source, middleware, or sink endpoint within a
// ConnectorSpec: where it lives, what encoding it produces, and which
// schema (if any) applies.
type StepSpec struct {
	Ref            ResourceReference
	InputEncoding  Encoding // only meaningful for the source step
	OutputEncoding Encoding
	SchemaID       SchemaID
}

// ConnectorSpec is one configured source-to-sink pipeline.
type ConnectorSpec struct {
	Name              string
	Enabled           bool
	Batch             *BatchPolicy
	CheckpointEnabled bool
	Source            StepSpec
	Schemas           map[SchemaID]ResourceReference
	Middlewares       []StepSpec
	Sinks             []StepSpec
}

// JobState is a point in the job lifecycle state machine.
type JobState string

const (
	JobStopped  JobState = "stopped"
	JobStarting JobState = "starting"
	JobRunning  JobState = "running"
	JobFailed   JobState = "failed"
	JobStopping JobState = "stopping"
)

// JobRecord is the external view of one job returned by list().
type JobRecord struct {
	Name        string
	Spec        ConnectorSpec
	State       JobState
	LastError   string
	LastErrorAt *time.Time
}

// Acknowledgement is the result of writing one record to one sink.
type Acknowledgement struct {
	SinkName string
	Err      error
}
