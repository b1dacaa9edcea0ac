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

package codec

import (
	"bytes"

	"github.com/amient/avro"

	"github.com/mstreamhq/mstream/internal/model"
)

// genericToAvro encodes a generic map into the binary Avro encoding for
// schema, modeled on goconnect's coder/avro GenericEncoder.
func genericToAvro(doc map[string]interface{}, schema *model.SchemaRecord) ([]byte, error) {
	avroSchema, ok := schema.Avro.(avro.Schema)
	if !ok {
		return nil, &model.SchemaError{Kind: model.SchemaMissing, Detail: "schema record has no parsed avro.Schema"}
	}
	record := avro.NewGenericRecord(avroSchema)
	for k, v := range doc {
		record.Set(k, v)
	}
	writer := avro.NewGenericDatumWriter().SetSchema(avroSchema)
	buf := new(bytes.Buffer)
	if err := writer.Write(record, avro.NewBinaryEncoder(buf)); err != nil {
		return nil, &model.SchemaError{Kind: model.SchemaValidation, Detail: "encoding generic record", Err: err}
	}
	return buf.Bytes(), nil
}

// avroToGeneric decodes binary Avro data into a generic map, modeled on
// goconnect's coder/avro GenericDecoder.
func avroToGeneric(data []byte, schema *model.SchemaRecord) (map[string]interface{}, error) {
	avroSchema, ok := schema.Avro.(avro.Schema)
	if !ok {
		return nil, &model.SchemaError{Kind: model.SchemaMissing, Detail: "schema record has no parsed avro.Schema"}
	}
	decodedRecord := avro.NewGenericRecord(avroSchema)
	reader := avro.NewDatumReader(avroSchema)
	if err := reader.Read(decodedRecord, avro.NewBinaryDecoder(data)); err != nil {
		return nil, &model.SchemaError{Kind: model.SchemaValidation, Detail: "decoding generic record", Err: err}
	}
	doc := make(map[string]interface{}, len(schema.Fields))
	for _, f := range schema.Fields {
		doc[f] = decodedRecord.Get(f)
	}
	return doc, nil
}
