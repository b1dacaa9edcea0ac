// Package codec implements the pure Encoder/Transcoder conversion matrix
// from spec.md §4.3: BSON, JSON, Avro, and opaque Other bytes, parameterized
// by (input_encoding, output_encoding, optional schema).
package codec

import (
	"fmt"

	"github.com/mstreamhq/mstream/internal/model"
)

// Convert transforms data from inEnc to outEnc. schema is required whenever
// either side is Avro; it is ignored otherwise except to validate a
// passthrough Avro payload against it.
func Convert(data []byte, inEnc, outEnc model.Encoding, schema *model.SchemaRecord) ([]byte, error) {
	if inEnc == outEnc {
		return passthrough(data, inEnc, schema)
	}

	switch {
	case inEnc == model.EncodingOther || outEnc == model.EncodingOther:
		return nil, fmt.Errorf("codec: %s -> %s is not a legal conversion (Other only passes through)", inEnc, outEnc)

	case inEnc == model.EncodingBSON && outEnc == model.EncodingJSON:
		return bsonToJSON(data)
	case inEnc == model.EncodingJSON && outEnc == model.EncodingBSON:
		return jsonToBSON(data)

	case inEnc == model.EncodingBSON && outEnc == model.EncodingAvro:
		if schema == nil {
			return nil, &model.SchemaError{Kind: model.SchemaMissing, Detail: "bson -> avro requires a schema"}
		}
		doc, err := bsonToGeneric(data)
		if err != nil {
			return nil, err
		}
		projected, err := ProjectGeneric(doc, schema)
		if err != nil {
			return nil, err
		}
		return genericToAvro(projected, schema)

	case inEnc == model.EncodingJSON && outEnc == model.EncodingAvro:
		if schema == nil {
			return nil, &model.SchemaError{Kind: model.SchemaMissing, Detail: "json -> avro requires a schema"}
		}
		doc, err := jsonToGeneric(data)
		if err != nil {
			return nil, err
		}
		projected, err := ProjectGeneric(doc, schema)
		if err != nil {
			return nil, err
		}
		return genericToAvro(projected, schema)

	case inEnc == model.EncodingAvro && outEnc == model.EncodingJSON:
		if schema == nil {
			return nil, &model.SchemaError{Kind: model.SchemaMissing, Detail: "avro -> json requires a schema"}
		}
		doc, err := avroToGeneric(data, schema)
		if err != nil {
			return nil, err
		}
		return genericToJSON(doc)

	case inEnc == model.EncodingAvro && outEnc == model.EncodingBSON:
		if schema == nil {
			return nil, &model.SchemaError{Kind: model.SchemaMissing, Detail: "avro -> bson requires a schema"}
		}
		doc, err := avroToGeneric(data, schema)
		if err != nil {
			return nil, err
		}
		return genericToBSON(doc)

	default:
		return nil, fmt.Errorf("codec: unsupported conversion %s -> %s", inEnc, outEnc)
	}
}

func passthrough(data []byte, enc model.Encoding, schema *model.SchemaRecord) ([]byte, error) {
	if enc == model.EncodingAvro && schema != nil {
		if _, err := avroToGeneric(data, schema); err != nil {
			return nil, err
		}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
