package codec

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// bsonToJSON re-encodes a BSON document as BSON-extended JSON, preserving
// type hints ($oid, $date, ...) so the round trip back to BSON is lossless,
// per spec.md §4.3's "BSON ↔ JSON" row.
func bsonToJSON(data []byte) ([]byte, error) {
	var doc bson.Raw = data
	out, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, fmt.Errorf("codec: bson -> json: %w", err)
	}
	return out, nil
}

// jsonToBSON parses extended JSON back into a BSON document, interpreting
// the type hints spec.md §4.3 calls out.
func jsonToBSON(data []byte) ([]byte, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, fmt.Errorf("codec: json -> bson: %w", err)
	}
	out, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("codec: json -> bson: %w", err)
	}
	return out, nil
}

// bsonToGeneric decodes a BSON document into a generic map for schema
// projection and Avro encoding.
func bsonToGeneric(data []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("codec: bson decode: %w", err)
	}
	return doc, nil
}

// genericToBSON encodes a generic map as a BSON document.
func genericToBSON(doc map[string]interface{}) ([]byte, error) {
	out, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("codec: bson encode: %w", err)
	}
	return out, nil
}
