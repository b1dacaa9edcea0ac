package sink

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mstreamhq/mstream/internal/model"
)

// splitBatch un-frames a PipelineRecord's payload back into its constituent
// items for the sinks that write one message or document per item (Kafka,
// Mongo); the Pub/Sub and HTTP sinks send the framed payload as is. A
// record that is not a recognizable batch frame is returned as its own
// single item.
func splitBatch(value []byte, enc model.Encoding) [][]byte {
	switch enc {
	case model.EncodingBSON:
		var framed struct {
			Items []bson.Raw `bson:"items"`
		}
		if err := bson.Unmarshal(value, &framed); err == nil && framed.Items != nil {
			out := make([][]byte, len(framed.Items))
			for i, item := range framed.Items {
				out[i] = item
			}
			return out
		}
	case model.EncodingJSON:
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err == nil {
			out := make([][]byte, len(items))
			for i, item := range items {
				out[i] = item
			}
			return out
		}
	}
	return [][]byte{value}
}

// extractKey pulls the "_id" field out of a BSON or JSON document, per
// spec.md §4.6's "key defaults to _id when present" rule. Returns nil when
// no _id field is present or the encoding carries no notion of fields.
func extractKey(raw []byte, enc model.Encoding) []byte {
	switch enc {
	case model.EncodingBSON:
		var doc bson.M
		if err := bson.Unmarshal(raw, &doc); err == nil {
			if id, ok := doc["_id"]; ok {
				if _, data, err := bson.MarshalValue(id); err == nil {
					return data
				}
			}
		}
	case model.EncodingJSON:
		var doc map[string]interface{}
		if err := json.Unmarshal(raw, &doc); err == nil {
			if id, ok := doc["_id"]; ok {
				if data, err := json.Marshal(id); err == nil {
					return data
				}
			}
		}
	}
	return nil
}
