package codec

import (
	"encoding/json"
	"fmt"
)

// jsonToGeneric parses canonical JSON into a generic map.
func jsonToGeneric(data []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("codec: json decode: %w", err)
	}
	return doc, nil
}

// genericToJSON emits a generic map as canonical JSON.
func genericToJSON(doc map[string]interface{}) ([]byte, error) {
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("codec: json encode: %w", err)
	}
	return out, nil
}
