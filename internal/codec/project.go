package codec

import (
	"fmt"

	"github.com/mstreamhq/mstream/internal/model"
)

// ProjectGeneric masks doc down to the fields declared in schema, dropping
// unknown source fields and failing if a required schema field is absent.
// Projection is idempotent: projecting an already-projected document is a
// no-op, modeled on goconnect's coder/serde GenericProjector.
func ProjectGeneric(doc map[string]interface{}, schema *model.SchemaRecord) (map[string]interface{}, error) {
	if schema == nil || len(schema.Fields) == 0 {
		return doc, nil
	}
	out := make(map[string]interface{}, len(schema.Fields))
	for _, field := range schema.Fields {
		v, present := doc[field]
		if !present {
			return nil, &model.SchemaError{Kind: model.SchemaValidation, Detail: fmt.Sprintf("required field %q missing from source document", field)}
		}
		out[field] = v
	}
	return out, nil
}
