package sink

import (
	"fmt"

	"github.com/mstreamhq/mstream/internal/codec"
	"github.com/mstreamhq/mstream/internal/model"
)

// targetEncoding converts rec's value into outEnc when the sink declares an
// output_encoding that differs from whatever the record currently carries,
// per spec.md §4.3/§4.4. An empty outEnc means the sink accepts whatever
// arrives, unchanged.
func targetEncoding(sinkName string, rec *model.PipelineRecord, outEnc model.Encoding, schema *model.SchemaRecord) ([]byte, model.Encoding, error) {
	if outEnc == "" || outEnc == rec.Encoding {
		return rec.Value, rec.Encoding, nil
	}
	converted, err := codec.Convert(rec.Value, rec.Encoding, outEnc, schema)
	if err != nil {
		return nil, "", fmt.Errorf("sink %q: %w", sinkName, err)
	}
	return converted, outEnc, nil
}
