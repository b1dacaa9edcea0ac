package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/mstreamhq/mstream/internal/sink"
)

// HTTPMiddleware POSTs the payload to service.host/resource and replaces
// it with the response body, per spec.md §4.5.
type HTTPMiddleware struct {
	Client   *http.Client
	Host     string
	Resource string
	Retry    sink.RetryPolicy
}

func (m *HTTPMiddleware) Apply(ctx context.Context, payload []byte, attributes map[string]string) ([]byte, map[string]string, error) {
	var outPayload []byte
	outAttrs := attributes

	err := m.Retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Host+"/"+m.Resource, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		for k, v := range attributes {
			req.Header.Set("x-mstream-"+k, v)
		}

		resp, err := m.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		if classErr := sink.ClassifyHTTPStatus(m.Resource, resp.StatusCode, body); classErr != nil {
			return classErr
		}
		outPayload = body
		outAttrs = mergeResponseAttributes(attributes, resp.Header)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return outPayload, outAttrs, nil
}

func mergeResponseAttributes(base map[string]string, header http.Header) map[string]string {
	out := make(map[string]string, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k := range header {
		lower := strings.ToLower(k)
		if strings.HasPrefix(lower, "x-mstream-") {
			out[strings.TrimPrefix(lower, "x-mstream-")] = header.Get(k)
		}
	}
	return out
}
