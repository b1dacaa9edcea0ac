package sink

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/mstreamhq/mstream/internal/model"
)

// HTTPSink POSTs a record — single event or already-framed batch array —
// to host/resource, per spec.md §4.6.
type HTTPSink struct {
	Name           string
	Client         *http.Client
	Host           string
	Resource       string
	OutputEncoding model.Encoding
	Schema         *model.SchemaRecord
	Retry          RetryPolicy
}

func (s *HTTPSink) Write(ctx context.Context, rec *model.PipelineRecord) model.Acknowledgement {
	err := s.Retry.Do(ctx, func() error { return s.post(ctx, rec) })
	return model.Acknowledgement{SinkName: s.Name, Err: err}
}

func (s *HTTPSink) post(ctx context.Context, rec *model.PipelineRecord) error {
	value, _, err := targetEncoding(s.Name, rec, s.OutputEncoding, s.Schema)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Host+"/"+s.Resource, bytes.NewReader(value))
	if err != nil {
		return err
	}
	for k, v := range rec.Attributes {
		req.Header.Set("x-mstream-"+k, v)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return ClassifyHTTPStatus(s.Name, resp.StatusCode, body)
}

func (s *HTTPSink) Close() error {
	return nil
}
