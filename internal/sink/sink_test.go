package sink

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/mstreamhq/mstream/internal/model"
)

func TestSplitBatchJSONArray(t *testing.T) {
	items := splitBatch([]byte(`[{"id":1},{"id":2},{"id":3}]`), model.EncodingJSON)
	assert.Equal(t, len(items), 3)
}

func TestSplitBatchFallsBackToSingleItem(t *testing.T) {
	items := splitBatch([]byte(`{"id":1}`), model.EncodingJSON)
	assert.Equal(t, len(items), 1)
}

func TestExtractKeyFromJSON(t *testing.T) {
	key := extractKey([]byte(`{"_id":"abc","total":1}`), model.EncodingJSON)
	assert.Equal(t, string(key), `"abc"`)
}

func TestRetryPolicyStopsOnPermanentError(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseBackoffMillis: 1}
	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		return &model.SinkPermanentError{SinkName: "x", Err: errors.New("bad request")}
	})
	assert.Assert(t, err != nil)
	assert.Equal(t, attempts, 1)
}

func TestRetryPolicyRetriesTransientThenSucceeds(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseBackoffMillis: 1}
	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("timeout")
		}
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, attempts, 3)
}

func TestRetryPolicyCallsOnAttemptErrorForEachFailedAttempt(t *testing.T) {
	var errCount int
	policy := RetryPolicy{MaxRetries: 5, BaseBackoffMillis: 1, OnAttemptError: func(error) { errCount++ }}
	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("503")
		}
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, errCount, 2)
}

func TestHTTPSinkPostsBatchBodyAndHeaders(t *testing.T) {
	var gotHeader, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("x-mstream-operation_type")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := &HTTPSink{Name: "http-out", Client: ts.Client(), Host: ts.URL, Resource: "ingest", Retry: RetryPolicy{MaxRetries: 1, BaseBackoffMillis: 1}}
	ack := s.Write(context.Background(), &model.PipelineRecord{
		Value:      []byte(`[{"id":1}]`),
		Attributes: map[string]string{"operation_type": "insert"},
	})
	assert.NilError(t, ack.Err)
	assert.Equal(t, gotHeader, "insert")
	assert.Equal(t, gotBody, `[{"id":1}]`)
}

func TestTargetEncodingPassesThroughWhenUnset(t *testing.T) {
	rec := &model.PipelineRecord{Value: []byte(`{"a":1}`), Encoding: model.EncodingJSON}
	value, enc, err := targetEncoding("s", rec, "", nil)
	assert.NilError(t, err)
	assert.Equal(t, enc, model.EncodingJSON)
	assert.Equal(t, string(value), `{"a":1}`)
}

func TestTargetEncodingConvertsJSONToBSON(t *testing.T) {
	rec := &model.PipelineRecord{Value: []byte(`{"a":1}`), Encoding: model.EncodingJSON}
	value, enc, err := targetEncoding("s", rec, model.EncodingBSON, nil)
	assert.NilError(t, err)
	assert.Equal(t, enc, model.EncodingBSON)
	assert.Assert(t, len(value) > 0)
}

func TestHTTPSinkTranscodesIntoDeclaredOutputEncoding(t *testing.T) {
	var gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := &HTTPSink{
		Name: "http-out", Client: ts.Client(), Host: ts.URL, Resource: "ingest",
		OutputEncoding: model.EncodingJSON,
		Retry:          RetryPolicy{MaxRetries: 1, BaseBackoffMillis: 1},
	}
	ack := s.Write(context.Background(), &model.PipelineRecord{
		Value:    []byte(`{"a":1}`),
		Encoding: model.EncodingJSON,
	})
	assert.NilError(t, ack.Err)
	assert.Equal(t, gotBody, `{"a":1}`)
}

func TestHTTPSinkPermanentOn4xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	s := &HTTPSink{Name: "http-out", Client: ts.Client(), Host: ts.URL, Resource: "ingest", Retry: RetryPolicy{MaxRetries: 3, BaseBackoffMillis: 1}}
	ack := s.Write(context.Background(), &model.PipelineRecord{Value: []byte(`{}`)})
	var perm *model.SinkPermanentError
	assert.Assert(t, errors.As(ack.Err, &perm))
}
