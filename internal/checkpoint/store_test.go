package checkpoint

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"
)

func TestNoopStoreLoadReturnsNil(t *testing.T) {
	var s NoopStore
	rec, err := s.Load(context.Background(), "job-1")
	assert.NilError(t, err)
	assert.Assert(t, rec == nil)
}

func TestNoopStoreSaveIsNoop(t *testing.T) {
	var s NoopStore
	err := s.Save(context.Background(), "job-1", Record{Token: []byte("t1")})
	assert.NilError(t, err)
}

// inMemoryStore is a fake used to exercise the Store contract without a
// live Mongo deployment.
type inMemoryStore struct {
	saved map[string]Record
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{saved: make(map[string]Record)}
}

func (s *inMemoryStore) Load(ctx context.Context, jobName string) (*Record, error) {
	rec, ok := s.saved[jobName]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *inMemoryStore) Save(ctx context.Context, jobName string, rec Record) error {
	s.saved[jobName] = rec
	return nil
}

func TestStoreRoundTripsLatestCheckpointOnly(t *testing.T) {
	s := newInMemoryStore()
	ctx := context.Background()

	assert.NilError(t, s.Save(ctx, "orders", Record{Token: []byte("t1")}))
	assert.NilError(t, s.Save(ctx, "orders", Record{Token: []byte("t2")}))
	assert.NilError(t, s.Save(ctx, "orders", Record{Token: []byte("t3")}))

	rec, err := s.Load(ctx, "orders")
	assert.NilError(t, err)
	assert.Equal(t, string(rec.Token), "t3")
}
