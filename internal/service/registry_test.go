package service

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/mstreamhq/mstream/internal/model"
)

type fakeClient struct {
	closed bool
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

func TestRegistrySharesClientAcrossGets(t *testing.T) {
	built := 0
	reg := NewRegistry(map[model.Provider]Factory{
		model.ProviderHTTP: func(ctx context.Context, desc model.ServiceDescriptor) (Client, error) {
			built++
			return &fakeClient{}, nil
		},
	})
	desc := model.ServiceDescriptor{Name: "svc1", Provider: model.ProviderHTTP}

	c1, err := reg.Get(context.Background(), desc)
	assert.NilError(t, err)
	c2, err := reg.Get(context.Background(), desc)
	assert.NilError(t, err)

	assert.Equal(t, c1, c2)
	assert.Equal(t, built, 1)
	assert.Equal(t, reg.RefCount("svc1"), 2)
}

func TestRegistryClosesOnLastRelease(t *testing.T) {
	client := &fakeClient{}
	reg := NewRegistry(map[model.Provider]Factory{
		model.ProviderHTTP: func(ctx context.Context, desc model.ServiceDescriptor) (Client, error) {
			return client, nil
		},
	})
	desc := model.ServiceDescriptor{Name: "svc1", Provider: model.ProviderHTTP}

	_, err := reg.Get(context.Background(), desc)
	assert.NilError(t, err)
	_, err = reg.Get(context.Background(), desc)
	assert.NilError(t, err)

	assert.NilError(t, reg.Release("svc1"))
	assert.Assert(t, !client.closed)

	assert.NilError(t, reg.Release("svc1"))
	assert.Assert(t, client.closed)
	assert.Equal(t, reg.RefCount("svc1"), 0)
}
