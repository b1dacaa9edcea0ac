// Package middleware implements the two middleware variants (HTTP
// transform, sandboxed script transform) behind one ordered-chain
// interface, per spec.md §4.5.
package middleware

import (
	"context"
)

// Middleware transforms one record's payload and attributes in place,
// moving it from the previous step's output_encoding into this step's
// declared output_encoding.
type Middleware interface {
	Apply(ctx context.Context, payload []byte, attributes map[string]string) ([]byte, map[string]string, error)
}

// Chain runs middlewares strictly in declared order.
type Chain struct {
	Steps []Middleware
}

func (c Chain) Run(ctx context.Context, payload []byte, attributes map[string]string) ([]byte, map[string]string, error) {
	var err error
	for _, step := range c.Steps {
		payload, attributes, err = step.Apply(ctx, payload, attributes)
		if err != nil {
			return nil, nil, err
		}
	}
	return payload, attributes, nil
}
