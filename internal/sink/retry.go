package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mstreamhq/mstream/internal/model"
)

// RetryPolicy is the exponential-backoff-with-cap policy shared by every
// sink and the HTTP middleware, per spec.md §4.5/§4.6.
type RetryPolicy struct {
	MaxRetries        int
	BaseBackoffMillis int
	TimeoutSec        int

	// OnAttemptError, if set, is called once per failed attempt Do absorbs
	// before retrying (or before giving up on a permanent error), so the
	// job's total_errors counter reflects every attempt, not just the
	// terminal failure that kills the job.
	OnAttemptError func(error)
}

// NewRetryPolicy reads the retry fields off a ServiceDescriptor, applying
// the defaults spec.md §6 names for an http-provider service. onAttemptError
// may be nil.
func NewRetryPolicy(desc model.ServiceDescriptor, onAttemptError func(error)) RetryPolicy {
	return RetryPolicy{
		MaxRetries:        defaultInt(desc.MaxRetries, 5),
		BaseBackoffMillis: defaultInt(desc.BaseBackoffMillis, 1000),
		TimeoutSec:        defaultInt(desc.TimeoutSec, 30),
		OnAttemptError:    onAttemptError,
	}
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(p.BaseBackoffMillis) * time.Millisecond
	return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
}

// Do runs op, retrying transient failures up to MaxRetries. A
// *model.SinkPermanentError stops retrying immediately.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	b := backoff.WithContext(p.backOff(), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if p.OnAttemptError != nil {
			p.OnAttemptError(err)
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func isPermanent(err error) bool {
	var perm *model.SinkPermanentError
	return errors.As(err, &perm)
}

// ClassifyHTTPStatus turns an HTTP response status into nil (success), a
// *model.SinkPermanentError (non-retriable 4xx), or a plain error that the
// retry loop treats as transient.
func ClassifyHTTPStatus(sinkName string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return &model.SinkPermanentError{SinkName: sinkName, Err: fmt.Errorf("status %d: %s", status, body)}
	}
	return fmt.Errorf("status %d: %s", status, body)
}
