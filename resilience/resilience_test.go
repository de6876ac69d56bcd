package resilience

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/stretchr/testify/require"

	"github.com/cachekit/httpcache/policy"
)

// scriptedMiddleware returns a fixed sequence of responses/errors from
// RemoteFetch and counts invocations, mirroring engine's own test double.
type scriptedMiddleware struct {
	req       *http.Request
	responses []*http.Response
	errs      []error
	calls     int
}

func (s *scriptedMiddleware) IsMethodGetHead() bool { return true }
func (s *scriptedMiddleware) Policy(resp *http.Response) *policy.Policy {
	return policy.New(s.req, resp, policy.Options{})
}
func (s *scriptedMiddleware) PolicyWithOptions(resp *http.Response, opts policy.Options) *policy.Policy {
	return policy.New(s.req, resp, opts)
}
func (s *scriptedMiddleware) UpdateHeaders(http.Header) {}
func (s *scriptedMiddleware) SetNoCache()               {}
func (s *scriptedMiddleware) Request() *http.Request    { return s.req }
func (s *scriptedMiddleware) URL() *url.URL             { return s.req.URL }
func (s *scriptedMiddleware) Method() string            { return s.req.Method }

func (s *scriptedMiddleware) RemoteFetch(_ context.Context) (*http.Response, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], s.errs[idx]
}

func newScripted(responses []*http.Response, errs []error) *scriptedMiddleware {
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	return &scriptedMiddleware{req: req, responses: responses, errs: errs}
}

func TestRetryPolicyBuilderRetriesOnErrorThenSucceeds(t *testing.T) {
	attempts := 0
	fn := func() (*http.Response, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("boom")
		}
		return &http.Response{StatusCode: 200}, nil
	}

	resp, err := failsafe.With(RetryPolicyBuilder().Build()).Get(fn)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, 3, attempts)
}

func TestCircuitBreakerBuilderOpensAfterThreshold(t *testing.T) {
	cb := CircuitBreakerBuilder().WithDelay(100 * time.Millisecond).Build()
	require.True(t, cb.IsClosed())

	for i := 0; i < 5; i++ {
		cb.RecordError(errors.New("boom"))
	}
	require.True(t, cb.IsOpen())
}

func TestWrapWithNoPoliciesForwardsDirectly(t *testing.T) {
	inner := newScripted([]*http.Response{{StatusCode: 200}}, []error{nil})
	wrapped := Wrap(inner, Config{})

	resp, err := wrapped.RemoteFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, 1, inner.calls)
}

func TestWrapWithRetryPolicyRetriesUnderlyingFetch(t *testing.T) {
	inner := newScripted(
		[]*http.Response{nil, nil, {StatusCode: 200}},
		[]error{errors.New("net error"), errors.New("net error"), nil},
	)
	retryPolicy := RetryPolicyBuilder().
		WithMaxRetries(3).
		WithBackoff(1*time.Millisecond, 5*time.Millisecond).
		Build()
	wrapped := Wrap(inner, Config{RetryPolicy: retryPolicy})

	resp, err := wrapped.RemoteFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, 3, inner.calls)
}

func TestWrapWithCircuitBreakerRejectsAfterThreshold(t *testing.T) {
	inner := newScripted(
		[]*http.Response{{StatusCode: 503}, {StatusCode: 503}, {StatusCode: 503}},
		[]error{nil, nil, nil},
	)
	cb := CircuitBreakerBuilder().
		WithFailureThreshold(2).
		WithDelay(1 * time.Second).
		Build()
	wrapped := Wrap(inner, Config{CircuitBreaker: cb})

	for i := 0; i < 2; i++ {
		_, _ = wrapped.RemoteFetch(context.Background())
	}
	require.True(t, cb.IsOpen())

	_, err := wrapped.RemoteFetch(context.Background())
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestWrapForwardsOtherMethodsToInner(t *testing.T) {
	inner := newScripted([]*http.Response{{StatusCode: 200}}, []error{nil})
	wrapped := Wrap(inner, Config{})

	require.Equal(t, inner.Method(), wrapped.Method())
	require.Equal(t, inner.URL(), wrapped.URL())
	require.True(t, wrapped.IsMethodGetHead())
}
