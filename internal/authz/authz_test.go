package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuiltin_AlwaysAllows(t *testing.T) {
	b := NewBuiltin()
	out := b.Evaluate(context.Background(), Request{TenantID: "t1"})
	require.True(t, out.Allow)
	require.Equal(t, "builtin_allow_all", out.ReasonCode)
}

func TestExternalClient_ContractInvalidIsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(wireResponse{V: 1, Decision: "allow", ReasonCode: "ok", PolicyVersion: "", TTLMS: 1000})
	}))
	defer srv.Close()

	c := NewExternalClient(ExternalConfig{
		Endpoint: srv.URL, Timeout: time.Second, FailMode: FailDeny,
		RetryMaxAttempts: 3, CircuitBreakerFailures: 5, CircuitBreakerOpenFor: time.Minute,
	})
	out := c.Evaluate(context.Background(), Request{TenantID: "t1"})
	require.False(t, out.Allow)
	require.Equal(t, "authz_contract_invalid_deny", out.ReasonCode)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "contract-invalid must not retry")
}

func TestExternalClient_BreakerOpensAndShortCircuits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewExternalClient(ExternalConfig{
		Endpoint: srv.URL, Timeout: time.Second, FailMode: FailDeny,
		RetryMaxAttempts: 1, CircuitBreakerFailures: 1, CircuitBreakerOpenFor: time.Minute,
	})

	out := c.Evaluate(context.Background(), Request{TenantID: "t1"})
	require.Equal(t, "authz_http_error_deny", out.ReasonCode)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	out = c.Evaluate(context.Background(), Request{TenantID: "t1"})
	require.Equal(t, "authz_circuit_open_deny", out.ReasonCode)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "breaker must short-circuit with zero additional upstream calls")
}

func TestExternalClient_RetriesHTTPErrorsThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(wireResponse{V: 1, Decision: "allow", ReasonCode: "ok", PolicyVersion: "v1", TTLMS: 0})
	}))
	defer srv.Close()

	c := NewExternalClient(ExternalConfig{
		Endpoint: srv.URL, Timeout: time.Second, FailMode: FailDeny,
		RetryMaxAttempts: 3, RetryBackoff: time.Millisecond,
		CircuitBreakerFailures: 5, CircuitBreakerOpenFor: time.Minute,
	})
	out := c.Evaluate(context.Background(), Request{TenantID: "t1"})
	require.True(t, out.Allow)
	require.Equal(t, "v1", out.PolicyVersion)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestExternalClient_CacheServesRepeatWithoutUpstreamCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(wireResponse{V: 1, Decision: "allow", ReasonCode: "ok", PolicyVersion: "v1", TTLMS: 60000})
	}))
	defer srv.Close()

	c := NewExternalClient(ExternalConfig{
		Endpoint: srv.URL, Timeout: time.Second, FailMode: FailDeny,
		RetryMaxAttempts: 1, CircuitBreakerFailures: 5, CircuitBreakerOpenFor: time.Minute,
		CacheEnabled: true, CacheTTL: time.Minute, CacheMaxEntries: 100,
	})
	req := Request{TenantID: "t1", ActorID: "u1", RoomID: "r1", Source: "slack"}
	out1 := c.Evaluate(context.Background(), req)
	out2 := c.Evaluate(context.Background(), req)
	require.Equal(t, out1, out2)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestFailMode_ConvertsConsistently(t *testing.T) {
	deny := convertFailure(FailDeny, ReasonHTTPError)
	require.False(t, deny.Allow)
	require.Equal(t, "authz_http_error_deny", deny.ReasonCode)

	allow := convertFailure(FailAllow, ReasonHTTPError)
	require.True(t, allow.Allow)
	require.Equal(t, "authz_http_error_allow", allow.ReasonCode)

	fb := convertFailure(FailFallbackBuiltin, ReasonHTTPError)
	require.True(t, fb.Allow)
	require.Equal(t, "authz_http_error_fallback_builtin", fb.ReasonCode)
	require.Equal(t, "builtin:fallback", fb.PolicyVersion)
}
