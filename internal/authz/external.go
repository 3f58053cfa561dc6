package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// wireRequest is the typed request body sent to the external endpoint.
type wireRequest struct {
	V             int         `json:"v"`
	TenantID      string      `json:"tenant_id"`
	CorrelationID string      `json:"correlation_id"`
	Actor         wireActor   `json:"actor"`
	Request       wireAction  `json:"request"`
}

type wireActor struct {
	ID string `json:"id"`
}

type wireAction struct {
	Action   string       `json:"action"`
	Resource wireResource `json:"resource"`
	Context  wireContext  `json:"context"`
}

type wireResource struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type wireContext struct {
	EventID string `json:"event_id"`
}

// wireResponse is the typed response body; Obligations is left as a raw
// map since its shape is not otherwise constrained by the contract.
type wireResponse struct {
	V             int                    `json:"v"`
	Decision      string                 `json:"decision"`
	ReasonCode    string                 `json:"reason_code"`
	PolicyVersion string                 `json:"policy_version"`
	Obligations   map[string]interface{} `json:"obligations"`
	TTLMS         int                    `json:"ttl_ms"`
}

func (r wireResponse) contractValid(expectedV int) bool {
	if r.V != expectedV {
		return false
	}
	if r.Decision != "allow" && r.Decision != "deny" {
		return false
	}
	if r.PolicyVersion == "" {
		return false
	}
	return true
}

// ExternalConfig configures ExternalClient.
type ExternalConfig struct {
	Endpoint               string
	Timeout                time.Duration
	FailMode               FailMode
	RetryMaxAttempts       int
	RetryBackoff           time.Duration
	CircuitBreakerFailures int
	CircuitBreakerOpenFor  time.Duration
	CacheEnabled           bool
	CacheTTL               time.Duration
	CacheMaxEntries        int
}

// ExternalClient calls a configured HTTP endpoint with per-attempt
// timeout, bounded retry, a circuit breaker, and an optional TTL cache:
// the same retry-with-backoff and breaker-gated Do loop as a generic
// resilient HTTP wrapper, generalized to the authorization contract.
type ExternalClient struct {
	httpClient *http.Client
	cfg        ExternalConfig
	breaker    *CircuitBreaker
	cache      *Cache // nil when disabled
}

// NewExternalClient builds an ExternalClient. cfg.Endpoint must be
// non-empty; an empty endpoint means the caller should use
// authz_unconfigured instead of constructing this client.
func NewExternalClient(cfg ExternalConfig) *ExternalClient {
	var cache *Cache
	if cfg.CacheEnabled {
		cache = NewCache(cfg.CacheMaxEntries)
	}
	return &ExternalClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		breaker:    NewCircuitBreaker(cfg.CircuitBreakerFailures, cfg.CircuitBreakerOpenFor),
		cache:      cache,
	}
}

// Evaluate implements Client.
func (c *ExternalClient) Evaluate(ctx context.Context, req Request) Outcome {
	var cacheKey string
	if c.cache != nil {
		cacheKey = CacheKey(req)
		if outcome, ok := c.cache.Get(cacheKey); ok {
			return outcome
		}
	}

	if !c.breaker.Allow() {
		return convertFailure(c.cfg.FailMode, ReasonCircuitOpen)
	}

	resp, ttl, failureReason := c.attempt(ctx, req)
	if failureReason != "" {
		c.breaker.Failure()
		return convertFailure(c.cfg.FailMode, failureReason)
	}
	c.breaker.Success()

	outcome := Outcome{
		Allow:         resp.Decision == "allow",
		ReasonCode:    resp.ReasonCode,
		PolicyVersion: resp.PolicyVersion,
		Obligations:   resp.Obligations,
	}

	if c.cache != nil {
		effectiveTTL := c.cfg.CacheTTL
		if ttl > 0 && ttl < effectiveTTL {
			effectiveTTL = ttl
		} else if ttl > 0 && c.cfg.CacheTTL == 0 {
			effectiveTTL = ttl
		}
		c.cache.Set(cacheKey, outcome, effectiveTTL)
	}
	return outcome
}

// attempt runs the retry loop for a single Evaluate call. It returns a
// non-empty failureReason exactly when resp should not be used. A
// contract-invalid response is terminal and never retried; transport
// errors, non-2xx responses, and parse errors are retried up to
// RetryMaxAttempts.
func (c *ExternalClient) attempt(ctx context.Context, req Request) (wireResponse, time.Duration, string) {
	body := wireRequest{
		V:             1,
		TenantID:      req.TenantID,
		CorrelationID: req.CorrelationID,
		Actor:         wireActor{ID: req.ActorID},
		Request: wireAction{
			Action: "process_event",
			Resource: wireResource{
				Type:       "room",
				ID:         req.RoomID,
				Attributes: map[string]string{"source": req.Source},
			},
			Context: wireContext{EventID: req.CorrelationID},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return wireResponse{}, 0, ReasonTransportError
	}

	attempts := c.cfg.RetryMaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastReason string
	for i := 0; i < attempts; i++ {
		resp, reason := c.doOnce(ctx, payload)
		if reason == "" {
			return resp, time.Duration(resp.TTLMS) * time.Millisecond, ""
		}
		if reason == ReasonContractInvalid {
			return wireResponse{}, 0, reason
		}
		lastReason = reason
		if i < attempts-1 && c.cfg.RetryBackoff > 0 {
			select {
			case <-time.After(c.cfg.RetryBackoff):
			case <-ctx.Done():
				return wireResponse{}, 0, ReasonTransportError
			}
		}
	}
	return wireResponse{}, 0, lastReason
}

func (c *ExternalClient) doOnce(ctx context.Context, payload []byte) (wireResponse, string) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return wireResponse{}, ReasonTransportError
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return wireResponse{}, ReasonTransportError
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return wireResponse{}, ReasonHTTPError
	}

	var decoded wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return wireResponse{}, ReasonParseError
	}
	if !decoded.contractValid(1) {
		return wireResponse{}, ReasonContractInvalid
	}
	return decoded, ""
}
