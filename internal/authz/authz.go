// Package authz produces an allow/deny authorization outcome per event,
// either via a synchronous builtin pass-through or an external HTTP
// service guarded by timeout, bounded retry, a circuit breaker, and a TTL
// decision cache: the same retry/backoff shape and circuit breaker state
// machine common to resilient HTTP clients, generalized to the
// authorization contract.
package authz

import (
	"context"
)

// FailMode controls how a failed external call is classified.
type FailMode string

const (
	FailDeny            FailMode = "deny"
	FailAllow           FailMode = "allow"
	FailFallbackBuiltin FailMode = "fallback_builtin"
)

// Failure reason codes an external call can terminate with, before
// fail-mode conversion.
const (
	ReasonTransportError  = "authz_transport_error"
	ReasonHTTPError       = "authz_http_error"
	ReasonParseError      = "authz_contract_parse_error"
	ReasonContractInvalid = "authz_contract_invalid"
	ReasonUnconfigured    = "authz_unconfigured"
	ReasonCircuitOpen     = "authz_circuit_open"
)

// Request is the context authz.Client needs to reach a decision.
type Request struct {
	TenantID      string
	CorrelationID string // event_id
	ActorID       string
	RoomID        string
	Source        string
}

// Outcome is the converted allow/deny decision the gate/planner stages of
// the pipeline act on; it is always populated, never an error — failures
// are converted by fail-mode before reaching the caller.
type Outcome struct {
	Allow         bool
	ReasonCode    string
	PolicyVersion string
	Obligations   map[string]interface{}
}

// Client produces an Outcome for a Request.
type Client interface {
	Evaluate(ctx context.Context, req Request) Outcome
}

// convertFailure applies the fail-mode table to a failure reason.
func convertFailure(mode FailMode, reason string) Outcome {
	switch mode {
	case FailAllow:
		return Outcome{Allow: true, ReasonCode: reason + "_allow", PolicyVersion: "builtin:v0"}
	case FailFallbackBuiltin:
		return Outcome{Allow: true, ReasonCode: reason + "_fallback_builtin", PolicyVersion: "builtin:fallback"}
	case FailDeny:
		fallthrough
	default:
		return Outcome{Allow: false, ReasonCode: reason + "_deny"}
	}
}
