// Package pipeline orchestrates canonical hashing, identifier derivation,
// the state store, the authorization client, the gate evaluator, and the
// planner into process_event and the lifecycle-ingestion operations:
// numbered sequential steps, wrapped errors, invariant-check-then-
// persist-then-audit ordering.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/viasnake/arbiter/internal/apierr"
	"github.com/viasnake/arbiter/internal/audit"
	"github.com/viasnake/arbiter/internal/authz"
	"github.com/viasnake/arbiter/internal/domain"
	"github.com/viasnake/arbiter/internal/gate"
	"github.com/viasnake/arbiter/internal/ids"
	"github.com/viasnake/arbiter/internal/planner"
	"github.com/viasnake/arbiter/internal/store"
	"github.com/viasnake/arbiter/internal/telemetry"
)

// PlannerConfig is planner.Config plus the approval-specific knobs the
// pipeline needs that the planner package itself has no use for.
type PlannerConfig struct {
	planner.Config
	ApprovalTimeoutMS           int64
	ApprovalEscalationOnExpired bool
}

// PolicyConfig restricts which event sources and action types
// process_event will accept. An empty list leaves that dimension
// unrestricted.
type PolicyConfig struct {
	AllowedProviders   []string
	AllowedActionTypes []string
}

// Config bundles every configuration knob the pipeline reads.
type Config struct {
	Gate                 gate.Config
	Planner              PlannerConfig
	Policy               PolicyConfig
	IncludeAuthzDecision bool
}

// allowed reports whether val is in list, or list is empty (unrestricted).
func allowed(list []string, val string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == val {
			return true
		}
	}
	return false
}

// Pipeline is the orchestration boundary. One instance is built at server
// startup and shared across all request handlers; it holds no per-request
// state.
type Pipeline struct {
	Store   store.Store
	Audit   *audit.Writer
	Authz   authz.Client
	Config  Config

	// Telemetry is optional: a nil Provider leaves tracing against
	// whatever TracerProvider is globally registered (a no-op by
	// default) and silently skips reason-code metrics.
	Telemetry *telemetry.Provider

	// Now returns the server's notion of the current instant. Tests inject
	// a fixed clock; production uses time.Now.
	Now func() time.Time
}

// recordAuthzReason forwards an authorization reason code to the
// telemetry provider's counter, if one is configured.
func (p *Pipeline) recordAuthzReason(ctx context.Context, reasonCode string) {
	if p.Telemetry != nil {
		p.Telemetry.RecordAuthzReason(ctx, reasonCode)
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// span opens a child span against the globally registered TracerProvider
// (a no-op until telemetry.New registers a real one via
// otel.SetTracerProvider — see internal/telemetry), so process_event's
// instrumentation never depends on the pipeline holding a tracer handle.
func (p *Pipeline) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("arbiter.pipeline").Start(ctx, name)
}

// doNothingPlan builds a single-action do_nothing plan carrying reasonCode
// as the action's payload.
func doNothingPlan(tenantID, eventID, reasonCode string) domain.ResponsePlan {
	planID := ids.PlanID(tenantID, eventID)
	actionID := ids.ActionID(planID, "do_nothing", 0)
	return domain.ResponsePlan{
		PlanID:   planID,
		TenantID: tenantID,
		EventID:  eventID,
		Actions: []domain.Action{{
			ActionID: actionID,
			Type:     "do_nothing",
			Payload:  map[string]interface{}{"reason_code": reasonCode},
		}},
	}
}

func firstActionType(plan domain.ResponsePlan) string {
	if len(plan.Actions) == 0 {
		return ""
	}
	return plan.Actions[0].Type
}

// auditRecord is a small constructor keeping every call site's field list
// short; AuditID is always a fresh, non-reused identifier (the audit_id
// itself has no uniqueness contract beyond "present").
func auditRecord(tenantID, correlationID, action, result, reasonCode, ts, planID string, trace interface{}) audit.Record {
	rec := audit.Record{
		AuditID:       "audit_" + uuid.NewString(),
		TenantID:      tenantID,
		CorrelationID: correlationID,
		Action:        action,
		Result:        result,
		ReasonCode:    reasonCode,
		TS:            ts,
		PlanID:        planID,
	}
	if trace != nil {
		raw, err := json.Marshal(trace)
		if err == nil {
			rec.DecisionTrace = raw
		}
	}
	return rec
}

func (p *Pipeline) writeAudit(ctx context.Context, rec audit.Record) error {
	if _, err := p.Audit.Append(ctx, rec); err != nil {
		return apierr.AuditWriteFailed(err)
	}
	return nil
}

func nowRFC3339(t time.Time) string {
	return t.Format(time.RFC3339)
}

func durationMillis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
