package pipeline

import (
	"context"
	"time"

	"github.com/viasnake/arbiter/internal/apierr"
	"github.com/viasnake/arbiter/internal/authz"
	"github.com/viasnake/arbiter/internal/canonical"
	"github.com/viasnake/arbiter/internal/domain"
	"github.com/viasnake/arbiter/internal/gate"
	"github.com/viasnake/arbiter/internal/ids"
	"github.com/viasnake/arbiter/internal/planner"
	"github.com/viasnake/arbiter/internal/store"
)

// ProcessEvent runs the full decision pipeline: validate, fingerprint,
// idempotency check, gate, authorize, plan, persist, audit.
func (p *Pipeline) ProcessEvent(ctx context.Context, event domain.Event) (domain.ResponsePlan, error) {
	ctx, span := p.span(ctx, "arbiter.pipeline.process_event")
	defer span.End()

	// 1. Validate shape.
	if verr := validateEvent(event); verr != nil {
		return domain.ResponsePlan{}, verr
	}

	// 1b. Policy: reject events from a source that isn't on the allow-list
	// before any state is touched.
	if !allowed(p.Config.Policy.AllowedProviders, event.Source) {
		return domain.ResponsePlan{}, apierr.NewProviderNotAllowed(event.Source, p.Config.Policy.AllowedProviders)
	}

	// 2. Compute incoming fingerprint.
	incomingFP, err := canonical.Fingerprint(event)
	if err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}

	idemKey := store.IdempotencyKey{TenantID: event.TenantID, EventID: event.EventID}

	// 3. Idempotency check.
	existingPlan, hit, err := p.Store.GetIdempotency(ctx, idemKey)
	if err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	if hit {
		storedFP, _, err := p.Store.GetEventPayload(ctx, idemKey)
		if err != nil {
			return domain.ResponsePlan{}, apierr.StoreFailed(err)
		}
		if storedFP == incomingFP {
			if err := p.writeAudit(ctx, auditRecord(event.TenantID, event.EventID, "process_event", "idempotency_hit", "idempotency_hit", nowRFC3339(p.now()), existingPlan.PlanID, nil)); err != nil {
				return domain.ResponsePlan{}, err
			}
			return *existingPlan, nil
		}
		return domain.ResponsePlan{}, apierr.NewPayloadMismatch(storedFP, incomingFP)
	}

	now := p.now()
	roomKey := store.RoomKey{TenantID: event.TenantID, RoomID: event.RoomID}

	// 4. Gate.
	gateCtx, gateSpan := p.span(ctx, "arbiter.pipeline.gate")
	room, err := p.Store.GetRoom(gateCtx, roomKey)
	if err != nil {
		gateSpan.End()
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	bucket := gate.MinuteBucket(now)
	tenantCount, err := p.Store.GetTenantRateCount(gateCtx, event.TenantID, bucket)
	if err != nil {
		gateSpan.End()
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	decision := gate.Evaluate(room, now, p.Config.Gate, tenantCount)
	gateSpan.End()
	if !decision.Allow {
		plan := doNothingPlan(event.TenantID, event.EventID, decision.ReasonCode)
		if err := p.persistAndAuditDenied(ctx, idemKey, event.RoomID, plan, incomingFP, "gate", decision.ReasonCode, now); err != nil {
			return domain.ResponsePlan{}, err
		}
		return plan, nil
	}

	// 5. Authorize. A deny here is never persisted to idempotency — a
	// resubmission must re-decide, since the breaker/cache state may have
	// changed.
	authzCtx, authzSpan := p.span(ctx, "arbiter.pipeline.authorize")
	outcome := p.Authz.Evaluate(authzCtx, authz.Request{
		TenantID: event.TenantID, CorrelationID: event.EventID, ActorID: event.Actor.ID,
		RoomID: event.RoomID, Source: event.Source,
	})
	authzSpan.End()
	p.recordAuthzReason(ctx, outcome.ReasonCode)
	if !outcome.Allow {
		plan := doNothingPlan(event.TenantID, event.EventID, outcome.ReasonCode)
		if err := p.writeAudit(ctx, auditRecord(event.TenantID, event.EventID, "authz", "deny", outcome.ReasonCode, nowRFC3339(now), plan.PlanID, nil)); err != nil {
			return domain.ResponsePlan{}, err
		}
		return plan, nil
	}

	// 6. Plan: intent -> concrete plan, honoring the per-event action
	// override.
	_, plannerSpan := p.span(ctx, "arbiter.pipeline.plan")
	plannerDecision := planner.Plan(event, p.Config.Planner.Config)
	plannerSpan.End()
	actionOverride := event.ExtensionAction()
	if actionOverride == "" {
		actionOverride = "request_generation"
	}

	// 6b. Policy: reject a requested action type not on the allow-list.
	// do_nothing is the planner's own decision, never client-requested, so
	// it is exempt.
	if plannerDecision.Intent != planner.Ignore && !allowed(p.Config.Policy.AllowedActionTypes, actionOverride) {
		return domain.ResponsePlan{}, apierr.NewActionTypeNotAllowed(actionOverride, p.Config.Policy.AllowedActionTypes)
	}

	var plan domain.ResponsePlan
	var chosenActionType string
	if plannerDecision.Intent == planner.Ignore {
		chosenActionType = "do_nothing"
		plan = doNothingPlan(event.TenantID, event.EventID, "planner_ignore")
	} else {
		chosenActionType = actionOverride
		planID := ids.PlanID(event.TenantID, event.EventID)
		actionID := ids.ActionID(planID, chosenActionType, 0)
		action := domain.Action{ActionID: actionID, Type: chosenActionType, Payload: map[string]interface{}{}}
		if chosenActionType == "request_approval" {
			approvalID := "approval:" + event.EventID
			expiresAt := nowRFC3339(now.Add(durationMillis(p.Config.Planner.ApprovalTimeoutMS)))
			action.Payload["approval_id"] = approvalID
			action.Payload["expires_at"] = expiresAt
			action.Target = map[string]interface{}{"approval_id": approvalID, "expires_at": expiresAt}
		}
		plan = domain.ResponsePlan{PlanID: planID, TenantID: event.TenantID, EventID: event.EventID, Actions: []domain.Action{action}}
	}

	// 7. Update room/pending state for request_generation.
	if chosenActionType == "request_generation" {
		room.Generating = true
		room.PendingQueue++
		if err := p.Store.SaveRoom(ctx, roomKey, room); err != nil {
			return domain.ResponsePlan{}, apierr.StoreFailed(err)
		}
		pending := domain.PendingGeneration{
			TenantID: event.TenantID, RoomID: event.RoomID,
			ActionID: plan.Actions[0].ActionID, ReplyTo: event.Content.ReplyTo,
			Intent: string(plannerDecision.Intent),
		}
		if err := p.Store.SavePending(ctx, event.TenantID, plan.Actions[0].ActionID, pending); err != nil {
			return domain.ResponsePlan{}, apierr.StoreFailed(err)
		}
	}

	// 8. Bump tenant rate.
	if err := p.Store.IncrementTenantRate(ctx, event.TenantID, bucket); err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}

	// 9. Save idempotency + event fingerprint + action index.
	if err := p.Store.SaveIdempotency(ctx, idemKey, event.RoomID, plan); err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	if err := p.Store.SaveEventPayload(ctx, idemKey, incomingFP); err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}

	// 10. Audit with full decision trace.
	trace := domain.DecisionTrace{
		Gate: "allow",
		Planner: &domain.PlannerTrace{
			ReplyPolicy:        string(p.Config.Planner.ReplyPolicy),
			ChosenIntent:       string(plannerDecision.Intent),
			Seed:               plannerDecision.Seed,
			SampledProbability: plannerDecision.SampledProbability,
		},
	}
	if p.Config.IncludeAuthzDecision {
		trace.Authz = &domain.AuthzTrace{Outcome: "allow", ReasonCode: outcome.ReasonCode, PolicyVersion: outcome.PolicyVersion}
	}
	if err := p.writeAudit(ctx, auditRecord(event.TenantID, event.EventID, "process_event", "ok", firstActionType(plan), nowRFC3339(now), plan.PlanID, trace)); err != nil {
		return domain.ResponsePlan{}, err
	}

	return plan, nil
}

// persistAndAuditDenied stores the idempotency+payload entry for a
// gate-denied event (so resubmission is a pure idempotency hit, not a
// re-evaluation — unlike authz denials, which never persist) and writes
// the audit record.
func (p *Pipeline) persistAndAuditDenied(ctx context.Context, key store.IdempotencyKey, roomID string, plan domain.ResponsePlan, incomingFP, action, reasonCode string, now time.Time) error {
	if err := p.Store.SaveIdempotency(ctx, key, roomID, plan); err != nil {
		return apierr.StoreFailed(err)
	}
	if err := p.Store.SaveEventPayload(ctx, key, incomingFP); err != nil {
		return apierr.StoreFailed(err)
	}
	return p.writeAudit(ctx, auditRecord(key.TenantID, key.EventID, action, "deny", reasonCode, nowRFC3339(now), plan.PlanID, nil))
}
