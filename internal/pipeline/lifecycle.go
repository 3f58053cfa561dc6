package pipeline

import (
	"context"

	"github.com/viasnake/arbiter/internal/apierr"
	"github.com/viasnake/arbiter/internal/canonical"
	"github.com/viasnake/arbiter/internal/domain"
	"github.com/viasnake/arbiter/internal/ids"
	"github.com/viasnake/arbiter/internal/store"
)

// idempotencyPrelude runs the validate-independent idempotency half of
// every lifecycle operation: given the already-computed fingerprint, it
// reports a stored plan on a byte-identical repeat, a conflict on a
// mismatched repeat, or (nil, nil) to proceed with fresh
// processing. The action label is only used for the idempotency_hit audit
// record.
func (p *Pipeline) idempotencyPrelude(ctx context.Context, key store.IdempotencyKey, incomingFP, action string) (*domain.ResponsePlan, error) {
	existing, hit, err := p.Store.GetIdempotency(ctx, key)
	if err != nil {
		return nil, apierr.StoreFailed(err)
	}
	if !hit {
		return nil, nil
	}
	storedFP, _, err := p.Store.GetEventPayload(ctx, key)
	if err != nil {
		return nil, apierr.StoreFailed(err)
	}
	if storedFP != incomingFP {
		return nil, apierr.NewPayloadMismatch(storedFP, incomingFP)
	}
	if err := p.writeAudit(ctx, auditRecord(key.TenantID, key.EventID, action, "idempotency_hit", "idempotency_hit", nowRFC3339(p.now()), existing.PlanID, nil)); err != nil {
		return nil, err
	}
	return existing, nil
}

func (p *Pipeline) finishLifecycle(ctx context.Context, key store.IdempotencyKey, roomID string, plan domain.ResponsePlan, incomingFP, action, reasonCode string) (domain.ResponsePlan, error) {
	if err := p.Store.SaveIdempotency(ctx, key, roomID, plan); err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	if err := p.Store.SaveEventPayload(ctx, key, incomingFP); err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	if err := p.writeAudit(ctx, auditRecord(key.TenantID, key.EventID, action, "ok", reasonCode, nowRFC3339(p.now()), plan.PlanID, nil)); err != nil {
		return domain.ResponsePlan{}, err
	}
	return plan, nil
}

// ProcessGeneration ingests a GenerationResult: it removes the matching
// PendingGeneration and emits a send plan, or a descriptive no-op if the
// action_id is unknown.
func (p *Pipeline) ProcessGeneration(ctx context.Context, gr domain.GenerationResult) (domain.ResponsePlan, error) {
	if verr := validateGenerationResult(gr); verr != nil {
		return domain.ResponsePlan{}, verr
	}
	incomingFP, err := canonical.Fingerprint(gr)
	if err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	key := store.IdempotencyKey{TenantID: gr.TenantID, EventID: gr.EventID}
	if existing, err := p.idempotencyPrelude(ctx, key, incomingFP, "process_generation"); err != nil || existing != nil {
		if existing != nil {
			return *existing, nil
		}
		return domain.ResponsePlan{}, err
	}

	pending, found, err := p.Store.TakePending(ctx, gr.TenantID, gr.ActionID)
	if err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}

	if !found {
		plan := doNothingPlan(gr.TenantID, gr.EventID, "generation_unknown_action")
		return p.finishLifecycle(ctx, key, "", plan, incomingFP, "process_generation", "generation_unknown_action")
	}

	roomKey := store.RoomKey{TenantID: gr.TenantID, RoomID: pending.RoomID}
	room, err := p.Store.GetRoom(ctx, roomKey)
	if err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	room.PendingQueue--
	if room.PendingQueue < 0 {
		room.PendingQueue = 0
	}
	room.Generating = room.PendingQueue > 0
	// last_send_at advances only on a successful send action-result, not
	// here — see the design notes' resolved open question.
	if err := p.Store.SaveRoom(ctx, roomKey, room); err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}

	actionType := "send_message"
	if pending.ReplyTo != "" {
		actionType = "send_reply"
	}
	planID := ids.PlanID(gr.TenantID, gr.EventID)
	actionID := ids.ActionID(planID, actionType, 0)
	action := domain.Action{
		ActionID: actionID,
		Type:     actionType,
		Payload:  map[string]interface{}{"text": gr.Text},
	}
	if pending.ReplyTo != "" {
		action.Target = map[string]interface{}{"reply_to": pending.ReplyTo}
	}
	plan := domain.ResponsePlan{PlanID: planID, TenantID: gr.TenantID, EventID: gr.EventID, Actions: []domain.Action{action}}

	return p.finishLifecycle(ctx, key, pending.RoomID, plan, incomingFP, "process_generation", actionType)
}

// ProcessJobStatus ingests a JobStatusEvent, enforcing the job state
// machine before applying the transition.
func (p *Pipeline) ProcessJobStatus(ctx context.Context, j domain.JobStatusEvent) (domain.ResponsePlan, error) {
	if verr := validateJobStatusEvent(j); verr != nil {
		return domain.ResponsePlan{}, verr
	}
	incomingFP, err := canonical.Fingerprint(j)
	if err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	key := store.IdempotencyKey{TenantID: j.TenantID, EventID: j.EventID}
	if existing, err := p.idempotencyPrelude(ctx, key, incomingFP, "process_job_status"); err != nil || existing != nil {
		if existing != nil {
			return *existing, nil
		}
		return domain.ResponsePlan{}, err
	}

	current, _, err := p.Store.GetJobState(ctx, j.TenantID, j.JobID)
	if err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	if !jobTransitionAllowed(current, j.Status) {
		return domain.ResponsePlan{}, apierr.NewInvalidTransition(jobStatusOrNone(current), string(j.Status))
	}

	if err := p.Store.SaveJobState(ctx, j.TenantID, j.JobID, domain.JobState{
		Status: j.Status, ReasonCode: j.ReasonCode, UpdatedAt: nowRFC3339(p.now()),
	}); err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}

	reasonCode := "job_status_" + string(j.Status)
	plan := doNothingPlan(j.TenantID, j.EventID, reasonCode)
	return p.finishLifecycle(ctx, key, "", plan, incomingFP, "process_job_status", reasonCode)
}

// ProcessJobCancel ingests a JobCancelRequest as a transition to
// "cancelled", subject to the same state machine as job-status events.
func (p *Pipeline) ProcessJobCancel(ctx context.Context, j domain.JobCancelRequest) (domain.ResponsePlan, error) {
	if verr := validateJobCancelRequest(j); verr != nil {
		return domain.ResponsePlan{}, verr
	}
	incomingFP, err := canonical.Fingerprint(j)
	if err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	key := store.IdempotencyKey{TenantID: j.TenantID, EventID: j.EventID}
	if existing, err := p.idempotencyPrelude(ctx, key, incomingFP, "process_job_cancel"); err != nil || existing != nil {
		if existing != nil {
			return *existing, nil
		}
		return domain.ResponsePlan{}, err
	}

	current, _, err := p.Store.GetJobState(ctx, j.TenantID, j.JobID)
	if err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	if !jobTransitionAllowed(current, domain.JobCancelled) {
		return domain.ResponsePlan{}, apierr.NewInvalidTransition(jobStatusOrNone(current), string(domain.JobCancelled))
	}

	if err := p.Store.SaveJobState(ctx, j.TenantID, j.JobID, domain.JobState{
		Status: domain.JobCancelled, UpdatedAt: nowRFC3339(p.now()),
	}); err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}

	plan := doNothingPlan(j.TenantID, j.EventID, "job_cancelled")
	return p.finishLifecycle(ctx, key, "", plan, incomingFP, "process_job_cancel", "job_cancelled")
}

// ProcessApprovalEvent ingests an ApprovalEvent, enforcing the approval
// state machine before applying the transition.
func (p *Pipeline) ProcessApprovalEvent(ctx context.Context, a domain.ApprovalEvent) (domain.ResponsePlan, error) {
	if verr := validateApprovalEvent(a); verr != nil {
		return domain.ResponsePlan{}, verr
	}
	incomingFP, err := canonical.Fingerprint(a)
	if err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	key := store.IdempotencyKey{TenantID: a.TenantID, EventID: a.EventID}
	if existing, err := p.idempotencyPrelude(ctx, key, incomingFP, "process_approval_event"); err != nil || existing != nil {
		if existing != nil {
			return *existing, nil
		}
		return domain.ResponsePlan{}, err
	}

	current, _, err := p.Store.GetApprovalState(ctx, a.TenantID, a.ApprovalID)
	if err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}
	if !approvalTransitionAllowed(current, a.Status) {
		return domain.ResponsePlan{}, apierr.NewInvalidTransition(approvalStatusOrNone(current), string(a.Status))
	}

	if err := p.Store.SaveApprovalState(ctx, a.TenantID, a.ApprovalID, domain.ApprovalState{
		Status: a.Status, ReasonCode: a.ReasonCode, UpdatedAt: nowRFC3339(p.now()),
	}); err != nil {
		return domain.ResponsePlan{}, apierr.StoreFailed(err)
	}

	reasonCode := "approval_" + string(a.Status)
	plan := doNothingPlan(a.TenantID, a.EventID, reasonCode)
	if a.Status == domain.ApprovalExpired && p.Config.Planner.ApprovalEscalationOnExpired {
		plan.Actions[0].Payload["debug"] = map[string]interface{}{"escalation": "notify_human"}
	}
	return p.finishLifecycle(ctx, key, "", plan, incomingFP, "process_approval_event", reasonCode)
}

// ProcessActionResult ingests a dispatched action's outcome. It never
// returns a plan — the HTTP surface answers 204 on success — only an
// error: a validation failure, a payload that conflicts with a previously
// stored result, or a store or audit write failure.
func (p *Pipeline) ProcessActionResult(ctx context.Context, r domain.ActionResult) error {
	if verr := validateActionResult(r); verr != nil {
		return verr
	}
	r.PayloadFingerprint = ""
	fp, err := canonical.Fingerprint(r)
	if err != nil {
		return apierr.StoreFailed(err)
	}
	r.PayloadFingerprint = fp

	now := p.now()
	correlationID := r.EventID
	if correlationID == "" {
		correlationID = r.ActionID
	}

	outcome, stored, err := p.Store.IngestActionResult(ctx, r)
	if err != nil {
		return apierr.StoreFailed(err)
	}

	switch outcome {
	case store.Conflict:
		return apierr.NewPayloadMismatch(stored.PayloadFingerprint, fp)
	case store.Duplicate:
		return p.writeAudit(ctx, auditRecord(r.TenantID, correlationID, "process_action_result", "idempotency_hit", "idempotency_hit", nowRFC3339(now), r.PlanID, nil))
	default: // store.Inserted
		if r.Status == domain.ActionSucceeded {
			if err := p.advanceLastSendOnSuccess(ctx, r); err != nil {
				return err
			}
		}
		return p.writeAudit(ctx, auditRecord(r.TenantID, correlationID, "process_action_result", "ok", string(r.Status), nowRFC3339(now), r.PlanID, nil))
	}
}

// advanceLastSendOnSuccess sets room.last_send_at when a send_message or
// send_reply action succeeds, so the cooldown is measured from when a
// message actually went out rather than from when it was only planned.
func (p *Pipeline) advanceLastSendOnSuccess(ctx context.Context, r domain.ActionResult) error {
	actx, found, err := p.Store.GetActionContext(ctx, r.TenantID, r.ActionID)
	if err != nil {
		return apierr.StoreFailed(err)
	}
	if !found || (actx.ActionType != "send_message" && actx.ActionType != "send_reply") {
		return nil
	}
	roomKey := store.RoomKey{TenantID: r.TenantID, RoomID: actx.RoomID}
	room, err := p.Store.GetRoom(ctx, roomKey)
	if err != nil {
		return apierr.StoreFailed(err)
	}
	room.LastSendAt = nowRFC3339(p.now())
	if err := p.Store.SaveRoom(ctx, roomKey, room); err != nil {
		return apierr.StoreFailed(err)
	}
	return nil
}
