package pipeline

import (
	"time"

	"github.com/viasnake/arbiter/internal/apierr"
	"github.com/viasnake/arbiter/internal/domain"
)

func validationError(msg string) *apierr.ValidationError {
	return &apierr.ValidationError{Msg: msg}
}

func requireNonEmpty(field, value string) *apierr.ValidationError {
	if value == "" {
		return validationError(field + " must not be empty")
	}
	return nil
}

func requireVersion(v int) *apierr.ValidationError {
	if v != domain.ContractVersion {
		return validationError("unsupported contract version")
	}
	return nil
}

func requireRFC3339(ts string) *apierr.ValidationError {
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		return validationError("ts is not a valid RFC3339 timestamp")
	}
	return nil
}

// validateEvent checks an incoming event's shape before it enters the
// decision pipeline.
func validateEvent(e domain.Event) *apierr.ValidationError {
	if err := requireVersion(e.V); err != nil {
		return err
	}
	for _, f := range []struct{ name, val string }{
		{"event_id", e.EventID}, {"tenant_id", e.TenantID}, {"source", e.Source}, {"room_id", e.RoomID},
		{"actor.id", e.Actor.ID},
	} {
		if err := requireNonEmpty(f.name, f.val); err != nil {
			return err
		}
	}
	switch e.Actor.Type {
	case domain.ActorHuman, domain.ActorService, domain.ActorSystem:
	default:
		return validationError("actor.type must be one of human, service, system")
	}
	if e.Content.Type != "text" {
		return validationError("content.type must be \"text\"")
	}
	return requireRFC3339(e.TS)
}

func validateGenerationResult(g domain.GenerationResult) *apierr.ValidationError {
	if err := requireVersion(g.V); err != nil {
		return err
	}
	for _, f := range []struct{ name, val string }{
		{"event_id", g.EventID}, {"tenant_id", g.TenantID}, {"action_id", g.ActionID},
	} {
		if err := requireNonEmpty(f.name, f.val); err != nil {
			return err
		}
	}
	return requireRFC3339(g.TS)
}

func validateJobStatusEvent(j domain.JobStatusEvent) *apierr.ValidationError {
	if err := requireVersion(j.V); err != nil {
		return err
	}
	for _, f := range []struct{ name, val string }{
		{"event_id", j.EventID}, {"tenant_id", j.TenantID}, {"job_id", j.JobID},
	} {
		if err := requireNonEmpty(f.name, f.val); err != nil {
			return err
		}
	}
	switch j.Status {
	case domain.JobStarted, domain.JobHeartbeat, domain.JobCompleted, domain.JobFailed, domain.JobCancelled:
	default:
		return validationError("status is not a recognized job status")
	}
	return requireRFC3339(j.TS)
}

func validateJobCancelRequest(j domain.JobCancelRequest) *apierr.ValidationError {
	if err := requireVersion(j.V); err != nil {
		return err
	}
	for _, f := range []struct{ name, val string }{
		{"event_id", j.EventID}, {"tenant_id", j.TenantID}, {"job_id", j.JobID},
	} {
		if err := requireNonEmpty(f.name, f.val); err != nil {
			return err
		}
	}
	return requireRFC3339(j.TS)
}

func validateApprovalEvent(a domain.ApprovalEvent) *apierr.ValidationError {
	if err := requireVersion(a.V); err != nil {
		return err
	}
	for _, f := range []struct{ name, val string }{
		{"event_id", a.EventID}, {"tenant_id", a.TenantID}, {"approval_id", a.ApprovalID},
	} {
		if err := requireNonEmpty(f.name, f.val); err != nil {
			return err
		}
	}
	switch a.Status {
	case domain.ApprovalRequested, domain.ApprovalApproved, domain.ApprovalRejected, domain.ApprovalExpired:
	default:
		return validationError("status is not a recognized approval status")
	}
	return requireRFC3339(a.TS)
}

func validateActionResult(r domain.ActionResult) *apierr.ValidationError {
	if err := requireVersion(r.V); err != nil {
		return err
	}
	for _, f := range []struct{ name, val string }{
		{"tenant_id", r.TenantID}, {"plan_id", r.PlanID}, {"action_id", r.ActionID},
	} {
		if err := requireNonEmpty(f.name, f.val); err != nil {
			return err
		}
	}
	switch r.Status {
	case domain.ActionSucceeded, domain.ActionFailed, domain.ActionSkipped:
	default:
		return validationError("status is not a recognized action result status")
	}
	return requireRFC3339(r.TS)
}
