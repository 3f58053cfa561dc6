// Package store defines the state-store boundary the pipeline runs
// against: idempotency cache, per-room concurrency state, pending
// generations, tenant rate buckets, job/approval state machines, and the
// action-result ledger. Two backends satisfy Store — memory and
// sqlitestore — and are tested for behavioral equivalence.
package store

import (
	"context"
	"errors"

	"github.com/viasnake/arbiter/internal/domain"
)

// ErrNotFound is not returned by either backend: single-key lookups
// report a miss through their boolean result, and GetRoom returns the
// zero RoomState when the room is absent.
var ErrNotFound = errors.New("store: not found")

// IdempotencyKey is the (tenant_id, event_id) pair every inbound event and
// lifecycle event is keyed on for conflict detection.
type IdempotencyKey struct {
	TenantID string
	EventID  string
}

// RoomKey scopes a RoomState to one tenant's room.
type RoomKey struct {
	TenantID string
	RoomID   string
}

// IngestOutcome classifies the result of IngestActionResult.
type IngestOutcome int

const (
	// Inserted means this was the first time (tenant, plan, action) was seen.
	Inserted IngestOutcome = iota
	// Duplicate means the stored payload_fingerprint equals the incoming one.
	Duplicate
	// Conflict means a different payload_fingerprint is already stored.
	Conflict
)

// Store is the full persistence contract the pipeline depends on. Every
// method is synchronous from the caller's perspective and atomic per key;
// implementations take a store-wide exclusive hold around each composite
// read-then-write operation rather than exposing separate lock primitives.
type Store interface {
	// GetIdempotency returns the previously stored plan for key, if present.
	GetIdempotency(ctx context.Context, key IdempotencyKey) (*domain.ResponsePlan, bool, error)
	// SaveIdempotency stores plan and indexes each of its actions into the
	// action index under roomID. Overwrites are only ever issued by
	// legitimate repeats (byte-identical plan) by contract with the caller.
	SaveIdempotency(ctx context.Context, key IdempotencyKey, roomID string, plan domain.ResponsePlan) error

	// GetEventPayload returns the fingerprint stored for key, if present.
	GetEventPayload(ctx context.Context, key IdempotencyKey) (string, bool, error)
	// SaveEventPayload stores the fingerprint for key.
	SaveEventPayload(ctx context.Context, key IdempotencyKey, fingerprint string) error

	// GetRoom returns the RoomState for key, or its zero value if absent.
	GetRoom(ctx context.Context, key RoomKey) (domain.RoomState, error)
	// SaveRoom upserts the RoomState for key.
	SaveRoom(ctx context.Context, key RoomKey, state domain.RoomState) error

	// GetTenantRateCount returns the accepted-event count for tenant in bucket.
	GetTenantRateCount(ctx context.Context, tenantID string, bucket int64) (int, error)
	// IncrementTenantRate increments the count for tenant in bucket by 1.
	IncrementTenantRate(ctx context.Context, tenantID string, bucket int64) error

	// SavePending stores a PendingGeneration keyed by (tenant_id, action_id).
	SavePending(ctx context.Context, tenantID, actionID string, pending domain.PendingGeneration) error
	// TakePending removes and returns the PendingGeneration for
	// (tenant_id, action_id), atomically.
	TakePending(ctx context.Context, tenantID, actionID string) (*domain.PendingGeneration, bool, error)

	// SaveJobState upserts the JobState for (tenant_id, job_id); UpdatedAt is
	// set by the implementation to the caller-supplied server-now value.
	SaveJobState(ctx context.Context, tenantID, jobID string, state domain.JobState) error
	// GetJobState fetches the JobState for (tenant_id, job_id).
	GetJobState(ctx context.Context, tenantID, jobID string) (*domain.JobState, bool, error)

	// SaveApprovalState upserts the ApprovalState for (tenant_id, approval_id).
	SaveApprovalState(ctx context.Context, tenantID, approvalID string, state domain.ApprovalState) error
	// GetApprovalState fetches the ApprovalState for (tenant_id, approval_id).
	GetApprovalState(ctx context.Context, tenantID, approvalID string) (*domain.ApprovalState, bool, error)

	// GetActionContext recovers the plan/room context an action belongs to.
	GetActionContext(ctx context.Context, tenantID, actionID string) (*domain.ActionContext, bool, error)

	// IngestActionResult inserts result if (tenant, plan, action) is unseen,
	// reports Duplicate if the stored payload_fingerprint matches, or
	// Conflict otherwise. The returned record is the stored one in all
	// three cases (freshly inserted, prior duplicate, or prior conflicting).
	IngestActionResult(ctx context.Context, result domain.ActionResult) (IngestOutcome, *domain.ActionResult, error)
	// GetActionResult fetches the stored result for (tenant, plan, action).
	GetActionResult(ctx context.Context, tenantID, planID, actionID string) (*domain.ActionResult, bool, error)

	// Close releases any resources (file handles, connections) held open.
	Close() error
}
