// Package domain defines the wire and persistence types shared by the
// pipeline and the HTTP transport: events, response plans, lifecycle
// request bodies, and the state-machine value types they carry.
package domain

import "encoding/json"

// ContractVersion is the only accepted value of an inbound payload's "v"
// field. A mismatch is a validation error, not a negotiation.
const ContractVersion = 1

// ActorType enumerates who originated an event.
type ActorType string

const (
	ActorHuman   ActorType = "human"
	ActorService ActorType = "service"
	ActorSystem  ActorType = "system"
)

// Actor identifies and authorizes the originator of an event.
type Actor struct {
	Type   ActorType         `json:"type"`
	ID     string            `json:"id"`
	Roles  []string          `json:"roles,omitempty"`
	Claims map[string]string `json:"claims,omitempty"`
}

// Content is the payload carried by an Event. Only text content is
// recognized; Type must equal "text".
type Content struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// Event is the normalized shape of every inbound adapter submission.
// (tenant_id, event_id) is the idempotency key and is immutable once
// accepted.
type Event struct {
	V          int                    `json:"v"`
	EventID    string                 `json:"event_id"`
	TenantID   string                 `json:"tenant_id"`
	Source     string                 `json:"source"`
	RoomID     string                 `json:"room_id"`
	Actor      Actor                  `json:"actor"`
	Content    Content                `json:"content"`
	TS         string                 `json:"ts"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// ExtensionAction reads event.extensions.arbiter_action, returning "" when
// absent or not a string.
func (e *Event) ExtensionAction() string {
	if e.Extensions == nil {
		return ""
	}
	v, ok := e.Extensions["arbiter_action"]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// RoomState is the per-(tenant_id, room_id) concurrency record the gate
// evaluator reads and the pipeline mutates.
type RoomState struct {
	Generating   bool   `json:"generating"`
	PendingQueue int    `json:"pending_queue_size"`
	LastSendAt   string `json:"last_send_at,omitempty"`
}

// PendingGeneration is created when the pipeline emits a request_generation
// action and consumed when the matching GenerationResult arrives.
type PendingGeneration struct {
	TenantID string `json:"tenant_id"`
	RoomID   string `json:"room_id"`
	ActionID string `json:"action_id"`
	ReplyTo  string `json:"reply_to,omitempty"`
	Intent   string `json:"intent"`
}

// Action is one concrete step of a ResponsePlan.
type Action struct {
	ActionID string                 `json:"action_id"`
	Type     string                 `json:"type"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Target   map[string]interface{} `json:"target,omitempty"`
}

// ResponsePlan is the output of process_event and every lifecycle
// ingestion operation.
type ResponsePlan struct {
	PlanID   string   `json:"plan_id"`
	TenantID string   `json:"tenant_id"`
	EventID  string   `json:"event_id"`
	Actions  []Action `json:"actions"`
}

// CanonicalPlan returns the subset of the plan that participates in
// idempotency fingerprinting: deterministic fields only, no transport
// metadata.
func (p ResponsePlan) CanonicalPlan() interface{} {
	return p
}

// GenerationResult is the body of POST /v1/generations: the adapter's
// report that a previously requested generation finished.
type GenerationResult struct {
	V        int    `json:"v"`
	EventID  string `json:"event_id"`
	TenantID string `json:"tenant_id"`
	ActionID string `json:"action_id"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
}

// JobStatus enumerates the lifecycle of a background job.
type JobStatus string

const (
	JobStarted   JobStatus = "started"
	JobHeartbeat JobStatus = "heartbeat"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether status accepts only same-status repeats.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// JobStatusEvent is the body of POST /v1/job-events.
type JobStatusEvent struct {
	V          int       `json:"v"`
	EventID    string    `json:"event_id"`
	TenantID   string    `json:"tenant_id"`
	JobID      string    `json:"job_id"`
	Status     JobStatus `json:"status"`
	ReasonCode string    `json:"reason_code,omitempty"`
	TS         string    `json:"ts"`
}

// JobCancelRequest is the body of POST /v1/job-cancel.
type JobCancelRequest struct {
	V        int    `json:"v"`
	EventID  string `json:"event_id"`
	TenantID string `json:"tenant_id"`
	JobID    string `json:"job_id"`
	TS       string `json:"ts"`
}

// JobState is the persisted (tenant_id, job_id) record.
type JobState struct {
	Status     JobStatus `json:"status"`
	ReasonCode string    `json:"reason_code,omitempty"`
	UpdatedAt  string    `json:"updated_at"`
}

// ApprovalStatus enumerates the lifecycle of a human approval request.
type ApprovalStatus string

const (
	ApprovalRequested ApprovalStatus = "requested"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalExpired   ApprovalStatus = "expired"
)

// Terminal reports whether status accepts only same-status repeats.
func (s ApprovalStatus) Terminal() bool {
	switch s {
	case ApprovalApproved, ApprovalRejected, ApprovalExpired:
		return true
	default:
		return false
	}
}

// ApprovalEvent is the body of POST /v1/approval-events.
type ApprovalEvent struct {
	V          int            `json:"v"`
	EventID    string         `json:"event_id"`
	TenantID   string         `json:"tenant_id"`
	ApprovalID string         `json:"approval_id"`
	Status     ApprovalStatus `json:"status"`
	ReasonCode string         `json:"reason_code,omitempty"`
	TS         string         `json:"ts"`
}

// ApprovalState is the persisted (tenant_id, approval_id) record.
type ApprovalState struct {
	Status     ApprovalStatus `json:"status"`
	ReasonCode string         `json:"reason_code,omitempty"`
	UpdatedAt  string         `json:"updated_at"`
}

// ActionResultStatus enumerates the terminal outcome of a dispatched action.
type ActionResultStatus string

const (
	ActionSucceeded ActionResultStatus = "succeeded"
	ActionFailed    ActionResultStatus = "failed"
	ActionSkipped   ActionResultStatus = "skipped"
)

// ActionResult is both the wire body of POST /v1/action-results and the
// persisted ledger entry keyed by (tenant_id, plan_id, action_id).
type ActionResult struct {
	V                int                `json:"v"`
	EventID          string             `json:"event_id,omitempty"`
	TenantID         string             `json:"tenant_id"`
	PlanID           string             `json:"plan_id"`
	ActionID         string             `json:"action_id"`
	Status           ActionResultStatus `json:"status"`
	TS               string             `json:"ts"`
	ProviderMessageID string            `json:"provider_message_id,omitempty"`
	ReasonCode       string             `json:"reason_code,omitempty"`
	Error            string             `json:"error,omitempty"`
	PayloadFingerprint string           `json:"payload_fingerprint,omitempty"`
}

// ActionContext recovers the room/plan context an action belongs to,
// populated when a plan is indexed.
type ActionContext struct {
	TenantID   string `json:"tenant_id"`
	PlanID     string `json:"plan_id"`
	ActionType string `json:"action_type"`
	RoomID     string `json:"room_id"`
}

// StateResponse is the GET response shape for job and approval state
// lookups.
type StateResponse struct {
	TenantID   string `json:"tenant_id"`
	ID         string `json:"id"`
	Status     string `json:"status"`
	ReasonCode string `json:"reason_code,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

// DecisionTrace records the reasoning behind a process_event decision for
// the audit record's optional decision_trace field.
type DecisionTrace struct {
	Gate    string          `json:"gate,omitempty"`
	Authz   *AuthzTrace     `json:"authz,omitempty"`
	Planner *PlannerTrace   `json:"planner,omitempty"`
	Extra   json.RawMessage `json:"extra,omitempty"`
}

// AuthzTrace is the authz portion of a decision trace.
type AuthzTrace struct {
	Outcome       string `json:"outcome"`
	ReasonCode    string `json:"reason_code"`
	PolicyVersion string `json:"policy_version"`
}

// PlannerTrace is the planner portion of a decision trace.
type PlannerTrace struct {
	ReplyPolicy         string  `json:"reply_policy"`
	ChosenIntent        string  `json:"chosen_intent"`
	Seed                string  `json:"seed"`
	SampledProbability  float64 `json:"sampled_probability"`
}
