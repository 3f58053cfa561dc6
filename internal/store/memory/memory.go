// Package memory implements store.Store as process-lifetime, in-process
// hash maps guarded by a single mutex. Not durable: state is lost on
// restart.
package memory

import (
	"context"
	"sync"

	"github.com/viasnake/arbiter/internal/domain"
	"github.com/viasnake/arbiter/internal/store"
)

type idemKey = store.IdempotencyKey
type roomKey = store.RoomKey

type rateKey struct {
	tenantID string
	bucket   int64
}

type pendingKey struct {
	tenantID string
	actionID string
}

type actionResultKey struct {
	tenantID string
	planID   string
	actionID string
}

// Store is the in-memory backend. Zero value is not usable; use New.
type Store struct {
	mu sync.Mutex

	idempotency   map[idemKey]domain.ResponsePlan
	eventPayload  map[idemKey]string
	rooms         map[roomKey]domain.RoomState
	tenantRate    map[rateKey]int
	pending       map[pendingKey]domain.PendingGeneration
	jobs          map[string]domain.JobState     // key "tenant\x00job_id"
	approvals     map[string]domain.ApprovalState // key "tenant\x00approval_id"
	actionIndex   map[string]domain.ActionContext // key "tenant\x00action_id"
	actionResults map[actionResultKey]domain.ActionResult
}

// New returns an empty memory-backed Store.
func New() *Store {
	return &Store{
		idempotency:   make(map[idemKey]domain.ResponsePlan),
		eventPayload:  make(map[idemKey]string),
		rooms:         make(map[roomKey]domain.RoomState),
		tenantRate:    make(map[rateKey]int),
		pending:       make(map[pendingKey]domain.PendingGeneration),
		jobs:          make(map[string]domain.JobState),
		approvals:     make(map[string]domain.ApprovalState),
		actionIndex:   make(map[string]domain.ActionContext),
		actionResults: make(map[actionResultKey]domain.ActionResult),
	}
}

func jobKey(tenantID, jobID string) string      { return tenantID + "\x00" + jobID }
func approvalKey(tenantID, id string) string    { return tenantID + "\x00" + id }
func actionIdxKey(tenantID, actionID string) string { return tenantID + "\x00" + actionID }

func (s *Store) GetIdempotency(_ context.Context, key idemKey) (*domain.ResponsePlan, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.idempotency[key]
	if !ok {
		return nil, false, nil
	}
	cp := p
	return &cp, true, nil
}

func (s *Store) SaveIdempotency(_ context.Context, key idemKey, roomID string, plan domain.ResponsePlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idempotency[key] = plan
	for _, a := range plan.Actions {
		s.actionIndex[actionIdxKey(key.TenantID, a.ActionID)] = domain.ActionContext{
			TenantID:   key.TenantID,
			PlanID:     plan.PlanID,
			ActionType: a.Type,
			RoomID:     roomID,
		}
	}
	return nil
}

func (s *Store) GetEventPayload(_ context.Context, key idemKey) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.eventPayload[key]
	return fp, ok, nil
}

func (s *Store) SaveEventPayload(_ context.Context, key idemKey, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventPayload[key] = fingerprint
	return nil
}

func (s *Store) GetRoom(_ context.Context, key roomKey) (domain.RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[key], nil // zero value when absent
}

func (s *Store) SaveRoom(_ context.Context, key roomKey, state domain.RoomState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[key] = state
	return nil
}

func (s *Store) GetTenantRateCount(_ context.Context, tenantID string, bucket int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenantRate[rateKey{tenantID, bucket}], nil
}

func (s *Store) IncrementTenantRate(_ context.Context, tenantID string, bucket int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenantRate[rateKey{tenantID, bucket}]++
	return nil
}

func (s *Store) SavePending(_ context.Context, tenantID, actionID string, pending domain.PendingGeneration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[pendingKey{tenantID, actionID}] = pending
	return nil
}

func (s *Store) TakePending(_ context.Context, tenantID, actionID string) (*domain.PendingGeneration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pendingKey{tenantID, actionID}
	p, ok := s.pending[k]
	if !ok {
		return nil, false, nil
	}
	delete(s.pending, k)
	return &p, true, nil
}

func (s *Store) SaveJobState(_ context.Context, tenantID, jobID string, state domain.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobKey(tenantID, jobID)] = state
	return nil
}

func (s *Store) GetJobState(_ context.Context, tenantID, jobID string) (*domain.JobState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobKey(tenantID, jobID)]
	if !ok {
		return nil, false, nil
	}
	return &j, true, nil
}

func (s *Store) SaveApprovalState(_ context.Context, tenantID, approvalID string, state domain.ApprovalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[approvalKey(tenantID, approvalID)] = state
	return nil
}

func (s *Store) GetApprovalState(_ context.Context, tenantID, approvalID string) (*domain.ApprovalState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[approvalKey(tenantID, approvalID)]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (s *Store) GetActionContext(_ context.Context, tenantID, actionID string) (*domain.ActionContext, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actionIndex[actionIdxKey(tenantID, actionID)]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (s *Store) IngestActionResult(_ context.Context, result domain.ActionResult) (store.IngestOutcome, *domain.ActionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := actionResultKey{result.TenantID, result.PlanID, result.ActionID}
	existing, ok := s.actionResults[k]
	if !ok {
		s.actionResults[k] = result
		cp := result
		return store.Inserted, &cp, nil
	}
	if existing.PayloadFingerprint == result.PayloadFingerprint {
		cp := existing
		return store.Duplicate, &cp, nil
	}
	cp := existing
	return store.Conflict, &cp, nil
}

func (s *Store) GetActionResult(_ context.Context, tenantID, planID, actionID string) (*domain.ActionResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.actionResults[actionResultKey{tenantID, planID, actionID}]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (s *Store) Close() error { return nil }
