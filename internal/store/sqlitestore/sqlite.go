// Package sqlitestore implements store.Store over a single embedded
// SQLite file via the pure-Go modernc.org/sqlite driver (no CGo). Schema
// is created on open with CREATE TABLE IF NOT EXISTS, one table per
// entity. Access is serialized behind a single mutex: the backend is
// single-writer within one process.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/viasnake/arbiter/internal/audit"
	"github.com/viasnake/arbiter/internal/domain"
	"github.com/viasnake/arbiter/internal/store"
)

// Store is the embedded-relational backend.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates/opens the SQLite file at path and ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer, avoid SQLITE_BUSY under the Go pool
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS idempotency (
			tenant_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			plan_json TEXT NOT NULL,
			PRIMARY KEY (tenant_id, event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS event_payloads (
			tenant_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			PRIMARY KEY (tenant_id, event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			tenant_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			generating INTEGER NOT NULL,
			pending_queue_size INTEGER NOT NULL,
			last_send_at TEXT,
			PRIMARY KEY (tenant_id, room_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tenant_rate (
			tenant_id TEXT NOT NULL,
			bucket INTEGER NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (tenant_id, bucket)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_generations (
			tenant_id TEXT NOT NULL,
			action_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			reply_to TEXT,
			intent TEXT NOT NULL,
			PRIMARY KEY (tenant_id, action_id)
		)`,
		`CREATE TABLE IF NOT EXISTS job_states (
			tenant_id TEXT NOT NULL,
			job_id TEXT NOT NULL,
			status TEXT NOT NULL,
			reason_code TEXT,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, job_id)
		)`,
		`CREATE TABLE IF NOT EXISTS approval_states (
			tenant_id TEXT NOT NULL,
			approval_id TEXT NOT NULL,
			status TEXT NOT NULL,
			reason_code TEXT,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, approval_id)
		)`,
		`CREATE TABLE IF NOT EXISTS action_index (
			tenant_id TEXT NOT NULL,
			action_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			action_type TEXT NOT NULL,
			room_id TEXT NOT NULL,
			PRIMARY KEY (tenant_id, action_id)
		)`,
		`CREATE TABLE IF NOT EXISTS action_results (
			tenant_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			action_id TEXT NOT NULL,
			status TEXT NOT NULL,
			ts TEXT NOT NULL,
			provider_message_id TEXT,
			reason_code TEXT,
			error TEXT,
			payload_fingerprint TEXT,
			PRIMARY KEY (tenant_id, plan_id, action_id)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_records (
			audit_id TEXT NOT NULL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			action TEXT NOT NULL,
			result TEXT NOT NULL,
			reason_code TEXT NOT NULL,
			ts TEXT NOT NULL,
			plan_id TEXT,
			decision_trace TEXT,
			prev_hash TEXT NOT NULL,
			record_hash TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlitestore: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) GetIdempotency(ctx context.Context, key store.IdempotencyKey) (*domain.ResponsePlan, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT plan_json FROM idempotency WHERE tenant_id = ? AND event_id = ?`,
		key.TenantID, key.EventID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitestore: get idempotency: %w", err)
	}
	var plan domain.ResponsePlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, false, fmt.Errorf("sqlitestore: decode plan: %w", err)
	}
	return &plan, true, nil
}

func (s *Store) SaveIdempotency(ctx context.Context, key store.IdempotencyKey, roomID string, plan domain.ResponsePlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode plan: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO idempotency (tenant_id, event_id, room_id, plan_json) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tenant_id, event_id) DO UPDATE SET room_id = excluded.room_id, plan_json = excluded.plan_json`,
		key.TenantID, key.EventID, roomID, string(raw)); err != nil {
		return fmt.Errorf("sqlitestore: save idempotency: %w", err)
	}
	for _, a := range plan.Actions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO action_index (tenant_id, action_id, plan_id, action_type, room_id) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(tenant_id, action_id) DO UPDATE SET plan_id = excluded.plan_id, action_type = excluded.action_type, room_id = excluded.room_id`,
			key.TenantID, a.ActionID, plan.PlanID, a.Type, roomID); err != nil {
			return fmt.Errorf("sqlitestore: index action: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetEventPayload(ctx context.Context, key store.IdempotencyKey) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fp string
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM event_payloads WHERE tenant_id = ? AND event_id = ?`,
		key.TenantID, key.EventID).Scan(&fp)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlitestore: get event payload: %w", err)
	}
	return fp, true, nil
}

func (s *Store) SaveEventPayload(ctx context.Context, key store.IdempotencyKey, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_payloads (tenant_id, event_id, fingerprint) VALUES (?, ?, ?)
		 ON CONFLICT(tenant_id, event_id) DO UPDATE SET fingerprint = excluded.fingerprint`,
		key.TenantID, key.EventID, fingerprint)
	if err != nil {
		return fmt.Errorf("sqlitestore: save event payload: %w", err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, key store.RoomKey) (domain.RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var generating int
	var pending int
	var lastSend sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT generating, pending_queue_size, last_send_at FROM rooms WHERE tenant_id = ? AND room_id = ?`,
		key.TenantID, key.RoomID).Scan(&generating, &pending, &lastSend)
	if err == sql.ErrNoRows {
		return domain.RoomState{}, nil
	}
	if err != nil {
		return domain.RoomState{}, fmt.Errorf("sqlitestore: get room: %w", err)
	}
	return domain.RoomState{
		Generating:   generating != 0,
		PendingQueue: pending,
		LastSendAt:   lastSend.String,
	}, nil
}

func (s *Store) SaveRoom(ctx context.Context, key store.RoomKey, state domain.RoomState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := 0
	if state.Generating {
		g = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (tenant_id, room_id, generating, pending_queue_size, last_send_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, room_id) DO UPDATE SET generating = excluded.generating, pending_queue_size = excluded.pending_queue_size, last_send_at = excluded.last_send_at`,
		key.TenantID, key.RoomID, g, state.PendingQueue, nullable(state.LastSendAt))
	if err != nil {
		return fmt.Errorf("sqlitestore: save room: %w", err)
	}
	return nil
}

func (s *Store) GetTenantRateCount(ctx context.Context, tenantID string, bucket int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM tenant_rate WHERE tenant_id = ? AND bucket = ?`, tenantID, bucket).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: get tenant rate: %w", err)
	}
	return count, nil
}

func (s *Store) IncrementTenantRate(ctx context.Context, tenantID string, bucket int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_rate (tenant_id, bucket, count) VALUES (?, ?, 1)
		 ON CONFLICT(tenant_id, bucket) DO UPDATE SET count = count + 1`,
		tenantID, bucket)
	if err != nil {
		return fmt.Errorf("sqlitestore: increment tenant rate: %w", err)
	}
	return nil
}

func (s *Store) SavePending(ctx context.Context, tenantID, actionID string, pending domain.PendingGeneration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_generations (tenant_id, action_id, room_id, reply_to, intent) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, action_id) DO UPDATE SET room_id = excluded.room_id, reply_to = excluded.reply_to, intent = excluded.intent`,
		tenantID, actionID, pending.RoomID, nullable(pending.ReplyTo), pending.Intent)
	if err != nil {
		return fmt.Errorf("sqlitestore: save pending: %w", err)
	}
	return nil
}

func (s *Store) TakePending(ctx context.Context, tenantID, actionID string) (*domain.PendingGeneration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()

	var roomID string
	var replyTo sql.NullString
	var intent string
	err = tx.QueryRowContext(ctx,
		`SELECT room_id, reply_to, intent FROM pending_generations WHERE tenant_id = ? AND action_id = ?`,
		tenantID, actionID).Scan(&roomID, &replyTo, &intent)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitestore: take pending: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_generations WHERE tenant_id = ? AND action_id = ?`, tenantID, actionID); err != nil {
		return nil, false, fmt.Errorf("sqlitestore: delete pending: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return &domain.PendingGeneration{
		TenantID: tenantID,
		RoomID:   roomID,
		ActionID: actionID,
		ReplyTo:  replyTo.String,
		Intent:   intent,
	}, true, nil
}

func (s *Store) SaveJobState(ctx context.Context, tenantID, jobID string, state domain.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_states (tenant_id, job_id, status, reason_code, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, job_id) DO UPDATE SET status = excluded.status, reason_code = excluded.reason_code, updated_at = excluded.updated_at`,
		tenantID, jobID, string(state.Status), nullable(state.ReasonCode), state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlitestore: save job state: %w", err)
	}
	return nil
}

func (s *Store) GetJobState(ctx context.Context, tenantID, jobID string) (*domain.JobState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var status string
	var reason sql.NullString
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, reason_code, updated_at FROM job_states WHERE tenant_id = ? AND job_id = ?`,
		tenantID, jobID).Scan(&status, &reason, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitestore: get job state: %w", err)
	}
	return &domain.JobState{Status: domain.JobStatus(status), ReasonCode: reason.String, UpdatedAt: updatedAt}, true, nil
}

func (s *Store) SaveApprovalState(ctx context.Context, tenantID, approvalID string, state domain.ApprovalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_states (tenant_id, approval_id, status, reason_code, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, approval_id) DO UPDATE SET status = excluded.status, reason_code = excluded.reason_code, updated_at = excluded.updated_at`,
		tenantID, approvalID, string(state.Status), nullable(state.ReasonCode), state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlitestore: save approval state: %w", err)
	}
	return nil
}

func (s *Store) GetApprovalState(ctx context.Context, tenantID, approvalID string) (*domain.ApprovalState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var status string
	var reason sql.NullString
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, reason_code, updated_at FROM approval_states WHERE tenant_id = ? AND approval_id = ?`,
		tenantID, approvalID).Scan(&status, &reason, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitestore: get approval state: %w", err)
	}
	return &domain.ApprovalState{Status: domain.ApprovalStatus(status), ReasonCode: reason.String, UpdatedAt: updatedAt}, true, nil
}

func (s *Store) GetActionContext(ctx context.Context, tenantID, actionID string) (*domain.ActionContext, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var planID, actionType, roomID string
	err := s.db.QueryRowContext(ctx,
		`SELECT plan_id, action_type, room_id FROM action_index WHERE tenant_id = ? AND action_id = ?`,
		tenantID, actionID).Scan(&planID, &actionType, &roomID)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitestore: get action context: %w", err)
	}
	return &domain.ActionContext{TenantID: tenantID, PlanID: planID, ActionType: actionType, RoomID: roomID}, true, nil
}

func (s *Store) IngestActionResult(ctx context.Context, result domain.ActionResult) (store.IngestOutcome, *domain.ActionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok, err := s.getActionResultLocked(ctx, result.TenantID, result.PlanID, result.ActionID)
	if err != nil {
		return 0, nil, err
	}
	if ok {
		if existing.PayloadFingerprint == result.PayloadFingerprint {
			return store.Duplicate, existing, nil
		}
		return store.Conflict, existing, nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO action_results (tenant_id, plan_id, action_id, status, ts, provider_message_id, reason_code, error, payload_fingerprint)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.TenantID, result.PlanID, result.ActionID, string(result.Status), result.TS,
		nullable(result.ProviderMessageID), nullable(result.ReasonCode), nullable(result.Error), nullable(result.PayloadFingerprint))
	if err != nil {
		return 0, nil, fmt.Errorf("sqlitestore: ingest action result: %w", err)
	}
	cp := result
	return store.Inserted, &cp, nil
}

func (s *Store) GetActionResult(ctx context.Context, tenantID, planID, actionID string) (*domain.ActionResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getActionResultLocked(ctx, tenantID, planID, actionID)
}

// getActionResultLocked assumes s.mu is already held.
func (s *Store) getActionResultLocked(ctx context.Context, tenantID, planID, actionID string) (*domain.ActionResult, bool, error) {
	var status, ts string
	var providerMsgID, reasonCode, errText, fingerprint sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT status, ts, provider_message_id, reason_code, error, payload_fingerprint
		 FROM action_results WHERE tenant_id = ? AND plan_id = ? AND action_id = ?`,
		tenantID, planID, actionID).Scan(&status, &ts, &providerMsgID, &reasonCode, &errText, &fingerprint)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitestore: get action result: %w", err)
	}
	return &domain.ActionResult{
		TenantID:           tenantID,
		PlanID:             planID,
		ActionID:           actionID,
		Status:             domain.ActionResultStatus(status),
		TS:                 ts,
		ProviderMessageID:  providerMsgID.String,
		ReasonCode:         reasonCode.String,
		Error:              errText.String,
		PayloadFingerprint: fingerprint.String,
	}, true, nil
}

// InsertAuditRecord implements audit.RelationalSink so this backend can
// optionally receive a copy of every audit record alongside the JSONL
// sink. The JSONL file remains the source of truth the verifier checks;
// this table exists for queryability only.
func (s *Store) InsertAuditRecord(ctx context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records (audit_id, tenant_id, correlation_id, action, result, reason_code, ts, plan_id, decision_trace, prev_hash, record_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(audit_id) DO NOTHING`,
		rec.AuditID, rec.TenantID, rec.CorrelationID, rec.Action, rec.Result, rec.ReasonCode, rec.TS,
		nullable(rec.PlanID), nullable(string(rec.DecisionTrace)), rec.PrevHash, rec.RecordHash)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert audit record: %w", err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
