package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viasnake/arbiter/internal/domain"
	"github.com/viasnake/arbiter/internal/store"
	"github.com/viasnake/arbiter/internal/store/memory"
	"github.com/viasnake/arbiter/internal/store/sqlitestore"
)

// backends returns one fresh instance of every store.Store implementation,
// named for failure reporting. Every pipeline-observable behavior must be
// identical across both, so every exercise below runs against each in turn.
func backends(t *testing.T) map[string]store.Store {
	t.Helper()
	sqlitePath := filepath.Join(t.TempDir(), "arbiter.db")
	sqliteBackend, err := sqlitestore.Open(sqlitePath)
	require.NoError(t, err)
	t.Cleanup(func() { sqliteBackend.Close() })

	return map[string]store.Store{
		"memory":   memory.New(),
		"sqlite":   sqliteBackend,
	}
}

func TestStore_IdempotencyRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := store.IdempotencyKey{TenantID: "t1", EventID: "e1"}

			_, ok, err := s.GetIdempotency(ctx, key)
			require.NoError(t, err)
			require.False(t, ok)

			plan := domain.ResponsePlan{
				PlanID: "plan_abc", TenantID: "t1", EventID: "e1",
				Actions: []domain.Action{{ActionID: "act_1", Type: "request_generation"}},
			}
			require.NoError(t, s.SaveIdempotency(ctx, key, "room-1", plan))

			got, ok, err := s.GetIdempotency(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, plan, *got)

			actx, ok, err := s.GetActionContext(ctx, "t1", "act_1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "plan_abc", actx.PlanID)
			require.Equal(t, "room-1", actx.RoomID)
			require.Equal(t, "request_generation", actx.ActionType)
		})
	}
}

func TestStore_RoomStateDefaultsToZeroValue(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rs, err := s.GetRoom(ctx, store.RoomKey{TenantID: "t1", RoomID: "r1"})
			require.NoError(t, err)
			require.False(t, rs.Generating)
			require.Equal(t, 0, rs.PendingQueue)
			require.Empty(t, rs.LastSendAt)

			require.NoError(t, s.SaveRoom(ctx, store.RoomKey{TenantID: "t1", RoomID: "r1"},
				domain.RoomState{Generating: true, PendingQueue: 2, LastSendAt: "2026-01-01T00:00:00Z"}))

			rs, err = s.GetRoom(ctx, store.RoomKey{TenantID: "t1", RoomID: "r1"})
			require.NoError(t, err)
			require.True(t, rs.Generating)
			require.Equal(t, 2, rs.PendingQueue)
			require.Equal(t, "2026-01-01T00:00:00Z", rs.LastSendAt)
		})
	}
}

func TestStore_TenantRateIncrement(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			count, err := s.GetTenantRateCount(ctx, "t1", 100)
			require.NoError(t, err)
			require.Equal(t, 0, count)

			require.NoError(t, s.IncrementTenantRate(ctx, "t1", 100))
			require.NoError(t, s.IncrementTenantRate(ctx, "t1", 100))

			count, err = s.GetTenantRateCount(ctx, "t1", 100)
			require.NoError(t, err)
			require.Equal(t, 2, count)
		})
	}
}

func TestStore_PendingGenerationTakeIsAtomic(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, ok, err := s.TakePending(ctx, "t1", "act_1")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.SavePending(ctx, "t1", "act_1", domain.PendingGeneration{
				TenantID: "t1", RoomID: "r1", ActionID: "act_1", Intent: "REPLY",
			}))

			p, ok, err := s.TakePending(ctx, "t1", "act_1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "r1", p.RoomID)

			_, ok, err = s.TakePending(ctx, "t1", "act_1")
			require.NoError(t, err)
			require.False(t, ok, "take_pending must remove the entry")
		})
	}
}

func TestStore_JobStateTransitionsPersist(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, ok, err := s.GetJobState(ctx, "t1", "job-1")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.SaveJobState(ctx, "t1", "job-1", domain.JobState{
				Status: domain.JobStarted, UpdatedAt: "2026-01-01T00:00:00Z",
			}))
			js, ok, err := s.GetJobState(ctx, "t1", "job-1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, domain.JobStarted, js.Status)

			require.NoError(t, s.SaveJobState(ctx, "t1", "job-1", domain.JobState{
				Status: domain.JobCompleted, UpdatedAt: "2026-01-01T00:01:00Z",
			}))
			js, ok, err = s.GetJobState(ctx, "t1", "job-1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, domain.JobCompleted, js.Status)
		})
	}
}

func TestStore_ActionResultIngestOutcomes(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := domain.ActionResult{
				TenantID: "t1", PlanID: "plan_1", ActionID: "act_1",
				Status: domain.ActionSucceeded, TS: "2026-01-01T00:00:00Z",
				PayloadFingerprint: "fp-a",
			}
			outcome, stored, err := s.IngestActionResult(ctx, r)
			require.NoError(t, err)
			require.Equal(t, store.Inserted, outcome)
			require.Equal(t, "fp-a", stored.PayloadFingerprint)

			outcome, stored, err = s.IngestActionResult(ctx, r)
			require.NoError(t, err)
			require.Equal(t, store.Duplicate, outcome)
			require.Equal(t, "fp-a", stored.PayloadFingerprint)

			conflicting := r
			conflicting.PayloadFingerprint = "fp-b"
			outcome, stored, err = s.IngestActionResult(ctx, conflicting)
			require.NoError(t, err)
			require.Equal(t, store.Conflict, outcome)
			require.Equal(t, "fp-a", stored.PayloadFingerprint, "conflict must return the originally stored record")

			got, ok, err := s.GetActionResult(ctx, "t1", "plan_1", "act_1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "fp-a", got.PayloadFingerprint)
		})
	}
}
