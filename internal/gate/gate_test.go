package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viasnake/arbiter/internal/domain"
)

func TestEvaluate_GeneratingLockWinsOverEverythingElse(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	room := domain.RoomState{
		Generating:   true,
		PendingQueue: 999,
		LastSendAt:   now.Format(time.RFC3339),
	}
	cfg := Config{CooldownMS: 60000, MaxQueue: 1, TenantRateLimitPerMin: 1}
	d := Evaluate(room, now, cfg, 999)
	require.False(t, d.Allow)
	require.Equal(t, "gate_generating_lock", d.ReasonCode)
}

func TestEvaluate_CooldownUsesServerNowNotEventTS(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	lastSend := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	room := domain.RoomState{LastSendAt: lastSend.Format(time.RFC3339)}
	cfg := Config{CooldownMS: 60000}
	d := Evaluate(room, now, cfg, 0)
	require.False(t, d.Allow)
	require.Equal(t, "gate_cooldown", d.ReasonCode)
}

func TestEvaluate_Backpressure(t *testing.T) {
	now := time.Now()
	room := domain.RoomState{PendingQueue: 5}
	cfg := Config{MaxQueue: 5}
	d := Evaluate(room, now, cfg, 0)
	require.False(t, d.Allow)
	require.Equal(t, "gate_backpressure", d.ReasonCode)
}

func TestEvaluate_TenantRateLimit(t *testing.T) {
	now := time.Now()
	room := domain.RoomState{}
	cfg := Config{TenantRateLimitPerMin: 10}
	d := Evaluate(room, now, cfg, 10)
	require.False(t, d.Allow)
	require.Equal(t, "gate_tenant_rate_limit", d.ReasonCode)
}

func TestEvaluate_AllowWhenNothingTrips(t *testing.T) {
	now := time.Now()
	room := domain.RoomState{}
	cfg := Config{CooldownMS: 60000, MaxQueue: 5, TenantRateLimitPerMin: 10}
	d := Evaluate(room, now, cfg, 0)
	require.True(t, d.Allow)
	require.Equal(t, "gate_allow", d.ReasonCode)
}

func TestMinuteBucket_IsFloorDivision(t *testing.T) {
	now := time.Unix(125, 0)
	require.EqualValues(t, 2, MinuteBucket(now))
}
