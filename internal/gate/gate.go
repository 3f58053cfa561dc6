// Package gate implements the pure concurrency/rate admission check: room
// state + server-now + config + tenant count → allow or deny with a
// reason code. Same pure-function, config-in/decision-out shape as a
// backpressure evaluator, generalized to the gate's five-rule order.
package gate

import (
	"time"

	"github.com/viasnake/arbiter/internal/domain"
)

// Config is the subset of planner-adjacent configuration the gate reads.
type Config struct {
	CooldownMS           int64
	MaxQueue             int
	TenantRateLimitPerMin int
}

// Decision is the gate's verdict. ReasonCode is set on both allow
// ("gate_allow") and deny paths so callers never need to special-case it.
type Decision struct {
	Allow      bool
	ReasonCode string
}

const allowReason = "gate_allow"

// Evaluate runs the five ordered admission rules; the first match wins.
// serverNow is passed in explicitly (never read from the wall clock
// directly) so the rule that depends on it — cooldown — stays a pure,
// testable function.
func Evaluate(room domain.RoomState, serverNow time.Time, cfg Config, tenantCount int) Decision {
	if room.Generating {
		return Decision{Allow: false, ReasonCode: "gate_generating_lock"}
	}

	if cfg.CooldownMS > 0 && room.LastSendAt != "" {
		lastSend, err := time.Parse(time.RFC3339, room.LastSendAt)
		if err == nil {
			elapsed := serverNow.Sub(lastSend)
			if elapsed < time.Duration(cfg.CooldownMS)*time.Millisecond {
				return Decision{Allow: false, ReasonCode: "gate_cooldown"}
			}
		}
	}

	if cfg.MaxQueue > 0 && room.PendingQueue >= cfg.MaxQueue {
		return Decision{Allow: false, ReasonCode: "gate_backpressure"}
	}

	if cfg.TenantRateLimitPerMin > 0 && tenantCount >= cfg.TenantRateLimitPerMin {
		return Decision{Allow: false, ReasonCode: "gate_tenant_rate_limit"}
	}

	return Decision{Allow: true, ReasonCode: allowReason}
}

// MinuteBucket returns floor(serverNow.Unix() / 60), the tenant-rate
// bucket key.
func MinuteBucket(serverNow time.Time) int64 {
	return serverNow.Unix() / 60
}
