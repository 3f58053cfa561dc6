// Package ids derives deterministic plan and action identifiers from
// tenant/event/kind tuples via SHA-256 prefixing. Derivation never touches
// the store or the clock: the same inputs always yield the same ids,
// across processes, platforms, and time.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

const (
	planPrefix   = "plan_"
	actionPrefix = "act_"
)

// PlanID derives plan_id = "plan_" + hex(sha256(tenant_id || 0x00 || event_id))[0:16].
func PlanID(tenantID, eventID string) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0x00})
	h.Write([]byte(eventID))
	return planPrefix + hex.EncodeToString(h.Sum(nil))[:16]
}

// ActionID derives
// action_id = "act_" + hex(sha256(plan_id || 0x00 || kind_name || 0x00 || decimal(index)))[0:16].
// index is the action's position within the plan's action list, starting at 0.
func ActionID(planID, kindName string, index int) string {
	h := sha256.New()
	h.Write([]byte(planID))
	h.Write([]byte{0x00})
	h.Write([]byte(kindName))
	h.Write([]byte{0x00})
	h.Write([]byte(strconv.Itoa(index)))
	return actionPrefix + hex.EncodeToString(h.Sum(nil))[:16]
}
