package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanID_Deterministic(t *testing.T) {
	a := PlanID("tenant-1", "evt-1")
	b := PlanID("tenant-1", "evt-1")
	require.Equal(t, a, b)
	require.Len(t, a, len(planPrefix)+16)
	require.Contains(t, a, planPrefix)
}

func TestPlanID_DistinctInputsDiverge(t *testing.T) {
	a := PlanID("tenant-1", "evt-1")
	b := PlanID("tenant-1", "evt-2")
	c := PlanID("tenant-2", "evt-1")
	require.NotEqual(t, a, b)
	require.NotEqual(t, a, c)
}

func TestPlanID_NoDelimiterCollision(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide via naive concatenation; the
	// 0x00 separator must prevent tenant/event boundary ambiguity.
	a := PlanID("ab", "c")
	b := PlanID("a", "bc")
	require.NotEqual(t, a, b)
}

func TestActionID_Deterministic(t *testing.T) {
	plan := PlanID("tenant-1", "evt-1")
	a := ActionID(plan, "send_message", 0)
	b := ActionID(plan, "send_message", 0)
	require.Equal(t, a, b)
	require.Contains(t, a, actionPrefix)
}

func TestActionID_IndexSensitive(t *testing.T) {
	plan := PlanID("tenant-1", "evt-1")
	a := ActionID(plan, "send_message", 0)
	b := ActionID(plan, "send_message", 1)
	require.NotEqual(t, a, b)
}

func TestActionID_KindSensitive(t *testing.T) {
	plan := PlanID("tenant-1", "evt-1")
	a := ActionID(plan, "send_message", 0)
	b := ActionID(plan, "request_generation", 0)
	require.NotEqual(t, a, b)
}
