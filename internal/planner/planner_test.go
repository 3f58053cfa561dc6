package planner

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/viasnake/arbiter/internal/domain"
)

func TestPlan_ReplyToAlwaysWins(t *testing.T) {
	e := domain.Event{EventID: "e1", Content: domain.Content{Text: "anything", ReplyTo: "m1"}}
	d := Plan(e, Config{ReplyPolicy: PolicyProbabilistic, ReplyProbability: 0})
	require.Equal(t, Reply, d.Intent)
}

func TestPlan_AllPolicyAlwaysMessages(t *testing.T) {
	e := domain.Event{EventID: "e1", Content: domain.Content{Text: "hi"}}
	d := Plan(e, Config{ReplyPolicy: PolicyAll})
	require.Equal(t, Message, d.Intent)
}

func TestPlan_ReplyOnlyRequiresMention(t *testing.T) {
	mentioned := domain.Event{EventID: "e1", Content: domain.Content{Text: "hey @ARBITER help"}}
	unmentioned := domain.Event{EventID: "e2", Content: domain.Content{Text: "hey there"}}

	d1 := Plan(mentioned, Config{ReplyPolicy: PolicyReplyOnly})
	require.Equal(t, Reply, d1.Intent)
	require.True(t, d1.Mentioned)

	d2 := Plan(unmentioned, Config{ReplyPolicy: PolicyReplyOnly})
	require.Equal(t, Ignore, d2.Intent)
}

func TestPlan_UnknownPolicyIgnores(t *testing.T) {
	e := domain.Event{EventID: "e1", Content: domain.Content{Text: "hi"}}
	d := Plan(e, Config{ReplyPolicy: "nonsense"})
	require.Equal(t, Ignore, d.Intent)
}

func TestPlan_ProbabilisticBoundary(t *testing.T) {
	e := domain.Event{EventID: "deterministic-seed", Content: domain.Content{Text: "hi"}}
	d0 := Plan(e, Config{ReplyPolicy: PolicyProbabilistic, ReplyProbability: 0})
	require.Equal(t, Ignore, d0.Intent, "probability 0 threshold never admits p >= 0")

	d1 := Plan(e, Config{ReplyPolicy: PolicyProbabilistic, ReplyProbability: 1})
	require.Equal(t, Message, d1.Intent, "probability 1 threshold admits any p < 1")
}

// TestPlan_DeterministicProperty checks that the planner is a pure
// function: repeated calls with the same inputs must be byte-identical.
func TestPlan_DeterministicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	policies := []ReplyPolicy{PolicyAll, PolicyReplyOnly, PolicyMentionFirst, PolicyProbabilistic}

	properties.Property("same event and config always choose the same intent", prop.ForAll(
		func(eventID, text string, policyIdx int, prob float64) bool {
			e := domain.Event{EventID: eventID, Content: domain.Content{Text: text}}
			cfg := Config{ReplyPolicy: policies[policyIdx%len(policies)], ReplyProbability: prob}
			d1 := Plan(e, cfg)
			d2 := Plan(e, cfg)
			return d1 == d2
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, 100),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
