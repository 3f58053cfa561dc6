package authz

import "context"

// Builtin is the synchronous pass-through authorization mode: every
// request is allowed with a fixed reason code and policy version.
type Builtin struct{}

// NewBuiltin returns a Client that always allows.
func NewBuiltin() *Builtin { return &Builtin{} }

func (b *Builtin) Evaluate(_ context.Context, _ Request) Outcome {
	return Outcome{Allow: true, ReasonCode: "builtin_allow_all", PolicyVersion: "builtin:v0"}
}
