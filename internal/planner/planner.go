// Package planner implements the pure intent-selection function: event +
// planner config → IGNORE/REPLY/MESSAGE. A pure function of its inputs,
// so determinism is a property test rather than an integration test.
package planner

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/viasnake/arbiter/internal/domain"
)

// Intent is the planner's output, later shaped into a concrete plan.
type Intent string

const (
	Ignore  Intent = "IGNORE"
	Reply   Intent = "REPLY"
	Message Intent = "MESSAGE"
)

// ReplyPolicy enumerates the recognized planner.reply_policy values.
// Anything else falls through to Ignore.
type ReplyPolicy string

const (
	PolicyAll           ReplyPolicy = "all"
	PolicyReplyOnly     ReplyPolicy = "reply_only"
	PolicyMentionFirst  ReplyPolicy = "mention_first"
	PolicyProbabilistic ReplyPolicy = "probabilistic"
)

// Config is the planner-relevant slice of configuration.
type Config struct {
	ReplyPolicy      ReplyPolicy
	ReplyProbability float64
}

// Decision carries the chosen intent plus the inputs that produced it, so
// the pipeline can attach a full decision trace to the audit record
// without recomputing the seed.
type Decision struct {
	Intent             Intent
	Mentioned          bool
	SampledProbability float64
	Seed               string // hex sha256(event_id), for audit traceability
}

const mentionToken = "@arbiter"

// Plan selects the intent for event under cfg.
func Plan(event domain.Event, cfg Config) Decision {
	if event.Content.ReplyTo != "" {
		return Decision{Intent: Reply}
	}

	mentioned := strings.Contains(strings.ToLower(event.Content.Text), mentionToken)
	p, seed := sampleProbability(event.EventID)

	d := Decision{Mentioned: mentioned, SampledProbability: p, Seed: seed}

	switch cfg.ReplyPolicy {
	case PolicyAll:
		d.Intent = Message
	case PolicyReplyOnly:
		if mentioned {
			d.Intent = Reply
		} else {
			d.Intent = Ignore
		}
	case PolicyMentionFirst:
		switch {
		case mentioned:
			d.Intent = Reply
		case p < cfg.ReplyProbability:
			d.Intent = Message
		default:
			d.Intent = Ignore
		}
	case PolicyProbabilistic:
		if p < cfg.ReplyProbability {
			d.Intent = Message
		} else {
			d.Intent = Ignore
		}
	default:
		d.Intent = Ignore
	}
	return d
}

// sampleProbability computes the deterministic pseudo-probability
// p = (u64_be(sha256(event_id)[0:8]) mod 10000) / 10000.0, along with the
// hex-encoded seed for audit traceability.
func sampleProbability(eventID string) (float64, string) {
	sum := sha256.Sum256([]byte(eventID))
	seedBytes := sum[:8]
	n := binary.BigEndian.Uint64(seedBytes)
	return float64(n%10000) / 10000.0, hex.EncodeToString(sum[:])
}
