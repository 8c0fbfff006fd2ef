// Package policy decides whether a proposed action may run on its own.
package policy

import (
	"fmt"
	"math"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// DefaultThreshold is the minimum confidence for autonomous execution.
const DefaultThreshold = 0.85

// Verdict is the gate's routing decision.
type Verdict string

const (
	VerdictAutoExecute   Verdict = "auto_execute"
	VerdictNeedsApproval Verdict = "needs_approval"
	VerdictReject        Verdict = "reject"
)

// alwaysManual can never run without a human, whatever the confidence.
var alwaysManual = map[entity.ActionType]bool{
	entity.ActionPayment:           true,
	entity.ActionNewContactMessage: true,
	entity.ActionSocialPost:        true,
	entity.ActionFileDelete:        true,
}

// IsAlwaysManual reports whether t is in the fixed human-only set.
func IsAlwaysManual(t entity.ActionType) bool {
	return alwaysManual[t]
}

// Policy holds the tunable parts of the gate.
type Policy struct {
	Threshold float64
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold}
}

// Validate ensures the threshold is a probability.
func (p Policy) Validate() error {
	if p.Threshold < 0.0 || p.Threshold > 1.0 {
		return fmt.Errorf("threshold must be between 0.0 and 1.0, got %.4f", p.Threshold)
	}
	return nil
}

// Decision is a verdict plus a human-readable rationale for the audit trail.
type Decision struct {
	Verdict   Verdict
	Rationale string
}

// Evaluate routes a proposed action. It is a pure function of its inputs.
func Evaluate(action *entity.ProposedAction, p Policy) Decision {
	switch {
	case action == nil:
		return Decision{Verdict: VerdictReject, Rationale: "no proposed action"}

	case !action.Type.IsValid():
		return Decision{Verdict: VerdictReject, Rationale: fmt.Sprintf("unknown action type %q", action.Type)}

	case math.IsNaN(action.Confidence) || action.Confidence < 0 || action.Confidence > 1:
		return Decision{Verdict: VerdictReject, Rationale: fmt.Sprintf("confidence %v outside [0,1]", action.Confidence)}

	case alwaysManual[action.Type]:
		return Decision{
			Verdict:   VerdictNeedsApproval,
			Rationale: fmt.Sprintf("%s always requires human approval", action.Type),
		}

	case action.RequiresApproval:
		return Decision{Verdict: VerdictNeedsApproval, Rationale: "oracle requested human approval"}

	case action.Confidence >= p.Threshold:
		return Decision{
			Verdict:   VerdictAutoExecute,
			Rationale: fmt.Sprintf("confidence %.4f >= threshold %.4f", action.Confidence, p.Threshold),
		}

	default:
		return Decision{
			Verdict:   VerdictNeedsApproval,
			Rationale: fmt.Sprintf("confidence %.4f below threshold %.4f", action.Confidence, p.Threshold),
		}
	}
}
