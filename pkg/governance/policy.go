// Package governance evaluates governance policies attached to intents and
// portfolios: completion gating, write scoping and cost ceilings.
package governance

import (
	"fmt"
	"time"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// ActionComplete is the approval action consulted by completion gating.
const ActionComplete = "complete"

// Violation is returned when a policy rule blocks an operation. Rule names
// the triggering policy field so the HTTP layer can surface it.
type Violation struct {
	Rule   string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("governance violation (%s): %s", v.Rule, v.Reason)
}

// Policy is the parsed, validated form of a governance_policy map. Absent
// fields keep their zero value; HasMaxCost distinguishes "no ceiling" from
// a ceiling of zero.
type Policy struct {
	CompletionMode  models.CompletionMode
	QuorumThreshold float64
	WriteScope      models.WriteScope
	MaxCost         float64
	HasMaxCost      bool
}

// ParsePolicy validates a raw governance_policy map. Unknown keys are
// tolerated; known keys must carry well-formed values.
func ParsePolicy(raw models.JSONMap) (Policy, error) {
	var p Policy
	if len(raw) == 0 {
		return p, nil
	}

	if v, ok := raw[models.PolicyCompletionMode]; ok {
		s, ok := v.(string)
		if !ok {
			return p, fmt.Errorf("completion_mode must be a string")
		}
		mode := models.CompletionMode(s)
		if err := models.CompletionModeValidator(mode); err != nil {
			return p, err
		}
		p.CompletionMode = mode
	}

	if v, ok := raw[models.PolicyQuorumThreshold]; ok {
		f, ok := toFloat(v)
		if !ok {
			return p, fmt.Errorf("quorum_threshold must be a number")
		}
		if f <= 0 || f > 1 {
			return p, fmt.Errorf("quorum_threshold must be in (0,1], got %v", f)
		}
		p.QuorumThreshold = f
	}

	if v, ok := raw[models.PolicyWriteScope]; ok {
		s, ok := v.(string)
		if !ok {
			return p, fmt.Errorf("write_scope must be a string")
		}
		scope := models.WriteScope(s)
		if err := models.WriteScopeValidator(scope); err != nil {
			return p, err
		}
		p.WriteScope = scope
	}

	if v, ok := raw[models.PolicyMaxCost]; ok {
		f, ok := toFloat(v)
		if !ok {
			return p, fmt.Errorf("max_cost must be a number")
		}
		if f < 0 {
			return p, fmt.Errorf("max_cost must not be negative")
		}
		p.MaxCost = f
		p.HasMaxCost = true
	}

	return p, nil
}

// Compose folds portfolio policies into an intent's own policy, field by
// field, keeping the strictest value of each.
func Compose(intent Policy, portfolios ...Policy) Policy {
	out := intent
	for _, p := range portfolios {
		if completionRank(p.CompletionMode) > completionRank(out.CompletionMode) {
			out.CompletionMode = p.CompletionMode
		}
		if p.QuorumThreshold > out.QuorumThreshold {
			out.QuorumThreshold = p.QuorumThreshold
		}
		if p.WriteScope == models.WriteScopeAssignedOnly {
			out.WriteScope = models.WriteScopeAssignedOnly
		}
		if p.HasMaxCost && (!out.HasMaxCost || p.MaxCost < out.MaxCost) {
			out.MaxCost = p.MaxCost
			out.HasMaxCost = true
		}
	}
	return out
}

func completionRank(m models.CompletionMode) int {
	switch m {
	case models.CompletionRequireApproval:
		return 1
	case models.CompletionQuorum:
		return 2
	default:
		return 0
	}
}

// CheckCompletion decides whether a transition to completed passes the
// policy. approvals are the intent's approvals for ActionComplete;
// lastPatchedAt is the time of the latest state_patched event, nil when the
// state was never patched. An approval decided before the latest patch is
// stale and does not count.
func (p Policy) CheckCompletion(approvals []*models.Approval, lastPatchedAt *time.Time) error {
	switch p.CompletionMode {
	case models.CompletionRequireApproval:
		for _, a := range approvals {
			if a.Action == ActionComplete && a.Status == models.ApprovalApproved && isCurrent(a, lastPatchedAt) {
				return nil
			}
		}
		return &Violation{
			Rule:   models.PolicyCompletionMode,
			Reason: "completion requires a current approved approval for action \"complete\"",
		}

	case models.CompletionQuorum:
		var total, approved int
		for _, a := range approvals {
			if a.Action != ActionComplete {
				continue
			}
			total++
			if a.Status == models.ApprovalApproved && isCurrent(a, lastPatchedAt) {
				approved++
			}
		}
		if total == 0 || float64(approved)/float64(total) < p.QuorumThreshold {
			return &Violation{
				Rule:   models.PolicyCompletionMode,
				Reason: fmt.Sprintf("quorum not met: %d/%d approvals, threshold %.2f", approved, total, p.QuorumThreshold),
			}
		}
		return nil

	default:
		return nil
	}
}

func isCurrent(a *models.Approval, lastPatchedAt *time.Time) bool {
	if a.DecidedAt == nil {
		return false
	}
	if lastPatchedAt == nil {
		return true
	}
	return !a.DecidedAt.Before(*lastPatchedAt)
}

// CheckWriteScope decides whether the actor may mutate the intent under the
// write_scope rule. assignedAgents lists the intent's assignments.
func (p Policy) CheckWriteScope(actor string, assignedAgents []string) error {
	if p.WriteScope != models.WriteScopeAssignedOnly {
		return nil
	}
	for _, a := range assignedAgents {
		if a == actor {
			return nil
		}
	}
	return &Violation{
		Rule:   models.PolicyWriteScope,
		Reason: fmt.Sprintf("actor %q is not assigned to this intent", actor),
	}
}

// CheckCost decides whether recording amount on top of the running total
// stays under the max_cost ceiling.
func (p Policy) CheckCost(runningTotal, amount float64) error {
	if !p.HasMaxCost {
		return nil
	}
	if runningTotal+amount > p.MaxCost {
		return &Violation{
			Rule:   models.PolicyMaxCost,
			Reason: fmt.Sprintf("cost %.4f would raise the total to %.4f, over the ceiling %.4f", amount, runningTotal+amount, p.MaxCost),
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
