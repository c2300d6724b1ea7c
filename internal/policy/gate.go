// Package policy is the single authority over mutating actions. Every
// command consults the gate before any event is appended; nothing bypasses
// it.
package policy

import "errors"

// ActionClass is the risk classification of an action.
type ActionClass string

const (
	ReadOnly     ActionClass = "read_only"
	Reversible   ActionClass = "reversible"
	Irreversible ActionClass = "irreversible"
)

// rank orders classes by risk. Unknown classes rank below read-only so they
// fall through to the gate's conservative default.
func (c ActionClass) rank() int {
	switch c {
	case ReadOnly:
		return 1
	case Reversible:
		return 2
	case Irreversible:
		return 3
	}
	return 0
}

// MaxClass returns the riskier of two classes.
func MaxClass(a, b ActionClass) ActionClass {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// TrustLevel is how much autonomy an agent has before a human must step in.
type TrustLevel string

const (
	TrustSupervised     TrustLevel = "supervised"      // every action watched
	TrustProposeConfirm TrustLevel = "propose_confirm" // propose, then confirm
	TrustDelegated      TrustLevel = "delegated"       // full delegation
)

func (t TrustLevel) rank() int {
	switch t {
	case TrustSupervised:
		return 1
	case TrustProposeConfirm:
		return 2
	case TrustDelegated:
		return 3
	}
	return 0
}

// Decision is the gate's verdict.
type Decision string

const (
	Allow           Decision = "allow"
	RequireApproval Decision = "require_approval"
	Deny            Decision = "deny"
)

var ErrDenied = errors.New("action denied by policy")

// Gate evaluates (action class, trust level) pairs.
type Gate struct {
	// DelegatedRequiresApproval keeps a human in the loop for irreversible
	// actions even at full delegation.
	DelegatedRequiresApproval bool
}

// Evaluate applies the decision matrix. Combinations outside the matrix
// resolve to RequireApproval, never silently to Allow.
func (g Gate) Evaluate(class ActionClass, trust TrustLevel) Decision {
	if class.rank() == 0 || trust.rank() == 0 {
		return RequireApproval
	}
	switch class {
	case ReadOnly:
		return Allow
	case Reversible:
		if trust.rank() >= TrustProposeConfirm.rank() {
			return Allow
		}
		return RequireApproval
	case Irreversible:
		switch trust {
		case TrustSupervised:
			return Deny
		case TrustProposeConfirm:
			return RequireApproval
		default:
			if g.DelegatedRequiresApproval {
				return RequireApproval
			}
			return Allow
		}
	}
	return RequireApproval
}
