package engine

import "github.com/DevanaGroup/titanium/internal/domain"

// The authorization gate is a set of pure predicates over the ledger.
// The UI reads them through the permissions endpoint for advisory
// gating; every write re-evaluates them inside the engine transaction.

// CurrentHolderStep returns the active step held by userID, or nil.
func CurrentHolderStep(p domain.TaskProcess, userID string) *domain.ProcessStep {
	step := p.ActiveStep()
	if step == nil || step.ToUserID != userID {
		return nil
	}
	return step
}

// CanForward reports whether userID may route the task onward.
func CanForward(p domain.TaskProcess, userID, hierarchyLevel string) bool {
	if hierarchyLevel == domain.HierarchyCliente {
		return false
	}
	step := CurrentHolderStep(p, userID)
	return step != nil && step.Status == domain.StepEmAnalise
}

// CanSign reports whether userID may accept the pending hand-off.
func CanSign(p domain.TaskProcess, userID, hierarchyLevel string) bool {
	if hierarchyLevel == domain.HierarchyCliente {
		return false
	}
	step := CurrentHolderStep(p, userID)
	return step != nil && step.Status == domain.StepEmTransito
}

// CanReject reports whether userID may refuse the pending hand-off.
func CanReject(p domain.TaskProcess, userID, hierarchyLevel string) bool {
	if hierarchyLevel == domain.HierarchyCliente {
		return false
	}
	step := CurrentHolderStep(p, userID)
	return step != nil && step.Status == domain.StepEmTransito
}

// Permissions bundles the three predicates for the UI.
type Permissions struct {
	CanForward bool `json:"can_forward"`
	CanSign    bool `json:"can_sign"`
	CanReject  bool `json:"can_reject"`
}

func PermissionsFor(p domain.TaskProcess, userID, hierarchyLevel string) Permissions {
	return Permissions{
		CanForward: CanForward(p, userID, hierarchyLevel),
		CanSign:    CanSign(p, userID, hierarchyLevel),
		CanReject:  CanReject(p, userID, hierarchyLevel),
	}
}
