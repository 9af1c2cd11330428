// Package workflow implements the pure evaluation functions of spec.md
// §4.4: canAct and canTransition. Neither function touches the filesystem,
// a database, or a clock — they are pure functions over
// *workflowcfg.Config, which is what lets the Record Manager's
// Authorization path run before any store is touched (spec.md §8
// boundary: "Validation path never touches FS, DB, or git").
package workflow

import (
	"fmt"

	"github.com/civicforge/recordengine/internal/domain/workflowcfg"
)

// Action is one of the four permission actions (spec.md §4.4).
type Action string

const (
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionView   Action = "view"
)

// Decision is the result of an evaluation: Valid, or not with Reason set.
type Decision struct {
	Valid  bool
	Reason string
}

func allow() Decision       { return Decision{Valid: true} }
func deny(reason string) Decision { return Decision{Valid: false, Reason: reason} }

// Engine evaluates canAct/canTransition against a loaded Config.
type Engine struct {
	cfg *workflowcfg.Config
}

func New(cfg *workflowcfg.Config) *Engine {
	return &Engine{cfg: cfg}
}

// CanAct implements spec.md §4.4 rule 1: resolve the role's can_<action>
// set; undefined means deny by default; admin bypasses everything.
func (e *Engine) CanAct(role string, action Action, recordType string) Decision {
	if role == workflowcfg.RoleAdmin {
		return allow()
	}

	perms, ok := e.cfg.Roles[role]
	if !ok {
		return deny(fmt.Sprintf("role %q is not configured", role))
	}

	var set []string

	switch action {
	case ActionCreate:
		set = perms.CanCreate
	case ActionEdit:
		set = perms.CanEdit
	case ActionDelete:
		set = perms.CanDelete
	case ActionView:
		set = perms.CanView
	default:
		return deny(fmt.Sprintf("unknown action %q", action))
	}

	if set == nil {
		return deny(fmt.Sprintf("role %q has no %s permission configured", role, action))
	}

	if containsWildcardOrValue(set, recordType) {
		return allow()
	}

	return deny(fmt.Sprintf("role %q cannot %s record type %q", role, action, recordType))
}

// CanTransition implements spec.md §4.4 rule 2: the global transitions map
// must allow from->to for recordType, AND the role's can_transition[from]
// union can_transition[any] must contain to. "any" is a wildcard source
// only — never a wildcard target.
func (e *Engine) CanTransition(role, recordType, from, to string) Decision {
	globalTransitions := e.cfg.TransitionsFor(recordType)

	if !containsValue(globalTransitions[from], to) {
		return deny(fmt.Sprintf("transition from %q to %q is not configured for type %q", from, to, recordType))
	}

	if role == workflowcfg.RoleAdmin {
		return allow()
	}

	perms, ok := e.cfg.Roles[role]
	if !ok {
		return deny(fmt.Sprintf("role %q is not configured", role))
	}

	allowed := perms.CanTransition[from]
	allowed = append(append([]string{}, allowed...), perms.CanTransition[workflowcfg.AnySource]...)

	if containsValue(allowed, to) {
		return allow()
	}

	return deny(fmt.Sprintf("role %q cannot transition from %q to %q", role, from, to))
}

func containsValue(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}

	return false
}

func containsWildcardOrValue(set []string, v string) bool {
	for _, s := range set {
		if s == workflowcfg.WildcardAny || s == v {
			return true
		}
	}

	return false
}
