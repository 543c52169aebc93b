// Package policy implements the Metadata & Policy component (G):
// permission policy evaluation, admin-list rules, the version floor
// pause mechanism, and metadata length validation.
package policy

import (
	"fmt"

	"github.com/jra3/groupcore/internal/model"
)

// Rule is the resolved access level for one gated action.
type Rule int

const (
	Allow Rule = iota
	Deny
	AdminOnly
	SuperAdminOnly
)

// Action identifies one gated operation a policy has a Rule for.
type Action string

const (
	ActionAddMember        Action = "add_member"
	ActionRemoveMember     Action = "remove_member"
	ActionUpdateMetadata   Action = "update_metadata"
	ActionUpdateAdminList  Action = "update_admin_list"
	ActionUpdatePermission Action = "update_permission_policy"
)

// Policy is a complete set of rules, one per Action.
type Policy struct {
	Rules map[Action]Rule
}

// Default preset: everyone can add members and update metadata; only
// super-admins can change admins or the policy itself. spec.md is silent
// on remove_member under Default — resolved here as Allow, symmetric with
// add_member (see DESIGN.md Open Questions).
func Default() Policy {
	return Policy{Rules: map[Action]Rule{
		ActionAddMember:        Allow,
		ActionRemoveMember:     Allow,
		ActionUpdateMetadata:   Allow,
		ActionUpdateAdminList:  SuperAdminOnly,
		ActionUpdatePermission: SuperAdminOnly,
	}}
}

// AdminsOnly preset: add/remove/update-metadata restricted to admins.
func AdminsOnly() Policy {
	return Policy{Rules: map[Action]Rule{
		ActionAddMember:        AdminOnly,
		ActionRemoveMember:     AdminOnly,
		ActionUpdateMetadata:   AdminOnly,
		ActionUpdateAdminList:  SuperAdminOnly,
		ActionUpdatePermission: SuperAdminOnly,
	}}
}

// DM is the fixed policy for direct-message groups: no admin actions
// permitted, add/remove disallowed entirely (spec.md §4.6).
func DM() Policy {
	return Policy{Rules: map[Action]Rule{
		ActionAddMember:        Deny,
		ActionRemoveMember:     Deny,
		ActionUpdateMetadata:   Deny,
		ActionUpdateAdminList:  Deny,
		ActionUpdatePermission: Deny,
	}}
}

// Equal reports whether two policies have identical rule sets, used to
// validate an incoming DM welcome carries the fixed DM policy.
func (p Policy) Equal(other Policy) bool {
	if len(p.Rules) != len(other.Rules) {
		return false
	}
	for action, rule := range p.Rules {
		if other.Rules[action] != rule {
			return false
		}
	}
	return true
}

// Evaluate reports whether a member at level may perform action under p.
func (p Policy) Evaluate(action Action, level model.PermissionLevel) bool {
	rule, ok := p.Rules[action]
	if !ok {
		rule = Deny
	}
	switch rule {
	case Allow:
		return true
	case Deny:
		return false
	case AdminOnly:
		return level == model.PermissionAdmin || level == model.PermissionSuperAdmin
	case SuperAdminOnly:
		return level == model.PermissionSuperAdmin
	default:
		return false
	}
}

// Authorize returns model.ErrUnauthorized if level may not perform action.
func (p Policy) Authorize(action Action, level model.PermissionLevel) error {
	if !p.Evaluate(action, level) {
		return fmt.Errorf("%s: %w", action, model.ErrUnauthorized)
	}
	return nil
}
