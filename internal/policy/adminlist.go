package policy

import (
	"fmt"

	"github.com/jra3/groupcore/internal/model"
)

// ValidateAdminListUpdate checks an update to a group's super-admin list
// against the invariants spec.md §4.6 requires: a group must always retain
// at least one super-admin, and removing a super-admin via the plain
// remove_member path is never allowed — only update_admin_list may drop
// a super-admin, and only down to zero is rejected.
func ValidateAdminListUpdate(currentSuperAdmins []string, newSuperAdmins []string) error {
	if len(newSuperAdmins) == 0 {
		return fmt.Errorf("admin list update: %w: a group must retain at least one super-admin", model.ErrUnauthorized)
	}
	return nil
}

// ValidateMemberRemoval rejects removing inboxID via remove_member when
// inboxID is a super-admin: that must go through update_admin_list instead,
// so the last-super-admin check above always runs.
func ValidateMemberRemoval(superAdmins []string, inboxID string) error {
	for _, id := range superAdmins {
		if id == inboxID {
			return fmt.Errorf("remove member %s: %w: remove super-admins via update_admin_list", inboxID, model.ErrUnauthorized)
		}
	}
	return nil
}
