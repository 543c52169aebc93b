package policy

import (
	"errors"
	"testing"

	"github.com/jra3/groupcore/internal/model"
)

func TestDefaultPolicyMemberCanAddButNotUpdateAdmins(t *testing.T) {
	t.Parallel()
	p := Default()

	if !p.Evaluate(ActionAddMember, model.PermissionMember) {
		t.Error("member should be able to add under Default")
	}
	if !p.Evaluate(ActionUpdateMetadata, model.PermissionMember) {
		t.Error("member should be able to update metadata under Default")
	}
	if p.Evaluate(ActionUpdateAdminList, model.PermissionMember) {
		t.Error("member should not be able to update admin list under Default")
	}
	if p.Evaluate(ActionUpdateAdminList, model.PermissionAdmin) {
		t.Error("plain admin should not be able to update admin list under Default")
	}
	if !p.Evaluate(ActionUpdateAdminList, model.PermissionSuperAdmin) {
		t.Error("super-admin should be able to update admin list under Default")
	}
}

func TestAdminsOnlyPolicyRestrictsMember(t *testing.T) {
	t.Parallel()
	p := AdminsOnly()

	if p.Evaluate(ActionAddMember, model.PermissionMember) {
		t.Error("member should not be able to add under AdminsOnly")
	}
	if !p.Evaluate(ActionAddMember, model.PermissionAdmin) {
		t.Error("admin should be able to add under AdminsOnly")
	}
}

func TestDMPolicyDeniesEverything(t *testing.T) {
	t.Parallel()
	p := DM()
	for _, action := range []Action{ActionAddMember, ActionRemoveMember, ActionUpdateMetadata, ActionUpdateAdminList, ActionUpdatePermission} {
		if p.Evaluate(action, model.PermissionSuperAdmin) {
			t.Errorf("DM policy should deny %s even to a super-admin", action)
		}
	}
}

func TestAuthorizeWrapsErrUnauthorized(t *testing.T) {
	t.Parallel()
	p := Default()
	err := p.Authorize(ActionUpdateAdminList, model.PermissionMember)
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestValidateMetadataValueLengthBound(t *testing.T) {
	t.Parallel()
	longName := make([]byte, model.MaxGroupNameLen+1)
	for i := range longName {
		longName[i] = 'a'
	}
	err := ValidateMetadataValue(model.AttrGroupName, string(longName))
	if err == nil {
		t.Fatal("expected error for over-length group name")
	}
	var tooMany *model.TooManyCharactersError
	if !errors.As(err, &tooMany) {
		t.Fatalf("expected TooManyCharactersError, got %T", err)
	}

	if err := ValidateMetadataValue(model.AttrGroupName, "short name"); err != nil {
		t.Fatalf("short name should validate: %v", err)
	}
}

func TestValidateMetadataValueUnboundedAttrAlwaysPasses(t *testing.T) {
	t.Parallel()
	if err := ValidateMetadataValue(model.AttrMinimumSupportedProtoVersion, "3.0.0"); err != nil {
		t.Fatalf("unbounded attribute should never fail length validation: %v", err)
	}
}

func TestEvaluateVersionGate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		local         string
		minimum       string
		wantPause     bool
	}{
		{"no gate set", "1.0.0", "", false},
		{"local ahead", "3.1.0", "3.0.0", false},
		{"local equal", "3.0.0", "3.0.0", false},
		{"local behind", "2.9.0", "3.0.0", true},
		{"local behind patch", "3.0.0", "3.0.1", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			pause, err := EvaluateVersionGate(c.local, c.minimum)
			if pause != c.wantPause {
				t.Errorf("pause = %v, want %v", pause, c.wantPause)
			}
			if c.wantPause && err == nil {
				t.Error("expected GroupPausedUntilUpdateError when paused")
			}
			if !c.wantPause && err != nil {
				t.Errorf("unexpected error when not paused: %v", err)
			}
			if err != nil && !errors.Is(err, model.ErrGroupPaused) {
				t.Errorf("error should satisfy errors.Is(ErrGroupPaused): %v", err)
			}
		})
	}
}

func TestValidateAdminListUpdateRejectsEmptyList(t *testing.T) {
	t.Parallel()
	err := ValidateAdminListUpdate([]string{"inbox-1"}, nil)
	if err == nil {
		t.Fatal("expected error when dropping to zero super-admins")
	}
}

func TestValidateMemberRemovalRejectsSuperAdmin(t *testing.T) {
	t.Parallel()
	err := ValidateMemberRemoval([]string{"inbox-1"}, "inbox-1")
	if err == nil {
		t.Fatal("expected error removing a super-admin via remove_member")
	}
	if err := ValidateMemberRemoval([]string{"inbox-1"}, "inbox-2"); err != nil {
		t.Fatalf("removing a non-super-admin should succeed: %v", err)
	}
}
