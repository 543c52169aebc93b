package policy

import "github.com/jra3/groupcore/internal/model"

// compareVersions compares two dotted version strings (e.g. "3.1.0")
// component-wise, treating a missing or non-numeric component as 0. It
// returns -1, 0, or 1 as a < b, a == b, a > b.
func compareVersions(a, b string) int {
	as, bs := splitVersion(a), splitVersion(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func splitVersion(v string) []int {
	out := make([]int, 0, 3)
	n := 0
	has := false
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == '.' {
			if has {
				out = append(out, n)
			} else {
				out = append(out, 0)
			}
			n, has = 0, false
			continue
		}
		c := v[i]
		if c < '0' || c > '9' {
			continue
		}
		n = n*10 + int(c-'0')
		has = true
	}
	return out
}

// EvaluateVersionGate compares localVersion against a group's
// minimum_supported_protocol_version attribute and reports whether the
// local installation must pause sending until it upgrades. An empty
// minimumVersion means the gate is unset (never pauses).
func EvaluateVersionGate(localVersion, minimumVersion string) (pause bool, err *model.GroupPausedUntilUpdateError) {
	if minimumVersion == "" {
		return false, nil
	}
	if compareVersions(localVersion, minimumVersion) < 0 {
		return true, &model.GroupPausedUntilUpdateError{RequiredVersion: minimumVersion}
	}
	return false, nil
}

// RequireSuperAdminToRaise enforces that only a super-admin may raise a
// group's minimum_supported_protocol_version, per spec.md §4.6.
func RequireSuperAdminToRaise(level model.PermissionLevel) error {
	if level != model.PermissionSuperAdmin {
		return model.ErrUnauthorized
	}
	return nil
}
