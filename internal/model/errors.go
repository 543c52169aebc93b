package model

import "fmt"

// Sentinel errors mirror the stable, externally observable error names
// from the spec: code that checks "is this a pause error" or "is this a
// permission error" does errors.Is/errors.As against these, never string
// matching.
var (
	ErrGroupPaused          = fmt.Errorf("group paused")
	ErrSyncFailedToWait     = fmt.Errorf("sync failed to wait")
	ErrEpochIncrementNotAllowed = fmt.Errorf("epoch increment not allowed in this mode")
	ErrUnauthorized         = fmt.Errorf("unauthorized")
	ErrKeyPackageUnavailable = fmt.Errorf("no valid key package available")
	ErrMembershipUnchanged  = fmt.Errorf("membership unchanged")
	ErrForked               = fmt.Errorf("group state may be forked")
	ErrSyncRequired         = fmt.Errorf("sync required before this operation can be evaluated")
)

// GroupPausedUntilUpdateError is returned when a send is attempted while
// the local installation is below a group's minimum supported protocol
// version.
type GroupPausedUntilUpdateError struct {
	RequiredVersion string
}

func (e *GroupPausedUntilUpdateError) Error() string {
	return fmt.Sprintf("group paused until update to version %s", e.RequiredVersion)
}

func (e *GroupPausedUntilUpdateError) Is(target error) bool {
	return target == ErrGroupPaused
}

// TooManyCharactersError is returned when a metadata update intent exceeds
// its field's length bound.
type TooManyCharactersError struct {
	Field       string
	Length      int
	MaxAllowed  int
}

func (e *TooManyCharactersError) Error() string {
	return fmt.Sprintf("%s: too many characters (%d, max %d)", e.Field, e.Length, e.MaxAllowed)
}

// InvalidDMGroupError is returned when a welcome's DM shape fails validation.
type InvalidDMGroupError struct {
	Reason string
}

func (e *InvalidDMGroupError) Error() string {
	return fmt.Sprintf("invalid dm group: %s", e.Reason)
}

// InvalidTransitionError is returned by the intent queue on an illegal
// state-machine edge.
type InvalidTransitionError struct {
	From IntentState
	To   IntentState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid intent transition %s -> %s", e.From, e.To)
}
