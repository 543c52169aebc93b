// Package mls defines the thin contract over the MLS cryptographic
// library that the rest of the group core depends on. Per spec.md §1,
// MLS cryptographic primitives themselves are explicitly out of scope —
// "a black-box library with a stated interface" — so this package
// exposes only the Adapter contract plus a deterministic in-memory
// FakeAdapter adequate for driving the state-machine tests in the rest
// of the tree. See DESIGN.md for why no real MLS implementation is wired
// here.
package mls

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// MaxPastEpochs bounds how far behind a commit may be and still have its
// application messages decrypt, per spec.md §4.3.
const MaxPastEpochs = 3

// ProcessOutcome tags the result of processing a foreign commit.
type ProcessOutcome int

const (
	ProcessApplied ProcessOutcome = iota
	ProcessFutureWrongEpoch
	ProcessEpochIncrementNotAllowed
)

// ProcessResult is the outcome of ProcessForeignCommit.
type ProcessResult struct {
	Outcome           ProcessOutcome
	NewEpoch          uint64
	CommitFingerprint string
}

// MemberAction is one membership change within a staged commit.
type MemberAction struct {
	InboxID        string
	InstallationID string
	KeyPackage     []byte
}

// CommitAction describes what a staged commit should do: some combination
// of adding members, removing members, and/or rotating keys (a bare key
// update). Multiple fields set at once models the publisher's key-update
// coalescing (spec.md §4.5).
type CommitAction struct {
	AddMembers    []MemberAction
	RemoveInboxes []string
	KeyUpdate     bool
	MetadataDiff  []byte // opaque proposal payload for metadata/permission/admin changes
}

// GroupState is the adapter's opaque view of one group's MLS state. Real
// MLS libraries keep this behind a cryptographic ratchet tree; the fake
// adapter keeps enough to make state transitions observable in tests.
type GroupState struct {
	GroupID       string
	Epoch         uint64
	MemberInboxes map[string]bool
}

func (s *GroupState) clone() *GroupState {
	cp := &GroupState{GroupID: s.GroupID, Epoch: s.Epoch, MemberInboxes: make(map[string]bool, len(s.MemberInboxes))}
	for k, v := range s.MemberInboxes {
		cp.MemberInboxes[k] = v
	}
	return cp
}

// StagedCommit is the result of staging a commit: bytes ready to publish,
// plus the pending state the adapter will apply once the relay confirms
// acceptance.
type StagedCommit struct {
	CommitBytes  []byte
	WelcomeBytes []byte
	Fingerprint  string
	staged       *GroupState
}

// Adapter is the contract over the MLS library, per spec.md §4.3.
type Adapter interface {
	LoadGroup(ctx context.Context, groupID string) (*GroupState, error)
	SaveGroup(ctx context.Context, state *GroupState) error
	StageCommit(ctx context.Context, state *GroupState, action CommitAction) (StagedCommit, error)
	ApplyOwnCommit(ctx context.Context, state *GroupState, staged StagedCommit) error
	ProcessForeignCommit(ctx context.Context, state *GroupState, commitBytes []byte, allowEpochIncrement bool) (ProcessResult, error)
	EncryptApplication(ctx context.Context, state *GroupState, plaintext []byte) ([]byte, error)
	DecryptApplication(ctx context.Context, state *GroupState, ciphertext []byte) ([]byte, error)
	ExportSecret(ctx context.Context, state *GroupState, label string) ([]byte, error)
}

// FakeAdapter is a deterministic, in-memory Adapter used in tests and in
// the reference CLI. It models epochs as a monotonic counter and
// membership as a plain set; "commits" are just plain JSON blobs
// produced by encodeCommit (wire.go), so ProcessForeignCommit can decode
// the intent without any real cryptography.
type FakeAdapter struct {
	mu     sync.Mutex
	groups map[string]*GroupState
}

// NewFakeAdapter returns an empty FakeAdapter.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{groups: make(map[string]*GroupState)}
}

func (f *FakeAdapter) LoadGroup(ctx context.Context, groupID string) (*GroupState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[groupID]
	if !ok {
		g = &GroupState{GroupID: groupID, MemberInboxes: map[string]bool{}}
		f.groups[groupID] = g
	}
	return g.clone(), nil
}

func (f *FakeAdapter) SaveGroup(ctx context.Context, state *GroupState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[state.GroupID] = state.clone()
	return nil
}

// commitWire is the fake wire format: deterministic and fully decodable,
// standing in for a real MLS commit message.
type commitWire struct {
	groupID       string
	fromEpoch     uint64
	toEpoch       uint64
	addInboxes    []string
	removeInboxes []string
}

func (f *FakeAdapter) StageCommit(ctx context.Context, state *GroupState, action CommitAction) (StagedCommit, error) {
	staged := state.clone()
	staged.Epoch++

	var adds []string
	for _, m := range action.AddMembers {
		if staged.MemberInboxes == nil {
			staged.MemberInboxes = map[string]bool{}
		}
		staged.MemberInboxes[m.InboxID] = true
		adds = append(adds, m.InboxID)
	}
	for _, inbox := range action.RemoveInboxes {
		delete(staged.MemberInboxes, inbox)
	}

	wire := commitWire{
		groupID:       state.GroupID,
		fromEpoch:     state.Epoch,
		toEpoch:       staged.Epoch,
		addInboxes:    adds,
		removeInboxes: action.RemoveInboxes,
	}
	commitBytes := encodeCommit(wire)
	fingerprint := fingerprintOf(commitBytes)

	var welcome []byte
	if len(action.AddMembers) > 0 {
		welcome = []byte(fmt.Sprintf("welcome:%s:%d", state.GroupID, staged.Epoch))
	}

	return StagedCommit{
		CommitBytes:  commitBytes,
		WelcomeBytes: welcome,
		Fingerprint:  fingerprint,
		staged:       staged,
	}, nil
}

func (f *FakeAdapter) ApplyOwnCommit(ctx context.Context, state *GroupState, staged StagedCommit) error {
	if staged.staged == nil {
		return fmt.Errorf("apply own commit: no staged state (was this StagedCommit built by StageCommit?)")
	}
	*state = *staged.staged
	return f.SaveGroup(ctx, state)
}

func (f *FakeAdapter) ProcessForeignCommit(ctx context.Context, state *GroupState, commitBytes []byte, allowEpochIncrement bool) (ProcessResult, error) {
	wire, err := decodeCommit(commitBytes)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("decode commit: %w", err)
	}

	fingerprint := fingerprintOf(commitBytes)

	if wire.fromEpoch > state.Epoch {
		// Commit assumes a future base epoch we haven't reached: a fork
		// risk, not an error. Cursor handling is the caller's concern.
		return ProcessResult{Outcome: ProcessFutureWrongEpoch, NewEpoch: state.Epoch, CommitFingerprint: fingerprint}, nil
	}
	if wire.fromEpoch < state.Epoch {
		if state.Epoch-wire.fromEpoch > MaxPastEpochs {
			return ProcessResult{}, fmt.Errorf("commit too far in the past: base epoch %d, current %d", wire.fromEpoch, state.Epoch)
		}
		// An already-applied commit replayed from an earlier epoch boundary:
		// treat as already-processed, a no-op at the adapter layer.
		return ProcessResult{Outcome: ProcessApplied, NewEpoch: state.Epoch, CommitFingerprint: fingerprint}, nil
	}

	if !allowEpochIncrement {
		return ProcessResult{Outcome: ProcessEpochIncrementNotAllowed}, nil
	}

	if state.MemberInboxes == nil {
		state.MemberInboxes = map[string]bool{}
	}
	for _, inbox := range wire.addInboxes {
		state.MemberInboxes[inbox] = true
	}
	for _, inbox := range wire.removeInboxes {
		delete(state.MemberInboxes, inbox)
	}
	state.Epoch = wire.toEpoch

	if err := f.SaveGroup(ctx, state); err != nil {
		return ProcessResult{}, err
	}
	return ProcessResult{Outcome: ProcessApplied, NewEpoch: state.Epoch, CommitFingerprint: fingerprint}, nil
}

func (f *FakeAdapter) EncryptApplication(ctx context.Context, state *GroupState, plaintext []byte) ([]byte, error) {
	// Symmetric with DecryptApplication: no real cryptography, but callers
	// still go through the adapter boundary a real implementation requires.
	return plaintext, nil
}

func (f *FakeAdapter) DecryptApplication(ctx context.Context, state *GroupState, ciphertext []byte) ([]byte, error) {
	// The fake transport never actually encrypts; this exists so callers
	// go through the same code path a real adapter would require.
	return ciphertext, nil
}

func (f *FakeAdapter) ExportSecret(ctx context.Context, state *GroupState, label string) ([]byte, error) {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", state.GroupID, label, state.Epoch)))
	return h[:], nil
}

func fingerprintOf(commitBytes []byte) string {
	h := sha256.Sum256(commitBytes)
	return hex.EncodeToString(h[:16])
}
