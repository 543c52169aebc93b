package group

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jra3/groupcore/internal/dbstore"
	"github.com/jra3/groupcore/internal/model"
	"github.com/jra3/groupcore/internal/policy"
)

// WelcomePayload is the decoded content of an accepted MLS welcome: enough
// to materialize the local group row, its initial membership, and its
// metadata without waiting for a first sync.
type WelcomePayload struct {
	GroupID          string
	ConversationType model.ConversationType
	CreatorInboxID   string
	DMPeerInboxID    string // required when ConversationType == ConversationDM
	Members          []model.Member
	Metadata         model.MutableMetadata
}

// AcceptWelcome validates and materializes an incoming welcome.
// localInstallationID is the receiving installation, used to identify
// which member of a DM welcome is "self" when validating its shape.
// An invalid welcome is logged and returned as an error before anything
// is inserted, so it never surfaces as a half-constructed group; the sync
// coordinator logs that error and moves on to the next welcome. A
// materialized group starts with synced_since_gate false until its first
// sync.
func (m *Manager) AcceptWelcome(ctx context.Context, localInstallationID string, w WelcomePayload) (model.Group, error) {
	if err := validateWelcome(localInstallationID, w); err != nil {
		log.Printf("[group] discarding invalid welcome for %s: %v", w.GroupID, err)
		return model.Group{}, err
	}

	dmid := ""
	if w.ConversationType == model.ConversationDM {
		dmid = dmID(w.CreatorInboxID, w.DMPeerInboxID)
	}

	if err := m.q.InsertGroup(ctx, dbstore.UpsertGroupParams{
		GroupID:          w.GroupID,
		ConversationType: w.ConversationType,
		CreatedAtNs:      model.NowNs(),
		AddedByInboxID:   w.CreatorInboxID,
		ConsentState:     model.ConsentUnknown,
		DMPeerInboxID:    w.DMPeerInboxID,
		DMID:             dmid,
	}); err != nil {
		return model.Group{}, fmt.Errorf("accept welcome: %w", err)
	}
	if err := m.q.SetSyncedSinceGate(ctx, w.GroupID, false); err != nil {
		return model.Group{}, fmt.Errorf("accept welcome: %w", err)
	}

	for _, member := range w.Members {
		if err := m.q.UpsertMember(ctx, member); err != nil {
			return model.Group{}, fmt.Errorf("accept welcome: add member %s: %w", member.InboxID, err)
		}
	}

	if w.Metadata.Attributes != nil || len(w.Metadata.AdminList) > 0 || len(w.Metadata.SuperAdminList) > 0 {
		if err := m.q.PutMetadata(ctx, w.GroupID, w.Metadata); err != nil {
			return model.Group{}, fmt.Errorf("accept welcome: put metadata: %w", err)
		}
	}

	return m.q.GetGroup(ctx, w.GroupID)
}

// welcomeDTO is the JSON wire form of WelcomePayload. Real MLS welcomes
// carry this information inside an encrypted GroupInfo/ratchet-tree
// extension; decoding that is the adapter's job (out of scope per
// spec.md §1), so the sync coordinator deals in this already-decoded
// shape instead.
type welcomeDTO struct {
	GroupID          string          `json:"group_id"`
	ConversationType string          `json:"conversation_type"`
	CreatorInboxID   string          `json:"creator_inbox_id"`
	DMPeerInboxID    string          `json:"dm_peer_inbox_id,omitempty"`
	Members          []model.Member  `json:"members"`
	Metadata         model.MutableMetadata `json:"metadata"`
}

// EncodeWelcome serializes a WelcomePayload for transport over a welcome topic.
func EncodeWelcome(w WelcomePayload) ([]byte, error) {
	dto := welcomeDTO{
		GroupID:          w.GroupID,
		ConversationType: string(w.ConversationType),
		CreatorInboxID:   w.CreatorInboxID,
		DMPeerInboxID:    w.DMPeerInboxID,
		Members:          w.Members,
		Metadata:         w.Metadata,
	}
	return json.Marshal(dto)
}

// DecodeWelcome parses bytes produced by EncodeWelcome.
func DecodeWelcome(b []byte) (WelcomePayload, error) {
	var dto welcomeDTO
	if err := json.Unmarshal(b, &dto); err != nil {
		return WelcomePayload{}, fmt.Errorf("decode welcome: %w", err)
	}
	return WelcomePayload{
		GroupID:          dto.GroupID,
		ConversationType: model.ConversationType(dto.ConversationType),
		CreatorInboxID:   dto.CreatorInboxID,
		DMPeerInboxID:    dto.DMPeerInboxID,
		Members:          dto.Members,
		Metadata:         dto.Metadata,
	}, nil
}

// validateWelcome checks a welcome's shape before it is ever materialized.
// Per spec.md §4.6, welcome validation only ever accepts a Group or a DM
// conversation_type: a sync-group welcome (ConversationSync) is never
// delivered over this path and is rejected outright.
func validateWelcome(localInstallationID string, w WelcomePayload) error {
	if w.GroupID == "" {
		return fmt.Errorf("welcome missing group id")
	}
	if w.CreatorInboxID == "" {
		return fmt.Errorf("welcome missing creator_inbox_id")
	}
	switch w.ConversationType {
	case model.ConversationGroup, model.ConversationDM:
	default:
		return fmt.Errorf("welcome has unsupported conversation_type %q", w.ConversationType)
	}
	if w.ConversationType != model.ConversationDM {
		return nil
	}
	return validateDMWelcome(localInstallationID, w)
}

// validateDMWelcome enforces the fixed DM shape (spec.md §4.6): exactly
// {self, added_by} as members, no admin lists, and the fixed DM policy —
// a DM's permission structure is never negotiable, so any welcome
// claiming otherwise is a malformed or hostile one.
func validateDMWelcome(localInstallationID string, w WelcomePayload) error {
	if w.DMPeerInboxID == "" {
		return &model.InvalidDMGroupError{Reason: "dm welcome missing dm_peer_inbox_id"}
	}
	if len(w.Members) > 2 {
		return &model.InvalidDMGroupError{Reason: fmt.Sprintf("dm welcome has %d members, want at most 2", len(w.Members))}
	}

	selfInboxID := ""
	for _, mem := range w.Members {
		for _, inst := range mem.Installations {
			if inst == localInstallationID {
				selfInboxID = mem.InboxID
			}
		}
	}
	if selfInboxID == "" {
		return &model.InvalidDMGroupError{Reason: "dm welcome member set does not include this installation"}
	}

	want := map[string]bool{selfInboxID: true, w.CreatorInboxID: true}
	got := map[string]bool{}
	for _, mem := range w.Members {
		got[mem.InboxID] = true
	}
	if len(got) != len(want) {
		return &model.InvalidDMGroupError{Reason: "dm welcome member set does not match {self_inbox_id, added_by_inbox_id}"}
	}
	for inboxID := range want {
		if !got[inboxID] {
			return &model.InvalidDMGroupError{Reason: "dm welcome member set does not match {self_inbox_id, added_by_inbox_id}"}
		}
	}

	if len(w.Metadata.AdminList) > 0 || len(w.Metadata.SuperAdminList) > 0 {
		return &model.InvalidDMGroupError{Reason: "dm welcome must not carry an admin list"}
	}

	// A DM carries no permission_preset: its policy is the fixed
	// policy.DM() that Manager.Policy reports for every DM group. Any
	// preset it does carry implies a non-DM policy and is rejected below.
	if _, present := w.Metadata.Attributes[AttrPermissionPreset]; !present {
		return nil
	}
	implied, ok := policyForPreset(w.Metadata.Attributes[AttrPermissionPreset])
	if !ok {
		return &model.InvalidDMGroupError{Reason: fmt.Sprintf("dm welcome carries unrecognized permission_preset %q", w.Metadata.Attributes[AttrPermissionPreset])}
	}
	if !policy.DM().Equal(implied) {
		return &model.InvalidDMGroupError{Reason: "dm welcome permission policy is not the fixed dm policy"}
	}
	return nil
}

// policyForPreset resolves a stored permission_preset attribute (absent
// means PresetDefault, same default CreateGroup applies) to the policy it
// implies, so a DM welcome's implied policy can be compared against the
// fixed policy.DM().
func policyForPreset(preset string) (policy.Policy, bool) {
	switch preset {
	case "", PresetDefault:
		return policy.Default(), true
	case PresetAdminsOnly:
		return policy.AdminsOnly(), true
	default:
		return policy.Policy{}, false
	}
}
