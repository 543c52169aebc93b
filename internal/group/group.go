// Package group implements the Group Manager: group/DM creation, welcome
// acceptance, and the listing view that stitches concurrently-created DM
// duplicates together (spec.md §4.6).
package group

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jra3/groupcore/internal/dbstore"
	"github.com/jra3/groupcore/internal/model"
	"github.com/jra3/groupcore/internal/policy"
)

// AttrPermissionPreset is the metadata attribute recording which policy.Policy
// preset a group was created with, so future authorization checks can
// reconstruct it without a separate rules table.
const AttrPermissionPreset = "permission_preset"

const (
	PresetDefault    = "default"
	PresetAdminsOnly = "admins_only"
)

// Manager owns group/DM lifecycle and the listing/read-path views over the
// durable store.
type Manager struct {
	q *dbstore.Queries
}

// New builds a Manager over store.
func New(store *dbstore.Store) *Manager {
	return &Manager{q: store.Queries()}
}

// CreateGroupOptions configures CreateGroup.
type CreateGroupOptions struct {
	MemberInboxIDs []string
	PolicyPreset   string // PresetDefault or PresetAdminsOnly; defaults to PresetDefault
	Name           string
	Description    string
	ImageURLSquare string
}

// CreateGroup creates a new multi-member group with creatorInboxID as its
// sole initial super-admin.
func (m *Manager) CreateGroup(ctx context.Context, creatorInboxID string, opts CreateGroupOptions) (model.Group, error) {
	preset := opts.PolicyPreset
	if preset == "" {
		preset = PresetDefault
	}
	if preset != PresetDefault && preset != PresetAdminsOnly {
		return model.Group{}, fmt.Errorf("create group: unknown policy preset %q", preset)
	}

	attrs := map[string]string{}
	if opts.Name != "" {
		attrs[model.AttrGroupName] = opts.Name
	}
	if opts.Description != "" {
		attrs[model.AttrDescription] = opts.Description
	}
	if opts.ImageURLSquare != "" {
		attrs[model.AttrImageURLSquare] = opts.ImageURLSquare
	}
	attrs[AttrPermissionPreset] = preset
	if err := policy.ValidateMetadataUpdate(attrs); err != nil {
		return model.Group{}, err
	}

	groupID := uuid.NewString()
	now := model.NowNs()
	if err := m.q.InsertGroup(ctx, dbstore.UpsertGroupParams{
		GroupID:          groupID,
		ConversationType: model.ConversationGroup,
		CreatedAtNs:      now,
		AddedByInboxID:   creatorInboxID,
		ConsentState:     model.ConsentAllowed,
	}); err != nil {
		return model.Group{}, fmt.Errorf("create group: %w", err)
	}
	// See CreateDM: the creator's own view needs no sync to trust.
	if err := m.q.SetSyncedSinceGate(ctx, groupID, true); err != nil {
		return model.Group{}, fmt.Errorf("create group: %w", err)
	}

	if err := m.q.UpsertMember(ctx, model.Member{GroupID: groupID, InboxID: creatorInboxID, PermissionLevel: model.PermissionSuperAdmin, ConsentState: model.ConsentAllowed}); err != nil {
		return model.Group{}, fmt.Errorf("create group: add creator: %w", err)
	}
	for _, inboxID := range opts.MemberInboxIDs {
		if inboxID == creatorInboxID {
			continue
		}
		if err := m.q.UpsertMember(ctx, model.Member{GroupID: groupID, InboxID: inboxID, PermissionLevel: model.PermissionMember, ConsentState: model.ConsentUnknown}); err != nil {
			return model.Group{}, fmt.Errorf("create group: add member %s: %w", inboxID, err)
		}
	}

	if err := m.q.PutMetadata(ctx, groupID, model.MutableMetadata{
		Attributes:     attrs,
		SuperAdminList: []string{creatorInboxID},
		AdminList:      []string{},
	}); err != nil {
		return model.Group{}, fmt.Errorf("create group: put metadata: %w", err)
	}

	return m.q.GetGroup(ctx, groupID)
}

// Policy reconstructs the effective policy.Policy for groupID from its
// stored conversation type and permission_preset attribute.
func (m *Manager) Policy(ctx context.Context, groupID string) (policy.Policy, error) {
	g, err := m.q.GetGroup(ctx, groupID)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("policy: get group: %w", err)
	}
	if g.IsDM() {
		return policy.DM(), nil
	}
	md, err := m.q.GetMetadata(ctx, groupID)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("policy: get metadata: %w", err)
	}
	if md.Attributes[AttrPermissionPreset] == PresetAdminsOnly {
		return policy.AdminsOnly(), nil
	}
	return policy.Default(), nil
}

// ListFilter narrows ListGroups.
type ListFilter struct {
	ConversationType model.ConversationType // zero value means no filter
	ExcludeDenied    bool
}

// ListGroups returns the active groups, with concurrently-created DM
// duplicates collapsed to the one with the highest last_message_ns
// (spec.md §4.6): message history for a stitched DM still merges across
// every duplicate, but a listing shows one row per logical conversation.
func (m *Manager) ListGroups(ctx context.Context, filter ListFilter) ([]model.Group, error) {
	raw, err := m.q.ListActiveGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	winners := map[string]model.Group{} // dm_id -> winning row, for DM-id groups only
	var out []model.Group
	for _, g := range raw {
		if filter.ConversationType != "" && g.ConversationType != filter.ConversationType {
			continue
		}
		if filter.ExcludeDenied && g.ConsentState == model.ConsentDenied {
			continue
		}
		if g.DMID == "" {
			out = append(out, g)
			continue
		}
		if cur, ok := winners[g.DMID]; !ok || g.LastMessageNs > cur.LastMessageNs {
			winners[g.DMID] = g
		}
	}
	for _, g := range winners {
		out = append(out, g)
	}
	return out, nil
}

// ListMessages returns a group's message history. For a stitched DM, this
// merges messages across every group row sharing its dm_id, since two
// concurrently-created DM groups can each have received messages before
// the duplication was noticed.
func (m *Manager) ListMessages(ctx context.Context, groupID string) ([]model.MessageRecord, error) {
	g, err := m.q.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list messages: get group: %w", err)
	}
	if g.DMID == "" {
		return m.q.ListMessages(ctx, groupID, "")
	}

	dupes, err := m.q.ListGroupsByDMID(ctx, g.DMID)
	if err != nil {
		return nil, fmt.Errorf("list messages: list dm duplicates: %w", err)
	}
	ids := make([]string, len(dupes))
	for i, d := range dupes {
		ids[i] = d.GroupID
	}
	return m.q.ListMessagesForGroups(ctx, ids, "")
}
