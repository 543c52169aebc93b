package group

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jra3/groupcore/internal/dbstore"
	"github.com/jra3/groupcore/internal/model"
)

// dmID normalizes a pair of inbox ids into the stable, order-independent
// identifier used to detect concurrently-created duplicate DM groups.
func dmID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// CreateDM creates a direct-message group between creatorInboxID and
// peerInboxID. DM groups carry the fixed DM policy (see policy.DM) and
// never go through CreateGroup's preset machinery.
func (m *Manager) CreateDM(ctx context.Context, creatorInboxID, peerInboxID string) (model.Group, error) {
	if creatorInboxID == "" || peerInboxID == "" {
		return model.Group{}, &model.InvalidDMGroupError{Reason: "both creator and peer inbox ids are required"}
	}

	groupID := uuid.NewString()
	id := dmID(creatorInboxID, peerInboxID)
	if err := m.q.InsertGroup(ctx, dbstore.UpsertGroupParams{
		GroupID:          groupID,
		ConversationType: model.ConversationDM,
		CreatedAtNs:      model.NowNs(),
		AddedByInboxID:   creatorInboxID,
		ConsentState:     model.ConsentAllowed,
		DMPeerInboxID:    peerInboxID,
		DMID:             id,
	}); err != nil {
		return model.Group{}, fmt.Errorf("create dm: %w", err)
	}
	// The creator's own view is authoritative at creation time: there is
	// no peer-imposed version floor to learn yet, so Send should not have
	// to wait on a sync that has nothing new to tell it.
	if err := m.q.SetSyncedSinceGate(ctx, groupID, true); err != nil {
		return model.Group{}, fmt.Errorf("create dm: %w", err)
	}

	for _, inbox := range []string{creatorInboxID, peerInboxID} {
		consent := model.ConsentUnknown
		if inbox == creatorInboxID {
			consent = model.ConsentAllowed
		}
		if err := m.q.UpsertMember(ctx, model.Member{GroupID: groupID, InboxID: inbox, PermissionLevel: model.PermissionMember, ConsentState: consent}); err != nil {
			return model.Group{}, fmt.Errorf("create dm: add member %s: %w", inbox, err)
		}
	}

	return m.q.GetGroup(ctx, groupID)
}

// FindOrCreateDM returns the existing DM between the two inbox ids if one
// is already known locally, or creates one. Two installations racing to
// create the same DM both succeed independently; spec.md §4.6 resolves
// the resulting duplication at the listing layer (ListGroups), not by
// blocking creation here.
func (m *Manager) FindOrCreateDM(ctx context.Context, creatorInboxID, peerInboxID string) (model.Group, error) {
	id := dmID(creatorInboxID, peerInboxID)
	existing, err := m.q.ListGroupsByDMID(ctx, id)
	if err != nil {
		return model.Group{}, fmt.Errorf("find or create dm: %w", err)
	}
	if len(existing) > 0 {
		winner := existing[0]
		for _, g := range existing[1:] {
			if g.LastMessageNs > winner.LastMessageNs {
				winner = g
			}
		}
		return winner, nil
	}
	return m.CreateDM(ctx, creatorInboxID, peerInboxID)
}
