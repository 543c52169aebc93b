package group

import (
	"context"
	"testing"

	"github.com/jra3/groupcore/internal/dbstore"
	"github.com/jra3/groupcore/internal/model"
	"github.com/jra3/groupcore/internal/policy"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := dbstore.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func TestCreateGroupMakesCreatorSuperAdmin(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	g, err := m.CreateGroup(ctx, "inbox-alice", CreateGroupOptions{MemberInboxIDs: []string{"inbox-bob"}, Name: "Friends"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if g.ConversationType != model.ConversationGroup {
		t.Fatalf("conversation type = %s", g.ConversationType)
	}

	p, err := m.Policy(ctx, g.GroupID)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if !p.Evaluate(policy.ActionAddMember, model.PermissionMember) {
		t.Error("default preset should let members add")
	}
}

func TestCreateGroupRejectsOverlongName(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()
	longName := make([]byte, model.MaxGroupNameLen+1)
	for i := range longName {
		longName[i] = 'x'
	}
	_, err := m.CreateGroup(ctx, "inbox-alice", CreateGroupOptions{Name: string(longName)})
	if err == nil {
		t.Fatal("expected error for over-length group name")
	}
}

func TestCreateDMAndFindOrCreateDMReusesExisting(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	g1, err := m.CreateDM(ctx, "inbox-alice", "inbox-bob")
	if err != nil {
		t.Fatalf("create dm: %v", err)
	}

	g2, err := m.FindOrCreateDM(ctx, "inbox-bob", "inbox-alice")
	if err != nil {
		t.Fatalf("find or create dm: %v", err)
	}
	if g2.GroupID != g1.GroupID {
		t.Fatalf("expected FindOrCreateDM to reuse existing DM, got a different group id")
	}
}

func TestDMStitchingCollapsesListingButMergesMessages(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	// Simulate two concurrently-created DM groups with the same logical pair.
	g1, err := m.CreateDM(ctx, "inbox-alice", "inbox-bob")
	if err != nil {
		t.Fatalf("create dm 1: %v", err)
	}
	g2, err := m.CreateDM(ctx, "inbox-bob", "inbox-alice")
	if err != nil {
		t.Fatalf("create dm 2: %v", err)
	}
	if g1.GroupID == g2.GroupID {
		t.Fatal("test setup should produce two distinct duplicate groups")
	}

	if err := m.q.UpdateLastMessageNs(ctx, g1.GroupID, 100); err != nil {
		t.Fatalf("update last message ns g1: %v", err)
	}
	if err := m.q.UpdateLastMessageNs(ctx, g2.GroupID, 200); err != nil {
		t.Fatalf("update last message ns g2: %v", err)
	}

	listed, err := m.ListGroups(ctx, ListFilter{ConversationType: model.ConversationDM})
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("got %d listed DM rows, want 1 (stitched)", len(listed))
	}
	if listed[0].GroupID != g2.GroupID {
		t.Fatalf("winner should be the duplicate with the higher last_message_ns")
	}

	if err := m.q.InsertMessage(ctx, model.MessageRecord{ID: "m1", GroupID: g1.GroupID, SentAtNs: 10, Kind: model.MessageApplication, DeliveryStatus: model.DeliveryPublished}); err != nil {
		t.Fatalf("insert message on g1: %v", err)
	}
	if err := m.q.InsertMessage(ctx, model.MessageRecord{ID: "m2", GroupID: g2.GroupID, SentAtNs: 20, Kind: model.MessageApplication, DeliveryStatus: model.DeliveryPublished}); err != nil {
		t.Fatalf("insert message on g2: %v", err)
	}

	msgs, err := m.ListMessages(ctx, g1.GroupID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (merged across duplicates)", len(msgs))
	}
}

func TestAcceptWelcomeRejectsMissingCreatorInbox(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.AcceptWelcome(ctx, "install-me", WelcomePayload{GroupID: "g1", ConversationType: model.ConversationGroup})
	if err == nil {
		t.Fatal("expected error for welcome missing creator_inbox_id")
	}
}

func TestAcceptWelcomeRejectsDMWithoutPeer(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.AcceptWelcome(ctx, "install-me", WelcomePayload{GroupID: "g1", ConversationType: model.ConversationDM, CreatorInboxID: "inbox-alice"})
	if err == nil {
		t.Fatal("expected InvalidDMGroupError")
	}
}

func TestAcceptWelcomeRejectsConversationSync(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.AcceptWelcome(ctx, "install-me", WelcomePayload{GroupID: "g1", ConversationType: model.ConversationSync, CreatorInboxID: "inbox-alice"})
	if err == nil {
		t.Fatal("expected welcome validation to reject conversation_type sync")
	}
}

func TestAcceptWelcomeRejectsDMMemberSetMismatch(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.AcceptWelcome(ctx, "install-me", WelcomePayload{
		GroupID:          "g1",
		ConversationType: model.ConversationDM,
		CreatorInboxID:   "inbox-alice",
		DMPeerInboxID:    "inbox-alice",
		Members: []model.Member{
			{GroupID: "g1", InboxID: "inbox-alice", Installations: []string{"install-alice"}, PermissionLevel: model.PermissionSuperAdmin},
			{GroupID: "g1", InboxID: "inbox-me", Installations: []string{"install-me"}, PermissionLevel: model.PermissionSuperAdmin},
			{GroupID: "g1", InboxID: "inbox-carol", Installations: []string{"install-carol"}, PermissionLevel: model.PermissionSuperAdmin},
		},
	})
	if err == nil {
		t.Fatal("expected InvalidDMGroupError for a DM welcome with more than two members")
	}
}

func TestAcceptWelcomeRejectsDMWithAdminList(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.AcceptWelcome(ctx, "install-me", WelcomePayload{
		GroupID:          "g1",
		ConversationType: model.ConversationDM,
		CreatorInboxID:   "inbox-alice",
		DMPeerInboxID:    "inbox-alice",
		Members: []model.Member{
			{GroupID: "g1", InboxID: "inbox-alice", Installations: []string{"install-alice"}, PermissionLevel: model.PermissionSuperAdmin},
			{GroupID: "g1", InboxID: "inbox-me", Installations: []string{"install-me"}, PermissionLevel: model.PermissionSuperAdmin},
		},
		Metadata: model.MutableMetadata{SuperAdminList: []string{"inbox-alice"}},
	})
	if err == nil {
		t.Fatal("expected InvalidDMGroupError for a DM welcome carrying a super_admin_list")
	}
}

func TestAcceptWelcomeRejectsDMWithNonFixedPolicy(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.AcceptWelcome(ctx, "install-me", WelcomePayload{
		GroupID:          "g1",
		ConversationType: model.ConversationDM,
		CreatorInboxID:   "inbox-alice",
		DMPeerInboxID:    "inbox-alice",
		Members: []model.Member{
			{GroupID: "g1", InboxID: "inbox-alice", Installations: []string{"install-alice"}, PermissionLevel: model.PermissionSuperAdmin},
			{GroupID: "g1", InboxID: "inbox-me", Installations: []string{"install-me"}, PermissionLevel: model.PermissionSuperAdmin},
		},
		Metadata: model.MutableMetadata{Attributes: map[string]string{AttrPermissionPreset: PresetAdminsOnly}},
	})
	if err == nil {
		t.Fatal("expected InvalidDMGroupError for a DM welcome asserting a non-fixed permission_preset")
	}
}

func TestAcceptWelcomeMaterializesDM(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	g, err := m.AcceptWelcome(ctx, "install-me", WelcomePayload{
		GroupID:          "g1",
		ConversationType: model.ConversationDM,
		CreatorInboxID:   "inbox-alice",
		DMPeerInboxID:    "inbox-alice",
		Members: []model.Member{
			{GroupID: "g1", InboxID: "inbox-alice", Installations: []string{"install-alice"}, PermissionLevel: model.PermissionSuperAdmin},
			{GroupID: "g1", InboxID: "inbox-me", Installations: []string{"install-me"}, PermissionLevel: model.PermissionSuperAdmin},
		},
	})
	if err != nil {
		t.Fatalf("accept dm welcome: %v", err)
	}
	if !g.IsDM() {
		t.Fatalf("expected materialized group to be a dm")
	}
}

func TestAcceptWelcomeMaterializesGroup(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	g, err := m.AcceptWelcome(ctx, "install-me", WelcomePayload{
		GroupID:          "g1",
		ConversationType: model.ConversationGroup,
		CreatorInboxID:   "inbox-alice",
		Members: []model.Member{
			{GroupID: "g1", InboxID: "inbox-alice", PermissionLevel: model.PermissionSuperAdmin, ConsentState: model.ConsentAllowed},
			{GroupID: "g1", InboxID: "inbox-me", PermissionLevel: model.PermissionMember, ConsentState: model.ConsentUnknown},
		},
		Metadata: model.MutableMetadata{Attributes: map[string]string{model.AttrGroupName: "Team"}, SuperAdminList: []string{"inbox-alice"}},
	})
	if err != nil {
		t.Fatalf("accept welcome: %v", err)
	}
	if g.GroupID != "g1" {
		t.Fatalf("group id = %s", g.GroupID)
	}
}
