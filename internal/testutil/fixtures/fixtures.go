// Package fixtures returns fully populated model.* values for tests
// across the tree, so every package doesn't hand-roll its own group and
// member literals.
package fixtures

import (
	"fmt"
	"time"

	"github.com/jra3/groupcore/internal/model"
)

var fixtureTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// GroupOption customizes a fixture Group.
type GroupOption func(*model.Group)

// WithGroupID overrides the generated group id.
func WithGroupID(id string) GroupOption {
	return func(g *model.Group) { g.GroupID = id }
}

// WithConversationType overrides the conversation type.
func WithConversationType(t model.ConversationType) GroupOption {
	return func(g *model.Group) { g.ConversationType = t }
}

// WithDM sets up g as a DM between creator and peer.
func WithDM(peerInboxID string) GroupOption {
	return func(g *model.Group) {
		g.ConversationType = model.ConversationDM
		g.DMPeerInboxID = peerInboxID
	}
}

// WithPausedForVersion marks g as version-gated.
func WithPausedForVersion(version string) GroupOption {
	return func(g *model.Group) { g.PausedForVersion = version }
}

// Group returns a test group, a multi-member conversation by default.
func Group(opts ...GroupOption) model.Group {
	g := model.Group{
		GroupID:          "group-1",
		ConversationType: model.ConversationGroup,
		CreatedAtNs:      fixtureTime.UnixNano(),
		AddedByInboxID:   "inbox-alice",
		ConsentState:     model.ConsentAllowed,
		LastMessageNs:    fixtureTime.UnixNano(),
	}
	for _, opt := range opts {
		opt(&g)
	}
	return g
}

// Member returns a test member with the given permission level.
func Member(groupID, inboxID string, level model.PermissionLevel) model.Member {
	return model.Member{
		GroupID:         groupID,
		InboxID:         inboxID,
		Installations:   []string{inboxID + "-device-1"},
		PermissionLevel: level,
		ConsentState:    model.ConsentAllowed,
	}
}

// Members returns n sequentially-named members, the first a super-admin.
func Members(groupID string, n int) []model.Member {
	out := make([]model.Member, n)
	for i := 0; i < n; i++ {
		level := model.PermissionMember
		if i == 0 {
			level = model.PermissionSuperAdmin
		}
		out[i] = Member(groupID, fmt.Sprintf("inbox-%d", i+1), level)
	}
	return out
}

// MetadataOption customizes fixture metadata.
type MetadataOption func(*model.MutableMetadata)

// WithAttribute sets a single metadata attribute.
func WithAttribute(key, value string) MetadataOption {
	return func(md *model.MutableMetadata) {
		if md.Attributes == nil {
			md.Attributes = map[string]string{}
		}
		md.Attributes[key] = value
	}
}

// Metadata returns test metadata for a group created by creatorInboxID.
func Metadata(creatorInboxID string, opts ...MetadataOption) model.MutableMetadata {
	md := model.MutableMetadata{
		Attributes:     map[string]string{model.AttrGroupName: "Test Group"},
		SuperAdminList: []string{creatorInboxID},
		AdminList:      []string{},
	}
	for _, opt := range opts {
		opt(&md)
	}
	return md
}

// IntentOption customizes a fixture Intent.
type IntentOption func(*model.Intent)

// WithIntentPayload sets the intent's payload bytes.
func WithIntentPayload(payload []byte) IntentOption {
	return func(i *model.Intent) { i.Payload = payload }
}

// Intent returns a freshly queued (ToPublish) intent for groupID.
func Intent(groupID string, kind model.IntentKind, opts ...IntentOption) model.Intent {
	in := model.Intent{
		GroupID:     groupID,
		Kind:        kind,
		State:       model.IntentToPublish,
		CreatedAtNs: fixtureTime.UnixNano(),
	}
	for _, opt := range opts {
		opt(&in)
	}
	return in
}

// MessageOption customizes a fixture MessageRecord.
type MessageOption func(*model.MessageRecord)

// WithMessageID overrides the generated content-addressed id.
func WithMessageID(id string) MessageOption {
	return func(m *model.MessageRecord) { m.ID = id }
}

// Message returns a test application message for groupID.
func Message(groupID, senderInstallationID string, opts ...MessageOption) model.MessageRecord {
	m := model.MessageRecord{
		ID:                   "message-1",
		GroupID:              groupID,
		SenderInstallationID: senderInstallationID,
		Kind:                 model.MessageApplication,
		DecryptedBytes:       []byte("hello"),
		SentAtNs:             fixtureTime.UnixNano(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Messages returns n sequential test messages for groupID.
func Messages(groupID, senderInstallationID string, n int) []model.MessageRecord {
	out := make([]model.MessageRecord, n)
	for i := 0; i < n; i++ {
		idx := i
		out[i] = Message(groupID, senderInstallationID,
			WithMessageID(fmt.Sprintf("message-%d", idx+1)),
			func(m *model.MessageRecord) {
				m.SentAtNs = fixtureTime.Add(time.Duration(idx) * time.Minute).UnixNano()
				m.DecryptedBytes = []byte(fmt.Sprintf("message body %d", idx+1))
			},
		)
	}
	return out
}
