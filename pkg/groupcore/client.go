// Package groupcore is the public facade over the group messaging core:
// group/DM lifecycle, sending and listing messages, and driving sync.
// Grounded on the teacher's pkg/linear facade, which wraps its internal
// GraphQL client and cache behind one Client type the CLI and other
// callers depend on instead of reaching into internal/ directly.
package groupcore

import (
	"context"
	"fmt"

	"github.com/jra3/groupcore/internal/cursor"
	"github.com/jra3/groupcore/internal/dbstore"
	"github.com/jra3/groupcore/internal/group"
	"github.com/jra3/groupcore/internal/identity"
	"github.com/jra3/groupcore/internal/intent"
	"github.com/jra3/groupcore/internal/keypackage"
	"github.com/jra3/groupcore/internal/mls"
	"github.com/jra3/groupcore/internal/model"
	"github.com/jra3/groupcore/internal/policy"
	"github.com/jra3/groupcore/internal/process"
	"github.com/jra3/groupcore/internal/publish"
	"github.com/jra3/groupcore/internal/relay"
	"github.com/jra3/groupcore/internal/syncc"
)

// Config bundles everything Client needs. Relay, Identity, and
// KeyPackages are the three external collaborators spec.md §6 puts out
// of scope; callers supply real implementations in production and the
// in-memory doubles under internal/relay, internal/identity, and
// internal/keypackage in tests or the reference CLI.
type Config struct {
	// InstallationID is this device's stable identifier: the relay
	// originator identity, the sender of every message this Client
	// publishes, and the identity welcomes are addressed to.
	InstallationID string
	LocalVersion   string

	Store      *dbstore.Store
	Relay      relay.Client
	Identity   identity.Service
	KeyPackage keypackage.Service

	// CacheKeyPackages wraps KeyPackage in internal/keypackage.CachingService
	// when true (the default production posture; tests usually leave it
	// false so a double's call counts stay exact).
	CacheKeyPackages bool
}

// Client is the group messaging core's public entry point: one value per
// local installation, composing the group manager, intent queue, commit
// publisher, message processor, and sync coordinator over one durable
// store.
type Client struct {
	installationID string
	store          *dbstore.Store
	groups         *group.Manager
	intents        *intent.Queue
	adapter        mls.Adapter
	coordinator    *syncc.Coordinator
	worker         *syncc.Worker
}

// New wires a Client from cfg. The Client takes over cfg.Store: Close
// stops the background worker, if started, and closes the store.
func New(cfg Config) (*Client, error) {
	if cfg.InstallationID == "" {
		return nil, fmt.Errorf("groupcore: InstallationID is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("groupcore: Store is required")
	}
	if cfg.Relay == nil {
		return nil, fmt.Errorf("groupcore: Relay is required")
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("groupcore: Identity is required")
	}
	localVersion := cfg.LocalVersion
	if localVersion == "" {
		localVersion = "1.0.0"
	}

	kp := cfg.KeyPackage
	if kp == nil {
		kp = keypackage.NewMemory()
	}
	if cfg.CacheKeyPackages {
		kp = keypackage.NewCachingService(kp)
	}

	cursors := cursor.New(cfg.Store)
	groups := group.New(cfg.Store)
	intents := intent.New(cfg.Store.DB())
	adapter := mls.NewFakeAdapter()

	processor := process.New(adapter, cursors, intents, cfg.Store.Queries(), cfg.Store.Queries())
	publisher := publish.New(adapter, intents, cfg.Relay, cfg.Identity, kp, cfg.Store.Queries(), cfg.InstallationID)

	coordinator := syncc.New(syncc.Config{
		LocalVersion: localVersion,
		Store:        cfg.Store,
		Cursors:      cursors,
		Groups:       groups,
		Adapter:      adapter,
		Processor:    processor,
		Publisher:    publisher,
		Relay:        cfg.Relay,
	})

	return &Client{
		installationID: cfg.InstallationID,
		store:          cfg.Store,
		groups:         groups,
		intents:        intents,
		adapter:        adapter,
		coordinator:    coordinator,
	}, nil
}

// Close releases the Client's background worker, if started, and its
// underlying store.
func (c *Client) Close() error {
	if c.worker != nil {
		c.worker.Stop()
	}
	return c.store.Close()
}

// CreateGroup creates a new multi-member group with creatorInboxID as its
// sole initial super-admin.
func (c *Client) CreateGroup(ctx context.Context, creatorInboxID string, opts group.CreateGroupOptions) (model.Group, error) {
	return c.groups.CreateGroup(ctx, creatorInboxID, opts)
}

// CreateDM creates (or returns, if one already exists) the direct-message
// group between creatorInboxID and peerInboxID.
func (c *Client) CreateDM(ctx context.Context, creatorInboxID, peerInboxID string) (model.Group, error) {
	return c.groups.FindOrCreateDM(ctx, creatorInboxID, peerInboxID)
}

// AddMembers queues an add_members intent for groupID. The caller's
// permission level is checked against the group's policy before the
// intent is queued; the actual commit is built on the next sync.
func (c *Client) AddMembers(ctx context.Context, groupID, actorInboxID string, inboxIDs []string) error {
	if err := c.authorize(ctx, groupID, actorInboxID, policy.ActionAddMember); err != nil {
		return err
	}
	payload, err := publish.EncodeAddMembers(inboxIDs)
	if err != nil {
		return fmt.Errorf("groupcore: encode add members: %w", err)
	}
	_, err = c.intents.Queue(ctx, groupID, model.IntentAddMembers, payload, true)
	return err
}

// RemoveMembers queues a remove_members intent for groupID. Removing a
// super-admin through this path is rejected (spec.md §4.7): that can only
// happen via UpdateAdminList, which carries its own last-super-admin check.
func (c *Client) RemoveMembers(ctx context.Context, groupID, actorInboxID string, inboxIDs []string) error {
	if err := c.authorize(ctx, groupID, actorInboxID, policy.ActionRemoveMember); err != nil {
		return err
	}
	md, err := c.store.Queries().GetMetadata(ctx, groupID)
	if err != nil {
		return fmt.Errorf("groupcore: remove members: %w", err)
	}
	for _, inboxID := range inboxIDs {
		if err := policy.ValidateMemberRemoval(md.SuperAdminList, inboxID); err != nil {
			return fmt.Errorf("groupcore: remove members: %w", err)
		}
	}
	payload, err := publish.EncodeRemoveMembers(inboxIDs)
	if err != nil {
		return fmt.Errorf("groupcore: encode remove members: %w", err)
	}
	_, err = c.intents.Queue(ctx, groupID, model.IntentRemoveMembers, payload, true)
	return err
}

// UpdateMetadata queues an update_metadata intent for groupID, applying
// attrs to the group's stored metadata immediately (the same
// apply-locally-then-announce posture CreateGroup and AcceptWelcome use
// for metadata) so a subsequent sync's version-gate check and read path
// both see the change right away; the queued commit is what announces it
// to peers and advances the epoch. This is the only way to raise
// model.AttrMinimumSupportedProtoVersion (spec.md §4.7/§8 S4).
func (c *Client) UpdateMetadata(ctx context.Context, groupID, actorInboxID string, attrs map[string]string) error {
	if err := c.authorize(ctx, groupID, actorInboxID, policy.ActionUpdateMetadata); err != nil {
		return err
	}
	if err := policy.ValidateMetadataUpdate(attrs); err != nil {
		return fmt.Errorf("groupcore: update metadata: %w", err)
	}

	md, err := c.store.Queries().GetMetadata(ctx, groupID)
	if err != nil {
		return fmt.Errorf("groupcore: update metadata: %w", err)
	}
	if md.Attributes == nil {
		md.Attributes = map[string]string{}
	}
	for k, v := range attrs {
		md.Attributes[k] = v
	}
	if err := c.store.Queries().PutMetadata(ctx, groupID, md); err != nil {
		return fmt.Errorf("groupcore: update metadata: %w", err)
	}

	payload, err := publish.EncodeMetadataUpdate(md)
	if err != nil {
		return fmt.Errorf("groupcore: update metadata: %w", err)
	}
	_, err = c.intents.Queue(ctx, groupID, model.IntentUpdateMetadata, payload, true)
	return err
}

// UpdateAdminList queues an update_admin_list intent replacing groupID's
// super-admin list with newSuperAdmins. ValidateAdminListUpdate rejects
// dropping the last super-admin (spec.md §4.7): removing a super-admin
// must always go through here, never through RemoveMembers.
func (c *Client) UpdateAdminList(ctx context.Context, groupID, actorInboxID string, newSuperAdmins []string) error {
	if err := c.authorize(ctx, groupID, actorInboxID, policy.ActionUpdateAdminList); err != nil {
		return err
	}

	md, err := c.store.Queries().GetMetadata(ctx, groupID)
	if err != nil {
		return fmt.Errorf("groupcore: update admin list: %w", err)
	}
	if err := policy.ValidateAdminListUpdate(md.SuperAdminList, newSuperAdmins); err != nil {
		return fmt.Errorf("groupcore: update admin list: %w", err)
	}
	md.SuperAdminList = newSuperAdmins
	if err := c.store.Queries().PutMetadata(ctx, groupID, md); err != nil {
		return fmt.Errorf("groupcore: update admin list: %w", err)
	}

	payload, err := publish.EncodeMetadataUpdate(md)
	if err != nil {
		return fmt.Errorf("groupcore: update admin list: %w", err)
	}
	_, err = c.intents.Queue(ctx, groupID, model.IntentUpdateAdminList, payload, true)
	return err
}

// UpdatePermission queues an update_permission intent switching groupID to
// preset (group.PresetDefault or group.PresetAdminsOnly).
func (c *Client) UpdatePermission(ctx context.Context, groupID, actorInboxID, preset string) error {
	if preset != group.PresetDefault && preset != group.PresetAdminsOnly {
		return fmt.Errorf("groupcore: update permission: unknown policy preset %q", preset)
	}
	if err := c.authorize(ctx, groupID, actorInboxID, policy.ActionUpdatePermission); err != nil {
		return err
	}

	md, err := c.store.Queries().GetMetadata(ctx, groupID)
	if err != nil {
		return fmt.Errorf("groupcore: update permission: %w", err)
	}
	if md.Attributes == nil {
		md.Attributes = map[string]string{}
	}
	md.Attributes[group.AttrPermissionPreset] = preset
	if err := c.store.Queries().PutMetadata(ctx, groupID, md); err != nil {
		return fmt.Errorf("groupcore: update permission: %w", err)
	}

	payload, err := publish.EncodeMetadataUpdate(md)
	if err != nil {
		return fmt.Errorf("groupcore: update permission: %w", err)
	}
	_, err = c.intents.Queue(ctx, groupID, model.IntentUpdatePermission, payload, true)
	return err
}

// Send queues a send_message intent for groupID carrying plaintext. The
// message is not delivered until the next sync (or SyncNow) drains the
// queue; callers wanting an immediate round-trip should follow Send with
// Sync.
//
// Per spec.md §4.7, a group materialized from a welcome can't be trusted
// to report an accurate version gate, so Send fails with
// model.ErrSyncRequired until its first sync has run (a group created
// locally by CreateGroup/CreateDM starts out synced); once synced, a
// group paused for a minimum_supported_protocol_version bump fails every
// send with a GroupPausedUntilUpdateError naming the required version.
func (c *Client) Send(ctx context.Context, groupID, senderInboxID string, plaintext []byte) error {
	if _, err := c.groups.Policy(ctx, groupID); err != nil {
		return fmt.Errorf("groupcore: send: %w", err)
	}
	if _, err := c.store.Queries().GetMember(ctx, groupID, senderInboxID); err != nil {
		return fmt.Errorf("groupcore: send: %s is not a member of %s: %w", senderInboxID, groupID, err)
	}

	synced, err := c.store.Queries().SyncedSinceGate(ctx, groupID)
	if err != nil {
		return fmt.Errorf("groupcore: send: %w", err)
	}
	if !synced {
		return fmt.Errorf("groupcore: send: %w", model.ErrSyncRequired)
	}

	g, err := c.store.Queries().GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("groupcore: send: %w", err)
	}
	if g.PausedForVersion != "" {
		return &model.GroupPausedUntilUpdateError{RequiredVersion: g.PausedForVersion}
	}

	_, err = c.intents.Queue(ctx, groupID, model.IntentSendMessage, plaintext, true)
	return err
}

// ListGroups returns the caller's active groups (DM duplicates collapsed,
// per spec.md §4.6).
func (c *Client) ListGroups(ctx context.Context, filter group.ListFilter) ([]model.Group, error) {
	return c.groups.ListGroups(ctx, filter)
}

// ListMessages returns groupID's message history, merged across DM
// duplicates when groupID is part of a stitched DM.
func (c *Client) ListMessages(ctx context.Context, groupID string) ([]model.MessageRecord, error) {
	return c.groups.ListMessages(ctx, groupID)
}

// ListMembers returns groupID's current membership.
func (c *Client) ListMembers(ctx context.Context, groupID string) ([]model.Member, error) {
	return c.store.Queries().ListMembers(ctx, groupID)
}

// Sync runs one publish/fetch/process cycle for groupID.
func (c *Client) Sync(ctx context.Context, groupID string) error {
	return c.coordinator.Sync(ctx, groupID)
}

// SyncAll runs Sync across every active group, bounded by
// syncc.MaxParallelGroups.
func (c *Client) SyncAll(ctx context.Context) error {
	return c.coordinator.SyncAll(ctx)
}

// SyncWelcomesAndGroups accepts any welcomes addressed to this
// installation, then syncs every active group including ones just
// materialized from those welcomes.
func (c *Client) SyncWelcomesAndGroups(ctx context.Context) error {
	return c.coordinator.SyncAllWelcomesAndGroups(ctx, c.installationID)
}

// StartBackgroundSync starts a Worker driving SyncWelcomesAndGroups on
// cfg's schedule. Calling it twice is a no-op until StopBackgroundSync.
func (c *Client) StartBackgroundSync(ctx context.Context, cfg syncc.WorkerConfig) {
	if c.worker == nil {
		c.worker = syncc.NewWorker(c.coordinator, c.installationID, cfg)
	}
	c.worker.Start(ctx)
}

// StopBackgroundSync stops the Worker started by StartBackgroundSync,
// blocking until its current cycle finishes.
func (c *Client) StopBackgroundSync() {
	if c.worker != nil {
		c.worker.Stop()
		c.worker = nil
	}
}

func (c *Client) authorize(ctx context.Context, groupID, actorInboxID string, action policy.Action) error {
	p, err := c.groups.Policy(ctx, groupID)
	if err != nil {
		return fmt.Errorf("groupcore: authorize: %w", err)
	}
	member, err := c.store.Queries().GetMember(ctx, groupID, actorInboxID)
	if err != nil {
		return fmt.Errorf("groupcore: authorize: %s is not a member of %s: %w", actorInboxID, groupID, err)
	}
	return p.Authorize(action, member.PermissionLevel)
}
