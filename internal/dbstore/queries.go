package dbstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jra3/groupcore/internal/model"
)

// Queries is the hand-written query surface over the SQLite schema,
// following the teacher's sqlc-shaped Queries struct even though this
// tree has no code generator: one method per access pattern, parameters
// as a struct when there are more than a couple of fields.
type Queries struct {
	db *sql.DB
}

// ===========================================================================
// Groups
// ===========================================================================

// UpsertGroupParams carries the full row for an insert-or-update of a group.
type UpsertGroupParams struct {
	GroupID          string
	ConversationType model.ConversationType
	CreatedAtNs      int64
	AddedByInboxID   string
	ConsentState     model.ConsentState
	DMPeerInboxID    string
	DMID             string
}

func (q *Queries) InsertGroup(ctx context.Context, p UpsertGroupParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO groups (group_id, conversation_type, created_at_ns, added_by_inbox_id, consent_state, dm_peer_inbox_id, dm_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id) DO NOTHING
	`, p.GroupID, string(p.ConversationType), p.CreatedAtNs, p.AddedByInboxID, string(p.ConsentState), p.DMPeerInboxID, p.DMID)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func scanGroup(row interface {
	Scan(dest ...any) error
}) (model.Group, error) {
	var g model.Group
	var convType, consent string
	var forkEpoch sql.NullInt64
	var forkFingerprint, forkDetail sql.NullString
	var forkNs sql.NullInt64
	var forked int
	err := row.Scan(
		&g.GroupID, &convType, &g.CreatedAtNs, &g.AddedByInboxID, &consent,
		&g.DMPeerInboxID, &g.DMID, &g.PausedForVersion, &g.LastMessageNs,
		&forked, &forkEpoch, &forkFingerprint, &forkNs, &forkDetail,
	)
	if err != nil {
		return model.Group{}, err
	}
	g.ConversationType = model.ConversationType(convType)
	g.ConsentState = model.ConsentState(consent)
	g.MaybeForked = forked != 0
	if g.MaybeForked {
		g.ForkDetails = &model.ForkDetails{}
		if forkEpoch.Valid {
			g.ForkDetails.DetectedAtEpoch = uint64(forkEpoch.Int64)
		}
		g.ForkDetails.CommitFingerprint = forkFingerprint.String
		if forkNs.Valid {
			g.ForkDetails.DetectedAtNs = forkNs.Int64
		}
		g.ForkDetails.Detail = forkDetail.String
	}
	return g, nil
}

const groupColumns = `group_id, conversation_type, created_at_ns, added_by_inbox_id, consent_state,
	dm_peer_inbox_id, dm_id, paused_for_version, last_message_ns,
	maybe_forked, fork_detected_at_epoch, fork_commit_fingerprint, fork_detected_at_ns, fork_detail`

func (q *Queries) GetGroup(ctx context.Context, groupID string) (model.Group, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE group_id = ?`, groupID)
	return scanGroup(row)
}

// ListGroupsByDMID returns every group row sharing a dm_id (the stitched duplicates).
func (q *Queries) ListGroupsByDMID(ctx context.Context, dmID string) ([]model.Group, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE dm_id = ? ORDER BY created_at_ns ASC`, dmID)
	if err != nil {
		return nil, fmt.Errorf("list groups by dm_id: %w", err)
	}
	defer rows.Close()
	return scanGroups(rows)
}

func scanGroups(rows *sql.Rows) ([]model.Group, error) {
	var out []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListActiveGroups returns every active (non-DM-duplicate-collapsed) group,
// ordered by last_message_ns descending. DM collapsing happens at the
// group-manager layer, which needs the raw rows to pick the right winner.
func (q *Queries) ListActiveGroups(ctx context.Context) ([]model.Group, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM groups ORDER BY last_message_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active groups: %w", err)
	}
	defer rows.Close()
	return scanGroups(rows)
}

func (q *Queries) UpdateLastMessageNs(ctx context.Context, groupID string, ns int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE groups SET last_message_ns = ? WHERE group_id = ? AND last_message_ns < ?`, ns, groupID, ns)
	if err != nil {
		return fmt.Errorf("update last_message_ns: %w", err)
	}
	return nil
}

func (q *Queries) SetPausedForVersion(ctx context.Context, groupID, version string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE groups SET paused_for_version = ? WHERE group_id = ?`, version, groupID)
	if err != nil {
		return fmt.Errorf("set paused_for_version: %w", err)
	}
	return nil
}

func (q *Queries) SetSyncedSinceGate(ctx context.Context, groupID string, synced bool) error {
	v := 0
	if synced {
		v = 1
	}
	_, err := q.db.ExecContext(ctx, `UPDATE groups SET synced_since_gate = ? WHERE group_id = ?`, v, groupID)
	return err
}

func (q *Queries) SyncedSinceGate(ctx context.Context, groupID string) (bool, error) {
	var v int
	err := q.db.QueryRowContext(ctx, `SELECT synced_since_gate FROM groups WHERE group_id = ?`, groupID).Scan(&v)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// SetForked records a fork diagnostic. Called only from the message
// processor on FutureWrongEpoch detection.
func (q *Queries) SetForked(ctx context.Context, groupID string, d model.ForkDetails) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE groups SET maybe_forked = 1, fork_detected_at_epoch = ?, fork_commit_fingerprint = ?, fork_detected_at_ns = ?, fork_detail = ?
		WHERE group_id = ?
	`, d.DetectedAtEpoch, d.CommitFingerprint, d.DetectedAtNs, d.Detail, groupID)
	if err != nil {
		return fmt.Errorf("set forked: %w", err)
	}
	return nil
}

// ClearForked is the admin-initiated reset flag from spec.md §4.4/§9.
func (q *Queries) ClearForked(ctx context.Context, groupID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE groups SET maybe_forked = 0, fork_detected_at_epoch = NULL, fork_commit_fingerprint = NULL, fork_detected_at_ns = NULL, fork_detail = NULL
		WHERE group_id = ?
	`, groupID)
	return err
}

// ===========================================================================
// Members
// ===========================================================================

func (q *Queries) UpsertMember(ctx context.Context, m model.Member) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO members (group_id, inbox_id, permission_level, consent_state)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(group_id, inbox_id) DO UPDATE SET permission_level = excluded.permission_level, consent_state = excluded.consent_state
	`, m.GroupID, m.InboxID, string(m.PermissionLevel), string(m.ConsentState))
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (q *Queries) RemoveMember(ctx context.Context, groupID, inboxID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM members WHERE group_id = ? AND inbox_id = ?`, groupID, inboxID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `DELETE FROM member_installations WHERE group_id = ? AND inbox_id = ?`, groupID, inboxID)
	return err
}

func (q *Queries) AddMemberInstallation(ctx context.Context, groupID, inboxID, installationID string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO member_installations (group_id, inbox_id, installation_id)
		VALUES (?, ?, ?)
		ON CONFLICT(group_id, inbox_id, installation_id) DO NOTHING
	`, groupID, inboxID, installationID)
	return err
}

func (q *Queries) ListMembers(ctx context.Context, groupID string) ([]model.Member, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT group_id, inbox_id, permission_level, consent_state FROM members WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []model.Member
	for rows.Next() {
		var m model.Member
		var perm, consent string
		if err := rows.Scan(&m.GroupID, &m.InboxID, &perm, &consent); err != nil {
			return nil, err
		}
		m.PermissionLevel = model.PermissionLevel(perm)
		m.ConsentState = model.ConsentState(consent)
		installs, err := q.listMemberInstallations(ctx, groupID, m.InboxID)
		if err != nil {
			return nil, err
		}
		m.Installations = installs
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q *Queries) GetMember(ctx context.Context, groupID, inboxID string) (model.Member, error) {
	var m model.Member
	var perm, consent string
	err := q.db.QueryRowContext(ctx, `SELECT group_id, inbox_id, permission_level, consent_state FROM members WHERE group_id = ? AND inbox_id = ?`, groupID, inboxID).
		Scan(&m.GroupID, &m.InboxID, &perm, &consent)
	if err != nil {
		return model.Member{}, err
	}
	m.PermissionLevel = model.PermissionLevel(perm)
	m.ConsentState = model.ConsentState(consent)
	installs, err := q.listMemberInstallations(ctx, groupID, inboxID)
	if err != nil {
		return model.Member{}, err
	}
	m.Installations = installs
	return m, nil
}

func (q *Queries) listMemberInstallations(ctx context.Context, groupID, inboxID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT installation_id FROM member_installations WHERE group_id = ? AND inbox_id = ?`, groupID, inboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ===========================================================================
// Metadata
// ===========================================================================

func (q *Queries) GetMetadata(ctx context.Context, groupID string) (model.MutableMetadata, error) {
	var attrsRaw, adminRaw, superRaw string
	err := q.db.QueryRowContext(ctx, `SELECT attributes, admin_list, super_admin_list FROM metadata WHERE group_id = ?`, groupID).
		Scan(&attrsRaw, &adminRaw, &superRaw)
	if err == sql.ErrNoRows {
		return model.MutableMetadata{Attributes: map[string]string{}}, nil
	}
	if err != nil {
		return model.MutableMetadata{}, err
	}
	var md model.MutableMetadata
	if err := json.Unmarshal([]byte(attrsRaw), &md.Attributes); err != nil {
		return model.MutableMetadata{}, fmt.Errorf("decode attributes: %w", err)
	}
	if err := json.Unmarshal([]byte(adminRaw), &md.AdminList); err != nil {
		return model.MutableMetadata{}, fmt.Errorf("decode admin_list: %w", err)
	}
	if err := json.Unmarshal([]byte(superRaw), &md.SuperAdminList); err != nil {
		return model.MutableMetadata{}, fmt.Errorf("decode super_admin_list: %w", err)
	}
	if md.Attributes == nil {
		md.Attributes = map[string]string{}
	}
	return md, nil
}

func (q *Queries) PutMetadata(ctx context.Context, groupID string, md model.MutableMetadata) error {
	attrs, err := json.Marshal(md.Attributes)
	if err != nil {
		return err
	}
	admin, err := json.Marshal(md.AdminList)
	if err != nil {
		return err
	}
	super, err := json.Marshal(md.SuperAdminList)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO metadata (group_id, attributes, admin_list, super_admin_list)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET attributes = excluded.attributes, admin_list = excluded.admin_list, super_admin_list = excluded.super_admin_list
	`, groupID, string(attrs), string(admin), string(super))
	if err != nil {
		return fmt.Errorf("put metadata: %w", err)
	}
	return nil
}

// ===========================================================================
// Messages
// ===========================================================================

func (q *Queries) InsertMessage(ctx context.Context, m model.MessageRecord) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO messages (id, group_id, decrypted_bytes, sender_installation_id, sent_at_ns, kind, delivery_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, m.ID, m.GroupID, m.DecryptedBytes, m.SenderInstallationID, m.SentAtNs, string(m.Kind), string(m.DeliveryStatus))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (q *Queries) MessageExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// ListMessages returns messages for groupID; kindFilter == "" means no filter.
func (q *Queries) ListMessages(ctx context.Context, groupID string, kindFilter model.MessageKind) ([]model.MessageRecord, error) {
	query := `SELECT id, group_id, decrypted_bytes, sender_installation_id, sent_at_ns, kind, delivery_status FROM messages WHERE group_id = ?`
	args := []any{groupID}
	if kindFilter != "" {
		query += ` AND kind = ?`
		args = append(args, string(kindFilter))
	}
	query += ` ORDER BY sent_at_ns ASC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListMessagesForGroups merges messages across multiple group_ids (used
// for DM stitching), ordered by sent_at_ns.
func (q *Queries) ListMessagesForGroups(ctx context.Context, groupIDs []string, kindFilter model.MessageKind) ([]model.MessageRecord, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(groupIDs))
	args := make([]any, 0, len(groupIDs)+1)
	for i, id := range groupIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT id, group_id, decrypted_bytes, sender_installation_id, sent_at_ns, kind, delivery_status FROM messages WHERE group_id IN (%s)`, joinPlaceholders(placeholders))
	if kindFilter != "" {
		query += ` AND kind = ?`
		args = append(args, string(kindFilter))
	}
	query += ` ORDER BY sent_at_ns ASC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages for groups: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += "," + p
	}
	return out
}

func scanMessages(rows *sql.Rows) ([]model.MessageRecord, error) {
	var out []model.MessageRecord
	for rows.Next() {
		var m model.MessageRecord
		var kind, status string
		if err := rows.Scan(&m.ID, &m.GroupID, &m.DecryptedBytes, &m.SenderInstallationID, &m.SentAtNs, &kind, &status); err != nil {
			return nil, err
		}
		m.Kind = model.MessageKind(kind)
		m.DeliveryStatus = model.DeliveryStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}
