package publish

import (
	"encoding/json"

	"github.com/jra3/groupcore/internal/model"
)

// AddMembersPayload is the intent payload for model.IntentAddMembers.
type AddMembersPayload struct {
	InboxIDs []string `json:"inbox_ids"`
}

// RemoveMembersPayload is the intent payload for model.IntentRemoveMembers.
type RemoveMembersPayload struct {
	InboxIDs []string `json:"inbox_ids"`
}

// EncodeAddMembers marshals an AddMembersPayload for intent.Queue.Queue.
func EncodeAddMembers(inboxIDs []string) ([]byte, error) {
	return json.Marshal(AddMembersPayload{InboxIDs: inboxIDs})
}

// EncodeRemoveMembers marshals a RemoveMembersPayload for intent.Queue.Queue.
func EncodeRemoveMembers(inboxIDs []string) ([]byte, error) {
	return json.Marshal(RemoveMembersPayload{InboxIDs: inboxIDs})
}

func decodeAddMembers(b []byte) (AddMembersPayload, error) {
	var p AddMembersPayload
	err := json.Unmarshal(b, &p)
	return p, err
}

func decodeRemoveMembers(b []byte) (RemoveMembersPayload, error) {
	var p RemoveMembersPayload
	err := json.Unmarshal(b, &p)
	return p, err
}

// MetadataUpdatePayload is the intent payload shared by
// model.IntentUpdateMetadata, model.IntentUpdateAdminList, and
// model.IntentUpdatePermission: all three stage the same kind of MLS
// proposal (a metadata/permission diff, carried opaquely in
// mls.CommitAction.MetadataDiff), so they share one wire shape carrying
// the group's metadata as it stands after the update was applied locally.
type MetadataUpdatePayload struct {
	Attributes     map[string]string `json:"attributes,omitempty"`
	AdminList      []string          `json:"admin_list,omitempty"`
	SuperAdminList []string          `json:"super_admin_list,omitempty"`
}

// EncodeMetadataUpdate marshals md for intent.Queue.Queue.
func EncodeMetadataUpdate(md model.MutableMetadata) ([]byte, error) {
	return json.Marshal(MetadataUpdatePayload{
		Attributes:     md.Attributes,
		AdminList:      md.AdminList,
		SuperAdminList: md.SuperAdminList,
	})
}

// DecodeMetadataUpdate parses bytes produced by EncodeMetadataUpdate.
func DecodeMetadataUpdate(b []byte) (MetadataUpdatePayload, error) {
	var p MetadataUpdatePayload
	err := json.Unmarshal(b, &p)
	return p, err
}
