package mls

import (
	"encoding/json"
	"fmt"
)

// wireDTO is the JSON-serializable form of commitWire. The fake adapter's
// "wire format" is deliberately transparent (JSON, not an encrypted MLS
// commit) since the whole point of FakeAdapter is to make commit content
// inspectable in tests without a real MLS stack.
type wireDTO struct {
	GroupID       string   `json:"group_id"`
	FromEpoch     uint64   `json:"from_epoch"`
	ToEpoch       uint64   `json:"to_epoch"`
	AddInboxes    []string `json:"add_inboxes,omitempty"`
	RemoveInboxes []string `json:"remove_inboxes,omitempty"`
}

func encodeCommit(w commitWire) []byte {
	dto := wireDTO{
		GroupID:       w.groupID,
		FromEpoch:     w.fromEpoch,
		ToEpoch:       w.toEpoch,
		AddInboxes:    w.addInboxes,
		RemoveInboxes: w.removeInboxes,
	}
	b, err := json.Marshal(dto)
	if err != nil {
		// encoding a plain DTO of strings/ints cannot fail
		panic(fmt.Sprintf("encode commit: %v", err))
	}
	return b
}

func decodeCommit(b []byte) (commitWire, error) {
	var dto wireDTO
	if err := json.Unmarshal(b, &dto); err != nil {
		return commitWire{}, err
	}
	return commitWire{
		groupID:       dto.GroupID,
		fromEpoch:     dto.FromEpoch,
		toEpoch:       dto.ToEpoch,
		addInboxes:    dto.AddInboxes,
		removeInboxes: dto.RemoveInboxes,
	}, nil
}
