package process

import "fmt"

// EnvelopeKind tags what a relay payload carries, so the processor can
// dispatch to the adapter's commit path or its decrypt path without
// sniffing the bytes themselves.
type EnvelopeKind uint8

const (
	EnvelopeCommit EnvelopeKind = iota
	EnvelopeApplication
)

// EncodeEnvelope prefixes body with a one-byte kind tag, the wire format
// the commit publisher writes to a group's topic.
func EncodeEnvelope(kind EnvelopeKind, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = byte(kind)
	copy(out[1:], body)
	return out
}

// DecodeEnvelope splits a relay payload back into its kind and body.
func DecodeEnvelope(payload []byte) (EnvelopeKind, []byte, error) {
	if len(payload) == 0 {
		return 0, nil, fmt.Errorf("decode envelope: empty payload")
	}
	kind := EnvelopeKind(payload[0])
	if kind != EnvelopeCommit && kind != EnvelopeApplication {
		return 0, nil, fmt.Errorf("decode envelope: unknown kind tag %d", payload[0])
	}
	return kind, payload[1:], nil
}
