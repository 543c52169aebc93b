package relay

import (
	"context"
	"sort"
	"sync"
)

// Hub is the shared backing store behind a scenario's simulated relay:
// multiple installations each get their own MemoryClient (their own
// originator identity) but publish into and query the same topics,
// exactly as multiple real clients share one relay deployment.
type Hub struct {
	mu            sync.Mutex
	topics        map[string][]EnvelopedMessage
	welcomes      map[string][][]byte
	nextSeq       map[string]uint64
	forceConflict map[string]bool
}

// NewHub returns an empty shared relay backing store.
func NewHub() *Hub {
	return &Hub{
		topics:        make(map[string][]EnvelopedMessage),
		welcomes:      make(map[string][][]byte),
		nextSeq:       make(map[string]uint64),
		forceConflict: make(map[string]bool),
	}
}

// ForceEpochConflict arms a one-shot epoch conflict on topic: the next
// Publish call against it fails with ErrEpochConflict instead of landing,
// simulating a competing commit winning the race for that base epoch.
// Test-only hook for exercising the publisher's reconciliation path.
func (h *Hub) ForceEpochConflict(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forceConflict[topic] = true
}

// Client returns a MemoryClient view of h stamping messages with originator.
func (h *Hub) Client(originator string) *MemoryClient {
	return &MemoryClient{hub: h, originator: originator}
}

// MemoryClient is an in-memory relay implementing Client, for tests and
// the ephemeral CLI mode. Mirrors the in-memory-map mock style the
// teacher uses for its repository test double.
type MemoryClient struct {
	hub        *Hub
	originator string
}

// NewMemoryClient returns a MemoryClient backed by its own private Hub —
// convenient for single-installation tests that don't need to simulate
// multiple originators sharing one relay.
func NewMemoryClient(originator string) *MemoryClient {
	return NewHub().Client(originator)
}

func (m *MemoryClient) Query(ctx context.Context, topic string, after map[string]uint64) ([]EnvelopedMessage, error) {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()

	all := m.hub.topics[topic]
	out := make([]EnvelopedMessage, 0, len(all))
	for _, msg := range all {
		if msg.SequenceID > after[msg.OriginatorID] {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceID < out[j].SequenceID })
	return out, nil
}

func (m *MemoryClient) Publish(ctx context.Context, topic string, payload []byte) (uint64, error) {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()

	if m.hub.forceConflict[topic] {
		delete(m.hub.forceConflict, topic)
		return 0, &ErrEpochConflict{Topic: topic}
	}

	m.hub.nextSeq[m.originator]++
	seq := m.hub.nextSeq[m.originator]
	msg := EnvelopedMessage{
		OriginatorID: m.originator,
		SequenceID:   seq,
		PayloadBytes: payload,
	}
	m.hub.topics[topic] = append(m.hub.topics[topic], msg)
	return seq, nil
}

func (m *MemoryClient) PublishWelcome(ctx context.Context, keyID string, welcome []byte) error {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	m.hub.welcomes[keyID] = append(m.hub.welcomes[keyID], welcome)
	return nil
}

// WelcomesFor returns the welcomes published to keyID, for test assertions.
func (m *MemoryClient) WelcomesFor(keyID string) [][]byte {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	return append([][]byte(nil), m.hub.welcomes[keyID]...)
}

func (m *MemoryClient) QueryWelcomes(ctx context.Context, installationID string) ([][]byte, error) {
	return m.WelcomesFor(installationID), nil
}

// TopicLen returns how many messages have landed on topic, for assertions.
func (m *MemoryClient) TopicLen(topic string) int {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	return len(m.hub.topics[topic])
}
