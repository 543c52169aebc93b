package process

import (
	"context"
	"testing"

	"github.com/jra3/groupcore/internal/cursor"
	"github.com/jra3/groupcore/internal/dbstore"
	"github.com/jra3/groupcore/internal/intent"
	"github.com/jra3/groupcore/internal/mls"
	"github.com/jra3/groupcore/internal/model"
	"github.com/jra3/groupcore/internal/relay"
)

func newTestRig(t *testing.T) (*Processor, *dbstore.Store, *intent.Queue, *mls.FakeAdapter) {
	t.Helper()
	store, err := dbstore.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cs := cursor.New(store)
	iq := intent.New(store.DB())
	adapter := mls.NewFakeAdapter()
	p := New(adapter, cs, iq, store.Queries(), store.Queries())
	return p, store, iq, adapter
}

func mustInsertGroup(t *testing.T, store *dbstore.Store, groupID string) {
	t.Helper()
	err := store.Queries().InsertGroup(context.Background(), dbstore.UpsertGroupParams{
		GroupID:          groupID,
		ConversationType: model.ConversationGroup,
		CreatedAtNs:      model.NowNs(),
		AddedByInboxID:   "inbox-creator",
		ConsentState:     model.ConsentAllowed,
	})
	if err != nil {
		t.Fatalf("insert group: %v", err)
	}
}

func TestProcessApplicationMessagePersistsAndAdvancesCursor(t *testing.T) {
	t.Parallel()
	p, store, _, adapter := newTestRig(t)
	ctx := context.Background()
	groupID := "group-1"
	mustInsertGroup(t, store, groupID)

	state, err := adapter.LoadGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("load group: %v", err)
	}

	topic := model.Topic("topic-" + groupID)
	msgs := []relay.EnvelopedMessage{
		{OriginatorID: "device-bob", SequenceID: 1, PayloadBytes: EncodeEnvelope(EnvelopeApplication, []byte("hello"))},
		{OriginatorID: "device-bob", SequenceID: 2, PayloadBytes: EncodeEnvelope(EnvelopeApplication, []byte("world"))},
	}

	res, err := p.ProcessTopic(ctx, groupID, topic, state, msgs, DefaultOptions())
	if err != nil {
		t.Fatalf("process topic: %v", err)
	}
	if res.Applied != 2 {
		t.Fatalf("applied = %d, want 2", res.Applied)
	}
	if res.LastCursor.Get("device-bob") != 2 {
		t.Fatalf("cursor = %d, want 2", res.LastCursor.Get("device-bob"))
	}

	records, err := store.Queries().ListMessages(ctx, groupID, "")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d messages, want 2", len(records))
	}
}

func TestProcessSkipsAlreadyProcessedEnvelopes(t *testing.T) {
	t.Parallel()
	p, store, _, adapter := newTestRig(t)
	ctx := context.Background()
	groupID := "group-1"
	mustInsertGroup(t, store, groupID)
	state, _ := adapter.LoadGroup(ctx, groupID)
	topic := model.Topic("topic-" + groupID)

	first := []relay.EnvelopedMessage{
		{OriginatorID: "device-bob", SequenceID: 1, PayloadBytes: EncodeEnvelope(EnvelopeApplication, []byte("hello"))},
	}
	if _, err := p.ProcessTopic(ctx, groupID, topic, state, first, DefaultOptions()); err != nil {
		t.Fatalf("first process: %v", err)
	}

	replay := []relay.EnvelopedMessage{
		{OriginatorID: "device-bob", SequenceID: 1, PayloadBytes: EncodeEnvelope(EnvelopeApplication, []byte("hello"))},
		{OriginatorID: "device-bob", SequenceID: 2, PayloadBytes: EncodeEnvelope(EnvelopeApplication, []byte("again"))},
	}
	res, err := p.ProcessTopic(ctx, groupID, topic, state, replay, DefaultOptions())
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if res.Skipped != 1 || res.Applied != 1 {
		t.Fatalf("skipped=%d applied=%d, want 1 and 1", res.Skipped, res.Applied)
	}
}

func TestProcessCommitFutureEpochFlagsForkWithoutAborting(t *testing.T) {
	t.Parallel()
	p, store, _, adapter := newTestRig(t)
	ctx := context.Background()
	groupID := "group-1"
	mustInsertGroup(t, store, groupID)
	state, _ := adapter.LoadGroup(ctx, groupID)
	topic := model.Topic("topic-" + groupID)

	// A commit claiming a future base epoch, followed by a normal
	// application message: the fork flag must not block the application
	// message from being processed.
	staged, err := adapter.StageCommit(ctx, &mls.GroupState{GroupID: groupID, Epoch: 5, MemberInboxes: map[string]bool{}}, mls.CommitAction{KeyUpdate: true})
	if err != nil {
		t.Fatalf("stage commit: %v", err)
	}

	msgs := []relay.EnvelopedMessage{
		{OriginatorID: "device-bob", SequenceID: 1, PayloadBytes: EncodeEnvelope(EnvelopeCommit, staged.CommitBytes)},
		{OriginatorID: "device-bob", SequenceID: 2, PayloadBytes: EncodeEnvelope(EnvelopeApplication, []byte("hi"))},
	}

	res, err := p.ProcessTopic(ctx, groupID, topic, state, msgs, DefaultOptions())
	if err != nil {
		t.Fatalf("process topic: %v", err)
	}
	if !res.ForkedDetected {
		t.Error("expected ForkedDetected")
	}
	if res.Applied != 1 {
		t.Fatalf("applied = %d, want 1 (the application message)", res.Applied)
	}

	g, err := store.Queries().GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if !g.MaybeForked {
		t.Error("group row should be flagged maybe_forked")
	}
}

func TestProcessFinalizesOwnCommitIntent(t *testing.T) {
	t.Parallel()
	p, store, iq, adapter := newTestRig(t)
	ctx := context.Background()
	groupID := "group-1"
	mustInsertGroup(t, store, groupID)
	state, _ := adapter.LoadGroup(ctx, groupID)
	topic := model.Topic("topic-" + groupID)

	id, err := iq.Queue(ctx, groupID, model.IntentKeyUpdate, nil, false)
	if err != nil {
		t.Fatalf("queue intent: %v", err)
	}

	staged, err := adapter.StageCommit(ctx, state, mls.CommitAction{KeyUpdate: true})
	if err != nil {
		t.Fatalf("stage commit: %v", err)
	}
	if err := iq.SetPublished(ctx, id, state.Epoch+1, staged.Fingerprint, nil); err != nil {
		t.Fatalf("set published: %v", err)
	}

	var hookCalled bool
	opts := DefaultOptions()
	opts.PostCommitHook = func(ctx context.Context, in model.Intent) error {
		hookCalled = true
		return nil
	}

	msgs := []relay.EnvelopedMessage{
		{OriginatorID: "my-installation", SequenceID: 1, PayloadBytes: EncodeEnvelope(EnvelopeCommit, staged.CommitBytes)},
	}
	res, err := p.ProcessTopic(ctx, groupID, topic, state, msgs, opts)
	if err != nil {
		t.Fatalf("process topic: %v", err)
	}
	if len(res.FinalizedIntentIDs) != 1 || res.FinalizedIntentIDs[0] != id {
		t.Fatalf("finalized intents = %v, want [%d]", res.FinalizedIntentIDs, id)
	}
	if !hookCalled {
		t.Error("post-commit hook should have run")
	}

	got, err := iq.Get(ctx, id)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if got.State != model.IntentProcessed {
		t.Fatalf("intent state = %s, want processed", got.State)
	}
}
