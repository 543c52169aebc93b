package cursor

import (
	"context"
	"testing"

	"github.com/jra3/groupcore/internal/dbstore"
	"github.com/jra3/groupcore/internal/model"
)

func openTestStore(t *testing.T) *dbstore.Store {
	t.Helper()
	store, err := dbstore.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpdateIsMonotone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs := New(openTestStore(t))
	topic := model.Topic("group/g1")

	if err := cs.Update(ctx, topic, "node-a", 5); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := cs.Update(ctx, topic, "node-a", 3); err != nil {
		t.Fatalf("Update (stale): %v", err)
	}

	gc, err := cs.Latest(ctx, topic)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got := gc.Get("node-a"); got != 5 {
		t.Errorf("Latest()[node-a] = %d, want 5 (stale write must be a no-op)", got)
	}

	if err := cs.Update(ctx, topic, "node-a", 9); err != nil {
		t.Fatalf("Update (advance): %v", err)
	}
	gc, _ = cs.Latest(ctx, topic)
	if got := gc.Get("node-a"); got != 9 {
		t.Errorf("Latest()[node-a] = %d, want 9", got)
	}
}

func TestLatestPerOriginatorIsRestrictedProjection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs := New(openTestStore(t))
	topic := model.Topic("group/g1")

	must(t, cs.Update(ctx, topic, "a", 1))
	must(t, cs.Update(ctx, topic, "b", 2))
	must(t, cs.Update(ctx, topic, "c", 3))

	gc, err := cs.LatestPerOriginator(ctx, topic, []string{"a", "c"})
	if err != nil {
		t.Fatalf("LatestPerOriginator: %v", err)
	}
	if len(gc) != 2 {
		t.Fatalf("len(gc) = %d, want 2", len(gc))
	}
	if gc.Get("a") != 1 || gc.Get("c") != 3 {
		t.Errorf("gc = %v, want a=1 c=3", gc)
	}
}

func TestLowestCommonCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs := New(openTestStore(t))

	topicA := model.Topic("group/a")
	topicB := model.Topic("group/b")

	must(t, cs.Update(ctx, topicA, "node-1", 10))
	must(t, cs.Update(ctx, topicB, "node-1", 4))
	must(t, cs.Update(ctx, topicA, "node-2", 2))
	// node-2 never seen on topicB -> floors to 0

	gc, err := cs.LowestCommonCursor(ctx, []model.Topic{topicA, topicB})
	if err != nil {
		t.Fatalf("LowestCommonCursor: %v", err)
	}
	if got := gc.Get("node-1"); got != 4 {
		t.Errorf("lcc[node-1] = %d, want min(10,4)=4", got)
	}
	if got := gc.Get("node-2"); got != 0 {
		t.Errorf("lcc[node-2] = %d, want 0 (unseen on topicB floors the min)", got)
	}
}

func TestNullStoreAlwaysZeroAndAcceptsWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var ns NullStore

	if err := ns.Update(ctx, "any", "node", 100); err != nil {
		t.Fatalf("Update: %v", err)
	}
	gc, err := ns.Latest(ctx, "any")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(gc) != 0 {
		t.Errorf("NullStore.Latest returned %v, want empty", gc)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
