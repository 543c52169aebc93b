// Package cursor implements the Cursor Store component: the authoritative
// record of which (topic, originator, sequence_id) triples have been
// processed, so repeated fetches of the relay log are idempotent and
// forks are detectable.
//
// This resolves the Open Question in spec.md §9 about
// latest_maybe_missing/lcc_maybe_missing: rather than carry a second,
// eventually-consistent code path, every read here goes straight to the
// durable store. There is exactly one cursor model. See DESIGN.md.
package cursor

import (
	"context"
	"fmt"

	"github.com/jra3/groupcore/internal/dbstore"
	"github.com/jra3/groupcore/internal/model"
)

// Store is the interface the rest of the tree depends on, so tests and
// ephemeral modes can swap in NullStore.
type Store interface {
	Latest(ctx context.Context, topic model.Topic) (model.GlobalCursor, error)
	LatestPerOriginator(ctx context.Context, topic model.Topic, originators []string) (model.GlobalCursor, error)
	LowestCommonCursor(ctx context.Context, topics []model.Topic) (model.GlobalCursor, error)
	Update(ctx context.Context, topic model.Topic, originatorID string, sequenceID uint64) error
}

// SQLStore is the durable, store-backed implementation.
type SQLStore struct {
	q *dbstore.Queries
}

// New wraps a dbstore-backed Store.
func New(store *dbstore.Store) *SQLStore {
	return &SQLStore{q: store.Queries()}
}

func (s *SQLStore) Latest(ctx context.Context, topic model.Topic) (model.GlobalCursor, error) {
	m, err := s.q.LatestCursor(ctx, string(topic))
	if err != nil {
		return nil, fmt.Errorf("cursor latest: %w", err)
	}
	return model.GlobalCursor(m), nil
}

func (s *SQLStore) LatestPerOriginator(ctx context.Context, topic model.Topic, originators []string) (model.GlobalCursor, error) {
	out := model.GlobalCursor{}
	for _, o := range originators {
		seq, err := s.q.LatestCursorForOriginator(ctx, string(topic), o)
		if err != nil {
			return nil, fmt.Errorf("cursor latest_per_originator: %w", err)
		}
		out[o] = seq
	}
	return out, nil
}

// LowestCommonCursor computes, per originator, the minimum sequence_id
// observed across all listed topics (spec.md §4.1, property 2 in §8).
// An originator absent from any one topic contributes 0 for that topic,
// which (being the minimum possible value) correctly floors the result —
// "every listed topic has already advanced past" nothing for that
// originator until all of them have seen it at least once.
func (s *SQLStore) LowestCommonCursor(ctx context.Context, topics []model.Topic) (model.GlobalCursor, error) {
	if len(topics) == 0 {
		return model.GlobalCursor{}, nil
	}

	perTopic := make([]model.GlobalCursor, len(topics))
	originators := map[string]struct{}{}
	for i, t := range topics {
		gc, err := s.Latest(ctx, t)
		if err != nil {
			return nil, err
		}
		perTopic[i] = gc
		for o := range gc {
			originators[o] = struct{}{}
		}
	}

	out := model.GlobalCursor{}
	for o := range originators {
		min := perTopic[0].Get(o)
		for _, gc := range perTopic[1:] {
			if v := gc.Get(o); v < min {
				min = v
			}
		}
		out[o] = min
	}
	return out, nil
}

func (s *SQLStore) Update(ctx context.Context, topic model.Topic, originatorID string, sequenceID uint64) error {
	if err := s.q.UpdateCursor(ctx, string(topic), originatorID, sequenceID); err != nil {
		return fmt.Errorf("cursor update: %w", err)
	}
	return nil
}

// NullStore always returns zero cursors and silently accepts writes.
// Used for ephemeral/test modes per spec.md §4.1.
type NullStore struct{}

func (NullStore) Latest(context.Context, model.Topic) (model.GlobalCursor, error) {
	return model.GlobalCursor{}, nil
}

func (NullStore) LatestPerOriginator(context.Context, model.Topic, []string) (model.GlobalCursor, error) {
	return model.GlobalCursor{}, nil
}

func (NullStore) LowestCommonCursor(context.Context, []model.Topic) (model.GlobalCursor, error) {
	return model.GlobalCursor{}, nil
}

func (NullStore) Update(context.Context, model.Topic, string, uint64) error {
	return nil
}
