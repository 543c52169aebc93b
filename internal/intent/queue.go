// Package intent implements the Intent Queue: a durable, per-group FIFO of
// locally-initiated actions awaiting commit. Restart safety is mandatory —
// any ToPublish or Published intent must survive a crash and be
// reconsidered on the next sync, so this is backed by dbstore, never an
// in-memory channel.
package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jra3/groupcore/internal/model"
)

// legalTransitions is the state machine from spec.md §4.2: ToPublish ->
// Published -> Committed -> Processed, with Error reachable from any
// non-terminal state.
var legalTransitions = map[model.IntentState]map[model.IntentState]bool{
	model.IntentToPublish: {model.IntentPublished: true, model.IntentError: true, model.IntentProcessed: true},
	model.IntentPublished: {model.IntentCommitted: true, model.IntentToPublish: true, model.IntentError: true, model.IntentProcessed: true},
	model.IntentCommitted: {model.IntentProcessed: true, model.IntentError: true},
}

// Queue is the durable intent FIFO for one store.
type Queue struct {
	db *sql.DB
}

// New wraps the given *sql.DB (shared with dbstore.Store) as an intent queue.
func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Queue appends a new intent in ToPublish state and returns its id.
// should_push documents intent to the publisher that this action should
// be drained promptly rather than waiting for the next scheduled sync;
// the queue accepts it for symmetry with the caller's bookkeeping but
// neither stores nor interprets it.
func (q *Queue) Queue(ctx context.Context, groupID string, kind model.IntentKind, payload []byte, shouldPush bool) (int64, error) {
	_ = shouldPush
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO intents (group_id, kind, payload, state, created_at_ns)
		VALUES (?, ?, ?, ?, ?)
	`, groupID, string(kind), payload, string(model.IntentToPublish), model.NowNs())
	if err != nil {
		return 0, fmt.Errorf("queue intent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("queue intent id: %w", err)
	}
	return id, nil
}

// List returns a group's intents ordered by id. If states is non-empty,
// only intents in one of those states are returned.
func (q *Queue) List(ctx context.Context, groupID string, states ...model.IntentState) ([]model.Intent, error) {
	query := `SELECT id, group_id, kind, payload, state, published_in_epoch, commit_fingerprint, post_commit_welcome_topics, post_commit_welcome_payload, error_detail, created_at_ns FROM intents WHERE group_id = ?`
	args := []any{groupID}
	if len(states) > 0 {
		placeholders := ""
		for i, s := range states {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, string(s))
		}
		query += fmt.Sprintf(" AND state IN (%s)", placeholders)
	}
	query += ` ORDER BY id ASC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	defer rows.Close()

	var out []model.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Get returns a single intent by id.
func (q *Queue) Get(ctx context.Context, id int64) (model.Intent, error) {
	row := q.db.QueryRowContext(ctx, `SELECT id, group_id, kind, payload, state, published_in_epoch, commit_fingerprint, post_commit_welcome_topics, post_commit_welcome_payload, error_detail, created_at_ns FROM intents WHERE id = ?`, id)
	return scanIntent(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIntent(row scanner) (model.Intent, error) {
	var in model.Intent
	var kind, state, fingerprint, topicsRaw, errDetail string
	var payload, welcomePayload []byte
	var publishedEpoch sql.NullInt64
	if err := row.Scan(&in.ID, &in.GroupID, &kind, &payload, &state, &publishedEpoch, &fingerprint, &topicsRaw, &welcomePayload, &errDetail, &in.CreatedAtNs); err != nil {
		return model.Intent{}, err
	}
	in.Kind = model.IntentKind(kind)
	in.Payload = payload
	in.State = model.IntentState(state)
	in.CommitFingerprint = fingerprint
	in.ErrorDetail = errDetail
	if publishedEpoch.Valid {
		e := uint64(publishedEpoch.Int64)
		in.PublishedInEpoch = &e
	}
	var topics []string
	if topicsRaw != "" {
		if err := json.Unmarshal([]byte(topicsRaw), &topics); err != nil {
			return model.Intent{}, fmt.Errorf("decode welcome topics: %w", err)
		}
	}
	if len(topics) > 0 || len(welcomePayload) > 0 {
		in.PostCommitAction = &model.PostCommitAction{WelcomeTopics: topics, WelcomePayload: welcomePayload}
	}
	return in, nil
}

// Transition moves an intent to newState, validating the edge per
// spec.md §4.2's state machine. Reaching Error is always legal from a
// non-terminal state.
func (q *Queue) Transition(ctx context.Context, id int64, newState model.IntentState) error {
	in, err := q.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("transition: get intent %d: %w", id, err)
	}
	if !q.isLegal(in.State, newState) {
		return &model.InvalidTransitionError{From: in.State, To: newState}
	}
	_, err = q.db.ExecContext(ctx, `UPDATE intents SET state = ? WHERE id = ?`, string(newState), id)
	if err != nil {
		return fmt.Errorf("transition intent %d: %w", id, err)
	}
	return nil
}

func (q *Queue) isLegal(from, to model.IntentState) bool {
	if from.Terminal() {
		return false
	}
	if to == model.IntentError {
		return true
	}
	return legalTransitions[from][to]
}

// MarkError transitions an intent to Error and records a diagnostic,
// satisfying "transition to Error with a diagnostic string" from spec.md §9.
func (q *Queue) MarkError(ctx context.Context, id int64, detail string) error {
	in, err := q.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("mark error: get intent %d: %w", id, err)
	}
	if in.State.Terminal() {
		return nil
	}
	_, err = q.db.ExecContext(ctx, `UPDATE intents SET state = ?, error_detail = ? WHERE id = ?`, string(model.IntentError), detail, id)
	if err != nil {
		return fmt.Errorf("mark error intent %d: %w", id, err)
	}
	return nil
}

// SetPublished records the staged commit's fingerprint and target epoch,
// and any post-commit welcome action, transitioning the intent to Published.
func (q *Queue) SetPublished(ctx context.Context, id int64, epoch uint64, fingerprint string, post *model.PostCommitAction) error {
	in, err := q.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("set published: get intent %d: %w", id, err)
	}
	if !q.isLegal(in.State, model.IntentPublished) {
		return &model.InvalidTransitionError{From: in.State, To: model.IntentPublished}
	}

	var topicsJSON []byte
	var welcomePayload []byte
	if post != nil {
		topicsJSON, err = json.Marshal(post.WelcomeTopics)
		if err != nil {
			return err
		}
		welcomePayload = post.WelcomePayload
	} else {
		topicsJSON = []byte("[]")
	}

	_, err = q.db.ExecContext(ctx, `
		UPDATE intents SET state = ?, published_in_epoch = ?, commit_fingerprint = ?, post_commit_welcome_topics = ?, post_commit_welcome_payload = ?
		WHERE id = ?
	`, string(model.IntentPublished), epoch, fingerprint, string(topicsJSON), welcomePayload, id)
	if err != nil {
		return fmt.Errorf("set published intent %d: %w", id, err)
	}
	return nil
}

// FindByFingerprint locates the ToPublish/Published/Committed intent in
// groupID matching a commit's fingerprint, used to finalize own commits
// observed coming back from the relay (spec.md §4.4 step 5).
func (q *Queue) FindByFingerprint(ctx context.Context, groupID, fingerprint string) (*model.Intent, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, group_id, kind, payload, state, published_in_epoch, commit_fingerprint, post_commit_welcome_topics, post_commit_welcome_payload, error_detail, created_at_ns
		FROM intents WHERE group_id = ? AND commit_fingerprint = ? AND state IN (?, ?, ?)
		ORDER BY id ASC LIMIT 1
	`, groupID, fingerprint, string(model.IntentToPublish), string(model.IntentPublished), string(model.IntentCommitted))
	in, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find intent by fingerprint: %w", err)
	}
	return &in, nil
}
