package dbstore

import (
	"context"
	"database/sql"
	"fmt"
)

// UpdateCursor writes sequenceID for (topic, originatorID) iff it is
// greater than the stored value. The write is idempotent and atomic: a
// stale write (value <= current) is a no-op, satisfying spec.md §4.1's
// cursor-monotonicity contract at the SQL layer via a single UPSERT with a
// WHERE-guarded conflict clause.
func (q *Queries) UpdateCursor(ctx context.Context, topic, originatorID string, sequenceID uint64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO cursors (topic, originator_id, sequence_id)
		VALUES (?, ?, ?)
		ON CONFLICT(topic, originator_id) DO UPDATE SET sequence_id = excluded.sequence_id
		WHERE excluded.sequence_id > cursors.sequence_id
	`, topic, originatorID, int64(sequenceID))
	if err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	return nil
}

// LatestCursor returns the full per-originator map for topic.
func (q *Queries) LatestCursor(ctx context.Context, topic string) (map[string]uint64, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT originator_id, sequence_id FROM cursors WHERE topic = ?`, topic)
	if err != nil {
		return nil, fmt.Errorf("latest cursor: %w", err)
	}
	defer rows.Close()

	out := map[string]uint64{}
	for rows.Next() {
		var originator string
		var seq int64
		if err := rows.Scan(&originator, &seq); err != nil {
			return nil, err
		}
		out[originator] = uint64(seq)
	}
	return out, rows.Err()
}

// LatestCursorForOriginator returns a single originator's sequence id on topic, or 0 if unseen.
func (q *Queries) LatestCursorForOriginator(ctx context.Context, topic, originatorID string) (uint64, error) {
	var seq int64
	err := q.db.QueryRowContext(ctx, `SELECT sequence_id FROM cursors WHERE topic = ? AND originator_id = ?`, topic, originatorID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil // unseen => 0, matching GlobalCursor.Get's zero-value semantics
	}
	if err != nil {
		return 0, fmt.Errorf("latest cursor for originator: %w", err)
	}
	return uint64(seq), nil
}
