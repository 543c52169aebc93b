// Package process implements the Message Processor: the ingestion
// pipeline that turns a batch of relay envelopes for one topic into
// applied commits, decrypted messages, and advanced cursors.
//
// Grounded on the teacher's sync worker control flow in
// internal/sync/worker.go ("stop on unchanged, continue on error but
// log"): an already-processed envelope is skipped silently, a detected
// fork is logged and flagged but never aborts the batch, and only a
// genuinely retryable adapter error stops the batch early — with the
// cursor left exactly where it was before the failing envelope, so the
// next sync retries from there.
package process

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/jra3/groupcore/internal/cursor"
	"github.com/jra3/groupcore/internal/dbstore"
	"github.com/jra3/groupcore/internal/intent"
	"github.com/jra3/groupcore/internal/mls"
	"github.com/jra3/groupcore/internal/model"
	"github.com/jra3/groupcore/internal/relay"
)

// ForkRecorder persists a group's maybe_forked diagnostic. Satisfied by
// *dbstore.Queries.
type ForkRecorder interface {
	SetForked(ctx context.Context, groupID string, d model.ForkDetails) error
}

// Options configures one ProcessTopic call.
type Options struct {
	// IncrementCursor advances the cursor store as envelopes are consumed.
	// Set false for an out-of-order streaming preview that must not move
	// the durable high-water mark.
	IncrementCursor bool

	// AllowEpochIncrement is forwarded to the adapter. Set false during
	// replay/recovery when the caller wants to revalidate already-applied
	// commits without letting the group state advance further.
	AllowEpochIncrement bool

	// PostCommitHook runs when an own commit is finalized (its fingerprint
	// matched a queued intent), e.g. to send pending welcomes. Optional.
	PostCommitHook func(ctx context.Context, finalized model.Intent) error
}

// DefaultOptions is the normal steady-state sync configuration.
func DefaultOptions() Options {
	return Options{IncrementCursor: true, AllowEpochIncrement: true}
}

// Result summarizes one ProcessTopic call.
type Result struct {
	Applied             int
	Skipped             int // already processed, per cursor
	ForkedDetected      bool
	FinalizedIntentIDs  []int64
	LastCursor          model.GlobalCursor
}

// Processor wires the adapter, cursor store, intent queue and message
// store together into the ingestion pipeline from spec.md §4.4.
type Processor struct {
	adapter  mls.Adapter
	cursors  cursor.Store
	intents  *intent.Queue
	messages *dbstore.Queries
	forks    ForkRecorder
}

// New builds a Processor from its collaborators.
func New(adapter mls.Adapter, cursors cursor.Store, intents *intent.Queue, messages *dbstore.Queries, forks ForkRecorder) *Processor {
	return &Processor{adapter: adapter, cursors: cursors, intents: intents, messages: messages, forks: forks}
}

// ProcessTopic applies msgs (already ordered by SequenceID, as relay.Query
// returns them) against state, the caller's in-memory view of the group's
// MLS state, mutating it in place for already-applied commits. The caller
// owns the per-group lock around this call (spec.md §7).
func (p *Processor) ProcessTopic(ctx context.Context, groupID string, topic model.Topic, state *mls.GroupState, msgs []relay.EnvelopedMessage, opts Options) (Result, error) {
	seen, err := p.cursors.Latest(ctx, topic)
	if err != nil {
		return Result{}, fmt.Errorf("process topic %s: load cursor: %w", topic, err)
	}
	// Work on a local copy so a batch abort never partially commits cursor
	// advances past the envelope that failed.
	progress := model.GlobalCursor{}
	for k, v := range seen {
		progress[k] = v
	}

	var res Result
	for _, msg := range msgs {
		if msg.SequenceID <= seen.Get(msg.OriginatorID) {
			res.Skipped++
			continue
		}

		kind, body, err := DecodeEnvelope(msg.PayloadBytes)
		if err != nil {
			log.Printf("[process] topic %s originator %s seq %d: %v (skipping malformed envelope)", topic, msg.OriginatorID, msg.SequenceID, err)
			res.Skipped++
			continue
		}

		switch kind {
		case EnvelopeCommit:
			stop, err := p.processCommit(ctx, groupID, state, msg, body, opts, &res)
			if err != nil {
				return p.finish(ctx, topic, progress, res), fmt.Errorf("process commit at seq %d: %w", msg.SequenceID, err)
			}
			if stop {
				return p.finish(ctx, topic, progress, res), nil
			}
		case EnvelopeApplication:
			if err := p.processApplication(ctx, groupID, state, msg, body); err != nil {
				return p.finish(ctx, topic, progress, res), fmt.Errorf("process application at seq %d: %w", msg.SequenceID, err)
			}
			res.Applied++
		}

		if opts.IncrementCursor {
			progress[msg.OriginatorID] = msg.SequenceID
		}
	}

	return p.finish(ctx, topic, progress, res), nil
}

func (p *Processor) finish(ctx context.Context, topic model.Topic, progress model.GlobalCursor, res Result) Result {
	if len(progress) > 0 {
		for originator, seq := range progress {
			if err := p.cursors.Update(ctx, topic, originator, seq); err != nil {
				log.Printf("[process] topic %s: advance cursor for %s to %d failed: %v", topic, originator, seq, err)
			}
		}
	}
	res.LastCursor = progress
	return res
}

// processCommit handles one commit envelope. It returns stop=true when the
// batch should end without error (epoch increment disallowed in this mode).
func (p *Processor) processCommit(ctx context.Context, groupID string, state *mls.GroupState, msg relay.EnvelopedMessage, body []byte, opts Options, res *Result) (bool, error) {
	result, err := p.adapter.ProcessForeignCommit(ctx, state, body, opts.AllowEpochIncrement)
	if err != nil {
		// Too-far-in-the-past and decode failures are the only errors the
		// fake adapter raises; both are retryable at the next sync once
		// whatever produced the gap (a missed earlier fetch) is resolved.
		// Cursor is left untouched by the caller in finish().
		return false, err
	}

	switch result.Outcome {
	case mls.ProcessFutureWrongEpoch:
		res.ForkedDetected = true
		details := model.ForkDetails{
			DetectedAtEpoch:   result.NewEpoch,
			CommitFingerprint: result.CommitFingerprint,
			DetectedAtNs:      model.NowNs(),
			Detail:            fmt.Sprintf("commit from %s assumes a base epoch ahead of our current epoch %d", msg.OriginatorID, result.NewEpoch),
		}
		log.Printf("[process] group %s: maybe_forked, commit %s from %s at seq %d", groupID, result.CommitFingerprint, msg.OriginatorID, msg.SequenceID)
		if p.forks != nil {
			if err := p.forks.SetForked(ctx, groupID, details); err != nil {
				log.Printf("[process] group %s: record fork flag failed: %v", groupID, err)
			}
		}
		// Non-blocking: leave this envelope unconsumed and keep going.
		return false, nil

	case mls.ProcessEpochIncrementNotAllowed:
		// Replay/recovery mode has reached a commit it is not permitted to
		// apply. Stop here; already-applied progress before it still
		// advances the cursor.
		return true, nil

	case mls.ProcessApplied:
		finalizedID, err := p.finalizeOwnCommit(ctx, groupID, result.CommitFingerprint, opts)
		if err != nil {
			log.Printf("[process] group %s: finalize own commit %s failed: %v", groupID, result.CommitFingerprint, err)
		} else if finalizedID != 0 {
			res.FinalizedIntentIDs = append(res.FinalizedIntentIDs, finalizedID)
		}
		return false, nil

	default:
		return false, fmt.Errorf("unrecognized process outcome %v", result.Outcome)
	}
}

// finalizeOwnCommit matches an applied commit's fingerprint against the
// local intent queue (spec.md §4.4 step 5): if it's one of ours, the
// intent advances Published -> Committed -> Processed and its post-commit
// action (e.g. sending welcomes) runs.
func (p *Processor) finalizeOwnCommit(ctx context.Context, groupID, fingerprint string, opts Options) (int64, error) {
	if fingerprint == "" || p.intents == nil {
		return 0, nil
	}
	in, err := p.intents.FindByFingerprint(ctx, groupID, fingerprint)
	if err != nil {
		return 0, fmt.Errorf("find intent by fingerprint: %w", err)
	}
	if in == nil {
		return 0, nil // a peer's commit, not ours
	}

	if in.State == model.IntentPublished {
		if err := p.intents.Transition(ctx, in.ID, model.IntentCommitted); err != nil {
			return 0, fmt.Errorf("transition to committed: %w", err)
		}
	}
	if err := p.intents.Transition(ctx, in.ID, model.IntentProcessed); err != nil {
		return 0, fmt.Errorf("transition to processed: %w", err)
	}

	if opts.PostCommitHook != nil {
		if err := opts.PostCommitHook(ctx, *in); err != nil {
			return in.ID, fmt.Errorf("post-commit hook: %w", err)
		}
	}
	return in.ID, nil
}

func (p *Processor) processApplication(ctx context.Context, groupID string, state *mls.GroupState, msg relay.EnvelopedMessage, body []byte) error {
	plaintext, err := p.adapter.DecryptApplication(ctx, state, body)
	if err != nil {
		return fmt.Errorf("decrypt application: %w", err)
	}

	id := ContentAddress(groupID, msg.OriginatorID, msg.SequenceID, plaintext)
	exists, err := p.messages.MessageExists(ctx, id)
	if err != nil {
		return fmt.Errorf("check message exists: %w", err)
	}
	if exists {
		return nil
	}

	return p.messages.InsertMessage(ctx, model.MessageRecord{
		ID:                   id,
		GroupID:              groupID,
		DecryptedBytes:       plaintext,
		SenderInstallationID: msg.OriginatorID,
		SentAtNs:             model.NowNs(),
		Kind:                 model.MessageApplication,
		DeliveryStatus:       model.DeliveryPublished,
	})
}

// ContentAddress derives a message's content-addressed id, the same
// formula the commit publisher uses to pre-compute the id of a message it
// just published, so its own echo later deduplicates against MessageExists.
func ContentAddress(groupID, originator string, seq uint64, plaintext []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%d:", groupID, originator, seq)
	h.Write(plaintext)
	return hex.EncodeToString(h.Sum(nil))
}
