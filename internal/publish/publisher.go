// Package publish implements the Commit Publisher: it drains a group's
// ToPublish intents in order, stages an MLS commit for each (coalescing
// consecutive bare key-update intents into one rotation), publishes it to
// the relay, and reconciles the relay's epoch-conflict response.
//
// Grounded on the teacher's "stop on unchanged, continue on error but
// log" worker control flow (internal/sync/worker.go), adapted here to
// "stop the drain on an epoch conflict, continue across independent
// intent batches otherwise."
package publish

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jra3/groupcore/internal/identity"
	"github.com/jra3/groupcore/internal/intent"
	"github.com/jra3/groupcore/internal/keypackage"
	"github.com/jra3/groupcore/internal/mls"
	"github.com/jra3/groupcore/internal/model"
	"github.com/jra3/groupcore/internal/process"
	"github.com/jra3/groupcore/internal/relay"
)

// MessageStore is the slice of dbstore.Queries the publisher needs to
// record a sent application message locally as soon as the relay accepts
// it. Satisfied by *dbstore.Queries.
type MessageStore interface {
	InsertMessage(ctx context.Context, m model.MessageRecord) error
	MessageExists(ctx context.Context, id string) (bool, error)
}

// Publisher drains one group's intent queue under the caller's group lock.
type Publisher struct {
	adapter        mls.Adapter
	intents        *intent.Queue
	relayClient    relay.Client
	identity       identity.Service
	keypackages    keypackage.Service
	messages       MessageStore
	localInstallID string
}

// New builds a Publisher from its collaborators. localInstallationID must
// match the originator identity relayClient publishes under, so a sent
// application message's content-addressed id matches the one the
// processor computes reading it back off the relay.
func New(adapter mls.Adapter, intents *intent.Queue, relayClient relay.Client, ids identity.Service, kp keypackage.Service, messages MessageStore, localInstallationID string) *Publisher {
	return &Publisher{
		adapter:        adapter,
		intents:        intents,
		relayClient:    relayClient,
		identity:       ids,
		keypackages:    kp,
		messages:       messages,
		localInstallID: localInstallationID,
	}
}

// DrainResult summarizes one DrainGroup call.
type DrainResult struct {
	PublishedIntentIDs []int64
	EpochConflicts      int
}

// DrainGroup publishes every ToPublish intent for groupID, mutating state
// optimistically as each commit lands so later intents in the same call
// stage atop the most recent local epoch. A relay epoch conflict on a
// batch that is still meaningful stops the drain without error: the
// remaining ToPublish intents are left in place for the next sync cycle
// to retry against fresh state. A conflicting batch whose request state
// already satisfies is marked Processed and the drain continues.
func (p *Publisher) DrainGroup(ctx context.Context, groupID string, topic model.Topic, state *mls.GroupState) (DrainResult, error) {
	var result DrainResult

	for {
		pending, err := p.intents.List(ctx, groupID, model.IntentToPublish)
		if err != nil {
			return result, fmt.Errorf("drain group %s: list pending intents: %w", groupID, err)
		}
		if len(pending) == 0 {
			return result, nil
		}

		batch := coalesce(pending)

		if batch[0].Kind == model.IntentSendMessage {
			published, err := p.publishApplicationMessage(ctx, groupID, topic, state, batch[0])
			if err != nil {
				return result, err
			}
			if published {
				result.PublishedIntentIDs = append(result.PublishedIntentIDs, batch[0].ID)
			}
			continue
		}

		action, postCommit, err := p.buildCommitAction(ctx, groupID, batch)
		if err != nil {
			log.Printf("[publish] group %s: intent batch %v failed to build, marking error: %v", groupID, intentIDs(batch), err)
			for _, in := range batch {
				if markErr := p.intents.MarkError(ctx, in.ID, err.Error()); markErr != nil {
					log.Printf("[publish] group %s: mark error on intent %d failed: %v", groupID, in.ID, markErr)
				}
			}
			continue
		}

		staged, err := p.adapter.StageCommit(ctx, state, action)
		if err != nil {
			return result, fmt.Errorf("drain group %s: stage commit: %w", groupID, err)
		}

		envelope := process.EncodeEnvelope(process.EnvelopeCommit, staged.CommitBytes)
		if _, err := p.relayClient.Publish(ctx, string(topic), envelope); err != nil {
			var conflict *relay.ErrEpochConflict
			if errors.As(err, &conflict) {
				// Reconciliation (spec.md §4.5): the relay already accepted a
				// competing commit for this base epoch. state still reflects
				// the last commit this drain (or the prior sync's fetch)
				// actually applied, so it's the freshest local signal of
				// whether the batch's request was already achieved by that
				// winning commit. If so, it's a no-op now; otherwise it's
				// still meaningful and belongs back in ToPublish for the next
				// sync cycle to resync state and retry.
				result.EpochConflicts++
				if stillMeaningful(state, batch) {
					log.Printf("[publish] group %s: epoch conflict, requeuing %d intent(s) for next sync", groupID, len(batch))
					return result, nil
				}
				log.Printf("[publish] group %s: epoch conflict, but %d intent(s) already satisfied by the winning commit; marking processed", groupID, len(batch))
				for _, in := range batch {
					if err := p.intents.Transition(ctx, in.ID, model.IntentProcessed); err != nil {
						log.Printf("[publish] group %s: mark intent %d processed (epoch-conflict no-op) failed: %v", groupID, in.ID, err)
						continue
					}
					result.PublishedIntentIDs = append(result.PublishedIntentIDs, in.ID)
				}
				continue
			}
			return result, fmt.Errorf("drain group %s: publish commit: %w", groupID, err)
		}

		if len(postCommit.WelcomeTopics) > 0 {
			for _, installationID := range postCommit.WelcomeTopics {
				if err := p.relayClient.PublishWelcome(ctx, installationID, staged.WelcomeBytes); err != nil {
					log.Printf("[publish] group %s: publish welcome to %s failed: %v", groupID, installationID, err)
				}
			}
		}

		if err := p.adapter.ApplyOwnCommit(ctx, state, staged); err != nil {
			return result, fmt.Errorf("drain group %s: apply own commit: %w", groupID, err)
		}

		for _, in := range batch {
			if err := p.intents.SetPublished(ctx, in.ID, state.Epoch, staged.Fingerprint, &postCommit); err != nil {
				log.Printf("[publish] group %s: set published on intent %d failed: %v", groupID, in.ID, err)
				continue
			}
			result.PublishedIntentIDs = append(result.PublishedIntentIDs, in.ID)
		}
	}
}

// coalesce groups the leading run of same-kind bare key-update intents
// together (spec.md §4.5 key-update coalescing) and otherwise returns a
// single-intent batch so other kinds publish independently, one commit
// per intent.
func coalesce(pending []model.Intent) []model.Intent {
	if pending[0].Kind != model.IntentKeyUpdate {
		return pending[:1]
	}
	end := 1
	for end < len(pending) && pending[end].Kind == model.IntentKeyUpdate {
		end++
	}
	return pending[:end]
}

func intentIDs(batch []model.Intent) []int64 {
	ids := make([]int64, len(batch))
	for i, in := range batch {
		ids[i] = in.ID
	}
	return ids
}

// publishApplicationMessage sends a send_message intent straight to the
// relay as an application envelope: no commit, no epoch change, so none
// of StageCommit/ApplyOwnCommit/epoch-conflict handling applies. A
// malformed send is a local problem (mark the intent Error and move on);
// a relay-level failure is retryable, so it stops the drain without
// touching the intent, leaving it ToPublish for the next sync cycle.
func (p *Publisher) publishApplicationMessage(ctx context.Context, groupID string, topic model.Topic, state *mls.GroupState, in model.Intent) (bool, error) {
	ciphertext, err := p.adapter.EncryptApplication(ctx, state, in.Payload)
	if err != nil {
		log.Printf("[publish] group %s: intent %d failed to encrypt, marking error: %v", groupID, in.ID, err)
		if markErr := p.intents.MarkError(ctx, in.ID, err.Error()); markErr != nil {
			log.Printf("[publish] group %s: mark error on intent %d failed: %v", groupID, in.ID, markErr)
		}
		return false, nil
	}

	envelope := process.EncodeEnvelope(process.EnvelopeApplication, ciphertext)
	seq, err := p.relayClient.Publish(ctx, string(topic), envelope)
	if err != nil {
		return false, fmt.Errorf("drain group %s: publish application message: %w", groupID, err)
	}

	if p.messages != nil {
		id := process.ContentAddress(groupID, p.localInstallID, seq, in.Payload)
		if exists, err := p.messages.MessageExists(ctx, id); err != nil {
			log.Printf("[publish] group %s: check message exists for intent %d failed: %v", groupID, in.ID, err)
		} else if !exists {
			if err := p.messages.InsertMessage(ctx, model.MessageRecord{
				ID:                   id,
				GroupID:              groupID,
				DecryptedBytes:       in.Payload,
				SenderInstallationID: p.localInstallID,
				SentAtNs:             model.NowNs(),
				Kind:                 model.MessageApplication,
				DeliveryStatus:       model.DeliveryPublished,
			}); err != nil {
				log.Printf("[publish] group %s: insert local message record for intent %d failed: %v", groupID, in.ID, err)
			}
		}
	}

	// No commit landed, so there's nothing for finalizeOwnCommit to match
	// against on read-back: finalize straight to Processed here.
	if err := p.intents.Transition(ctx, in.ID, model.IntentProcessed); err != nil {
		log.Printf("[publish] group %s: transition intent %d to processed failed: %v", groupID, in.ID, err)
	}
	return true, nil
}
