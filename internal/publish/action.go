package publish

import (
	"context"
	"fmt"
	"log"

	"github.com/jra3/groupcore/internal/mls"
	"github.com/jra3/groupcore/internal/model"
)

// buildCommitAction turns a batch of same-kind intents into one CommitAction
// plus the post-commit welcome action to run once the commit is accepted.
func (p *Publisher) buildCommitAction(ctx context.Context, groupID string, batch []model.Intent) (mls.CommitAction, model.PostCommitAction, error) {
	switch batch[0].Kind {
	case model.IntentKeyUpdate:
		return mls.CommitAction{KeyUpdate: true}, model.PostCommitAction{}, nil

	case model.IntentAddMembers:
		return p.buildAddMembersAction(ctx, groupID, batch[0])

	case model.IntentRemoveMembers:
		payload, err := decodeRemoveMembers(batch[0].Payload)
		if err != nil {
			return mls.CommitAction{}, model.PostCommitAction{}, fmt.Errorf("decode remove_members payload: %w", err)
		}
		return mls.CommitAction{RemoveInboxes: payload.InboxIDs}, model.PostCommitAction{}, nil

	case model.IntentUpdateMetadata, model.IntentUpdateAdminList, model.IntentUpdatePermission:
		return mls.CommitAction{MetadataDiff: batch[0].Payload}, model.PostCommitAction{}, nil

	case model.IntentUpdateGroupMembership:
		return mls.CommitAction{}, model.PostCommitAction{}, fmt.Errorf("intent kind %s does not produce a commit", batch[0].Kind)

	default:
		return mls.CommitAction{}, model.PostCommitAction{}, fmt.Errorf("unrecognized intent kind %s", batch[0].Kind)
	}
}

// stillMeaningful reports whether batch's request hasn't already been
// satisfied by the commit that won the epoch race state currently
// reflects (spec.md §4.5 reconciliation). add_members/remove_members are
// the only kinds state can check directly against membership; every
// other kind defaults to still meaningful, since GroupState carries no
// metadata/permission snapshot to compare against.
func stillMeaningful(state *mls.GroupState, batch []model.Intent) bool {
	switch batch[0].Kind {
	case model.IntentAddMembers:
		payload, err := decodeAddMembers(batch[0].Payload)
		if err != nil {
			return true
		}
		for _, inboxID := range payload.InboxIDs {
			if !state.MemberInboxes[inboxID] {
				return true
			}
		}
		return false

	case model.IntentRemoveMembers:
		payload, err := decodeRemoveMembers(batch[0].Payload)
		if err != nil {
			return true
		}
		for _, inboxID := range payload.InboxIDs {
			if state.MemberInboxes[inboxID] {
				return true
			}
		}
		return false

	default:
		return true
	}
}

// buildAddMembersAction resolves each target inbox's installations and
// fetches their key packages, tolerating individually malformed packages
// (spec.md §6, §8 property 6): an inbox contributes no MemberAction only
// if every one of its installations lacks a usable key package, and the
// whole intent fails only if that leaves zero installations to add at all.
func (p *Publisher) buildAddMembersAction(ctx context.Context, groupID string, in model.Intent) (mls.CommitAction, model.PostCommitAction, error) {
	payload, err := decodeAddMembers(in.Payload)
	if err != nil {
		return mls.CommitAction{}, model.PostCommitAction{}, fmt.Errorf("decode add_members payload: %w", err)
	}

	var actions []mls.MemberAction
	var welcomeTargets []string
	var starvedInboxes []string

	for _, inboxID := range payload.InboxIDs {
		installations, err := p.identity.InstallationsFor(ctx, inboxID)
		if err != nil {
			return mls.CommitAction{}, model.PostCommitAction{}, fmt.Errorf("resolve installations for %s: %w", inboxID, err)
		}
		if len(installations) == 0 {
			starvedInboxes = append(starvedInboxes, inboxID)
			continue
		}

		results, err := p.keypackages.FetchKeyPackages(ctx, installations)
		if err != nil {
			return mls.CommitAction{}, model.PostCommitAction{}, fmt.Errorf("fetch key packages for %s: %w", inboxID, err)
		}

		addedAny := false
		for _, r := range results {
			if r.Malformed {
				log.Printf("[publish] group %s: installation %s for inbox %s has no usable key package (%s), skipping it", groupID, r.InstallationID, inboxID, r.MalformedNote)
				continue
			}
			actions = append(actions, mls.MemberAction{InboxID: inboxID, InstallationID: r.InstallationID, KeyPackage: r.KeyPackage})
			welcomeTargets = append(welcomeTargets, r.InstallationID)
			addedAny = true
		}
		if !addedAny {
			starvedInboxes = append(starvedInboxes, inboxID)
		}
	}

	if len(actions) == 0 {
		return mls.CommitAction{}, model.PostCommitAction{}, fmt.Errorf("add members %v: %w", payload.InboxIDs, model.ErrKeyPackageUnavailable)
	}
	if len(starvedInboxes) > 0 {
		log.Printf("[publish] group %s: %v had no usable key package on any installation, added the rest", groupID, starvedInboxes)
	}

	return mls.CommitAction{AddMembers: actions}, model.PostCommitAction{WelcomeTopics: welcomeTargets}, nil
}
