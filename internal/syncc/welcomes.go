package syncc

import (
	"context"
	"fmt"
	"log"

	"github.com/jra3/groupcore/internal/group"
)

// SyncWelcomes drains every welcome published to this installation,
// materializing the groups this installation has been added to but
// hasn't seen yet. Welcomes for groups already known locally are
// skipped: a welcome only ever introduces a group, it never updates one
// (spec.md §4.6).
func (c *Coordinator) SyncWelcomes(ctx context.Context, localInstallationID string) (int, error) {
	raw, err := c.relay.QueryWelcomes(ctx, localInstallationID)
	if err != nil {
		return 0, fmt.Errorf("sync welcomes: query: %w", err)
	}

	accepted := 0
	for _, b := range raw {
		payload, err := group.DecodeWelcome(b)
		if err != nil {
			log.Printf("[sync] discarding undecodable welcome: %v", err)
			continue
		}

		if _, err := c.q.GetGroup(ctx, payload.GroupID); err == nil {
			continue // already materialized, welcome is stale
		}

		if _, err := c.groups.AcceptWelcome(ctx, localInstallationID, payload); err != nil {
			log.Printf("[sync] accept welcome for group %s failed: %v", payload.GroupID, err)
			continue
		}
		accepted++
	}
	return accepted, nil
}

// SyncAllWelcomesAndGroups accepts any pending welcomes for this
// installation, then runs a sync pass over every active group including
// the ones just materialized.
func (c *Coordinator) SyncAllWelcomesAndGroups(ctx context.Context, localInstallationID string) error {
	accepted, err := c.SyncWelcomes(ctx, localInstallationID)
	if err != nil {
		return err
	}
	if accepted > 0 {
		log.Printf("[sync] accepted %d new welcome(s)", accepted)
	}
	return c.SyncAll(ctx)
}
