// Package syncc implements the Sync Coordinator: per-group publish/fetch/
// process cycles, parallelized across groups, plus the background Worker
// that drives them on a schedule.
//
// Grounded on the teacher's internal/sync.Worker (Start/Stop/Running/
// LastSync/SyncNow, "continue on a failing unit, log and move on") and
// its per-team loop in syncAllTeams; cross-group parallelism is new here
// (the teacher syncs teams serially) and uses golang.org/x/sync/errgroup,
// the concurrency primitive the rest of this pack reaches for.
package syncc

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jra3/groupcore/internal/cursor"
	"github.com/jra3/groupcore/internal/dbstore"
	"github.com/jra3/groupcore/internal/group"
	"github.com/jra3/groupcore/internal/mls"
	"github.com/jra3/groupcore/internal/model"
	"github.com/jra3/groupcore/internal/policy"
	"github.com/jra3/groupcore/internal/process"
	"github.com/jra3/groupcore/internal/publish"
	"github.com/jra3/groupcore/internal/relay"
)

// MaxRetriesPerGroup bounds the per-group publish/fetch/process retry loop.
const MaxRetriesPerGroup = 3

// MaxParallelGroups bounds how many groups sync concurrently in one pass.
const MaxParallelGroups = 8

// Coordinator owns the per-group lock table and wires together the
// publisher, processor, relay, and cursor store into one sync cycle.
type Coordinator struct {
	localVersion string

	q         *dbstore.Queries
	cursors   cursor.Store
	groups    *group.Manager
	adapter   mls.Adapter
	processor *process.Processor
	publisher *publish.Publisher
	relay     relay.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Config bundles a Coordinator's collaborators.
type Config struct {
	LocalVersion string
	Store        *dbstore.Store
	Cursors      cursor.Store
	Groups       *group.Manager
	Adapter      mls.Adapter
	Processor    *process.Processor
	Publisher    *publish.Publisher
	Relay        relay.Client
}

// New builds a Coordinator from cfg.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		localVersion: cfg.LocalVersion,
		q:            cfg.Store.Queries(),
		cursors:      cfg.Cursors,
		groups:       cfg.Groups,
		adapter:      cfg.Adapter,
		processor:    cfg.Processor,
		publisher:    cfg.Publisher,
		relay:        cfg.Relay,
	}
}

func (c *Coordinator) lockFor(groupID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks == nil {
		c.locks = map[string]*sync.Mutex{}
	}
	l, ok := c.locks[groupID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[groupID] = l
	}
	return l
}

// topicFor is a group's main topic. One group row, one topic: DM
// duplicates each get their own since they are distinct group rows.
func topicFor(groupID string) model.Topic {
	return model.Topic("group/" + groupID)
}

// Sync runs one publish -> fetch -> process cycle for groupID under its
// per-group lock, retrying a failed cycle for up to MaxRetriesPerGroup
// attempts in all before giving up for this pass.
func (c *Coordinator) Sync(ctx context.Context, groupID string) error {
	lock := c.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 0; attempt < MaxRetriesPerGroup; attempt++ {
		if err := c.syncOnce(ctx, groupID); err != nil {
			lastErr = err
			log.Printf("[sync] group %s attempt %d/%d failed: %v", groupID, attempt+1, MaxRetriesPerGroup, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("sync group %s: giving up after %d attempts: %w", groupID, MaxRetriesPerGroup, lastErr)
}

func (c *Coordinator) syncOnce(ctx context.Context, groupID string) error {
	g, err := c.q.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("get group: %w", err)
	}

	state, err := c.adapter.LoadGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("load group state: %w", err)
	}

	paused, err := c.checkVersionGate(ctx, g)
	if err != nil {
		return fmt.Errorf("check version gate: %w", err)
	}

	topic := topicFor(groupID)

	if !paused {
		if _, err := c.publisher.DrainGroup(ctx, groupID, topic, state); err != nil {
			return fmt.Errorf("drain intents: %w", err)
		}
	}

	after, err := c.cursors.Latest(ctx, topic)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	envelopes, err := c.relay.Query(ctx, string(topic), after)
	if err != nil {
		return fmt.Errorf("fetch envelopes: %w", err)
	}

	result, err := c.processor.ProcessTopic(ctx, groupID, topic, state, envelopes, process.DefaultOptions())
	if err != nil {
		return fmt.Errorf("process envelopes: %w", err)
	}
	if result.Applied > 0 {
		if err := c.q.UpdateLastMessageNs(ctx, groupID, model.NowNs()); err != nil {
			log.Printf("[sync] group %s: update last_message_ns failed: %v", groupID, err)
		}
	}
	if err := c.q.SetSyncedSinceGate(ctx, groupID, true); err != nil {
		log.Printf("[sync] group %s: set synced_since_gate failed: %v", groupID, err)
	}
	return nil
}

// checkVersionGate evaluates the group's minimum_supported_protocol_version
// metadata against the local installation's version, updating
// paused_for_version and returning whether publishing should be skipped
// this cycle. Fetch/process still runs while paused, so a later gate
// removal is observed without a manual unpause action.
func (c *Coordinator) checkVersionGate(ctx context.Context, g model.Group) (bool, error) {
	md, err := c.q.GetMetadata(ctx, g.GroupID)
	if err != nil {
		return false, fmt.Errorf("get metadata: %w", err)
	}
	required := md.Attributes[model.AttrMinimumSupportedProtoVersion]

	pause, _ := policy.EvaluateVersionGate(c.localVersion, required)
	if pause {
		if g.PausedForVersion != required {
			log.Printf("[sync] group %s: paused, local version %s below required %s", g.GroupID, c.localVersion, required)
		}
		if err := c.q.SetPausedForVersion(ctx, g.GroupID, required); err != nil {
			return true, fmt.Errorf("set paused_for_version: %w", err)
		}
		return true, nil
	}
	if g.PausedForVersion != "" {
		if err := c.q.SetPausedForVersion(ctx, g.GroupID, ""); err != nil {
			return false, fmt.Errorf("clear paused_for_version: %w", err)
		}
		log.Printf("[sync] group %s: unpaused, local version %s satisfies gate", g.GroupID, c.localVersion)
	}
	return false, nil
}

// SyncAll runs Sync across every active group concurrently, bounded by
// MaxParallelGroups. A failing group is logged and does not block the
// others (spec.md §7).
func (c *Coordinator) SyncAll(ctx context.Context) error {
	rows, err := c.q.ListActiveGroups(ctx)
	if err != nil {
		return fmt.Errorf("sync all: list active groups: %w", err)
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(MaxParallelGroups)
	for _, row := range rows {
		groupID := row.GroupID
		eg.Go(func() error {
			if err := c.Sync(gctx, groupID); err != nil {
				log.Printf("[sync] group %s failed this pass: %v", groupID, err)
			}
			return nil
		})
	}
	return eg.Wait()
}
