package commands

import (
	"fmt"

	"github.com/jra3/groupcore/internal/config"
	"github.com/jra3/groupcore/internal/dbstore"
	"github.com/jra3/groupcore/internal/identity"
	"github.com/jra3/groupcore/internal/keypackage"
	"github.com/jra3/groupcore/internal/relay"
	"github.com/jra3/groupcore/pkg/groupcore"
)

// sharedHub is the fallback relay when config.yaml leaves relay.url
// empty: an in-memory relay scoped to this process, for local demos and
// tests of the CLI itself. A real deployment always sets cfg.Relay.URL.
var sharedHub = relay.NewHub()

// buildClient loads cfg and wires a groupcore.Client from it, the same
// "load config, construct dependent services" shape as the teacher's
// runMount.
func buildClient(cfg *config.Config) (*groupcore.Client, error) {
	if cfg.Identity.InstallationID == "" {
		return nil, fmt.Errorf("identity.installation_id is not set in config")
	}

	store, err := dbstore.Open(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var relayClient relay.Client
	if cfg.Relay.URL != "" {
		relayClient = relay.NewHTTPClient(cfg.Relay.URL, relay.HTTPClientOptions{
			RequestsPerSecond: cfg.Relay.RequestsPerSecond,
			Burst:             cfg.Relay.Burst,
		})
	} else {
		relayClient = sharedHub.Client(cfg.Identity.InstallationID)
	}

	client, err := groupcore.New(groupcore.Config{
		InstallationID:   cfg.Identity.InstallationID,
		LocalVersion:     cfg.Identity.LocalVersion,
		Store:            store,
		Relay:            relayClient,
		Identity:         identity.NewMemory(),
		KeyPackage:       keypackage.NewMemory(),
		CacheKeyPackages: true,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("new client: %w", err)
	}
	return client, nil
}
