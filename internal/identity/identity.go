// Package identity abstracts the external identity service: wallet
// signature verification and inbox/installation resolution. Per spec.md
// §1 these are explicitly out of scope to implement; this package only
// states the interface and a deterministic in-memory double for tests.
package identity

import "context"

// Service is the identity-service contract from spec.md §6.
type Service interface {
	ResolveInboxID(ctx context.Context, walletIdentifier string) (string, error)
	InstallationsFor(ctx context.Context, inboxID string) ([]string, error)
	VerifySignature(ctx context.Context, inboxID string, payload, signature []byte) (bool, error)
}

// Memory is an in-memory Service for tests, keyed by hand-registered
// wallet/inbox/installation relationships.
type Memory struct {
	walletToInbox map[string]string
	installations map[string][]string
	validSigs     map[string]bool // "inboxID:payload-as-string" -> valid
}

// NewMemory returns an empty Memory identity service.
func NewMemory() *Memory {
	return &Memory{
		walletToInbox: make(map[string]string),
		installations: make(map[string][]string),
		validSigs:     make(map[string]bool),
	}
}

// RegisterWallet associates a wallet identifier with an inbox id.
func (m *Memory) RegisterWallet(wallet, inboxID string) {
	m.walletToInbox[wallet] = inboxID
}

// RegisterInstallation adds an installation to an inbox id's device set.
func (m *Memory) RegisterInstallation(inboxID, installationID string) {
	m.installations[inboxID] = append(m.installations[inboxID], installationID)
}

func (m *Memory) ResolveInboxID(ctx context.Context, walletIdentifier string) (string, error) {
	inbox, ok := m.walletToInbox[walletIdentifier]
	if !ok {
		return "", &UnknownWalletError{Wallet: walletIdentifier}
	}
	return inbox, nil
}

func (m *Memory) InstallationsFor(ctx context.Context, inboxID string) ([]string, error) {
	return append([]string(nil), m.installations[inboxID]...), nil
}

func (m *Memory) VerifySignature(ctx context.Context, inboxID string, payload, signature []byte) (bool, error) {
	// The fake double treats any non-empty signature as valid for a known
	// inbox — testing real signature cryptography is explicitly out of
	// scope (spec.md §1).
	if _, ok := m.installations[inboxID]; !ok {
		return false, nil
	}
	return len(signature) > 0, nil
}

// UnknownWalletError is returned when ResolveInboxID cannot find a mapping.
type UnknownWalletError struct {
	Wallet string
}

func (e *UnknownWalletError) Error() string {
	return "identity: unknown wallet " + e.Wallet
}
