package identity

import (
	"context"
	"errors"
	"testing"
)

func TestResolveInboxIDUnknownWallet(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	_, err := m.ResolveInboxID(context.Background(), "0xdead")
	if err == nil {
		t.Fatal("expected error for unregistered wallet")
	}
	var unknown *UnknownWalletError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownWalletError, got %T", err)
	}
}

func TestResolveInboxIDRegisteredWallet(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	m.RegisterWallet("0xalice", "inbox-alice")

	inbox, err := m.ResolveInboxID(context.Background(), "0xalice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if inbox != "inbox-alice" {
		t.Fatalf("inbox = %q, want inbox-alice", inbox)
	}
}

func TestInstallationsForReturnsRegisteredDevices(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	m.RegisterInstallation("inbox-alice", "device-1")
	m.RegisterInstallation("inbox-alice", "device-2")

	installs, err := m.InstallationsFor(context.Background(), "inbox-alice")
	if err != nil {
		t.Fatalf("installations: %v", err)
	}
	if len(installs) != 2 {
		t.Fatalf("got %d installations, want 2", len(installs))
	}
}

func TestVerifySignatureUnknownInbox(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ok, err := m.VerifySignature(context.Background(), "inbox-unknown", []byte("payload"), []byte("sig"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("unknown inbox should never verify")
	}
}

func TestVerifySignatureKnownInboxRequiresNonEmptySig(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	m.RegisterInstallation("inbox-alice", "device-1")

	ok, err := m.VerifySignature(context.Background(), "inbox-alice", []byte("payload"), nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("empty signature should not verify")
	}

	ok, err = m.VerifySignature(context.Background(), "inbox-alice", []byte("payload"), []byte("sig"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("non-empty signature for known inbox should verify")
	}
}
