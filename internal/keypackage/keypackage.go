// Package keypackage abstracts the external key-package service: fetching
// the MLS key material needed to add an installation to a group. A single
// malformed package in a batch must never poison the others (spec.md §6),
// so FetchResult always carries a per-installation outcome rather than
// failing the whole batch.
package keypackage

import "context"

// FetchResult is one installation's outcome from a batch fetch.
type FetchResult struct {
	InstallationID string
	KeyPackage     []byte // nil if Malformed
	Malformed      bool
	MalformedNote  string
}

// Service is the key-package service contract from spec.md §6.
type Service interface {
	FetchKeyPackages(ctx context.Context, installationIDs []string) ([]FetchResult, error)
}

// Memory is an in-memory Service for tests: installations are registered
// as either valid (with arbitrary key-package bytes) or malformed.
type Memory struct {
	valid     map[string][]byte
	malformed map[string]string
}

// NewMemory returns an empty Memory key-package service.
func NewMemory() *Memory {
	return &Memory{valid: make(map[string][]byte), malformed: make(map[string]string)}
}

// RegisterValid registers installationID as having a usable key package.
func (m *Memory) RegisterValid(installationID string, keyPackage []byte) {
	if keyPackage == nil {
		keyPackage = []byte("kp:" + installationID)
	}
	m.valid[installationID] = keyPackage
}

// RegisterMalformed registers installationID as having no usable key
// package, e.g. expired or corrupt.
func (m *Memory) RegisterMalformed(installationID, note string) {
	m.malformed[installationID] = note
}

func (m *Memory) FetchKeyPackages(ctx context.Context, installationIDs []string) ([]FetchResult, error) {
	out := make([]FetchResult, 0, len(installationIDs))
	for _, id := range installationIDs {
		if note, bad := m.malformed[id]; bad {
			out = append(out, FetchResult{InstallationID: id, Malformed: true, MalformedNote: note})
			continue
		}
		kp, ok := m.valid[id]
		if !ok {
			out = append(out, FetchResult{InstallationID: id, Malformed: true, MalformedNote: "no key package registered"})
			continue
		}
		out = append(out, FetchResult{InstallationID: id, KeyPackage: kp})
	}
	return out, nil
}
