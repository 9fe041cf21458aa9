package testutil

import "docsync-go/internal/vault"

// NewTestVault returns an empty in-memory snapshot vault.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault")
}
