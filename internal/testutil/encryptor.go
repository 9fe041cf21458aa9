package testutil

import (
	"docsync-go/internal/encryption"
	"docsync-go/internal/snapshot"
)

// NewTestEncryptor returns a reversible encryptor that needs no keys.
func NewTestEncryptor() snapshot.Encryptor {
	return encryption.NewTestEncryptor()
}
