package encryption

import (
	"fmt"

	"docsync-go/internal/config"
	"docsync-go/internal/snapshot"
)

// NewEncryptorFromConfig creates the snapshot Encryptor selected by cfg.Type.
// Type "none" returns a nil Encryptor: snapshots are stored in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (snapshot.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
