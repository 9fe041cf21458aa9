// Package snapshot packs an exported content tree into a compressed archive,
// optionally encrypts it, and stores it in a vault for off-site recovery.
package snapshot

import (
	"context"
	"io"
)

// Vault stores snapshot archives by key. Operations stream through
// io.Reader/io.Writer so archives are never held in memory by the caller.
type Vault interface {
	// Put stores size bytes read from r under key, replacing any previous
	// object with the same key.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the object stored under key to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup(ctx context.Context) error
}

// Encryptor encrypts archives with a public key. Decryption needs the
// private key, which is unlocked with a passphrase.
type Encryptor interface {
	// Setup generates a key pair. The private key is stored encrypted with
	// passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool

	// Extension is appended to the key of encrypted archives.
	Extension() string
}

// DecryptionContext holds an unlocked private key for one restore.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
