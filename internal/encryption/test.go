package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"docsync-go/internal/snapshot"
)

// testMagic prefixes TestEncryptor output so it differs from the plaintext
// while staying deterministic.
var testMagic = []byte("DSENC\x00\x01\x00")

// TestExtension is the key suffix of snapshots written by TestEncryptor.
const TestExtension = ".enc"

// TestEncryptor is a reversible, key-less encryptor for tests.
type TestEncryptor struct {
	passphrase string
}

var _ snapshot.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Extension() string { return TestExtension }

// Setup records the passphrase; Unlock then rejects any other one.
func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (snapshot.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, errors.New("incorrect passphrase")
	}
	return TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

// TestDecryptionContext strips the TestEncryptor header.
type TestDecryptionContext struct{}

var _ snapshot.DecryptionContext = TestDecryptionContext{}

func (TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testMagic) {
		return errors.New("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
