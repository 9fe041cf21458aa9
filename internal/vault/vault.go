// Package vault provides snapshot.Vault implementations: in-memory, local
// filesystem and S3.
package vault

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when no object is stored under the key.
var ErrNotFound = errors.New("snapshot not found")

// validateKey rejects keys that could escape a vault's namespace.
func validateKey(key string) error {
	switch {
	case key == "":
		return errors.New("empty snapshot key")
	case strings.ContainsAny(key, `/\`), key == ".", key == "..", strings.HasPrefix(key, "."):
		return fmt.Errorf("invalid snapshot key %q", key)
	}
	return nil
}
