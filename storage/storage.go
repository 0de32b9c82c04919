// Package storage defines the key-value contract shared by the worker's
// storage layers.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/c360/runtimeworker/errors"
)

// Store is a content store keyed by string.
//
// Keys produced by ContentKey are lowercase hex SHA-256 digests, but layers
// accept any key that passes ValidateKey. All implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value stored under key. A missing key yields an error
	// matching errors.ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
}

// Named is implemented by stores that report a layer name for logs and
// metrics.
type Named interface {
	Name() string
}

// MaxKeyLength bounds key size for every layer.
const MaxKeyLength = 256

// ContentKey returns the content identifier for data.
func ContentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateKey accepts keys matching [0-9a-zA-Z][0-9a-zA-Z._-]* up to
// MaxKeyLength bytes. Path separators are never valid.
func ValidateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "storage", "ValidateKey", "key cannot be empty")
	}
	if len(key) > MaxKeyLength {
		return errors.WrapInvalid(
			fmt.Errorf("%w: length %d exceeds %d", errors.ErrInvalidKey, len(key), MaxKeyLength),
			"storage", "ValidateKey", "key length check")
	}
	if !isAlnum(key[0]) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q must start with a letter or digit", errors.ErrInvalidKey, key),
			"storage", "ValidateKey", "key character check")
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case isAlnum(c), c == '.', c == '_', c == '-':
		default:
			return errors.WrapInvalid(
				fmt.Errorf("%w: invalid character %q at %d", errors.ErrInvalidKey, c, i),
				"storage", "ValidateKey", "key character check")
		}
	}
	return nil
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// LayerName returns s.Name() when s implements Named, otherwise fallback.
func LayerName(s Store, fallback string) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fallback
}
