// Package identity holds the attested identity of a loaded runtime artifact
// and the provider interface that produces it.
package identity

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/c360/runtimeworker/errors"
)

// Report is what the worker asks a provider to attest
type Report struct {
	RuntimeDigest string `json:"runtime_digest"`
	Nonce         string `json:"nonce,omitempty"`
}

// Identity is an attested runtime identity
type Identity struct {
	RuntimeDigest string    `json:"runtime_digest"`
	Evidence      []byte    `json:"evidence"`
	IssuedAt      time.Time `json:"issued_at"`
}

// Validate checks that the identity belongs to the runtime with digest
func (id *Identity) Validate(digest string) error {
	if id == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Identity", "Validate", "nil identity")
	}
	if _, err := hex.DecodeString(id.RuntimeDigest); err != nil || id.RuntimeDigest == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Identity", "Validate",
			fmt.Sprintf("runtime digest %q", id.RuntimeDigest))
	}
	if digest != "" && id.RuntimeDigest != digest {
		return errors.WrapInvalid(
			fmt.Errorf("%w: identity is for runtime %s, loaded %s", errors.ErrInvalidData, id.RuntimeDigest, digest),
			"Identity", "Validate", "digest match")
	}
	if len(id.Evidence) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "Identity", "Validate", "missing evidence")
	}
	return nil
}

// Provider attests runtime reports. The protocol handler implements it by
// forwarding to the host.
type Provider interface {
	Attest(ctx context.Context, report Report) (*Identity, error)
}

// Load reads a saved identity from path
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrKeyNotFound, "identity", "Load", "read "+path)
		}
		return nil, errors.WrapTransient(err, "identity", "Load", "read "+path)
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrDataCorrupted, err),
			"identity", "Load", "decode "+path)
	}
	return &id, nil
}

// Save writes id to path atomically
func Save(path string, id *Identity) error {
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return errors.WrapInvalid(err, "identity", "Save", "encode identity")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapFatal(err, "identity", "Save", "create "+dir)
	}

	tmp, err := os.CreateTemp(dir, ".identity-*")
	if err != nil {
		return errors.WrapFatal(err, "identity", "Save", "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.WrapTransient(err, "identity", "Save", "write temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapTransient(err, "identity", "Save", "close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapTransient(err, "identity", "Save", "rename into place")
	}
	return nil
}
