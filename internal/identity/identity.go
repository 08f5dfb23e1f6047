// Package identity manages the 32-byte secret key that anchors a node's or
// guest's overlay peer identity, generalizing the teacher's Ed25519 keypair
// persistence pattern onto the raw-seed shape the overlay package expects.
package identity

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// secretFileName is the on-disk name of the persisted identity seed, per
// the host secret.key convention.
const secretFileName = "secret.key"

// Identity is a 32-byte secret key used to derive a deterministic overlay
// peer identity via overlay.Bind.
type Identity struct {
	SecretKey [32]byte
}

// Generate creates a fresh random 32-byte secret key.
func Generate() (*Identity, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	return &Identity{SecretKey: key}, nil
}

// LoadOrCreate loads the secret key persisted at fernHome/secret.key, or
// generates and persists a new one on first run. The file holds exactly
// 32 raw bytes.
func LoadOrCreate(fernHome string) (*Identity, error) {
	return LoadOrCreateAtPath(filepath.Join(fernHome, secretFileName))
}

// LoadOrCreateAtPath loads the secret key persisted at an explicit file
// path, or generates and persists a new one there on first run. The daemon
// uses it for its configured secret key path, which --secret overrides.
func LoadOrCreateAtPath(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		if len(raw) != 32 {
			return nil, fmt.Errorf("secret key file %s has %d bytes, want 32", path, len(raw))
		}
		var key [32]byte
		copy(key[:], raw)
		return &Identity{SecretKey: key}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read secret key: %w", err)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := id.persistAtPath(path); err != nil {
		return nil, err
	}
	return id, nil
}

func (id *Identity) persistAtPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create secret key directory: %w", err)
	}
	if err := os.WriteFile(path, id.SecretKey[:], 0o600); err != nil {
		return fmt.Errorf("write secret key: %w", err)
	}
	return nil
}
