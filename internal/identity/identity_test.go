package identity

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreatePersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}

	second, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	if !bytes.Equal(first.SecretKey[:], second.SecretKey[:]) {
		t.Fatalf("secret key changed across loads")
	}
}

func TestGenerateProducesDistinctKeys(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("generate a: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("generate b: %v", err)
	}
	if bytes.Equal(a.SecretKey[:], b.SecretKey[:]) {
		t.Fatalf("expected distinct keys")
	}
}

func TestLoadOrCreateRejectsWrongSizedFile(t *testing.T) {
	dir := t.TempDir()
	// Pre-seed a malformed secret.key.
	badPath := filepath.Join(dir, "secret.key")
	if err := os.WriteFile(badPath, []byte("too-short"), 0o600); err != nil {
		t.Fatalf("seed bad file: %v", err)
	}

	if _, err := LoadOrCreate(dir); err == nil {
		t.Fatalf("expected error for malformed secret key file")
	}
}
