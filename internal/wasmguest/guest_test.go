package wasmguest

import (
	"context"
	"testing"

	"github.com/fern-network/fern/internal/capability/kvcap"
	"github.com/fern-network/fern/internal/capability/sqlcap"
	"github.com/fern-network/fern/internal/hostimport"
)

// These tests use no real WASM module: they check the env a guest would be
// built with and that Instantiate rejects bytes that are not a module. The
// init/tick/shutdown/gossip-handler trap paths are not exercised here.
func TestNewEnvAssignsInstanceID(t *testing.T) {
	db, err := sqlcap.Open("")
	if err != nil {
		t.Fatalf("open sqlcap: %v", err)
	}
	defer db.Close()

	kv, err := kvcap.Open("", "wasmguest-test")
	if err != nil {
		t.Fatalf("open kvcap: %v", err)
	}
	defer kv.Close()

	env := hostimport.NewEnv(hostimport.CapBundle{SQL: db, KV: kv})
	if env.InstanceID() == "" {
		t.Fatalf("expected nonempty instance id")
	}
}

func TestInstantiateRejectsInvalidModuleBytes(t *testing.T) {
	ctx := context.Background()
	_, err := Instantiate(ctx, []byte("not a wasm module"), hostimport.CapBundle{})
	if err == nil {
		t.Fatalf("expected instantiation of garbage bytes to fail")
	}
}
