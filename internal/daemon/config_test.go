package daemon

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 3000 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 3000)
	}
	if cfg.Storage.HostDataPath == "" {
		t.Error("Storage.HostDataPath should default to fern home")
	}
	if cfg.Node.SecretKeyPath == "" {
		t.Error("Node.SecretKeyPath should default to a path under fern home")
	}
}

func TestLoadConfigWithoutFileReturnsDefaults(t *testing.T) {
	t.Setenv("FERN_HOME", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != 3000 {
		t.Errorf("API.Port = %d, want default 3000", cfg.API.Port)
	}
}

func TestSaveThenLoadConfigRoundTrips(t *testing.T) {
	t.Setenv("FERN_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.API.Port = 4242
	cfg.Bootstrap.Peers = []string{"/ip4/127.0.0.1/tcp/4001/p2p/12D3KooWAJjbRkp8FPF5MKgB9Hj425WWTn6ynSmjvHVLBJE3VKfZ"}

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if loaded.API.Port != 4242 {
		t.Errorf("API.Port = %d, want 4242", loaded.API.Port)
	}
	if len(loaded.Bootstrap.Peers) != 1 {
		t.Fatalf("Bootstrap.Peers = %d, want 1", len(loaded.Bootstrap.Peers))
	}
}

func TestFernHomeRespectsEnvVar(t *testing.T) {
	t.Setenv("FERN_HOME", "/tmp/custom-fern-home")
	if got := FernHome(); got != "/tmp/custom-fern-home" {
		t.Errorf("FernHome() = %q, want /tmp/custom-fern-home", got)
	}
}
