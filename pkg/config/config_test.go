package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.Network != "mainnet" {
		t.Fatalf("unexpected network: %s", cfg.Network.Network)
	}
	if cfg.Network.AuthTimeoutSeconds != 30 {
		t.Fatalf("unexpected auth timeout: %d", cfg.Network.AuthTimeoutSeconds)
	}
	if cfg.Plugins.DefaultTimeout != 30_000 {
		t.Fatalf("unexpected plugin timeout: %d", cfg.Plugins.DefaultTimeout)
	}
}

func TestLoadConfigRejectsUnknownNetwork(t *testing.T) {
	viper.Reset()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "opnet.yaml")
	if err := os.WriteFile(cfgPath, []byte("network:\n  network: nonexistent\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected error for unknown network")
	}
	viper.Reset()
}
