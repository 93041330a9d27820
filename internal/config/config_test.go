package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadPeerConfig(t *testing.T) {
	path := writeConfig(t, `
name = "peer-a"
listen_addr = "0.0.0.0:0"
remote_addr = "127.0.0.1:7420"
peer_id = 4660
disconnected_interval_ms = 1500
`)
	cfg, err := LoadPeerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "peer-a" || cfg.PeerID != 4660 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.AdminAddr != ":9200" {
		t.Fatalf("admin addr default missing: %q", cfg.AdminAddr)
	}
	if cfg.DisconnectedIntervalMS != 1500 {
		t.Fatalf("interval: %d", cfg.DisconnectedIntervalMS)
	}
}

func TestLoadPeerConfigRequiresPeerID(t *testing.T) {
	path := writeConfig(t, `
listen_addr = "0.0.0.0:0"
remote_addr = "127.0.0.1:7420"
`)
	if _, err := LoadPeerConfig(path); err == nil || !strings.Contains(err.Error(), "peer_id") {
		t.Fatalf("expected peer_id error, got %v", err)
	}
}

func TestLoadPeerConfigRequiresRemote(t *testing.T) {
	path := writeConfig(t, `
listen_addr = "0.0.0.0:0"
peer_id = 1
`)
	if _, err := LoadPeerConfig(path); err == nil || !strings.Contains(err.Error(), "remote_addr") {
		t.Fatalf("expected remote_addr error, got %v", err)
	}
}

func TestLoadControllerConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
name = "ctl"
`)
	cfg, err := LoadControllerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7420" {
		t.Fatalf("listen default missing: %q", cfg.ListenAddr)
	}
	if cfg.AdminAddr != ":9201" {
		t.Fatalf("admin default missing: %q", cfg.AdminAddr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadPeerConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadMalformedToml(t *testing.T) {
	path := writeConfig(t, `listen_addr = [broken`)
	if _, err := LoadControllerConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestInterval(t *testing.T) {
	def := 3 * time.Second
	if got := Interval(0, def); got != def {
		t.Fatalf("zero should use the default, got %v", got)
	}
	if got := Interval(-1, def); got != 0 {
		t.Fatalf("negative should disable, got %v", got)
	}
	if got := Interval(1500, def); got != 1500*time.Millisecond {
		t.Fatalf("milliseconds: %v", got)
	}
}
