// Package config loads and validates the toml configuration consumed
// by the peerd and controllerd daemons.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Interval fields are milliseconds. Zero means "use the default".
// A negative value disables a peer negotiation timer; the controller
// fields (peer timeout, sweep interval) cannot be disabled and fall
// back to their defaults.

type PeerConfig struct {
	Name                   string   `toml:"name"`
	ListenAddr             string   `toml:"listen_addr"`
	RemoteAddr             string   `toml:"remote_addr"`
	PeerID                 uint16   `toml:"peer_id"`
	SendQueueCapacity      int      `toml:"send_queue_capacity"`
	DisconnectedIntervalMS int      `toml:"disconnected_interval_ms"`
	ConnectedIntervalMS    int      `toml:"connected_interval_ms"`
	AdminAddr              string   `toml:"admin_addr"`
	CorsOrigins            []string `toml:"cors_origins"`
}

type ControllerConfig struct {
	Name              string   `toml:"name"`
	ListenAddr        string   `toml:"listen_addr"`
	RemoteAddr        string   `toml:"remote_addr"`
	SendQueueCapacity int      `toml:"send_queue_capacity"`
	PeerTimeoutMS     int      `toml:"peer_timeout_ms"`
	SweepIntervalMS   int      `toml:"sweep_interval_ms"`
	AdminAddr         string   `toml:"admin_addr"`
	CorsOrigins       []string `toml:"cors_origins"`
}

func LoadPeerConfig(path string) (PeerConfig, error) {
	var cfg PeerConfig
	if err := loadToml(path, &cfg); err != nil {
		return PeerConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "peerd"
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = ":9200"
	}
	if err := ValidatePeerConfig(cfg); err != nil {
		return PeerConfig{}, err
	}
	return cfg, nil
}

func LoadControllerConfig(path string) (ControllerConfig, error) {
	var cfg ControllerConfig
	if err := loadToml(path, &cfg); err != nil {
		return ControllerConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "controllerd"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":7420"
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = ":9201"
	}
	if err := ValidateControllerConfig(cfg); err != nil {
		return ControllerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidatePeerConfig(cfg PeerConfig) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("peer config missing listen_addr")
	}
	if strings.TrimSpace(cfg.RemoteAddr) == "" {
		return fmt.Errorf("peer config missing remote_addr")
	}
	if cfg.PeerID == 0 {
		return fmt.Errorf("peer config missing peer_id")
	}
	return nil
}

func ValidateControllerConfig(cfg ControllerConfig) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("controller config missing listen_addr")
	}
	return nil
}

// Interval converts a millisecond config value: zero falls back to def,
// negative disables (returns 0).
func Interval(ms int, def time.Duration) time.Duration {
	switch {
	case ms < 0:
		return 0
	case ms == 0:
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
