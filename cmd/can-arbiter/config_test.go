package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{
		serialDev:    "/dev/null",
		baud:         115200,
		listenAddr:   ":20000",
		serialReadTO: 10 * time.Millisecond,
		logFormat:    "text",
		logLevel:     "info",
		hubBuffer:    8,
		hubPolicy:    "drop",
		backend:      "serial",
		canIf:        "can0",
		queueSize:    64,
		queuePolicy:  "drop-lowest",
		maxClients:   0,
		clientReadTO: time.Second,
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "x" }},
		{"badQueuePolicy", func(c *appConfig) { c.queuePolicy = "x" }},
		{"badQueueSize", func(c *appConfig) { c.queueSize = 0 }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badClientReadTO", func(c *appConfig) { c.clientReadTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
	}
	for _, tc := range tests {
		base := validConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "can-arbiter.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFile_Basic(t *testing.T) {
	path := writeTempConfig(t, `
listen = ":30000"
backend = "serial"
baud = 230400
queue_size = 256
queue_policy = "reject"
serial_read_timeout = "25ms"
mdns_enable = true
`)
	cfg := validConfig()
	if err := loadConfigFile(cfg, path, map[string]struct{}{}); err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	if cfg.listenAddr != ":30000" {
		t.Fatalf("listen not applied: %s", cfg.listenAddr)
	}
	if cfg.baud != 230400 {
		t.Fatalf("baud not applied: %d", cfg.baud)
	}
	if cfg.queueSize != 256 || cfg.queuePolicy != "reject" {
		t.Fatalf("queue settings not applied: %d %s", cfg.queueSize, cfg.queuePolicy)
	}
	if cfg.serialReadTO != 25*time.Millisecond {
		t.Fatalf("serial_read_timeout not applied: %v", cfg.serialReadTO)
	}
	if !cfg.mdnsEnable {
		t.Fatalf("mdns_enable not applied")
	}
}

func TestLoadConfigFile_FlagPrecedence(t *testing.T) {
	path := writeTempConfig(t, `baud = 230400`)
	cfg := validConfig()
	if err := loadConfigFile(cfg, path, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	if cfg.baud != 115200 {
		t.Fatalf("expected flag to win over file, got %d", cfg.baud)
	}
}

func TestLoadConfigFile_UnknownKey(t *testing.T) {
	path := writeTempConfig(t, `no_such_key = 1`)
	if err := loadConfigFile(validConfig(), path, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestLoadConfigFile_BadDuration(t *testing.T) {
	path := writeTempConfig(t, `client_read_timeout = "soon"`)
	if err := loadConfigFile(validConfig(), path, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}
