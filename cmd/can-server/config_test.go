package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigValidate_OK(t *testing.T) {
	if err := defaultConfig().validate(); err != nil {
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
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "x" }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"emptyIf", func(c *appConfig) { c.canIf = "" }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badClientReadTO", func(c *appConfig) { c.clientReadTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
		{"badMetricsInterval", func(c *appConfig) { c.logMetricsEvery = -time.Second }},
	}
	for _, tc := range tests {
		base := defaultConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("can-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "can-server.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseArgsDefaults(t *testing.T) {
	cfg, showVersion, err := parseArgs(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if showVersion {
		t.Fatalf("unexpected version request")
	}
	if cfg.canIf != "can0" || !cfg.fdFrames || cfg.listenAddr != ":20000" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestParseArgsVersion(t *testing.T) {
	_, showVersion, err := parseArgs(newFlagSet(), []string{"-version"})
	if err != nil || !showVersion {
		t.Fatalf("expected version request, got %v %v", showVersion, err)
	}
}

func TestConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
listen: "127.0.0.1:30000"
can_if: vcan1
fd: false
hub_policy: kick
hub_buffer: 64
handshake_timeout: 750ms
mdns_enable: true
`)
	cfg, _, err := parseArgs(newFlagSet(), []string{"-config", path, "-hub-buffer", "32"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if cfg.listenAddr != "127.0.0.1:30000" || cfg.canIf != "vcan1" || cfg.fdFrames || cfg.hubPolicy != "kick" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.handshakeTO != 750*time.Millisecond || !cfg.mdnsEnable {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.hubBuffer != 32 {
		t.Fatalf("flag must win over file, got hub buffer %d", cfg.hubBuffer)
	}
}

func TestConfigFileEnvWins(t *testing.T) {
	path := writeConfigFile(t, "can_if: vcan1\n")
	t.Setenv("CAN_SERVER_IF", "vcan2")
	cfg, _, err := parseArgs(newFlagSet(), []string{"-config", path})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if cfg.canIf != "vcan2" {
		t.Fatalf("expected env to override file, got %s", cfg.canIf)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for name, content := range map[string]string{
		"unknownKey":  "serial: /dev/ttyUSB0\n",
		"badDuration": "client_read_timeout: soon\n",
		"badYAML":     "listen: [\n",
	} {
		path := writeConfigFile(t, content)
		if _, _, err := parseArgs(newFlagSet(), []string{"-config", path}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, _, err := parseArgs(newFlagSet(), []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestConfigInvalidAfterMerge(t *testing.T) {
	if _, _, err := parseArgs(newFlagSet(), []string{"-hub-policy", "block"}); err == nil {
		t.Fatalf("expected validation error")
	}
}
