package main

import (
	"slices"
	"strings"
	"testing"
)

func TestListenPort(t *testing.T) {
	for addr, want := range map[string]int{"127.0.0.1:20000": 20000, "[::]:4242": 4242, ":1": 1} {
		got, err := listenPort(addr)
		if err != nil || got != want {
			t.Fatalf("%s: got %d %v want %d", addr, got, err, want)
		}
	}
	if _, err := listenPort("nope"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMDNSMeta(t *testing.T) {
	cfg := testConfig()
	cfg.fdFrames = false
	meta := mdnsMeta(cfg)
	if !slices.Contains(meta, "if=vcan0") || !slices.Contains(meta, "fd=false") {
		t.Fatalf("unexpected meta %v", meta)
	}
	cfg.mdnsName = "bench"
	if mdnsInstance(cfg) != "bench" {
		t.Fatalf("custom instance name ignored")
	}
	cfg.mdnsName = ""
	if !strings.HasPrefix(mdnsInstance(cfg), "can-server-") {
		t.Fatalf("unexpected default instance %q", mdnsInstance(cfg))
	}
}
