package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_can-server._tcp"

// mdnsMeta is the TXT record set advertised with the service.
func mdnsMeta(cfg *appConfig) []string {
	return []string{
		"if=" + cfg.canIf,
		"fd=" + strconv.FormatBool(cfg.fdFrames),
		"version=" + version,
		"commit=" + commit,
	}
}

func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("can-server-%s", host)
}

// listenPort extracts the port from a bound listener address.
func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

// runMDNS advertises the service until ctx ends.
func runMDNS(ctx context.Context, cfg *appConfig, port int) error {
	svc, err := zeroconf.Register(mdnsInstance(cfg), mdnsServiceType, "local.", port, mdnsMeta(cfg), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	<-ctx.Done()
	svc.Shutdown()
	return nil
}
