// Command can-server bridges a SocketCAN interface to cannelloni TCP clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kstaniek/go-socketcan/internal/cnl"
	"github.com/kstaniek/go-socketcan/internal/metrics"
	"github.com/kstaniek/go-socketcan/internal/server"
)

func main() {
	cfg, showVersion, err := parseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "can-server: %v\n", err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("can-server %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	if err := run(cfg, l); err != nil {
		l.Error("can_server_exit", "error", err)
		os.Exit(1)
	}
}

func run(cfg *appConfig, l *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	h := initHub(cfg, l)
	g, gctx := errgroup.WithContext(ctx)

	send, cleanup, err := initBackend(gctx, cfg, h, l, g)
	if err != nil {
		return fmt.Errorf("backend init: %w", err)
	}
	defer cleanup()

	srv := server.NewServer(
		server.WithHub(h),
		server.WithCodec(&cnl.Codec{}),
		server.WithSend(send),
		server.WithLogger(l),
		server.WithFDFrames(cfg.fdFrames),
		server.WithMaxClients(cfg.maxClients),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
		server.WithListenAddr(cfg.listenAddr),
	)
	g.Go(func() error { return srv.Serve(gctx) })
	if cfg.logMetricsEvery > 0 {
		g.Go(func() error { return runMetricsLogger(gctx, cfg.logMetricsEvery, l) })
	}
	if cfg.mdnsEnable {
		g.Go(func() error {
			select {
			case <-srv.Ready():
			case <-gctx.Done():
				return nil
			}
			port, err := listenPort(srv.Addr())
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
				return nil
			}
			l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", port)
			if err := runMDNS(gctx, cfg, port); err != nil {
				l.Warn("mdns_start_failed", "error", err)
			}
			return nil
		})
	}

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return gctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	<-gctx.Done()
	l.Info("shutdown_signal", "cause", context.Cause(gctx))
	sdCtx, sdCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer sdCancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		l.Warn("shutdown_timeout", "error", err)
	}
	err = g.Wait()
	if ctx.Err() != nil {
		// signal-driven shutdown
		return nil
	}
	return err
}
