package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/hub"
	"github.com/kstaniek/go-socketcan/internal/metrics"
	"github.com/kstaniek/go-socketcan/internal/server"
	"github.com/kstaniek/go-socketcan/internal/transport"
	"github.com/kstaniek/go-socketcan/socketcan"
)

// sleepFn waits d or until ctx ends and reports whether the wait completed.
// Tests replace it to observe the back-off sequence.
var sleepFn = func(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func newRxBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = rxBackoffMin
	bo.MaxInterval = rxBackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // retry forever
	bo.Reset()
	return bo
}

// initBackend opens the CAN socket, starts the RX loop in g and returns the
// frame sender for the TCP server plus a cleanup function.
func initBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, g *errgroup.Group) (server.SendFunc, func(), error) {
	b, err := newBus(cfg, l)
	if err != nil {
		return nil, func() {}, err
	}
	tx := transport.NewAsyncTx(ctx, txQueueSize, b.Send, transport.Hooks{
		OnSent: func(fr can.Frame) { metrics.IncCANTx(fr.Kind()) },
		OnError: func(fr can.Frame, err error) {
			metrics.IncError(metrics.ErrSocketCANWrite)
			l.Warn("socketcan_write_error", "error", err, "can_id", fmt.Sprintf("0x%X", can.WireID(fr)))
		},
		OnDrop: func(fr can.Frame) error {
			metrics.IncError(metrics.ErrSocketCANOver)
			return fmt.Errorf("%w: can_id 0x%X", server.ErrBackendOverflow, can.WireID(fr))
		},
	})
	g.Go(func() error { return rxLoop(ctx, b, h, l) })

	cleanup := func() {
		tx.Close()
		_ = b.Close()
	}
	return tx.SendFrame, cleanup, nil
}

// rxLoop broadcasts every received frame to the hub. Read errors back off
// exponentially; after rxReopenAfter errors in a row the socket is reopened.
func rxLoop(ctx context.Context, b *bus, h *hub.Hub, l *slog.Logger) error {
	defer l.Info("socketcan_rx_end")
	bo := newRxBackOff()
	var failures int
	for {
		fr, err := b.Recv(ctx)
		if err == nil {
			if failures > 0 {
				bo.Reset()
				failures = 0
			}
			metrics.IncCANRx(fr.Kind())
			h.Broadcast(fr)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		failures++
		metrics.IncError(metrics.ErrSocketCANRead)
		wait := bo.NextBackOff()
		l.Warn("socketcan_read_error", "error", err, "backoff", wait, "failures", failures)
		if !sleepFn(ctx, wait) {
			return nil
		}
		if failures%rxReopenAfter == 0 || errors.Is(err, socketcan.ErrClosed) {
			if rerr := b.reopen(); rerr != nil {
				metrics.IncError(metrics.ErrSocketCANOpen)
				l.Warn("socketcan_reopen_failed", "error", rerr)
			}
		}
	}
}
