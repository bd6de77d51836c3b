package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/kstaniek/go-socketcan/internal/metrics"
)

func logMetricsSnapshot(l *slog.Logger, snap metrics.Snapshot) {
	l.Info("metrics_snapshot",
		"can_rx", snap.CANRx,
		"can_rx_fd", snap.CANRxFD,
		"can_rx_err", snap.CANRxErr,
		"can_tx", snap.CANTx,
		"reopens", snap.Reopens,
		"tcp_rx", snap.TCPRx,
		"tcp_tx", snap.TCPTx,
		"filtered", snap.Filtered,
		"hub_clients", snap.HubClients,
		"hub_drops", snap.HubDrops,
		"hub_kicks", snap.HubKicks,
		"malformed", snap.Malformed,
		"errors", snap.Errors,
	)
}

// runMetricsLogger logs a snapshot every interval until ctx ends.
func runMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			logMetricsSnapshot(l, metrics.Snap())
		case <-ctx.Done():
			return nil
		}
	}
}
