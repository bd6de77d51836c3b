package main

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/kstaniek/go-socketcan/can"
)

// frameSender is the send half returned by AsyncSocket.Split.
type frameSender interface {
	Send(ctx context.Context, f can.Frame) error
}

// counterFrame carries n as 8 big-endian bytes.
func counterFrame(id can.ID, n uint64) can.FdDataFrame {
	return can.NewFdDataFrame(id, false, false, binary.BigEndian.AppendUint64(nil, n))
}

// sendCounter sends counter frames 0, 1, 2, ... one per interval until ctx
// ends or a send fails.
func sendCounter(ctx context.Context, tx frameSender, id can.ID, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for n := uint64(0); ; n++ {
		if err := tx.Send(ctx, counterFrame(id, n)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
