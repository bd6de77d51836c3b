//go:build linux

// Command candemo splits one asynchronous CAN socket into halves: the send
// half transmits an FD counter frame every second and the receive half dumps
// everything on the bus, its own frames included.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/logging"
	"github.com/kstaniek/go-socketcan/socketcan"
)

// frameReceiver is the receive half returned by AsyncSocket.Split.
type frameReceiver interface {
	Recv(ctx context.Context) (can.Frame, error)
}

func main() {
	interval := flag.Duration("interval", time.Second, "Counter frame period")
	counterID := flag.Uint("id", 42, "Standard identifier of the counter frame")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	flag.Parse()
	l := logging.Setup("candemo", "text", *logLevel, os.Stderr)

	ifname := flag.Arg(0)
	if ifname == "" {
		ifname = os.Getenv("CAN_IF")
	}
	id, err := can.NewID(uint32(*counterID), false)
	if ifname == "" || err != nil || *interval <= 0 {
		fmt.Fprintln(os.Stderr, "usage: candemo [-interval D] [-id N] IFNAME (or set CAN_IF)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, ifname, id, *interval, l); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("candemo_exit", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, ifname string, id can.ID, interval time.Duration, l *slog.Logger) error {
	s, err := socketcan.BindAsync(ifname)
	if err != nil {
		return err
	}
	if err := s.SetRecvOwnMsgs(true); err != nil {
		_ = s.Close()
		return err
	}
	if err := s.SetFDFrames(true); err != nil {
		_ = s.Close()
		return err
	}
	rx, tx := s.Split()
	defer rx.Close()
	defer tx.Close()
	l.Info("socketcan_open", "if", ifname)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return recvLoop(gctx, rx, os.Stdout) })
	g.Go(func() error { return sendCounter(gctx, tx, id, interval) })
	return g.Wait()
}

func recvLoop(ctx context.Context, rx frameReceiver, w io.Writer) error {
	for {
		fr, err := rx.Recv(ctx)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, fr); err != nil {
			return err
		}
	}
}
