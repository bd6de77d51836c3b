//go:build linux

// Command candump prints every frame received on a CAN interface.
//
//	candump [-t] [-e] [-metrics-addr :9101] [IFNAME]
//
// IFNAME defaults to $CAN_IF. CAN FD frames are always enabled.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kstaniek/go-socketcan/internal/logging"
	"github.com/kstaniek/go-socketcan/internal/metrics"
	"github.com/kstaniek/go-socketcan/socketcan"
)

func main() {
	timestamps := flag.Bool("t", false, "Print kernel software receive timestamps")
	errFrames := flag.Bool("e", false, "Also receive error frames")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address; empty disables")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	flag.Parse()
	l := logging.Setup("candump", *logFormat, *logLevel, os.Stderr)

	ifname := flag.Arg(0)
	if ifname == "" {
		ifname = os.Getenv("CAN_IF")
	}
	if ifname == "" {
		fmt.Fprintln(os.Stderr, "usage: candump [flags] IFNAME (or set CAN_IF)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *metricsAddr != "" {
		srv := metrics.StartHTTP(*metricsAddr)
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	opts := dumpOptions{timestamps: *timestamps, errFrames: *errFrames}
	if err := dump(ctx, ifname, opts); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("candump_exit", "if", ifname, "error", err)
		os.Exit(1)
	}
}

type dumpOptions struct {
	timestamps bool
	errFrames  bool
}

func openDump(ifname string, opts dumpOptions) (*socketcan.AsyncSocket, error) {
	s, err := socketcan.BindAsync(ifname)
	if err != nil {
		return nil, err
	}
	setup := []func() error{
		func() error { return s.SetFDFrames(true) },
	}
	if opts.timestamps {
		setup = append(setup, func() error {
			return s.SetTimestamping(socketcan.TimestampingRxSoftware | socketcan.TimestampingSoftware)
		})
	}
	if opts.errFrames {
		setup = append(setup, func() error { return s.SetErrorFilter(socketcan.ErrClassAll) })
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func dump(ctx context.Context, ifname string, opts dumpOptions) error {
	s, err := openDump(ifname, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	logging.L().Info("socketcan_open", "if", ifname, "timestamps", opts.timestamps, "error_frames", opts.errFrames)

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	var oob []byte
	if opts.timestamps {
		oob = make([]byte, socketcan.OOBSize())
	}
	for {
		fr, cmsgs, err := s.RecvMsg(ctx, oob)
		if err != nil {
			return err
		}
		metrics.IncCANRx(fr.Kind())
		var line string
		if ts, ok := cmsgs.Timestamping(); ok {
			line = formatLine(ifname, fr, ts.SoftwareTime())
		} else {
			line = formatLine(ifname, fr, zeroTime)
		}
		if _, err := w.WriteString(line); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}
