//go:build linux

// Command cansend writes one frame to a CAN interface.
//
//	cansend [-log-level L] [IFNAME] FRAME
//
// IFNAME defaults to $CAN_IF.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/logging"
	"github.com/kstaniek/go-socketcan/socketcan"
)

func main() {
	logLevel := flag.String("log-level", "warn", "Log level: debug|info|warn|error")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [IFNAME] FRAME\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	l := logging.Setup("cansend", "text", *logLevel, os.Stderr)

	ifname, frameArg, err := splitArgs(flag.Args(), os.Getenv("CAN_IF"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}
	fr, err := parseFrame(frameArg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	s, err := socketcan.Bind(ifname)
	if err != nil {
		l.Error("socketcan_open", "if", ifname, "error", err)
		os.Exit(1)
	}
	defer s.Close()
	if fr.Kind() == can.KindFdData {
		if err := s.SetFDFrames(true); err != nil {
			l.Error("socketcan_fd_frames", "if", ifname, "error", err)
			os.Exit(1)
		}
	}
	if err := s.Send(fr); err != nil {
		l.Error("frame_tx", "if", ifname, "frame", fr.String(), "error", err)
		os.Exit(1)
	}
	l.Debug("frame_tx", "if", ifname, "frame", fr.String())
}
