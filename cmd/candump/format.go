package main

import (
	"fmt"
	"time"

	"github.com/kstaniek/go-socketcan/can"
)

var zeroTime time.Time

// formatLine renders one candump line. A zero ts omits the timestamp column.
func formatLine(ifname string, fr can.Frame, ts time.Time) string {
	if ts.IsZero() {
		return fmt.Sprintf("%s  %s\n", ifname, fr)
	}
	return fmt.Sprintf("(%d.%06d) %s  %s\n", ts.Unix(), ts.Nanosecond()/1000, ifname, fr)
}
