//go:build linux

package socketcan

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Timestamping is a set of SO_TIMESTAMPING flags.
type Timestamping uint32

const (
	TimestampingTxHardware  Timestamping = unix.SOF_TIMESTAMPING_TX_HARDWARE
	TimestampingTxSoftware  Timestamping = unix.SOF_TIMESTAMPING_TX_SOFTWARE
	TimestampingRxHardware  Timestamping = unix.SOF_TIMESTAMPING_RX_HARDWARE
	TimestampingRxSoftware  Timestamping = unix.SOF_TIMESTAMPING_RX_SOFTWARE
	TimestampingSoftware    Timestamping = unix.SOF_TIMESTAMPING_SOFTWARE
	TimestampingSysHardware Timestamping = unix.SOF_TIMESTAMPING_SYS_HARDWARE
	TimestampingRawHardware Timestamping = unix.SOF_TIMESTAMPING_RAW_HARDWARE
)

var timestampingNames = []struct {
	flag Timestamping
	name string
}{
	{TimestampingTxHardware, "tx_hardware"},
	{TimestampingTxSoftware, "tx_software"},
	{TimestampingRxHardware, "rx_hardware"},
	{TimestampingRxSoftware, "rx_software"},
	{TimestampingSoftware, "software"},
	{TimestampingSysHardware, "sys_hardware"},
	{TimestampingRawHardware, "raw_hardware"},
}

// Has reports whether every flag in o is set in t.
func (t Timestamping) Has(o Timestamping) bool { return t&o == o }

func (t Timestamping) String() string {
	if t == 0 {
		return "none"
	}
	var parts []string
	for _, n := range timestampingNames {
		if t&n.flag != 0 {
			parts = append(parts, n.name)
			t &^= n.flag
		}
	}
	if t != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(t), 16))
	}
	return strings.Join(parts, "|")
}
