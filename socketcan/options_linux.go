//go:build linux

package socketcan

import (
	"os"

	"golang.org/x/sys/unix"
)

// Filter matches a received can_id when (can_id & Mask) == (ID & Mask).
// ID and Mask use the raw can_id bit layout, flags included. Invert turns the
// filter into a reject rule.
type Filter struct {
	ID     uint32
	Mask   uint32
	Invert bool
}

// CAN_INV_FILTER from <linux/can.h>.
const canInvFilter = 0x20000000

// Error classes for SetErrorFilter (<linux/can/error.h>).
const (
	ErrClassTxTimeout uint32 = 0x001
	ErrClassLostArb   uint32 = 0x002
	ErrClassCtrl      uint32 = 0x004
	ErrClassProt      uint32 = 0x008
	ErrClassTrx       uint32 = 0x010
	ErrClassAck       uint32 = 0x020
	ErrClassBusOff    uint32 = 0x040
	ErrClassBusError  uint32 = 0x080
	ErrClassRestarted uint32 = 0x100
	ErrClassAll       uint32 = 0x1FFFFFFF
)

func boolint(on bool) int {
	if on {
		return 1
	}
	return 0
}

func setsockoptInt(fd, level, name, value int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, level, name, value))
}

func setFDFrames(fd int, on bool) error {
	return setsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, boolint(on))
}

func setRecvOwnMsgs(fd int, on bool) error {
	return setsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, boolint(on))
}

func setLoopback(fd int, on bool) error {
	return setsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_LOOPBACK, boolint(on))
}

func setTimestamping(fd int, flags Timestamping) error {
	return setsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING, int(flags))
}

func setErrorFilter(fd int, mask uint32) error {
	return setsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, int(mask))
}

func setFilters(fd int, filters []Filter) error {
	raw := make([]unix.CanFilter, len(filters))
	for i, f := range filters {
		raw[i] = unix.CanFilter{Id: f.ID, Mask: f.Mask}
		if f.Invert {
			raw[i].Id |= canInvFilter
		}
	}
	return os.NewSyscallError("setsockopt", unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, raw))
}
