package can

import (
	"fmt"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
	CAN_ERR_MASK = 0x1FFFFFFF

	CAN_SFF_ID_BITS = 11
	CAN_EFF_ID_BITS = 29
)

// ID is a CAN identifier, either standard (11-bit) or extended (29-bit).
// The zero value is the standard identifier 0.
type ID struct {
	value    uint32
	extended bool
}

// StandardID returns an 11-bit identifier. It panics if v does not fit.
func StandardID(v uint32) ID {
	if v > CAN_SFF_MASK {
		panic(fmt.Sprintf("can: standard id 0x%X exceeds 11 bits", v))
	}
	return ID{value: v}
}

// ExtendedID returns a 29-bit identifier. It panics if v does not fit.
func ExtendedID(v uint32) ID {
	if v > CAN_EFF_MASK {
		panic(fmt.Sprintf("can: extended id 0x%X exceeds 29 bits", v))
	}
	return ID{value: v, extended: true}
}

// NewID validates v against the selected bit width and returns ErrIDRange
// instead of panicking. Use it for identifiers coming from users or peers.
func NewID(v uint32, extended bool) (ID, error) {
	limit := uint32(CAN_SFF_MASK)
	if extended {
		limit = CAN_EFF_MASK
	}
	if v > limit {
		return ID{}, fmt.Errorf("%w: 0x%X", ErrIDRange, v)
	}
	return ID{value: v, extended: extended}, nil
}

// IDFromWire extracts the identifier from a raw can_id, dropping RTR/ERR bits.
func IDFromWire(bits uint32) ID {
	if bits&CAN_EFF_FLAG == 0 {
		return ID{value: bits & CAN_SFF_MASK}
	}
	return ID{value: bits & CAN_EFF_MASK, extended: true}
}

// Wire returns the can_id representation with CAN_EFF_FLAG set for extended ids.
func (id ID) Wire() uint32 {
	if id.extended {
		return id.value | CAN_EFF_FLAG
	}
	return id.value
}

func (id ID) Value() uint32  { return id.value }
func (id ID) Extended() bool { return id.extended }

// String formats the id the way candump does: 3 hex digits for standard,
// 8 for extended.
func (id ID) String() string {
	if id.extended {
		return fmt.Sprintf("%08X", id.value)
	}
	return fmt.Sprintf("%03X", id.value)
}
