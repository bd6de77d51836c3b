package can

import (
	"fmt"
	"strings"
)

// Payload limits.
const (
	MaxDataLen   = 8
	FDMaxDataLen = 64
)

// Kind tags the variant held by a Frame.
type Kind uint8

const (
	KindData Kind = iota
	KindFdData
	KindRemote
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindFdData:
		return "fd_data"
	case KindRemote:
		return "remote"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame is one of DataFrame, FdDataFrame, RemoteFrame or ErrorFrame.
// The set is closed; use a type switch to reach variant specific accessors.
//
// Frames are plain values. Two frames holding the same identifier, flags and
// payload compare equal with ==.
type Frame interface {
	Kind() Kind
	// Size is the number of bytes the frame occupies on the socket (MTU or FDMTU).
	Size() int
	// AppendWire appends the kernel wire representation of the frame to dst.
	AppendWire(dst []byte) []byte
	String() string

	isFrame()
}

// DataFrame is a classic CAN data frame carrying up to 8 bytes.
type DataFrame struct {
	canID uint32
	len   uint8
	data  [MaxDataLen]byte
}

// NewDataFrame builds a classic data frame. It panics if data is longer than 8 bytes.
func NewDataFrame(id ID, data []byte) DataFrame {
	if len(data) > MaxDataLen {
		panic(fmt.Sprintf("can: data frame payload of %d bytes exceeds %d", len(data), MaxDataLen))
	}
	f := DataFrame{canID: id.Wire(), len: uint8(len(data))}
	copy(f.data[:], data)
	return f
}

func (f DataFrame) ID() ID       { return IDFromWire(f.canID) }
func (f DataFrame) Data() []byte { return f.data[:f.len:f.len] }
func (DataFrame) Kind() Kind     { return KindData }
func (DataFrame) Size() int      { return MTU }
func (DataFrame) isFrame()       {}

func (f DataFrame) AppendWire(dst []byte) []byte {
	return appendClassic(dst, f.canID, f.len, f.data)
}

func (f DataFrame) String() string {
	return f.ID().String() + "#" + hexBytes(f.Data())
}

// FdDataFrame is a CAN FD data frame carrying up to 64 bytes.
type FdDataFrame struct {
	canID uint32
	len   uint8
	flags uint8
	data  [FDMaxDataLen]byte
}

// NewFdDataFrame builds an FD data frame. The stored length is rounded up to
// the next valid FD length (see FDLen) and the extra bytes are zero. It panics
// if data is longer than 64 bytes.
func NewFdDataFrame(id ID, brs, esi bool, data []byte) FdDataFrame {
	if len(data) > FDMaxDataLen {
		panic(fmt.Sprintf("can: fd frame payload of %d bytes exceeds %d", len(data), FDMaxDataLen))
	}
	f := FdDataFrame{canID: id.Wire(), len: FDLen(len(data))}
	if brs {
		f.flags |= CANFD_BRS
	}
	if esi {
		f.flags |= CANFD_ESI
	}
	copy(f.data[:], data)
	return f
}

func (f FdDataFrame) ID() ID       { return IDFromWire(f.canID) }
func (f FdDataFrame) Data() []byte { return f.data[:f.len:f.len] }
func (f FdDataFrame) BRS() bool    { return f.flags&CANFD_BRS != 0 }
func (f FdDataFrame) ESI() bool    { return f.flags&CANFD_ESI != 0 }

// Flags returns the BRS/ESI bits as stored in the canfd_frame flags byte.
func (f FdDataFrame) Flags() uint8 { return f.flags }
func (FdDataFrame) Kind() Kind     { return KindFdData }
func (FdDataFrame) Size() int      { return FDMTU }
func (FdDataFrame) isFrame()       {}

func (f FdDataFrame) AppendWire(dst []byte) []byte {
	return appendFD(dst, f.canID, f.len, f.flags, &f.data)
}

func (f FdDataFrame) String() string {
	return fmt.Sprintf("%s##%X%s", f.ID(), f.flags, hexBytes(f.Data()))
}

// RemoteFrame is a classic remote transmission request. It carries a DLC but no data.
type RemoteFrame struct {
	canID uint32
	dlc   uint8
}

// NewRemoteFrame builds a remote frame. It panics if dlc is greater than 8.
func NewRemoteFrame(id ID, dlc uint8) RemoteFrame {
	if dlc > MaxDataLen {
		panic(fmt.Sprintf("can: remote frame dlc %d exceeds %d", dlc, MaxDataLen))
	}
	return RemoteFrame{canID: id.Wire() | CAN_RTR_FLAG, dlc: dlc}
}

func (f RemoteFrame) ID() ID     { return IDFromWire(f.canID) }
func (f RemoteFrame) DLC() uint8 { return f.dlc }
func (RemoteFrame) Kind() Kind   { return KindRemote }
func (RemoteFrame) Size() int    { return MTU }
func (RemoteFrame) isFrame()     {}

func (f RemoteFrame) AppendWire(dst []byte) []byte {
	return appendClassic(dst, f.canID, f.dlc, [MaxDataLen]byte{})
}

func (f RemoteFrame) String() string {
	if f.dlc == 0 {
		return f.ID().String() + "#R"
	}
	return fmt.Sprintf("%s#R%d", f.ID(), f.dlc)
}

// ErrorFrame is a bus error report generated by the controller or driver.
// It is only delivered to sockets that enabled an error filter.
type ErrorFrame struct {
	canID uint32
	len   uint8
	data  [MaxDataLen]byte
}

// NewErrorFrame builds an error frame from an error class mask (CAN_ERR_* bits
// from <linux/can/error.h>) and the detail bytes.
func NewErrorFrame(class uint32, data [MaxDataLen]byte) ErrorFrame {
	return ErrorFrame{canID: class&CAN_ERR_MASK | CAN_ERR_FLAG, len: MaxDataLen, data: data}
}

// Class returns the error class bits.
func (f ErrorFrame) Class() uint32 { return f.canID & CAN_ERR_MASK }
func (f ErrorFrame) Data() []byte  { return f.data[:f.len:f.len] }
func (ErrorFrame) Kind() Kind      { return KindError }
func (ErrorFrame) Size() int       { return MTU }
func (ErrorFrame) isFrame()        {}

func (f ErrorFrame) AppendWire(dst []byte) []byte {
	return appendClassic(dst, f.canID, f.len, f.data)
}

func (f ErrorFrame) String() string {
	return fmt.Sprintf("%08X#%s", f.canID, hexBytes(f.Data()))
}

// WireID returns the raw can_id of any frame, flags included.
func WireID(f Frame) uint32 {
	switch v := f.(type) {
	case DataFrame:
		return v.canID
	case FdDataFrame:
		return v.canID
	case RemoteFrame:
		return v.canID
	case ErrorFrame:
		return v.canID
	default:
		return 0
	}
}

func hexBytes(b []byte) string {
	var sb strings.Builder
	sb.Grow(2 * len(b))
	for _, c := range b {
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}

// MakeDataFrame is NewDataFrame for untrusted input: it returns ErrDataLength
// instead of panicking.
func MakeDataFrame(id ID, data []byte) (DataFrame, error) {
	if len(data) > MaxDataLen {
		return DataFrame{}, fmt.Errorf("%w: %d bytes", ErrDataLength, len(data))
	}
	return NewDataFrame(id, data), nil
}

// MakeFdDataFrame is NewFdDataFrame for untrusted input.
func MakeFdDataFrame(id ID, brs, esi bool, data []byte) (FdDataFrame, error) {
	if len(data) > FDMaxDataLen {
		return FdDataFrame{}, fmt.Errorf("%w: %d bytes", ErrDataLength, len(data))
	}
	return NewFdDataFrame(id, brs, esi, data), nil
}

// MakeRemoteFrame is NewRemoteFrame for untrusted input.
func MakeRemoteFrame(id ID, dlc int) (RemoteFrame, error) {
	if dlc < 0 || dlc > MaxDataLen {
		return RemoteFrame{}, fmt.Errorf("%w: dlc %d", ErrDataLength, dlc)
	}
	return NewRemoteFrame(id, uint8(dlc)), nil
}

// MakeErrorFrame builds an error frame carrying len(data) detail bytes, as
// received from a peer that sent fewer than eight.
func MakeErrorFrame(class uint32, data []byte) (ErrorFrame, error) {
	if len(data) > MaxDataLen {
		return ErrorFrame{}, fmt.Errorf("%w: %d bytes", ErrDataLength, len(data))
	}
	f := ErrorFrame{canID: class&CAN_ERR_MASK | CAN_ERR_FLAG, len: uint8(len(data))}
	copy(f.data[:], data)
	return f, nil
}
