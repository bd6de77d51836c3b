package can

import (
	"encoding/binary"
	"fmt"
)

// Wire sizes of struct can_frame and struct canfd_frame.
const (
	MTU   = 16
	FDMTU = 72
)

// struct can_frame / struct canfd_frame (linux/can.h), host byte order:
//
//	can_id  u32  [0:4]  (EFF/RTR/ERR flags in the top bits)
//	len     u8   [4]
//	flags   u8   [5]    (FD only, pad on classic frames)
//	res0    u8   [6]
//	res1    u8   [7]    (len8_dlc on classic frames, unused here)
//	data         [8:16] classic, [8:72] FD
//
// Both layouts share the 8 byte header, so the frame kind is decided by the
// number of bytes the kernel returned.
const (
	offID    = 0
	offLen   = 4
	offFlags = 5
	offData  = 8
)

var byteOrder = binary.NativeEndian

// Decode parses one frame as returned by read(2) on a CAN_RAW socket. Only
// len(buf) selects the layout: MTU yields a classic frame, FDMTU an FD frame.
// Any other size returns ErrUnrecognizedFrameSize.
//
// Classic frames with CAN_RTR_FLAG decode to RemoteFrame, with CAN_ERR_FLAG to
// ErrorFrame, otherwise to DataFrame. An FD frame with either flag set panics:
// the kernel never produces one.
func Decode(buf []byte) (Frame, error) {
	switch len(buf) {
	case MTU:
		return decodeClassic(buf), nil
	case FDMTU:
		return decodeFD(buf), nil
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrUnrecognizedFrameSize, len(buf))
	}
}

func decodeClassic(buf []byte) Frame {
	id := byteOrder.Uint32(buf[offID:])
	n := buf[offLen]
	if n > MaxDataLen {
		n = MaxDataLen
	}
	switch {
	case id&CAN_RTR_FLAG != 0:
		return RemoteFrame{canID: id, dlc: n}
	case id&CAN_ERR_FLAG != 0:
		f := ErrorFrame{canID: id, len: n}
		copy(f.data[:], buf[offData:offData+int(n)])
		return f
	default:
		f := DataFrame{canID: id, len: n}
		copy(f.data[:], buf[offData:offData+int(n)])
		return f
	}
}

func decodeFD(buf []byte) Frame {
	id := byteOrder.Uint32(buf[offID:])
	if id&(CAN_RTR_FLAG|CAN_ERR_FLAG) != 0 {
		panic(fmt.Sprintf("can: fd frame with rtr/err flags (can_id 0x%08X)", id))
	}
	n := buf[offLen]
	if n > FDMaxDataLen {
		n = FDMaxDataLen
	}
	f := FdDataFrame{canID: id, len: n, flags: buf[offFlags] & (CANFD_BRS | CANFD_ESI)}
	copy(f.data[:], buf[offData:offData+int(n)])
	return f
}

// Encode returns the wire representation of f.
func Encode(f Frame) []byte {
	return f.AppendWire(make([]byte, 0, f.Size()))
}

func appendClassic(dst []byte, id uint32, n uint8, data [MaxDataLen]byte) []byte {
	var b [MTU]byte
	byteOrder.PutUint32(b[offID:], id)
	b[offLen] = n
	copy(b[offData:], data[:n])
	return append(dst, b[:]...)
}

func appendFD(dst []byte, id uint32, n, flags uint8, data *[FDMaxDataLen]byte) []byte {
	var b [FDMTU]byte
	byteOrder.PutUint32(b[offID:], id)
	b[offLen] = n
	b[offFlags] = flags
	copy(b[offData:], data[:n])
	return append(dst, b[:]...)
}
