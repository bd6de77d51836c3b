// Package cnl implements the cannelloni TCP framing used between the gateway
// and its clients.
//
// Each frame on the wire is:
//
//	can_id  4 bytes big endian, EFF/RTR/ERR flags included
//	len     1 byte; bit 0x80 marks a CAN FD frame
//	flags   1 byte, FD frames only (BRS/ESI)
//	data    len bytes, absent for remote frames
package cnl

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/metrics"
)

// fdFrameBit in the length byte marks a CAN FD frame.
const fdFrameBit = 0x80

// maxWireFrame is the encoded size of the largest frame (FD, 64 bytes).
const maxWireFrame = 4 + 1 + 1 + can.FDMaxDataLen

// Codec encodes and decodes cannelloni frames. It is stateless and safe for
// concurrent use.
type Codec struct{}

var (
	// ErrInvalidLength is returned for a classic length above 8 or an FD length
	// outside the FD length table.
	ErrInvalidLength = errors.New("cannelloni: invalid length")
	// ErrTruncatedFrame is returned when the stream ends inside a frame.
	ErrTruncatedFrame = errors.New("cannelloni: truncated frame")
	// ErrInvalidFrame is returned for an FD frame carrying RTR or ERR flags.
	ErrInvalidFrame = errors.New("cannelloni: invalid frame")
)

// Encode packs frames into one buffer.
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * (4 + 1 + can.MaxDataLen))
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// AppendFrame appends the wire form of f to dst.
func AppendFrame(dst []byte, f can.Frame) []byte {
	dst = binary.BigEndian.AppendUint32(dst, can.WireID(f))
	switch v := f.(type) {
	case can.FdDataFrame:
		data := v.Data()
		dst = append(dst, byte(len(data))|fdFrameBit, v.Flags())
		return append(dst, data...)
	case can.RemoteFrame:
		return append(dst, v.DLC())
	case can.DataFrame:
		data := v.Data()
		dst = append(dst, byte(len(data)))
		return append(dst, data...)
	case can.ErrorFrame:
		data := v.Data()
		dst = append(dst, byte(len(data)))
		return append(dst, data...)
	default:
		panic(fmt.Sprintf("cnl: unknown frame type %T", f))
	}
}

// EncodeTo writes frames to w and returns the number of bytes written.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var (
		total   int
		scratch [maxWireFrame]byte
	)
	for _, f := range frames {
		n, err := w.Write(AppendFrame(scratch[:0], f))
		total += n
		if err != nil {
			return total, fmt.Errorf("cannelloni encode: %w", err)
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r. It returns io.EOF when r ends on a
// frame boundary.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:4]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, malformed("id", ErrTruncatedFrame)
		}
		return nil, err
	}
	if _, err := io.ReadFull(r, hdr[4:]); err != nil {
		return nil, malformed("len", truncated(err))
	}
	id := binary.BigEndian.Uint32(hdr[:4])
	lb := hdr[4]

	if lb&fdFrameBit != 0 {
		return decodeFD(r, id, int(lb&^fdFrameBit))
	}
	n := int(lb)
	if n > can.MaxDataLen {
		return nil, malformed("len", fmt.Errorf("%w (%d)", ErrInvalidLength, n))
	}
	if id&can.CAN_RTR_FLAG != 0 {
		return can.NewRemoteFrame(can.IDFromWire(id), uint8(n)), nil
	}
	var data [can.MaxDataLen]byte
	if _, err := io.ReadFull(r, data[:n]); err != nil {
		return nil, malformed("payload", truncated(err))
	}
	if id&can.CAN_ERR_FLAG != 0 {
		return can.MakeErrorFrame(id, data[:n])
	}
	return can.NewDataFrame(can.IDFromWire(id), data[:n]), nil
}

func decodeFD(r io.Reader, id uint32, n int) (can.Frame, error) {
	if !can.ValidFDLen(n) {
		return nil, malformed("len", fmt.Errorf("%w (fd %d)", ErrInvalidLength, n))
	}
	if id&(can.CAN_RTR_FLAG|can.CAN_ERR_FLAG) != 0 {
		return nil, malformed("id", fmt.Errorf("%w: fd can_id 0x%08X", ErrInvalidFrame, id))
	}
	var buf [1 + can.FDMaxDataLen]byte
	if _, err := io.ReadFull(r, buf[:1+n]); err != nil {
		return nil, malformed("payload", truncated(err))
	}
	flags := buf[0]
	return can.NewFdDataFrame(can.IDFromWire(id), flags&can.CANFD_BRS != 0, flags&can.CANFD_ESI != 0, buf[1:1+n]), nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncatedFrame
	}
	return err
}

func malformed(part string, err error) error {
	metrics.IncMalformed()
	return fmt.Errorf("cannelloni decode %s: %w", part, err)
}

// DecodeN decodes up to max frames (max <= 0 means until an error) and calls
// onFrame for each. It returns the count and the error that stopped it, which
// is io.EOF at a clean end of stream.
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}

// DecodeBuffered decodes the frames already buffered in br without blocking
// on the underlying reader, up to max. It is used after a blocking Decode to
// batch the rest of a TCP segment.
func (c *Codec) DecodeBuffered(br *bufio.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for (max <= 0 || n < max) && br.Buffered() >= 5 {
		if need := frameLen(br); need < 0 || br.Buffered() < need {
			break
		}
		fr, err := c.Decode(br)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}

// frameLen peeks the header in br and returns the encoded size of the next
// frame, or -1 if the header is not buffered.
func frameLen(br *bufio.Reader) int {
	hdr, err := br.Peek(5)
	if err != nil {
		return -1
	}
	id := binary.BigEndian.Uint32(hdr[:4])
	lb := hdr[4]
	switch {
	case lb&fdFrameBit != 0:
		return 5 + 1 + int(lb&^fdFrameBit)
	case id&can.CAN_RTR_FLAG != 0:
		return 5
	default:
		return 5 + int(lb)
	}
}
