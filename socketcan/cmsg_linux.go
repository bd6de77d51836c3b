//go:build linux

package socketcan

import (
	"fmt"
	"iter"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// scm_timestamping carries three timespecs: software, deprecated, raw hardware.
type scmTimestamping [3]unix.Timespec

const scmTimestampingSize = int(unsafe.Sizeof(scmTimestamping{}))

// OOBSize is the ancillary buffer size that holds one timestamping message.
func OOBSize() int { return unix.CmsgSpace(scmTimestampingSize) }

// Cmsg is one decoded control message: TimestampingCmsg or OtherCmsg.
type Cmsg interface {
	isCmsg()
}

// TimestampingCmsg is an SCM_TIMESTAMPING message. Fields not requested via
// SetTimestamping are zero.
type TimestampingCmsg struct {
	Software unix.Timespec
	Hardware unix.Timespec
}

func (TimestampingCmsg) isCmsg() {}

// SoftwareTime returns the software timestamp, or the zero time when unset.
func (c TimestampingCmsg) SoftwareTime() time.Time { return timespecTime(c.Software) }

// HardwareTime returns the raw hardware timestamp, or the zero time when unset.
func (c TimestampingCmsg) HardwareTime() time.Time { return timespecTime(c.Hardware) }

func timespecTime(ts unix.Timespec) time.Time {
	if ts.Sec == 0 && ts.Nsec == 0 {
		return time.Time{}
	}
	return time.Unix(ts.Unix())
}

// OtherCmsg is a control message this package does not decode. Data aliases
// the buffer passed to RecvMsg.
type OtherCmsg struct {
	Level int32
	Type  int32
	Data  []byte
}

func (OtherCmsg) isCmsg() {}

// Cmsgs walks the control messages of one RecvMsg call. It borrows the
// caller's buffer and is consumed as it is iterated.
type Cmsgs struct {
	buf []byte
}

// Next decodes the next control message. It reports false once the buffer
// is exhausted or the next header is malformed.
func (c *Cmsgs) Next() (Cmsg, bool) {
	hdrLen := unix.CmsgLen(0)
	if len(c.buf) < hdrLen {
		c.buf = nil
		return nil, false
	}
	h := (*unix.Cmsghdr)(unsafe.Pointer(&c.buf[0]))
	n := int(h.Len)
	if n < hdrLen || n > len(c.buf) {
		c.buf = nil
		return nil, false
	}
	data := c.buf[hdrLen:n:n]
	if space := unix.CmsgSpace(n - hdrLen); space < len(c.buf) {
		c.buf = c.buf[space:]
	} else {
		c.buf = nil
	}
	return decodeCmsg(h.Level, h.Type, data), true
}

// All yields the remaining control messages.
func (c *Cmsgs) All() iter.Seq[Cmsg] {
	return func(yield func(Cmsg) bool) {
		for {
			m, ok := c.Next()
			if !ok || !yield(m) {
				return
			}
		}
	}
}

// Timestamping returns the first timestamping message, consuming the
// messages before and including it.
func (c *Cmsgs) Timestamping() (TimestampingCmsg, bool) {
	for m := range c.All() {
		if ts, ok := m.(TimestampingCmsg); ok {
			return ts, true
		}
	}
	return TimestampingCmsg{}, false
}

func decodeCmsg(level, typ int32, data []byte) Cmsg {
	if level == unix.SOL_SOCKET && typ == unix.SCM_TIMESTAMPING {
		if len(data) != scmTimestampingSize {
			panic(fmt.Sprintf("socketcan: SCM_TIMESTAMPING payload is %d bytes, want %d", len(data), scmTimestampingSize))
		}
		var ts scmTimestamping
		copy(unsafe.Slice((*byte)(unsafe.Pointer(&ts)), scmTimestampingSize), data)
		return TimestampingCmsg{Software: ts[0], Hardware: ts[2]}
	}
	return OtherCmsg{Level: level, Type: typ, Data: data}
}
