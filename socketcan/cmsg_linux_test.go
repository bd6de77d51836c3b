//go:build linux

package socketcan

import (
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func appendCmsg(b []byte, level, typ int32, data []byte) []byte {
	m := make([]byte, unix.CmsgSpace(len(data)))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&m[0]))
	h.Level = level
	h.Type = typ
	h.SetLen(unix.CmsgLen(len(data)))
	copy(m[unix.CmsgLen(0):], data)
	return append(b, m...)
}

func timestampingPayload(ts scmTimestamping) []byte {
	out := make([]byte, scmTimestampingSize)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&ts)), scmTimestampingSize))
	return out
}

func TestCmsgsTimestamping(t *testing.T) {
	ts := scmTimestamping{{Sec: 1, Nsec: 2}, {Sec: 99}, {Sec: 3, Nsec: 4}}
	buf := appendCmsg(nil, unix.SOL_SOCKET, unix.SCM_TIMESTAMPING, timestampingPayload(ts))

	c := Cmsgs{buf: buf}
	m, ok := c.Next()
	require.True(t, ok)
	got, ok := m.(TimestampingCmsg)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, unix.Timespec{Sec: 1, Nsec: 2}, got.Software)
	assert.Equal(t, unix.Timespec{Sec: 3, Nsec: 4}, got.Hardware)
	assert.True(t, got.SoftwareTime().Equal(time.Unix(1, 2)))
	assert.True(t, got.HardwareTime().Equal(time.Unix(3, 4)))

	_, ok = c.Next()
	assert.False(t, ok)
}

func TestCmsgsZeroTimestampIsZeroTime(t *testing.T) {
	ts := scmTimestamping{{Sec: 5}}
	c := Cmsgs{buf: appendCmsg(nil, unix.SOL_SOCKET, unix.SCM_TIMESTAMPING, timestampingPayload(ts))}
	got, ok := c.Timestamping()
	require.True(t, ok)
	assert.True(t, got.HardwareTime().IsZero())
	assert.False(t, got.SoftwareTime().IsZero())
}

func TestCmsgsMixed(t *testing.T) {
	buf := appendCmsg(nil, unix.SOL_SOCKET, unix.SCM_RIGHTS, []byte{7, 0, 0, 0})
	buf = appendCmsg(buf, 42, 7, []byte{1, 2, 3})
	buf = appendCmsg(buf, unix.SOL_SOCKET, unix.SCM_TIMESTAMPING, timestampingPayload(scmTimestamping{{Sec: 10}}))

	c := Cmsgs{buf: buf}
	var got []Cmsg
	for m := range c.All() {
		got = append(got, m)
	}
	require.Len(t, got, 3)
	assert.Equal(t, OtherCmsg{Level: unix.SOL_SOCKET, Type: unix.SCM_RIGHTS, Data: []byte{7, 0, 0, 0}}, got[0])
	assert.Equal(t, OtherCmsg{Level: 42, Type: 7, Data: []byte{1, 2, 3}}, got[1])
	assert.Equal(t, TimestampingCmsg{Software: unix.Timespec{Sec: 10}}, got[2])

	// consumed
	_, ok := c.Next()
	assert.False(t, ok)
}

func TestCmsgsStopEarly(t *testing.T) {
	buf := appendCmsg(nil, 1, 1, []byte{1})
	buf = appendCmsg(buf, 2, 2, []byte{2})
	c := Cmsgs{buf: buf}
	for range c.All() {
		break
	}
	m, ok := c.Next()
	require.True(t, ok)
	assert.Equal(t, int32(2), m.(OtherCmsg).Level)
}

func TestCmsgsMalformedHeaderEndsIteration(t *testing.T) {
	buf := appendCmsg(nil, 1, 1, []byte{1, 2, 3, 4})
	h := (*unix.Cmsghdr)(unsafe.Pointer(&buf[0]))
	h.SetLen(len(buf) + 64)

	c := Cmsgs{buf: buf}
	_, ok := c.Next()
	assert.False(t, ok)

	c = Cmsgs{buf: buf[:unix.CmsgLen(0)-1]}
	_, ok = c.Next()
	assert.False(t, ok)
}

func TestCmsgsTimestampingSizeMismatchPanics(t *testing.T) {
	c := Cmsgs{buf: appendCmsg(nil, unix.SOL_SOCKET, unix.SCM_TIMESTAMPING, make([]byte, scmTimestampingSize-8))}
	assert.Panics(t, func() { c.Next() })
}

func TestCmsgsEmpty(t *testing.T) {
	var c Cmsgs
	_, ok := c.Next()
	assert.False(t, ok)
	_, ok = c.Timestamping()
	assert.False(t, ok)
}

func TestOOBSizeFitsTimestamp(t *testing.T) {
	assert.Equal(t, unix.CmsgSpace(3*int(unsafe.Sizeof(unix.Timespec{}))), OOBSize())
	assert.GreaterOrEqual(t, OOBSize(), unix.CmsgLen(scmTimestampingSize))
}

func TestTimestampingString(t *testing.T) {
	assert.Equal(t, "none", Timestamping(0).String())
	assert.Equal(t, "rx_software|software", (TimestampingSoftware | TimestampingRxSoftware).String())
	assert.Equal(t, "raw_hardware|0x100", (TimestampingRawHardware | 0x100).String())
	assert.True(t, (TimestampingSoftware | TimestampingRxSoftware).Has(TimestampingSoftware))
	assert.False(t, TimestampingSoftware.Has(TimestampingSoftware|TimestampingRawHardware))
}
