//go:build linux

package socketcan

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-socketcan/can"
)

// Tests in this file need a CAN interface (vcan works) named by CAN_TEST_IFNAME.
// Tests that put frames on the bus hold busMu exclusively so they do not see
// each other's traffic.
var busMu sync.RWMutex

func liveIfname(t *testing.T) string {
	t.Helper()
	name := os.Getenv("CAN_TEST_IFNAME")
	if name == "" {
		t.Skip("CAN_TEST_IFNAME not set")
	}
	return name
}

func bindLive(t *testing.T, id can.ID) *Socket {
	t.Helper()
	s, err := Bind(liveIfname(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.SetFilters([]Filter{{ID: id.Wire(), Mask: can.CAN_EFF_FLAG | can.CAN_RTR_FLAG | can.CAN_EFF_MASK}}))
	return s
}

func TestLiveBind(t *testing.T) {
	busMu.RLock()
	defer busMu.RUnlock()
	s, err := Bind(liveIfname(t))
	require.NoError(t, err)
	require.NoError(t, s.SetLoopback(true))
	require.NoError(t, s.SetErrorFilter(ErrClassBusOff|ErrClassCtrl))
	require.NoError(t, s.Close())
}

func TestLiveNonblocking(t *testing.T) {
	busMu.Lock()
	defer busMu.Unlock()
	s := bindLive(t, can.StandardID(0x7E1))
	require.NoError(t, s.SetNonblocking(true))
	_, err := s.Recv()
	assert.ErrorIs(t, err, unix.EAGAIN)
}

func TestLiveRecvOwnMsgs(t *testing.T) {
	busMu.Lock()
	defer busMu.Unlock()
	id := can.StandardID(0x7E2)
	s := bindLive(t, id)
	require.NoError(t, s.SetRecvOwnMsgs(true))

	want := can.NewDataFrame(id, []byte{0xC0, 0xFF, 0xEE})
	require.NoError(t, s.Send(want))
	got, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLiveFDFramesOffByDefault(t *testing.T) {
	busMu.Lock()
	defer busMu.Unlock()
	id := can.StandardID(0x7E3)
	s := bindLive(t, id)
	f := can.NewFdDataFrame(id, false, false, make([]byte, 12))
	assert.ErrorIs(t, s.Send(f), unix.EINVAL)

	require.NoError(t, s.SetFDFrames(true))
	require.NoError(t, s.SetRecvOwnMsgs(true))
	require.NoError(t, s.Send(f))
	got, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestLiveLoopbackToSecondSocket(t *testing.T) {
	busMu.Lock()
	defer busMu.Unlock()
	id := can.ExtendedID(0x1F0000E6)
	tx := bindLive(t, id)
	rx := bindLive(t, id)
	require.NoError(t, tx.SetLoopback(true))

	want := can.NewDataFrame(id, []byte{0xCA, 0xFE})
	require.NoError(t, tx.Send(want))
	got, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLiveFDBothEnds(t *testing.T) {
	busMu.Lock()
	defer busMu.Unlock()
	id := can.StandardID(0x7E5)
	tx := bindLive(t, id)
	rx := bindLive(t, id)
	require.NoError(t, tx.SetFDFrames(true))
	require.NoError(t, rx.SetFDFrames(true))

	want := can.NewFdDataFrame(id, true, false, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20})
	require.NoError(t, tx.Send(want))
	got, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, got.(can.FdDataFrame).Data(), 20)
}

func TestLiveSoftwareTimestamp(t *testing.T) {
	busMu.Lock()
	defer busMu.Unlock()
	id := can.StandardID(0x7E4)
	s := bindLive(t, id)
	require.NoError(t, s.SetRecvOwnMsgs(true))
	require.NoError(t, s.SetTimestamping(TimestampingRxSoftware|TimestampingSoftware))

	before := time.Now()
	require.NoError(t, s.Send(can.NewDataFrame(id, []byte{1})))
	oob := make([]byte, OOBSize())
	_, cmsgs, err := s.RecvMsg(oob)
	require.NoError(t, err)
	ts, ok := cmsgs.Timestamping()
	require.True(t, ok)
	assert.False(t, ts.SoftwareTime().Before(before.Add(-time.Second)))
}

func TestLiveAsyncRoundTrip(t *testing.T) {
	busMu.Lock()
	defer busMu.Unlock()
	id := can.ExtendedID(0x1F0000E5)
	s := bindLive(t, id)
	require.NoError(t, s.SetRecvOwnMsgs(true))
	a, err := NewAsyncSocket(s)
	require.NoError(t, err)
	rx, tx := a.Split()
	defer rx.Close()
	defer tx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	want := can.NewDataFrame(id, []byte{9, 8, 7})
	require.NoError(t, tx.Send(ctx, want))
	got, err := rx.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
