//go:build linux

package socketcan

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-socketcan/can"
)

func asyncPair(t *testing.T) (*AsyncSocket, int) {
	t.Helper()
	s, peer := socketPair(t)
	a, err := NewAsyncSocket(s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, peer
}

type recvResult struct {
	f   can.Frame
	err error
}

func TestAsyncTakesOwnership(t *testing.T) {
	s, _ := socketPair(t)
	a, err := NewAsyncSocket(s)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, -1, s.Fd())
	_, err = s.Recv()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = NewAsyncSocket(s)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAsyncRecvSuspendsUntilReady(t *testing.T) {
	a, peer := asyncPair(t)
	want := can.NewFdDataFrame(can.ExtendedID(0x1234), false, true, make([]byte, 48))

	done := make(chan recvResult, 1)
	go func() {
		f, err := a.Recv(context.Background())
		done <- recvResult{f, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("Recv returned before data: %v %v", r.f, r.err)
	case <-time.After(50 * time.Millisecond):
	}

	writeFrame(t, peer, want)
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, want, r.f)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not wake up")
	}
}

func TestAsyncRecvCancelLeavesSocketUsable(t *testing.T) {
	a, peer := asyncPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := a.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	want := can.NewDataFrame(can.StandardID(0x10), []byte{1})
	writeFrame(t, peer, want)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	got, err := a.Recv(ctx2)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAsyncRecvAlreadyCancelled(t *testing.T) {
	a, peer := asyncPair(t)
	writeFrame(t, peer, can.NewDataFrame(can.StandardID(1), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Recv(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// the queued frame was not consumed
	got, err := a.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, can.NewDataFrame(can.StandardID(1), nil), got)
}

func TestAsyncSend(t *testing.T) {
	a, peer := asyncPair(t)
	want := can.NewRemoteFrame(can.StandardID(0x321), 2)
	require.NoError(t, a.Send(context.Background(), want))

	var buf [can.FDMTU]byte
	n, err := unix.Read(peer, buf[:])
	require.NoError(t, err)
	got, err := can.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAsyncSendWaitsForSpace(t *testing.T) {
	a, peer := asyncPair(t)
	f := can.NewDataFrame(can.StandardID(0x1), []byte{0xAA})

	// fill the peer's queue until a send has to wait
	var sent int
	for ; sent < 100000; sent++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err := a.Send(ctx, f)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			break
		}
		require.NoError(t, err)
	}
	require.Greater(t, sent, 0)

	done := make(chan error, 1)
	go func() { done <- a.Send(context.Background(), f) }()

	var buf [can.FDMTU]byte
	_, err := unix.Read(peer, buf[:])
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not resume after the queue drained")
	}
}

func TestAsyncRecvMsgKeepsBuffer(t *testing.T) {
	a, peer := asyncPair(t)
	want := can.NewDataFrame(can.StandardID(0x55), []byte{5, 5})
	oob := make([]byte, unix.CmsgSpace(4))

	type msgResult struct {
		f   can.Frame
		c   Cmsgs
		err error
	}
	done := make(chan msgResult, 1)
	go func() {
		f, c, err := a.RecvMsg(context.Background(), oob)
		done <- msgResult{f, c, err}
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, unix.Sendmsg(peer, can.Encode(want), unix.UnixRights(peer), nil, 0))

	var r msgResult
	select {
	case r = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RecvMsg did not wake up")
	}
	require.NoError(t, r.err)
	assert.Equal(t, want, r.f)

	m, ok := r.c.Next()
	require.True(t, ok)
	other := m.(OtherCmsg)
	require.Len(t, other.Data, 4)
	assert.Same(t, &oob[unix.CmsgLen(0)], &other.Data[0])
	_ = unix.Close(int(binary.NativeEndian.Uint32(other.Data)))
}

func TestAsyncSplitRefcount(t *testing.T) {
	a, peer := asyncPair(t)
	rx, tx := a.Split()
	rx2, tx2 := a.Split()
	assert.Same(t, rx, rx2)
	assert.Same(t, tx, tx2)

	require.NoError(t, rx.Close())
	assert.ErrorIs(t, rx.Close(), ErrClosed)
	_, err := rx.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	// the send half keeps the descriptor open
	require.NoError(t, tx.Send(context.Background(), can.NewDataFrame(can.StandardID(2), nil)))
	var buf [can.FDMTU]byte
	_, err = unix.Read(peer, buf[:])
	require.NoError(t, err)

	require.NoError(t, tx.Close())
	assert.ErrorIs(t, a.Send(context.Background(), can.NewDataFrame(can.StandardID(2), nil)), ErrClosed)
	assert.ErrorIs(t, a.Close(), ErrClosed)
}

func TestAsyncSplitHalvesConcurrently(t *testing.T) {
	a, peer := asyncPair(t)
	rx, tx := a.Split()
	defer rx.Close()
	defer tx.Close()

	done := make(chan recvResult, 1)
	go func() {
		f, err := rx.Recv(context.Background())
		done <- recvResult{f, err}
	}()

	out := can.NewDataFrame(can.StandardID(0x100), []byte{1, 2})
	require.NoError(t, tx.Send(context.Background(), out))
	var buf [can.FDMTU]byte
	n, err := unix.Read(peer, buf[:])
	require.NoError(t, err)
	require.Equal(t, can.MTU, n)

	in := can.NewDataFrame(can.StandardID(0x200), []byte{3})
	writeFrame(t, peer, in)
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, in, r.f)
	case <-time.After(2 * time.Second):
		t.Fatal("receive half did not wake up")
	}
}

func TestAsyncCloseWakesPendingRecv(t *testing.T) {
	a, _ := asyncPair(t)
	done := make(chan error, 1)
	go func() {
		_, err := a.Recv(context.Background())
		done <- err
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, a.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv not woken by Close")
	}
	assert.ErrorIs(t, a.SetFDFrames(true), ErrClosed)
	_, err := a.SyscallConn()
	assert.ErrorIs(t, err, ErrClosed)
}
