//go:build linux

package socketcan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-socketcan/can"
)

// AsyncSocket is a non-blocking CAN_RAW socket driven by the Go runtime
// poller. Recv, RecvMsg and Send park the calling goroutine until the
// descriptor is ready instead of blocking an OS thread.
//
// At most one Recv/RecvMsg and one Send may be in flight at a time. Use
// Split to hand the two directions to different goroutines.
type AsyncSocket struct {
	f  *os.File
	rc syscall.RawConn

	closeOnce sync.Once
	closed    atomic.Bool

	splitOnce sync.Once
	refs      atomic.Int32
	rx        *RecvHalf
	tx        *SendHalf
}

// NewAsyncSocket switches s to non-blocking mode and registers its descriptor
// with the runtime poller. Ownership of the descriptor moves to the returned
// AsyncSocket; s must not be used afterwards.
func NewAsyncSocket(s *Socket) (*AsyncSocket, error) {
	if err := s.SetNonblocking(true); err != nil {
		return nil, err
	}
	fd, err := s.release()
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(fd), "socketcan")
	if f == nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("socketcan: invalid descriptor %d", fd)
	}
	rc, err := f.SyscallConn()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &AsyncSocket{f: f, rc: rc}, nil
}

// BindAsync is Bind followed by NewAsyncSocket.
func BindAsync(ifname string) (*AsyncSocket, error) {
	s, err := Bind(ifname)
	if err != nil {
		return nil, err
	}
	a, err := NewAsyncSocket(s)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return a, nil
}

// SyscallConn exposes the descriptor for raw option access.
func (a *AsyncSocket) SyscallConn() (syscall.RawConn, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	return a.rc, nil
}

// Close closes the descriptor, waking any pending operation. Later calls
// return ErrClosed.
func (a *AsyncSocket) Close() error {
	err := ErrClosed
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		err = a.f.Close()
	})
	return err
}

func (a *AsyncSocket) unref() error {
	if a.refs.Add(-1) != 0 {
		return nil
	}
	if err := a.Close(); !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

func (a *AsyncSocket) control(fn func(fd int) error) error {
	if a.closed.Load() {
		return ErrClosed
	}
	var opErr error
	if err := a.rc.Control(func(fd uintptr) { opErr = fn(int(fd)) }); err != nil {
		return err
	}
	return opErr
}

// SetFDFrames enables CAN FD frames. See Socket.SetFDFrames.
func (a *AsyncSocket) SetFDFrames(on bool) error {
	return a.control(func(fd int) error { return setFDFrames(fd, on) })
}

// SetRecvOwnMsgs makes the socket receive its own frames.
func (a *AsyncSocket) SetRecvOwnMsgs(on bool) error {
	return a.control(func(fd int) error { return setRecvOwnMsgs(fd, on) })
}

// SetLoopback controls local echo of sent frames.
func (a *AsyncSocket) SetLoopback(on bool) error {
	return a.control(func(fd int) error { return setLoopback(fd, on) })
}

// SetTimestamping sets SO_TIMESTAMPING.
func (a *AsyncSocket) SetTimestamping(flags Timestamping) error {
	return a.control(func(fd int) error { return setTimestamping(fd, flags) })
}

// SetFilters replaces the receive filter list.
func (a *AsyncSocket) SetFilters(filters []Filter) error {
	return a.control(func(fd int) error { return setFilters(fd, filters) })
}

// SetErrorFilter selects the error classes delivered as frames.
func (a *AsyncSocket) SetErrorFilter(mask uint32) error {
	return a.control(func(fd int) error { return setErrorFilter(fd, mask) })
}

// Recv waits for and returns one frame. If ctx ends first, Recv returns
// ctx.Err() and no frame is consumed.
func (a *AsyncSocket) Recv(ctx context.Context) (can.Frame, error) {
	var f can.Frame
	err := a.do(ctx, false, func(fd int) (err error) {
		f, err = recvFrame(fd)
		return err
	})
	return f, err
}

// RecvMsg is Recv with ancillary data. The same oob buffer is used by every
// attempt.
func (a *AsyncSocket) RecvMsg(ctx context.Context, oob []byte) (can.Frame, Cmsgs, error) {
	var (
		f  can.Frame
		cm Cmsgs
	)
	err := a.do(ctx, false, func(fd int) (err error) {
		f, cm, err = recvMsg(fd, oob)
		return err
	})
	return f, cm, err
}

// Send waits until the socket is writable and writes f. If ctx ends first,
// Send returns ctx.Err() and nothing is written.
func (a *AsyncSocket) Send(ctx context.Context, f can.Frame) error {
	return a.do(ctx, true, func(fd int) error { return sendFrame(fd, f) })
}

// aLongTimeAgo is a deadline that has always passed.
var aLongTimeAgo = time.Unix(1, 0)

// do runs op inside RawConn.Read or RawConn.Write. op returning EAGAIN hands
// control back to the poller, which waits for the next readiness edge and
// calls op again. Cancellation expires the deadline of the same direction.
func (a *AsyncSocket) do(ctx context.Context, write bool, op func(fd int) error) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	wait, setDeadline := a.rc.Read, a.f.SetReadDeadline
	if write {
		wait, setDeadline = a.rc.Write, a.f.SetWriteDeadline
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = setDeadline(aLongTimeAgo)
		close(fired)
	})

	var opErr error
	err := wait(func(fd uintptr) bool {
		opErr = op(int(fd))
		return !errors.Is(opErr, unix.EAGAIN)
	})

	if !stop() {
		<-fired
		_ = setDeadline(time.Time{})
		if err != nil {
			return ctx.Err()
		}
	}
	if err != nil {
		if a.closed.Load() {
			return ErrClosed
		}
		return err
	}
	return opErr
}

// Split divides the socket into a receive and a send half that can be used
// from different goroutines. The descriptor is closed when both halves are
// closed, or when the AsyncSocket itself is closed. Repeated calls return
// the same halves.
func (a *AsyncSocket) Split() (*RecvHalf, *SendHalf) {
	a.splitOnce.Do(func() {
		a.refs.Add(2)
		a.rx = &RecvHalf{a: a}
		a.tx = &SendHalf{a: a}
	})
	return a.rx, a.tx
}

type half struct {
	once sync.Once
	done atomic.Bool
}

func (h *half) check() error {
	if h.done.Load() {
		return ErrClosed
	}
	return nil
}

func (h *half) close(a *AsyncSocket) error {
	err := ErrClosed
	h.once.Do(func() {
		h.done.Store(true)
		err = a.unref()
	})
	return err
}

// RecvHalf is the receiving side of a split AsyncSocket.
type RecvHalf struct {
	a *AsyncSocket
	h half
}

// Recv is AsyncSocket.Recv.
func (r *RecvHalf) Recv(ctx context.Context) (can.Frame, error) {
	if err := r.h.check(); err != nil {
		return nil, err
	}
	return r.a.Recv(ctx)
}

// RecvMsg is AsyncSocket.RecvMsg.
func (r *RecvHalf) RecvMsg(ctx context.Context, oob []byte) (can.Frame, Cmsgs, error) {
	if err := r.h.check(); err != nil {
		return nil, Cmsgs{}, err
	}
	return r.a.RecvMsg(ctx, oob)
}

// Close releases the receive half.
func (r *RecvHalf) Close() error { return r.h.close(r.a) }

// SendHalf is the sending side of a split AsyncSocket.
type SendHalf struct {
	a *AsyncSocket
	h half
}

// Send is AsyncSocket.Send.
func (s *SendHalf) Send(ctx context.Context, f can.Frame) error {
	if err := s.h.check(); err != nil {
		return err
	}
	return s.a.Send(ctx, f)
}

// Close releases the send half.
func (s *SendHalf) Close() error { return s.h.close(s.a) }
