//go:build linux

package socketcan

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-socketcan/can"
)

// Socket is a CAN_RAW socket bound to one interface. It owns its descriptor
// and closes it exactly once.
//
// Options may be changed at any time after Bind. A Socket is safe for one
// receiving and one sending goroutine at a time; Close must not race with
// other calls.
type Socket struct {
	fd        int
	closeOnce sync.Once
	closed    atomic.Bool
}

// Bind opens a CAN_RAW socket and binds it to the named interface (e.g. "can0").
// An unknown interface yields an error matching unix.ENODEV.
func Bind(ifname string) (*Socket, error) {
	ifindex, err := interfaceIndex(ifname)
	if err != nil {
		return nil, fmt.Errorf("if %q: %w", ifname, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifindex}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", ifname, err)
	}
	return NewSocket(fd), nil
}

// NewSocket adopts an already open descriptor. The Socket takes ownership.
func NewSocket(fd int) *Socket { return &Socket{fd: fd} }

// interfaceIndex resolves ifname with SIOCGIFINDEX on a throwaway socket.
func interfaceIndex(ifname string) (int, error) {
	if strings.IndexByte(ifname, 0) >= 0 {
		return 0, unix.EINVAL
	}
	ifr, err := unix.NewIfreq(ifname)
	if err != nil {
		return 0, err
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifr); err != nil {
		return 0, err
	}
	return int(ifr.Uint32()), nil
}

// Fd returns the underlying descriptor, or -1 once closed.
func (s *Socket) Fd() int {
	if s.closed.Load() {
		return -1
	}
	return s.fd
}

// Close closes the descriptor. Only the first call does anything; later
// calls return ErrClosed.
func (s *Socket) Close() error {
	err := ErrClosed
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = unix.Close(s.fd)
	})
	return err
}

// release gives up ownership of the descriptor without closing it.
func (s *Socket) release() (int, error) {
	fd, err := -1, ErrClosed
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		fd, err = s.fd, nil
	})
	return fd, err
}

func (s *Socket) sysfd() (int, error) {
	if s.closed.Load() {
		return -1, ErrClosed
	}
	return s.fd, nil
}

func (s *Socket) with(fn func(fd int) error) error {
	fd, err := s.sysfd()
	if err != nil {
		return err
	}
	return fn(fd)
}

// SetNonblocking toggles O_NONBLOCK. In non-blocking mode Recv and Send fail
// with unix.EAGAIN instead of waiting.
func (s *Socket) SetNonblocking(on bool) error {
	return s.with(func(fd int) error {
		return os.NewSyscallError("setnonblock", unix.SetNonblock(fd, on))
	})
}

// SetFDFrames enables reception and transmission of CAN FD frames. While
// disabled, sending an FD frame fails with unix.EINVAL.
func (s *Socket) SetFDFrames(on bool) error {
	return s.with(func(fd int) error { return setFDFrames(fd, on) })
}

// SetRecvOwnMsgs makes the socket receive the frames it sent itself.
func (s *Socket) SetRecvOwnMsgs(on bool) error {
	return s.with(func(fd int) error { return setRecvOwnMsgs(fd, on) })
}

// SetLoopback controls whether sent frames are echoed to other sockets on
// this host (enabled by default).
func (s *Socket) SetLoopback(on bool) error {
	return s.with(func(fd int) error { return setLoopback(fd, on) })
}

// SetTimestamping sets SO_TIMESTAMPING. Timestamps are delivered through RecvMsg.
func (s *Socket) SetTimestamping(flags Timestamping) error {
	return s.with(func(fd int) error { return setTimestamping(fd, flags) })
}

// SetFilters replaces the receive filter list. An empty list receives nothing.
func (s *Socket) SetFilters(filters []Filter) error {
	return s.with(func(fd int) error { return setFilters(fd, filters) })
}

// SetErrorFilter selects which error classes are delivered as can.ErrorFrame.
func (s *Socket) SetErrorFilter(mask uint32) error {
	return s.with(func(fd int) error { return setErrorFilter(fd, mask) })
}

// Recv reads one frame. Only whole frames are ever returned; a read of any
// size other than can.MTU or can.FDMTU fails with can.ErrUnrecognizedFrameSize.
func (s *Socket) Recv() (can.Frame, error) {
	fd, err := s.sysfd()
	if err != nil {
		return nil, err
	}
	return recvFrame(fd)
}

// RecvMsg reads one frame together with its ancillary data. oob receives the
// control messages and must outlive the returned Cmsgs; OOBSize gives a size
// that fits a timestamp. When the kernel truncates the control data the frame
// is still returned and Cmsgs is empty.
func (s *Socket) RecvMsg(oob []byte) (can.Frame, Cmsgs, error) {
	fd, err := s.sysfd()
	if err != nil {
		return nil, Cmsgs{}, err
	}
	return recvMsg(fd, oob)
}

// Send writes one frame. FD frames require SetFDFrames(true).
func (s *Socket) Send(f can.Frame) error {
	fd, err := s.sysfd()
	if err != nil {
		return err
	}
	return sendFrame(fd, f)
}

func recvFrame(fd int) (can.Frame, error) {
	var buf [can.FDMTU]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return nil, os.NewSyscallError("read", err)
	}
	return can.Decode(buf[:n])
}

func recvMsg(fd int, oob []byte) (can.Frame, Cmsgs, error) {
	var buf [can.FDMTU]byte
	iov := unix.Iovec{Base: &buf[0]}
	iov.SetLen(len(buf))
	msg := unix.Msghdr{Iov: &iov}
	msg.SetIovlen(1)
	if len(oob) > 0 {
		msg.Control = &oob[0]
		msg.SetControllen(len(oob))
	}
	n, _, errno := unix.Syscall(unix.SYS_RECVMSG, uintptr(fd), uintptr(unsafe.Pointer(&msg)), 0)
	if errno != 0 {
		return nil, Cmsgs{}, os.NewSyscallError("recvmsg", errno)
	}
	f, err := can.Decode(buf[:n])
	if err != nil {
		return nil, Cmsgs{}, err
	}
	if msg.Flags&unix.MSG_CTRUNC != 0 || len(oob) == 0 {
		return f, Cmsgs{}, nil
	}
	return f, Cmsgs{buf: oob[:msg.Controllen]}, nil
}

func sendFrame(fd int, f can.Frame) error {
	var buf [can.FDMTU]byte
	b := f.AppendWire(buf[:0])
	n, err := unix.Write(fd, b)
	if err != nil {
		return os.NewSyscallError("write", err)
	}
	if n != len(b) {
		return fmt.Errorf("%w: %d of %d bytes", ErrWriteTruncated, n, len(b))
	}
	return nil
}
