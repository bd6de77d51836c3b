//go:build !linux

package socketcan

import (
	"context"

	"github.com/kstaniek/go-socketcan/can"
)

// Socket is unavailable outside Linux.
type Socket struct{}

// AsyncSocket is unavailable outside Linux.
type AsyncSocket struct{}

// Bind always fails with ErrUnsupported on this platform.
func Bind(string) (*Socket, error) { return nil, ErrUnsupported }

// BindAsync always fails with ErrUnsupported on this platform.
func BindAsync(string) (*AsyncSocket, error) { return nil, ErrUnsupported }

func (*Socket) Recv() (can.Frame, error) { return nil, ErrUnsupported }
func (*Socket) Send(can.Frame) error     { return ErrUnsupported }
func (*Socket) Close() error             { return ErrUnsupported }

func (*AsyncSocket) Recv(context.Context) (can.Frame, error) { return nil, ErrUnsupported }
func (*AsyncSocket) Send(context.Context, can.Frame) error   { return ErrUnsupported }
func (*AsyncSocket) SetFDFrames(bool) error                  { return ErrUnsupported }
func (*AsyncSocket) SetRecvOwnMsgs(bool) error               { return ErrUnsupported }
func (*AsyncSocket) Close() error                            { return ErrUnsupported }
