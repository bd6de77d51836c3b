package socketcan

import "errors"

var (
	// ErrWriteTruncated is returned when write(2) accepted fewer bytes than the frame size.
	ErrWriteTruncated = errors.New("socketcan: write truncated")
	// ErrClosed is returned by operations on a closed socket.
	ErrClosed = errors.New("socketcan: socket closed")
	// ErrUnsupported is returned on platforms without SocketCAN.
	ErrUnsupported = errors.New("socketcan: unsupported platform")
)
