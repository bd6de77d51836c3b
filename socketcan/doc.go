// Package socketcan implements Linux CAN_RAW sockets carrying classic CAN and
// CAN FD frames.
//
// Socket is the blocking flavour: every method is one system call on the
// caller's goroutine. AsyncSocket hands the descriptor to the Go runtime
// poller and waits for readiness instead of blocking a thread; its methods
// take a context for cancellation.
//
// Errors from the kernel are returned wrapped in *os.SyscallError (or with
// %w) so errors.Is(err, unix.EAGAIN), unix.ENODEV or unix.EINVAL work as
// expected. Nothing in this package logs.
package socketcan
