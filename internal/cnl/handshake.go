package cnl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

// Hello is the greeting both peers send before any frame.
const Hello = "CANNELLONIv1"

// ErrBadHello means the peer answered with something other than Hello.
var ErrBadHello = errors.New("cnl: bad hello")

// Handshake sends Hello and expects the same from the peer, concurrently so
// neither side waits on the other. The exchange must finish within timeout;
// cancelling ctx aborts it by expiring the connection deadline.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer c.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = c.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.WriteString(c, Hello)
		return err
	})
	g.Go(func() error {
		var buf [len(Hello)]byte
		if _, err := io.ReadFull(c, buf[:]); err != nil {
			return err
		}
		if string(buf[:]) != Hello {
			return fmt.Errorf("%w: %q", ErrBadHello, buf[:])
		}
		return nil
	})
	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	return nil
}
