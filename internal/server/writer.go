package server

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/hub"
	"github.com/kstaniek/go-socketcan/internal/metrics"
	"github.com/kstaniek/go-socketcan/internal/transport"
)

// startWriter launches the goroutine pushing hub frames to a single client
// connection. Frames are batched until batchSize or the flush tick.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.dropClient(cl)
			s.stats.disconnected.Add(1)
			logger.Info("client_disconnected", "dropped", cl.Dropped())
		}()
		enc, ok := s.Codec.(transport.FrameBatchEncoder)
		if !ok {
			logger.Error("codec_cannot_encode")
			return
		}
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]can.Frame, 0, s.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n := len(batch)
			_, err := enc.EncodeTo(conn, batch)
			clear(batch)
			batch = batch[:0]
			if err != nil {
				return s.fail(fmt.Errorf("%w: %w", ErrConnWrite, err))
			}
			metrics.AddTCPTx(n)
			return nil
		}
		for {
			select {
			case fr := <-cl.Out:
				batch = append(batch, fr)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						logger.Debug("client_write_error", "error", err)
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					logger.Debug("client_write_error", "error", err)
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}
