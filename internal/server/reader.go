package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/hub"
	"github.com/kstaniek/go-socketcan/internal/metrics"
	"github.com/kstaniek/go-socketcan/internal/transport"
)

// startReader launches the goroutine decoding frames from one client and
// handing them to Send. After each blocking Decode it drains whatever else the
// same TCP segment carried without waiting for more bytes.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			cl.Close()
		}()
		br := bufio.NewReaderSize(conn, readBufferSize)
		bd, _ := s.Codec.(transport.BufferedDecoder)
		forward := func(fr can.Frame) { s.forward(fr, logger) }
		for {
			select {
			case <-ctxDone:
				return
			default:
			}
			// An idle timeout is only harmless on a frame boundary, so wait
			// for the first byte before decoding.
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			_, err := br.Peek(1)
			if err == nil {
				_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
				var fr can.Frame
				fr, err = s.Codec.Decode(br)
				if err == nil {
					forward(fr)
					if bd != nil {
						_, err = bd.DecodeBuffered(br, s.batchSize, forward)
					}
				}
				if err == nil {
					continue
				}
			} else if isTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			// a timeout reaching this point struck inside a frame
			logger.Warn("client_read_error", "error", s.fail(fmt.Errorf("%w: %w", ErrConnRead, err)))
			return
		}
	}()
}

// forward filters fr and passes it to Send. A full backend queue drops the
// frame; any other send error is recorded but keeps the client connected.
func (s *Server) forward(fr can.Frame, logger *slog.Logger) {
	if !s.accept(fr) {
		return
	}
	metrics.IncTCPRx()
	if s.Send == nil {
		return
	}
	err := s.Send(fr)
	switch {
	case err == nil:
	case errors.Is(err, ErrBackendOverflow):
		s.stats.backendOverflow.Add(1)
		logger.Debug("backend_overflow_drop", "can_id", fmt.Sprintf("0x%X", can.WireID(fr)), "kind", fr.Kind())
	default:
		s.stats.backendErr.Add(1)
		wrap := s.fail(fmt.Errorf("%w: %w", ErrBackendTx, err))
		logger.Error("backend_tx_error", "error", wrap, "can_id", fmt.Sprintf("0x%X", can.WireID(fr)))
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
