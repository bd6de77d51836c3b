package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/metrics"
	"github.com/kstaniek/go-socketcan/socketcan"
)

// busSocket is the part of socketcan.AsyncSocket the gateway uses.
type busSocket interface {
	Recv(ctx context.Context) (can.Frame, error)
	Send(ctx context.Context, f can.Frame) error
	SetFDFrames(on bool) error
	SetRecvOwnMsgs(on bool) error
	Close() error
}

// bindBus is a hook for tests.
var bindBus = func(ifname string) (busSocket, error) {
	s, err := socketcan.BindAsync(ifname)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// openBus binds the interface and applies the socket options from cfg.
func openBus(cfg *appConfig) (busSocket, error) {
	s, err := bindBus(cfg.canIf)
	if err != nil {
		return nil, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	if cfg.fdFrames {
		if err := s.SetFDFrames(true); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("socketcan %s: enable fd frames: %w", cfg.canIf, err)
		}
	}
	if cfg.recvOwnMsgs {
		if err := s.SetRecvOwnMsgs(true); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("socketcan %s: recv own msgs: %w", cfg.canIf, err)
		}
	}
	return s, nil
}

type busHandle struct{ s busSocket }

// bus holds the current socket so the RX loop can replace it while the TX
// side keeps sending.
type bus struct {
	cfg *appConfig
	l   *slog.Logger
	cur atomic.Pointer[busHandle]
}

func newBus(cfg *appConfig, l *slog.Logger) (*bus, error) {
	s, err := openBus(cfg)
	if err != nil {
		return nil, err
	}
	b := &bus{cfg: cfg, l: l}
	b.cur.Store(&busHandle{s: s})
	l.Info("socketcan_open", "if", cfg.canIf, "fd", cfg.fdFrames, "recv_own_msgs", cfg.recvOwnMsgs)
	return b, nil
}

func (b *bus) socket() busSocket { return b.cur.Load().s }

func (b *bus) Recv(ctx context.Context) (can.Frame, error) { return b.socket().Recv(ctx) }

func (b *bus) Send(ctx context.Context, f can.Frame) error { return b.socket().Send(ctx, f) }

// reopen binds a fresh socket and closes the old one.
func (b *bus) reopen() error {
	s, err := openBus(b.cfg)
	if err != nil {
		return err
	}
	old := b.cur.Swap(&busHandle{s: s})
	_ = old.s.Close()
	metrics.IncReopen()
	b.l.Info("socketcan_reopen", "if", b.cfg.canIf)
	return nil
}

func (b *bus) Close() error { return b.socket().Close() }
