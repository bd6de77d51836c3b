package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-socketcan/can"
)

// ErrAsyncTxClosed is returned by SendFrame after Close.
var ErrAsyncTxClosed = errors.New("async tx closed")

// SendFunc transmits one frame. ctx is cancelled when the AsyncTx closes, so a
// send parked on a full socket buffer gives up instead of blocking shutdown.
type SendFunc func(ctx context.Context, fr can.Frame) error

// AsyncTx funnels frames from many producers into one sending goroutine.
// SendFrame never blocks: with the queue full it calls Hooks.OnDrop and
// returns that error, so TCP readers do not stall behind a busy bus.
//
//	tx := NewAsyncTx(ctx, 256, sock.Send, hooks)
//	defer tx.Close()
//	err := tx.SendFrame(fr)
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   SendFunc
	hooks  Hooks
	closed atomic.Bool
}

// Hooks let the caller attach metrics and logging to AsyncTx events. All are optional.
type Hooks struct {
	// OnSent runs after a frame was written.
	OnSent func(can.Frame)
	// OnError runs when the send function fails; the frame is discarded.
	OnError func(can.Frame, error)
	// OnDrop runs when the queue is full. Its result is returned by SendFrame;
	// a nil hook drops silently.
	OnDrop func(can.Frame) error
}

// NewAsyncTx starts the sending goroutine with a queue of buf frames.
func NewAsyncTx(parent context.Context, buf int, send SendFunc, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case fr, ok := <-a.ch:
			if !ok {
				return
			}
			a.deliver(fr)
		}
	}
}

func (a *AsyncTx) deliver(fr can.Frame) {
	if err := a.send(a.ctx, fr); err != nil {
		if a.hooks.OnError != nil && a.ctx.Err() == nil {
			a.hooks.OnError(fr, err)
		}
		return
	}
	if a.hooks.OnSent != nil {
		a.hooks.OnSent(fr)
	}
}

// SendFrame queues fr without blocking.
func (a *AsyncTx) SendFrame(fr can.Frame) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
	}
	if a.hooks.OnDrop != nil {
		return a.hooks.OnDrop(fr)
	}
	return nil
}

// Pending reports the number of queued frames.
func (a *AsyncTx) Pending() int { return len(a.ch) }

// Close stops the goroutine and waits for it. Queued frames are discarded.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
