package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-socketcan/can"
)

type recordingSender struct {
	mu     sync.Mutex
	frames []can.Frame
	failAt int
}

func (r *recordingSender) Send(_ context.Context, f can.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.frames) == r.failAt {
		return errors.New("bus-off")
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestCounterFrame(t *testing.T) {
	f := counterFrame(can.StandardID(42), 0x0102030405060708)
	assert.Equal(t, "02A##00102030405060708", f.String())
	assert.Len(t, f.Data(), 8)
}

func TestSendCounterCounts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rs := &recordingSender{}
	done := make(chan error, 1)
	go func() { done <- sendCounter(ctx, rs, can.StandardID(42), time.Millisecond) }()

	require.Eventually(t, func() bool { return rs.count() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	for i, f := range rs.frames[:3] {
		assert.Equal(t, counterFrame(can.StandardID(42), uint64(i)), f)
	}
}

func TestSendCounterStopsOnError(t *testing.T) {
	rs := &recordingSender{failAt: 2}
	err := sendCounter(context.Background(), rs, can.StandardID(1), time.Millisecond)
	assert.EqualError(t, err, "bus-off")
	assert.Equal(t, 2, rs.count())
}
