package pacer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coraltel/audiohookbridge/internal/pacer"
)

// alwaysAllow is a [pacer.Limiter] that always grants a token.
type alwaysAllow struct{}

func (alwaysAllow) Allow() bool { return true }

// neverAllow is a [pacer.Limiter] that never grants a token.
type neverAllow struct{}

func (neverAllow) Allow() bool { return false }

// recordingSender collects every frame handed to Send.
type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *recordingSender) send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestEnqueue_SplitsIntoFixedSizeFrames(t *testing.T) {
	t.Parallel()
	p := pacer.New(pacer.Config{
		FrameSize: 4,
		Limiter:   alwaysAllow{},
		Send:      func([]byte) error { return nil },
	})

	p.Enqueue([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	if got := p.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2 (9 bytes / 4-byte frames = 2 complete frames + 1 byte partial)", got)
	}
}

func TestFlush_PadsPartialFrameWithSilence(t *testing.T) {
	t.Parallel()
	p := pacer.New(pacer.Config{
		FrameSize:   4,
		SilenceByte: 0xFF,
		Limiter:     alwaysAllow{},
		Send:        func([]byte) error { return nil },
	})

	p.Enqueue([]byte{1, 2})
	p.Flush()

	if got := p.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 after Flush", got)
	}
}

func TestFlush_NoOpWithoutPartialData(t *testing.T) {
	t.Parallel()
	p := pacer.New(pacer.Config{FrameSize: 4, Limiter: alwaysAllow{}, Send: func([]byte) error { return nil }})

	p.Flush()
	if got := p.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestEnqueue_DropsOldestOnOverflow(t *testing.T) {
	t.Parallel()
	p := pacer.New(pacer.Config{
		FrameSize: 1,
		Capacity:  2,
		Limiter:   alwaysAllow{},
		Send:      func([]byte) error { return nil },
	})

	p.Enqueue([]byte{1, 2, 3})
	if got := p.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2 (capacity bound)", got)
	}
}

func TestInterrupt_ClearsPartialAndQueue(t *testing.T) {
	t.Parallel()
	p := pacer.New(pacer.Config{FrameSize: 4, Limiter: alwaysAllow{}, Send: func([]byte) error { return nil }})

	p.Enqueue([]byte{1, 2, 3, 4, 5})
	p.Interrupt()

	if got := p.Len(); got != 0 {
		t.Errorf("Len() = %d after Interrupt, want 0", got)
	}
	p.Flush()
	if got := p.Len(); got != 0 {
		t.Errorf("Len() = %d after Flush following Interrupt, want 0 (partial should have been cleared)", got)
	}
}

func TestRun_EmitsQueuedFramesRespectingLimiter(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	p := pacer.New(pacer.Config{
		FrameSize:    1,
		TickInterval: time.Millisecond,
		SendInterval: time.Millisecond,
		Limiter:      alwaysAllow{},
		Send:         sender.send,
	})

	p.Enqueue([]byte{1, 2, 3})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := sender.count(); got != 3 {
		t.Fatalf("sender received %d frames, want 3", got)
	}
}

func TestRun_NeverEmitsWithoutLimiterToken(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	p := pacer.New(pacer.Config{
		FrameSize:    1,
		TickInterval: time.Millisecond,
		SendInterval: time.Millisecond,
		Limiter:      neverAllow{},
		Send:         sender.send,
	})
	p.Enqueue([]byte{1})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	if got := sender.count(); got != 0 {
		t.Errorf("sender received %d frames with a denying limiter, want 0", got)
	}
}

func TestStop_HaltsRunLoop(t *testing.T) {
	t.Parallel()
	p := pacer.New(pacer.Config{
		FrameSize:    1,
		TickInterval: time.Millisecond,
		Limiter:      alwaysAllow{},
		Send:         func([]byte) error { return nil },
	})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	p.Stop()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	// Stop must be idempotent.
	p.Stop()
}
