// Package pacer decouples the model provider's bursty audio output from the
// carrier's fixed-frame-size, fixed-cadence downlink. Incoming PCM/µ-law
// bytes are split into carrier-sized frames and queued; a background loop
// emits one frame per tick once the configured inter-frame interval has
// elapsed and the binary rate limiter grants a token.
package pacer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Limiter gates frame emission, typically an [*ratelimit.TokenBucket] for
// the carrier's binary-audio bucket.
type Limiter interface {
	Allow() bool
}

// Sender transmits one carrier-sized audio frame downstream (the carrier
// WebSocket). A non-nil error stops the pacer's run loop.
type Sender func(frame []byte) error

// Config configures a [Pacer].
type Config struct {
	// FrameSize is the fixed number of bytes per outbound frame (e.g. 160
	// bytes for 20ms of 8kHz µ-law audio).
	FrameSize int

	// SilenceByte pads the final partial frame on Flush. For 8kHz µ-law,
	// 0xFF is silence.
	SilenceByte byte

	// Capacity bounds the number of queued whole frames. Overflow drops the
	// oldest queued frame. Defaults to 50.
	Capacity int

	// SendInterval is the minimum time between consecutive frame emissions.
	// Defaults to 150ms.
	SendInterval time.Duration

	// TickInterval is how often the run loop wakes to check whether a frame
	// is due. Defaults to 10ms.
	TickInterval time.Duration

	// Limiter grants or denies each emission attempt. Required.
	Limiter Limiter

	// Send transmits a dequeued frame. Required.
	Send Sender
}

const (
	defaultCapacity     = 50
	defaultSendInterval = 150 * time.Millisecond
	defaultTickInterval = 10 * time.Millisecond
)

// Pacer is a bounded FIFO of fixed-size audio frames paced by a send
// interval and a rate limiter. It is safe for concurrent use.
type Pacer struct {
	frameSize    int
	silenceByte  byte
	capacity     int
	sendInterval time.Duration
	tickInterval time.Duration
	limiter      Limiter
	send         Sender

	mu       sync.Mutex
	queue    [][]byte
	partial  []byte
	lastSend time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Pacer from cfg, applying defaults for zero-valued fields.
func New(cfg Config) *Pacer {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	sendInterval := cfg.SendInterval
	if sendInterval <= 0 {
		sendInterval = defaultSendInterval
	}
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}

	return &Pacer{
		frameSize:    cfg.FrameSize,
		silenceByte:  cfg.SilenceByte,
		capacity:     capacity,
		sendInterval: sendInterval,
		tickInterval: tickInterval,
		limiter:      cfg.Limiter,
		send:         cfg.Send,
		stopCh:       make(chan struct{}),
	}
}

// Enqueue appends chunk to the partial-frame accumulator and splits off any
// complete frames into the send queue. Overflow drops the oldest queued
// frame and logs a warning.
func (p *Pacer) Enqueue(chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.partial = append(p.partial, chunk...)
	for len(p.partial) >= p.frameSize {
		frame := make([]byte, p.frameSize)
		copy(frame, p.partial[:p.frameSize])
		p.partial = p.partial[p.frameSize:]
		p.pushLocked(frame)
	}
}

// pushLocked appends frame to the queue, dropping the oldest entry first if
// at capacity. Caller must hold mu.
func (p *Pacer) pushLocked(frame []byte) {
	if len(p.queue) >= p.capacity {
		p.queue = p.queue[1:]
		slog.Warn("pacer queue full, dropping oldest frame", "capacity", p.capacity)
	}
	p.queue = append(p.queue, frame)
}

// Flush pads any partial frame with SilenceByte to FrameSize and enqueues
// it, for use at end-of-turn when the final chunk is shorter than a full
// frame. A no-op if there is no pending partial data.
func (p *Pacer) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.partial) == 0 {
		return
	}
	frame := make([]byte, p.frameSize)
	copy(frame, p.partial)
	for i := len(p.partial); i < p.frameSize; i++ {
		frame[i] = p.silenceByte
	}
	p.partial = nil
	p.pushLocked(frame)
}

// Interrupt discards the pending partial frame and drains every queued
// frame without sending it, for use on barge-in when stale audio must not
// continue to play.
func (p *Pacer) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.partial = nil
	p.queue = nil
}

// Run blocks, emitting one frame per tick whenever the queue is non-empty,
// the send interval has elapsed since the last emission, and the limiter
// grants a token. Run returns when ctx is cancelled or Send returns an
// error.
func (p *Pacer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.tick(); err != nil {
				return err
			}
		}
	}
}

// tick attempts a single frame emission.
func (p *Pacer) tick() error {
	p.mu.Lock()
	if len(p.queue) == 0 || time.Since(p.lastSend) < p.sendInterval {
		p.mu.Unlock()
		return nil
	}
	if !p.limiter.Allow() {
		p.mu.Unlock()
		return nil
	}
	frame := p.queue[0]
	p.queue = p.queue[1:]
	p.lastSend = time.Now()
	p.mu.Unlock()

	return p.send(frame)
}

// Stop halts the Run loop. Safe to call multiple times.
func (p *Pacer) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// Len returns the number of complete frames currently queued.
func (p *Pacer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
