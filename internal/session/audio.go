package session

import (
	"context"
	"log/slog"

	"github.com/coraltel/audiohookbridge/internal/pacer"
	"github.com/coraltel/audiohookbridge/pkg/audio"
	"github.com/coraltel/audiohookbridge/pkg/provider/realtime"
)

// handleBinary forwards one carrier-originated µ-law/8kHz audio frame to
// the active provider session, applying the carrier's binary rate limit
// and transcoding to linear PCM16 first when the provider leg is
// configured for it.
func (c *Controller) handleBinary(ctx context.Context, frame []byte) {
	if !c.binaryBucket.Allow() {
		c.logger.Debug("session: carrier binary rate limit exceeded, dropping frame")
		return
	}

	c.mu.Lock()
	sess := c.sess
	probe := c.probe
	c.mu.Unlock()

	if probe || sess == nil {
		return
	}

	c.metrics.FramesReceived.Add(ctx, 1)

	payload := frame
	if c.cfg.Provider.AudioFormat == "pcm16" {
		pcm16 := audio.MulawToPCM16(frame)
		payload = audio.ResampleMono16(pcm16, 8000, c.cfg.Provider.PCM16UplinkRate)
	}

	if err := sess.SendAudio(payload); err != nil {
		c.logger.Warn("session: failed to forward audio to provider", "err", err)
	}
}

// pacerLimiter adapts the Controller's binary rate limiter and carrier-429
// backoff pause into the pacer.Limiter interface: while the controller is
// paused for a carrier rate-limit backoff, no downlink frame is granted,
// regardless of token-bucket state.
type pacerLimiter struct {
	c *Controller
}

func (l pacerLimiter) Allow() bool {
	l.c.mu.Lock()
	paused := l.c.pausedByErr
	l.c.mu.Unlock()
	if paused {
		return false
	}
	return l.c.binaryBucket.Allow()
}

// downlink paces the provider's synthesised audio back to the carrier
// through a bounded FIFO, so the provider's bursty delivery never outruns
// the carrier's fixed 20ms-per-frame cadence.
type downlink struct {
	pacer  *pacer.Pacer
	cancel context.CancelFunc
	done   chan struct{}
}

// stop halts the pacer's run loop and waits for it to return.
func (d *downlink) stop() {
	d.pacer.Stop()
	d.cancel()
	<-d.done
}

// startDownlink creates the pacer bound to this controller's carrier
// connection and binary rate limiter, then launches two goroutines: one
// draining sess.Audio() into the pacer's queue (transcoding PCM16 back to
// µ-law first if configured), and the pacer's own Run loop.
func (c *Controller) startDownlink(sess realtime.SessionHandle) {
	ctx, cancel := context.WithCancel(context.Background())

	p := pacer.New(pacer.Config{
		FrameSize:    carrierFrameSize,
		SilenceByte:  muLawSilence,
		Capacity:     c.cfg.Pacer.MaxBufferSize,
		SendInterval: durationFromSeconds(c.cfg.Pacer.FrameSendIntervalSeconds),
		Limiter:      pacerLimiter{c: c},
		Send: func(f []byte) error {
			if err := c.conn.SendAudioFrame(ctx, f); err != nil {
				return err
			}
			c.metrics.FramesSent.Add(ctx, 1)
			return nil
		},
	})

	done := make(chan struct{})
	dl := &downlink{pacer: p, cancel: cancel, done: done}

	c.mu.Lock()
	c.disp = dl
	c.mu.Unlock()

	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			slog.Warn("session: downlink pacer stopped", "err", err)
		}
	}()

	go c.drainProviderAudio(ctx, sess, p)
}

// drainProviderAudio reads synthesised audio chunks from sess until the
// channel closes (session end or mid-stream error) or ctx is cancelled,
// enqueuing each one on the pacer after any necessary transcoding.
func (c *Controller) drainProviderAudio(ctx context.Context, sess realtime.SessionHandle, p *pacer.Pacer) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-sess.Audio():
			if !ok {
				if err := sess.Err(); err != nil {
					c.logger.Warn("session: provider audio stream ended with error", "err", err)
				}
				return
			}
			p.Enqueue(c.toCarrierAudio(chunk))
		}
	}
}

// toCarrierAudio converts a provider audio chunk back to µ-law/8kHz when
// the provider leg is configured for PCM16.
func (c *Controller) toCarrierAudio(chunk []byte) []byte {
	if c.cfg.Provider.AudioFormat != "pcm16" {
		return chunk
	}
	pcm8k := audio.ResampleMono16(chunk, c.cfg.Provider.PCM16DownlinkRate, 8000)
	return audio.PCM16ToMulaw(pcm8k)
}
