package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coraltel/audiohookbridge/pkg/provider/realtime"
)

// providerInputFormat/providerOutputFormat select the wire format negotiated
// with the provider based on the configured audio format. PCMU requires no
// transcoding since the carrier leg is already µ-law/8kHz; PCM16 is
// resampled in audio.go.
func (c *Controller) providerInputFormat() realtime.AudioFormat {
	if c.cfg.Provider.AudioFormat == "pcm16" {
		return realtime.AudioFormatPCM16
	}
	return realtime.AudioFormatPCMU
}

func (c *Controller) providerOutputFormat() realtime.AudioFormat {
	return c.providerInputFormat()
}

// connectProvider establishes a realtime session, retrying on a provider
// rate-limit response per the configured backoff schedule. The
// realtime.Provider/SessionHandle abstraction has no typed rate-limit
// error, so a 429 is detected by substring match on the returned error —
// the same signal the carrier-facing error handler matches on the wire.
func (c *Controller) connectProvider(ctx context.Context, cfg realtime.SessionConfig) (realtime.SessionHandle, error) {
	for {
		connectCtx, cancel := context.WithTimeout(ctx, providerConnectTimeout)
		sess, err := c.provider.Connect(connectCtx, cfg)
		cancel()
		if err == nil {
			c.backoff.Reset()
			return sess, nil
		}
		if !strings.Contains(err.Error(), "429") {
			return nil, fmt.Errorf("session: provider connect: %w", err)
		}

		delay, ok := c.backoff.Retry(0)
		if !ok {
			return nil, fmt.Errorf("session: provider connect: rate limited, retry budget exhausted: %w", err)
		}

		c.logger.Warn("session: provider rate limited during connect, backing off", "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
