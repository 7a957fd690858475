package session

import (
	"context"
	"time"

	"github.com/coraltel/audiohookbridge/internal/audiohook"
	"github.com/coraltel/audiohookbridge/internal/iso8601"
)

// handleError processes an inbound "error" message. Only code 429 (rate
// limit) triggers any action; other codes are logged and otherwise
// ignored, matching the engine's error-kind taxonomy where only rate
// limiting carries a defined recovery path.
func (c *Controller) handleError(ctx context.Context, env *audiohook.Envelope) error {
	var params audiohook.ErrorParams
	if err := audiohook.DecodeParams(env, &params); err != nil {
		return err
	}

	if params.Code != 429 {
		c.logger.Warn("session: carrier reported an error", "code", params.Code, "message", params.Message)
		return nil
	}

	retryAfter := c.resolveRetryAfter(params.RetryAfter)
	delay, ok := c.backoff.Retry(retryAfter)
	if !ok {
		c.logger.Error("session: carrier rate limit retry budget exhausted, ending call")
		return c.conn.SendDisconnect(ctx, audiohook.DisconnectParams{
			Reason: "error",
			Info:   "rate limit max retries exceeded",
		})
	}

	c.logger.Warn("session: carrier rate limited", "delay", delay)
	c.mu.Lock()
	c.pausedByErr = true
	c.mu.Unlock()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	c.pausedByErr = false
	c.mu.Unlock()
	return nil
}

// resolveRetryAfter determines the backoff delay for a carrier 429,
// preferring the carrier-supplied retryAfter parameter (ISO-8601 duration
// or bare seconds) over the phase-table default. Unlike the original
// implementation this server role has no outbound HTTP response headers of
// its own to fall back to — the carrier is the one establishing the
// WebSocket connection to us, so an HTTP-header-based Retry-After never
// applies here, and the phase table is the only fallback.
func (c *Controller) resolveRetryAfter(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	seconds, err := iso8601.ParseDuration(raw)
	if err != nil {
		c.logger.Warn("session: failed to parse carrier retryAfter", "raw", raw, "err", err)
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
