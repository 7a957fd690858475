// Package session implements the Session Controller: the state machine that
// drives one carrier call end-to-end, wiring the carrier-side AudioHook
// connection (internal/audiohook) to a model-provider realtime session
// (pkg/provider/realtime), with the downlink pacer, rate limiters, tool
// dispatch, and prompt composition in between.
//
// One Controller is created per accepted carrier WebSocket and lives for
// the lifetime of that call. It owns no global state and is not reused.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coraltel/audiohookbridge/internal/audiohook"
	"github.com/coraltel/audiohookbridge/internal/config"
	"github.com/coraltel/audiohookbridge/internal/mcp"
	"github.com/coraltel/audiohookbridge/internal/observe"
	"github.com/coraltel/audiohookbridge/internal/ratelimit"
	"github.com/coraltel/audiohookbridge/internal/tooldispatch"
	"github.com/coraltel/audiohookbridge/pkg/provider/realtime"
)

// carrierFrameSize is the fixed µ-law/8kHz frame size the downlink pacer
// emits: 20ms at 8000 samples/sec, one byte per sample.
const carrierFrameSize = 160

// muLawSilence is the µ-law encoding of silence, used to pad a short final
// frame.
const muLawSilence = 0xFF

// Controller drives a single carrier call. Exported methods are safe for
// concurrent use; Run must only be called once.
type Controller struct {
	conn     *audiohook.Conn
	provider realtime.Provider
	cfg      *config.Config
	mcpHost  mcp.Host
	metrics  *observe.Metrics
	logger   *slog.Logger

	msgBucket    *ratelimit.TokenBucket
	binaryBucket *ratelimit.TokenBucket
	backoff      *ratelimit.Backoff

	startedAt time.Time

	mu                sync.Mutex
	sess              realtime.SessionHandle
	dispatcher        *tooldispatch.Dispatcher
	disp              *downlink
	negotiated        audiohook.MediaDescriptor
	probe             bool
	closed            bool
	pausedByErr       bool
	pendingDisconnect *tooldispatch.DisconnectRequest
}

// Deps holds every dependency the Controller needs, assembled once per
// accepted connection by internal/bridge.
type Deps struct {
	Conn     *audiohook.Conn
	Provider realtime.Provider
	Config   *config.Config
	MCPHost  mcp.Host
	Metrics  *observe.Metrics
}

// New creates a Controller for a single accepted carrier connection.
func New(deps Deps) *Controller {
	cfg := deps.Config
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	return &Controller{
		conn:     deps.Conn,
		provider: deps.Provider,
		cfg:      cfg,
		mcpHost:  deps.MCPHost,
		metrics:  metrics,
		logger:   slog.Default().With("component", "session"),

		msgBucket:    ratelimit.NewTokenBucket(cfg.Carrier.MsgRateLimit, cfg.Carrier.MsgBurstLimit),
		binaryBucket: ratelimit.NewTokenBucket(cfg.Carrier.BinaryRateLimit, cfg.Carrier.BinaryBurstLimit),
		backoff:      ratelimit.NewBackoff(backoffPhases(cfg), cfg.Provider.MaxRetries),

		startedAt: time.Now(),
	}
}

// backoffPhases converts the configured rate-limit phase table to
// ratelimit.Phase values.
func backoffPhases(cfg *config.Config) []ratelimit.Phase {
	if len(cfg.Provider.RateLimitPhases) == 0 {
		return nil
	}
	phases := make([]ratelimit.Phase, len(cfg.Provider.RateLimitPhases))
	for i, p := range cfg.Provider.RateLimitPhases {
		phases[i] = ratelimit.Phase{
			Window: time.Duration(p.WindowSeconds * float64(time.Second)),
			Delay:  time.Duration(p.DelaySeconds * float64(time.Second)),
		}
	}
	return phases
}

// Run reads frames from the carrier connection until the connection closes
// or the call ends, dispatching each one to the appropriate handler. It
// returns nil on a clean shutdown and a non-nil error only for transport
// failures the caller should log.
func (c *Controller) Run(ctx context.Context) error {
	defer c.teardown()

	c.logger.Info("session started", "session_id", c.conn.SessionID())
	c.metrics.ActiveSessions.Add(ctx, 1)
	defer c.metrics.ActiveSessions.Add(ctx, -1)

	for {
		msg, err := c.conn.Receive(ctx)
		if err != nil {
			return fmt.Errorf("session: receive: %w", err)
		}

		if msg.Binary != nil {
			c.handleBinary(ctx, msg.Binary)
			continue
		}

		done, err := c.handleEnvelope(ctx, msg.Envelope)
		if err != nil {
			c.logger.Error("session: envelope handling failed", "type", msg.Envelope.Type, "err", err)
		}
		if done {
			return nil
		}
	}
}

// handleEnvelope dispatches a single inbound control message. done is true
// once the call has fully ended and Run should stop reading.
func (c *Controller) handleEnvelope(ctx context.Context, env *audiohook.Envelope) (done bool, err error) {
	if !c.msgBucket.Allow() {
		c.logger.Warn("session: carrier JSON rate limit exceeded, dropping message", "type", env.Type)
		return false, nil
	}

	switch env.Type {
	case audiohook.TypeOpen:
		return false, c.handleOpen(ctx, env)
	case audiohook.TypePing:
		return false, c.conn.SendPong(ctx)
	case audiohook.TypeClose:
		c.handleClose(ctx, env)
		return true, nil
	case audiohook.TypeError:
		return false, c.handleError(ctx, env)
	case audiohook.TypeUpdate, audiohook.TypeResume, audiohook.TypePause:
		// Advisory messages the engine does not act on.
		return false, nil
	default:
		c.logger.Debug("session: ignoring unrecognized message type", "type", env.Type)
		return false, nil
	}
}

// handleClose replies "closed" (carrying an end-of-call summary when a
// provider session is active) and tears down the provider session.
func (c *Controller) handleClose(ctx context.Context, env *audiohook.Envelope) {
	var params audiohook.CloseParams
	_ = audiohook.DecodeParams(env, &params)
	c.logger.Info("session: carrier close", "reason", params.Reason)

	summary := c.requestSummaryRaw(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	if err := c.conn.SendClosed(closeCtx, audiohook.ClosedParams{Summary: summary}); err != nil {
		c.logger.Error("session: failed to send closed", "err", err)
	}
}

// teardown releases the provider session, dispatcher, and downlink
// goroutine. Safe to call more than once.
func (c *Controller) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sess := c.sess
	disp := c.dispatcher
	dl := c.disp
	c.mu.Unlock()

	if dl != nil {
		dl.stop()
	}
	if disp != nil {
		disp.Close()
	}
	if sess != nil {
		_ = sess.Close()
	}

	c.logger.Info("session ended", "session_id", c.conn.SessionID(), "duration", time.Since(c.startedAt))
}
