package session

import (
	"context"
	"time"

	"github.com/coraltel/audiohookbridge/internal/audiohook"
	"github.com/coraltel/audiohookbridge/internal/tooldispatch"
	"github.com/coraltel/audiohookbridge/pkg/provider/realtime"
)

// farewellDrainTimeout bounds how long the Controller waits for the
// downlink pacer to finish emptying the farewell's queued audio before
// sending the carrier disconnect frame.
const farewellDrainTimeout = 5 * time.Second

// drainPollInterval is how often the farewell wait-loop checks pacer depth.
const drainPollInterval = 20 * time.Millisecond

// wireProviderCallbacks registers the barge-in and response-completion
// handlers that drive the call-control tool-call ordering invariant:
// tool-result acknowledgement, then a spoken farewell, then — only once the
// farewell's own response.done arrives — the disconnect frame.
func (c *Controller) wireProviderCallbacks(sess realtime.SessionHandle, dispatcher *tooldispatch.Dispatcher) {
	sess.OnSpeechStarted(func() {
		c.mu.Lock()
		dl := c.disp
		c.mu.Unlock()
		if dl != nil {
			dl.pacer.Interrupt()
		}
		_ = sess.Interrupt()
		_ = c.conn.SendEvent(context.Background(), audiohook.EventParams{
			Entities: []audiohook.EventEntity{{Type: "barge_in"}},
		})
	})

	sess.OnResponseDone(func(metadata map[string]any, raw []byte) {
		if metadata["type"] == "final_farewell" {
			c.finishFarewell()
			return
		}

		req, ok := dispatcher.Pending()
		if !ok {
			return
		}

		c.mu.Lock()
		c.pendingDisconnect = &req
		c.mu.Unlock()

		if err := sess.RequestFarewell(c.farewellInstructions(req)); err != nil {
			c.logger.Error("session: failed to request farewell", "err", err)
			c.finishFarewell()
		}
	})
}

// farewellInstructions selects the configured farewell text for the
// disconnect action the model requested.
func (c *Controller) farewellInstructions(req tooldispatch.DisconnectRequest) string {
	switch req.Action {
	case tooldispatch.ActionHandoff:
		if c.cfg.Prompts.EscalationInstructions != "" {
			return c.cfg.Prompts.EscalationInstructions
		}
		return "Briefly tell the caller you are transferring them to a human agent, then stop."
	default:
		if c.cfg.Prompts.SuccessInstructions != "" {
			return c.cfg.Prompts.SuccessInstructions
		}
		return "Briefly say goodbye to the caller, then stop."
	}
}

// finishFarewell waits for the downlink pacer to drain the farewell's
// queued audio (best effort, bounded by farewellDrainTimeout) and then
// disconnects the carrier call.
func (c *Controller) finishFarewell() {
	c.mu.Lock()
	dl := c.disp
	req := c.pendingDisconnect
	c.pendingDisconnect = nil
	c.mu.Unlock()

	if req == nil {
		return
	}

	if dl != nil {
		deadline := time.Now().Add(farewellDrainTimeout)
		for dl.pacer.Len() > 0 && time.Now().Before(deadline) {
			time.Sleep(drainPollInterval)
		}
	}

	c.disconnectCarrier(req.Reason, req.Info)
}
