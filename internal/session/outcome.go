package session

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/coraltel/audiohookbridge/internal/audiohook"
)

// summaryRequestTimeout bounds how long the Controller waits for the
// provider's end-of-call structured summary before giving up.
const summaryRequestTimeout = 10 * time.Second

// disconnectSendTimeout bounds the disconnect frame's own write.
const disconnectSendTimeout = 5 * time.Second

// summaryResponse mirrors the shape of the provider's ending-analysis
// response.done payload: a single text output item carrying the model's
// JSON-encoded summary.
type summaryResponse struct {
	Response struct {
		Output []struct {
			Text    string `json:"text"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	} `json:"response"`
}

// requestSummaryText asks the active provider session for its end-of-call
// summary and extracts the raw text payload. Returns "" if there is no
// active session, the request fails, or it times out.
func (c *Controller) requestSummaryText(ctx context.Context) string {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return ""
	}

	reqCtx, cancel := context.WithTimeout(ctx, summaryRequestTimeout)
	defer cancel()

	raw, err := sess.RequestSummary(reqCtx, c.cfg.Prompts.EndingAnalysis, c.cfg.Prompts.EndingTemperature)
	if err != nil {
		c.logger.Warn("session: end-of-call summary request failed", "err", err)
		return ""
	}
	return extractSummaryText(raw)
}

// requestSummaryRaw wraps requestSummaryText for use in the "closed"
// response, which carries the summary as a raw JSON value rather than a
// plain string.
func (c *Controller) requestSummaryRaw(ctx context.Context) json.RawMessage {
	text := c.requestSummaryText(ctx)
	if text == "" {
		return nil
	}
	encoded, err := json.Marshal(text)
	if err != nil {
		return nil
	}
	return encoded
}

// extractSummaryText pulls the first output item's text out of a
// response.done payload, checking both the top-level "text" field and the
// nested "content[0].text" shape different response modalities use.
func extractSummaryText(raw []byte) string {
	var resp summaryResponse
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.Response.Output) == 0 {
		return ""
	}
	out := resp.Response.Output[0]
	if out.Text != "" {
		return out.Text
	}
	if len(out.Content) > 0 {
		return out.Content[0].Text
	}
	return ""
}

// disconnectCarrier sends the final "disconnect" frame, carrying the
// end-of-call summary, call duration, and token-usage output variables,
// then tears the session down.
func (c *Controller) disconnectCarrier(reason, info string) {
	ctx := context.Background()
	summary := c.requestSummaryText(ctx)

	sendCtx, cancel := context.WithTimeout(ctx, disconnectSendTimeout)
	defer cancel()

	if err := c.conn.SendDisconnect(sendCtx, audiohook.DisconnectParams{
		Reason:          reason,
		Info:            info,
		OutputVariables: c.buildOutputVariables(summary),
	}); err != nil {
		c.logger.Error("session: failed to send disconnect", "err", err)
	}
}

// buildOutputVariables assembles the disconnect frame's outputVariables map:
// the JSON-encoded summary (or "" if none was generated), the call
// duration in seconds, and the six provider token counters, all as strings
// per the AudioHook wire format.
func (c *Controller) buildOutputVariables(summary string) map[string]string {
	vars := map[string]string{
		"CONVERSATION_SUMMARY":  jsonStringOrEmpty(summary),
		"CONVERSATION_DURATION": strconv.FormatFloat(time.Since(c.startedAt).Seconds(), 'f', -1, 64),
	}

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return vars
	}

	usage := sess.Usage()
	vars["TOTAL_INPUT_TEXT_TOKENS"] = strconv.FormatInt(usage.InputTextTokens, 10)
	vars["TOTAL_INPUT_CACHED_TEXT_TOKENS"] = strconv.FormatInt(usage.InputCachedTextTokens, 10)
	vars["TOTAL_INPUT_AUDIO_TOKENS"] = strconv.FormatInt(usage.InputAudioTokens, 10)
	vars["TOTAL_INPUT_CACHED_AUDIO_TOKENS"] = strconv.FormatInt(usage.InputCachedAudioTokens, 10)
	vars["TOTAL_OUTPUT_TEXT_TOKENS"] = strconv.FormatInt(usage.OutputTextTokens, 10)
	vars["TOTAL_OUTPUT_AUDIO_TOKENS"] = strconv.FormatInt(usage.OutputAudioTokens, 10)
	return vars
}

// jsonStringOrEmpty JSON-encodes text (so embedded quotes/newlines survive
// transit as a CONVERSATION_SUMMARY value), or returns "" if text is empty.
func jsonStringOrEmpty(text string) string {
	if text == "" {
		return ""
	}
	encoded, err := json.Marshal(text)
	if err != nil {
		return ""
	}
	return string(encoded)
}
