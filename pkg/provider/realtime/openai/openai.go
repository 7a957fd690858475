// Package openai implements the realtime.Provider interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI
// Realtime endpoint and exchanges JSON events according to the Realtime
// API protocol. Audio is transmitted as base64-encoded chunks in the
// negotiated wire format (µ-law at 8kHz, or linear PCM16 when the session
// is configured for it); tool calls are surfaced via the ToolCallHandler
// callback. Mid-session updates (tools, interruption) are supported via
// session.update / response.cancel events; instructions are set once at
// Connect.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/coraltel/audiohookbridge/pkg/provider/realtime"
	"github.com/coraltel/audiohookbridge/pkg/types"
)

var _ realtime.Provider = (*Provider)(nil)
var _ realtime.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gpt-realtime"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	handshakeTimeout = 10 * time.Second
)

// ── Options ──────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ─────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() realtime.Capabilities {
	return realtime.Capabilities{
		MaxSessionDurationMs: 30 * 60 * 1000,
		Voices: []string{
			"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse",
		},
	}
}

// Connect establishes a new OpenAI Realtime session: dials the WebSocket,
// awaits session.created, issues session.update with the negotiated
// configuration, and awaits session.updated before returning.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.SessionHandle, error) {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		audioCh:  make(chan []byte, 64),
		ctx:      sessCtx,
		cancel:   sessCancel,
		model:    model,
		voice:    cfg.Voice,
		input:    cfg.InputFormat,
		output:   cfg.OutputFormat,
	}

	handshakeCtx, handshakeCancel := context.WithTimeout(ctx, handshakeTimeout)
	defer handshakeCancel()

	if err := sess.handshake(handshakeCtx, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session handshake failed")
		return nil, err
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Outgoing protocol message types ─────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Type              string          `json:"type"`
	Model             string          `json:"model,omitempty"`
	Instructions      string          `json:"instructions,omitempty"`
	OutputModalities  []string        `json:"output_modalities,omitempty"`
	Tools             []oaiTool       `json:"tools,omitempty"`
	ToolChoice        string          `json:"tool_choice,omitempty"`
	Temperature       float64         `json:"temperature,omitempty"`
	MaxOutputTokens   any             `json:"max_response_output_tokens,omitempty"`
	Audio             *audioParams    `json:"audio,omitempty"`
}

type audioParams struct {
	Input  *audioDirectionParams `json:"input,omitempty"`
	Output *audioDirectionParams `json:"output,omitempty"`
}

type audioDirectionParams struct {
	Format        *audioFormatParam `json:"format,omitempty"`
	TurnDetection *turnDetection    `json:"turn_detection,omitempty"`
	Voice         string            `json:"voice,omitempty"`
}

type audioFormatParam struct {
	Type string `json:"type"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type responseCreateMessage struct {
	Type     string           `json:"type"`
	Response *responseOptions `json:"response,omitempty"`
}

type responseOptions struct {
	Conversation     string         `json:"conversation,omitempty"`
	OutputModalities []string       `json:"output_modalities,omitempty"`
	Instructions     string         `json:"instructions,omitempty"`
	Temperature      float64        `json:"temperature,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ── Incoming protocol message types ─────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.output_audio.delta
	Delta string `json:"delta,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
	Code  any                `json:"code,omitempty"`

	// response.done
	Response json.RawMessage `json:"response,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    any    `json:"code,omitempty"`
	Message string `json:"message"`
}

// responseDone mirrors the subset of the OpenAI "response" object needed to
// detect function calls, extract usage, and report metadata to the session
// controller.
type responseDone struct {
	Output   []responseOutputItem `json:"output"`
	Content  []responseOutputItem `json:"content"`
	Metadata map[string]any       `json:"metadata"`
	Usage    responseUsage        `json:"usage"`
}

type responseOutputItem struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	CallID    string `json:"call_id"`
	Arguments string `json:"arguments"`
}

type responseUsage struct {
	InputTokenDetails struct {
		TextTokens        int64 `json:"text_tokens"`
		AudioTokens       int64 `json:"audio_tokens"`
		CachedTokens      int64 `json:"cached_tokens"`
		CachedTokenDetails struct {
			TextTokens  int64 `json:"text_tokens"`
			AudioTokens int64 `json:"audio_tokens"`
		} `json:"cached_tokens_details"`
	} `json:"input_token_details"`
	OutputTokenDetails struct {
		TextTokens  int64 `json:"text_tokens"`
		AudioTokens int64 `json:"audio_tokens"`
	} `json:"output_token_details"`
}

// ── session ──────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	model  string
	voice  string
	input  realtime.AudioFormat
	output realtime.AudioFormat

	audioCh chan []byte

	mu               sync.Mutex
	toolHandler      realtime.ToolCallHandler
	speechHandler    func()
	responseDoneFunc func(metadata map[string]any, raw []byte)
	errVal           error
	closed           bool
	usage            realtime.Usage

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// handshake sends session.update with cfg's parameters and blocks until
// session.updated (or a fatal error/timeout) is observed.
func (s *session) handshake(ctx context.Context, cfg realtime.SessionConfig) error {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("openai: reading session.created: %w", err)
	}
	var created serverEvent
	if err := json.Unmarshal(data, &created); err != nil {
		return fmt.Errorf("openai: decoding session.created: %w", err)
	}
	if created.Type == "error" {
		return fmt.Errorf("openai: handshake error: %s", errMessage(&created))
	}
	if created.Type != "session.created" {
		return fmt.Errorf("openai: expected session.created, got %q", created.Type)
	}

	update := sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Type:             "realtime",
			Model:            s.model,
			Instructions:     cfg.Instructions,
			OutputModalities: []string{"audio"},
			Tools:            toOAITools(cfg.Tools),
			ToolChoice:       "auto",
			Temperature:      cfg.Temperature,
			MaxOutputTokens:  maxOutputTokensValue(cfg.MaxOutputTokens),
			Audio: &audioParams{
				Input: &audioDirectionParams{
					Format:        &audioFormatParam{Type: string(cfg.InputFormat)},
					TurnDetection: &turnDetection{Type: "semantic_vad"},
				},
				Output: &audioDirectionParams{
					Format: &audioFormatParam{Type: string(cfg.OutputFormat)},
					Voice:  cfg.Voice,
				},
			},
		},
	}
	if err := s.writeJSON(update); err != nil {
		return fmt.Errorf("openai: sending session.update: %w", err)
	}

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("openai: reading session.updated: %w", err)
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		if evt.Type == "error" {
			return fmt.Errorf("openai: session.update rejected: %s", errMessage(&evt))
		}
		if evt.Type == "session.updated" {
			return nil
		}
	}
}

// maxOutputTokensValue returns "inf" for the unbounded sentinel (0) or the
// integer value otherwise, matching the Realtime API's accepted shapes.
func maxOutputTokensValue(n int) any {
	if n <= 0 {
		return "inf"
	}
	return n
}

func errMessage(evt *serverEvent) string {
	if evt.Error != nil && evt.Error.Message != "" {
		return evt.Error.Message
	}
	return "unknown error"
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them. It owns
// audioCh and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta", "response.output_audio.delta":
		if evt.Delta == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return
		}
		select {
		case s.audioCh <- audioData:
		case <-s.ctx.Done():
		}

	case "input_audio_buffer.speech_started":
		s.mu.Lock()
		handler := s.speechHandler
		s.mu.Unlock()
		if handler != nil {
			handler()
		}

	case "input_audio_buffer.speech_stopped":
		_ = s.writeJSON(map[string]string{"type": "input_audio_buffer.commit"})
		_ = s.writeJSON(responseCreateMessage{Type: "response.create"})

	case "response.done":
		s.handleResponseDone(evt)

	case "error":
		s.setErr(fmt.Errorf("openai: %s", errMessage(evt)))
	}
}

func (s *session) handleResponseDone(evt *serverEvent) {
	var resp responseDone
	if len(evt.Response) > 0 {
		_ = json.Unmarshal(evt.Response, &resp)
	}

	s.mu.Lock()
	s.usage = realtime.Usage{
		InputTextTokens:        resp.Usage.InputTokenDetails.TextTokens,
		InputCachedTextTokens:  resp.Usage.InputTokenDetails.CachedTokenDetails.TextTokens,
		InputAudioTokens:       resp.Usage.InputTokenDetails.AudioTokens,
		InputCachedAudioTokens: resp.Usage.InputTokenDetails.CachedTokenDetails.AudioTokens,
		OutputTextTokens:       resp.Usage.OutputTokenDetails.TextTokens,
		OutputAudioTokens:      resp.Usage.OutputTokenDetails.AudioTokens,
	}
	doneHandler := s.responseDoneFunc
	toolHandler := s.toolHandler
	s.mu.Unlock()

	items := resp.Output
	if len(items) == 0 {
		items = resp.Content
	}
	for _, item := range items {
		if item.Type != "function_call" || toolHandler == nil {
			continue
		}
		s.handleFunctionCall(item, toolHandler)
	}

	if doneHandler != nil {
		doneHandler(resp.Metadata, evt.Response)
	}
}

func (s *session) handleFunctionCall(item responseOutputItem, handler realtime.ToolCallHandler) {
	result, callErr := handler(item.Name, item.Arguments)
	if callErr != nil {
		result = fmt.Sprintf(`{"status":"error","error_type":"handler_error","message":%q}`, callErr.Error())
	}

	_ = s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: item.CallID,
			Output: result,
		},
	})
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.audioCh)
	})
}

func toOAITools(tools []types.ToolDefinition) []oaiTool {
	out := make([]oaiTool, len(tools))
	for i, t := range tools {
		out[i] = oaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// ── SessionHandle methods ────────────────────────────────────────────────

// SendAudio delivers a raw audio chunk in the negotiated input format.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(chunk)
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: encoded,
	})
}

// Audio returns the channel on which the model's synthesised audio arrives.
func (s *session) Audio() <-chan []byte { return s.audioCh }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// OnToolCall registers a handler invoked for function-call output items.
func (s *session) OnToolCall(handler realtime.ToolCallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolHandler = handler
}

// SetTools replaces the active tools by sending a session.update event.
func (s *session) SetTools(tools []types.ToolDefinition) error {
	return s.writeJSON(sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Type:       "realtime",
			Tools:      toOAITools(tools),
			ToolChoice: "auto",
		},
	})
}

// OnSpeechStarted registers a callback invoked on barge-in detection.
func (s *session) OnSpeechStarted(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speechHandler = handler
}

// OnResponseDone registers a callback invoked whenever a response completes.
func (s *session) OnResponseDone(handler func(metadata map[string]any, raw []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseDoneFunc = handler
}

// RequestSummary asks for a structured end-of-call summary tagged
// {"type": "ending_analysis"} and blocks until its response.done arrives.
// instructions carries the deployment's configured ending-analysis prompt
// (empty uses the model's own judgment of what to summarize); temperature
// of 0 leaves the session's negotiated sampling temperature in effect.
func (s *session) RequestSummary(ctx context.Context, instructions string, temperature float64) ([]byte, error) {
	result := make(chan []byte, 1)

	s.mu.Lock()
	prev := s.responseDoneFunc
	s.responseDoneFunc = func(metadata map[string]any, raw []byte) {
		if metadata["type"] == "ending_analysis" {
			select {
			case result <- raw:
			default:
			}
			return
		}
		if prev != nil {
			prev(metadata, raw)
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.responseDoneFunc = prev
		s.mu.Unlock()
	}()

	if err := s.writeJSON(responseCreateMessage{
		Type: "response.create",
		Response: &responseOptions{
			Conversation:     "none",
			OutputModalities: []string{"text"},
			Instructions:     instructions,
			Temperature:      temperature,
			Metadata:         map[string]any{"type": "ending_analysis"},
		},
	}); err != nil {
		return nil, err
	}

	select {
	case raw := <-result:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, fmt.Errorf("openai: session closed while awaiting summary")
	}
}

// RequestFarewell asks the model for one short closing utterance, tagged
// {"type": "final_farewell"} so the caller can correlate completion via
// OnResponseDone.
func (s *session) RequestFarewell(instructions string) error {
	return s.writeJSON(responseCreateMessage{
		Type: "response.create",
		Response: &responseOptions{
			Conversation:     "none",
			OutputModalities: []string{"audio"},
			Instructions:     instructions,
			Metadata:         map[string]any{"type": "final_farewell"},
		},
	})
}

// Interrupt sends response.cancel to stop the current model response.
func (s *session) Interrupt() error {
	return s.writeJSON(map[string]string{"type": "response.cancel"})
}

// Usage returns the token-usage counters from the most recently completed
// response.
func (s *session) Usage() realtime.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
