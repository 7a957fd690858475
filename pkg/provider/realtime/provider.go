// Package realtime defines the Provider interface for speech-to-speech
// realtime model backends used as the model-provider leg of the bridge.
//
// A realtime provider wraps a service that accepts raw audio input and
// returns synthesised audio output in a single, stateful session — the
// OpenAI Realtime API is the reference implementation. The central
// abstraction is SessionHandle: a bidirectional, multiplexed channel that
// carries audio and tool calls concurrently for the lifetime of one phone
// call.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"

	"github.com/coraltel/audiohookbridge/pkg/types"
)

// ToolCallHandler is a callback invoked by the session whenever the model
// requests a tool call. The handler receives the tool name and a
// JSON-encoded arguments string and must return either a result string (to
// be injected back into the session as tool output) or an error.
//
// The handler must not block for longer than necessary. It may be called
// from the session's internal receive goroutine — implementors must not
// call blocking session methods from within the handler to avoid deadlocks.
type ToolCallHandler func(name string, args string) (string, error)

// AudioFormat names the wire-level encoding of an audio stream negotiated
// with the provider.
type AudioFormat string

const (
	// AudioFormatPCMU is 8kHz mono µ-law — when used for both directions no
	// uplink/downlink transcoding is required.
	AudioFormatPCMU AudioFormat = "audio/pcmu"

	// AudioFormatPCM16 is linear PCM16, sample rate carried separately.
	AudioFormatPCM16 AudioFormat = "audio/pcm16"
)

// SessionConfig is the initial configuration for a new realtime session.
type SessionConfig struct {
	// Model is the provider's model identifier.
	Model string

	// Voice selects the synthesised voice.
	Voice string

	// Instructions is the composed system prompt (see internal/prompt).
	Instructions string

	// Temperature is the sampling temperature, already clamped to the
	// provider's legal range by the caller.
	Temperature float64

	// MaxOutputTokens is either a positive integer or 0 to mean "no limit"
	// (the provider's own unbounded default, e.g. OpenAI's "inf").
	MaxOutputTokens int

	// InputFormat/OutputFormat select the audio encoding on each leg.
	InputFormat  AudioFormat
	OutputFormat AudioFormat

	// Tools is the initial set of tool definitions offered to the model.
	Tools []types.ToolDefinition
}

// Capabilities describes static properties of a realtime provider. Values
// are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// MaxSessionDurationMs is the hard upper bound on session lifetime
	// imposed by the provider. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the voice identifiers available for this provider.
	Voices []string
}

// SessionHandle represents an open realtime session. It is an interface so
// test code can supply fake implementations without a live provider
// connection.
//
// Audio I/O is channel-based to avoid blocking the caller. All methods must
// be safe for concurrent use. Callers must call Close when the session is
// no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw audio chunk to the provider for processing.
	// The chunk must match SessionConfig.InputFormat. Returns an error if the
	// session is closed.
	SendAudio(chunk []byte) error

	// Audio returns a read-only channel emitting raw audio byte slices as the
	// provider synthesises its spoken response, in SessionConfig.OutputFormat.
	// The channel closes when the session ends or a mid-stream error occurs;
	// after it closes, call Err to check whether the session ended cleanly.
	Audio() <-chan []byte

	// Err returns the error that caused the Audio channel to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// OnToolCall registers a handler invoked synchronously whenever the model
	// requests a tool call. Only one handler can be active; passing nil
	// clears it.
	OnToolCall(handler ToolCallHandler)

	// SetTools replaces the active tool definitions without restarting the
	// session.
	SetTools(tools []types.ToolDefinition) error

	// OnSpeechStarted registers a callback invoked when the provider's VAD
	// detects the caller has begun speaking (barge-in).
	OnSpeechStarted(handler func())

	// OnResponseDone registers a callback invoked whenever a model response
	// completes. metadata carries the response's metadata map (used to
	// detect ending-analysis responses); raw carries the undecoded event for
	// summary extraction.
	OnResponseDone(handler func(metadata map[string]any, raw []byte))

	// RequestSummary asks the provider for a structured end-of-call summary
	// tagged with metadata {"type": "ending_analysis"} and blocks until the
	// corresponding response.done event arrives or ctx is done. instructions
	// is the deployment's configured ending-analysis prompt (may be empty);
	// temperature of 0 leaves the session's negotiated temperature in effect.
	RequestSummary(ctx context.Context, instructions string, temperature float64) (json []byte, err error)

	// RequestFarewell asks the model to produce one short closing utterance
	// with the given instructions, tagged so the caller can correlate its
	// completion via OnResponseDone.
	RequestFarewell(instructions string) error

	// Interrupt signals the provider to stop generating the current response
	// and discard buffered audio (used on barge-in).
	Interrupt() error

	// Usage returns the token-usage counters from the most recently
	// completed response, or a zero value if none has completed yet.
	Usage() Usage

	// Close terminates the session, releases all resources, and closes the
	// Audio channel. Calling Close more than once is safe and returns nil.
	Close() error
}

// Usage holds token accounting for output-variable reporting on disconnect.
type Usage struct {
	InputTextTokens        int64
	InputCachedTextTokens  int64
	InputAudioTokens       int64
	InputCachedAudioTokens int64
	OutputTextTokens       int64
	OutputAudioTokens      int64
}

// Provider is the abstraction over any realtime backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new realtime session with the given
	// configuration. The returned SessionHandle is ready to accept audio
	// immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, invalid voice, rate limiting, or ctx already cancelled). The
	// caller owns the SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider's model.
	Capabilities() Capabilities
}
