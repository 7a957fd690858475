// Package tooldispatch wires a realtime model session's function-calling
// interface to two places: the two built-in call-control tools every call
// carries regardless of configuration, and any externally registered MCP
// tool servers (data actions).
//
// A [Dispatcher] declares the budget-appropriate tool set on the session via
// SetTools and registers a [realtime.ToolCallHandler] that intercepts the
// built-in tool names itself and routes everything else to the MCP Host.
// Invoking either built-in tool does not disconnect the call by itself: it
// records a [DisconnectRequest] and returns a tool result the model can
// acknowledge first. The caller (internal/session) observes the request via
// [Dispatcher.Pending] after the handler returns and is responsible for
// asking the session to speak a farewell and disconnecting only once that
// farewell response completes — never mid-tool-call.
package tooldispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coraltel/audiohookbridge/internal/mcp"
	"github.com/coraltel/audiohookbridge/pkg/provider/realtime"
	"github.com/coraltel/audiohookbridge/pkg/types"
)

// defaultToolTimeout bounds a single data-action tool execution when no
// external context is available (OnToolCall does not propagate a caller
// context).
const defaultToolTimeout = 30 * time.Second

// Action identifies which built-in call-control tool ended the conversation.
type Action string

const (
	// ActionEndCall means the model judged the conversation complete.
	ActionEndCall Action = "end_call"

	// ActionHandoff means the model decided the caller needs a human agent.
	ActionHandoff Action = "handoff_to_human"
)

// Built-in tool names, declared directly on every session regardless of any
// configured MCP server.
const (
	ToolEndConversationSuccessfully = "end_conversation_successfully"
	ToolEscalateToHuman             = "escalate_to_human"
)

// DisconnectRequest carries the reason a call-control tool asked to end the
// session, captured the moment the model invokes it.
type DisconnectRequest struct {
	Action Action
	Reason string
	Info   string
}

// Option is a functional option for configuring a [Dispatcher].
type Option func(*Dispatcher)

// WithToolTimeout sets the deadline applied to each data-action tool
// execution. The default is 30 seconds.
func WithToolTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		disp.toolTimeout = d
	}
}

// WithAllowlist restricts which data-action tool names handleDataAction will
// route to the MCP Host. An empty or nil allowlist (the default) leaves all
// of the host's declared tools reachable. Built-in call-control tools are
// never subject to the allowlist.
func WithAllowlist(names []string) Option {
	return func(disp *Dispatcher) {
		if len(names) == 0 {
			return
		}
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		disp.allowlist = set
	}
}

// WithMaxInvocations caps the number of data-action tool calls permitted for
// the lifetime of the Dispatcher. Zero (the default) means unlimited.
func WithMaxInvocations(n int) Option {
	return func(disp *Dispatcher) {
		disp.maxInvocations = n
	}
}

// WithMaxArgBytes caps the size of a data-action tool call's raw argument
// payload. Zero (the default) means unlimited.
func WithMaxArgBytes(n int) Option {
	return func(disp *Dispatcher) {
		disp.maxArgBytes = n
	}
}

// WithToolChoice sets the data-action invocation policy, mirroring
// OpenAI-style tool_choice semantics: "none"/"disabled" rejects every
// data-action call, a specific function name admits only calls to that
// function, and "auto" or empty (the default) admits any declared tool.
func WithToolChoice(choice string) Option {
	return func(disp *Dispatcher) {
		disp.toolChoice = strings.TrimSpace(choice)
	}
}

// Dispatcher wires a realtime session's tool-calling interface to the
// built-in call-control tools and an [mcp.Host] of externally configured
// data-action tools. It is tied to a single session and should be created
// when the session starts and discarded when it ends.
//
// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	mu          sync.Mutex
	host        mcp.Host
	session     realtime.SessionHandle
	tier        types.BudgetTier
	toolTimeout time.Duration
	pending     *DisconnectRequest

	allowlist       map[string]bool
	maxInvocations  int
	maxArgBytes     int
	invocationCount int
	toolChoice      string
}

// New creates a Dispatcher, declares the built-in tools plus host's
// tier-appropriate tools on session, and registers the tool-call handler.
//
// Returns an error if session is nil or if the initial SetTools call fails.
// host may be nil, in which case only the two built-in tools are offered.
func New(host mcp.Host, session realtime.SessionHandle, tier types.BudgetTier, opts ...Option) (*Dispatcher, error) {
	if session == nil {
		return nil, fmt.Errorf("tooldispatch: session must not be nil")
	}

	d := &Dispatcher{
		host:        host,
		session:     session,
		tier:        tier,
		toolTimeout: defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := session.SetTools(d.toolsForTier(tier)); err != nil {
		return nil, fmt.Errorf("tooldispatch: failed to set initial tools for tier %s: %w", tier, err)
	}

	session.OnToolCall(d.handleToolCall)
	return d, nil
}

// toolsForTier returns the built-in definitions followed by the host's
// tier-appropriate definitions (host may be nil).
func (d *Dispatcher) toolsForTier(tier types.BudgetTier) []types.ToolDefinition {
	tools := append([]types.ToolDefinition{}, builtinDefinitions()...)
	if d.host != nil {
		tools = append(tools, d.host.AvailableTools(tier)...)
	}
	return tools
}

// builtinDefinitions returns the two call-control tool definitions presented
// to the model on every session.
func builtinDefinitions() []types.ToolDefinition {
	return []types.ToolDefinition{
		{
			Name:        ToolEndConversationSuccessfully,
			Description: "Call this when the caller's request has been fully resolved and the conversation can end. Say a brief goodbye before invoking it.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"summary": map[string]any{
						"type":        "string",
						"description": "A one-sentence summary of what was accomplished.",
					},
				},
				"required":             []string{"summary"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolEscalateToHuman,
			Description: "Call this when the caller needs to speak with a human agent, or explicitly asks for one.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "Why the caller needs a human agent.",
					},
				},
				"required":             []string{"reason"},
				"additionalProperties": false,
			},
		},
	}
}

// handleToolCall is the [realtime.ToolCallHandler] registered on the
// session. Built-in call-control tools are handled in-process; everything
// else is routed to the MCP Host.
func (d *Dispatcher) handleToolCall(name string, args string) (string, error) {
	switch name {
	case ToolEndConversationSuccessfully:
		return d.handleEndConversation(args)
	case ToolEscalateToHuman:
		return d.handleEscalate(args)
	default:
		return d.handleDataAction(name, args)
	}
}

// handleEndConversation records a pending disconnect and acknowledges the
// model with {result, action, summary}.
func (d *Dispatcher) handleEndConversation(args string) (string, error) {
	var parsed struct {
		Summary string `json:"summary"`
	}
	_ = json.Unmarshal([]byte(args), &parsed)

	d.setPending(ActionEndCall, "completed", parsed.Summary)

	return encodeAck(map[string]string{
		"result":  "ok",
		"action":  string(ActionEndCall),
		"summary": parsed.Summary,
	})
}

// handleEscalate records a pending disconnect and acknowledges the model
// with {result, action, reason}.
func (d *Dispatcher) handleEscalate(args string) (string, error) {
	var parsed struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal([]byte(args), &parsed)

	d.setPending(ActionHandoff, "transfer", parsed.Reason)

	return encodeAck(map[string]string{
		"result": "ok",
		"action": string(ActionHandoff),
		"reason": parsed.Reason,
	})
}

// setPending records the disconnect request for the caller to act on once
// the model's farewell response completes.
func (d *Dispatcher) setPending(action Action, reason, info string) {
	d.mu.Lock()
	d.pending = &DisconnectRequest{Action: action, Reason: reason, Info: info}
	d.mu.Unlock()
}

func encodeAck(v map[string]string) (string, error) {
	result, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("tooldispatch: failed to encode tool acknowledgement: %w", err)
	}
	return string(result), nil
}

// handleDataAction routes name/args to the MCP Host, bounded by toolTimeout
// since OnToolCall does not propagate a caller context. It enforces the
// tool_choice policy, allowlist, argument size cap, and per-session
// invocation cap configured at construction time, in that order, before the
// host ever sees the call.
func (d *Dispatcher) handleDataAction(name string, args string) (string, error) {
	if d.host == nil {
		return "", fmt.Errorf("tooldispatch: no data-action tool named %q is registered", name)
	}

	if !d.admitsToolChoice(name) {
		return "", fmt.Errorf("tooldispatch: tool_choice does not admit a call to %q", name)
	}
	if !d.allows(name) {
		return "", fmt.Errorf("tooldispatch: tool %q is not in the configured allowlist", name)
	}
	if err := d.checkArgBytes(args); err != nil {
		return "", err
	}
	if err := d.admitInvocation(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.toolTimeout)
	defer cancel()

	result, err := d.host.ExecuteTool(ctx, name, args)
	if err != nil {
		return "", fmt.Errorf("tooldispatch: tool %q execution failed: %w", name, err)
	}
	return result.Content, nil
}

// admitsToolChoice reports whether name is reachable under the configured
// tool_choice policy: "none"/"disabled" blocks every data-action call, a
// specific function name admits only calls to that function, and "auto" or
// an unset choice admits any.
func (d *Dispatcher) admitsToolChoice(name string) bool {
	d.mu.Lock()
	choice := d.toolChoice
	d.mu.Unlock()

	switch strings.ToLower(choice) {
	case "", "auto":
		return true
	case "none", "disabled":
		return false
	default:
		return choice == name
	}
}

// allows reports whether name passes the configured allowlist. An empty
// allowlist permits every tool name.
func (d *Dispatcher) allows(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.allowlist) == 0 {
		return true
	}
	return d.allowlist[name]
}

// checkArgBytes rejects an argument payload larger than the configured cap.
func (d *Dispatcher) checkArgBytes(args string) error {
	d.mu.Lock()
	max := d.maxArgBytes
	d.mu.Unlock()
	if max > 0 && len(args) > max {
		return fmt.Errorf("tooldispatch: argument payload of %d bytes exceeds the %d byte cap", len(args), max)
	}
	return nil
}

// admitInvocation increments the invocation counter, rejecting the call once
// the configured per-session cap has been reached.
func (d *Dispatcher) admitInvocation() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.maxInvocations > 0 && d.invocationCount >= d.maxInvocations {
		return fmt.Errorf("tooldispatch: data-action invocation cap of %d reached for this session", d.maxInvocations)
	}
	d.invocationCount++
	return nil
}

// Pending returns the most recent disconnect request recorded by a
// call-control tool invocation, and clears it. Returns false if no
// call-control tool has been invoked since the last call to Pending.
//
// Callers should check Pending immediately after a tool call completes (for
// example from within an [realtime.SessionHandle.OnResponseDone] callback)
// and, if present, request a farewell before disconnecting — never
// disconnect synchronously from within handleToolCall's goroutine.
func (d *Dispatcher) Pending() (DisconnectRequest, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return DisconnectRequest{}, false
	}
	req := *d.pending
	d.pending = nil
	return req, true
}

// UpdateTier changes the active budget tier and refreshes the session's tool
// set via SetTools. The built-in tools are always included regardless of
// tier.
//
// Returns an error if ctx is already cancelled or if SetTools fails.
func (d *Dispatcher) UpdateTier(ctx context.Context, newTier types.BudgetTier) error {
	tools := d.toolsForTier(newTier)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("tooldispatch: context cancelled before updating tools: %w", err)
	}

	if err := d.session.SetTools(tools); err != nil {
		return fmt.Errorf("tooldispatch: failed to update tools for tier %s: %w", newTier, err)
	}
	d.tier = newTier
	return nil
}

// Close deregisters the tool-call handler from the session. Close does not
// close the underlying session or MCP Host — callers own their own
// lifecycle.
func (d *Dispatcher) Close() {
	d.session.OnToolCall(nil)
}
