package tooldispatch_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/coraltel/audiohookbridge/internal/mcp"
	"github.com/coraltel/audiohookbridge/internal/tooldispatch"
	"github.com/coraltel/audiohookbridge/pkg/provider/realtime"
	"github.com/coraltel/audiohookbridge/pkg/types"
)

// fakeHost is a minimal mcp.Host test double.
type fakeHost struct {
	availableTools []types.ToolDefinition
	executeResult  *mcp.ToolResult
	executeErr     error
	executeCalls   []struct{ name, args string }
}

func (h *fakeHost) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error { return nil }

func (h *fakeHost) AvailableTools(tier types.BudgetTier) []types.ToolDefinition {
	return h.availableTools
}

func (h *fakeHost) ExecuteTool(ctx context.Context, name string, args string) (*mcp.ToolResult, error) {
	h.executeCalls = append(h.executeCalls, struct{ name, args string }{name, args})
	if h.executeErr != nil {
		return nil, h.executeErr
	}
	return h.executeResult, nil
}

func (h *fakeHost) Close() error { return nil }

// fakeSession is a minimal realtime.SessionHandle test double.
type fakeSession struct {
	setToolsCalls [][]types.ToolDefinition
	handler       realtime.ToolCallHandler
}

func (s *fakeSession) SendAudio(chunk []byte) error { return nil }
func (s *fakeSession) Audio() <-chan []byte         { return nil }
func (s *fakeSession) Err() error                   { return nil }
func (s *fakeSession) OnToolCall(h realtime.ToolCallHandler) {
	s.handler = h
}
func (s *fakeSession) SetTools(tools []types.ToolDefinition) error {
	s.setToolsCalls = append(s.setToolsCalls, tools)
	return nil
}
func (s *fakeSession) OnSpeechStarted(func())                             {}
func (s *fakeSession) OnResponseDone(func(metadata map[string]any, raw []byte)) {}
func (s *fakeSession) RequestSummary(ctx context.Context, instructions string, temperature float64) ([]byte, error) {
	return nil, nil
}
func (s *fakeSession) RequestFarewell(instructions string) error { return nil }
func (s *fakeSession) Interrupt() error                          { return nil }
func (s *fakeSession) Usage() realtime.Usage                     { return realtime.Usage{} }
func (s *fakeSession) Close() error                              { return nil }

func TestNew_DeclaresBuiltinAndHostTools(t *testing.T) {
	t.Parallel()
	host := &fakeHost{availableTools: []types.ToolDefinition{{Name: "lookup_order"}}}
	sess := &fakeSession{}

	_, err := tooldispatch.New(host, sess, types.BudgetFast)
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	if len(sess.setToolsCalls) != 1 {
		t.Fatalf("expected 1 SetTools call, got %d", len(sess.setToolsCalls))
	}
	declared := sess.setToolsCalls[0]
	if len(declared) != 3 {
		t.Fatalf("expected 2 built-in tools + 1 host tool, got %d: %v", len(declared), declared)
	}
	names := map[string]bool{}
	for _, d := range declared {
		names[d.Name] = true
	}
	for _, want := range []string{tooldispatch.ToolEndConversationSuccessfully, tooldispatch.ToolEscalateToHuman, "lookup_order"} {
		if !names[want] {
			t.Errorf("expected declared tools to include %q, got %v", want, declared)
		}
	}
}

func TestNew_NilHostStillDeclaresBuiltins(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}

	_, err := tooldispatch.New(nil, sess, types.BudgetFast)
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}
	if len(sess.setToolsCalls[0]) != 2 {
		t.Fatalf("expected only the 2 built-in tools with a nil host, got %d", len(sess.setToolsCalls[0]))
	}
}

func TestNew_NilSession(t *testing.T) {
	t.Parallel()
	_, err := tooldispatch.New(&fakeHost{}, nil, types.BudgetFast)
	if err == nil {
		t.Error("expected error for nil session, got nil")
	}
}

func TestHandleToolCall_EndConversation_RecordsPending(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	d, err := tooldispatch.New(&fakeHost{}, sess, types.BudgetFast)
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	result, err := sess.handler(tooldispatch.ToolEndConversationSuccessfully, "{}")
	if err != nil {
		t.Fatalf("handler returned unexpected error: %v", err)
	}
	if !strings.Contains(result, `"action":"end_call"`) {
		t.Errorf("expected result to mention end_call action, got %q", result)
	}

	req, ok := d.Pending()
	if !ok {
		t.Fatal("expected a pending disconnect request after end_conversation_successfully")
	}
	if req.Action != tooldispatch.ActionEndCall || req.Reason != "completed" {
		t.Errorf("unexpected disconnect request: %+v", req)
	}

	if _, ok := d.Pending(); ok {
		t.Error("expected Pending to clear after being read once")
	}
}

func TestHandleToolCall_EscalateToHuman_RecordsPending(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	d, err := tooldispatch.New(&fakeHost{}, sess, types.BudgetFast)
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	if _, err := sess.handler(tooldispatch.ToolEscalateToHuman, "{}"); err != nil {
		t.Fatalf("handler returned unexpected error: %v", err)
	}

	req, ok := d.Pending()
	if !ok {
		t.Fatal("expected a pending disconnect request after escalate_to_human")
	}
	if req.Action != tooldispatch.ActionHandoff || req.Reason != "transfer" {
		t.Errorf("unexpected disconnect request: %+v", req)
	}
}

func TestHandleToolCall_DataAction_RoutedThroughHost(t *testing.T) {
	t.Parallel()
	host := &fakeHost{executeResult: &mcp.ToolResult{Content: `{"status":"shipped"}`}}
	sess := &fakeSession{}
	_, err := tooldispatch.New(host, sess, types.BudgetFast)
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	result, err := sess.handler("lookup_order", `{"id":"42"}`)
	if err != nil {
		t.Fatalf("handler returned unexpected error: %v", err)
	}
	if result != `{"status":"shipped"}` {
		t.Errorf("handler result = %q, want %q", result, `{"status":"shipped"}`)
	}
	if len(host.executeCalls) != 1 {
		t.Fatalf("expected 1 ExecuteTool call, got %d", len(host.executeCalls))
	}
	if host.executeCalls[0].name != "lookup_order" || host.executeCalls[0].args != `{"id":"42"}` {
		t.Errorf("unexpected ExecuteTool call: %+v", host.executeCalls[0])
	}
}

func TestHandleToolCall_DataAction_HostError(t *testing.T) {
	t.Parallel()
	host := &fakeHost{executeErr: errors.New("tool server unavailable")}
	sess := &fakeSession{}
	_, err := tooldispatch.New(host, sess, types.BudgetFast)
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	if _, err := sess.handler("broken_tool", "{}"); err == nil {
		t.Fatal("expected handler to return an error when ExecuteTool fails")
	}
}

func TestHandleToolCall_DataAction_NilHost(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	_, err := tooldispatch.New(nil, sess, types.BudgetFast)
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	if _, err := sess.handler("unknown_tool", "{}"); err == nil {
		t.Error("expected error routing a data-action tool with no host configured")
	}
}

func TestUpdateTier_RefreshesToolsAndAlwaysKeepsBuiltins(t *testing.T) {
	t.Parallel()
	host := &fakeHost{availableTools: []types.ToolDefinition{{Name: "lookup_order"}}}
	sess := &fakeSession{}
	d, err := tooldispatch.New(host, sess, types.BudgetFast)
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	host.availableTools = append(host.availableTools, types.ToolDefinition{Name: "deep_search"})
	if err := d.UpdateTier(context.Background(), types.BudgetDeep); err != nil {
		t.Fatalf("UpdateTier returned unexpected error: %v", err)
	}

	if len(sess.setToolsCalls) != 2 {
		t.Fatalf("expected 2 SetTools calls, got %d", len(sess.setToolsCalls))
	}
	if got := len(sess.setToolsCalls[1]); got != 4 {
		t.Errorf("expected 2 built-ins + 2 host tools after UpdateTier, got %d", got)
	}
}

func TestUpdateTier_CancelledContext(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	d, err := tooldispatch.New(&fakeHost{}, sess, types.BudgetFast)
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.UpdateTier(ctx, types.BudgetDeep); err == nil {
		t.Error("expected UpdateTier to return an error for a cancelled context")
	}
	if len(sess.setToolsCalls) != 1 {
		t.Errorf("expected only the initial SetTools call, got %d", len(sess.setToolsCalls))
	}
}

func TestClose_DeregistersHandler(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	d, err := tooldispatch.New(&fakeHost{}, sess, types.BudgetFast)
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	d.Close()

	if sess.handler != nil {
		t.Error("expected handler to be nil after Close")
	}
}

func TestWithToolTimeout_Accepted(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	_, err := tooldispatch.New(&fakeHost{}, sess, types.BudgetFast, tooldispatch.WithToolTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New with custom timeout returned unexpected error: %v", err)
	}
}

func TestWithAllowlist_RejectsToolsNotListed(t *testing.T) {
	t.Parallel()
	host := &fakeHost{executeResult: &mcp.ToolResult{Content: "ok"}}
	sess := &fakeSession{}
	_, err := tooldispatch.New(host, sess, types.BudgetFast, tooldispatch.WithAllowlist([]string{"lookup_order"}))
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	if _, err := sess.handler("lookup_order", "{}"); err != nil {
		t.Errorf("expected allowlisted tool to succeed, got %v", err)
	}
	if _, err := sess.handler("delete_account", "{}"); err == nil {
		t.Error("expected a tool not in the allowlist to be rejected")
	}
	if len(host.executeCalls) != 1 {
		t.Errorf("expected only the allowlisted call to reach the host, got %d calls", len(host.executeCalls))
	}
}

func TestWithMaxInvocations_CapsDataActionCalls(t *testing.T) {
	t.Parallel()
	host := &fakeHost{executeResult: &mcp.ToolResult{Content: "ok"}}
	sess := &fakeSession{}
	_, err := tooldispatch.New(host, sess, types.BudgetFast, tooldispatch.WithMaxInvocations(1))
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	if _, err := sess.handler("lookup_order", "{}"); err != nil {
		t.Fatalf("first call should be admitted: %v", err)
	}
	if _, err := sess.handler("lookup_order", "{}"); err == nil {
		t.Error("expected the second call to exceed the invocation cap")
	}
	if len(host.executeCalls) != 1 {
		t.Errorf("expected only 1 call to reach the host, got %d", len(host.executeCalls))
	}
}

func TestWithMaxArgBytes_RejectsOversizedArguments(t *testing.T) {
	t.Parallel()
	host := &fakeHost{executeResult: &mcp.ToolResult{Content: "ok"}}
	sess := &fakeSession{}
	_, err := tooldispatch.New(host, sess, types.BudgetFast, tooldispatch.WithMaxArgBytes(4))
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	if _, err := sess.handler("lookup_order", `{"a":"a lot more than four bytes"}`); err == nil {
		t.Error("expected oversized argument payload to be rejected")
	}
	if len(host.executeCalls) != 0 {
		t.Errorf("expected the oversized call to never reach the host, got %d calls", len(host.executeCalls))
	}
}

func TestWithToolChoice_NoneRejectsAllDataActions(t *testing.T) {
	t.Parallel()
	host := &fakeHost{executeResult: &mcp.ToolResult{Content: "ok"}}
	sess := &fakeSession{}
	_, err := tooldispatch.New(host, sess, types.BudgetFast, tooldispatch.WithToolChoice("none"))
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	if _, err := sess.handler("lookup_order", "{}"); err == nil {
		t.Error("expected tool_choice=none to reject every data-action call")
	}
	if len(host.executeCalls) != 0 {
		t.Errorf("expected no call to reach the host, got %d", len(host.executeCalls))
	}
}

func TestWithToolChoice_DisabledRejectsAllDataActions(t *testing.T) {
	t.Parallel()
	host := &fakeHost{executeResult: &mcp.ToolResult{Content: "ok"}}
	sess := &fakeSession{}
	_, err := tooldispatch.New(host, sess, types.BudgetFast, tooldispatch.WithToolChoice("disabled"))
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	if _, err := sess.handler("lookup_order", "{}"); err == nil {
		t.Error("expected tool_choice=disabled to reject every data-action call")
	}
}

func TestWithToolChoice_SpecificFunctionOnlyAdmitsThatName(t *testing.T) {
	t.Parallel()
	host := &fakeHost{executeResult: &mcp.ToolResult{Content: "ok"}}
	sess := &fakeSession{}
	_, err := tooldispatch.New(host, sess, types.BudgetFast, tooldispatch.WithToolChoice("lookup_order"))
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	if _, err := sess.handler("lookup_order", "{}"); err != nil {
		t.Errorf("expected the pinned tool to be admitted, got %v", err)
	}
	if _, err := sess.handler("cancel_order", "{}"); err == nil {
		t.Error("expected a call to a different tool name to be rejected")
	}
	if len(host.executeCalls) != 1 {
		t.Errorf("expected only the pinned call to reach the host, got %d", len(host.executeCalls))
	}
}

func TestWithToolChoice_AutoAdmitsAnyTool(t *testing.T) {
	t.Parallel()
	host := &fakeHost{executeResult: &mcp.ToolResult{Content: "ok"}}
	sess := &fakeSession{}
	_, err := tooldispatch.New(host, sess, types.BudgetFast, tooldispatch.WithToolChoice("auto"))
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	if _, err := sess.handler("lookup_order", "{}"); err != nil {
		t.Errorf("expected tool_choice=auto to admit any tool, got %v", err)
	}
}

func TestWithToolChoice_NoneDoesNotBlockBuiltins(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	_, err := tooldispatch.New(&fakeHost{}, sess, types.BudgetFast, tooldispatch.WithToolChoice("none"))
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	if _, err := sess.handler(tooldispatch.ToolEscalateToHuman, `{"reason":"caller asked"}`); err != nil {
		t.Errorf("built-in call-control tools should never be subject to tool_choice: %v", err)
	}
}

func TestBuiltinTools_NotSubjectToAllowlist(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	_, err := tooldispatch.New(&fakeHost{}, sess, types.BudgetFast, tooldispatch.WithAllowlist([]string{"lookup_order"}))
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}

	if _, err := sess.handler(tooldispatch.ToolEndConversationSuccessfully, "{}"); err != nil {
		t.Errorf("built-in tool should never be subject to the data-action allowlist: %v", err)
	}
}
