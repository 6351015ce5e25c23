package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jkaninda/nsbox/internal/observability"
	"github.com/jkaninda/nsbox/internal/protocol"
	"github.com/jkaninda/nsbox/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingTool counts invocations so tests can assert a handler never ran.
type recordingTool struct {
	name     string
	schema   tools.Schema
	calls    int
	result   *tools.Result
	err      error
	panicMsg string
}

func (r *recordingTool) Name() string        { return r.name }
func (r *recordingTool) Description() string { return "test tool" }
func (r *recordingTool) Args() tools.Schema  { return r.schema }
func (r *recordingTool) Execute(context.Context, map[string]any) (*tools.Result, error) {
	r.calls++
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	return r.result, r.err
}

func newTestServer(ts ...tools.Tool) (*Server, []*recordingTool) {
	registry := tools.NewRegistry()
	var recs []*recordingTool
	for _, t := range ts {
		registry.Register(t)
		if r, ok := t.(*recordingTool); ok {
			recs = append(recs, r)
		}
	}
	return New(Config{Name: "nsbox", Version: "test"}, registry, nil, testLogger()), recs
}

func request(t *testing.T, id, method, params string) *protocol.Request {
	t.Helper()
	req := &protocol.Request{JSONRPC: protocol.Version, Method: method}
	if id != "" {
		req.ID = json.RawMessage(id)
	}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return req
}

func TestInitialize(t *testing.T) {
	s, _ := newTestServer()

	resp := s.Handle(context.Background(), request(t, "1", "initialize", ""))
	if resp == nil || resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp)
	}

	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result is %T", resp.Result)
	}
	if result["protocolVersion"] != ProtocolVersion {
		t.Errorf("protocolVersion = %v, want %v", result["protocolVersion"], ProtocolVersion)
	}
	info := result["serverInfo"].(map[string]any)
	if info["name"] != "nsbox" {
		t.Errorf("serverInfo.name = %v", info["name"])
	}
}

func TestIDEchoedVerbatim(t *testing.T) {
	s, _ := newTestServer()

	// Number and string ids must round-trip byte-for-byte.
	for _, id := range []string{"42", `"abc-123"`} {
		resp := s.Handle(context.Background(), request(t, id, "ping", ""))
		if string(resp.ID) != id {
			t.Errorf("response id = %s, want %s", resp.ID, id)
		}
	}
}

func TestToolsListDeterministic(t *testing.T) {
	s, _ := newTestServer(
		&recordingTool{name: "read_file", schema: tools.Schema{"path": {Type: tools.TypeString, Required: true}}},
		&recordingTool{name: "write_file", schema: tools.Schema{}},
		&recordingTool{name: "unshare_exec", schema: tools.Schema{}},
	)

	var first []map[string]any
	for i := 0; i < 5; i++ {
		resp := s.Handle(context.Background(), request(t, "1", "tools/list", ""))
		result := resp.Result.(map[string]any)
		defs := result["tools"].([]map[string]any)
		if first == nil {
			first = defs
			if len(defs) != 3 {
				t.Fatalf("tools/list returned %d tools, want 3", len(defs))
			}
			if defs[0]["name"] != "read_file" || defs[1]["name"] != "write_file" || defs[2]["name"] != "unshare_exec" {
				t.Fatalf("tools/list order = %v, %v, %v",
					defs[0]["name"], defs[1]["name"], defs[2]["name"])
			}
			continue
		}
		if !reflect.DeepEqual(defs, first) {
			t.Fatal("tools/list differs between calls")
		}
	}
}

func TestToolsCallSuccess(t *testing.T) {
	tool := &recordingTool{
		name:   "echo",
		schema: tools.Schema{"text": {Type: tools.TypeString, Required: true}},
		result: &tools.Result{Success: true, Payload: map[string]any{"text": "hi"}},
	}
	s, _ := newTestServer(tool)

	resp := s.Handle(context.Background(),
		request(t, "7", "tools/call", `{"name":"echo","arguments":{"text":"hi"}}`))
	if resp.Error != nil {
		t.Fatalf("tools/call error: %+v", resp.Error)
	}
	if tool.calls != 1 {
		t.Errorf("handler called %d times, want 1", tool.calls)
	}
	payload := resp.Result.(map[string]any)
	if payload["text"] != "hi" {
		t.Errorf("payload = %v", payload)
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	tool := &recordingTool{name: "echo", schema: tools.Schema{}}
	s, _ := newTestServer(tool)

	resp := s.Handle(context.Background(),
		request(t, "1", "tools/call", `{"name":"no_such_tool","arguments":{}}`))
	if resp.Error == nil {
		t.Fatal("unknown tool produced no error")
	}
	if resp.Error.Code != protocol.CodeToolError {
		t.Errorf("code = %d, want %d", resp.Error.Code, protocol.CodeToolError)
	}
	if resp.Error.Data == nil || resp.Error.Data.Kind != string(tools.KindUnknownTool) {
		t.Errorf("error data = %+v, want kind UnknownTool", resp.Error.Data)
	}
	// The registered handler must not have run.
	if tool.calls != 0 {
		t.Errorf("handler ran %d times for an unknown tool call", tool.calls)
	}
}

func TestToolsCallInvalidArguments(t *testing.T) {
	tool := &recordingTool{
		name:   "echo",
		schema: tools.Schema{"text": {Type: tools.TypeString, Required: true}},
	}
	s, _ := newTestServer(tool)

	tests := []struct {
		name   string
		params string
	}{
		{"missing required", `{"name":"echo","arguments":{}}`},
		{"wrong type", `{"name":"echo","arguments":{"text":42}}`},
		{"undeclared key", `{"name":"echo","arguments":{"text":"x","extra":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.Handle(context.Background(), request(t, "1", "tools/call", tt.params))
			if resp.Error == nil {
				t.Fatal("invalid arguments accepted")
			}
			if resp.Error.Code != protocol.CodeInvalidParams {
				t.Errorf("code = %d, want %d", resp.Error.Code, protocol.CodeInvalidParams)
			}
			if resp.Error.Data == nil || resp.Error.Data.Kind != string(tools.KindInvalidArguments) {
				t.Errorf("error data = %+v, want kind InvalidArguments", resp.Error.Data)
			}
		})
	}
	// Validation failures must never reach the handler.
	if tool.calls != 0 {
		t.Errorf("handler ran %d times on invalid arguments", tool.calls)
	}
}

func TestToolsCallMissingName(t *testing.T) {
	s, _ := newTestServer()

	resp := s.Handle(context.Background(), request(t, "1", "tools/call", `{"arguments":{}}`))
	if resp.Error == nil || resp.Error.Code != protocol.CodeInvalidParams {
		t.Fatalf("resp = %+v, want invalid params", resp)
	}
}

func TestToolErrorMapping(t *testing.T) {
	tool := &recordingTool{
		name:   "fail",
		schema: tools.Schema{},
		err:    tools.NewError(tools.KindNamespaceSetupFailed, "clone refused"),
	}
	s, _ := newTestServer(tool)

	resp := s.Handle(context.Background(),
		request(t, "1", "tools/call", `{"name":"fail","arguments":{}}`))
	if resp.Error == nil {
		t.Fatal("tool error produced success")
	}
	if resp.Error.Code != protocol.CodeToolError {
		t.Errorf("code = %d, want %d", resp.Error.Code, protocol.CodeToolError)
	}
	if resp.Error.Data.Kind != string(tools.KindNamespaceSetupFailed) {
		t.Errorf("kind = %q, want NamespaceSetupFailed", resp.Error.Data.Kind)
	}
	if !strings.Contains(resp.Error.Message, "clone refused") {
		t.Errorf("message = %q", resp.Error.Message)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	tool := &recordingTool{name: "boom", schema: tools.Schema{}, panicMsg: "kaput"}
	s, _ := newTestServer(tool)

	resp := s.Handle(context.Background(),
		request(t, "1", "tools/call", `{"name":"boom","arguments":{}}`))
	if resp == nil || resp.Error == nil {
		t.Fatal("panicking handler produced no error response")
	}
	if resp.Error.Code != protocol.CodeInternalError {
		t.Errorf("code = %d, want %d", resp.Error.Code, protocol.CodeInternalError)
	}
}

func TestToolsCallCountedInRequestMetrics(t *testing.T) {
	tool := &recordingTool{
		name:   "echo",
		schema: tools.Schema{"text": {Type: tools.TypeString, Required: true}},
		result: &tools.Result{Success: true, Payload: map[string]any{}},
	}
	registry := tools.NewRegistry()
	registry.Register(tool)
	metrics := observability.NewMetricsCollector()
	s := New(Config{Name: "nsbox", Version: "test"}, registry, metrics, testLogger())
	ctx := context.Background()

	s.Handle(ctx, request(t, "1", "tools/call", `{"name":"echo","arguments":{"text":"x"}}`))
	s.Handle(ctx, request(t, "2", "tools/call", `{"name":"echo","arguments":{}}`))
	tool.err = tools.NewError(tools.KindIOFailure, "disk gone")
	s.Handle(ctx, request(t, "3", "tools/call", `{"name":"echo","arguments":{"text":"x"}}`))

	for status, want := range map[string]float64{
		"ok":             1,
		"invalid_params": 1,
		"tool_error":     1,
	} {
		got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("tools/call", status))
		if got != want {
			t.Errorf("requests_total{tools/call,%s} = %v, want %v", status, got, want)
		}
	}
}

func TestMethodNotFound(t *testing.T) {
	s, _ := newTestServer()

	resp := s.Handle(context.Background(), request(t, "1", "bogus/method", ""))
	if resp.Error == nil || resp.Error.Code != protocol.CodeMethodNotFound {
		t.Fatalf("resp = %+v, want method not found", resp)
	}
}

func TestNotificationGetsNoResponse(t *testing.T) {
	s, _ := newTestServer()

	resp := s.Handle(context.Background(), request(t, "", "notifications/initialized", ""))
	if resp != nil {
		t.Errorf("notification got a response: %+v", resp)
	}
}

func TestEmptyListMethods(t *testing.T) {
	s, _ := newTestServer()

	for method, key := range map[string]string{
		"resources/list": "resources",
		"prompts/list":   "prompts",
	} {
		resp := s.Handle(context.Background(), request(t, "1", method, ""))
		if resp.Error != nil {
			t.Fatalf("%s: %+v", method, resp.Error)
		}
		result := resp.Result.(map[string]any)
		items, ok := result[key].([]any)
		if !ok || len(items) != 0 {
			t.Errorf("%s = %v, want empty %s list", method, result[key], key)
		}
	}
}

func TestServeRoundTrip(t *testing.T) {
	tool := &recordingTool{
		name:   "echo",
		schema: tools.Schema{"text": {Type: tools.TypeString, Required: true}},
		result: &tools.Result{Success: true, Payload: map[string]any{"text": "hello"}},
	}
	s, _ := newTestServer(tool)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`not json at all`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hello"}}}`,
	}, "\n") + "\n"

	var out strings.Builder
	transport := protocol.NewStdioTransport(strings.NewReader(input), &out)

	if err := s.Serve(context.Background(), transport); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d response lines, want 3:\n%s", len(lines), out.String())
	}

	var initResp, parseResp, callResp protocol.Response
	for i, target := range []*protocol.Response{&initResp, &parseResp, &callResp} {
		if err := json.Unmarshal([]byte(lines[i]), target); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
	}

	if initResp.Error != nil || string(initResp.ID) != "1" {
		t.Errorf("initialize response: %+v", initResp)
	}
	// The malformed line must produce a parse error with null id, and the
	// loop must keep serving afterwards.
	if parseResp.Error == nil || parseResp.Error.Code != protocol.CodeParseError {
		t.Errorf("parse error response: %+v", parseResp)
	}
	if string(parseResp.ID) != "null" {
		t.Errorf("parse error id = %s, want null", parseResp.ID)
	}
	if callResp.Error != nil || string(callResp.ID) != "2" {
		t.Errorf("tools/call response: %+v", callResp)
	}
	if tool.calls != 1 {
		t.Errorf("handler called %d times, want 1", tool.calls)
	}
}
