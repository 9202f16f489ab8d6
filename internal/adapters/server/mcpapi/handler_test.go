package mcpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/hylla/datetrack/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
)

// stubReportReader provides deterministic report responses for MCP tool tests.
type stubReportReader struct {
	changes     common.ChangesResponse
	stats       common.StatsResponse
	state       common.StateResponse
	err         error
	lastChanges common.ChangesRequest
	lastStats   common.StatsRequest
	lastState   common.StateRequest
}

func (s *stubReportReader) Changes(_ context.Context, req common.ChangesRequest) (common.ChangesResponse, error) {
	s.lastChanges = req
	return s.changes, s.err
}

func (s *stubReportReader) Stats(_ context.Context, req common.StatsRequest) (common.StatsResponse, error) {
	s.lastStats = req
	return s.stats, s.err
}

func (s *stubReportReader) State(_ context.Context, req common.StateRequest) (common.StateResponse, error) {
	s.lastState = req
	return s.state, s.err
}

// jsonRPCResponse models minimal JSON-RPC response fields used in MCP adapter tests.
type jsonRPCResponse struct {
	ID     float64        `json:"id"`
	Result map[string]any `json:"result"`
}

// callToolRequest constructs one deterministic tools/call JSON-RPC request payload.
func callToolRequest(id int, toolName string, arguments map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}
}

// initializeRequest builds a deterministic MCP initialize request payload.
func initializeRequest() map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"clientInfo": map[string]any{
				"name":    "datetrack-test",
				"version": "1.0.0",
			},
		},
	}
}

// postJSONRPC sends one JSON-RPC payload and decodes the response body.
func postJSONRPC(t *testing.T, client *http.Client, url string, payload any) (*http.Response, jsonRPCResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	var decoded jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return resp, decoded
}

// toolResultText decodes the first text entry from one tool-call result payload.
func toolResultText(t *testing.T, result map[string]any) string {
	t.Helper()
	contentRaw, ok := result["content"].([]any)
	if !ok || len(contentRaw) == 0 {
		t.Fatalf("content missing in tool result: %#v", result)
	}
	first, ok := contentRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("first content entry has unexpected type: %#v", contentRaw[0])
	}
	text, ok := first["text"].(string)
	if !ok {
		t.Fatalf("content text missing in tool result: %#v", first)
	}
	return text
}

// TestHandlerUsesStatelessTransport verifies MCP transport does not issue session ids.
func TestHandlerUsesStatelessTransport(t *testing.T) {
	handler, err := NewHandler(Config{}, &stubReportReader{})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, decoded := postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if decoded.ID != 1 {
		t.Fatalf("id = %v, want 1", decoded.ID)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got != "" {
		t.Fatalf("Mcp-Session-Id header = %q, want empty (stateless transport)", got)
	}
}

// TestHandlerRegistersReportTools verifies tool discovery lists every report tool.
func TestHandlerRegistersReportTools(t *testing.T) {
	handler, err := NewHandler(Config{}, &stubReportReader{})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	_, decoded := postJSONRPC(t, server.Client(), server.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})
	toolsRaw, ok := decoded.Result["tools"].([]any)
	if !ok {
		t.Fatalf("tools missing in result: %#v", decoded.Result)
	}
	var names []string
	for _, raw := range toolsRaw {
		tool, _ := raw.(map[string]any)
		name, _ := tool["name"].(string)
		names = append(names, name)
	}
	for _, want := range []string{"datetrack.changes", "datetrack.stats", "datetrack.state"} {
		if !slices.Contains(names, want) {
			t.Fatalf("tool %q missing from %v", want, names)
		}
	}
}

// TestChangesToolForwardsArguments verifies tool arguments map onto the report request.
func TestChangesToolForwardsArguments(t *testing.T) {
	reports := &stubReportReader{changes: common.ChangesResponse{Count: 1, Changes: []common.Change{{Group: "NA", RowID: 7, Date: "2025-03-03"}}}}
	handler, err := NewHandler(Config{}, reports)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	_, decoded := postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "datetrack.changes", map[string]any{
		"from":   "2025-03-01",
		"groups": []string{"NA", "NF"},
		"phase":  2,
		"limit":  5,
	}))
	if isErr, _ := decoded.Result["isError"].(bool); isErr {
		t.Fatalf("unexpected tool error: %#v", decoded.Result)
	}
	if !strings.Contains(toolResultText(t, decoded.Result), `"row_id":7`) {
		t.Fatalf("unexpected tool text %q", toolResultText(t, decoded.Result))
	}
	last := reports.lastChanges
	if last.From != "2025-03-01" || len(last.Groups) != 2 || last.Phase != 2 || last.Limit != 5 {
		t.Fatalf("unexpected request %#v", last)
	}
}

// TestToolErrorsAreVisible verifies service errors surface as tool errors.
func TestToolErrorsAreVisible(t *testing.T) {
	reports := &stubReportReader{err: common.ErrNotFound}
	handler, err := NewHandler(Config{}, reports)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	_, decoded := postJSONRPC(t, server.Client(), server.URL, callToolRequest(4, "datetrack.stats", map[string]any{"period": "2025-W10"}))
	if isErr, _ := decoded.Result["isError"].(bool); !isErr {
		t.Fatalf("expected tool error, got %#v", decoded.Result)
	}
	if !strings.HasPrefix(toolResultText(t, decoded.Result), "not_found:") {
		t.Fatalf("unexpected error text %q", toolResultText(t, decoded.Result))
	}
	if reports.lastStats.Period != "2025-W10" {
		t.Fatalf("unexpected stats request %#v", reports.lastStats)
	}

	_, decoded = postJSONRPC(t, server.Client(), server.URL, callToolRequest(5, "datetrack.state", map[string]any{"view": "full"}))
	if !reports.lastState.Full {
		t.Fatalf("expected full view request, got %#v", reports.lastState)
	}
}

// TestNewHandlerRequiresReports verifies constructor validation.
func TestNewHandlerRequiresReports(t *testing.T) {
	if _, err := NewHandler(Config{}, nil); err == nil {
		t.Fatal("expected error for nil report service")
	}
	cfg := normalizeConfig(Config{EndpointPath: "tools/"})
	if cfg.EndpointPath != "/tools" || cfg.ServerName != "datetrack" {
		t.Fatalf("unexpected normalized config %#v", cfg)
	}
}
