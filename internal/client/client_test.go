// client_test.go runs the client against a real MCP server on httptest.
//
// client_test.goはhttptest上の実際のMCPサーバーに対してクライアントを実行します。
package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/config"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/mcp"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/runner"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/security"
)

type echoRunner struct{}

func (echoRunner) Run(_ context.Context, command, _ string) (*runner.Result, error) {
	return &runner.Result{Stdout: "ran: " + command + "\n"}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	policy, err := security.NewPolicyConfig(&config.PolicyConfig{
		Default:       config.DecisionDeny,
		DefaultReason: "not in allowlist",
		Rules: []config.RuleConfig{
			{Pattern: "echo *", Decision: config.DecisionAllow},
		},
	})
	if err != nil {
		t.Fatalf("NewPolicyConfig() error = %v", err)
	}
	engine := security.NewEngine(policy)

	s := mcp.NewServer(mcp.Backend{
		ShellEngine:  engine,
		DockerEngine: engine,
		Runner:       echoRunner{},
	}, "127.0.0.1", 0, mcp.WithLogger(slog.New(slog.DiscardHandler)))

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func connect(t *testing.T, url string) *Client {
	t.Helper()
	c := NewClient(url)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewClient(t *testing.T) {
	c := NewClient("http://127.0.0.1:8765/")
	if c.baseURL != "http://127.0.0.1:8765" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c.name != DefaultName {
		t.Errorf("name = %q", c.name)
	}
	c.SetClientName("")
	if c.name != DefaultName {
		t.Errorf("empty name changed client name to %q", c.name)
	}
	if c.SessionID() != "" {
		t.Errorf("SessionID() before Connect = %q", c.SessionID())
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{"healthy server", http.StatusOK, false},
		{"unhealthy server", http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("path = %s, want /health", r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
			}))
			defer ts.Close()

			err := NewClient(ts.URL).HealthCheck()
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConnect(t *testing.T) {
	ts := newTestServer(t)
	c := connect(t, ts.URL)

	if !strings.HasPrefix(c.SessionID(), "client-") {
		t.Errorf("SessionID() = %q", c.SessionID())
	}
	// A second Connect keeps the session.
	// 2回目のConnectはセッションを維持する
	id := c.SessionID()
	if err := c.Connect(); err != nil || c.SessionID() != id {
		t.Errorf("second Connect() = %v, session %q", err, c.SessionID())
	}
}

func TestConnect_BadStatus(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	c := NewClient(ts.URL)
	defer c.Close()
	if err := c.Connect(); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("Connect() error = %v, want status 404", err)
	}
}

func TestListTools(t *testing.T) {
	ts := newTestServer(t)
	c := connect(t, ts.URL)

	tools, err := c.ListTools()
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != len(mcp.GetTools()) {
		t.Errorf("ListTools() = %d tools, want %d", len(tools), len(mcp.GetTools()))
	}
}

func TestCallTool(t *testing.T) {
	ts := newTestServer(t)
	c := connect(t, ts.URL)

	tests := []struct {
		name       string
		tool       string
		args       map[string]any
		wantError  bool
		wantDenied bool
		wantText   string
	}{
		{"allowed exec", "exec_command", map[string]any{"command": "echo hi"}, false, false, "ran: echo hi"},
		{"denied exec", "exec_command", map[string]any{"command": "rm -rf /"}, true, true, "not in allowlist"},
		{"check only", "check_command", map[string]any{"command": "echo hi"}, false, false, `"allowed": true`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := c.CallTool(tt.tool, tt.args)
			if err != nil {
				t.Fatalf("CallTool() error = %v", err)
			}
			if result.IsError != tt.wantError || result.Denied() != tt.wantDenied {
				t.Errorf("IsError = %v, Denied = %v; text %q", result.IsError, result.Denied(), result.Text())
			}
			if !strings.Contains(result.Text(), tt.wantText) {
				t.Errorf("Text() = %q, want it to contain %q", result.Text(), tt.wantText)
			}
		})
	}
}

func TestCallTool_InvalidParams(t *testing.T) {
	ts := newTestServer(t)
	c := connect(t, ts.URL)

	_, err := c.CallTool("exec_command", nil)
	rpcErr, ok := err.(*JSONRPCError)
	if !ok {
		t.Fatalf("CallTool() error = %v (%T), want *JSONRPCError", err, err)
	}
	if rpcErr.Code != -32602 {
		t.Errorf("code = %d, want -32602", rpcErr.Code)
	}
}

func TestCallTool_NotConnected(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	defer c.Close()
	if _, err := c.CallTool("get_policy", nil); err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("CallTool() error = %v, want not connected", err)
	}
}

func TestToolResult(t *testing.T) {
	r := &ToolResult{
		Content: []Content{{Type: "text", Text: "Denied by policy."}, {Type: "image"}, {Type: "text", Text: "second"}},
		IsError: true,
	}
	if r.Text() != "Denied by policy.\nsecond" {
		t.Errorf("Text() = %q", r.Text())
	}
	if !r.Denied() {
		t.Error("Denied() = false")
	}
	r.IsError = false
	if r.Denied() {
		t.Error("Denied() = true for a successful result")
	}
}
