// server_test.go covers the transport: the SSE handshake, JSON-RPC dispatch
// over the stream, and the HTTP middlewares.
//
// server_test.goはトランスポートをテストします：SSEハンドシェイク、
// ストリーム上のJSON-RPC振り分け、HTTPミドルウェア。
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// sseTestClient connects to /sse, remembers the session ID and collects
// the JSON-RPC responses delivered as "message" events.
//
// sseTestClientは/sseに接続してセッションIDを記憶し、
// "message"イベントとして届くJSON-RPCレスポンスを収集します。
type sseTestClient struct {
	t         *testing.T
	ts        *httptest.Server
	resp      *http.Response
	sessionID string
	messages  chan JSONRPCResponse
}

func newSSETestClient(t *testing.T, ts *httptest.Server) *sseTestClient {
	t.Helper()

	req, err := http.NewRequest("GET", ts.URL+"/sse", nil)
	if err != nil {
		t.Fatalf("Failed to create SSE request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to connect to SSE: %v", err)
	}

	c := &sseTestClient{t: t, ts: ts, resp: resp, messages: make(chan JSONRPCResponse, 10)}
	sessionCh := make(chan string, 1)

	go func() {
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		event := ""
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: ") && event == "endpoint":
				sessionCh <- strings.TrimPrefix(line, "data: /message?sessionId=")
			case strings.HasPrefix(line, "data: ") && event == "message":
				var r JSONRPCResponse
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &r); err == nil {
					c.messages <- r
				}
			}
		}
	}()

	select {
	case c.sessionID = <-sessionCh:
	case <-time.After(5 * time.Second):
		resp.Body.Close()
		t.Fatal("Timeout waiting for session ID")
	}
	t.Cleanup(func() { resp.Body.Close() })
	return c
}

// send posts a request and returns the response delivered on the stream.
// sendはリクエストを送信し、ストリームで届いたレスポンスを返します。
func (c *sseTestClient) send(id any, method string, params any) JSONRPCResponse {
	c.t.Helper()

	body, _ := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	resp, err := http.Post(c.ts.URL+"/message?sessionId="+c.sessionID, "application/json", bytes.NewReader(body))
	if err != nil {
		c.t.Fatalf("POST /message: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		c.t.Fatalf("POST /message status = %d, want 202", resp.StatusCode)
	}

	select {
	case r := <-c.messages:
		return r
	case <-time.After(5 * time.Second):
		c.t.Fatalf("Timeout waiting for response to %s", method)
		return JSONRPCResponse{}
	}
}

func (c *sseTestClient) initialize() {
	c.t.Helper()
	r := c.send(0, "initialize", map[string]any{
		"clientInfo": map[string]string{"name": "test-client", "version": "1.0.0"},
	})
	if r.Error != nil {
		c.t.Fatalf("initialize error = %+v", r.Error)
	}
}

// TestSSEFlow runs a full session: handshake, initialize, tools/list and a
// tool call whose audit entry carries the SSE session ID.
//
// TestSSEFlowはセッション全体を実行します：ハンドシェイク、initialize、tools/list、
// およびSSEセッションIDが監査エントリに記録されるツール呼び出し。
func TestSSEFlow(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	c := newSSETestClient(t, ts)
	if !strings.HasPrefix(c.sessionID, "client-") {
		t.Fatalf("session ID = %q", c.sessionID)
	}

	// Requests before initialize are rejected.
	// initialize前のリクエストは拒否される
	r := c.send(1, "tools/list", nil)
	if r.Error == nil || r.Error.Code != codeNotInitialized {
		t.Fatalf("pre-initialize response = %+v", r)
	}

	r = c.send(2, "initialize", map[string]any{
		"clientInfo": map[string]string{"name": "test-client", "version": "1.0.0"},
	})
	if r.Error != nil {
		t.Fatalf("initialize error = %+v", r.Error)
	}
	result, _ := r.Result.(map[string]any)
	if result["protocolVersion"] != protocolVersion {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
	if info, _ := result["serverInfo"].(map[string]any); info["name"] != "dkguard" {
		t.Errorf("serverInfo = %v", result["serverInfo"])
	}

	r = c.send(3, "tools/list", nil)
	result, _ = r.Result.(map[string]any)
	tools, _ := result["tools"].([]any)
	if len(tools) != len(GetTools()) {
		t.Errorf("tools/list returned %d tools, want %d", len(tools), len(GetTools()))
	}

	r = c.send(4, "tools/call", map[string]any{
		"name":      "exec_command",
		"arguments": map[string]any{"command": "rm -rf /"},
	})
	if r.Error != nil {
		t.Fatalf("tools/call error = %+v", r.Error)
	}
	result, _ = r.Result.(map[string]any)
	if result["isError"] != true {
		t.Errorf("denied call result = %v", result)
	}

	entries := env.recent(t)
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].SessionID != c.sessionID || entries[0].MessageID != "4" || entries[0].Decision != "deny" {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestHandleMessage_Errors(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	t.Run("missing session", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/message", "application/json", strings.NewReader(`{}`))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var r JSONRPCResponse
		json.NewDecoder(resp.Body).Decode(&r)
		if r.Error == nil || r.Error.Code != codeInvalidRequest {
			t.Errorf("response = %+v", r)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/message?sessionId=nope", "application/json", strings.NewReader(`{}`))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var r JSONRPCResponse
		json.NewDecoder(resp.Body).Decode(&r)
		if r.Error == nil || r.Error.Message != "Invalid session ID" {
			t.Errorf("response = %+v", r)
		}
	})

	t.Run("parse error", func(t *testing.T) {
		c := newSSETestClient(t, ts)
		resp, err := http.Post(ts.URL+"/message?sessionId="+c.sessionID, "application/json", strings.NewReader(`{not json`))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var r JSONRPCResponse
		json.NewDecoder(resp.Body).Decode(&r)
		if r.Error == nil || r.Error.Code != codeParseError {
			t.Errorf("response = %+v", r)
		}
	})

	t.Run("method not found", func(t *testing.T) {
		c := newSSETestClient(t, ts)
		c.initialize()
		r := c.send(9, "resources/list", nil)
		if r.Error == nil || r.Error.Code != codeMethodNotFound {
			t.Errorf("response = %+v", r)
		}
	})

	t.Run("invalid params", func(t *testing.T) {
		c := newSSETestClient(t, ts)
		c.initialize()
		r := c.send(10, "tools/call", map[string]any{"name": "exec_command", "arguments": map[string]any{}})
		if r.Error == nil || r.Error.Code != codeInvalidParams {
			t.Errorf("response = %+v", r)
		}
	})
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))

	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("health = %d %q", rr.Code, rr.Body.String())
	}
}

// TestIsAllowedOrigin tests the loopback origin check.
// TestIsAllowedOriginはループバックオリジンのチェックをテストします。
func TestIsAllowedOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost", true},
		{"http://localhost:3000", true},
		{"https://127.0.0.1:8443", true},
		{"http://[::1]:8080", true},
		{"http://localhost.evil.com", false},
		{"http://evil.com", false},
		{"http://127.0.0.1.nip.io", false},
		{"null", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			if got := isAllowedOrigin(tt.origin); got != tt.want {
				t.Errorf("isAllowedOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestOriginValidationAndCORS(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.Handler()

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantACAO   string
	}{
		{"no origin", "GET", "", http.StatusOK, ""},
		{"loopback origin", "GET", "http://localhost:5173", http.StatusOK, "http://localhost:5173"},
		{"foreign origin", "GET", "https://evil.example", http.StatusForbidden, ""},
		{"preflight", "OPTIONS", "http://127.0.0.1:3000", http.StatusOK, "http://127.0.0.1:3000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantACAO {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantACAO)
			}
		})
	}
}

func TestStop(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	c := newSSETestClient(t, ts)
	if err := env.server.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// The stream of the connected client ends.
	// 接続中のクライアントのストリームが終了する
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		env.server.clientsMu.RLock()
		n := len(env.server.clients)
		env.server.clientsMu.RUnlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("client %s still registered after Stop", c.sessionID)
}

func TestMessageID(t *testing.T) {
	tests := []struct {
		id   any
		want string
	}{
		{nil, ""},
		{float64(4), "4"},
		{"req-1", "req-1"},
	}
	for _, tt := range tests {
		if got := messageID(tt.id); got != tt.want {
			t.Errorf("messageID(%v) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
