// Package client talks to a running 'dkguard serve' over MCP (SSE plus HTTP
// POST). It lets a process inside a sandbox ask the gatekeeper on the host
// to check or run an operation instead of holding the credentials itself.
//
// clientパッケージはMCP（SSEとHTTP POST）で稼働中の'dkguard serve'と通信します。
// サンドボックス内のプロセスが自身で認証情報を持たずに、
// ホスト上のゲートキーパーへ操作の確認や実行を依頼できるようにします。
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultName is the clientInfo name sent during initialize.
// DefaultNameはinitialize時に送信されるclientInfo名です。
const DefaultName = "dkguard-client"

// Version is reported as the clientInfo version. Set by the CLI at startup.
var Version = "dev"

// responseTimeout bounds the wait for a response on the SSE stream.
const responseTimeout = 30 * time.Second

// Client holds one MCP session. Requests are serialized: the server answers
// on the shared stream, so only one request is in flight at a time.
//
// Clientは1つのMCPセッションを保持します。サーバーは共有ストリームで
// 応答するため、リクエストは直列化され同時に1つだけ処理されます。
type Client struct {
	baseURL       string
	name          string
	httpClient    *http.Client
	sseHTTPClient *http.Client

	mu        sync.Mutex
	sessionID string
	sseConn   *http.Response

	// callMu serializes request/response pairs.
	callMu sync.Mutex
	nextID int

	messages chan []byte
	errors   chan error
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewClient creates a client for the server at baseURL
// (e.g. "http://127.0.0.1:8765"). Connect must be called before CallTool.
//
// NewClientはbaseURLのサーバー用クライアントを作成します。
// CallToolの前にConnectを呼び出す必要があります。
func NewClient(baseURL string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		name:          DefaultName,
		httpClient:    &http.Client{Timeout: responseTimeout},
		sseHTTPClient: &http.Client{},
		nextID:        1,
		messages:      make(chan []byte, 10),
		errors:        make(chan error, 1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// SetClientName changes the name reported to the server. The server logs it
// when the session is initialized.
func (c *Client) SetClientName(name string) {
	if name != "" {
		c.name = name
	}
}

// SessionID returns the session assigned by the server, or "" before Connect.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Connect opens the SSE stream, reads the announced session endpoint and
// performs the initialize handshake. Calling it again is a no-op.
//
// ConnectはSSEストリームを開き、通知されたセッションエンドポイントを読み取り、
// initializeハンドシェイクを実行します。再度呼び出しても何もしません。
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.sessionID != "" {
		c.mu.Unlock()
		return nil
	}

	req, err := http.NewRequestWithContext(c.ctx, "GET", c.baseURL+"/sse", nil)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to create SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.sseHTTPClient.Do(req)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to connect to SSE: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.mu.Unlock()
		return fmt.Errorf("SSE connection failed with status: %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	sessionID, err := readEndpoint(reader)
	if err != nil {
		resp.Body.Close()
		c.mu.Unlock()
		return err
	}
	c.sseConn = resp
	c.sessionID = sessionID
	c.mu.Unlock()

	go c.readSSEMessages(reader)

	_, err = c.request("initialize", map[string]any{
		"clientInfo": map[string]string{
			"name":    c.name,
			"version": Version,
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return nil
}

// readEndpoint consumes the stream until the endpoint event and returns the
// session ID it carries.
func readEndpoint(r *bufio.Reader) (string, error) {
	event := ""
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:") && event == "endpoint":
			endpoint := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if idx := strings.Index(endpoint, "sessionId="); idx != -1 {
				return endpoint[idx+len("sessionId="):], nil
			}
			return "", fmt.Errorf("endpoint event without session ID: %q", endpoint)
		}
		if err != nil {
			if err == io.EOF {
				return "", fmt.Errorf("failed to get session ID from SSE stream")
			}
			return "", fmt.Errorf("failed to read SSE stream: %w", err)
		}
	}
}

// readSSEMessages forwards every data line of the stream to c.messages until
// the stream ends or the client is closed.
//
// readSSEMessagesはストリーム終了またはクライアントが閉じられるまで、
// 各dataラインをc.messagesに転送します。
func (c *Client) readSSEMessages(r *bufio.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		select {
		case c.messages <- []byte(data):
		case <-c.ctx.Done():
			return
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case c.errors <- err:
	case <-c.ctx.Done():
	}
}

// Close ends the session.
// Closeはセッションを終了します。
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sseConn != nil {
		return c.sseConn.Body.Close()
	}
	return nil
}

// JSONRPCRequest is an outgoing JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response read from the stream.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is the error object of a response.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error: %s (code %d)", e.Message, e.Code)
}

// ToolResult is the result of tools/call. IsError is set for policy denials
// and failed operations; the reason is in Content.
//
// ToolResultはtools/callの結果です。ポリシー拒否や失敗した操作では
// IsErrorが設定され、理由はContentに含まれます。
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text joins the text content items.
func (r *ToolResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Denied reports whether the result is a policy denial.
// Deniedは結果がポリシーによる拒否かどうかを返します。
func (r *ToolResult) Denied() bool {
	return r.IsError && strings.HasPrefix(r.Text(), "Denied by policy")
}

// Content is one content item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Tool describes a tool offered by the server.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListTools returns the tools offered by the server.
// ListToolsはサーバーが提供するツールを返します。
func (c *Client) ListTools() ([]Tool, error) {
	raw, err := c.request("tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool calls a tool on the server. A tool that ran but failed, or was
// denied, is returned as a result with IsError set, not as an error.
//
// CallToolはサーバー上のツールを呼び出します。実行されたが失敗したツールや
// 拒否されたツールは、エラーではなくIsErrorが設定された結果として返されます。
func (c *Client) CallTool(name string, arguments map[string]any) (*ToolResult, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	raw, err := c.request("tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, err
	}
	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tool result: %w", err)
	}
	return &result, nil
}

// request posts one JSON-RPC request and waits for the response with the
// same id on the SSE stream.
//
// requestはJSON-RPCリクエストを1つ送信し、SSEストリーム上で
// 同じidを持つレスポンスを待ちます。
func (c *Client) request(method string, params any) (json.RawMessage, error) {
	sessionID := c.SessionID()
	if sessionID == "" {
		return nil, fmt.Errorf("not connected: call Connect() first")
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	id := c.nextID
	c.nextID++

	body, err := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/message?sessionId=%s", c.baseURL, sessionID)
	httpReq, err := http.NewRequestWithContext(c.ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned error: %d - %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	timeout := time.NewTimer(responseTimeout)
	defer timeout.Stop()

	for {
		select {
		case msg := <-c.messages:
			var r JSONRPCResponse
			if err := json.Unmarshal(msg, &r); err != nil {
				return nil, fmt.Errorf("failed to decode SSE response: %w", err)
			}
			// Responses to earlier, abandoned requests are skipped.
			// 以前に放棄されたリクエストへのレスポンスはスキップ
			if r.ID != nil && *r.ID != id {
				continue
			}
			if r.Error != nil {
				return nil, r.Error
			}
			return r.Result, nil

		case err := <-c.errors:
			return nil, fmt.Errorf("SSE connection error: %w", err)

		case <-timeout.C:
			return nil, fmt.Errorf("timeout waiting for response to %s", method)

		case <-c.ctx.Done():
			return nil, fmt.Errorf("client closed")
		}
	}
}

// HealthCheck calls the server's /health endpoint.
// HealthCheckはサーバーの/healthエンドポイントを呼び出します。
func (c *Client) HealthCheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
	}
	return nil
}
