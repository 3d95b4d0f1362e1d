// Package mcp exposes the policy gates to AI assistants as an MCP (Model
// Context Protocol) server. JSON-RPC requests arrive over HTTP POST and the
// responses are delivered on a Server-Sent Events (SSE) stream. Every tool
// call goes through the same gates as the CLI, so it is decided, validated
// and audited in the same way.
//
// mcpパッケージはポリシーゲートをMCP（Model Context Protocol）サーバーとして
// AIアシスタントに公開します。JSON-RPCリクエストはHTTP POSTで届き、
// レスポンスはServer-Sent Events（SSE）ストリームで配信されます。
// すべてのツール呼び出しはCLIと同じゲートを通るため、同じ方法で
// 判定、検証、監査されます。
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/docker"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/gateway"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/security"
)

// sendTimeout bounds how long a response may wait for the SSE stream.
const sendTimeout = 5 * time.Second

// Backend holds the collaborators the tools are served from.
// Gates are built per call so that each call carries its own session and
// message IDs into the audit log.
//
// Backendはツールが使用するコラボレータを保持します。
// ゲートは呼び出しごとに構築され、各呼び出しのセッションIDとメッセージIDが
// 監査ログに記録されます。
type Backend struct {
	ShellEngine  *security.Engine
	DockerEngine *security.Engine

	// Runner executes allowed shell commands.
	// Runnerは許可されたシェルコマンドを実行します。
	Runner gateway.CommandRunner

	// Docker may be nil, in which case allowed Docker operations fail.
	// Dockerはnilでもよく、その場合許可されたDocker操作は失敗します。
	Docker docker.DockerClientInterface

	// Options are copied into every gate. SessionID and MessageID are
	// replaced per call.
	// Optionsはすべてのゲートにコピーされます。SessionIDとMessageIDは
	// 呼び出しごとに置き換えられます。
	Options gateway.Options
}

// Server is the MCP server. It manages the SSE connections of the clients
// and dispatches their JSON-RPC requests.
//
// ServerはMCPサーバーです。クライアントのSSE接続を管理し、
// JSON-RPCリクエストを振り分けます。
type Server struct {
	backend Backend
	logger  *slog.Logger
	addr    string

	httpServer *http.Server

	// clients holds all connected MCP clients indexed by their session ID
	// clientsはセッションIDでインデックスされた全ての接続済みMCPクライアントを保持します
	clients   map[string]*client
	clientsMu sync.RWMutex

	// verbosity controls the logging verbosity level
	// Level 0: Normal (requests and tool calls)
	// Level 1 (-v): JSON bodies of requests and responses
	// Level 2 (-vv): + SSE connection noise and HTTP headers
	//
	// verbosityはログの詳細レベルを制御します
	// レベル0: 通常（リクエストとツール呼び出し）
	// レベル1 (-v): リクエストとレスポンスのJSON本文
	// レベル2 (-vv): + SSE接続のノイズとHTTPヘッダー
	verbosity int

	// requestCounter numbers requests so interleaved log lines can be matched.
	// requestCounterはリクエストに番号を付け、混在したログ行を対応付けられるようにします。
	requestCounter uint64
}

// client is one connected SSE session.
// clientは接続された1つのSSEセッションです。
type client struct {
	id       string
	messages chan []byte
	ctx      context.Context
	cancel   context.CancelFunc

	// initialized is set once the client completed the MCP handshake.
	// Guarded by Server.clientsMu.
	// initializedはクライアントがMCPハンドシェイクを完了すると設定されます。
	initialized bool
	clientName  string

	remoteAddr  string
	userAgent   string
	connectedAt time.Time
}

// ServerOption is a functional option for configuring the MCP server.
// ServerOptionはMCPサーバーを設定するための関数オプションです。
type ServerOption func(*Server)

// WithVerbosity sets the verbosity level for detailed logging.
// WithVerbosityは詳細ログのverbosityレベルを設定します。
func WithVerbosity(level int) ServerOption {
	return func(s *Server) {
		s.verbosity = level
	}
}

// WithLogger sets the logger. The default is slog.Default().
// WithLoggerはロガーを設定します。デフォルトはslog.Default()です。
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a server listening on host:port once started.
// NewServerは開始後にhost:portで待ち受けるサーバーを作成します。
func NewServer(backend Backend, host string, port int, opts ...ServerOption) *Server {
	s := &Server{
		backend: backend,
		logger:  slog.Default(),
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		clients: make(map[string]*client),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend.Options.Logger == nil {
		s.backend.Options.Logger = s.logger
	}
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler with all endpoints and middlewares.
// Handlerはすべてのエンドポイントとミドルウェアを含むHTTPハンドラを返します。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", s.handleSSE)
	mux.HandleFunc("POST /message", s.handleMessage)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.loggingMiddleware(s.originValidationMiddleware(s.corsMiddleware(mux)))
}

// Start listens and serves until Stop is called.
// StartはStopが呼ばれるまで待ち受けて処理します。
func (s *Server) Start() error {
	s.logger.Info("Starting MCP server", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop cancels every client stream and shuts the HTTP server down.
// Stopはすべてのクライアントストリームをキャンセルし、HTTPサーバーを停止します。
func (s *Server) Stop(ctx context.Context) error {
	s.clientsMu.Lock()
	count := len(s.clients)
	for _, c := range s.clients {
		c.cancel()
	}
	s.clientsMu.Unlock()

	if count > 0 {
		s.logger.Debug("Cancelled client contexts", "count", count)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Debug("Graceful shutdown timed out, forcing close")
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleSSE opens an event stream. The first event tells the client the
// endpoint to POST its messages to; responses follow as "message" events.
//
// handleSSEはイベントストリームを開きます。最初のイベントでメッセージの
// 送信先エンドポイントを通知し、レスポンスは"message"イベントとして続きます。
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{
		id:          generateClientID(),
		messages:    make(chan []byte, 10),
		ctx:         ctx,
		cancel:      cancel,
		remoteAddr:  r.RemoteAddr,
		userAgent:   r.UserAgent(),
		connectedAt: time.Now(),
	}

	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c.id)
		initialized := c.initialized
		attrs := s.clientLogAttrs(c)
		s.clientsMu.Unlock()
		cancel()

		attrs = append([]any{"duration", time.Since(c.connectedAt).String(), "remote", c.remoteAddr}, attrs...)
		if initialized {
			s.logger.Info("[-] Client disconnected", attrs...)
		} else if s.verbosity >= 2 {
			s.logger.Debug("[-] Client disconnected", attrs...)
		}
	}()

	if s.verbosity >= 2 {
		s.logger.Debug("SSE client connected", "clientID", c.id, "remote", c.remoteAddr, "user_agent", c.userAgent)
	}
	fmt.Fprintf(w, "event: endpoint\ndata: /message?sessionId=%s\n\n", c.id)
	flush(w)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.messages:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flush(w)
		}
	}
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// handleMessage decodes a JSON-RPC request, processes it and queues the
// response on the client's SSE stream. The POST itself only acknowledges.
//
// handleMessageはJSON-RPCリクエストをデコードして処理し、レスポンスを
// クライアントのSSEストリームに送ります。POST自体は受理のみを返します。
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		s.logger.Warn("Missing sessionId parameter in message request")
		sendError(w, nil, codeInvalidRequest, "Missing sessionId parameter")
		return
	}

	s.clientsMu.RLock()
	c, exists := s.clients[sessionID]
	var initialized bool
	if exists {
		initialized = c.initialized
	}
	s.clientsMu.RUnlock()
	if !exists {
		sendError(w, nil, codeInvalidRequest, "Invalid session ID")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error("Failed to read request body", "error", err)
		sendError(w, nil, codeParseError, "Parse error")
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.logger.Error("Failed to decode JSON-RPC request", "error", err)
		sendError(w, nil, codeParseError, "Parse error")
		return
	}

	reqNum := atomic.AddUint64(&s.requestCounter, 1)
	if s.verbosity >= 1 {
		s.logVerbose(fmt.Sprintf("▼ REQUEST [#%d]", reqNum), c, "method", req.Method, "id", req.ID, "body", indentJSON(body))
	}

	// Notifications carry no id and get no response.
	// 通知はidを持たず、レスポンスもありません。
	if strings.HasPrefix(req.Method, "notifications/") {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if !initialized && req.Method != "initialize" {
		s.sendViaSSE(w, c, errorResponse(req.ID, codeNotInitialized, "Client not initialized"))
		return
	}

	var resp JSONRPCResponse
	result, err := s.processRequest(c, &req)
	if err != nil {
		code := codeInternalError
		var rpcErr *JSONRPCError
		if errors.As(err, &rpcErr) {
			code = rpcErr.Code
		}
		resp = errorResponse(req.ID, code, err.Error())
	} else {
		resp = JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
	}

	if s.verbosity >= 1 {
		respBytes, _ := json.Marshal(resp)
		s.logVerbose(fmt.Sprintf("▲ RESPONSE [#%d]", reqNum), c, "id", req.ID, "body", indentJSON(respBytes))
	}
	s.sendViaSSE(w, c, resp)
}

// processRequest dispatches one JSON-RPC method.
// processRequestは1つのJSON-RPCメソッドを振り分けます。
func (s *Server) processRequest(c *client, req *JSONRPCRequest) (any, error) {
	s.clientsMu.RLock()
	attrs := append([]any{"method", req.Method, "clientID", c.id}, s.clientLogAttrs(c)...)
	s.clientsMu.RUnlock()
	s.logger.Info("Processing JSON-RPC request", attrs...)

	switch req.Method {
	case "initialize":
		result, clientName, clientVersion, err := s.initialize(req.Params)
		if err != nil {
			return nil, err
		}
		s.clientsMu.Lock()
		c.clientName = clientName
		c.initialized = true
		attrs := append([]any{"clientID", c.id, "client_version", clientVersion}, s.clientLogAttrs(c)...)
		s.clientsMu.Unlock()
		s.logger.Info("[+] Client connected (initialized)", attrs...)
		return result, nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return s.listTools(), nil
	case "tools/call":
		return s.callTool(c.ctx, c.id, messageID(req.ID), req.Params)
	default:
		return nil, &JSONRPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
}

// messageID renders a JSON-RPC id for the audit log.
func messageID(id any) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}

// sendViaSSE queues resp on the client's stream and acknowledges the POST.
// sendViaSSEはrespをクライアントのストリームに送り、POSTを受理します。
func (s *Server) sendViaSSE(w http.ResponseWriter, c *client, resp JSONRPCResponse) {
	respBytes, err := json.Marshal(resp)
	if err != nil {
		sendError(w, resp.ID, codeInternalError, "Failed to marshal response")
		return
	}

	select {
	case c.messages <- respBytes:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	case <-c.ctx.Done():
		sendError(w, resp.ID, codeInternalError, "Client disconnected")
	case <-time.After(sendTimeout):
		sendError(w, resp.ID, codeInternalError, "Timeout sending response")
	}
}

// sendError writes a JSON-RPC error directly in the HTTP response, used
// when there is no SSE stream to deliver it on.
//
// sendErrorはJSON-RPCエラーをHTTPレスポンスに直接書き込みます。
// 配信先のSSEストリームがない場合に使用します。
func sendError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(errorResponse(id, code, message))
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// The SSE stream stays open for the whole session.
		// SSEストリームはセッション中ずっと開いたままです。
		quiet := r.URL.Path == "/sse" && s.verbosity < 2

		if !quiet {
			s.logger.Info("Request received", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		}
		if s.verbosity >= 2 {
			keys := make([]string, 0, len(r.Header))
			for k := range r.Header {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				s.logger.Debug("HTTP header", "key", k, "value", strings.Join(r.Header[k], ", "))
			}
		}

		next.ServeHTTP(ww, r)

		if !quiet {
			s.logger.Info("Response sent", "status", ww.statusCode, "duration", time.Since(start).String())
		}
	})
}

// responseWriter records the status code and keeps http.Flusher available
// for the SSE handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// clientLogAttrs returns the attributes identifying a client in logs.
// The caller holds clientsMu.
func (s *Server) clientLogAttrs(c *client) []any {
	name := c.clientName
	switch {
	case name != "":
	case c.initialized:
		name = "(empty name)"
	default:
		name = "(not initialized)"
	}
	return []any{"client_name", name, "user_agent", c.userAgent}
}

func (s *Server) logVerbose(msg string, c *client, args ...any) {
	s.clientsMu.RLock()
	attrs := s.clientLogAttrs(c)
	s.clientsMu.RUnlock()
	s.logger.Info(msg, append(attrs, args...)...)
}

func indentJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin reports whether origin is a loopback origin, with or
// without a port. Other origins are rejected to stop DNS rebinding.
//
// isAllowedOriginはoriginがループバックのオリジン（ポートの有無を問わない）か
// どうかを返します。DNSリバインディングを防ぐため、その他のオリジンは拒否します。
func isAllowedOrigin(origin string) bool {
	allowed := []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
		"http://[::1]",
		"https://[::1]",
	}
	for _, a := range allowed {
		if origin == a || strings.HasPrefix(origin, a+":") {
			return true
		}
	}
	return false
}

// originValidationMiddleware rejects requests whose Origin header is not a
// loopback origin. Requests without an Origin (non-browser clients) pass.
//
// originValidationMiddlewareはOriginヘッダーがループバックでないリクエストを拒否します。
// Originのないリクエスト（ブラウザ以外のクライアント）は通過します。
func (s *Server) originValidationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !isAllowedOrigin(origin) {
			s.logger.Warn("Rejected request due to invalid Origin header", "origin", origin, "remote", r.RemoteAddr)
			http.Error(w, "Forbidden: Invalid Origin header", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func generateClientID() string {
	return "client-" + uuid.New().String()
}
