package mcp

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC error codes.
// JSON-RPCエラーコード。
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeNotInitialized = -32000
)

// JSONRPCRequest represents an incoming JSON-RPC 2.0 request.
// JSONRPCRequestは受信したJSON-RPC 2.0リクエストを表します。
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse represents an outgoing JSON-RPC 2.0 response.
// Exactly one of Result and Error is set.
//
// JSONRPCResponseは送信するJSON-RPC 2.0レスポンスを表します。
// ResultとErrorのどちらか一方のみが設定されます。
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError is the error object of a JSON-RPC response. It also
// implements error so handlers can choose the code.
//
// JSONRPCErrorはJSON-RPCレスポンスのエラーオブジェクトです。
// ハンドラがコードを選べるようにerrorも実装します。
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return e.Message
}

func errorResponse(id any, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}

// invalidParams is returned for missing or mistyped tool arguments.
func invalidParams(format string, args ...any) error {
	return &JSONRPCError{Code: codeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// textResponse creates a standard MCP text response.
// It wraps the given text in the MCP content format with type "text".
//
// textResponseは標準的なMCPテキストレスポンスを作成します。
// 指定されたテキストを"text"タイプのMCPコンテンツ形式でラップします。
func textResponse(text string) map[string]any {
	return map[string]any{
		"content": []map[string]any{
			{
				"type": "text",
				"text": text,
			},
		},
	}
}

// jsonTextResponse creates an MCP response with JSON data formatted as text.
// jsonTextResponseはJSONデータをテキストとしてフォーマットしたMCPレスポンスを作成します。
func jsonTextResponse(data any) (map[string]any, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return textResponse(string(jsonData)), nil
}

// errorTextResponse creates a tool result flagged with isError. Policy
// denials and failed operations are reported this way.
//
// errorTextResponseはisErrorを付けたツール結果を作成します。
// ポリシーによる拒否や失敗した操作はこの形式で報告されます。
func errorTextResponse(format string, args ...any) map[string]any {
	resp := textResponse(fmt.Sprintf(format, args...))
	resp["isError"] = true
	return resp
}
