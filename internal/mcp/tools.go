package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/gateway"
)

// ServerVersion is reported in the initialize response. The CLI sets it
// to the build version.
//
// ServerVersionはinitializeレスポンスで報告されます。CLIがビルドバージョンを設定します。
var ServerVersion = "dev"

// protocolVersion is the MCP protocol revision this server speaks.
const protocolVersion = "2024-11-05"

// ToolInputSchema defines the JSON Schema for tool input parameters.
// ToolInputSchemaはツール入力パラメータのJSONスキーマを定義します。
type ToolInputSchema struct {
	Type       string                  `json:"type"`
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required,omitempty"`
}

// ToolProperty defines a single property in a tool's input schema.
// ToolPropertyはツールの入力スキーマ内の単一プロパティを定義します。
type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`

	// Items is the element schema of an array property.
	// Itemsは配列プロパティの要素スキーマです。
	Items *ToolProperty `json:"items,omitempty"`

	Enum []string `json:"enum,omitempty"`
}

// Tool is one entry of the tools/list response.
// Toolはtools/listレスポンスの1エントリです。
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ClientInfo contains information about the MCP client.
// ClientInfoはMCPクライアントに関する情報を含みます。
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams represents the parameters for the MCP initialize method.
// InitializeParamsはMCPのinitializeメソッドのパラメータを表します。
type InitializeParams struct {
	ClientInfo ClientInfo `json:"clientInfo"`
}

// initialize handles the MCP initialization request. It returns the server
// capabilities and the client name and version for logging. Missing or
// malformed params are tolerated.
//
// initializeはMCP初期化リクエストを処理します。サーバーの機能と、
// ログ用のクライアント名・バージョンを返します。paramsの欠落や不正は許容されます。
func (s *Server) initialize(params any) (any, string, string, error) {
	var initParams InitializeParams
	if data, err := json.Marshal(params); err == nil {
		if err := json.Unmarshal(data, &initParams); err != nil {
			s.logger.Debug("Could not unmarshal initialize params", "error", err)
		}
	}

	response := map[string]any{
		"protocolVersion": protocolVersion,
		"serverInfo": map[string]string{
			"name":    "dkguard",
			"version": ServerVersion,
		},
		"capabilities": map[string]any{
			"tools": map[string]bool{},
		},
	}
	return response, initParams.ClientInfo.Name, initParams.ClientInfo.Version, nil
}

func containerProp() ToolProperty {
	return ToolProperty{Type: "string", Description: "Container name or ID"}
}

func forceProp(what string) ToolProperty {
	return ToolProperty{Type: "boolean", Description: "Force removal of the " + what, Default: false}
}

func timeoutProp() ToolProperty {
	return ToolProperty{Type: "integer", Description: "Seconds to wait before killing the container (default: daemon default)"}
}

func stringArray(desc string) ToolProperty {
	return ToolProperty{Type: "array", Description: desc, Items: &ToolProperty{Type: "string"}}
}

func object(props map[string]ToolProperty, required ...string) ToolInputSchema {
	if props == nil {
		props = map[string]ToolProperty{}
	}
	return ToolInputSchema{Type: "object", Properties: props, Required: required}
}

// GetTools returns the tool catalog. Every tool except get_policy and the
// check tools is recorded in the audit log.
//
// GetToolsはツールカタログを返します。get_policyとチェック系ツール以外の
// すべてのツールは監査ログに記録されます。
func GetTools() []Tool {
	return []Tool{
		{
			Name:        "get_policy",
			Description: "Show the active shell and docker rules in evaluation order. The first matching rule decides; the default applies when no rule matches.",
			InputSchema: object(map[string]ToolProperty{
				"policy": {Type: "string", Description: "Only this policy (default: both)", Enum: []string{"shell", "docker"}},
			}),
		},
		{
			Name:        "check_command",
			Description: "Check whether a shell command would be allowed, without running it.",
			InputSchema: object(map[string]ToolProperty{
				"command": {Type: "string", Description: "Command line to check"},
				"workdir": {Type: "string", Description: "Working directory the command would run in; must be inside the server's allowed directories (default: the first of them)"},
			}, "command"),
		},
		{
			Name:        "exec_command",
			Description: "Run a shell command on the host if the policy allows it. The command runs without a shell, so pipes and redirects are not interpreted. Output is masked.",
			InputSchema: object(map[string]ToolProperty{
				"command": {Type: "string", Description: "Command line to run"},
				"workdir": {Type: "string", Description: "Working directory; must be inside the server's allowed directories (default: the first of them)"},
			}, "command"),
		},
		{
			Name:        "check_docker_operation",
			Description: "Check whether a docker operation would be allowed, e.g. \"start_container:web\" or \"pull_image:alpine:3.19\". Container configuration constraints are not evaluated.",
			InputSchema: object(map[string]ToolProperty{
				"operation": {Type: "string", Description: "Operation string: operation_type[:target]"},
			}, "operation"),
		},
		{
			Name:        "list_containers",
			Description: "List all containers with their status.",
			InputSchema: object(nil),
		},
		{
			Name:        "inspect_container",
			Description: "Get detailed information about a container. Sensitive values are masked.",
			InputSchema: object(map[string]ToolProperty{"container": containerProp()}, "container"),
		},
		{
			Name:        "get_logs",
			Description: "Get logs from a container. Sensitive values are masked.",
			InputSchema: object(map[string]ToolProperty{
				"container": containerProp(),
				"tail":      {Type: "string", Description: "Number of lines to show from the end (default: 100)", Default: "100"},
				"since":     {Type: "string", Description: "Show logs since timestamp (e.g. 2024-01-02T13:23:37Z) or relative (e.g. 42m)"},
			}, "container"),
		},
		{
			Name:        "create_container",
			Description: "Create a container. The full configuration is checked against the rule constraints (privileged mode, host network, mounts, image, resource limits).",
			InputSchema: object(map[string]ToolProperty{
				"image":      {Type: "string", Description: "Image reference"},
				"name":       {Type: "string", Description: "Container name"},
				"command":    stringArray("Command and arguments"),
				"env":        stringArray("Environment variables (KEY=value)"),
				"volumes":    stringArray("Bind mounts (source:target[:mode])"),
				"ports":      stringArray("Published ports (e.g. 8080:80, 127.0.0.1:5432:5432/tcp)"),
				"workdir":    {Type: "string", Description: "Working directory inside the container"},
				"memory":     {Type: "string", Description: "Memory limit (e.g. 512m, 2g)"},
				"cpus":       {Type: "number", Description: "Number of CPUs"},
				"privileged": {Type: "boolean", Description: "Run in privileged mode", Default: false},
				"network":    {Type: "string", Description: "Network mode (e.g. bridge, host, none)"},
			}, "image"),
		},
		{
			Name:        "start_container",
			Description: "Start a container.",
			InputSchema: object(map[string]ToolProperty{"container": containerProp()}, "container"),
		},
		{
			Name:        "stop_container",
			Description: "Stop a running container.",
			InputSchema: object(map[string]ToolProperty{"container": containerProp(), "timeout": timeoutProp()}, "container"),
		},
		{
			Name:        "restart_container",
			Description: "Restart a container.",
			InputSchema: object(map[string]ToolProperty{"container": containerProp(), "timeout": timeoutProp()}, "container"),
		},
		{
			Name:        "remove_container",
			Description: "Remove a container.",
			InputSchema: object(map[string]ToolProperty{"container": containerProp(), "force": forceProp("container")}, "container"),
		},
		{
			Name:        "list_images",
			Description: "List local images.",
			InputSchema: object(nil),
		},
		{
			Name:        "pull_image",
			Description: "Pull an image.",
			InputSchema: object(map[string]ToolProperty{"image": {Type: "string", Description: "Image reference"}}, "image"),
		},
		{
			Name:        "remove_image",
			Description: "Remove an image.",
			InputSchema: object(map[string]ToolProperty{"image": {Type: "string", Description: "Image reference"}, "force": forceProp("image")}, "image"),
		},
		{
			Name:        "list_volumes",
			Description: "List volumes.",
			InputSchema: object(nil),
		},
		{
			Name:        "create_volume",
			Description: "Create a volume.",
			InputSchema: object(map[string]ToolProperty{"name": {Type: "string", Description: "Volume name"}}, "name"),
		},
		{
			Name:        "remove_volume",
			Description: "Remove a volume.",
			InputSchema: object(map[string]ToolProperty{"name": {Type: "string", Description: "Volume name"}, "force": forceProp("volume")}, "name"),
		},
	}
}

func (s *Server) listTools() any {
	return map[string]any{"tools": GetTools()}
}

// toolCall carries the per-call audit identity to the handlers.
type toolCall struct {
	args map[string]any
	opts gateway.Options
}

// callTool routes a tools/call request to its handler. The session ID of
// the SSE client and the JSON-RPC request ID become the audit session and
// message IDs.
//
// callToolはtools/callリクエストをハンドラに振り分けます。SSEクライアントの
// セッションIDとJSON-RPCリクエストIDが監査のセッションIDとメッセージIDになります。
func (s *Server) callTool(ctx context.Context, sessionID, msgID string, params any) (any, error) {
	paramsMap, ok := params.(map[string]any)
	if !ok {
		return nil, invalidParams("invalid params format")
	}
	toolName, ok := paramsMap["name"].(string)
	if !ok {
		return nil, invalidParams("missing tool name")
	}
	arguments, ok := paramsMap["arguments"].(map[string]any)
	if !ok {
		arguments = make(map[string]any)
	}

	s.logger.Info("Tool called", "tool", toolName, "clientID", sessionID)

	opts := s.backend.Options
	opts.SessionID = sessionID
	opts.MessageID = msgID
	call := toolCall{args: arguments, opts: opts}

	switch toolName {
	case "get_policy":
		return s.toolGetPolicy(call)
	case "check_command":
		return s.toolCheckCommand(call)
	case "exec_command":
		return s.toolExecCommand(ctx, call)
	case "check_docker_operation":
		return s.toolCheckDockerOperation(call)
	case "list_containers":
		return s.toolListContainers(ctx, call)
	case "inspect_container":
		return s.toolInspectContainer(ctx, call)
	case "get_logs":
		return s.toolGetLogs(ctx, call)
	case "create_container":
		return s.toolCreateContainer(ctx, call)
	case "start_container", "stop_container", "restart_container", "remove_container":
		return s.toolContainerAction(ctx, toolName, call)
	case "list_images":
		return s.toolListImages(ctx, call)
	case "pull_image", "remove_image":
		return s.toolImageAction(ctx, toolName, call)
	case "list_volumes":
		return s.toolListVolumes(ctx, call)
	case "create_volume", "remove_volume":
		return s.toolVolumeAction(ctx, toolName, call)
	default:
		return nil, invalidParams("unknown tool: %s", toolName)
	}
}

// toolResult turns a gate error into a tool result: a policy denial shows
// the matched rule and reason, other failures show the error.
//
// toolResultはゲートのエラーをツール結果に変換します。ポリシー拒否では
// マッチしたルールと理由を、その他の失敗ではエラーを示します。
func toolResult(err error) map[string]any {
	var denied *gateway.DeniedError
	if errors.As(err, &denied) {
		rule := denied.Pattern
		if rule == "" {
			rule = "(default)"
		}
		return errorTextResponse("Denied by policy.\nOperation: %s\nRule: %s\nReason: %s", denied.Operation, rule, denied.Reason)
	}
	return errorTextResponse("Error: %v", err)
}

// stringArg returns a string argument. A required argument must be a
// non-empty string.
func stringArg(args map[string]any, name string, required bool) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return "", invalidParams("%s is required", name)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidParams("%s must be a string", name)
	}
	if required && s == "" {
		return "", invalidParams("%s is required", name)
	}
	return s, nil
}

func boolArg(args map[string]any, name string) (bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, invalidParams("%s must be a boolean", name)
	}
	return b, nil
}

// numberArg returns a numeric argument; JSON numbers decode as float64.
func numberArg(args map[string]any, name string) (float64, bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, false, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false, invalidParams("%s must be a number", name)
	}
	return f, true, nil
}

func stringSliceArg(args map[string]any, name string) ([]string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, invalidParams("%s must be an array of strings", name)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, invalidParams("%s must be an array of strings", name)
		}
		out = append(out, s)
	}
	return out, nil
}
