// remote.go implements the 'remote' commands, which send operations to a
// running 'dkguard serve' instead of deciding them locally. The server
// applies its own policy and writes its own audit log.
//
// remote.goは'remote'コマンドを実装します。操作をローカルで判定せず、
// 稼働中の'dkguard serve'に送信します。サーバーが自身のポリシーを適用し、
// 自身の監査ログに記録します。
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/client"
)

// flagRemoteURL is the base URL of the server.
// flagRemoteURLはサーバーのベースURLです。
var flagRemoteURL string

// flagRemoteClientName is reported to the server as the client name.
var flagRemoteClientName string

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Send operations to a running dkguard server",
	Long: `Send operations to a running 'dkguard serve' over MCP. The server decides
with its own policy and records the operation in its own audit log, so a
sandboxed process never needs host credentials.

A denial exits with status 126, like the local commands.`,
}

var remoteHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the server is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.NewClient(flagRemoteURL).HealthCheck(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is healthy\n", flagRemoteURL)
		return nil
	},
}

var remoteToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered by the server",
	Args:  cobra.NoArgs,
	RunE:  runRemoteTools,
}

var remoteCallCmd = &cobra.Command{
	Use:   "call TOOL [ARGUMENTS_JSON]",
	Short: "Call a tool on the server",
	Example: `  dkguard remote call list_containers
  dkguard remote call get_logs '{"container":"dev-web","tail":"50"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRemoteCall,
}

var remoteExecCmd = &cobra.Command{
	Use:   "exec COMMAND [ARGS...]",
	Short: "Run a shell command through the server",
	Example: `  dkguard remote exec -- ls -la`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remoteCall(cmd, "exec_command", map[string]any{"command": strings.Join(args, " ")})
	},
}

func init() {
	remoteCmd.PersistentFlags().StringVar(&flagRemoteURL, "url", "http://127.0.0.1:8765", "Base URL of the dkguard server")
	remoteCmd.PersistentFlags().StringVar(&flagRemoteClientName, "client-name", client.DefaultName, "Client name reported to the server")
	remoteCmd.AddCommand(remoteHealthCmd, remoteToolsCmd, remoteCallCmd, remoteExecCmd)
	rootCmd.AddCommand(remoteCmd)
}

// connectRemote opens an MCP session with the server.
func connectRemote() (*client.Client, error) {
	client.Version = Version
	c := client.NewClient(flagRemoteURL)
	c.SetClientName(flagRemoteClientName)
	if err := c.Connect(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", flagRemoteURL, err)
	}
	return c, nil
}

func runRemoteTools(cmd *cobra.Command, args []string) error {
	c, err := connectRemote()
	if err != nil {
		return err
	}
	defer c.Close()

	tools, err := c.ListTools()
	if err != nil {
		return err
	}
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(w, "%s\t%s\n", t.Name, truncate(t.Description, 80))
	}
	return w.Flush()
}

func runRemoteCall(cmd *cobra.Command, args []string) error {
	arguments := map[string]any{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &arguments); err != nil {
			return fmt.Errorf("invalid arguments JSON: %w", err)
		}
	}
	return remoteCall(cmd, args[0], arguments)
}

func remoteCall(cmd *cobra.Command, tool string, arguments map[string]any) error {
	c, err := connectRemote()
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.CallTool(tool, arguments)
	if err != nil {
		return err
	}
	return printToolResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), result)
}

// printToolResult writes a successful result to out. A failed result goes
// to errOut and becomes exit status 126 for a denial, 1 otherwise.
//
// printToolResultは成功した結果をoutに書き込みます。失敗した結果はerrOutに出力され、
// 拒否の場合は終了ステータス126、それ以外は1になります。
func printToolResult(out, errOut io.Writer, result *client.ToolResult) error {
	text := result.Text()
	if !result.IsError {
		fmt.Fprintln(out, text)
		return nil
	}
	fmt.Fprintln(errOut, text)
	if result.Denied() {
		return &exitError{code: exitDenied}
	}
	return &exitError{code: 1}
}
