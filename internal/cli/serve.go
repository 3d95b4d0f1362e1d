// serve.go implements the 'serve' command, which exposes the policy gates to
// AI assistants as an MCP server over SSE.
//
// serve.goは'serve'コマンドを実装します。ポリシーゲートをSSE経由の
// MCPサーバーとしてAIアシスタントに公開します。
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/config"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/mcp"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/runner"
)

var (
	// flagPort overrides server.port from the configuration.
	// flagPortは設定のserver.portを上書きします。
	flagPort int

	// flagHost overrides server.host from the configuration.
	// flagHostは設定のserver.hostを上書きします。
	flagHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start an MCP (Model Context Protocol) server that offers the policy gates as
tools. Clients connect to /sse and post JSON-RPC messages to the endpoint it
announces. Every tool call is decided, validated and recorded exactly like
the corresponding CLI command, with the MCP session as the audit session id.

Only loopback origins are accepted from browsers.`,
	Example: `  dkguard serve
  dkguard serve --port 9000 -v`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&flagHost, "host", "", "Host to bind to (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// serverAddress applies --host and --port over the configured address.
func serverAddress(cfg config.ServerConfig) (string, int) {
	host, port := cfg.Host, cfg.Port
	if flagHost != "" {
		host = flagHost
	}
	if flagPort != 0 {
		port = flagPort
	}
	return host, port
}

// newServer builds the MCP server from the application state. A Docker
// client that cannot be created leaves the Docker tools failing while the
// shell tools keep working.
//
// newServerはアプリケーション状態からMCPサーバーを構築します。
// Dockerクライアントを作成できない場合、シェルツールは動作し続け、
// Dockerツールは失敗します。
func newServer(a *app) *mcp.Server {
	backend := mcp.Backend{
		ShellEngine:  a.shellEngine,
		DockerEngine: a.dockerEngine,
		Runner:       runner.New(a.cfg.Runner),
		Options:      a.options(),
	}
	if client, err := newDockerClient(); err != nil {
		a.logger.Warn("Docker client unavailable, docker tools will fail", "error", err)
	} else {
		backend.Docker = client
		a.closers = append(a.closers, client.Close)
	}

	host, port := serverAddress(a.cfg.Server)
	return mcp.NewServer(backend, host, port, mcp.WithVerbosity(flagVerbosity), mcp.WithLogger(a.logger))
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.loadErr != nil {
		a.logger.Error("configuration failed to load, every operation is denied", "error", a.loadErr)
	}

	mcp.ServerVersion = Version
	server := newServer(a)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	ctx := cmd.Context()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.Info("Shutting down server...")
		if err := server.Stop(context.Background()); err != nil {
			return err
		}
		return <-errCh
	}
}
