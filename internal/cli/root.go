// Package cli implements the command-line interface for dkguard.
// It provides commands for checking and running shell commands and Docker
// operations through the policy gate, listing the active rules, and
// querying the audit log.
//
// cliパッケージはdkguardのコマンドラインインターフェースを実装します。
// ポリシーゲートを経由したシェルコマンドとDocker操作の確認と実行、
// 有効なルールの一覧表示、監査ログの照会のコマンドを提供します。
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// exitDenied is the process exit code for an operation rejected by policy.
// exitDeniedはポリシーで拒否された操作のプロセス終了コードです。
const exitDenied = 126

var (
	// cfgFile holds the path to the configuration file.
	// If empty, dkguard.yaml is searched in ., ./configs and ~/.dkguard.
	//
	// cfgFileは設定ファイルへのパスを保持します。
	// 空の場合、., ./configs, ~/.dkguard の順にdkguard.yamlを検索します。
	cfgFile string

	// flagLogLevel overrides logging.level from the configuration.
	flagLogLevel string

	// flagLogFile sends logs to a file instead of stderr.
	// flagLogFileはログをstderrではなくファイルに出力します。
	flagLogFile string

	// flagLogAlsoStderr keeps logging to stderr when flagLogFile is set.
	flagLogAlsoStderr bool

	// flagVerbosity (-v) switches the log level to debug.
	flagVerbosity int

	// flagSessionID and flagMessageID are copied into every audit entry.
	// flagSessionIDとflagMessageIDはすべての監査エントリにコピーされます。
	flagSessionID string
	flagMessageID string

	// rootCmd is the base command for the dkguard CLI.
	// rootCmdはdkguard CLIの基本コマンドです。
	rootCmd = &cobra.Command{
		Use:   "dkguard",
		Short: "dkguard - policy gate for agent shell commands and Docker operations",
		Long: `dkguard decides whether a shell command or a Docker operation requested by an
AI agent may run. Rules are matched in order against the command line or the
"operation[:target]" string, the first match wins, and the matched rule's
constraints are validated before anything executes. Every decision is recorded
in the audit log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// exitError carries a process exit code out of a command.
// A nil err exits silently.
//
// exitErrorはコマンドからプロセス終了コードを伝えます。
// errがnilの場合は何も出力せずに終了します。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command and all its subcommands.
// SIGINT and SIGTERM cancel the command context. Errors are printed to stderr.
//
// Executeはルートコマンドとそのすべてのサブコマンドを実行します。
// SIGINTとSIGTERMはコマンドのコンテキストをキャンセルします。エラーはstderrに出力されます。
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

// exitCode prints err and maps it to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./dkguard.yaml)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	pf.StringVar(&flagLogFile, "log-file", "", "Log file path (default: stderr)")
	pf.BoolVar(&flagLogAlsoStderr, "log-also-stderr", false, "Also log to stderr when log-file is set")
	pf.CountVarP(&flagVerbosity, "verbose", "v", "Increase verbosity (-v: debug level)")
	pf.StringVar(&flagSessionID, "session-id", os.Getenv("DKGUARD_SESSION_ID"), "Session id recorded in audit entries (env DKGUARD_SESSION_ID)")
	pf.StringVar(&flagMessageID, "message-id", os.Getenv("DKGUARD_MESSAGE_ID"), "Message id recorded in audit entries (env DKGUARD_MESSAGE_ID)")
}
