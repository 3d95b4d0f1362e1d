// exec.go implements the 'exec' command for running a host command through
// the policy gate.
//
// exec.goはポリシーゲートを経由してホストコマンドを実行する'exec'コマンドを実装します。
package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/gateway"
)

var flagExecWorkdir string

// execCmd runs an allowed command and exits with its exit code.
// A denied command is not run and exits with status 126.
//
// execCmdは許可されたコマンドを実行し、その終了コードで終了します。
// 拒否されたコマンドは実行されず、ステータス126で終了します。
var execCmd = &cobra.Command{
	Use:   "exec <command...>",
	Short: "Run a host command if the policy allows it",
	Long: `Run a host command through the policy gate. The arguments are joined with
spaces into one command line, which is matched against the shell rules and
then run directly, without a shell. Pass the command as a single quoted
argument to keep its own quoting.

Output is masked before it is printed. The attempt and its outcome are
recorded in the audit log.`,
	Example: `  dkguard exec -- ls -la
  dkguard exec 'grep -rn "TODO" src'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVarP(&flagExecWorkdir, "workdir", "w", "", "Working directory inside runner.allowed_workdirs (default: the first of them, or the current directory)")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.shellGate().Exec(cmd.Context(), strings.Join(args, " "), flagExecWorkdir)
	if err != nil {
		return deniedExit(err)
	}

	fmt.Fprint(cmd.OutOrStdout(), result.Stdout)
	fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)
	if result.Truncated {
		fmt.Fprintln(cmd.ErrOrStderr(), "[output truncated]")
	}

	if result.ExitCode != 0 {
		return &exitError{code: result.ExitCode}
	}
	return nil
}

// deniedExit maps a policy denial to exit status 126 and leaves other errors
// unchanged.
//
// deniedExitはポリシー拒否を終了ステータス126に対応付け、他のエラーはそのまま返します。
func deniedExit(err error) error {
	var denied *gateway.DeniedError
	if errors.As(err, &denied) {
		return &exitError{code: exitDenied, err: err}
	}
	return err
}
