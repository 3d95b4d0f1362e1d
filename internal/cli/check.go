// check.go implements the 'check' command, a dry run of the policy gate.
//
// check.goはポリシーゲートのドライランである'check'コマンドを実装します。
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/gateway"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/security"
)

var (
	flagCheckDocker  bool
	flagCheckWorkdir string
)

// checkCmd evaluates a command or Docker operation without running or
// recording it. It exits with status 126 when the operation would be denied.
//
// checkCmdはコマンドまたはDocker操作を実行も記録もせずに評価します。
// 操作が拒否される場合はステータス126で終了します。
var checkCmd = &cobra.Command{
	Use:   "check <command...>",
	Short: "Show the decision for a command without running it",
	Long: `Evaluate a shell command (or, with --docker, an "operation[:target]" string)
against the active policy and print the decision, the matched rule and the
constraint result. Nothing is executed or recorded.

For create_container the constraints that inspect the container configuration
pass without one; use "dkguard docker create" to have them evaluated.`,
	Example: `  dkguard check -- ls -la src
  dkguard check --docker start_container:dev-api`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&flagCheckDocker, "docker", false, "Evaluate a Docker operation string instead of a shell command")
	checkCmd.Flags().StringVarP(&flagCheckWorkdir, "workdir", "w", "", "Working directory for path constraints (default: first of runner.allowed_workdirs, or the current directory)")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	op := strings.Join(args, " ")

	var chk gateway.Check
	var engine *security.Engine
	if flagCheckDocker {
		engine = a.dockerEngine
		chk = gateway.NewDockerGate(engine, nil, a.options()).Check(op)
	} else {
		engine = a.shellEngine
		chk, err = gateway.NewShellGate(engine, nil, a.options()).Check(op, flagCheckWorkdir)
		if err != nil {
			return err
		}
	}

	printCheck(cmd.OutOrStdout(), chk, engine.Policy().Fallback)

	if !chk.Allowed() {
		return &exitError{code: exitDenied}
	}
	return nil
}

// printCheck writes the dry-run result as aligned "Key: value" lines.
// printCheckはドライラン結果を揃えた "Key: value" 行で書き込みます。
func printCheck(w io.Writer, chk gateway.Check, fallback bool) {
	decision := "allow"
	if !chk.Allowed() {
		decision = "deny"
	}

	rule := chk.Match.Pattern
	switch {
	case chk.Match.IsDefault:
		rule = "(default)"
	case rule == "":
		rule = "(none)"
	}

	fmt.Fprintf(w, "Operation:   %s\n", chk.Operation)
	fmt.Fprintf(w, "Decision:    %s\n", decision)
	fmt.Fprintf(w, "Rule:        %s\n", rule)
	if reason := chk.Reason(); reason != "" {
		fmt.Fprintf(w, "Reason:      %s\n", reason)
	}

	if chk.Match.Rule != nil && len(chk.Match.Rule.Constraints) > 0 {
		fmt.Fprintf(w, "Constraints: %s\n", describeConstraints(chk.Match.Rule.Constraints))
	}
	if !chk.Validation.Valid {
		fmt.Fprintln(w, "Validation:  failed")
	}

	if fallback {
		fmt.Fprintln(w, "Note:        configuration failed to load, every operation is denied")
	}
}
