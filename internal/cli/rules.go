// rules.go implements the 'rules' command for listing the active policy.
//
// rules.goは有効なポリシーを一覧表示する'rules'コマンドを実装します。
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/security"
)

var rulesCmd = &cobra.Command{
	Use:   "rules [shell|docker]",
	Short: "List the active rules in evaluation order",
	Long: `List the compiled rules of the shell and docker policies in the order they are
evaluated. Multi-pattern rules appear once per pattern. The last line of each
table is the default decision.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"shell", "docker"},
	RunE:      runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	which := ""
	if len(args) == 1 {
		which = args[0]
	}

	out := cmd.OutOrStdout()
	switch which {
	case "":
		fmt.Fprintln(out, "Shell rules:")
		if err := printRules(out, a.shellEngine.Policy()); err != nil {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Docker rules:")
		return printRules(out, a.dockerEngine.Policy())
	case "shell":
		return printRules(out, a.shellEngine.Policy())
	case "docker":
		return printRules(out, a.dockerEngine.Policy())
	default:
		return fmt.Errorf("unknown policy %q: expected shell or docker", which)
	}
}

// printRules prints the compiled rules of policy as a table.
// printRulesはpolicyのコンパイル済みルールをテーブルで表示します。
func printRules(out io.Writer, policy *security.PolicyConfig) error {
	if policy.Fallback {
		fmt.Fprintln(out, "(configuration failed to load, every operation is denied)")
	}

	w := newTable(out)
	fmt.Fprintln(w, "#\tPATTERN\tDECISION\tCONSTRAINTS\tREASON")
	fmt.Fprintln(w, "-\t-------\t--------\t-----------\t------")
	for i, cr := range policy.Rules {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			i+1, cr.Rule.Pattern, cr.Rule.Decision, describeConstraints(cr.Rule.Constraints), orDash(cr.Rule.Reason))
	}
	fmt.Fprintf(w, "*\t(default)\t%s\t-\t%s\n", policy.DefaultDecision, orDash(policy.DefaultReason))
	return w.Flush()
}

func describeConstraints(cs []security.Constraint) string {
	if len(cs) == 0 {
		return "-"
	}
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = security.DescribeConstraint(c)
	}
	return strings.Join(names, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
