// audit.go implements the 'audit' command group for querying the audit log.
//
// audit.goは監査ログを照会する'audit'コマンドグループを実装します。
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/audit"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/config"
)

var (
	flagAuditKind  string
	flagAuditSince time.Duration
	flagAuditTop   int
	flagAuditDepth int
	flagAuditLimit int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit log",
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show decision statistics",
	Long: `Show decision counts, per-rule counts, the most denied operations and a tree of
commands grouped by their leading words.`,
	Args: cobra.NoArgs,
	RunE: runAuditStats,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit entries",
	Args:  cobra.NoArgs,
	RunE:  runAuditTail,
}

func init() {
	for _, c := range []*cobra.Command{auditStatsCmd, auditTailCmd} {
		c.Flags().StringVar(&flagAuditKind, "kind", "", "Only entries of this kind: shell or docker")
		c.Flags().DurationVar(&flagAuditSince, "since", 0, "Only entries newer than this (e.g. 24h)")
	}
	auditStatsCmd.Flags().IntVar(&flagAuditTop, "top", 10, "Number of most denied operations to show")
	auditStatsCmd.Flags().IntVar(&flagAuditDepth, "depth", 2, "Number of leading words in the command tree")
	auditTailCmd.Flags().IntVarP(&flagAuditLimit, "lines", "n", 20, "Number of entries to show")

	auditCmd.AddCommand(auditStatsCmd, auditTailCmd)
	rootCmd.AddCommand(auditCmd)
}

// auditFilter builds the query filter from --kind and --since.
func auditFilter(now time.Time) (audit.Filter, error) {
	var f audit.Filter
	switch audit.Kind(flagAuditKind) {
	case "":
	case audit.KindShell, audit.KindDocker:
		f.Kind = audit.Kind(flagAuditKind)
	default:
		return f, fmt.Errorf("invalid kind %q: expected shell or docker", flagAuditKind)
	}
	if flagAuditSince > 0 {
		f.Since = now.Add(-flagAuditSince)
	}
	return f, nil
}

// openAuditStore opens the configured audit database for reading. A missing
// database is an error rather than an empty result.
//
// openAuditStoreは設定された監査データベースを読み取り用に開きます。
// データベースが存在しない場合は空の結果ではなくエラーになります。
func openAuditStore(cmd *cobra.Command) (*audit.Store, *app, error) {
	a, err := newApp(cmd.Context(), cmd.ErrOrStderr(), false)
	if err != nil {
		return nil, nil, err
	}
	if a.loadErr != nil {
		a.Close()
		return nil, nil, a.loadErr
	}

	path := config.ExpandHome(a.cfg.Audit.Database)
	if path == "" {
		a.Close()
		return nil, nil, fmt.Errorf("audit.database is not configured")
	}
	if _, err := os.Stat(path); err != nil {
		a.Close()
		return nil, nil, fmt.Errorf("audit database not found at %s", path)
	}

	store, err := audit.OpenStore(cmd.Context(), audit.StoreConfig{Path: path, Logger: a.logger})
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return store, a, nil
}

func runAuditStats(cmd *cobra.Command, args []string) error {
	f, err := auditFilter(time.Now())
	if err != nil {
		return err
	}
	store, a, err := openAuditStore(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	defer store.Close()

	ctx := cmd.Context()
	sum, err := store.Summary(ctx, f)
	if err != nil {
		return err
	}
	patterns, err := store.PatternCounts(ctx, f)
	if err != nil {
		return err
	}
	denied, err := store.TopDenied(ctx, f, flagAuditTop)
	if err != nil {
		return err
	}
	tree, err := store.CommandTree(ctx, f, flagAuditDepth)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printSummary(out, sum)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Decisions by rule:")
	w := newTable(out)
	fmt.Fprintln(w, "PATTERN\tDECISION\tCOUNT")
	fmt.Fprintln(w, "-------\t--------\t-----")
	for _, p := range patterns {
		pattern := p.Pattern
		if pattern == "" {
			pattern = "(default)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", pattern, p.Decision, p.Count)
	}
	w.Flush()

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Most denied:")
	w = newTable(out)
	fmt.Fprintln(w, "OPERATION\tCOUNT")
	fmt.Fprintln(w, "---------\t-----")
	for _, d := range denied {
		fmt.Fprintf(w, "%s\t%d\n", truncate(d.Operation, 60), d.Count)
	}
	w.Flush()

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Command tree:")
	printTree(out, tree, 1)
	return nil
}

func printSummary(out io.Writer, s audit.Summary) {
	fmt.Fprintf(out, "Total:    %d\n", s.Total)
	fmt.Fprintf(out, "Allowed:  %d\n", s.Allowed)
	fmt.Fprintf(out, "Denied:   %d\n", s.Denied)
	fmt.Fprintf(out, "Executed: %d\n", s.Executed)
	fmt.Fprintf(out, "Failed:   %d\n", s.Failed)
}

// printTree prints nodes indented two spaces per level, with the counts of
// each node.
//
// printTreeはノードをレベルごとに2スペースずつインデントし、件数と共に表示します。
func printTree(out io.Writer, nodes []*audit.TreeNode, level int) {
	indent := strings.Repeat("  ", level)
	for _, n := range nodes {
		fmt.Fprintf(out, "%s%s  %d (allow %d, deny %d)\n", indent, n.Word, n.Count, n.Allowed, n.Denied)
		printTree(out, n.Children, level+1)
	}
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	f, err := auditFilter(time.Now())
	if err != nil {
		return err
	}
	store, a, err := openAuditStore(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	defer store.Close()

	entries, err := store.Recent(cmd.Context(), f, flagAuditLimit)
	if err != nil {
		return err
	}
	return printEntries(cmd.OutOrStdout(), entries)
}

// printEntries prints audit entries, newest first as returned by Recent.
// printEntriesは監査エントリをRecentが返す新しい順に表示します。
func printEntries(out io.Writer, entries []audit.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No audit entries found.")
		return nil
	}

	w := newTable(out)
	fmt.Fprintln(w, "ID\tTIME\tKIND\tDECISION\tOPERATION\tRULE\tRESULT")
	fmt.Fprintln(w, "--\t----\t----\t--------\t---------\t----\t------")
	for _, e := range entries {
		rule := e.Pattern
		if rule == "" {
			rule = "(default)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Timestamp.Local().Format(time.DateTime), e.Kind, e.Decision,
			truncate(e.Operation, 50), rule, entryResult(e))
	}
	return w.Flush()
}

// entryResult is the outcome column: the summary with duration for executed
// entries, the reason for denials, "-" otherwise.
func entryResult(e audit.Entry) string {
	switch {
	case e.Completed:
		return fmt.Sprintf("%s (%dms)", truncate(e.Summary, 40), e.DurationMs)
	case e.Decision == audit.DecisionDeny:
		return truncate(e.Reason, 40)
	default:
		return "-"
	}
}

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
