package audit

import (
	"context"
	"sort"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
)

// Filter narrows the aggregate queries. The zero value selects everything.
// Filterは集計クエリを絞り込みます。ゼロ値はすべてを選択します。
type Filter struct {
	Kind  Kind
	Since time.Time
}

// where renders the filter as a WHERE clause and its arguments.
func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Summary holds the overall counts.
// Summaryは全体の件数を保持します。
type Summary struct {
	Total    int64
	Allowed  int64
	Denied   int64
	Executed int64 // entries with a recorded outcome
	Failed   int64 // executed entries with a non-zero exit code
}

// Summary returns the overall counts.
// Summaryは全体の件数を返します。
func (s *Store) Summary(ctx context.Context, f Filter) (Summary, error) {
	where, args := f.where()
	var sum Summary
	err := s.query(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(decision = 'allow'), 0),
		       COALESCE(SUM(decision = 'deny'), 0),
		       COALESCE(SUM(completed_at IS NOT NULL), 0),
		       COALESCE(SUM(exit_code IS NOT NULL AND exit_code != 0), 0)
		  FROM audit_log`+where, args,
		func(stmt *sqlite.Stmt) error {
			sum = Summary{
				Total:    stmt.ColumnInt64(0),
				Allowed:  stmt.ColumnInt64(1),
				Denied:   stmt.ColumnInt64(2),
				Executed: stmt.ColumnInt64(3),
				Failed:   stmt.ColumnInt64(4),
			}
			return nil
		})
	return sum, err
}

// PatternCount is the number of decisions made by one pattern.
// Pattern is empty for default decisions.
//
// PatternCountは1つのパターンによる判定の件数です。
// デフォルト判定ではPatternは空です。
type PatternCount struct {
	Pattern  string
	Decision string
	Count    int64
}

// PatternCounts returns decision counts per matched pattern, most used first.
// PatternCountsはマッチしたパターンごとの判定件数を多い順に返します。
func (s *Store) PatternCounts(ctx context.Context, f Filter) ([]PatternCount, error) {
	where, args := f.where()
	var counts []PatternCount
	err := s.query(ctx, `
		SELECT COALESCE(pattern, ''), decision, COUNT(*) AS n
		  FROM audit_log`+where+`
		 GROUP BY pattern, decision
		 ORDER BY n DESC, pattern, decision`, args,
		func(stmt *sqlite.Stmt) error {
			counts = append(counts, PatternCount{
				Pattern:  stmt.ColumnText(0),
				Decision: stmt.ColumnText(1),
				Count:    stmt.ColumnInt64(2),
			})
			return nil
		})
	return counts, err
}

// OperationCount is the number of entries for one operation string.
// OperationCountは1つの操作文字列のエントリ件数です。
type OperationCount struct {
	Operation string
	Count     int64
}

// TopDenied returns the most frequently denied operations.
// TopDeniedは最も頻繁に拒否された操作を返します。
func (s *Store) TopDenied(ctx context.Context, f Filter, limit int) ([]OperationCount, error) {
	if limit <= 0 {
		limit = 10
	}
	where, args := f.where()
	if where == "" {
		where = " WHERE decision = 'deny'"
	} else {
		where += " AND decision = 'deny'"
	}
	args = append(args, limit)

	var top []OperationCount
	err := s.query(ctx, `
		SELECT operation, COUNT(*) AS n
		  FROM audit_log`+where+`
		 GROUP BY operation
		 ORDER BY n DESC, operation
		 LIMIT ?`, args,
		func(stmt *sqlite.Stmt) error {
			top = append(top, OperationCount{
				Operation: stmt.ColumnText(0),
				Count:     stmt.ColumnInt64(1),
			})
			return nil
		})
	return top, err
}

// TreeNode groups entries by their leading words.
// The children of a node share its words as prefix.
//
// TreeNodeはエントリを先頭の単語でグループ化します。
// ノードの子はその単語列をプレフィックスとして共有します。
type TreeNode struct {
	Word     string
	Count    int64
	Allowed  int64
	Denied   int64
	Children []*TreeNode
}

// CommandTree groups entries hierarchically by their first depth words
// (for docker operations the "operation:target" string is one word).
// Siblings are ordered by count, then word.
//
// CommandTreeはエントリを先頭depth個の単語で階層的にグループ化します。
// 兄弟ノードは件数、次に単語の順に並びます。
func (s *Store) CommandTree(ctx context.Context, f Filter, depth int) ([]*TreeNode, error) {
	if depth <= 0 {
		depth = 2
	}
	where, args := f.where()

	root := &TreeNode{}
	err := s.query(ctx, `
		SELECT operation, decision, COUNT(*)
		  FROM audit_log`+where+`
		 GROUP BY operation, decision`, args,
		func(stmt *sqlite.Stmt) error {
			words := strings.Fields(stmt.ColumnText(0))
			if len(words) > depth {
				words = words[:depth]
			}
			addPath(root, words, stmt.ColumnText(1), stmt.ColumnInt64(2))
			return nil
		})
	if err != nil {
		return nil, err
	}

	sortTree(root)
	return root.Children, nil
}

func addPath(node *TreeNode, words []string, decision string, n int64) {
	for _, w := range words {
		var child *TreeNode
		for _, c := range node.Children {
			if c.Word == w {
				child = c
				break
			}
		}
		if child == nil {
			child = &TreeNode{Word: w}
			node.Children = append(node.Children, child)
		}
		child.Count += n
		if decision == DecisionAllow {
			child.Allowed += n
		} else {
			child.Denied += n
		}
		node = child
	}
}

func sortTree(node *TreeNode) {
	sort.Slice(node.Children, func(i, j int) bool {
		a, b := node.Children[i], node.Children[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Word < b.Word
	})
	for _, c := range node.Children {
		sortTree(c)
	}
}

// Recent returns the newest entries first.
// Recentは新しいエントリから順に返します。
func (s *Store) Recent(ctx context.Context, f Filter, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	where, args := f.where()
	args = append(args, limit)

	var entries []Entry
	err := s.query(ctx, `SELECT `+entryColumns+` FROM audit_log`+where+` ORDER BY id DESC LIMIT ?`, args,
		func(stmt *sqlite.Stmt) error {
			entries = append(entries, scanEntry(stmt))
			return nil
		})
	return entries, err
}
