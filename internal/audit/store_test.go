package audit

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// openTestStore opens a store on a temporary file.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(context.Background(), StoreConfig{
		Path:     filepath.Join(t.TempDir(), "audit", "audit.db"),
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func record(t *testing.T, s *Store, e Entry) int64 {
	t.Helper()
	id, err := s.RecordAttempt(context.Background(), e)
	if err != nil {
		t.Fatalf("RecordAttempt(%+v) error = %v", e, err)
	}
	return id
}

// TestStore_OutcomeRoundTrip verifies that an outcome updates exactly the
// entry it was recorded for.
//
// TestStore_OutcomeRoundTripは結果が記録対象のエントリのみを更新することを検証します。
func TestStore_OutcomeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := record(t, s, Entry{Kind: KindShell, Operation: "ls -la", Target: "/project", Pattern: "ls *", Decision: DecisionAllow})
	second := record(t, s, Entry{Kind: KindShell, Operation: "cat x", Target: "/project", Pattern: "cat *", Decision: DecisionAllow})
	if first == second || first <= 0 || second <= 0 {
		t.Fatalf("ids = %d, %d; want distinct positive ids", first, second)
	}

	code := 0
	if err := s.RecordOutcome(ctx, second, Outcome{Summary: "success", ExitCode: &code, DurationMs: 42}); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}

	got, err := s.Get(ctx, second)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Completed || got.Summary != "success" || got.DurationMs != 42 || got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("completed entry = %+v", got)
	}
	if got.Operation != "cat x" || got.Pattern != "cat *" || got.Target != "/project" {
		t.Errorf("creation fields changed: %+v", got)
	}

	other, err := s.Get(ctx, first)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if other.Completed || other.Summary != "" || other.DurationMs != 0 || other.ExitCode != nil {
		t.Errorf("untouched entry was modified: %+v", other)
	}

	// An entry is completed at most once
	// エントリの完了は最大一度
	if err := s.RecordOutcome(ctx, second, Outcome{Summary: "again"}); err == nil {
		t.Error("second RecordOutcome on the same entry should fail")
	}
	if err := s.RecordOutcome(ctx, 9999, Outcome{Summary: "x"}); err == nil {
		t.Error("RecordOutcome on an unknown id should fail")
	}
}

// TestStore_DefaultDecisionHasNullPattern verifies default decisions are
// stored without a pattern.
//
// TestStore_DefaultDecisionHasNullPatternはデフォルト判定がパターンなしで保存されることを検証します。
func TestStore_DefaultDecisionHasNullPattern(t *testing.T) {
	s := openTestStore(t)
	id := record(t, s, Entry{Kind: KindDocker, Operation: "remove_volume:data", Decision: DecisionDeny, Reason: "not allowed"})

	got, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Pattern != "" || got.Reason != "not allowed" || got.Kind != KindDocker {
		t.Errorf("entry = %+v", got)
	}
}

func TestStore_RecordAttemptValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.RecordAttempt(ctx, Entry{Decision: DecisionAllow}); err == nil {
		t.Error("missing operation should fail")
	}
	if _, err := s.RecordAttempt(ctx, Entry{Operation: "ls", Decision: "maybe"}); err == nil {
		t.Error("invalid decision should fail")
	}
}

// seed inserts a fixed set of entries for the aggregate query tests.
func seed(t *testing.T, s *Store) {
	t.Helper()
	code0, code1 := 0, 1
	entries := []struct {
		e Entry
		o *Outcome
	}{
		{Entry{Kind: KindShell, Operation: "git status", Pattern: "git status*", Decision: DecisionAllow}, &Outcome{Summary: "success", ExitCode: &code0}},
		{Entry{Kind: KindShell, Operation: "git log --oneline", Pattern: "git log*", Decision: DecisionAllow}, &Outcome{Summary: "success", ExitCode: &code0}},
		{Entry{Kind: KindShell, Operation: "git push origin main", Decision: DecisionDeny}, nil},
		{Entry{Kind: KindShell, Operation: "git push origin main", Decision: DecisionDeny}, nil},
		{Entry{Kind: KindShell, Operation: "rm -rf /", Pattern: "rm *", Decision: DecisionDeny}, nil},
		{Entry{Kind: KindShell, Operation: "ls missing", Pattern: "ls *", Decision: DecisionAllow}, &Outcome{Summary: "exit status 1", ExitCode: &code1}},
		{Entry{Kind: KindDocker, Operation: "list_containers", Pattern: "list_containers", Decision: DecisionAllow}, &Outcome{Summary: "success"}},
		{Entry{Kind: KindDocker, Operation: "remove_container:db", Decision: DecisionDeny}, nil},
	}
	for _, item := range entries {
		id := record(t, s, item.e)
		if item.o != nil {
			if err := s.RecordOutcome(context.Background(), id, *item.o); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func TestStore_Summary(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   Summary
	}{
		{"all", Filter{}, Summary{Total: 8, Allowed: 4, Denied: 4, Executed: 4, Failed: 1}},
		{"shell", Filter{Kind: KindShell}, Summary{Total: 6, Allowed: 3, Denied: 3, Executed: 3, Failed: 1}},
		{"docker", Filter{Kind: KindDocker}, Summary{Total: 2, Allowed: 1, Denied: 1, Executed: 1, Failed: 0}},
		{"future", Filter{Since: time.Now().Add(time.Hour)}, Summary{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Summary(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Summary() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Summary() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStore_PatternCounts(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)

	counts, err := s.PatternCounts(context.Background(), Filter{Kind: KindShell})
	if err != nil {
		t.Fatalf("PatternCounts() error = %v", err)
	}
	if len(counts) == 0 {
		t.Fatal("PatternCounts() returned nothing")
	}
	// The two default denials of "git push" are the largest group
	// "git push" の2件のデフォルト拒否が最大のグループ
	if counts[0].Pattern != "" || counts[0].Decision != DecisionDeny || counts[0].Count != 2 {
		t.Errorf("counts[0] = %+v, want default deny x2", counts[0])
	}
	var total int64
	for _, c := range counts {
		total += c.Count
	}
	if total != 6 {
		t.Errorf("sum of counts = %d, want 6", total)
	}
}

func TestStore_TopDenied(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)

	top, err := s.TopDenied(context.Background(), Filter{}, 2)
	if err != nil {
		t.Fatalf("TopDenied() error = %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("len(TopDenied) = %d, want 2", len(top))
	}
	if top[0].Operation != "git push origin main" || top[0].Count != 2 {
		t.Errorf("top[0] = %+v", top[0])
	}
	// Ties are ordered by operation
	// 同数の場合は操作文字列順
	if top[1].Operation != "remove_container:db" || top[1].Count != 1 {
		t.Errorf("top[1] = %+v", top[1])
	}
}

func TestStore_CommandTree(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)

	tree, err := s.CommandTree(context.Background(), Filter{Kind: KindShell}, 2)
	if err != nil {
		t.Fatalf("CommandTree() error = %v", err)
	}
	if len(tree) != 3 {
		t.Fatalf("len(tree) = %d, want 3 (git, ls, rm)", len(tree))
	}

	git := tree[0]
	if git.Word != "git" || git.Count != 4 || git.Allowed != 2 || git.Denied != 2 {
		t.Errorf("git node = %+v", git)
	}
	if len(git.Children) != 3 {
		t.Fatalf("len(git.Children) = %d, want 3", len(git.Children))
	}
	if git.Children[0].Word != "push" || git.Children[0].Count != 2 {
		t.Errorf("git.Children[0] = %+v", git.Children[0])
	}
	for _, c := range git.Children {
		if len(c.Children) != 0 {
			t.Errorf("depth 2 tree should have no third level, got %+v", c.Children)
		}
	}

	if tree[1].Word != "ls" || tree[2].Word != "rm" {
		t.Errorf("siblings with equal counts should be ordered by word: %q, %q", tree[1].Word, tree[2].Word)
	}
}

func TestStore_Recent(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)

	recent, err := s.Recent(context.Background(), Filter{}, 3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len(Recent) = %d, want 3", len(recent))
	}
	if recent[0].Operation != "remove_container:db" {
		t.Errorf("newest entry = %q", recent[0].Operation)
	}
	if recent[0].ID <= recent[1].ID || recent[1].ID <= recent[2].ID {
		t.Error("Recent should be ordered newest first")
	}
	if !recent[1].Completed || recent[1].Summary != "success" {
		t.Errorf("recent[1] = %+v", recent[1])
	}
}

// TestStore_ConcurrentWrites verifies that concurrent writers each get a
// distinct id and nothing is lost.
//
// TestStore_ConcurrentWritesは並行書き込みがそれぞれ異なるIDを得て、
// 何も失われないことを検証します。
func TestStore_ConcurrentWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const workers, perWorker = 4, 10
	var mu sync.Mutex
	ids := make(map[int64]bool)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := s.RecordAttempt(ctx, Entry{Kind: KindShell, Operation: "echo hi", Decision: DecisionAllow})
				if err != nil {
					t.Error(err)
					return
				}
				if err := s.RecordOutcome(ctx, id, Outcome{Summary: "success"}); err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				ids[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(ids) != workers*perWorker {
		t.Errorf("got %d distinct ids, want %d", len(ids), workers*perWorker)
	}
	sum, err := s.Summary(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != workers*perWorker || sum.Executed != workers*perWorker {
		t.Errorf("Summary() = %+v", sum)
	}
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()

	t.Run("store and mirror", func(t *testing.T) {
		s := openTestStore(t)
		var buf bytes.Buffer
		r := NewRecorder(s, NewJSONLoggerWriter(&buf))

		id, err := r.RecordAttempt(ctx, Entry{Kind: KindShell, Operation: "ls", Decision: DecisionAllow})
		if err != nil {
			t.Fatal(err)
		}
		if err := r.RecordOutcome(ctx, id, Outcome{Summary: "success"}); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, id)
		if err != nil || !got.Completed {
			t.Errorf("Get() = %+v, %v", got, err)
		}
		if n := strings.Count(buf.String(), "audit_event"); n != 2 {
			t.Errorf("mirror wrote %d events, want 2", n)
		}
	})

	t.Run("mirror only", func(t *testing.T) {
		var buf bytes.Buffer
		r := NewRecorder(nil, NewJSONLoggerWriter(&buf))
		a, _ := r.RecordAttempt(ctx, Entry{Operation: "ls", Decision: DecisionAllow})
		b, _ := r.RecordAttempt(ctx, Entry{Operation: "ls", Decision: DecisionAllow})
		if a == b {
			t.Errorf("ids should be distinct, got %d and %d", a, b)
		}
		if err := r.Close(); err != nil {
			t.Errorf("Close() = %v", err)
		}
	})
}
