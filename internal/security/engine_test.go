package security

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/config"
)

// mustPolicy compiles a policy section or fails the test.
func mustPolicy(t *testing.T, section *config.PolicyConfig) *PolicyConfig {
	t.Helper()
	policy, err := NewPolicyConfig(section)
	if err != nil {
		t.Fatalf("NewPolicyConfig() error = %v", err)
	}
	return policy
}

// TestNewPolicyConfig_ExpandsInPlace verifies that multi-pattern rules are
// expanded at their own position and share decision, reason and constraints.
//
// TestNewPolicyConfig_ExpandsInPlaceは複数パターンのルールがその位置で展開され、
// 判定・理由・制約を共有することを検証します。
func TestNewPolicyConfig_ExpandsInPlace(t *testing.T) {
	policy := mustPolicy(t, &config.PolicyConfig{
		Rules: []config.RuleConfig{
			{Pattern: "first", Decision: "deny", Reason: "one"},
			{
				Pattern:     "second-a",
				Patterns:    []string{"second-b", "second-c"},
				Decision:    "allow",
				Reason:      "two",
				Constraints: []config.ConstraintConfig{{Type: config.ConstraintNoForce}},
			},
			{Pattern: "third", Decision: "allow"},
		},
	})

	want := []string{"first", "second-a", "second-b", "second-c", "third"}
	if len(policy.Rules) != len(want) {
		t.Fatalf("len(Rules) = %d, want %d", len(policy.Rules), len(want))
	}
	for i, p := range want {
		if got := policy.Rules[i].Rule.Pattern; got != p {
			t.Errorf("Rules[%d].Pattern = %q, want %q", i, got, p)
		}
	}
	for i := 1; i <= 3; i++ {
		r := policy.Rules[i].Rule
		if r.Decision != Allow || r.Reason != "two" || len(r.Constraints) != 1 {
			t.Errorf("expanded rule %d = %+v", i, r)
		}
		if _, ok := r.Constraints[0].(NoForce); !ok {
			t.Errorf("expanded rule %d constraint = %T, want NoForce", i, r.Constraints[0])
		}
	}

	if policy.DefaultDecision != Deny {
		t.Errorf("empty default should be deny, got %q", policy.DefaultDecision)
	}
	if policy.Fallback {
		t.Error("compiled policy must not be marked as fallback")
	}
}

// TestNewPolicyConfig_Errors tests that malformed sections are rejected.
// TestNewPolicyConfig_Errorsは不正なセクションが拒否されることをテストします。
func TestNewPolicyConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		section *config.PolicyConfig
	}{
		{"nil section", nil},
		{"bad default", &config.PolicyConfig{Default: "sometimes"}},
		{"missing decision", &config.PolicyConfig{Rules: []config.RuleConfig{{Pattern: "ls"}}}},
		{"missing pattern", &config.PolicyConfig{Rules: []config.RuleConfig{{Decision: "allow"}}}},
		{"unknown constraint", &config.PolicyConfig{Rules: []config.RuleConfig{{
			Pattern: "ls", Decision: "allow",
			Constraints: []config.ConstraintConfig{{Type: "bogus"}},
		}}}},
		{"bad memory", &config.PolicyConfig{Rules: []config.RuleConfig{{
			Pattern: "create_container:*", Decision: "allow",
			Constraints: []config.ConstraintConfig{{Type: config.ConstraintResourceLimits, MaxMemory: "huge"}},
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPolicyConfig(tt.section); err == nil {
				t.Error("NewPolicyConfig() expected error")
			}
		})
	}
}

// TestEngine_FirstMatchWins verifies that rule order decides, not specificity.
// TestEngine_FirstMatchWinsは具体性ではなくルールの順序で決まることを検証します。
func TestEngine_FirstMatchWins(t *testing.T) {
	engine := NewEngine(mustPolicy(t, &config.PolicyConfig{
		Rules: []config.RuleConfig{
			{Pattern: "rm *", Decision: "deny", Reason: "no deletes"},
			{Pattern: "rm -i *", Decision: "allow"},
		},
	}))

	got := engine.Decide("rm -i file")
	if got.Pattern != "rm *" {
		t.Errorf("Decide().Pattern = %q, want %q", got.Pattern, "rm *")
	}
	if got.Decision != Deny || got.Reason != "no deletes" || got.IsDefault {
		t.Errorf("Decide() = %+v", got)
	}
	if got.Rule == nil || got.Rule.Pattern != "rm *" {
		t.Errorf("Decide().Rule = %+v", got.Rule)
	}
}

// TestEngine_DefaultDecision verifies the default branch.
// TestEngine_DefaultDecisionはデフォルト分岐を検証します。
func TestEngine_DefaultDecision(t *testing.T) {
	tests := []struct {
		name    string
		section *config.PolicyConfig
		want    Decision
	}{
		{"implicit deny", &config.PolicyConfig{Rules: []config.RuleConfig{{Pattern: "ls", Decision: "allow"}}}, Deny},
		{"explicit deny", &config.PolicyConfig{Default: "deny", DefaultReason: "nope"}, Deny},
		{"explicit allow", &config.PolicyConfig{Default: "allow"}, Allow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(mustPolicy(t, tt.section))
			got := engine.Decide("something unmatched")
			if got.Decision != tt.want || !got.IsDefault || got.Pattern != "" || got.Rule != nil {
				t.Errorf("Decide() = %+v, want default %q", got, tt.want)
			}
			if got.Reason != tt.section.DefaultReason {
				t.Errorf("Decide().Reason = %q, want %q", got.Reason, tt.section.DefaultReason)
			}
		})
	}
}

// TestEngine_TrimsWhitespace verifies normalization before matching.
// TestEngine_TrimsWhitespaceはマッチング前の正規化を検証します。
func TestEngine_TrimsWhitespace(t *testing.T) {
	engine := NewEngine(mustPolicy(t, &config.PolicyConfig{
		Rules: []config.RuleConfig{{Pattern: "ls", Decision: "allow"}},
	}))
	if got := engine.Decide("  ls \t\n"); got.Decision != Allow || got.IsDefault {
		t.Errorf("Decide() = %+v, want allow via rule", got)
	}
}

// TestEngine_FullStringMatch verifies that a matching prefix is not enough.
// TestEngine_FullStringMatchは前方一致だけでは不十分であることを検証します。
func TestEngine_FullStringMatch(t *testing.T) {
	engine := NewEngine(mustPolicy(t, &config.PolicyConfig{
		Rules: []config.RuleConfig{{Pattern: "git status", Decision: "allow"}},
	}))
	for _, op := range []string{"git status; rm -rf /", "sudo git status", "git statuses"} {
		if got := engine.Decide(op); got.Decision != Deny {
			t.Errorf("Decide(%q) = %q, want deny", op, got.Decision)
		}
	}
}

// TestBuildPolicy_FailClosed verifies that load and compile errors yield a
// policy equivalent to {rules: [], default: deny}.
//
// TestBuildPolicy_FailClosedは読み込みやコンパイルのエラーが
// {rules: [], default: deny} と等価なポリシーになることを検証します。
func TestBuildPolicy_FailClosed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	good := &config.PolicyConfig{
		Default: "allow",
		Rules:   []config.RuleConfig{{Pattern: "*", Decision: "allow"}},
	}
	bad := &config.PolicyConfig{
		Default: "allow",
		Rules:   []config.RuleConfig{{Pattern: "*", Decision: "perhaps"}},
	}

	tests := []struct {
		name    string
		section *config.PolicyConfig
		loadErr error
	}{
		{"load error", good, errors.New("read failed")},
		{"compile error", bad, nil},
		{"missing section", nil, nil},
	}

	reference := NewEngine(mustPolicy(t, &config.PolicyConfig{Default: "deny", DefaultReason: FallbackReason}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			policy := BuildPolicy("shell", tt.section, tt.loadErr, logger)
			if !policy.Fallback || len(policy.Rules) != 0 || policy.DefaultDecision != Deny {
				t.Fatalf("BuildPolicy() = %+v, want fallback", policy)
			}
			if !strings.Contains(buf.String(), "denying all operations") {
				t.Errorf("expected error to be logged, got %q", buf.String())
			}

			engine := NewEngine(policy)
			for _, op := range []string{"ls", "rm -rf /", "", "list_containers"} {
				got, want := engine.Decide(op), reference.Decide(op)
				if got != want {
					t.Errorf("Decide(%q) = %+v, want %+v", op, got, want)
				}
			}
		})
	}

	// A valid section loads normally
	// 有効なセクションは通常通り読み込まれる
	if policy := BuildPolicy("shell", good, nil, logger); policy.Fallback || len(policy.Rules) != 1 {
		t.Errorf("BuildPolicy(valid) = %+v", policy)
	}
}

// TestNewEngine_NilPolicy verifies that a nil policy is fail-closed.
// TestNewEngine_NilPolicyはnilのポリシーがフェイルクローズであることを検証します。
func TestNewEngine_NilPolicy(t *testing.T) {
	got := NewEngine(nil).Decide("ls")
	if got.Decision != Deny || !got.IsDefault || got.Reason != FallbackReason {
		t.Errorf("Decide() = %+v", got)
	}
}

// TestEngine_Rules verifies that Rules returns a copy in order.
// TestEngine_RulesはRulesが順序通りのコピーを返すことを検証します。
func TestEngine_Rules(t *testing.T) {
	engine := NewEngine(mustPolicy(t, &config.PolicyConfig{
		Rules: []config.RuleConfig{
			{Patterns: []string{"a", "b"}, Decision: "allow"},
		},
	}))
	rules := engine.Rules()
	if len(rules) != 2 || rules[0].Rule.Pattern != "a" || rules[1].Rule.Pattern != "b" {
		t.Fatalf("Rules() = %+v", rules)
	}
	rules[0] = CompiledRule{}
	if engine.Rules()[0].Rule == nil {
		t.Error("modifying the returned slice must not affect the engine")
	}
}

// TestEngine_ConcurrentDecide exercises Decide from many goroutines.
// Run with -race to detect data races.
//
// TestEngine_ConcurrentDecideは多数のゴルーチンからDecideを実行します。
// データ競合の検出には-raceを付けて実行してください。
func TestEngine_ConcurrentDecide(t *testing.T) {
	engine := NewEngine(mustPolicy(t, &config.PolicyConfig{
		Rules: []config.RuleConfig{
			{Pattern: "ls *", Decision: "allow"},
			{Pattern: "rm *", Decision: "deny"},
		},
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if engine.Decide("ls -la").Decision != Allow {
					t.Error("ls should be allowed")
					return
				}
				if engine.Decide("rm x").Decision != Deny {
					t.Error("rm should be denied")
					return
				}
			}
		}()
	}
	wg.Wait()
}
