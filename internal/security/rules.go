package security

import (
	"fmt"
	"log/slog"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/config"
)

// Decision is the outcome of a policy evaluation.
// Decisionはポリシー評価の結果です。
type Decision string

const (
	// Allow permits the operation (subject to the rule's constraints).
	// Allowは操作を許可します（ルールの制約に従う）。
	Allow Decision = "allow"

	// Deny rejects the operation.
	// Denyは操作を拒否します。
	Deny Decision = "deny"
)

// FallbackReason is the default reason of the fail-closed policy.
// FallbackReasonはフェイルクローズポリシーのデフォルト理由です。
const FallbackReason = "configuration failed to load"

// Rule is a single pattern with its decision, reason and constraints.
// A multi-pattern rule from the configuration becomes several Rules that
// share the same decision, reason and constraints.
//
// Ruleは単一のパターンとその判定・理由・制約です。
// 設定上の複数パターンのルールは、同じ判定・理由・制約を共有する複数のRuleになります。
type Rule struct {
	Pattern     string
	Decision    Decision
	Reason      string
	Constraints []Constraint
}

// CompiledRule pairs a Rule with its pre-built matcher. Immutable once built.
// CompiledRuleはRuleと事前構築済みのマッチャーの組です。構築後は不変です。
type CompiledRule struct {
	Rule    *Rule
	Matcher *Matcher
}

// PolicyConfig is the ordered rule list and default decision of one domain
// (shell commands or Docker operations).
// It is built once at startup and never modified afterwards.
//
// PolicyConfigは1つのドメイン（シェルコマンドまたはDocker操作）の
// 順序付きルールリストとデフォルト判定です。
// 起動時に一度だけ構築され、その後変更されることはありません。
type PolicyConfig struct {
	Rules           []CompiledRule
	DefaultDecision Decision
	DefaultReason   string

	// Fallback is true when the policy is the fail-closed replacement for a
	// configuration that failed to load.
	// Fallbackは読み込みに失敗した設定の代わりのフェイルクローズポリシーの場合にtrueです。
	Fallback bool
}

// FallbackPolicy returns the fail-closed policy: no rules, default deny.
// FallbackPolicyはフェイルクローズポリシー（ルールなし、デフォルト拒否）を返します。
func FallbackPolicy() *PolicyConfig {
	return &PolicyConfig{
		DefaultDecision: Deny,
		DefaultReason:   FallbackReason,
		Fallback:        true,
	}
}

// NewPolicyConfig compiles a configuration section into a PolicyConfig.
// Multi-pattern rules are expanded in place, so rule order is exactly the
// configuration order. An empty default decision means deny.
//
// NewPolicyConfigは設定セクションをPolicyConfigにコンパイルします。
// 複数パターンのルールはその位置で展開されるため、ルール順序は設定の順序と完全に一致します。
// 空のデフォルト判定は拒否を意味します。
func NewPolicyConfig(section *config.PolicyConfig) (*PolicyConfig, error) {
	if section == nil {
		return nil, fmt.Errorf("policy section is missing")
	}

	def, err := parseDecision(section.Default, Deny)
	if err != nil {
		return nil, fmt.Errorf("default: %w", err)
	}

	policy := &PolicyConfig{
		DefaultDecision: def,
		DefaultReason:   section.DefaultReason,
	}

	for i, rc := range section.Rules {
		patterns := rc.AllPatterns()
		if len(patterns) == 0 {
			return nil, fmt.Errorf("rule %d: pattern or patterns is required", i+1)
		}

		decision, err := parseDecision(rc.Decision, "")
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}

		constraints := make([]Constraint, 0, len(rc.Constraints))
		for j, cc := range rc.Constraints {
			c, err := CompileConstraint(cc)
			if err != nil {
				return nil, fmt.Errorf("rule %d: constraint %d: %w", i+1, j+1, err)
			}
			constraints = append(constraints, c)
		}

		// Expand in place: one compiled rule per pattern, same position
		// その位置で展開：パターンごとに1つのコンパイル済みルール
		for _, p := range patterns {
			policy.Rules = append(policy.Rules, CompiledRule{
				Rule: &Rule{
					Pattern:     p,
					Decision:    decision,
					Reason:      rc.Reason,
					Constraints: constraints,
				},
				Matcher: CompilePattern(p),
			})
		}
	}

	return policy, nil
}

// BuildPolicy is the fail-closed entry point used at startup.
// If the configuration could not be loaded (loadErr != nil) or the section
// does not compile, the error is logged and FallbackPolicy is returned.
// It never returns nil.
//
// BuildPolicyは起動時に使用されるフェイルクローズのエントリポイントです。
// 設定が読み込めなかった場合（loadErr != nil）やセクションのコンパイルに失敗した場合、
// エラーをログに記録してFallbackPolicyを返します。nilを返すことはありません。
func BuildPolicy(name string, section *config.PolicyConfig, loadErr error, logger *slog.Logger) *PolicyConfig {
	if logger == nil {
		logger = slog.Default()
	}

	if loadErr != nil {
		logger.Error("configuration failed to load, denying all operations",
			"policy", name,
			"error", loadErr)
		return FallbackPolicy()
	}

	policy, err := NewPolicyConfig(section)
	if err != nil {
		logger.Error("policy failed to compile, denying all operations",
			"policy", name,
			"error", err)
		return FallbackPolicy()
	}

	logger.Debug("policy loaded",
		"policy", name,
		"rules", len(policy.Rules),
		"default", policy.DefaultDecision)
	return policy
}

// parseDecision converts a configuration decision string.
// An empty string yields def; if def is also empty, empty is an error.
func parseDecision(s string, def Decision) (Decision, error) {
	switch s {
	case config.DecisionAllow:
		return Allow, nil
	case config.DecisionDeny:
		return Deny, nil
	case "":
		if def != "" {
			return def, nil
		}
		return "", fmt.Errorf("decision is required")
	default:
		return "", fmt.Errorf("invalid decision %q (must be allow or deny)", s)
	}
}
