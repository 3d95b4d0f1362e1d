package security

import "strings"

// MatchResult is the outcome of Engine.Decide.
// MatchResultはEngine.Decideの結果です。
type MatchResult struct {
	Decision Decision

	// Pattern is the matched rule pattern, or "" for the default decision.
	// Patternはマッチしたルールのパターン、デフォルト判定の場合は "" です。
	Pattern string

	Reason string

	// Rule is the matched rule (nil for the default decision); its
	// constraints are checked with Validate.
	// Ruleはマッチしたルール（デフォルト判定ではnil）。制約はValidateでチェックされます。
	Rule *Rule

	IsDefault bool
}

// Allowed reports whether the decision is Allow.
func (m MatchResult) Allowed() bool {
	return m.Decision == Allow
}

// Engine evaluates operation strings against one PolicyConfig.
// It only reads immutable data and is safe for concurrent use without locking.
//
// EngineはPolicyConfigに対して操作文字列を評価します。
// 不変データのみを読み取るため、ロックなしで並行利用しても安全です。
type Engine struct {
	policy *PolicyConfig
}

// NewEngine creates an Engine over policy.
// A nil policy is replaced by FallbackPolicy.
//
// NewEngineはpolicyに対するEngineを作成します。
// nilのpolicyはFallbackPolicyに置き換えられます。
func NewEngine(policy *PolicyConfig) *Engine {
	if policy == nil {
		policy = FallbackPolicy()
	}
	return &Engine{policy: policy}
}

// Decide returns the decision for an operation string.
// Surrounding whitespace is trimmed, then rules are tried in order and the
// first matching pattern wins. If none matches, the default decision is
// returned with IsDefault set.
//
// Decideは操作文字列に対する判定を返します。
// 前後の空白を除去した後、ルールを順に試し、最初にマッチしたパターンが優先されます。
// どれにもマッチしない場合はIsDefaultを設定してデフォルト判定を返します。
func (e *Engine) Decide(operation string) MatchResult {
	op := strings.TrimSpace(operation)

	for _, cr := range e.policy.Rules {
		if cr.Matcher.Match(op) {
			return MatchResult{
				Decision: cr.Rule.Decision,
				Pattern:  cr.Rule.Pattern,
				Reason:   cr.Rule.Reason,
				Rule:     cr.Rule,
			}
		}
	}

	return MatchResult{
		Decision:  e.policy.DefaultDecision,
		Reason:    e.policy.DefaultReason,
		IsDefault: true,
	}
}

// Rules returns a copy of the compiled rule list in evaluation order.
// Rulesは評価順のコンパイル済みルールリストのコピーを返します。
func (e *Engine) Rules() []CompiledRule {
	return append([]CompiledRule(nil), e.policy.Rules...)
}

// Policy returns the underlying policy.
func (e *Engine) Policy() *PolicyConfig {
	return e.policy
}
