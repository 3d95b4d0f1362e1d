// Package gateway ties the policy engine to the collaborators that carry out
// operations. Every request follows the same path: decide, validate the
// matched rule's constraints, record the attempt, execute, record the outcome.
//
// gatewayパッケージはポリシーエンジンと操作を実行するコラボレータを結び付けます。
// すべてのリクエストは同じ経路をたどります：判定、マッチしたルールの制約検証、
// 試行の記録、実行、結果の記録。
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/audit"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/security"
)

// DeniedError is returned when the policy rejects an operation, either by a
// deny rule, the default decision or a failed constraint.
//
// DeniedErrorはポリシーが操作を拒否した場合に返されます
// （拒否ルール、デフォルト判定、制約違反のいずれか）。
type DeniedError struct {
	Operation string

	// Pattern is the matched rule pattern, empty for the default decision.
	// Patternはマッチしたルールのパターンで、デフォルト判定では空です。
	Pattern string

	Reason string
}

func (e *DeniedError) Error() string {
	if e.Pattern == "" {
		return fmt.Sprintf("denied: %s: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("denied: %s (rule %q): %s", e.Operation, e.Pattern, e.Reason)
}

// Options holds the collaborators shared by the gates.
// Optionsはゲート間で共有されるコラボレータを保持します。
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Sink defaults to audit.Discard.
	Sink audit.Sink

	// Masker defaults to a disabled masker.
	Masker *security.OutputMasker

	// SessionID and MessageID are copied into every audit entry.
	SessionID string
	MessageID string

	// Workdirs are the directories a shell command may run in, including
	// their subdirectories. Empty means the process working directory.
	// Workdirsはシェルコマンドを実行できるディレクトリ（サブディレクトリを含む）です。
	// 空の場合はプロセスの作業ディレクトリです。
	Workdirs []string
}

// Check is the result of a dry-run evaluation.
// Checkはドライラン評価の結果です。
type Check struct {
	Operation  string
	Match      security.MatchResult
	Validation security.ConstraintResult
}

// Allowed reports whether the operation would run.
// Allowedは操作が実行されるかどうかを返します。
func (c Check) Allowed() bool {
	return c.Match.Allowed() && c.Validation.Valid
}

// Reason returns the reason shown for the final decision.
// Reasonは最終判定について表示される理由を返します。
func (c Check) Reason() string {
	if c.Match.Allowed() && !c.Validation.Valid {
		return c.Validation.Violation
	}
	return c.Match.Reason
}

// core is the decision and audit path shared by ShellGate and DockerGate.
type core struct {
	engine    *security.Engine
	kind      audit.Kind
	logger    *slog.Logger
	sink      audit.Sink
	masker    *security.OutputMasker
	sessionID string
	messageID string
}

func newCore(engine *security.Engine, kind audit.Kind, opts Options) core {
	c := core{
		engine:    engine,
		kind:      kind,
		logger:    opts.Logger,
		sink:      opts.Sink,
		masker:    opts.Masker,
		sessionID: opts.SessionID,
		messageID: opts.MessageID,
	}
	if c.engine == nil {
		c.engine = security.NewEngine(nil)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.sink == nil {
		c.sink = audit.Discard
	}
	if c.masker == nil {
		c.masker, _ = security.NewOutputMasker(nil)
	}
	return c
}

// check decides and validates without side effects.
func (c *core) check(op string, vctx *security.ValidationContext) Check {
	m := c.engine.Decide(op)
	result := Check{Operation: op, Match: m, Validation: security.ConstraintResult{Valid: true}}
	if m.Allowed() {
		result.Validation = security.Validate(m.Rule, vctx)
	}
	return result
}

// authorize evaluates op and records the attempt.
func (c *core) authorize(ctx context.Context, op, target string, vctx *security.ValidationContext) (int64, error) {
	return c.record(ctx, c.check(op, vctx), target)
}

// record writes the attempt for chk. It returns the audit id when the
// operation may run and a *DeniedError otherwise. An audit write failure is
// logged and does not change the decision.
func (c *core) record(ctx context.Context, chk Check, target string) (int64, error) {
	op := chk.Operation

	decision := audit.DecisionAllow
	if !chk.Allowed() {
		decision = audit.DecisionDeny
	}
	reason := chk.Reason()

	id, err := c.sink.RecordAttempt(ctx, audit.Entry{
		Kind:      c.kind,
		SessionID: c.sessionID,
		MessageID: c.messageID,
		Operation: op,
		Target:    target,
		Pattern:   chk.Match.Pattern,
		Decision:  decision,
		Reason:    reason,
	})
	if err != nil {
		c.logger.Warn("audit write failed", "operation", op, "error", err)
		id = 0
	}

	if !chk.Allowed() {
		c.logger.Info("operation denied",
			"kind", c.kind,
			"operation", op,
			"pattern", chk.Match.Pattern,
			"reason", reason,
			"default", chk.Match.IsDefault)
		return id, &DeniedError{Operation: op, Pattern: chk.Match.Pattern, Reason: reason}
	}

	c.logger.Debug("operation allowed", "kind", c.kind, "operation", op, "pattern", chk.Match.Pattern)
	return id, nil
}

// complete records the outcome of an operation that ran. The write is not
// cancelled with ctx.
func (c *core) complete(ctx context.Context, id int64, start time.Time, summary string, exitCode *int) {
	if id == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	outcome := audit.Outcome{
		Summary:    c.masker.MaskOutput(summary),
		ExitCode:   exitCode,
		DurationMs: audit.MeasureDuration(start),
	}
	if err := c.sink.RecordOutcome(ctx, id, outcome); err != nil {
		c.logger.Warn("audit outcome write failed", "id", id, "error", err)
	}
}

// summarize turns an execution error into an audit summary.
func summarize(err error) string {
	if err != nil {
		return err.Error()
	}
	return "success"
}
