package mcp

import (
	"context"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/gateway"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/security"
)

// policyView is the JSON form of a policy returned by get_policy.
// policyViewはget_policyが返すポリシーのJSON形式です。
type policyView struct {
	Fallback      bool       `json:"fallback,omitempty"`
	Rules         []ruleView `json:"rules"`
	Default       string     `json:"default"`
	DefaultReason string     `json:"default_reason,omitempty"`
}

type ruleView struct {
	Pattern     string   `json:"pattern"`
	Decision    string   `json:"decision"`
	Reason      string   `json:"reason,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

func newPolicyView(engine *security.Engine) policyView {
	if engine == nil {
		engine = security.NewEngine(nil)
	}
	p := engine.Policy()
	v := policyView{
		Fallback:      p.Fallback,
		Rules:         make([]ruleView, 0, len(p.Rules)),
		Default:       string(p.DefaultDecision),
		DefaultReason: p.DefaultReason,
	}
	for _, cr := range p.Rules {
		r := ruleView{Pattern: cr.Rule.Pattern, Decision: string(cr.Rule.Decision), Reason: cr.Rule.Reason}
		for _, c := range cr.Rule.Constraints {
			r.Constraints = append(r.Constraints, security.DescribeConstraint(c))
		}
		v.Rules = append(v.Rules, r)
	}
	return v
}

// checkView is the JSON form of a dry-run evaluation.
// checkViewはドライラン評価のJSON形式です。
type checkView struct {
	Operation   string   `json:"operation"`
	Allowed     bool     `json:"allowed"`
	Decision    string   `json:"decision"`
	Rule        string   `json:"rule"`
	Reason      string   `json:"reason,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	Violation   string   `json:"violation,omitempty"`
}

func newCheckView(chk gateway.Check) checkView {
	v := checkView{
		Operation: chk.Operation,
		Allowed:   chk.Allowed(),
		Decision:  string(security.Deny),
		Rule:      chk.Match.Pattern,
		Reason:    chk.Reason(),
		Violation: chk.Validation.Violation,
	}
	if v.Allowed {
		v.Decision = string(security.Allow)
	}
	if chk.Match.IsDefault {
		v.Rule = "(default)"
	}
	if chk.Match.Rule != nil {
		for _, c := range chk.Match.Rule.Constraints {
			v.Constraints = append(v.Constraints, security.DescribeConstraint(c))
		}
	}
	return v
}

// toolGetPolicy implements the get_policy tool.
// toolGetPolicyはget_policyツールを実装します。
func (s *Server) toolGetPolicy(call toolCall) (any, error) {
	which, err := stringArg(call.args, "policy", false)
	if err != nil {
		return nil, err
	}
	switch which {
	case "":
		return jsonTextResponse(map[string]policyView{
			"shell":  newPolicyView(s.backend.ShellEngine),
			"docker": newPolicyView(s.backend.DockerEngine),
		})
	case "shell":
		return jsonTextResponse(newPolicyView(s.backend.ShellEngine))
	case "docker":
		return jsonTextResponse(newPolicyView(s.backend.DockerEngine))
	default:
		return nil, invalidParams("unknown policy %q: expected shell or docker", which)
	}
}

// toolCheckCommand implements the check_command tool. Nothing is run or
// recorded.
//
// toolCheckCommandはcheck_commandツールを実装します。実行も記録もされません。
func (s *Server) toolCheckCommand(call toolCall) (any, error) {
	command, err := stringArg(call.args, "command", true)
	if err != nil {
		return nil, err
	}
	workdir, err := stringArg(call.args, "workdir", false)
	if err != nil {
		return nil, err
	}

	chk, err := gateway.NewShellGate(s.backend.ShellEngine, nil, call.opts).Check(command, workdir)
	if err != nil {
		return toolResult(err), nil
	}
	return jsonTextResponse(newCheckView(chk))
}

// toolExecCommand implements the exec_command tool. A non-zero exit code is
// reported as an error result that still carries the output.
//
// toolExecCommandはexec_commandツールを実装します。0以外の終了コードは
// 出力を含んだままエラー結果として報告されます。
func (s *Server) toolExecCommand(ctx context.Context, call toolCall) (any, error) {
	command, err := stringArg(call.args, "command", true)
	if err != nil {
		return nil, err
	}
	workdir, err := stringArg(call.args, "workdir", false)
	if err != nil {
		return nil, err
	}
	if s.backend.Runner == nil {
		return errorTextResponse("Error: command execution is not available"), nil
	}

	result, err := gateway.NewShellGate(s.backend.ShellEngine, s.backend.Runner, call.opts).Exec(ctx, command, workdir)
	if err != nil {
		return toolResult(err), nil
	}

	text := result.String()
	if text == "" {
		text = "(no output)"
	}
	if result.ExitCode != 0 {
		return errorTextResponse("%s", text), nil
	}
	return textResponse(text), nil
}

// toolCheckDockerOperation implements the check_docker_operation tool.
// toolCheckDockerOperationはcheck_docker_operationツールを実装します。
func (s *Server) toolCheckDockerOperation(call toolCall) (any, error) {
	op, err := stringArg(call.args, "operation", true)
	if err != nil {
		return nil, err
	}
	chk := gateway.NewDockerGate(s.backend.DockerEngine, s.backend.Docker, call.opts).Check(op)
	return jsonTextResponse(newCheckView(chk))
}
