package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/audit"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/runner"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/security"
)

// CommandRunner executes an allowed shell command.
// *runner.Runner implements it.
//
// CommandRunnerは許可されたシェルコマンドを実行します。
type CommandRunner interface {
	Run(ctx context.Context, command string, workDir string) (*runner.Result, error)
}

// ShellGate guards host shell commands.
// ShellGateはホストのシェルコマンドを保護します。
type ShellGate struct {
	core
	runner   CommandRunner
	workdirs []string
}

// NewShellGate creates a ShellGate. A nil engine denies everything.
// NewShellGateはShellGateを作成します。nilのengineはすべてを拒否します。
func NewShellGate(engine *security.Engine, r CommandRunner, opts Options) *ShellGate {
	return &ShellGate{
		core:     newCore(engine, audit.KindShell, opts),
		runner:   r,
		workdirs: opts.Workdirs,
	}
}

// Check evaluates command in workDir without executing or recording it.
// Checkはcommandを実行も記録もせずにworkDirで評価します。
func (g *ShellGate) Check(command, workDir string) (Check, error) {
	_, chk, err := g.evaluate(command, workDir)
	return chk, err
}

// Exec evaluates command and runs it when allowed. The output is masked.
// A denial is returned as *DeniedError.
//
// Execはcommandを評価し、許可された場合に実行します。出力はマスクされます。
// 拒否は*DeniedErrorとして返されます。
func (g *ShellGate) Exec(ctx context.Context, command, workDir string) (*runner.Result, error) {
	dir, chk, err := g.evaluate(command, workDir)
	if err != nil {
		return nil, err
	}

	id, err := g.record(ctx, chk, dir)
	if err != nil {
		return nil, err
	}
	if g.runner == nil {
		return nil, fmt.Errorf("no command runner configured")
	}

	start := time.Now()
	result, err := g.runner.Run(ctx, command, dir)
	if err != nil {
		g.complete(ctx, id, start, summarize(err), nil)
		return nil, err
	}

	result.Stdout = g.masker.MaskExec(result.Stdout)
	result.Stderr = g.masker.MaskExec(result.Stderr)

	summary := "success"
	if result.ExitCode != 0 {
		summary = fmt.Sprintf("exit status %d", result.ExitCode)
	}
	exitCode := result.ExitCode
	g.complete(ctx, id, start, summary, &exitCode)

	return result, nil
}

// evaluate resolves workDir against the allowed directories and decides
// command there. An empty workDir is the first allowed directory; a relative
// one is joined to it. A working directory that does not resolve to an
// existing directory inside an allowed one is denied before the policy is
// consulted.
//
// evaluateはworkDirを許可ディレクトリに対して解決し、そこでcommandを判定します。
// 許可ディレクトリ内の既存ディレクトリに解決されない作業ディレクトリは
// ポリシーを参照する前に拒否されます。
func (g *ShellGate) evaluate(command, workDir string) (string, Check, error) {
	roots, err := g.roots()
	if err != nil {
		return "", Check{}, err
	}

	switch {
	case workDir == "":
		workDir = roots[0]
	case !filepath.IsAbs(workDir):
		workDir = filepath.Join(roots[0], workDir)
	}

	dir, err := security.ResolveDir(workDir)
	if err != nil {
		return workDir, denied(command, fmt.Sprintf("Cannot resolve working directory '%s'", workDir)), nil
	}
	if !security.WithinAny(dir, roots) {
		return dir, denied(command, fmt.Sprintf("Working directory '%s' is outside the allowed directories", dir)), nil
	}
	return dir, g.check(command, &security.ValidationContext{Command: command, Workdir: dir}), nil
}

// roots returns the resolved allowed directories. Entries that do not
// resolve are skipped with a warning.
func (g *ShellGate) roots() ([]string, error) {
	dirs := g.workdirs
	if len(dirs) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dirs = []string{wd}
	}

	roots := make([]string, 0, len(dirs))
	for _, d := range dirs {
		resolved, err := security.ResolveDir(d)
		if err != nil {
			g.logger.Warn("allowed working directory unavailable", "dir", d, "error", err)
			continue
		}
		roots = append(roots, resolved)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no allowed working directory is available")
	}
	return roots, nil
}

// denied is a Check rejected before any rule was consulted.
func denied(op, reason string) Check {
	return Check{
		Operation:  op,
		Match:      security.MatchResult{Decision: security.Deny, Reason: reason},
		Validation: security.ConstraintResult{Valid: true},
	}
}
