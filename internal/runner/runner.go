// Package runner executes allowed host commands.
//
// Commands are split with the same tokenizer the policy engine uses and run
// directly with os/exec. No shell is involved, so pipes, redirections and
// command separators reach the program as literal arguments.
//
// runnerパッケージは許可されたホストコマンドを実行します。
//
// コマンドはポリシーエンジンと同じトークナイザで分割され、os/execで直接実行されます。
// シェルを介さないため、パイプ・リダイレクト・コマンド区切りはリテラル引数として渡ります。
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/config"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/security"
)

// waitDelay is how long a cancelled command may keep its output pipes open
// before they are closed and the process is killed.
const waitDelay = 2 * time.Second

// Result holds the output of a command execution.
// Resultはコマンド実行の出力を保持します。
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`

	// Truncated is set when stdout or stderr exceeded the output limit.
	// Truncatedはstdoutまたはstderrが出力上限を超えた場合に設定されます。
	Truncated bool `json:"truncated,omitempty"`
}

// String formats the result for display.
// Stringは表示用に結果をフォーマットします。
func (r *Result) String() string {
	var b strings.Builder
	if r.Stdout != "" {
		b.WriteString(r.Stdout)
	}
	if r.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[stderr]\n")
		b.WriteString(r.Stderr)
	}
	if r.Truncated {
		b.WriteString("\n[output truncated]")
	}
	if r.ExitCode != 0 {
		fmt.Fprintf(&b, "\n[exit code: %d]", r.ExitCode)
	}
	return b.String()
}

// Runner runs host commands with a timeout and bounded output.
// Runnerはタイムアウトと出力上限付きでホストコマンドを実行します。
type Runner struct {
	timeout        time.Duration
	maxOutputBytes int
}

// New creates a Runner. A zero timeout disables the timeout and a zero
// output limit disables truncation.
//
// NewはRunnerを作成します。タイムアウト0はタイムアウトなし、
// 出力上限0は切り詰めなしを意味します。
func New(cfg config.RunnerConfig) *Runner {
	return &Runner{
		timeout:        cfg.Timeout,
		maxOutputBytes: cfg.MaxOutputBytes,
	}
}

// Run executes command in workDir. A non-zero exit status is reported in
// Result.ExitCode, not as an error. Errors are returned for an empty command,
// a program that cannot be started, and a timeout.
//
// RunはworkDirでcommandを実行します。0以外の終了ステータスはエラーではなく
// Result.ExitCodeで報告されます。空のコマンド、起動できないプログラム、
// タイムアウトの場合はエラーを返します。
func (r *Runner) Run(ctx context.Context, command string, workDir string) (*Result, error) {
	args := security.Tokenize(command)
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	setupProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	stdout := &limitedBuffer{limit: r.maxOutputBytes}
	stderr := &limitedBuffer{limit: r.maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	result := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("execution timed out after %v", r.timeout)
		case ctx.Err() != nil:
			return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("execution error: %w", err)
		}
	}

	return result, nil
}

// limitedBuffer keeps the first limit bytes written to it and drops the rest.
// It always reports a full write so the child process is not disturbed.
type limitedBuffer struct {
	buf       strings.Builder
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		b.buf.Write(p)
		return len(p), nil
	}
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
