package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/config"
)

// OutputMasker hides sensitive data in output before it is returned to the
// agent or stored as an audit summary. It applies the configured secret
// patterns and, optionally, masks host home directory prefixes.
// An OutputMasker is immutable and safe for concurrent use.
//
// OutputMaskerは出力がエージェントに返される前、または監査サマリーとして
// 保存される前に機密データを隠します。設定されたシークレットパターンを適用し、
// オプションでホームディレクトリのプレフィックスをマスクします。
// OutputMaskerは不変で、並行利用に対して安全です。
type OutputMasker struct {
	enabled             bool
	replacement         string
	patterns            []*regexp.Regexp
	applyTo             config.OutputMaskingTargets
	hostPaths           bool
	hostPathReplacement string
}

// NewOutputMasker creates a new OutputMasker from configuration.
// A nil configuration yields a disabled masker.
//
// NewOutputMaskerは設定から新しいOutputMaskerを作成します。
// nilの設定は無効なマスカーを返します。
func NewOutputMasker(cfg *config.OutputMaskingConfig) (*OutputMasker, error) {
	if cfg == nil {
		return &OutputMasker{}, nil
	}

	masker := &OutputMasker{
		enabled:             cfg.Enabled,
		replacement:         cfg.Replacement,
		applyTo:             cfg.ApplyTo,
		patterns:            make([]*regexp.Regexp, 0, len(cfg.Patterns)),
		hostPaths:           cfg.HostPaths,
		hostPathReplacement: cfg.HostPathReplacement,
	}

	// Set default replacements if empty
	// 空の場合はデフォルトの置換文字列を設定
	if masker.replacement == "" {
		masker.replacement = "[MASKED]"
	}
	if masker.hostPathReplacement == "" {
		masker.hostPathReplacement = "[HOST_PATH]"
	}

	for _, pattern := range cfg.Patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid masking pattern %q: %w", pattern, err)
		}
		masker.patterns = append(masker.patterns, re)
	}

	return masker, nil
}

// MaskOutput applies all masking patterns to output.
// MaskOutputは出力にすべてのマスキングパターンを適用します。
func (m *OutputMasker) MaskOutput(output string) string {
	if !m.enabled {
		return output
	}

	result := output
	for _, pattern := range m.patterns {
		result = pattern.ReplaceAllString(result, m.replacement)
	}
	if m.hostPaths {
		result = maskHostPaths(result, m.hostPathReplacement)
	}
	return result
}

// MaskLogs masks container logs if logs masking is enabled.
// MaskLogsはログマスキングが有効な場合、コンテナログをマスクします。
func (m *OutputMasker) MaskLogs(output string) string {
	if !m.enabled || !m.applyTo.Logs {
		return output
	}
	return m.MaskOutput(output)
}

// MaskExec masks host command output if exec masking is enabled.
// MaskExecはexecマスキングが有効な場合、ホストコマンドの出力をマスクします。
func (m *OutputMasker) MaskExec(output string) string {
	if !m.enabled || !m.applyTo.Exec {
		return output
	}
	return m.MaskOutput(output)
}

// MaskInspect masks container inspection output if inspect masking is enabled.
// MaskInspectはinspectマスキングが有効な場合、コンテナ検査の出力をマスクします。
func (m *OutputMasker) MaskInspect(output string) string {
	if !m.enabled || !m.applyTo.Inspect {
		return output
	}
	return m.MaskOutput(output)
}

// IsEnabled returns true if output masking is enabled.
func (m *OutputMasker) IsEnabled() bool {
	return m.enabled
}

// PatternCount returns the number of active masking patterns.
func (m *OutputMasker) PatternCount() int {
	return len(m.patterns)
}

// homePrefixes are the home directory roots whose next segment is a user name.
// Windows prefixes come first so that "/Users/" does not match inside "C:/Users/".
//
// homePrefixesは次のセグメントがユーザー名となるホームディレクトリのルートです。
// "/Users/" が "C:/Users/" の途中にマッチしないよう、Windowsのプレフィックスを先に処理します。
var homePrefixes = []struct {
	prefix     string
	separators string
}{
	{`C:\Users\`, `\/`},
	{`c:\Users\`, `\/`},
	{`D:\Users\`, `\/`},
	{`d:\Users\`, `\/`},
	{`C:/Users/`, `\/`},
	{`c:/Users/`, `\/`},
	{`D:/Users/`, `\/`},
	{`d:/Users/`, `\/`},
	{"/c/Users/", "/"},
	{"/C/Users/", "/"},
	{"/Users/", "/"},
	{"/home/", "/"},
}

// pathTerminators end a user name in structured text such as JSON, YAML or
// command-line output.
const pathTerminators = "\"' ,]}\n\t"

// maskHostPaths replaces "<home prefix><user>" with replacement:
//
//	/home/alice/project   → [HOST_PATH]/project
//	C:\Users\alice\x      → [HOST_PATH]\x
//
// maskHostPathsは "<ホームプレフィックス><ユーザー名>" をreplacementに置換します。
func maskHostPaths(input, replacement string) string {
	result := input
	for _, hp := range homePrefixes {
		result = maskPrefix(result, hp.prefix, replacement, hp.separators)
	}
	return result
}

// maskPrefix finds every occurrence of prefix, takes the user name up to the
// next separator or terminator, and replaces prefix+user name.
func maskPrefix(input, prefix, replacement, separators string) string {
	result := input
	start := 0

	for {
		idx := strings.Index(result[start:], prefix)
		if idx == -1 {
			return result
		}
		idx += start

		userStart := idx + len(prefix)
		userEnd := userStart
		for userEnd < len(result) {
			ch := result[userEnd]
			if strings.IndexByte(separators, ch) >= 0 || strings.IndexByte(pathTerminators, ch) >= 0 {
				break
			}
			userEnd++
		}

		if userEnd > userStart {
			result = result[:idx] + replacement + result[userEnd:]
			start = idx + len(replacement)
		} else {
			start = idx + 1
		}
	}
}
