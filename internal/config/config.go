// Package config provides configuration management for dkguard.
// It handles loading, parsing, and validating configuration from YAML files.
//
// configパッケージはdkguardの設定管理を提供します。
// YAMLファイルからの設定の読み込み、解析、検証を処理します。
//
// Configuration is loaded from the following locations (in order of precedence):
// 設定は以下の場所から読み込まれます（優先順位順）：
//  1. Explicitly specified config file path (明示的に指定された設定ファイルパス)
//  2. ./dkguard.yaml or ./dkguard.yml (カレントディレクトリ)
//  3. ./configs/dkguard.yaml (configsディレクトリ)
//  4. ~/.dkguard/dkguard.yaml (ホームディレクトリ)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Decision values accepted in rule and default settings.
// ルールとデフォルト設定で受け付ける判定値。
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Config represents the complete application configuration.
//
// Configはアプリケーション全体の設定を表します。
type Config struct {
	// Server contains MCP server settings used by "dkguard serve".
	// Serverは"dkguard serve"が使用するMCPサーバーの設定を含みます。
	Server ServerConfig `yaml:"server"`

	// Logging contains log output settings
	// Loggingはログ出力の設定を含みます
	Logging LoggingConfig `yaml:"logging"`

	// Audit contains audit log storage settings
	// Auditは監査ログの保存設定を含みます
	Audit AuditConfig `yaml:"audit"`

	// OutputMasking configures masking of sensitive data in command output.
	// OutputMaskingはコマンド出力内の機密データのマスキングを設定します。
	OutputMasking OutputMaskingConfig `yaml:"output_masking"`

	// Runner configures how allowed host commands are executed.
	// Runnerは許可されたホストコマンドの実行方法を設定します。
	Runner RunnerConfig `yaml:"runner"`

	// Shell is the rule set for shell commands.
	// Shellはシェルコマンド用のルールセットです。
	Shell PolicyConfig `yaml:"shell"`

	// Docker is the rule set for container operations ("operation[:target]").
	// Dockerはコンテナ操作（"operation[:target]"）用のルールセットです。
	Docker PolicyConfig `yaml:"docker"`
}

// PolicyConfig is one ordered rule list plus its default decision.
// Rule order is significant: the first matching pattern wins.
//
// PolicyConfigは順序付きルールリストとデフォルト判定です。
// ルールの順序には意味があり、最初にマッチしたパターンが優先されます。
type PolicyConfig struct {
	// Default is the decision when no rule matches ("allow" or "deny").
	// Empty means "deny".
	//
	// Defaultはどのルールにもマッチしない場合の判定です（"allow" または "deny"）。
	// 空の場合は "deny" です。
	Default string `yaml:"default"`

	// DefaultReason is reported together with the default decision.
	// DefaultReasonはデフォルト判定と共に報告される理由です。
	DefaultReason string `yaml:"default_reason"`

	// Rules is the ordered rule list.
	// Rulesは順序付きのルールリストです。
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig is a single rule as written in the configuration file.
// Either Pattern or Patterns (or both) must be set; a multi-pattern rule is
// expanded in place into one rule per pattern.
//
// RuleConfigは設定ファイルに記述された単一のルールです。
// PatternまたはPatterns（または両方）が必要です。複数パターンのルールは
// その位置でパターンごとに1つのルールへ展開されます。
type RuleConfig struct {
	Pattern     string             `yaml:"pattern"`
	Patterns    []string           `yaml:"patterns"`
	Decision    string             `yaml:"decision"`
	Reason      string             `yaml:"reason"`
	Constraints []ConstraintConfig `yaml:"constraints"`
}

// AllPatterns returns Pattern followed by Patterns, skipping an empty Pattern.
// AllPatternsはPatternとPatternsを順に返します（空のPatternは除く）。
func (r RuleConfig) AllPatterns() []string {
	var patterns []string
	if r.Pattern != "" {
		patterns = append(patterns, r.Pattern)
	}
	return append(patterns, r.Patterns...)
}

// ServerConfig holds the MCP server settings.
// ServerConfigはMCPサーバーの設定を保持します。
type ServerConfig struct {
	// Port is the TCP port to listen on (default: 8765)
	// Portは待ち受けるTCPポートです（デフォルト: 8765）
	Port int `yaml:"port"`

	// Host is the network interface to bind to (default: "127.0.0.1")
	// Hostはバインドするネットワークインターフェースです（デフォルト: "127.0.0.1"）
	Host string `yaml:"host"`
}

// LoggingConfig holds logging configuration.
//
// Note: Log output destination is configured via command-line flags:
//
//	--log-file /path/to/file.log
//	--log-also-stdout
//
// LoggingConfigはロギング設定を保持します。
// 注意: ログ出力先はコマンドラインフラグで設定します。
type LoggingConfig struct {
	// Level sets the minimum log level to output.
	// Valid values: "debug", "info", "warn", "error"
	//
	// Levelは出力する最小ログレベルを設定します。
	// 有効な値: "debug", "info", "warn", "error"
	Level string `yaml:"level"`
}

// AuditConfig holds audit log configuration.
// Every decision is recorded, and the outcome is added once the operation ran.
//
// AuditConfigは監査ログ設定を保持します。
// すべての判定が記録され、操作の実行後に結果が追記されます。
type AuditConfig struct {
	// Enabled activates audit logging.
	// Enabledは監査ログを有効化します。
	Enabled bool `yaml:"enabled"`

	// Database is the path of the SQLite audit database.
	// A leading "~/" is expanded to the home directory.
	//
	// Databaseは SQLite 監査データベースのパスです。
	// 先頭の "~/" はホームディレクトリに展開されます。
	Database string `yaml:"database"`

	// JSONFile, if set, additionally mirrors every audit event as a JSON line.
	// JSONFileが設定されている場合、すべての監査イベントをJSON行としても出力します。
	JSONFile string `yaml:"json_file"`
}

// OutputMaskingConfig configures masking of sensitive data in output.
// Sensitive information like passwords, API keys, and tokens are replaced
// with a masked string before being returned to the agent.
//
// OutputMaskingConfigは出力内の機密データのマスキングを設定します。
// パスワード、APIキー、トークンなどの機密情報は、
// エージェントに返される前にマスク文字列に置き換えられます。
type OutputMaskingConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	Replacement string               `yaml:"replacement"`
	Patterns    []string             `yaml:"patterns"`
	ApplyTo     OutputMaskingTargets `yaml:"apply_to"`

	// HostPaths replaces home directory prefixes such as /home/<user> or
	// C:\Users\<user> with HostPathReplacement, hiding the host user name.
	//
	// HostPathsは /home/<user> や C:\Users\<user> のようなホームディレクトリの
	// プレフィックスをHostPathReplacementに置き換え、ホストのユーザー名を隠します。
	HostPaths           bool   `yaml:"host_paths"`
	HostPathReplacement string `yaml:"host_path_replacement"`
}

// OutputMaskingTargets specifies which outputs should be masked.
// OutputMaskingTargetsはマスキングを適用する出力を指定します。
type OutputMaskingTargets struct {
	// Logs applies masking to container logs.
	Logs bool `yaml:"logs"`

	// Exec applies masking to host command output.
	Exec bool `yaml:"exec"`

	// Inspect applies masking to container inspection output (env vars).
	Inspect bool `yaml:"inspect"`
}

// RunnerConfig configures the host command runner.
// RunnerConfigはホストコマンドランナーを設定します。
type RunnerConfig struct {
	// Timeout bounds a single command execution.
	// Timeoutは1回のコマンド実行時間の上限です。
	Timeout time.Duration `yaml:"timeout"`

	// MaxOutputBytes truncates stdout and stderr each to this size.
	// MaxOutputBytesはstdoutとstderrをそれぞれこのサイズに切り詰めます。
	MaxOutputBytes int `yaml:"max_output_bytes"`

	// AllowedWorkdirs are the directories a command may run in, including
	// subdirectories. Empty means the working directory of the process.
	// AllowedWorkdirsはコマンドを実行できるディレクトリです（サブディレクトリを含む）。
	// 空の場合はプロセスの作業ディレクトリです。
	AllowedWorkdirs []string `yaml:"allowed_workdirs"`
}

// Workdirs returns AllowedWorkdirs with "~" expanded.
// WorkdirsはAllowedWorkdirsの "~" を展開して返します。
func (r RunnerConfig) Workdirs() []string {
	if len(r.AllowedWorkdirs) == 0 {
		return nil
	}
	dirs := make([]string, len(r.AllowedWorkdirs))
	for i, d := range r.AllowedWorkdirs {
		dirs[i] = ExpandHome(d)
	}
	return dirs
}

// NewDefaultConfig returns a Config with sensible default values.
// The built-in rule sets only allow read-only operations inside the
// working directory; everything else is denied.
//
// NewDefaultConfigは適切なデフォルト値を持つConfigを返します。
// 組み込みのルールセットは作業ディレクトリ内の読み取り専用操作のみを許可し、
// それ以外はすべて拒否します。
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8765,
			Host: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Audit: AuditConfig{
			Enabled:  true,
			Database: "~/.dkguard/audit.db",
		},
		OutputMasking: OutputMaskingConfig{
			Enabled:     true,
			Replacement: "[MASKED]",
			Patterns: []string{
				// Password patterns / パスワードパターン
				`(?i)(password|passwd|pwd)\s*[=:]\s*["']?[^\s"'\n]+["']?`,
				// API key patterns / APIキーパターン
				`(?i)(api[_-]?key|apikey|secret[_-]?key)\s*[=:]\s*["']?[^\s"'\n]+["']?`,
				// Generic secret patterns / 一般的なシークレットパターン
				`(?i)(secret|token|credential)\s*[=:]\s*["']?[^\s"'\n]+["']?`,
				// Bearer tokens / Bearerトークン
				`(?i)bearer\s+[a-zA-Z0-9._-]+`,
				// Database connection strings with passwords / パスワード付きDB接続文字列
				`(?i)(postgres|mysql|mongodb|redis)://[^:]+:[^@]+@`,
			},
			ApplyTo: OutputMaskingTargets{
				Logs:    true,
				Exec:    true,
				Inspect: true,
			},
			HostPaths:           true,
			HostPathReplacement: "[HOST_PATH]",
		},
		Runner: RunnerConfig{
			Timeout:        60 * time.Second,
			MaxOutputBytes: 1 << 20,
		},
		Shell: PolicyConfig{
			Default:       DecisionDeny,
			DefaultReason: "command is not in the allowlist",
			Rules: []RuleConfig{
				{
					Patterns:    []string{"ls", "ls *", "tree", "tree *", "du *", "cat *", "head *", "tail *", "stat *", "file *"},
					Decision:    DecisionAllow,
					Constraints: []ConstraintConfig{{Type: ConstraintCwdOnly}},
				},
				{
					Patterns: []string{"grep *", "rg *"},
					Decision: DecisionAllow,
					Constraints: []ConstraintConfig{
						{Type: ConstraintCwdOnly},
					},
				},
				{
					Pattern:  "find *",
					Decision: DecisionAllow,
					Constraints: []ConstraintConfig{
						{Type: ConstraintCwdOnly},
						{Type: ConstraintMaxDepth, Value: Depth(5)},
					},
				},
				{
					Patterns: []string{"pwd", "whoami", "git status*", "git diff*", "git log*"},
					Decision: DecisionAllow,
				},
				{
					Pattern:  "sudo *",
					Decision: DecisionDeny,
					Reason:   "privilege escalation is never allowed",
				},
			},
		},
		Docker: PolicyConfig{
			Default:       DecisionDeny,
			DefaultReason: "operation is not in the allowlist",
			Rules: []RuleConfig{
				{
					Patterns: []string{"list_containers", "list_images", "list_volumes", "inspect_container:*", "container_logs:*"},
					Decision: DecisionAllow,
				},
				{
					Pattern:  "create_container:*",
					Decision: DecisionAllow,
					Constraints: []ConstraintConfig{
						{Type: ConstraintNoPrivileged},
						{Type: ConstraintNoHostNetwork},
						{Type: ConstraintResourceLimits, MaxMemory: "2g", MaxCPUs: 2},
					},
				},
			},
		},
	}
}

// Load loads configuration from a file.
// If configPath is empty, it searches for configuration in common locations.
//
// Loadはファイルから設定を読み込みます。
// configPathが空の場合、一般的な場所で設定を検索します。
//
// Search order when configPath is empty:
// configPathが空の場合の検索順序：
//  1. ./dkguard.yaml or ./dkguard.yml
//  2. ./configs/dkguard.yaml or ./configs/dkguard.yml
//  3. ~/.dkguard/dkguard.yaml or ~/.dkguard/dkguard.yml
//
// Returns default configuration if no config file is found.
// 設定ファイルが見つからない場合はデフォルト設定を返します。
func Load(configPath string) (*Config, error) {
	// Start with default configuration
	// デフォルト設定から開始
	cfg := NewDefaultConfig()
	fileToRead := configPath

	if fileToRead == "" {
		fileToRead = findConfigFile()
	}

	// Load configuration from file if found
	// ファイルが見つかった場合は設定を読み込み
	if fileToRead != "" {
		data, err := os.ReadFile(fileToRead)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", fileToRead, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", fileToRead, err)
		}
	}

	// Validate configuration before returning
	// 返す前に設定を検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML data on top of cfg.
// Rule lists in the file replace the default rule lists entirely.
//
// ParseはYAMLデータをcfgの上にデコードします。
// ファイル内のルールリストはデフォルトのルールリストを完全に置き換えます。
func Parse(data []byte, cfg *Config) error {
	var present struct {
		Shell  *yaml.Node `yaml:"shell"`
		Docker *yaml.Node `yaml:"docker"`
	}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return err
	}
	// A policy section in the file replaces the built-in section as a whole,
	// including its default decision.
	// ファイル内のポリシーセクションは組み込みセクション全体を置き換える
	if present.Shell != nil {
		cfg.Shell = PolicyConfig{}
	}
	if present.Docker != nil {
		cfg.Docker = PolicyConfig{}
	}
	return yaml.Unmarshal(data, cfg)
}

// findConfigFile searches the default locations and returns the first
// existing config file, or "" if there is none.
func findConfigFile() string {
	searchPaths := []string{".", "./configs"}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".dkguard"))
	}

	// Try each search path with both .yaml and .yml extensions
	// 各検索パスで.yamlと.yml両方の拡張子を試行
	for _, p := range searchPaths {
		for _, ext := range []string{"yaml", "yml"} {
			f := filepath.Join(p, "dkguard."+ext)
			if _, err := os.Stat(f); err == nil {
				return f
			}
		}
	}
	return ""
}

// Validate checks that the configuration is valid.
// Returns an error describing the first validation failure found.
//
// Validateは設定が有効かどうかをチェックします。
// 最初に見つかった検証エラーを説明するエラーを返します。
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	// Validate logging level
	// ログレベルを検証
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	for _, p := range c.OutputMasking.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid output masking pattern %q: %w", p, err)
		}
	}

	if c.Runner.Timeout < 0 {
		return fmt.Errorf("invalid runner timeout: %s", c.Runner.Timeout)
	}
	if c.Runner.MaxOutputBytes < 0 {
		return fmt.Errorf("invalid runner max_output_bytes: %d", c.Runner.MaxOutputBytes)
	}
	for _, d := range c.Runner.AllowedWorkdirs {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("invalid runner allowed_workdirs: empty entry")
		}
	}

	if err := c.Shell.Validate(); err != nil {
		return fmt.Errorf("shell policy: %w", err)
	}
	if err := c.Docker.Validate(); err != nil {
		return fmt.Errorf("docker policy: %w", err)
	}

	return nil
}

// Validate checks the rule schema of a policy section.
// Constraint parameters are already checked while decoding.
//
// Validateはポリシーセクションのルールスキーマをチェックします。
// 制約パラメータはデコード時に既にチェック済みです。
func (p *PolicyConfig) Validate() error {
	if p.Default != "" && !isDecision(p.Default) {
		return fmt.Errorf("invalid default decision: %q (must be allow or deny)", p.Default)
	}
	for i, rule := range p.Rules {
		if len(rule.AllPatterns()) == 0 {
			return fmt.Errorf("rule %d: pattern or patterns is required", i+1)
		}
		if !isDecision(rule.Decision) {
			return fmt.Errorf("rule %d: invalid decision %q (must be allow or deny)", i+1, rule.Decision)
		}
		for j := range rule.Constraints {
			if err := rule.Constraints[j].validate(); err != nil {
				return fmt.Errorf("rule %d: constraint %d: %w", i+1, j+1, err)
			}
		}
	}
	return nil
}

func isDecision(s string) bool {
	return s == DecisionAllow || s == DecisionDeny
}

// ExpandHome replaces a leading "~/" in path with the user's home directory.
// ExpandHomeはパス先頭の "~/" をユーザーのホームディレクトリに置き換えます。
func ExpandHome(path string) string {
	if path == "~" || len(path) > 1 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
