package security

import (
	"fmt"

	"github.com/docker/go-units"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/config"
)

// Constraint is a secondary check attached to a rule.
// It is evaluated only after the rule's pattern matched with an allow decision.
// The set of variants is closed: every implementation lives in this file.
//
// Constraintはルールに付随する二次チェックです。
// ルールのパターンがallow判定でマッチした後にのみ評価されます。
// バリアントの集合は閉じており、すべての実装はこのファイルにあります。
type Constraint interface {
	// Kind returns the configuration name of the constraint ("no_force", ...).
	// Kindは制約の設定名を返します。
	Kind() string

	sealed()
}

// Container-operation family.
// コンテナ操作系の制約。

// NoPrivileged rejects containers that request privileged mode.
type NoPrivileged struct{}

// NoHostNetwork rejects containers that request the host network.
type NoHostNetwork struct{}

// AllowedMounts requires every bind mount source to match one of the patterns.
type AllowedMounts struct {
	Patterns []*Matcher
}

// ImagePattern requires the target image name to match one of the patterns.
type ImagePattern struct {
	Patterns []*Matcher
}

// ContainerPattern requires the target container name to match one of the patterns.
type ContainerPattern struct {
	Patterns []*Matcher
}

// ResourceLimits caps the memory and CPU a container may request.
// Zero values mean "no cap".
//
// ResourceLimitsはコンテナが要求できるメモリとCPUの上限です。
// ゼロ値は上限なしを意味します。
type ResourceLimits struct {
	MaxMemory int64 // bytes
	MaxCPUs   float64
}

// Shell-command family.
// シェルコマンド系の制約。

// CwdOnly requires every path argument to stay inside the working directory
// or one of AlsoAllow. Paths whose basename or any segment matches an
// Exclude pattern are rejected even inside the allowed roots.
// Listing "~" in AlsoAllow permits home directory paths.
//
// CwdOnlyはすべてのパス引数が作業ディレクトリまたはAlsoAllow内にあることを要求します。
// ベース名またはいずれかのセグメントがExcludeパターンにマッチするパスは、
// 許可されたルート内でも拒否されます。
// AlsoAllowに "~" を含めるとホームディレクトリのパスを許可します。
type CwdOnly struct {
	AlsoAllow []string
	Exclude   []*Matcher
}

// NoRecursive rejects -r, -R and --recursive.
type NoRecursive struct{}

// NoForce rejects -f and --force.
type NoForce struct{}

// MaxDepth requires an explicit -maxdepth / --max-depth no greater than Value.
type MaxDepth struct {
	Value int
}

// RequireFlag requires Flag to be present on the command line.
type RequireFlag struct {
	Flag string
}

func (NoPrivileged) Kind() string     { return config.ConstraintNoPrivileged }
func (NoHostNetwork) Kind() string    { return config.ConstraintNoHostNetwork }
func (AllowedMounts) Kind() string    { return config.ConstraintAllowedMounts }
func (ImagePattern) Kind() string     { return config.ConstraintImagePattern }
func (ContainerPattern) Kind() string { return config.ConstraintContainerPattern }
func (ResourceLimits) Kind() string   { return config.ConstraintResourceLimits }
func (CwdOnly) Kind() string          { return config.ConstraintCwdOnly }
func (NoRecursive) Kind() string      { return config.ConstraintNoRecursive }
func (NoForce) Kind() string          { return config.ConstraintNoForce }
func (MaxDepth) Kind() string         { return config.ConstraintMaxDepth }
func (RequireFlag) Kind() string      { return config.ConstraintRequireFlag }

func (NoPrivileged) sealed()     {}
func (NoHostNetwork) sealed()    {}
func (AllowedMounts) sealed()    {}
func (ImagePattern) sealed()     {}
func (ContainerPattern) sealed() {}
func (ResourceLimits) sealed()   {}
func (CwdOnly) sealed()          {}
func (NoRecursive) sealed()      {}
func (NoForce) sealed()          {}
func (MaxDepth) sealed()         {}
func (RequireFlag) sealed()      {}

// CompileConstraint converts a decoded constraint into its typed variant.
// Patterns are compiled and memory sizes parsed here, so evaluation never
// has to handle malformed parameters.
//
// CompileConstraintはデコード済みの制約を型付きバリアントに変換します。
// パターンのコンパイルとメモリサイズの解析はここで行われます。
func CompileConstraint(c config.ConstraintConfig) (Constraint, error) {
	switch c.Type {
	case config.ConstraintNoPrivileged:
		return NoPrivileged{}, nil
	case config.ConstraintNoHostNetwork:
		return NoHostNetwork{}, nil
	case config.ConstraintAllowedMounts:
		if len(c.Patterns) == 0 {
			return nil, fmt.Errorf("%s: at least one pattern is required", c.Type)
		}
		return AllowedMounts{Patterns: compilePatterns(c.Patterns)}, nil
	case config.ConstraintImagePattern:
		if len(c.Patterns) == 0 {
			return nil, fmt.Errorf("%s: at least one pattern is required", c.Type)
		}
		return ImagePattern{Patterns: compilePatterns(c.Patterns)}, nil
	case config.ConstraintContainerPattern:
		if len(c.Patterns) == 0 {
			return nil, fmt.Errorf("%s: at least one pattern is required", c.Type)
		}
		return ContainerPattern{Patterns: compilePatterns(c.Patterns)}, nil
	case config.ConstraintResourceLimits:
		limits := ResourceLimits{MaxCPUs: c.MaxCPUs}
		if c.MaxMemory != "" {
			n, err := units.RAMInBytes(c.MaxMemory)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid max_memory %q: %w", c.Type, c.MaxMemory, err)
			}
			limits.MaxMemory = n
		}
		if limits.MaxMemory < 0 || limits.MaxCPUs < 0 {
			return nil, fmt.Errorf("%s: limits must not be negative", c.Type)
		}
		return limits, nil
	case config.ConstraintCwdOnly:
		return CwdOnly{
			AlsoAllow: append([]string(nil), c.AlsoAllow...),
			Exclude:   compilePatterns(c.Exclude),
		}, nil
	case config.ConstraintNoRecursive:
		return NoRecursive{}, nil
	case config.ConstraintNoForce:
		return NoForce{}, nil
	case config.ConstraintMaxDepth:
		if c.Value == nil {
			return nil, fmt.Errorf("%s: value is required", c.Type)
		}
		if *c.Value < 0 {
			return nil, fmt.Errorf("%s: value must not be negative", c.Type)
		}
		return MaxDepth{Value: *c.Value}, nil
	case config.ConstraintRequireFlag:
		if c.Flag == "" {
			return nil, fmt.Errorf("%s: flag is required", c.Type)
		}
		return RequireFlag{Flag: c.Flag}, nil
	default:
		return nil, fmt.Errorf("unknown constraint type %q", c.Type)
	}
}

// DescribeConstraint renders a constraint with its parameters for display.
// DescribeConstraintは表示用に制約とパラメータを文字列化します。
func DescribeConstraint(c Constraint) string {
	switch v := c.(type) {
	case AllowedMounts:
		return fmt.Sprintf("%s%v", v.Kind(), matcherPatterns(v.Patterns))
	case ImagePattern:
		return fmt.Sprintf("%s%v", v.Kind(), matcherPatterns(v.Patterns))
	case ContainerPattern:
		return fmt.Sprintf("%s%v", v.Kind(), matcherPatterns(v.Patterns))
	case ResourceLimits:
		s := v.Kind() + "("
		if v.MaxMemory > 0 {
			s += "memory<=" + units.BytesSize(float64(v.MaxMemory))
		}
		if v.MaxCPUs > 0 {
			if v.MaxMemory > 0 {
				s += ", "
			}
			s += fmt.Sprintf("cpus<=%g", v.MaxCPUs)
		}
		return s + ")"
	case CwdOnly:
		if len(v.AlsoAllow) == 0 && len(v.Exclude) == 0 {
			return v.Kind()
		}
		return fmt.Sprintf("%s(also_allow=%v, exclude=%v)", v.Kind(), v.AlsoAllow, matcherPatterns(v.Exclude))
	case MaxDepth:
		return fmt.Sprintf("%s(%d)", v.Kind(), v.Value)
	case RequireFlag:
		return fmt.Sprintf("%s(%s)", v.Kind(), v.Flag)
	case nil:
		return "<nil>"
	default:
		return c.Kind()
	}
}
