package config

import (
	"fmt"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Constraint type names.
// 制約タイプ名。
const (
	ConstraintNoPrivileged     = "no_privileged"
	ConstraintNoHostNetwork    = "no_host_network"
	ConstraintAllowedMounts    = "allowed_mounts"
	ConstraintImagePattern     = "image_pattern"
	ConstraintContainerPattern = "container_pattern"
	ConstraintResourceLimits   = "resource_limits"
	ConstraintCwdOnly          = "cwd_only"
	ConstraintNoRecursive      = "no_recursive"
	ConstraintNoForce          = "no_force"
	ConstraintMaxDepth         = "max_depth"
	ConstraintRequireFlag      = "require_flag"
)

// shorthandTypes lists the constraint types whose parameters are all optional.
// Only these may be written as a bare string ("- no_privileged").
//
// shorthandTypesはパラメータがすべて省略可能な制約タイプの一覧です。
// これらのみ文字列の短縮形（"- no_privileged"）で記述できます。
var shorthandTypes = map[string]bool{
	ConstraintNoPrivileged:  true,
	ConstraintNoHostNetwork: true,
	ConstraintCwdOnly:       true,
	ConstraintNoRecursive:   true,
	ConstraintNoForce:       true,
}

var knownTypes = map[string]bool{
	ConstraintNoPrivileged:     true,
	ConstraintNoHostNetwork:    true,
	ConstraintAllowedMounts:    true,
	ConstraintImagePattern:     true,
	ConstraintContainerPattern: true,
	ConstraintResourceLimits:   true,
	ConstraintCwdOnly:          true,
	ConstraintNoRecursive:      true,
	ConstraintNoForce:          true,
	ConstraintMaxDepth:         true,
	ConstraintRequireFlag:      true,
}

// ConstraintConfig is a constraint as written in a rule.
// It is either a bare type name or a mapping with a "type" key and the
// parameters of that type:
//
//	constraints:
//	  - no_privileged
//	  - type: allowed_mounts
//	    patterns: ["/home/*"]
//	  - type: resource_limits
//	    max_memory: 512m
//	    max_cpus: 1.5
//	  - type: cwd_only
//	    also_allow: ["/tmp"]
//	    exclude: [".env*"]
//	  - type: max_depth
//	    value: 3
//	  - type: require_flag
//	    flag: --dry-run
//
// Only the fields of the named type are meaningful.
//
// ConstraintConfigはルール内に記述された制約です。
// タイプ名の文字列、または "type" キーとそのタイプのパラメータを持つマッピングです。
type ConstraintConfig struct {
	Type      string   `yaml:"type"`
	Patterns  []string `yaml:"patterns,omitempty"`
	MaxMemory string   `yaml:"max_memory,omitempty"`
	MaxCPUs   float64  `yaml:"max_cpus,omitempty"`
	AlsoAllow []string `yaml:"also_allow,omitempty"`
	Exclude   []string `yaml:"exclude,omitempty"`
	Value     *int     `yaml:"value,omitempty"`
	Flag      string   `yaml:"flag,omitempty"`
}

// Depth returns n as a max_depth value.
// Depthはnをmax_depthの値として返します。
func Depth(n int) *int {
	return &n
}

// UnmarshalYAML accepts both the shorthand string form and the mapping form.
// Unknown types and missing required parameters are decode errors.
//
// UnmarshalYAMLは短縮形の文字列とマッピング形式の両方を受け付けます。
// 未知のタイプや必須パラメータの欠落はデコードエラーです。
func (c *ConstraintConfig) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		name := node.Value
		if !knownTypes[name] {
			return fmt.Errorf("line %d: unknown constraint type %q", node.Line, name)
		}
		if !shorthandTypes[name] {
			return fmt.Errorf("line %d: constraint %q requires parameters and cannot be written as shorthand", node.Line, name)
		}
		*c = ConstraintConfig{Type: name}
		return nil

	case yaml.MappingNode:
		// plain has the same fields without the custom unmarshaler
		type plain ConstraintConfig
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		cc := ConstraintConfig(p)
		if err := cc.validate(); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*c = cc
		return nil

	default:
		return fmt.Errorf("line %d: constraint must be a string or a mapping", node.Line)
	}
}

// validate checks the type name and the required parameters of the type.
func (c *ConstraintConfig) validate() error {
	if c.Type == "" {
		return fmt.Errorf("constraint type is required")
	}
	if !knownTypes[c.Type] {
		return fmt.Errorf("unknown constraint type %q", c.Type)
	}

	switch c.Type {
	case ConstraintAllowedMounts, ConstraintImagePattern, ConstraintContainerPattern:
		if len(c.Patterns) == 0 {
			return fmt.Errorf("constraint %q requires at least one pattern", c.Type)
		}
	case ConstraintResourceLimits:
		if c.MaxMemory == "" && c.MaxCPUs == 0 {
			return fmt.Errorf("constraint %q requires max_memory or max_cpus", c.Type)
		}
		if c.MaxMemory != "" {
			if _, err := units.RAMInBytes(c.MaxMemory); err != nil {
				return fmt.Errorf("constraint %q: invalid max_memory %q: %w", c.Type, c.MaxMemory, err)
			}
		}
		if c.MaxCPUs < 0 {
			return fmt.Errorf("constraint %q: max_cpus must not be negative", c.Type)
		}
	case ConstraintMaxDepth:
		if c.Value == nil {
			return fmt.Errorf("constraint %q requires a value", c.Type)
		}
		if *c.Value < 0 {
			return fmt.Errorf("constraint %q: value must not be negative", c.Type)
		}
	case ConstraintRequireFlag:
		if c.Flag == "" {
			return fmt.Errorf("constraint %q requires a flag", c.Type)
		}
	}
	return nil
}
