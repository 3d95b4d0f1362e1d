package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-units"
)

// ContainerSpec is the parsed configuration of a container to be created.
// ContainerSpecは作成されるコンテナの解析済み設定です。
type ContainerSpec struct {
	Config     *container.Config
	HostConfig *container.HostConfig
}

// ValidationContext carries the operation-specific facts constraints are checked against.
// Container operations fill Container, Image and ContainerName; shell commands
// fill Command and Workdir. Fields a constraint needs but that are empty make
// that constraint pass vacuously, because the same rule can be reached by
// read-only operations that have nothing to check.
//
// ValidationContextは制約のチェック対象となる操作固有の情報を保持します。
// コンテナ操作はContainer、Image、ContainerNameを、シェルコマンドはCommandとWorkdirを設定します。
// 制約が必要とするフィールドが空の場合、その制約は無条件に通過します。
type ValidationContext struct {
	Container     *ContainerSpec
	Image         string
	ContainerName string

	Command string
	Workdir string
}

// ConstraintResult is the outcome of Validate.
// ConstraintResultはValidateの結果です。
type ConstraintResult struct {
	Valid bool

	// Violation describes the first failed constraint, for display to the operator.
	// Violationは最初に失敗した制約の説明で、オペレーターへの表示用です。
	Violation string
}

var passed = ConstraintResult{Valid: true}

func violation(format string, args ...any) ConstraintResult {
	return ConstraintResult{Valid: false, Violation: fmt.Sprintf(format, args...)}
}

// Validate checks every constraint of rule against vctx in order and stops at
// the first failure. A rule without constraints is valid. An unrecognised
// constraint is a failure, and a panic inside an evaluator is recovered and
// reported as a failure.
//
// Validateはルールのすべての制約をvctxに対して順にチェックし、最初の失敗で停止します。
// 制約のないルールは有効です。認識できない制約は失敗となり、
// 評価中のパニックは回復されて失敗として報告されます。
func Validate(rule *Rule, vctx *ValidationContext) (result ConstraintResult) {
	if rule == nil || len(rule.Constraints) == 0 {
		return passed
	}
	if vctx == nil {
		vctx = &ValidationContext{}
	}

	defer func() {
		if r := recover(); r != nil {
			result = violation("Constraint evaluation failed: %v", r)
		}
	}()

	for _, c := range rule.Constraints {
		if res := check(c, vctx); !res.Valid {
			return res
		}
	}
	return passed
}

// check evaluates a single constraint.
func check(c Constraint, vctx *ValidationContext) ConstraintResult {
	switch v := c.(type) {
	case NoPrivileged:
		return checkNoPrivileged(vctx)
	case NoHostNetwork:
		return checkNoHostNetwork(vctx)
	case AllowedMounts:
		return checkAllowedMounts(v, vctx)
	case ImagePattern:
		return checkImagePattern(v, vctx)
	case ContainerPattern:
		return checkContainerPattern(v, vctx)
	case ResourceLimits:
		return checkResourceLimits(v, vctx)
	case CwdOnly:
		return checkCwdOnly(v, vctx)
	case NoRecursive:
		return checkNoRecursive(vctx)
	case NoForce:
		return checkNoForce(vctx)
	case MaxDepth:
		return checkMaxDepth(v, vctx)
	case RequireFlag:
		return checkRequireFlag(v, vctx)
	default:
		return violation("Unknown constraint type: %T", c)
	}
}

// hostConfig returns the host config of the context, or nil.
func (vctx *ValidationContext) hostConfig() *container.HostConfig {
	if vctx.Container == nil {
		return nil
	}
	return vctx.Container.HostConfig
}

func checkNoPrivileged(vctx *ValidationContext) ConstraintResult {
	if hc := vctx.hostConfig(); hc != nil && hc.Privileged {
		return violation("Privileged containers are not allowed")
	}
	return passed
}

func checkNoHostNetwork(vctx *ValidationContext) ConstraintResult {
	if hc := vctx.hostConfig(); hc != nil && hc.NetworkMode.IsHost() {
		return violation("Host network mode is not allowed")
	}
	return passed
}

// checkAllowedMounts checks the source of every "source:dest[:opts]" bind
// and of every bind-type mount.
func checkAllowedMounts(c AllowedMounts, vctx *ValidationContext) ConstraintResult {
	hc := vctx.hostConfig()
	if hc == nil {
		return passed
	}

	var sources []string
	for _, bind := range hc.Binds {
		source, _, _ := strings.Cut(bind, ":")
		sources = append(sources, source)
	}
	for _, m := range hc.Mounts {
		if m.Type == mount.TypeBind {
			sources = append(sources, m.Source)
		}
	}

	for _, source := range sources {
		if !matchAny(c.Patterns, source) {
			return violation("Mount source '%s' is not allowed (allowed: %s)",
				source, strings.Join(matcherPatterns(c.Patterns), ", "))
		}
	}
	return passed
}

func checkImagePattern(c ImagePattern, vctx *ValidationContext) ConstraintResult {
	image := vctx.Image
	if image == "" && vctx.Container != nil && vctx.Container.Config != nil {
		image = vctx.Container.Config.Image
	}
	if image == "" {
		return passed
	}
	if !matchAny(c.Patterns, image) {
		return violation("Image '%s' does not match allowed patterns: %s",
			image, strings.Join(matcherPatterns(c.Patterns), ", "))
	}
	return passed
}

func checkContainerPattern(c ContainerPattern, vctx *ValidationContext) ConstraintResult {
	// Docker reports names with a single leading slash
	// Dockerは名前を先頭のスラッシュ1つ付きで報告する
	name := strings.TrimPrefix(vctx.ContainerName, "/")
	if name == "" {
		return passed
	}
	if !matchAny(c.Patterns, name) {
		return violation("Container '%s' does not match allowed patterns: %s",
			name, strings.Join(matcherPatterns(c.Patterns), ", "))
	}
	return passed
}

// checkResourceLimits fails when a requested value strictly exceeds its cap.
// Unset requests and unset caps never fail.
func checkResourceLimits(c ResourceLimits, vctx *ValidationContext) ConstraintResult {
	hc := vctx.hostConfig()
	if hc == nil {
		return passed
	}

	if c.MaxMemory > 0 && hc.Memory > c.MaxMemory {
		return violation("Memory request %s exceeds maximum %s",
			units.BytesSize(float64(hc.Memory)), units.BytesSize(float64(c.MaxMemory)))
	}

	if c.MaxCPUs > 0 && hc.NanoCPUs > 0 {
		cpus := float64(hc.NanoCPUs) / 1e9
		if cpus > c.MaxCPUs {
			return violation("CPU request %g exceeds maximum %g", cpus, c.MaxCPUs)
		}
	}
	return passed
}

// checkCwdOnly confines every extracted path to the working directory or
// an AlsoAllow root. Paths and roots are compared after symlink resolution,
// so a link inside the working directory cannot point outside it.
func checkCwdOnly(c CwdOnly, vctx *ValidationContext) ConstraintResult {
	if vctx.Command == "" || vctx.Workdir == "" {
		return passed
	}

	abs, err := filepath.Abs(vctx.Workdir)
	if err != nil {
		return violation("Cannot resolve working directory '%s': %v", vctx.Workdir, err)
	}
	workdir := evalPath(abs)

	allowHome := false
	roots := []string{workdir}
	for _, dir := range c.AlsoAllow {
		if dir == "~" {
			allowHome = true
			continue
		}
		if isHomePath(dir) {
			// only the literal "~" grants home access
			continue
		}
		roots = append(roots, evalPath(joinRaw(workdir, dir)))
	}

	var home string
	if allowHome {
		if h, err := os.UserHomeDir(); err == nil {
			home = filepath.Clean(h)
			roots = append(roots, evalPath(home))
		}
	}

	for _, p := range ExtractPaths(Tokenize(vctx.Command)) {
		if p == "-" {
			return violation("Ambiguous path '-' (previous directory) is not allowed")
		}

		var raw string
		if isHomePath(p) {
			if !allowHome || home == "" {
				return violation("Home directory paths are not allowed: '%s'", p)
			}
			if p == "~" {
				raw = home
			} else if strings.HasPrefix(p, "~/") {
				raw = joinRaw(home, p[2:])
			} else {
				// "~user" forms cannot be resolved here
				return violation("Home directory paths are not allowed: '%s'", p)
			}
		} else {
			raw = joinRaw(workdir, p)
		}
		lexical := filepath.Clean(raw)
		resolved := evalPath(raw)

		for _, candidate := range []string{lexical, resolved} {
			if pattern, ok := excludedBy(c.Exclude, candidate); ok {
				return violation("Path '%s' matches excluded pattern '%s'", p, pattern)
			}
		}

		if !WithinAny(resolved, roots) {
			if resolved != lexical {
				return violation("Path '%s' resolves to '%s', outside the working directory '%s'", lexical, resolved, workdir)
			}
			return violation("Path '%s' is outside the working directory '%s'", lexical, workdir)
		}
	}
	return passed
}

// isHomePath reports whether p refers to a home directory ("~", "~/x", "~user").
func isHomePath(p string) bool {
	return strings.HasPrefix(p, "~")
}

// joinRaw makes p absolute against base without cleaning it, so that ".."
// after a symlink is still applied to the link target by evalPath.
func joinRaw(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return base + string(filepath.Separator) + p
}

// evalPath resolves symlinks in the longest existing prefix of the absolute
// path p and appends the remaining elements unchanged.
//
// evalPathは絶対パスpの存在する最長プレフィックスのシンボリックリンクを解決し、
// 残りの要素はそのまま連結します。
func evalPath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	sep := string(filepath.Separator)
	trimmed := strings.TrimRight(p, sep)
	i := strings.LastIndex(trimmed, sep)
	if i < 0 {
		return filepath.Clean(p)
	}
	dir, base := trimmed[:i], trimmed[i+1:]
	if dir == "" {
		dir = sep
	}
	return filepath.Join(evalPath(dir), base)
}

// ResolveDir returns the absolute, symlink-free form of an existing directory.
// ResolveDirは既存ディレクトリの絶対パス（シンボリックリンク解決済み）を返します。
func ResolveDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}
	return resolved, nil
}

// excludedBy matches the basename and every segment of path against the
// exclude patterns and returns the first pattern that matched.
func excludedBy(exclude []*Matcher, path string) (string, bool) {
	if len(exclude) == 0 {
		return "", false
	}
	segments := strings.Split(path, string(filepath.Separator))
	candidates := append([]string{filepath.Base(path)}, segments...)
	for _, m := range exclude {
		for _, s := range candidates {
			if s != "" && m.Match(s) {
				return m.Pattern(), true
			}
		}
	}
	return "", false
}

// WithinAny reports whether path equals or is a descendant of one of roots.
// Both sides are compared as given; callers resolve them first.
func WithinAny(path string, roots []string) bool {
	for _, root := range roots {
		if path == root {
			return true
		}
		prefix := root
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func checkNoRecursive(vctx *ValidationContext) ConstraintResult {
	if flag, ok := findFlag(vctx.Command, "--recursive", "rR"); ok {
		return violation("Recursive flag '%s' is not allowed", flag)
	}
	return passed
}

func checkNoForce(vctx *ValidationContext) ConstraintResult {
	if flag, ok := findFlag(vctx.Command, "--force", "f"); ok {
		return violation("Force flag '%s' is not allowed", flag)
	}
	return passed
}

// findFlag returns the first argument token that is the long flag or a short
// cluster containing one of the letters.
func findFlag(command, long, letters string) (string, bool) {
	tokens := Tokenize(command)
	if len(tokens) < 2 {
		return "", false
	}
	for _, tok := range tokens[1:] {
		if tok == long {
			return tok, true
		}
		if isShortCluster(tok) && strings.ContainsAny(tok[1:], letters) {
			return tok, true
		}
	}
	return "", false
}

// checkMaxDepth requires an explicit depth bound. Both "-maxdepth N" and
// "--max-depth N" are recognised, as is the "--max-depth=N" form.
func checkMaxDepth(c MaxDepth, vctx *ValidationContext) ConstraintResult {
	if vctx.Command == "" {
		return passed
	}

	tokens := Tokenize(vctx.Command)
	found := false
	for i := 1; i < len(tokens); i++ {
		tok := tokens[i]

		var flag, value string
		hasValue := false
		switch {
		case tok == "-maxdepth" || tok == "--max-depth":
			flag = tok
			if i+1 < len(tokens) {
				value = tokens[i+1]
				hasValue = true
				i++
			}
		case strings.HasPrefix(tok, "--max-depth="):
			flag, value, _ = strings.Cut(tok, "=")
			hasValue = value != ""
		default:
			continue
		}

		found = true
		if !hasValue {
			return violation("Missing value for %s (maximum: %d)", flag, c.Value)
		}
		depth, err := strconv.Atoi(value)
		if err != nil {
			return violation("Invalid %s value '%s' (must be an integer, maximum: %d)", flag, value, c.Value)
		}
		if depth > c.Value {
			return violation("Depth %d exceeds maximum allowed depth %d", depth, c.Value)
		}
	}

	if !found {
		return violation("Must specify -maxdepth (maximum: %d)", c.Value)
	}
	return passed
}

// checkRequireFlag accepts the exact token ("--dry-run", also "--dry-run=x").
// A two-character short flag ("-n") is also accepted inside a cluster ("-nv").
func checkRequireFlag(c RequireFlag, vctx *ValidationContext) ConstraintResult {
	if vctx.Command == "" {
		return passed
	}

	tokens := Tokenize(vctx.Command)
	short := len(c.Flag) == 2 && c.Flag[0] == '-' && c.Flag[1] != '-'
	for _, tok := range tokens[min(1, len(tokens)):] {
		if tok == c.Flag {
			return passed
		}
		if strings.HasPrefix(c.Flag, "--") && strings.HasPrefix(tok, c.Flag+"=") {
			return passed
		}
		if short && isShortCluster(tok) && strings.IndexByte(tok[1:], c.Flag[1]) >= 0 {
			return passed
		}
	}
	return violation("Required flag '%s' is missing", c.Flag)
}
