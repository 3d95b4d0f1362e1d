package security

import (
	"regexp"
	"strings"
	"sync"
)

// Matcher is a compiled glob pattern.
// It matches the whole input (implicitly anchored) and ignores case.
// A Matcher is immutable and safe for concurrent use.
//
// Matcherはコンパイル済みのglobパターンです。
// 入力全体に対してマッチし（暗黙のアンカー）、大文字小文字を区別しません。
// Matcherは不変で、並行利用に対して安全です。
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// Match reports whether s matches the whole pattern.
// Matchはsがパターン全体にマッチするかを返します。
func (m *Matcher) Match(s string) bool {
	return m.re.MatchString(s)
}

// Pattern returns the source glob pattern.
// Patternは元のglobパターンを返します。
func (m *Matcher) Pattern() string {
	return m.pattern
}

// matcherCache holds one Matcher per distinct pattern string.
// Rules are evaluated for every incoming operation, so patterns are compiled
// once and shared between rules and constraints.
//
// matcherCacheは異なるパターン文字列ごとに1つのMatcherを保持します。
var matcherCache = struct {
	sync.Mutex
	m map[string]*Matcher
}{m: make(map[string]*Matcher)}

// CompilePattern converts a glob pattern into an anchored, case-insensitive Matcher.
// Every regex metacharacter is escaped except "*", which matches any sequence
// of characters (including the empty sequence and newlines).
// CompilePattern("") matches only the empty string.
//
// Because "*" spans newlines and shell separators, "git *" also matches
// "git\nrm -rf /" and "git status; rm -rf /". Allowing such a pattern is only
// safe while the command runner executes argv directly and never passes the
// command line to a shell.
//
// CompilePatternはglobパターンを完全一致・大文字小文字無視のMatcherに変換します。
// "*"以外の正規表現メタ文字はすべてエスケープされ、"*"は任意の文字列
// （空文字列と改行を含む）にマッチします。
// CompilePattern("")は空文字列のみにマッチします。
// "*"は改行やシェルの区切り文字にもマッチするため、このようなパターンの許可は
// ランナーがシェルを介さずargvを直接実行する場合にのみ安全です。
func CompilePattern(pattern string) *Matcher {
	matcherCache.Lock()
	defer matcherCache.Unlock()

	if m, ok := matcherCache.m[pattern]; ok {
		return m
	}

	segments := strings.Split(pattern, "*")
	for i, seg := range segments {
		segments[i] = regexp.QuoteMeta(seg)
	}
	expr := `(?is)^` + strings.Join(segments, `.*`) + `$`

	// QuoteMeta output is always a valid expression, so MustCompile cannot panic here.
	m := &Matcher{pattern: pattern, re: regexp.MustCompile(expr)}
	matcherCache.m[pattern] = m
	return m
}

// compilePatterns compiles a list of glob patterns.
func compilePatterns(patterns []string) []*Matcher {
	matchers := make([]*Matcher, 0, len(patterns))
	for _, p := range patterns {
		matchers = append(matchers, CompilePattern(p))
	}
	return matchers
}

// matchAny reports whether s matches at least one matcher.
func matchAny(matchers []*Matcher, s string) bool {
	for _, m := range matchers {
		if m.Match(s) {
			return true
		}
	}
	return false
}

// matcherPatterns returns the source patterns of the given matchers.
func matcherPatterns(matchers []*Matcher) []string {
	patterns := make([]string, 0, len(matchers))
	for _, m := range matchers {
		patterns = append(patterns, m.pattern)
	}
	return patterns
}
