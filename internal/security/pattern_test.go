package security

import "testing"

// TestCompilePattern_Literal verifies that patterns without "*" match only
// themselves, never a substring or superstring.
//
// TestCompilePattern_Literalは "*" を含まないパターンが自身のみにマッチし、
// 部分文字列や上位文字列にマッチしないことを検証します。
func TestCompilePattern_Literal(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"ls", "ls", true},
		{"ls", "LS", true},
		{"ls", "ls -la", false},
		{"ls", "l", false},
		{"ls -la", "xls -la", false},
		{"list_containers", "list_containers", true},
		{"list_containers", "list_containers:foo", false},
		{"", "", true},
		{"", "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.input, func(t *testing.T) {
			if got := CompilePattern(tt.pattern).Match(tt.input); got != tt.want {
				t.Errorf("CompilePattern(%q).Match(%q) = %v, want %v", tt.pattern, tt.input, got, tt.want)
			}
		})
	}
}

// TestCompilePattern_Wildcard verifies "*" substitution and case-insensitivity.
// TestCompilePattern_Wildcardは "*" の置換と大文字小文字の無視を検証します。
func TestCompilePattern_Wildcard(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"Docker*", "DOCKER RUN", true},
		{"docker *", "docker ps -a", true},
		{"docker *", "docker", false},
		{"*", "", true},
		{"*", "anything at all", true},
		{"git log*", "git log", true},
		{"git log*", "git log --oneline", true},
		// runs as one argv, see CompilePattern
		{"git *", "git\nrm -rf /", true},
		{"create_container:*", "create_container:nginx:latest", true},
		{"create_container:*", "create_container", false},
		{"*.txt", "notes.txt", true},
		{"*.txt", "notes.md", false},
		{"a*b*c", "abc", true},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "aXXbYY", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.input, func(t *testing.T) {
			if got := CompilePattern(tt.pattern).Match(tt.input); got != tt.want {
				t.Errorf("CompilePattern(%q).Match(%q) = %v, want %v", tt.pattern, tt.input, got, tt.want)
			}
		})
	}
}

// TestCompilePattern_EscapesMetacharacters verifies that regex
// metacharacters other than "*" are literal.
//
// TestCompilePattern_EscapesMetacharactersは "*" 以外の正規表現メタ文字が
// リテラルとして扱われることを検証します。
func TestCompilePattern_EscapesMetacharacters(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"file.txt", "file.txt", true},
		{"file.txt", "fileXtxt", false},
		{"a+b", "a+b", true},
		{"a+b", "aab", false},
		{"(x)", "(x)", true},
		{"[abc]", "a", false},
		{"[abc]", "[abc]", true},
		{"cost $5?", "cost $5?", true},
		{"^start", "^start", true},
		{`back\slash`, `back\slash`, true},
		{"a|b", "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := CompilePattern(tt.pattern).Match(tt.input); got != tt.want {
				t.Errorf("CompilePattern(%q).Match(%q) = %v, want %v", tt.pattern, tt.input, got, tt.want)
			}
		})
	}
}

// TestCompilePattern_Cached verifies one Matcher per distinct pattern string.
// TestCompilePattern_Cachedは異なるパターン文字列ごとに1つのMatcherであることを検証します。
func TestCompilePattern_Cached(t *testing.T) {
	a := CompilePattern("cache-test *")
	b := CompilePattern("cache-test *")
	if a != b {
		t.Error("CompilePattern should return the cached Matcher for the same pattern")
	}
	if a.Pattern() != "cache-test *" {
		t.Errorf("Pattern() = %q", a.Pattern())
	}
	if CompilePattern("cache-test ?") == a {
		t.Error("different patterns must not share a Matcher")
	}
}
