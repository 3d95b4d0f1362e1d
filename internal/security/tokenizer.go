// Package security is the policy engine of dkguard.
// It decides whether a shell command or Docker operation may run, and checks
// the constraints attached to the matching rule before anything executes.
//
// securityパッケージはdkguardのポリシーエンジンです。
// シェルコマンドやDocker操作を実行してよいかを判定し、
// 実行前にマッチしたルールの制約をチェックします。
//
// Components (コンポーネント):
//   - Tokenize: shell-like tokenizer (シェル風トークナイザ)
//   - CompilePattern: anchored, case-insensitive glob matcher (完全一致・大文字小文字無視のglob)
//   - ExtractPaths: command-aware path extraction (コマンド別パス抽出)
//   - PolicyConfig / Engine: rule store and first-match decision (ルールストアと判定)
//   - Validate: constraint validator (制約バリデータ)
package security

import "strings"

// Tokenize splits a command line into shell-like tokens.
// It is an approximation of POSIX shell word splitting, good enough for
// flag and path extraction. It never fails.
//
// Supported syntax:
//   - Unquoted tokens are separated by runs of spaces or tabs
//   - 'single quoted' and "double quoted" spans are taken literally; only the
//     matching quote character ends the span
//   - A backslash outside quotes escapes the next character (including space)
//   - Empty quoted strings ("" or '') produce no token
//   - An unterminated quote runs to the end of the input
//
// Tokenizeはコマンドラインをシェル風のトークンに分割します。
// POSIXシェルの単語分割の近似で、フラグとパスの抽出には十分です。失敗しません。
//
// サポートされる構文：
//   - 引用符なしのトークンは連続するスペースまたはタブで区切られる
//   - 'シングルクォート' と "ダブルクォート" の内容はリテラル。対応する引用符のみが終端
//   - 引用符外のバックスラッシュは次の文字をエスケープ（スペースを含む）
//   - 空の引用符（"" や ''）はトークンを生成しない
//   - 閉じられていない引用符は入力の終わりまで続く
func Tokenize(command string) []string {
	var tokens []string
	var current strings.Builder
	var quote rune
	escaped := false

	for _, ch := range command {
		if escaped {
			current.WriteRune(ch)
			escaped = false
			continue
		}

		if quote != 0 {
			if ch == quote {
				quote = 0
				continue
			}
			current.WriteRune(ch)
			continue
		}

		switch ch {
		case '\\':
			escaped = true
		case '\'', '"':
			quote = ch
		case ' ', '\t':
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	// A trailing lone backslash has nothing to escape and is dropped.
	// 末尾の単独バックスラッシュはエスケープ対象がないため破棄
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

// isFlag reports whether a token looks like an option ("-x", "--long").
// A lone "-" is not a flag.
func isFlag(token string) bool {
	return len(token) > 1 && token[0] == '-'
}

// isShortCluster reports whether a token is a single-dash option cluster
// such as "-r" or "-rf".
func isShortCluster(token string) bool {
	return isFlag(token) && !strings.HasPrefix(token, "--")
}
