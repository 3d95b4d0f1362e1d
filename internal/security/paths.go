package security

import "strings"

// pathStrategy selects how filesystem paths are pulled out of a command's arguments.
// pathStrategyはコマンド引数からファイルシステムパスを取り出す方法を選択します。
type pathStrategy int

const (
	strategyGeneric pathStrategy = iota
	strategyCd
	strategyListing
	strategyFind
	strategySearch
	strategyFileArgs
)

// strategyFor maps a command name to its extraction strategy.
// strategyForはコマンド名を抽出戦略に対応付けます。
func strategyFor(command string) pathStrategy {
	switch command {
	case "cd":
		return strategyCd
	case "ls", "tree", "du":
		return strategyListing
	case "find":
		return strategyFind
	case "grep", "rg":
		return strategySearch
	case "cat", "head", "tail", "cp", "mv", "rm", "stat", "file", "touch",
		"mkdir", "rmdir", "ln", "readlink", "realpath":
		return strategyFileArgs
	default:
		return strategyGeneric
	}
}

// ExtractPaths returns the tokens of a tokenized command that name filesystem paths.
// The first token is the command name and selects the extraction strategy:
//   - cd: no argument → "~"; a standalone "-" → "-"; otherwise the first non-flag argument (or "~")
//   - ls, tree, du: all non-flag arguments, or "." when there are none
//   - find: leading arguments up to the first one starting with "-", or "."
//   - grep, rg: non-flag arguments after the first (which is the search pattern)
//   - cat, head, tail, cp, mv, rm, ... : all non-flag arguments
//   - anything else: every argument not starting with "-"
//
// Flags that take a value are not special-cased: "head -n 10 file" yields
// ["10", "file"]. The cwd_only constraint is written against this behavior.
//
// ExtractPathsはトークン化されたコマンドからファイルシステムパスを表すトークンを返します。
// 最初のトークンはコマンド名で、抽出戦略を選択します。
// 値を取るフラグは特別扱いしません："head -n 10 file" は ["10", "file"] になります。
// cwd_only制約はこの動作を前提に書かれています。
func ExtractPaths(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	args := tokens[1:]

	switch strategyFor(tokens[0]) {
	case strategyCd:
		return cdPaths(args)
	case strategyListing:
		return orDefault(nonFlagArgs(args), ".")
	case strategyFind:
		return orDefault(findRoots(args), ".")
	case strategySearch:
		operands := nonFlagArgs(args)
		if len(operands) <= 1 {
			return nil
		}
		return operands[1:]
	case strategyFileArgs:
		return nonFlagArgs(args)
	default:
		return nonFlagArgs(args)
	}
}

// cdPaths implements the cd strategy.
// "cd -" returns "-" so that callers can reject the unresolvable destination.
//
// cdPathsはcd戦略を実装します。
// "cd -" は解決できない移動先を呼び出し側が拒否できるよう "-" を返します。
func cdPaths(args []string) []string {
	if len(args) == 0 {
		return []string{"~"}
	}
	for _, arg := range args {
		if arg == "-" {
			return []string{"-"}
		}
	}
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			return []string{arg}
		}
	}
	return []string{"~"}
}

// findRoots returns the starting points of a find command.
func findRoots(args []string) []string {
	var roots []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			break
		}
		roots = append(roots, arg)
	}
	return roots
}

// nonFlagArgs returns every argument that does not start with "-".
func nonFlagArgs(args []string) []string {
	var out []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			out = append(out, arg)
		}
	}
	return out
}

func orDefault(paths []string, def string) []string {
	if len(paths) == 0 {
		return []string{def}
	}
	return paths
}
