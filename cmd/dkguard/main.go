// Package main is the entry point for dkguard.
// dkguardのエントリーポイントとなるパッケージです。
//
// dkguard decides whether shell commands and Docker operations requested by
// an AI agent may run, and records every decision in an audit log.
// dkguardは、AIエージェントが要求したシェルコマンドとDocker操作の実行可否を判定し、
// すべての判定を監査ログに記録します。
package main

import (
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/cli"
)

// main delegates command parsing and execution to the cli package.
// mainはコマンドの解析と実行をcliパッケージに委譲します。
func main() {
	cli.Execute()
}
