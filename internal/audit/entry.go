// Package audit records every policy decision and, when the operation ran,
// its outcome. Entries live in an append-mostly SQLite table that also
// serves aggregate statistics; a JSON-lines mirror can be attached for
// log shipping.
//
// auditパッケージはすべてのポリシー判定と、操作が実行された場合はその結果を記録します。
// エントリは集計統計にも使われる追記中心のSQLiteテーブルに保存されます。
// ログ転送用にJSON行のミラーを追加できます。
package audit

import (
	"context"
	"time"
)

// Kind is the operation domain of an entry.
// Kindはエントリの操作ドメインです。
type Kind string

const (
	KindShell  Kind = "shell"
	KindDocker Kind = "docker"
)

// Decision values stored in the decision column.
// decision列に保存される判定値。
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Entry is one audited attempt.
// It is created once when the decision is made and completed at most once
// when the operation finished.
//
// Entryは監査される1回の試行です。
// 判定時に一度作成され、操作完了時に最大一度だけ完了情報が追記されます。
type Entry struct {
	ID        int64
	Timestamp time.Time
	Kind      Kind

	// SessionID and MessageID correlate the entry with the agent conversation.
	// SessionIDとMessageIDはエントリをエージェントの会話と関連付けます。
	SessionID string
	MessageID string

	// Operation is the command line or "operation[:target]" string.
	// Operationはコマンドラインまたは "operation[:target]" 文字列です。
	Operation string

	// Target is the working directory (shell) or target object (docker).
	// Targetは作業ディレクトリ（シェル）または対象オブジェクト（docker）です。
	Target string

	// Pattern is the matched rule pattern; empty for default decisions.
	// Patternはマッチしたルールのパターンです。デフォルト判定では空です。
	Pattern string

	Decision string
	Reason   string

	// Outcome fields, set by RecordOutcome.
	// 結果フィールド。RecordOutcomeで設定されます。
	Completed  bool
	Summary    string
	ExitCode   *int
	DurationMs int64
}

// Outcome is the result of an operation that actually ran.
// Outcomeは実際に実行された操作の結果です。
type Outcome struct {
	// Summary is a short, masked description of the result ("success",
	// "exit status 1", the error message, ...).
	// Summaryは結果の短いマスク済みの説明です。
	Summary string

	// ExitCode is set for shell commands.
	// ExitCodeはシェルコマンドの場合に設定されます。
	ExitCode *int

	DurationMs int64
}

// Sink receives audit records.
// RecordAttempt is called for every decision, allow or deny, and returns an
// opaque id. RecordOutcome is called with that id only when the operation
// actually ran; callers must tolerate it never being called.
//
// Sinkは監査レコードを受け取ります。
// RecordAttemptはallow/denyを問わずすべての判定で呼ばれ、不透明なIDを返します。
// RecordOutcomeは操作が実際に実行された場合のみそのIDで呼ばれます。
type Sink interface {
	RecordAttempt(ctx context.Context, entry Entry) (int64, error)
	RecordOutcome(ctx context.Context, id int64, outcome Outcome) error
}

// Discard is a Sink that records nothing.
// Discardは何も記録しないSinkです。
var Discard Sink = discard{}

type discard struct{}

func (discard) RecordAttempt(context.Context, Entry) (int64, error)  { return 0, nil }
func (discard) RecordOutcome(context.Context, int64, Outcome) error { return nil }

// MeasureDuration is a helper to measure operation duration.
// MeasureDurationは操作の所要時間を計測するヘルパーです。
func MeasureDuration(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
