package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventType represents the type of audit event in the JSON mirror.
// EventTypeはJSONミラー内の監査イベントのタイプを表します。
type EventType string

const (
	// EventDecision is logged when a decision is recorded.
	// EventDecisionは判定が記録された時にログ記録されます。
	EventDecision EventType = "decision"

	// EventOutcome is logged when an operation finished.
	// EventOutcomeは操作が完了した時にログ記録されます。
	EventOutcome EventType = "outcome"
)

// JSONLogger mirrors audit records as JSON lines.
// JSONLoggerは監査レコードをJSON行としてミラーします。
type JSONLogger struct {
	logger *slog.Logger
	mu     sync.Mutex
	file   *os.File
}

// NewJSONLogger opens a JSON-lines mirror. Path "-" writes to stdout;
// anything else is opened in append mode.
//
// NewJSONLoggerはJSON行ミラーを開きます。パス "-" はstdoutに書き込み、
// それ以外は追記モードで開きます。
func NewJSONLogger(path string) (*JSONLogger, error) {
	if path == "" {
		return nil, fmt.Errorf("audit json logger: path is required")
	}
	if path == "-" {
		return NewJSONLoggerWriter(os.Stdout), nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("audit json logger: %w", err)
	}
	l := NewJSONLoggerWriter(f)
	l.file = f
	return l, nil
}

// NewJSONLoggerWriter creates a JSON-lines mirror on w.
// NewJSONLoggerWriterはwに対するJSON行ミラーを作成します。
func NewJSONLoggerWriter(w io.Writer) *JSONLogger {
	return &JSONLogger{
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})),
	}
}

// Close closes the underlying file, if any.
// Closeは基になるファイルがあればクローズします。
func (l *JSONLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// LogDecision writes a decision event.
// LogDecisionは判定イベントを書き込みます。
func (l *JSONLogger) LogDecision(ctx context.Context, id int64, e Entry) {
	if l == nil {
		return
	}

	attrs := []any{
		slog.String("event_type", string(EventDecision)),
		slog.Int64("id", id),
		slog.String("kind", string(e.Kind)),
		slog.String("operation", e.Operation),
		slog.String("decision", e.Decision),
	}
	if e.Target != "" {
		attrs = append(attrs, slog.String("target", e.Target))
	}
	if e.Pattern != "" {
		attrs = append(attrs, slog.String("pattern", e.Pattern))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	if e.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", e.SessionID))
	}
	if e.MessageID != "" {
		attrs = append(attrs, slog.String("message_id", e.MessageID))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.InfoContext(ctx, "audit_event", attrs...)
}

// LogOutcome writes an outcome event.
// LogOutcomeは結果イベントを書き込みます。
func (l *JSONLogger) LogOutcome(ctx context.Context, id int64, o Outcome) {
	if l == nil {
		return
	}

	attrs := []any{
		slog.String("event_type", string(EventOutcome)),
		slog.Int64("id", id),
		slog.String("result", o.Summary),
		slog.Int64("duration_ms", o.DurationMs),
	}
	if o.ExitCode != nil {
		attrs = append(attrs, slog.Int("exit_code", *o.ExitCode))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.InfoContext(ctx, "audit_event", attrs...)
}
