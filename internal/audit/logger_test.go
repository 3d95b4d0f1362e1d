package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewJSONLogger(t *testing.T) {
	t.Run("file logger", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "audit.jsonl")

		logger, err := NewJSONLogger(logFile)
		if err != nil {
			t.Fatalf("NewJSONLogger() error = %v", err)
		}
		defer logger.Close()

		if logger.file == nil {
			t.Error("expected file to be non-nil for file logger")
		}
		if _, err := os.Stat(logFile); os.IsNotExist(err) {
			t.Error("expected log file to be created")
		}
	})

	t.Run("stdout logger", func(t *testing.T) {
		logger, err := NewJSONLogger("-")
		if err != nil {
			t.Fatalf("NewJSONLogger(-) error = %v", err)
		}
		if logger.file != nil {
			t.Error("expected file to be nil for stdout logger")
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := NewJSONLogger(""); err == nil {
			t.Error("expected error for empty path")
		}
	})
}

func TestJSONLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerWriter(&buf)
	ctx := context.Background()

	logger.LogDecision(ctx, 7, Entry{
		Kind:      KindShell,
		Operation: "rm -rf /",
		Target:    "/project",
		Decision:  DecisionDeny,
		Reason:    "no deletes",
		SessionID: "sess-1",
	})
	code := 0
	logger.LogOutcome(ctx, 8, Outcome{Summary: "success", ExitCode: &code, DurationMs: 42})

	var events []map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var ev map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("failed to parse log line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	decision := events[0]
	if decision["msg"] != "audit_event" || decision["event_type"] != "decision" {
		t.Errorf("decision event = %v", decision)
	}
	if decision["operation"] != "rm -rf /" || decision["decision"] != "deny" || decision["reason"] != "no deletes" {
		t.Errorf("decision event fields = %v", decision)
	}
	if decision["id"] != float64(7) {
		t.Errorf("decision id = %v, want 7", decision["id"])
	}
	if _, ok := decision["pattern"]; ok {
		t.Error("empty pattern should be omitted")
	}

	outcome := events[1]
	if outcome["event_type"] != "outcome" || outcome["result"] != "success" {
		t.Errorf("outcome event = %v", outcome)
	}
	if outcome["duration_ms"] != float64(42) || outcome["exit_code"] != float64(0) {
		t.Errorf("outcome fields = %v", outcome)
	}
}

func TestNilLoggerSafety(t *testing.T) {
	var logger *JSONLogger
	ctx := context.Background()

	// These should not panic
	logger.LogDecision(ctx, 1, Entry{Operation: "ls", Decision: DecisionAllow})
	logger.LogOutcome(ctx, 1, Outcome{Summary: "success"})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on nil logger = %v", err)
	}
}

func TestMeasureDuration(t *testing.T) {
	start := time.Now().Add(-100 * time.Millisecond)
	if d := MeasureDuration(start); d < 100 {
		t.Errorf("MeasureDuration() = %d, want >= 100", d)
	}
}

func BenchmarkJSONLogger(b *testing.B) {
	var buf bytes.Buffer
	logger := NewJSONLoggerWriter(&buf)
	ctx := context.Background()
	entry := Entry{Kind: KindDocker, Operation: "list_containers", Decision: DecisionAllow}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.LogDecision(ctx, int64(i), entry)
	}
}
