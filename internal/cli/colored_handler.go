// colored_handler.go implements a colored slog handler for terminal output.
// It adds ANSI color codes to log levels for better visibility in terminals.
//
// colored_handler.goはターミナル出力用のカラーslogハンドラーを実装します。
// ターミナルでの視認性向上のためにログレベルにANSIカラーコードを追加します。
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ANSI color codes for terminal output.
// ターミナル出力用のANSIカラーコード。
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// ColoredHandler is a slog.Handler that writes one line per record.
// Colors are only applied when the output is a TTY.
// Attributes added with WithAttrs are printed before the record's own, and
// group names prefix the keys ("group.key").
//
// ColoredHandlerはレコードごとに1行を書き込むslog.Handlerです。
// 出力がTTYの場合のみ色が適用されます。
// WithAttrsで追加された属性はレコード自身の属性の前に出力され、
// グループ名はキーのプレフィックスになります（"group.key"）。
type ColoredHandler struct {
	out     io.Writer
	level   slog.Level
	colored bool

	// preformatted holds the attributes from WithAttrs, already rendered.
	preformatted string
	group        string

	mu *sync.Mutex
}

// NewColoredHandler creates a new ColoredHandler.
// If out is a terminal, colors will be enabled.
//
// NewColoredHandlerは新しいColoredHandlerを作成します。
// outがターミナルの場合、色が有効になります。
func NewColoredHandler(out io.Writer, level slog.Level) *ColoredHandler {
	colored := false
	if f, ok := out.(*os.File); ok {
		fi, err := f.Stat()
		if err == nil {
			colored = (fi.Mode() & os.ModeCharDevice) != 0
		}
	}

	return &ColoredHandler{
		out:     out,
		level:   level,
		colored: colored,
		mu:      &sync.Mutex{},
	}
}

// Enabled implements slog.Handler.Enabled.
func (h *ColoredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle implements slog.Handler.Handle.
// HandleはslogHandler.Handleを実装します。
func (h *ColoredHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	timeStr := r.Time.Format(time.DateTime)
	levelStr, levelColor := h.levelInfo(r.Level)

	if h.colored {
		// Colored output: time in gray, level in color, message in default
		// カラー出力: 時間はグレー、レベルは色付き、メッセージはデフォルト
		fmt.Fprintf(&b, "%s%s%s %s%-5s%s %s",
			colorGray, timeStr, colorReset,
			levelColor, levelStr, colorReset,
			r.Message,
		)
	} else {
		fmt.Fprintf(&b, "%s %-5s %s", timeStr, levelStr, r.Message)
	}

	b.WriteString(h.preformatted)
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

// appendAttr renders one attribute, flattening groups into dotted keys.
// Empty attributes are skipped as slog.Handler requires.
func (h *ColoredHandler) appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.appendAttr(b, key, ga)
		}
		return
	}

	if h.colored {
		fmt.Fprintf(b, " %s%s%s=%v", colorCyan, key, colorReset, a.Value)
	} else {
		fmt.Fprintf(b, " %s=%v", key, a.Value)
	}
}

// WithAttrs implements slog.Handler.WithAttrs.
// WithAttrsはslog.Handler.WithAttrsを実装します。
func (h *ColoredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.preformatted)
	for _, a := range attrs {
		h.appendAttr(&b, h.group, a)
	}
	h2 := *h
	h2.preformatted = b.String()
	return &h2
}

// WithGroup implements slog.Handler.WithGroup.
// WithGroupはslog.Handler.WithGroupを実装します。
func (h *ColoredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h2.group != "" {
		h2.group += "." + name
	} else {
		h2.group = name
	}
	return &h2
}

// levelInfo returns the level string and color for a given slog.Level.
// levelInfoは指定されたslog.Levelのレベル文字列と色を返します。
func (h *ColoredHandler) levelInfo(level slog.Level) (string, string) {
	switch {
	case level < slog.LevelInfo:
		return "DEBUG", colorBlue
	case level < slog.LevelWarn:
		return "INFO", colorGreen
	case level < slog.LevelError:
		return "WARN", colorYellow
	default:
		return "ERROR", colorRed
	}
}

// multiHandler is a slog.Handler that writes to multiple handlers.
// It allows logging to both stderr (colored) and a file (plain) simultaneously.
//
// multiHandlerは複数のハンドラーに書き込むslog.Handlerです。
// stderr（カラー）とファイル（プレーン）の両方に同時にログを出力できます。
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled reports whether any handler is enabled for the level.
func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes to every enabled handler. All handlers are tried; the
// first error is returned.
//
// Handleは有効なすべてのハンドラーに書き込みます。
// すべてのハンドラーを試行し、最初のエラーを返します。
func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
