// app.go wires configuration, logging, policies, masking and the audit sink
// into the gates used by the commands.
//
// app.goは設定、ログ、ポリシー、マスキング、監査シンクを
// コマンドが使用するゲートに結び付けます。
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/audit"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/config"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/docker"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/gateway"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/runner"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/security"
)

// newDockerClient is replaced in tests.
var newDockerClient = func() (docker.DockerClientInterface, error) {
	return docker.NewClient()
}

// app holds everything a command needs. Build it with newApp and release it
// with Close.
//
// appはコマンドが必要とするすべてを保持します。
// newAppで構築し、Closeで解放します。
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	// loadErr is the configuration error, if any. The policies are then
	// the deny-all fallback.
	// loadErrは設定エラーです。その場合ポリシーはすべて拒否のフォールバックです。
	loadErr error

	shellEngine  *security.Engine
	dockerEngine *security.Engine
	masker       *security.OutputMasker
	recorder     *audit.Recorder

	closers []func() error
}

// newApp loads the configuration and builds the shared collaborators.
// A configuration that fails to load or compile does not stop the command:
// both policies fall back to denying everything. The audit store is opened
// only when record is true and audit is enabled.
//
// newAppは設定を読み込み、共有コラボレータを構築します。
// 設定の読み込みやコンパイルに失敗してもコマンドは停止せず、
// 両方のポリシーがすべて拒否にフォールバックします。
func newApp(ctx context.Context, stderr io.Writer, record bool) (*app, error) {
	cfg, loadErr := config.Load(cfgFile)
	if loadErr != nil {
		cfg = config.NewDefaultConfig()
	}

	a := &app{cfg: cfg, loadErr: loadErr}

	logger, closeLog, err := setupLogger(resolveLogLevel(cfg.Logging.Level), flagLogFile, flagLogAlsoStderr, stderr)
	if err != nil {
		return nil, err
	}
	a.logger = logger
	a.closers = append(a.closers, closeLog)

	a.shellEngine = security.NewEngine(security.BuildPolicy("shell", &cfg.Shell, loadErr, logger))
	a.dockerEngine = security.NewEngine(security.BuildPolicy("docker", &cfg.Docker, loadErr, logger))

	a.masker, err = security.NewOutputMasker(&cfg.OutputMasking)
	if err != nil {
		logger.Error("output masking failed to compile, masking disabled", "error", err)
		a.masker, _ = security.NewOutputMasker(nil)
	}

	var store *audit.Store
	var mirror *audit.JSONLogger
	if record && cfg.Audit.Enabled {
		if cfg.Audit.Database != "" {
			store, err = audit.OpenStore(ctx, audit.StoreConfig{
				Path:   config.ExpandHome(cfg.Audit.Database),
				Logger: logger,
			})
			if err != nil {
				logger.Warn("audit store unavailable, continuing without it", "error", err)
				store = nil
			}
		}
		if cfg.Audit.JSONFile != "" {
			mirror, err = audit.NewJSONLogger(config.ExpandHome(cfg.Audit.JSONFile))
			if err != nil {
				logger.Warn("audit JSON log unavailable, continuing without it", "error", err)
				mirror = nil
			}
		}
	}
	a.recorder = audit.NewRecorder(store, mirror)
	a.closers = append(a.closers, a.recorder.Close)

	return a, nil
}

// Close releases the audit sink and the log file.
// Closeは監査シンクとログファイルを解放します。
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *app) options() gateway.Options {
	return gateway.Options{
		Logger:    a.logger,
		Sink:      a.recorder,
		Masker:    a.masker,
		SessionID: flagSessionID,
		MessageID: flagMessageID,
		Workdirs:  a.cfg.Runner.Workdirs(),
	}
}

func (a *app) shellGate() *gateway.ShellGate {
	return gateway.NewShellGate(a.shellEngine, runner.New(a.cfg.Runner), a.options())
}

// dockerGate creates a gate backed by a Docker client. The caller closes
// the returned client.
func (a *app) dockerGate() (*gateway.DockerGate, docker.DockerClientInterface, error) {
	client, err := newDockerClient()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return gateway.NewDockerGate(a.dockerEngine, client, a.options()), client, nil
}

// resolveLogLevel applies --log-level and -v over the configured level.
// resolveLogLevelは設定値に--log-levelと-vを適用します。
func resolveLogLevel(configured string) slog.Level {
	level := configured
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	if flagVerbosity > 0 {
		level = "debug"
	}
	return parseLogLevel(level)
}

// parseLogLevel converts a level string (debug/info/warn/error) to slog.Level.
// Unknown values yield info.
//
// parseLogLevelはレベル文字列（debug/info/warn/error）をslog.Levelに変換します。
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger configures the log output destination.
// Supports file logging (plain text), stderr (colored), or both simultaneously.
// Standard output is left to the command's own output.
//
// setupLoggerはログ出力先を設定します。
// ファイル（プレーンテキスト）、stderr（カラー）、または両方への同時出力をサポートします。
// 標準出力はコマンド自身の出力に使われます。
func setupLogger(level slog.Level, logFile string, alsoStderr bool, stderr io.Writer) (*slog.Logger, func() error, error) {
	noop := func() error { return nil }

	if logFile == "" {
		logger := slog.New(NewColoredHandler(stderr, level))
		slog.SetDefault(logger)
		return logger, noop, nil
	}

	// Open log file for appending (create if doesn't exist).
	// ログファイルを追記モードで開きます（存在しない場合は作成）。
	f, err := os.OpenFile(config.ExpandHome(logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to open log file: %w", err)
	}

	fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})
	var logger *slog.Logger
	if alsoStderr {
		logger = slog.New(&multiHandler{handlers: []slog.Handler{NewColoredHandler(stderr, level), fileHandler}})
	} else {
		logger = slog.New(fileHandler)
	}
	slog.SetDefault(logger)
	return logger, f.Close, nil
}
