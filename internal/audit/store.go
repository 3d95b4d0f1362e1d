package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp    INTEGER NOT NULL,
	kind         TEXT    NOT NULL,
	session_id   TEXT,
	message_id   TEXT,
	operation    TEXT    NOT NULL,
	target       TEXT,
	pattern      TEXT,
	decision     TEXT    NOT NULL,
	reason       TEXT,
	result       TEXT,
	exit_code    INTEGER,
	duration_ms  INTEGER,
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_decision  ON audit_log(decision);
CREATE INDEX IF NOT EXISTS idx_audit_operation ON audit_log(operation);
`

// Store is the SQLite-backed audit log.
//
// Write path: RecordAttempt inserts one row per decision and returns its
// row id; RecordOutcome updates that row once. Writes are serialized by a
// mutex and run in IMMEDIATE transactions.
//
// Read path: the aggregate queries in query.go take their own pooled
// connections and run concurrently with writes (WAL mode).
//
// StoreはSQLiteベースの監査ログです。
// 書き込みはミューテックスで直列化され、IMMEDIATEトランザクションで実行されます。
// 集計クエリはプールされた接続で書き込みと並行して実行されます（WALモード）。
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
	now    func() time.Time

	writeMu sync.Mutex
}

// StoreConfig holds the parameters for opening a Store.
// StoreConfigはStoreを開くためのパラメータを保持します。
type StoreConfig struct {
	// Path is the database file. Its parent directory is created if needed.
	Path string

	// PoolSize defaults to max(NumCPU, 4).
	PoolSize int

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
}

// OpenStore opens (or creates) the audit database and ensures the schema.
// OpenStoreは監査データベースを開き（または作成し）、スキーマを確保します。
func OpenStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("audit store: creating directory: %w", err)
		}
	}

	pool, err := openPool(cfg.Path, cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}

	s := &Store{
		pool:   pool,
		logger: logger,
		path:   cfg.Path,
		now:    time.Now,
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit store: %w", err)
	}

	logger.Debug("audit store opened", "path", cfg.Path)
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Close closes the connection pool. Blocks until borrowed connections are returned.
// Closeは接続プールをクローズします。
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("audit store: closing %s: %w", s.path, err)
	}
	return nil
}

// RecordAttempt inserts an entry and returns its row id.
// Timestamp defaults to the current time.
//
// RecordAttemptはエントリを挿入し、その行IDを返します。
// Timestampのデフォルトは現在時刻です。
func (s *Store) RecordAttempt(ctx context.Context, entry Entry) (id int64, err error) {
	if entry.Operation == "" {
		return 0, fmt.Errorf("audit store: operation is required")
	}
	if entry.Decision != DecisionAllow && entry.Decision != DecisionDeny {
		return 0, fmt.Errorf("audit store: invalid decision %q", entry.Decision)
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("audit store: record attempt: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("audit store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`INSERT INTO audit_log
			(timestamp, kind, session_id, message_id, operation, target, pattern, decision, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				ts.UnixMilli(),
				string(entry.Kind),
				nullable(entry.SessionID),
				nullable(entry.MessageID),
				entry.Operation,
				nullable(entry.Target),
				nullable(entry.Pattern),
				entry.Decision,
				nullable(entry.Reason),
			},
		})
	if err != nil {
		return 0, fmt.Errorf("audit store: insert: %w", err)
	}

	return conn.LastInsertRowID(), nil
}

// RecordOutcome completes the entry with the given id. Only that row is
// touched, and an entry can be completed only once.
//
// RecordOutcomeは指定IDのエントリを完了させます。その行のみが変更され、
// エントリの完了は一度だけ可能です。
func (s *Store) RecordOutcome(ctx context.Context, id int64, outcome Outcome) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("audit store: record outcome: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("audit store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var exitCode any
	if outcome.ExitCode != nil {
		exitCode = *outcome.ExitCode
	}

	err = sqlitex.Execute(conn,
		`UPDATE audit_log
		    SET result = ?, exit_code = ?, duration_ms = ?, completed_at = ?
		  WHERE id = ? AND completed_at IS NULL`,
		&sqlitex.ExecOptions{
			Args: []any{
				outcome.Summary,
				exitCode,
				outcome.DurationMs,
				s.now().UnixMilli(),
				id,
			},
		})
	if err != nil {
		return fmt.Errorf("audit store: update: %w", err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("audit store: entry %d not found or already completed", id)
	}
	return nil
}

// Get returns the entry with the given id.
// Getは指定IDのエントリを返します。
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	var found *Entry
	err := s.query(ctx, `SELECT `+entryColumns+` FROM audit_log WHERE id = ?`, []any{id},
		func(stmt *sqlite.Stmt) error {
			e := scanEntry(stmt)
			found = &e
			return nil
		})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("audit store: entry %d not found", id)
	}
	return found, nil
}

// query runs a read-only statement on a pooled connection.
func (s *Store) query(ctx context.Context, sql string, args []any, fn func(*sqlite.Stmt) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("audit store: query: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{Args: args, ResultFunc: fn}); err != nil {
		return fmt.Errorf("audit store: query: %w", err)
	}
	return nil
}

const entryColumns = `id, timestamp, kind, session_id, message_id, operation, target,
	pattern, decision, reason, result, exit_code, duration_ms, completed_at`

func scanEntry(stmt *sqlite.Stmt) Entry {
	e := Entry{
		ID:        stmt.ColumnInt64(0),
		Timestamp: time.UnixMilli(stmt.ColumnInt64(1)),
		Kind:      Kind(stmt.ColumnText(2)),
		SessionID: stmt.ColumnText(3),
		MessageID: stmt.ColumnText(4),
		Operation: stmt.ColumnText(5),
		Target:    stmt.ColumnText(6),
		Pattern:   stmt.ColumnText(7),
		Decision:  stmt.ColumnText(8),
		Reason:    stmt.ColumnText(9),
		Summary:   stmt.ColumnText(10),
	}
	if !stmt.ColumnIsNull(11) {
		code := stmt.ColumnInt(11)
		e.ExitCode = &code
	}
	e.DurationMs = stmt.ColumnInt64(12)
	e.Completed = !stmt.ColumnIsNull(13)
	return e
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
