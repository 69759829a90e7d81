package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	sqlite "modernc.org/sqlite"
)

const driverHistory = "s3console-history"

func init() {
	sql.Register(driverHistory, &sqlite.Driver{})
}

// DefaultMaxEntries caps each user partition. Oldest entries beyond the cap
// are evicted on insert.
const DefaultMaxEntries = 1000

// ErrNotFound is returned when an entry id does not exist in the user's
// partition.
var ErrNotFound = errors.New("history entry not found")

// Config configures the history store.
type Config struct {
	// Path is the local filesystem path to the history database.
	// ":memory:" opens an in-memory database (tests).
	Path string

	// MaxEntries caps each user partition. Zero uses DefaultMaxEntries.
	MaxEntries int

	// Logger receives store diagnostics. nil uses zap.NewNop.
	Logger *zap.Logger
}

// Store is the SQLite-backed action history store.
type Store struct {
	db         *sql.DB
	maxEntries int
	logger     *zap.Logger
}

// Open opens (and creates if needed) the history database and applies the
// schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg.Path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverHistory, dsn)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history store: %w", err)
	}
	if err := configureSQLite(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{db: db, maxEntries: maxEntries, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func buildDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("history store path is required")
	}
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir != "." && dir != string(filepath.Separator) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create history store directory: %w", err)
		}
	}
	return "file:" + filepath.Clean(path), nil
}

func configureSQLite(ctx context.Context, db *sql.DB, dsn string) error {
	// Keep a single connection and use WAL to reduce lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS history_entries (
			user_id TEXT NOT NULL,
			id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			operation_type TEXT NOT NULL,
			status TEXT NOT NULL,
			bucket_name TEXT NOT NULL DEFAULT '',
			object_name TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			error_code TEXT NOT NULL DEFAULT '',
			progress INTEGER NOT NULL DEFAULT 0,
			log_level TEXT NOT NULL,
			user_message TEXT NOT NULL DEFAULT '',
			PRIMARY KEY(user_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_entries_created
			ON history_entries(user_id, created_at DESC);`,

		`CREATE TABLE IF NOT EXISTS history_outbox (
			user_id TEXT NOT NULL,
			entry_id TEXT NOT NULL,
			queued_at TEXT NOT NULL,
			PRIMARY KEY(user_id, entry_id)
		);`,

		`CREATE TABLE IF NOT EXISTS history_sync_state (
			user_id TEXT PRIMARY KEY,
			last_synced_at TEXT NOT NULL DEFAULT '',
			logging_enabled INTEGER NOT NULL DEFAULT 1,
			sync_enabled INTEGER NOT NULL DEFAULT 1,
			last_clear_remote_error TEXT NOT NULL DEFAULT ''
		);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Begin records the start of an operation and returns the new entry id.
// Returns an empty id without error when logging is disabled for the user.
func (s *Store) Begin(ctx context.Context, user UserID, op OperationType, bucket, object, details string) (string, error) {
	enabled, err := s.LoggingEnabled(ctx, user)
	if err != nil {
		return "", err
	}
	if !enabled {
		return "", nil
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO history_entries
		(user_id, id, created_at, operation_type, status, bucket_name, object_name, details, log_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.String(), id, now, string(op), string(StatusStarted), bucket, object, details, string(LevelInfo))
	if err != nil {
		return "", fmt.Errorf("insert history entry: %w", err)
	}

	if err := s.markPendingTx(ctx, tx, user, id, now); err != nil {
		return "", err
	}
	if err := s.enforceCapTx(ctx, tx, user); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit history entry: %w", err)
	}

	s.logger.Debug("history entry started",
		zap.String("user", user.String()),
		zap.String("id", id),
		zap.String("operation", string(op)))
	return id, nil
}

// SetProgress updates a running entry's progress percentage.
func (s *Store) SetProgress(ctx context.Context, user UserID, id string, progress int) error {
	if id == "" {
		return nil
	}
	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}
	return s.update(ctx, user, id, `UPDATE history_entries
		SET status = ?, progress = ?
		WHERE user_id = ? AND id = ? AND status NOT IN (?, ?)`,
		string(StatusProgress), progress,
		user.String(), id, string(StatusSuccess), string(StatusError))
}

// Complete marks an entry successful. A success overwrites a prior error
// when a retry of the same logical operation eventually lands.
func (s *Store) Complete(ctx context.Context, user UserID, id, userMessage string) error {
	if id == "" {
		return nil
	}
	return s.update(ctx, user, id, `UPDATE history_entries
		SET status = ?, progress = 100, log_level = ?, user_message = ?, error_code = ''
		WHERE user_id = ? AND id = ?`,
		string(StatusSuccess), string(LevelInfo), userMessage,
		user.String(), id)
}

// Fail marks an entry failed with the classified error code. A success
// already recorded is never downgraded.
func (s *Store) Fail(ctx context.Context, user UserID, id, errorCode, userMessage string) error {
	if id == "" {
		return nil
	}
	return s.update(ctx, user, id, `UPDATE history_entries
		SET status = ?, log_level = ?, error_code = ?, user_message = ?
		WHERE user_id = ? AND id = ? AND status != ?`,
		string(StatusError), string(LevelError), errorCode, userMessage,
		user.String(), id, string(StatusSuccess))
}

// update runs an entry mutation and re-queues the entry for sync when a row
// actually changed.
func (s *Store) update(ctx context.Context, user UserID, id, query string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update history entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update history entry: %w", err)
	}
	if n == 0 {
		// Either unknown id or a guarded transition; check which.
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_entries WHERE user_id = ? AND id = ?`,
			user.String(), id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check history entry: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return tx.Commit()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.markPendingTx(ctx, tx, user, id, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) markPendingTx(ctx context.Context, tx *sql.Tx, user UserID, id, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO history_outbox (user_id, entry_id, queued_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, entry_id) DO UPDATE SET queued_at = excluded.queued_at`,
		user.String(), id, now)
	if err != nil {
		return fmt.Errorf("queue history entry for sync: %w", err)
	}
	return nil
}

// enforceCapTx evicts the oldest entries beyond the per-user cap, along with
// their outbox rows.
func (s *Store) enforceCapTx(ctx context.Context, tx *sql.Tx, user UserID) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM history_entries
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT -1 OFFSET ?`,
		user.String(), s.maxEntries)
	if err != nil {
		return fmt.Errorf("select overflow entries: %w", err)
	}
	var evict []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan overflow entry: %w", err)
		}
		evict = append(evict, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate overflow entries: %w", err)
	}
	_ = rows.Close()

	for _, id := range evict {
		if _, err := tx.ExecContext(ctx, `DELETE FROM history_entries WHERE user_id = ? AND id = ?`,
			user.String(), id); err != nil {
			return fmt.Errorf("evict history entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM history_outbox WHERE user_id = ? AND entry_id = ?`,
			user.String(), id); err != nil {
			return fmt.Errorf("evict outbox row: %w", err)
		}
	}
	return nil
}

const entryColumns = `id, created_at, operation_type, status, bucket_name,
	object_name, details, error_code, progress, log_level, user_message`

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var createdAt string
	err := rows.Scan(&e.ID, &createdAt, &e.OperationType, &e.Status, &e.BucketName,
		&e.ObjectName, &e.Details, &e.ErrorCode, &e.Progress, &e.LogLevel, &e.UserMessage)
	if err != nil {
		return Entry{}, fmt.Errorf("scan history entry: %w", err)
	}
	e.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse history timestamp: %w", err)
	}
	return e, nil
}

// List returns the user's entries newest-first, narrowed by the filter.
func (s *Store) List(ctx context.Context, user UserID, filter Filter) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM history_entries WHERE user_id = ?`
	args := []any{user.String()}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.OperationType != "" {
		query += ` AND operation_type = ?`
		args = append(args, string(filter.OperationType))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	// Glob filtering happens in Go, so the SQL limit only applies when no
	// glob narrows the result afterwards.
	if filter.Limit > 0 && filter.NameGlob == "" {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if filter.NameGlob != "" {
			ok, err := doublestar.Match(filter.NameGlob, e.path())
			if err != nil {
				return nil, fmt.Errorf("invalid name glob %q: %w", filter.NameGlob, err)
			}
			if !ok {
				continue
			}
		}
		entries = append(entries, e)
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history entries: %w", err)
	}
	return entries, nil
}

// Get returns a single entry by id.
func (s *Store) Get(ctx context.Context, user UserID, id string) (Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM history_entries
		WHERE user_id = ? AND id = ?`, user.String(), id)
	if err != nil {
		return Entry{}, fmt.Errorf("get history entry: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Entry{}, fmt.Errorf("get history entry: %w", err)
		}
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return scanEntry(rows)
}

// PendingOldestFirst returns entries queued for sync, oldest queue time
// first, up to limit.
func (s *Store) PendingOldestFirst(ctx context.Context, user UserID, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM history_entries e
		JOIN history_outbox o ON o.user_id = e.user_id AND o.entry_id = e.id
		WHERE e.user_id = ?
		ORDER BY o.queued_at ASC, e.rowid ASC`
	args := []any{user.String()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}
	return entries, nil
}

// MarkSynced clears the outbox rows for the given ids and advances the sync
// cursor.
func (s *Store) MarkSynced(ctx context.Context, user UserID, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM history_outbox WHERE user_id = ? AND entry_id = ?`,
			user.String(), id); err != nil {
			return fmt.Errorf("clear outbox row: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `INSERT INTO history_sync_state (user_id, last_synced_at)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_synced_at = excluded.last_synced_at`,
		user.String(), now); err != nil {
		return fmt.Errorf("advance sync cursor: %w", err)
	}

	return tx.Commit()
}

// MergeRemote upserts entries fetched from the remote history service.
// Merged rows are not queued for sync; they already live remotely.
func (s *Store) MergeRemote(ctx context.Context, user UserID, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO history_entries
			(user_id, id, created_at, operation_type, status, bucket_name, object_name,
			 details, error_code, progress, log_level, user_message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, id) DO UPDATE SET
				status = excluded.status,
				error_code = excluded.error_code,
				progress = excluded.progress,
				log_level = excluded.log_level,
				user_message = excluded.user_message`,
			user.String(), e.ID, ts.UTC().Format(time.RFC3339Nano), string(e.OperationType),
			string(e.Status), e.BucketName, e.ObjectName, e.Details, e.ErrorCode,
			e.Progress, string(e.LogLevel), e.UserMessage)
		if err != nil {
			return fmt.Errorf("merge remote entry %s: %w", e.ID, err)
		}
	}

	if err := s.enforceCapTx(ctx, tx, user); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearUser deletes the user's entries and outbox rows.
func (s *Store) ClearUser(ctx context.Context, user UserID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history_entries WHERE user_id = ?`, user.String()); err != nil {
		return fmt.Errorf("clear history entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM history_outbox WHERE user_id = ?`, user.String()); err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}
	return tx.Commit()
}

// Stats summarizes the user's partition.
func (s *Store) Stats(ctx context.Context, user UserID) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM history_entries WHERE user_id = ?`,
		string(StatusError), user.String()).Scan(&st.Total, &st.Errors)
	if err != nil {
		return Stats{}, fmt.Errorf("history stats: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_outbox WHERE user_id = ?`,
		user.String()).Scan(&st.Pending)
	if err != nil {
		return Stats{}, fmt.Errorf("history stats: %w", err)
	}
	return st, nil
}

// LoggingEnabled reports whether history recording is on for the user.
// Defaults to true when no preference row exists.
func (s *Store) LoggingEnabled(ctx context.Context, user UserID) (bool, error) {
	return s.flag(ctx, user, "logging_enabled")
}

// SetLoggingEnabled toggles history recording for the user.
func (s *Store) SetLoggingEnabled(ctx context.Context, user UserID, enabled bool) error {
	return s.setFlag(ctx, user, "logging_enabled", enabled)
}

// SyncEnabled reports whether remote sync is on for the user. Defaults to
// true when no preference row exists.
func (s *Store) SyncEnabled(ctx context.Context, user UserID) (bool, error) {
	return s.flag(ctx, user, "sync_enabled")
}

// SetSyncEnabled toggles remote sync for the user.
func (s *Store) SetSyncEnabled(ctx context.Context, user UserID, enabled bool) error {
	return s.setFlag(ctx, user, "sync_enabled", enabled)
}

// LastSyncedAt returns the sync cursor, zero when the user never synced.
func (s *Store) LastSyncedAt(ctx context.Context, user UserID) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT last_synced_at FROM history_sync_state WHERE user_id = ?`,
		user.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && raw == "") {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read sync cursor: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse sync cursor: %w", err)
	}
	return t, nil
}

// RecordClearDivergence stores the remote error from the last clear attempt
// so an operator can see local and remote history diverged. An empty value
// resets it.
func (s *Store) RecordClearDivergence(ctx context.Context, user UserID, remoteErr string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO history_sync_state (user_id, last_clear_remote_error)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_clear_remote_error = excluded.last_clear_remote_error`,
		user.String(), remoteErr)
	if err != nil {
		return fmt.Errorf("record clear divergence: %w", err)
	}
	return nil
}

// ClearDivergence returns the remote error from the last clear attempt,
// empty when the last clear succeeded on both sides.
func (s *Store) ClearDivergence(ctx context.Context, user UserID) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT last_clear_remote_error FROM history_sync_state WHERE user_id = ?`,
		user.String()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read clear divergence: %w", err)
	}
	return v, nil
}

func (s *Store) flag(ctx context.Context, user UserID, column string) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT `+column+` FROM history_sync_state WHERE user_id = ?`,
		user.String()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", column, err)
	}
	return v != 0, nil
}

func (s *Store) setFlag(ctx context.Context, user UserID, column string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO history_sync_state (user_id, `+column+`)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET `+column+` = excluded.`+column,
		user.String(), v)
	if err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	return nil
}
