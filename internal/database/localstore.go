package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// LocalStore is the side-car's own SQLite database. It owns durable state
// that must survive restarts: admin options, the durable cache mirror,
// log-sync watermarks and the AI-ban whitelist, audit log and settings.
// Deleting the file is safe; everything is re-bootstrapped on next start.
type LocalStore struct {
	db *sql.DB
}

func NewLocalStore(path string) (*LocalStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." && !strings.HasPrefix(path, ":memory:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("unable to create local db directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(path, "?") {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open local database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping local database: %w", err)
	}

	s := &LocalStore{db: db}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) bootstrap() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expire_at INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_expire_at ON cache(expire_at)`,

		`CREATE TABLE IF NOT EXISTS analytics_state (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS analytics_meta (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS aiban_whitelist (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL UNIQUE,
			reason TEXT,
			added_by TEXT,
			expires_at INTEGER,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS aiban_audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_id TEXT,
			action TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			username TEXT,
			details TEXT,
			operator TEXT,
			risk_score REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_aiban_audit_created ON aiban_audit_logs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_aiban_audit_user ON aiban_audit_logs(user_id)`,

		`CREATE TABLE IF NOT EXISTS aiban_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("local bootstrap failed: %w", err)
		}
	}
	return nil
}

func (s *LocalStore) Close() error { return s.db.Close() }

// ConfigGet reads a durable admin option.
func (s *LocalStore) ConfigGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *LocalStore) ConfigSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO config (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().Unix())
	return err
}

// StateGet reads a log-sync watermark (last_log_id, last_processed_at,
// total_processed).
func (s *LocalStore) StateGet(ctx context.Context, key string) (int64, bool, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM analytics_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

func (s *LocalStore) StateSet(ctx context.Context, key string, value int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO analytics_state (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().Unix())
	return err
}

// StateAdd increments a watermark counter and returns the new value.
func (s *LocalStore) StateAdd(ctx context.Context, key string, delta int64) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = value + excluded.value, updated_at = excluded.updated_at`,
		key, delta, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	value, _, err := s.StateGet(ctx, key)
	return value, err
}

func (s *LocalStore) MetaGet(ctx context.Context, key string) (int64, bool, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM analytics_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

func (s *LocalStore) MetaSet(ctx context.Context, key string, value int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO analytics_meta (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().Unix())
	return err
}

// CacheEntry is one row of the durable cache mirror.
type CacheEntry struct {
	Key      string
	Value    string
	ExpireAt int64
}

// CacheGet returns a mirrored value. Expired entries read as misses; the
// cleanup task prunes them.
func (s *LocalStore) CacheGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expireAt int64
	err := s.db.QueryRowContext(ctx, `SELECT value, expire_at FROM cache WHERE key = ?`, key).
		Scan(&value, &expireAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if expireAt > 0 && expireAt <= time.Now().Unix() {
		return "", false, nil
	}
	return value, true, nil
}

// CacheSet mirrors a value. expireAt of 0 means no expiry.
func (s *LocalStore) CacheSet(ctx context.Context, key, value string, expireAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache (key, value, expire_at, created_at) VALUES (?, ?, ?, ?)`,
		key, value, expireAt, time.Now().Unix())
	return err
}

func (s *LocalStore) CacheDelete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
	return err
}

func (s *LocalStore) CacheDeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CacheLoadActive returns all unexpired mirror rows, used to re-seed Redis
// after a cold start.
func (s *LocalStore) CacheLoadActive(ctx context.Context) ([]CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, expire_at FROM cache WHERE expire_at = 0 OR expire_at > ?`,
		time.Now().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CacheEntry
	for rows.Next() {
		var e CacheEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.ExpireAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CacheCleanup deletes expired mirror rows and returns the count removed.
func (s *LocalStore) CacheCleanup(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache WHERE expire_at > 0 AND expire_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// WhitelistEntry protects a user from the AI-ban pipeline.
type WhitelistEntry struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Reason    string `json:"reason"`
	AddedBy   string `json:"added_by"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// WhitelistAdd inserts an entry. Returns false when the user is already
// whitelisted.
func (s *LocalStore) WhitelistAdd(ctx context.Context, e WhitelistEntry) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO aiban_whitelist (user_id, reason, added_by, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.UserID, e.Reason, e.AddedBy, e.ExpiresAt, time.Now().Unix())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *LocalStore) WhitelistRemove(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM aiban_whitelist WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// WhitelistContains also treats expired entries as absent.
func (s *LocalStore) WhitelistContains(ctx context.Context, userID int64) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM aiban_whitelist
		 WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)`,
		userID, time.Now().Unix()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *LocalStore) WhitelistAll(ctx context.Context) ([]WhitelistEntry, error) {
	return s.whitelistSelect(ctx,
		`SELECT id, user_id, reason, added_by, expires_at, created_at
		 FROM aiban_whitelist ORDER BY created_at DESC`)
}

func (s *LocalStore) WhitelistByIDs(ctx context.Context, userIDs []int64) ([]WhitelistEntry, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	query := fmt.Sprintf(
		`SELECT id, user_id, reason, added_by, expires_at, created_at
		 FROM aiban_whitelist WHERE user_id IN (%s) ORDER BY created_at DESC`,
		BuildPlaceholders(false, len(userIDs), 1))
	return s.whitelistSelect(ctx, query, args...)
}

func (s *LocalStore) whitelistSelect(ctx context.Context, query string, args ...interface{}) ([]WhitelistEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WhitelistEntry
	for rows.Next() {
		var e WhitelistEntry
		var reason, addedBy sql.NullString
		var expiresAt sql.NullInt64
		if err := rows.Scan(&e.ID, &e.UserID, &reason, &addedBy, &expiresAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reason = reason.String
		e.AddedBy = addedBy.String
		if expiresAt.Valid {
			v := expiresAt.Int64
			e.ExpiresAt = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AuditEntry is one AI-ban pipeline action record.
type AuditEntry struct {
	ID        int64   `json:"id"`
	ScanID    string  `json:"scan_id"`
	Action    string  `json:"action"`
	UserID    int64   `json:"user_id"`
	Username  string  `json:"username"`
	Details   string  `json:"details"`
	Operator  string  `json:"operator"`
	RiskScore float64 `json:"risk_score"`
	CreatedAt int64   `json:"created_at"`
}

func (s *LocalStore) AuditInsert(ctx context.Context, e AuditEntry) error {
	createdAt := e.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO aiban_audit_logs (scan_id, action, user_id, username, details, operator, risk_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ScanID, e.Action, e.UserID, e.Username, e.Details, e.Operator, e.RiskScore, createdAt)
	return err
}

// AuditList pages the audit log newest-first. action and userID of zero
// values mean no filter.
func (s *LocalStore) AuditList(ctx context.Context, limit, offset int, action string, userID int64) ([]AuditEntry, int64, error) {
	where := "1=1"
	var args []interface{}
	if action != "" {
		where += " AND action = ?"
		args = append(args, action)
	}
	if userID > 0 {
		where += " AND user_id = ?"
		args = append(args, userID)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM aiban_audit_logs WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, scan_id, action, user_id, username, details, operator, risk_score, created_at
		 FROM aiban_audit_logs WHERE ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var scanID, username, details, operator sql.NullString
		if err := rows.Scan(&e.ID, &scanID, &e.Action, &e.UserID, &username, &details, &operator, &e.RiskScore, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.ScanID = scanID.String
		e.Username = username.String
		e.Details = details.String
		e.Operator = operator.String
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *LocalStore) AuditClear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM aiban_audit_logs`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *LocalStore) AIBanConfigGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM aiban_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *LocalStore) AIBanConfigSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO aiban_config (key, value) VALUES (?, ?)`, key, value)
	return err
}

// escapeLike neutralizes LIKE wildcards in a literal prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
