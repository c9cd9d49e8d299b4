package redemption

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gatescope/gatescope/internal/database"
)

const (
	keyLength    = 32
	maxPrefixLen = 20
	maxBatch     = 1000
	counterMod   = 36 * 36 * 36 * 36
)

// ErrInvalidParam marks caller mistakes; handlers translate to HTTP 400.
var ErrInvalidParam = fmt.Errorf("invalid parameter")

// keyCounter is process-wide so keys minted in the same millisecond still
// differ in their counter suffix.
var keyCounter atomic.Uint64

// Service generates and manages redemption codes in the gateway DB.
type Service struct {
	gw  *database.Gateway
	now func() time.Time
}

func NewService(gw *database.Gateway) *Service {
	return &Service{gw: gw, now: time.Now}
}

// base36Tail renders v in base 36 and keeps the last n digits, left-padded
// with '0'.
func base36Tail(v uint64, n int) string {
	s := strconv.FormatUint(v, 36)
	if len(s) >= n {
		return s[len(s)-n:]
	}
	return strings.Repeat("0", n-len(s)) + s
}

// newKey builds one 32-character key: prefix, random hex fill, the last 8
// base-36 digits of unix milliseconds, and a 4-digit base-36 counter.
func (s *Service) newKey(prefix string) (string, error) {
	if len(prefix) > maxPrefixLen {
		prefix = prefix[:maxPrefixLen]
	}

	tail := base36Tail(uint64(s.now().UnixMilli()), 8) +
		base36Tail(keyCounter.Add(1)%counterMod, 4)

	fill := keyLength - len(prefix) - len(tail)
	var middle string
	if fill > 0 {
		buf := make([]byte, (fill+1)/2)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("key entropy: %w", err)
		}
		middle = hex.EncodeToString(buf)[:fill]
	}

	key := prefix + middle + tail
	if len(key) > keyLength {
		key = key[:keyLength]
	}
	if len(key) < keyLength {
		key += strings.Repeat("0", keyLength-len(key))
	}
	return key, nil
}

// GenerateRequest describes one batch.
type GenerateRequest struct {
	Count       int    `json:"count"`
	Prefix      string `json:"prefix"`
	Name        string `json:"name"`
	Quota       int64  `json:"quota"`
	ExpiredTime int64  `json:"expired_time"`
}

// GenerateResult reports the minted keys.
type GenerateResult struct {
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}

// Generate mints a batch of unique keys and inserts them in one
// transaction. Collisions inside the batch are regenerated, giving up after
// 3x count attempts.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Count <= 0 || req.Count > maxBatch {
		return nil, fmt.Errorf("%w: count must be in 1..%d", ErrInvalidParam, maxBatch)
	}
	if req.Quota < 0 {
		return nil, fmt.Errorf("%w: quota must be non-negative", ErrInvalidParam)
	}

	seen := make(map[string]struct{}, req.Count)
	keys := make([]string, 0, req.Count)
	for attempts := 0; len(keys) < req.Count; attempts++ {
		if attempts >= req.Count*3 {
			return nil, fmt.Errorf("unable to generate %d unique keys", req.Count)
		}
		key, err := s.newKey(req.Prefix)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	name := req.Name
	if name == "" {
		name = "batch-" + s.now().Format("20060102-150405")
	}
	createdAt := s.now().Unix()

	err := s.gw.Tx(ctx, func(tx *sql.Tx) error {
		stmt := s.gw.Rebind(fmt.Sprintf(
			`INSERT INTO redemptions (%s, name, quota, status, created_time, expired_time)
			 VALUES (?, ?, ?, 1, ?, ?)`, s.gw.Engine().QuoteIdent("key")))
		for _, key := range keys {
			if _, err := tx.ExecContext(ctx, stmt, key, name, req.Quota, createdAt, req.ExpiredTime); err != nil {
				return fmt.Errorf("insert redemption: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Count: len(keys), Keys: keys}, nil
}

// Redemption is one listing row.
type Redemption struct {
	ID          int64  `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Quota       int64  `json:"quota"`
	Status      int64  `json:"status"`
	CreatedTime int64  `json:"created_time"`
	ExpiredTime int64  `json:"expired_time"`
}

// List pages undeleted redemptions newest-first, optionally filtered by a
// name or key substring.
func (s *Service) List(ctx context.Context, page, pageSize int, search string) ([]Redemption, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	where := "deleted_at IS NULL"
	var args []interface{}
	if search != "" {
		pattern := "%" + search + "%"
		where += fmt.Sprintf(" AND (name LIKE ? OR %s LIKE ?)", s.gw.Engine().QuoteIdent("key"))
		args = append(args, pattern, pattern)
	}

	countRow, err := s.gw.QueryOne(ctx, `SELECT COUNT(*) AS n FROM redemptions WHERE `+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("redemption count: %w", err)
	}
	var total int64
	if countRow != nil {
		total = countRow.Int64("n")
	}

	query := fmt.Sprintf(
		`SELECT id, %s, name, quota, status, created_time, expired_time
		 FROM redemptions WHERE %s
		 ORDER BY id DESC LIMIT ? OFFSET ?`,
		s.gw.Engine().QuoteIdent("key"), where)
	rows, err := s.gw.Query(ctx, query, append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("redemption list: %w", err)
	}

	out := make([]Redemption, 0, len(rows))
	for _, row := range rows {
		out = append(out, Redemption{
			ID:          row.Int64("id"),
			Key:         row.String("key"),
			Name:        row.String("name"),
			Quota:       row.Int64("quota"),
			Status:      row.Int64("status"),
			CreatedTime: row.Int64("created_time"),
			ExpiredTime: row.Int64("expired_time"),
		})
	}
	return out, total, nil
}

// Delete soft-deletes one redemption. Returns false when it did not exist.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	affected, err := s.gw.Execute(ctx,
		`UPDATE redemptions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		s.now().Unix(), id)
	if err != nil {
		return false, fmt.Errorf("redemption delete: %w", err)
	}
	return affected > 0, nil
}

// Stats summarizes the redemption pool.
type Stats struct {
	Total       int64 `json:"total"`
	Unused      int64 `json:"unused"`
	Used        int64 `json:"used"`
	UnusedQuota int64 `json:"unused_quota"`
	UsedQuota   int64 `json:"used_quota"`
}

func (s *Service) Statistics(ctx context.Context) (*Stats, error) {
	row, err := s.gw.QueryOne(ctx,
		`SELECT COUNT(*) AS total,
		        SUM(CASE WHEN status = 1 THEN 1 ELSE 0 END) AS unused,
		        SUM(CASE WHEN status <> 1 THEN 1 ELSE 0 END) AS used,
		        COALESCE(SUM(CASE WHEN status = 1 THEN quota ELSE 0 END), 0) AS unused_quota,
		        COALESCE(SUM(CASE WHEN status <> 1 THEN quota ELSE 0 END), 0) AS used_quota
		 FROM redemptions WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("redemption stats: %w", err)
	}

	out := &Stats{}
	if row != nil {
		out.Total = row.Int64("total")
		out.Unused = row.Int64("unused")
		out.Used = row.Int64("used")
		out.UnusedQuota = row.Int64("unused_quota")
		out.UsedQuota = row.Int64("used_quota")
	}
	return out, nil
}
