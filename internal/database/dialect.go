package database

import (
	"fmt"
	"strconv"
	"strings"
)

// Engine identifies the gateway database dialect. It drives placeholder
// style, identifier quoting, JSON extraction syntax and catalog probes.
type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineMySQL    Engine = "mysql"
)

func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return EnginePostgres, nil
	case "mysql", "mariadb":
		return EngineMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database engine: %s", s)
	}
}

func (e Engine) IsPG() bool {
	return e == EnginePostgres
}

// Rebind rewrites `?` placeholders to `$1,$2,...` for Postgres. Queries must
// not contain a literal `?` outside of a placeholder position; all user data
// goes through args.
func (e Engine) Rebind(query string) string {
	if !e.IsPG() || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// Placeholder returns the dialect form for the i-th parameter (1-based).
func (e Engine) Placeholder(i int) string {
	if e.IsPG() {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// BuildPlaceholders returns a comma-joined placeholder list for an IN (...)
// clause with n entries, numbering from start (1-based, Postgres only).
func BuildPlaceholders(isPG bool, n, start int) string {
	if n <= 0 {
		return ""
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		if isPG {
			parts[i] = "$" + strconv.Itoa(start+i)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ",")
}

// QuoteIdent quotes a column or table name. Needed for reserved words such
// as users."group".
func (e Engine) QuoteIdent(name string) string {
	if e.IsPG() {
		return `"` + name + `"`
	}
	return "`" + name + "`"
}

// RecordIPEnabledPredicate returns a SQL condition that is true when the
// record_ip_log flag inside users.setting is enabled. setting is JSON stored
// as text on both engines.
func (e Engine) RecordIPEnabledPredicate() string {
	if e.IsPG() {
		return `(setting IS NOT NULL AND setting <> '' AND setting::jsonb ->> 'record_ip_log' = 'true')`
	}
	return `(setting IS NOT NULL AND setting <> '' AND JSON_EXTRACT(setting, '$.record_ip_log') = true)`
}

// RecordIPDisabledPredicate is the complement of RecordIPEnabledPredicate,
// counting NULL, empty and flag-absent settings as disabled.
func (e Engine) RecordIPDisabledPredicate() string {
	if e.IsPG() {
		return `(setting IS NULL OR setting = '' OR setting::jsonb ->> 'record_ip_log' IS DISTINCT FROM 'true')`
	}
	return `(setting IS NULL OR setting = '' OR JSON_EXTRACT(setting, '$.record_ip_log') IS NULL OR JSON_EXTRACT(setting, '$.record_ip_log') <> true)`
}

// SetRecordIPExpr returns the SET clause expression that turns the
// record_ip_log flag on, creating the JSON object when setting is empty.
func (e Engine) SetRecordIPExpr() string {
	if e.IsPG() {
		return `setting = CASE WHEN setting IS NULL OR setting = '' THEN '{"record_ip_log": true}' ELSE jsonb_set(setting::jsonb, '{record_ip_log}', 'true'::jsonb, true)::text END`
	}
	return `setting = CASE WHEN setting IS NULL OR setting = '' THEN '{"record_ip_log": true}' ELSE JSON_SET(setting, '$.record_ip_log', true) END`
}

// tableExistsQuery probes the catalog for a table in the current schema.
func (e Engine) tableExistsQuery() string {
	if e.IsPG() {
		return `SELECT COUNT(*) AS n FROM pg_tables WHERE schemaname = current_schema() AND tablename = $1`
	}
	return `SELECT COUNT(*) AS n FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`
}

// indexExistsQuery probes the catalog for an index by name. Postgres uses
// CREATE INDEX IF NOT EXISTS instead, so only MySQL needs the probe.
func (e Engine) indexExistsQuery() string {
	if e.IsPG() {
		return `SELECT COUNT(*) AS n FROM pg_indexes WHERE schemaname = current_schema() AND indexname = $1`
	}
	return `SELECT COUNT(*) AS n FROM information_schema.statistics WHERE table_schema = DATABASE() AND index_name = ?`
}
