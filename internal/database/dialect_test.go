package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEngine(t *testing.T) {
	for in, want := range map[string]Engine{
		"postgres":   EnginePostgres,
		"postgresql": EnginePostgres,
		"pg":         EnginePostgres,
		"PG":         EnginePostgres,
		"mysql":      EngineMySQL,
		"mariadb":    EngineMySQL,
	} {
		got, err := ParseEngine(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseEngine("sqlite")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	q := `SELECT * FROM logs WHERE created_at >= ? AND created_at <= ? LIMIT ?`

	assert.Equal(t, q, EngineMySQL.Rebind(q))
	assert.Equal(t,
		`SELECT * FROM logs WHERE created_at >= $1 AND created_at <= $2 LIMIT $3`,
		EnginePostgres.Rebind(q))
}

func TestRebindNoPlaceholders(t *testing.T) {
	q := `SELECT COUNT(*) AS n FROM users`
	assert.Equal(t, q, EnginePostgres.Rebind(q))
}

func TestBuildPlaceholders(t *testing.T) {
	assert.Equal(t, "?,?,?", BuildPlaceholders(false, 3, 1))
	assert.Equal(t, "$2,$3,$4", BuildPlaceholders(true, 3, 2))
	assert.Equal(t, "", BuildPlaceholders(true, 0, 1))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"group"`, EnginePostgres.QuoteIdent("group"))
	assert.Equal(t, "`key`", EngineMySQL.QuoteIdent("key"))
}
