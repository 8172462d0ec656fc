package queryexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaxonhq/klaxon/internal/preview"
)

func openFixture(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.DB().Exec(`
		CREATE TABLE balances (target_key TEXT, balance_latest TEXT);
		INSERT INTO balances VALUES
			('0xa', '2.0'),
			('0xb', '0.5'),
			('0xc', '7.25');
	`)
	require.NoError(t, err)
	return s
}

func stringParam(s string) preview.Param {
	return preview.Param{String: &s}
}

func TestQueryListParam(t *testing.T) {
	s := openFixture(t)

	rows, err := s.Query(context.Background(), preview.QueryRequest{
		SQL:    "SELECT target_key, balance_latest FROM balances WHERE target_key IN (SELECT value FROM json_each(?)) ORDER BY target_key",
		Params: []preview.Param{stringParam(`["0xa","0xc"]`)},
	})
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "0xa", rows[0]["target_key"])
	assert.Equal(t, "2.0", rows[0]["balance_latest"])
	assert.Equal(t, "0xc", rows[1]["target_key"])
}

func TestQueryLimit(t *testing.T) {
	s := openFixture(t)

	rows, err := s.Query(context.Background(), preview.QueryRequest{
		SQL:   "SELECT target_key FROM balances ORDER BY target_key",
		Limit: 2,
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestQueryNormalizesBytes(t *testing.T) {
	s := openFixture(t)

	// SQLite hands TEXT back as []byte; rows must carry plain strings.
	rows, err := s.Query(context.Background(), preview.QueryRequest{
		SQL: "SELECT target_key FROM balances LIMIT 1",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	_, isString := rows[0]["target_key"].(string)
	assert.True(t, isString)
}

func TestQueryBadSQL(t *testing.T) {
	s := openFixture(t)

	_, err := s.Query(context.Background(), preview.QueryRequest{
		SQL: "SELECT nope FROM missing_table",
	})
	require.Error(t, err)
}

func TestQueryEmptyParamRejected(t *testing.T) {
	s := openFixture(t)

	_, err := s.Query(context.Background(), preview.QueryRequest{
		SQL:    "SELECT target_key FROM balances",
		Params: []preview.Param{{}},
	})
	require.Error(t, err)
}

func TestOpenBadPath(t *testing.T) {
	_, err := Open("/proc/definitely/not/writable.db")
	require.Error(t, err)
}
