package pgnode

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRealPostgres exercises initdb and pg_ctl from PATH or PGHARNESS_PG_BIN.
func TestRealPostgres(t *testing.T) {
	if os.Getenv("PGHARNESS_POSTGRES") != "1" {
		t.Skip("set PGHARNESS_POSTGRES=1 to run against real PostgreSQL binaries")
	}

	ctx := context.Background()
	n, err := Initialize(ctx, "integration", Options{
		BinDir:  os.Getenv("PGHARNESS_PG_BIN"),
		BaseDir: t.TempDir(),
	})
	require.NoError(t, err)

	require.NoError(t, n.ConfigureTrust(ctx))
	require.NoError(t, n.Start(ctx))

	db, err := openDB(n.DSN())
	require.NoError(t, err)
	var one int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
	db.Close()

	require.NoError(t, n.Cleanup())
	assert.NoDirExists(t, n.BaseDir())
}
