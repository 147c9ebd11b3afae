package x3dh

import (
	"testing"

	"github.com/stretchr/testify/require"

	"limepq/internal/crypto"
	"limepq/internal/domain"
	"limepq/internal/store"
)

// openTestDB returns a fresh in-memory store for one test.
func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testSuite(t *testing.T) crypto.Suite {
	t.Helper()
	suite, err := crypto.ForAlgo(domain.AlgoC25519)
	require.NoError(t, err)
	return suite
}
