package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"limepq/internal/crypto"
	"limepq/internal/domain"
	"limepq/internal/store"
)

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

// setupLocalUser creates and persists a local_users row with an active SPk
// and no one-time prekeys, mirroring what internal/x3dh's own
// tests set up, since the orchestrator drives real FetchPeerBundles/
// InitiateResponderSession calls against the store.
func setupLocalUser(t *testing.T, db domain.Store, suite crypto.Suite, deviceID string) (*domain.LocalUser, *domain.IdentityKeyPair) {
	t.Helper()
	ctx := context.Background()

	dhPriv, dhPub, err := suite.GenerateDH()
	require.NoError(t, err)
	signPriv, signPub, err := suite.GenerateSign()
	require.NoError(t, err)
	identity := &domain.IdentityKeyPair{Algo: suite.Algo(), DHPriv: dhPriv, DHPub: dhPub, SignPriv: signPriv, SignPub: signPub}

	u := &domain.LocalUser{DeviceID: deviceID, Algo: suite.Algo(), ServerURL: "https://server", Active: true}
	userID, err := db.CreateUser(ctx, u, identity)
	require.NoError(t, err)
	u.ID = userID
	identity.UserID = userID

	spkPriv, spkPub, err := suite.GenerateDH()
	require.NoError(t, err)
	sig, err := suite.Sign(signPriv, spkPub)
	require.NoError(t, err)
	spk := &domain.SignedPreKey{UserID: userID, Algo: suite.Algo(), ID: 7, Priv: spkPriv, Pub: spkPub, Sig: sig, Status: domain.SPkActive, CreatedAt: time.Now()}
	require.NoError(t, db.InsertSPk(ctx, spk))

	return u, identity
}

// bobIdentity builds an unpersisted peer identity plus an active SPk,
// standing in for a remote device whose bundle the orchestrator fetches
// over a fake transport.
type bobIdentity struct {
	ik      *domain.IdentityKeyPair
	spkPriv []byte
	spkPub  []byte
	spkID   uint32
	sig     []byte
}

func makeBob(t *testing.T, suite crypto.Suite) bobIdentity {
	t.Helper()
	dhPriv, dhPub, err := suite.GenerateDH()
	require.NoError(t, err)
	signPriv, signPub, err := suite.GenerateSign()
	require.NoError(t, err)
	spkPriv, spkPub, err := suite.GenerateDH()
	require.NoError(t, err)
	sig, err := suite.Sign(signPriv, spkPub)
	require.NoError(t, err)
	return bobIdentity{
		ik:      &domain.IdentityKeyPair{DHPriv: dhPriv, DHPub: dhPub, SignPriv: signPriv, SignPub: signPub},
		spkPriv: spkPriv, spkPub: spkPub, spkID: 42, sig: sig,
	}
}
