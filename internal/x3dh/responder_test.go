package x3dh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"limepq/internal/crypto"
	"limepq/internal/domain"
)

// setupLocalUser creates and persists a local_users row (with its identity
// keypair and an active SPk) under deviceID: FK constraints on peer_devices
// and dr_sessions require a real local_users row, not just an in-memory
// domain.LocalUser literal.
func setupLocalUser(t *testing.T, db domain.Store, suite crypto.Suite, deviceID string) (*domain.LocalUser, *domain.IdentityKeyPair, *domain.SignedPreKey) {
	t.Helper()
	ctx := context.Background()

	dhPriv, dhPub, err := suite.GenerateDH()
	require.NoError(t, err)
	signPriv, signPub, err := suite.GenerateSign()
	require.NoError(t, err)
	identity := &domain.IdentityKeyPair{Algo: suite.Algo(), DHPriv: dhPriv, DHPub: dhPub, SignPriv: signPriv, SignPub: signPub}

	u := &domain.LocalUser{DeviceID: deviceID, Algo: suite.Algo(), ServerURL: "https://server"}
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

	return u, identity, spk
}

func TestInitiateResponderSession_NoOPk(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	suite := testSuite(t)

	bob, bobIdentity, bobSPk := setupLocalUser(t, db, suite, "bob-laptop")

	aliceIkPriv, aliceIkPub, err := suite.GenerateDH()
	require.NoError(t, err)
	aliceEkPriv, aliceEkPub, err := suite.GenerateDH()
	require.NoError(t, err)

	aliceSecret, _, err := sharedSecretInitiator(suite, aliceIkPriv, aliceEkPriv, bobIdentity.DHPub, bobSPk.Pub, nil, nil)
	require.NoError(t, err)

	init := &domain.X3DHInit{Ik: aliceIkPub, Ephemeral: aliceEkPub, SPkID: bobSPk.ID}

	session, opkID, err := InitiateResponderSession(ctx, db, suite, bob, bobIdentity, "alice-phone", init)
	require.NoError(t, err)
	require.Zero(t, opkID)
	require.False(t, session.IsInitiator)
	require.Equal(t, "alice-phone", session.PeerDeviceID)

	bobSecret, err := sharedSecretResponder(suite, bobSPk.Priv, bobIdentity.DHPriv, aliceIkPub, aliceEkPub, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, aliceSecret, bobSecret)

	peer, err := db.GetPeerDevice(ctx, bob.ID, "alice-phone", suite.Algo())
	require.NoError(t, err)
	require.NotNil(t, peer)
	require.Equal(t, aliceIkPub, peer.Ik)
}

func TestInitiateResponderSession_WithOPkDoesNotConsumeIt(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	suite := testSuite(t)

	bob, bobIdentity, bobSPk := setupLocalUser(t, db, suite, "bob-laptop")

	opkPriv, opkPub, err := suite.GenerateDH()
	require.NoError(t, err)
	opk := &domain.OneTimePreKey{UserID: bob.ID, Algo: suite.Algo(), ID: 99, Priv: opkPriv, Pub: opkPub, Status: domain.OPkAvailable}
	require.NoError(t, db.InsertOPkBatch(ctx, []*domain.OneTimePreKey{opk}))

	aliceIkPriv, aliceIkPub, err := suite.GenerateDH()
	require.NoError(t, err)
	aliceEkPriv, aliceEkPub, err := suite.GenerateDH()
	require.NoError(t, err)

	init := &domain.X3DHInit{Ik: aliceIkPub, Ephemeral: aliceEkPub, SPkID: bobSPk.ID, HasOPk: true, OPkID: 99}

	session, opkID, err := InitiateResponderSession(ctx, db, suite, bob, bobIdentity, "alice-phone", init)
	require.NoError(t, err)
	require.Equal(t, uint32(99), opkID)
	require.NotNil(t, session)

	stillThere, err := db.GetOPk(ctx, bob.ID, 99)
	require.NoError(t, err)
	require.Equal(t, domain.OPkAvailable, stillThere.Status)
}

func TestInitiateResponderSession_UnknownSPkFails(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	suite := testSuite(t)

	bob, bobIdentity, _ := setupLocalUser(t, db, suite, "bob-laptop")

	_, aliceIkPub, err := suite.GenerateDH()
	require.NoError(t, err)
	_, aliceEkPub, err := suite.GenerateDH()
	require.NoError(t, err)

	init := &domain.X3DHInit{Ik: aliceIkPub, Ephemeral: aliceEkPub, SPkID: 404040}

	_, _, err = InitiateResponderSession(ctx, db, suite, bob, bobIdentity, "alice-phone", init)
	require.Equal(t, domain.KindDecryptFail, domain.AsKind(err))
}
