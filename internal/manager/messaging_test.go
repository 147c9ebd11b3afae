package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"limepq/internal/crypto"
	"limepq/internal/domain"
	"limepq/internal/serverproto"
	"limepq/internal/transport"
)

// twoUsers registers alice and bob under separate Managers/stores, sharing
// one fake transport that answers registration with success and answers
// bob's peer-bundle requests from bob's own store, standing in for a real
// key-distribution server routing both identities.
func twoUsers(t *testing.T) (alice, bob *Manager) {
	t.Helper()
	ctx := context.Background()
	aliceDB := openTestDB(t)
	bobDB := openTestDB(t)

	tr := transport.NewFake(nil)
	tr.SetHandler(func(url, from string, body []byte) (int, []byte) {
		req, err := serverproto.DecodeRequest(body)
		require.NoError(t, err)
		switch req.Type {
		case serverproto.TypeGetPeerBundle:
			_, err = serverproto.DecodePeerBundleRequestPayload(req.Payload)
			require.NoError(t, err)
			suite, err := crypto.ForAlgo(req.Algo)
			require.NoError(t, err)
			user, err := bobDB.GetUserByDeviceID(ctx, "bob-laptop", suite.Algo())
			require.NoError(t, err)
			identity, err := bobDB.GetIdentity(ctx, user.ID)
			require.NoError(t, err)
			spk, err := bobDB.ActiveSPk(ctx, user.ID)
			require.NoError(t, err)
			bundle := domain.PeerBundle{
				DeviceID: "bob-laptop", Algo: suite.Algo(), Flag: domain.BundleNoOPk,
				Ik: identity.DHPub, SignPub: identity.SignPub,
				SPkID: spk.ID, SPkPub: spk.Pub, SPkSig: spk.Sig,
			}
			return 200, serverproto.EncodePeerBundleResponse(suite, []domain.PeerBundle{bundle})
		default:
			return 200, nil
		}
	})

	alice = New(aliceDB, tr, domain.DefaultConfig, nil)
	bob = New(bobDB, tr, domain.DefaultConfig, nil)

	var aliceErr, bobErr error
	alice.CreateUser(ctx, "alice-phone", []domain.AlgoID{domain.AlgoC25519}, "https://key-server.example", 5, func(err error) { aliceErr = err })
	bob.CreateUser(ctx, "bob-laptop", []domain.AlgoID{domain.AlgoC25519}, "https://key-server.example", 5, func(err error) { bobErr = err })
	require.NoError(t, aliceErr)
	require.NoError(t, bobErr)
	return alice, bob
}

func TestEncryptDecrypt_ManagerLevelRoundTrip(t *testing.T) {
	alice, bob := twoUsers(t)
	ctx := context.Background()

	ectx := &domain.EncryptionContext{
		RecipientUserID: "bob",
		Plaintext:       []byte("hello from alice"),
		Policy:          domain.PolicyDRMessage,
		Recipients:      []*domain.RecipientResult{{DeviceID: "bob-laptop"}},
	}
	var encErr error
	done := make(chan struct{})
	alice.Encrypt(ctx, "alice-phone", []domain.AlgoID{domain.AlgoC25519}, ectx, func(err error) {
		encErr = err
		close(done)
	})
	<-done
	require.NoError(t, encErr)
	require.Equal(t, domain.RecipientOK, ectx.Recipients[0].Status)

	msg, err := bob.Decrypt(ctx, "bob-laptop", []domain.AlgoID{domain.AlgoC25519}, "bob", "alice-phone", ectx.Recipients[0].DRMessage, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("hello from alice"), msg.Plaintext)
}

func TestStaleSessions_DelegatesToOrchestrator(t *testing.T) {
	alice, bob := twoUsers(t)
	ctx := context.Background()
	_ = bob

	ectx := &domain.EncryptionContext{
		RecipientUserID: "bob",
		Plaintext:       []byte("hi"),
		Policy:          domain.PolicyDRMessage,
		Recipients:      []*domain.RecipientResult{{DeviceID: "bob-laptop"}},
	}
	var encErr error
	done := make(chan struct{})
	alice.Encrypt(ctx, "alice-phone", []domain.AlgoID{domain.AlgoC25519}, ectx, func(err error) { encErr = err; close(done) })
	<-done
	require.NoError(t, encErr)

	require.NoError(t, alice.StaleSessions(ctx, "alice-phone", []domain.AlgoID{domain.AlgoC25519}, "bob-laptop"))
}
