package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"limepq/internal/domain"
	"limepq/internal/serverproto"
	"limepq/internal/transport"
)

func bundleFor(b bobIdentity, deviceID string, algo domain.AlgoID) domain.PeerBundle {
	return domain.PeerBundle{
		DeviceID: deviceID, Algo: algo, Flag: domain.BundleNoOPk,
		Ik: b.ik.DHPub, SignPub: b.ik.SignPub,
		SPkID: b.spkID, SPkPub: b.spkPub, SPkSig: b.sig,
	}
}

func TestEncrypt_DuplicateRecipientDeviceIDFails(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	suite := testSuite(t)
	alice, aliceIdentity := setupLocalUser(t, db, suite, "alice-phone")

	tr := transport.NewFake(nil)
	o := New(db, tr, suite, domain.DefaultConfig, alice, aliceIdentity, nil)

	ectx := &domain.EncryptionContext{
		RecipientUserID: "bob",
		Plaintext:       []byte("hi"),
		Recipients: []*domain.RecipientResult{
			{DeviceID: "bob-laptop"},
			{DeviceID: "bob-laptop"},
		},
	}

	var gotErr error
	var wg sync.WaitGroup
	wg.Add(1)
	o.Encrypt(ctx, ectx, func(err error) { gotErr = err; wg.Done() })
	wg.Wait()

	require.Error(t, gotErr)
	require.Equal(t, domain.RecipientFail, ectx.Recipients[1].Status)
	require.Equal(t, domain.KindInvalidArgument, domain.AsKind(ectx.Recipients[1].Err))
}

func TestEncrypt_CacheMissFetchesBundleAndSucceeds(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	suite := testSuite(t)
	alice, aliceIdentity := setupLocalUser(t, db, suite, "alice-phone")

	bob := makeBob(t, suite)
	bundle := bundleFor(bob, "bob-laptop", suite.Algo())
	tr := transport.NewFake(func(url, from string, body []byte) (int, []byte) {
		resp := serverproto.EncodePeerBundleResponse(suite, []domain.PeerBundle{bundle})
		return 200, resp
	})
	o := New(db, tr, suite, domain.DefaultConfig, alice, aliceIdentity, nil)

	ectx := &domain.EncryptionContext{
		RecipientUserID: "bob",
		Plaintext:       []byte("hello bob"),
		Policy:          domain.PolicyDRMessage,
		Recipients:      []*domain.RecipientResult{{DeviceID: "bob-laptop"}},
	}

	var gotErr error
	var wg sync.WaitGroup
	wg.Add(1)
	o.Encrypt(ctx, ectx, func(err error) { gotErr = err; wg.Done() })
	wg.Wait()

	require.NoError(t, gotErr)
	require.NoError(t, ectx.Recipients[0].Err)
	require.NotEmpty(t, ectx.Recipients[0].DRMessage)

	_, has := o.cache["bob-laptop"]
	require.True(t, has)
}

// TestEncrypt_QueuesWhileAnotherCallIsInFlight drives two real Encrypt
// calls back to back from the same goroutine. The first's transport round
// trip is held open by release so the second call lands while o.ongoing is
// still true and must be queued; closing release lets both complete and
// drain in FIFO order without any test code reaching into runQueued
// directly.
func TestEncrypt_QueuesWhileAnotherCallIsInFlight(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	suite := testSuite(t)
	alice, aliceIdentity := setupLocalUser(t, db, suite, "alice-phone")

	bob := makeBob(t, suite)
	bundle := bundleFor(bob, "bob-laptop", suite.Algo())

	release := make(chan struct{})
	tr := transport.NewFake(func(url, from string, body []byte) (int, []byte) {
		<-release
		resp := serverproto.EncodePeerBundleResponse(suite, []domain.PeerBundle{bundle})
		return 200, resp
	})
	o := New(db, tr, suite, domain.DefaultConfig, alice, aliceIdentity, nil)

	ectx1 := &domain.EncryptionContext{
		RecipientUserID: "bob",
		Plaintext:       []byte("first"),
		Policy:          domain.PolicyDRMessage,
		Recipients:      []*domain.RecipientResult{{DeviceID: "bob-laptop"}},
	}
	ectx2 := &domain.EncryptionContext{
		RecipientUserID: "bob",
		Plaintext:       []byte("second"),
		Policy:          domain.PolicyDRMessage,
		Recipients:      []*domain.RecipientResult{{DeviceID: "bob-laptop"}},
	}

	var wg sync.WaitGroup
	wg.Add(2)
	var err1, err2 error
	o.Encrypt(ctx, ectx1, func(err error) { err1 = err; wg.Done() })

	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.ongoing
	}, time.Second, time.Millisecond)

	o.Encrypt(ctx, ectx2, func(err error) { err2 = err; wg.Done() })

	o.mu.Lock()
	queued := len(o.pending)
	o.mu.Unlock()
	require.Equal(t, 1, queued)

	close(release)
	wg.Wait()

	require.NoError(t, err1)
	require.NoError(t, err2)
	require.NoError(t, ectx1.Recipients[0].Err)
	require.NoError(t, ectx2.Recipients[0].Err)
}

func TestEncrypt_OptimizeUploadSizePicksCipherMessageForManyRecipients(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	suite := testSuite(t)
	alice, aliceIdentity := setupLocalUser(t, db, suite, "alice-phone")

	bob := makeBob(t, suite)
	carol := makeBob(t, suite)
	bundles := []domain.PeerBundle{
		bundleFor(bob, "bob-laptop", suite.Algo()),
		bundleFor(carol, "carol-tablet", suite.Algo()),
	}
	tr := transport.NewFake(func(url, from string, body []byte) (int, []byte) {
		resp := serverproto.EncodePeerBundleResponse(suite, bundles)
		return 200, resp
	})
	o := New(db, tr, suite, domain.DefaultConfig, alice, aliceIdentity, nil)

	bigPlaintext := make([]byte, 1000)
	ectx := &domain.EncryptionContext{
		RecipientUserID: "group",
		Plaintext:       bigPlaintext,
		Policy:          domain.PolicyOptimizeUploadSize,
		Recipients: []*domain.RecipientResult{
			{DeviceID: "bob-laptop"},
			{DeviceID: "carol-tablet"},
		},
	}

	var gotErr error
	var wg sync.WaitGroup
	wg.Add(1)
	o.Encrypt(ctx, ectx, func(err error) { gotErr = err; wg.Done() })
	wg.Wait()

	require.NoError(t, gotErr)
	require.NotEmpty(t, ectx.CipherMessage)
	require.Empty(t, ectx.Recipients[0].DRMessage)
	require.Empty(t, ectx.Recipients[1].DRMessage)
}

func TestEncrypt_OptimizeUploadSizePicksDRMessageForSmallPlaintext(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	suite := testSuite(t)
	alice, aliceIdentity := setupLocalUser(t, db, suite, "alice-phone")

	bob := makeBob(t, suite)
	carol := makeBob(t, suite)
	bundles := []domain.PeerBundle{
		bundleFor(bob, "bob-laptop", suite.Algo()),
		bundleFor(carol, "carol-tablet", suite.Algo()),
	}
	tr := transport.NewFake(func(url, from string, body []byte) (int, []byte) {
		resp := serverproto.EncodePeerBundleResponse(suite, bundles)
		return 200, resp
	})
	o := New(db, tr, suite, domain.DefaultConfig, alice, aliceIdentity, nil)

	ectx := &domain.EncryptionContext{
		RecipientUserID: "group",
		Plaintext:       []byte("hi"),
		Policy:          domain.PolicyOptimizeUploadSize,
		Recipients: []*domain.RecipientResult{
			{DeviceID: "bob-laptop"},
			{DeviceID: "carol-tablet"},
		},
	}

	var gotErr error
	var wg sync.WaitGroup
	wg.Add(1)
	o.Encrypt(ctx, ectx, func(err error) { gotErr = err; wg.Done() })
	wg.Wait()

	require.NoError(t, gotErr)
	require.Empty(t, ectx.CipherMessage)
	require.NotEmpty(t, ectx.Recipients[0].DRMessage)
	require.NotEmpty(t, ectx.Recipients[1].DRMessage)
}
