package ratchet

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"limepq/internal/crypto"
	"limepq/internal/domain"
	"limepq/internal/store"
)

func testSuite(t *testing.T) crypto.Suite {
	t.Helper()
	suite, err := crypto.ForAlgo(domain.AlgoC25519)
	require.NoError(t, err)
	return suite
}

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// newSessionPair builds an initiator/responder session pair sharing an X3DH
// output the way orchestrator.encryptDirect/InitiateResponderSession do:
// the initiator seeds its sending chain against the responder's SPk
// keypair, and the responder starts with neither chain until the first
// inbound message triggers its receive ratchet.
func newSessionPair(t *testing.T, suite crypto.Suite) (initiator, responder *domain.DRSession) {
	t.Helper()
	sharedSecret := bytes.Repeat([]byte{0x11}, suite.KeySize())

	spkPriv, spkPub, err := suite.GenerateDH()
	require.NoError(t, err)

	initState, err := InitAsInitiator(suite, sharedSecret, spkPub)
	require.NoError(t, err)
	respState, err := InitAsResponder(suite, sharedSecret, spkPriv, spkPub)
	require.NoError(t, err)

	initiator = &domain.DRSession{ID: 1, Algo: suite.Algo(), State: *initState, IsInitiator: true}
	responder = &domain.DRSession{ID: 2, Algo: suite.Algo(), State: *respState}
	return initiator, responder
}

func TestRatchet_OneRoundTrip(t *testing.T) {
	ctx := context.Background()
	suite := testSuite(t)
	db := openTestDB(t)
	a, b := newSessionPair(t, suite)

	header, ct, err := Encrypt(suite, domain.DefaultConfig, a, []byte("hello responder"))
	require.NoError(t, err)

	pt, err := Decrypt(ctx, db, suite, domain.DefaultConfig, b, header, ct)
	require.NoError(t, err)
	require.Equal(t, []byte("hello responder"), pt)
}

// TestRatchet_BidirectionalExchange drives a send from each side after the
// initial round trip: the responder has no sending chain until it has
// decrypted something from the initiator, and its reply forces a fresh
// asymmetric ratchet step on the initiator's receive side.
func TestRatchet_BidirectionalExchange(t *testing.T) {
	ctx := context.Background()
	suite := testSuite(t)
	db := openTestDB(t)
	a, b := newSessionPair(t, suite)

	h1, ct1, err := Encrypt(suite, domain.DefaultConfig, a, []byte("ping"))
	require.NoError(t, err)
	pt1, err := Decrypt(ctx, db, suite, domain.DefaultConfig, b, h1, ct1)
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), pt1)

	require.True(t, needsSendRatchet(b), "responder must ratchet before its first send")
	h2, ct2, err := Encrypt(suite, domain.DefaultConfig, b, []byte("pong"))
	require.NoError(t, err)
	require.NotEqual(t, h1.DHPub, h2.DHPub, "reply must carry a fresh ratchet public key")

	pt2, err := Decrypt(ctx, db, suite, domain.DefaultConfig, a, h2, ct2)
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), pt2)

	h3, ct3, err := Encrypt(suite, domain.DefaultConfig, a, []byte("ping again"))
	require.NoError(t, err)
	pt3, err := Decrypt(ctx, db, suite, domain.DefaultConfig, b, h3, ct3)
	require.NoError(t, err)
	require.Equal(t, []byte("ping again"), pt3)
}

// TestRatchet_SkipThenDecryptLater sends three messages on the same chain,
// decrypts the last one first (skipping the first two into the store), then
// decrypts the skipped two out of order afterward.
func TestRatchet_SkipThenDecryptLater(t *testing.T) {
	ctx := context.Background()
	suite := testSuite(t)
	db := openTestDB(t)
	a, b := newSessionPair(t, suite)

	var headers []domain.RatchetHeader
	var cts [][]byte
	for _, pt := range []string{"one", "two", "three"} {
		h, ct, err := Encrypt(suite, domain.DefaultConfig, a, []byte(pt))
		require.NoError(t, err)
		headers = append(headers, h)
		cts = append(cts, ct)
	}

	got, err := Decrypt(ctx, db, suite, domain.DefaultConfig, b, headers[2], cts[2])
	require.NoError(t, err)
	require.Equal(t, []byte("three"), got)

	n, err := db.CountSkippedKeys(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got0, err := Decrypt(ctx, db, suite, domain.DefaultConfig, b, headers[0], cts[0])
	require.NoError(t, err)
	require.Equal(t, []byte("one"), got0)

	got1, err := Decrypt(ctx, db, suite, domain.DefaultConfig, b, headers[1], cts[1])
	require.NoError(t, err)
	require.Equal(t, []byte("two"), got1)

	n, err = db.CountSkippedKeys(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

// TestRatchet_SkippedKeyIsSingleUse proves a skipped key taken from the
// store cannot decrypt a second time.
func TestRatchet_SkippedKeyIsSingleUse(t *testing.T) {
	ctx := context.Background()
	suite := testSuite(t)
	db := openTestDB(t)
	a, b := newSessionPair(t, suite)

	h0, ct0, err := Encrypt(suite, domain.DefaultConfig, a, []byte("one"))
	require.NoError(t, err)
	h1, ct1, err := Encrypt(suite, domain.DefaultConfig, a, []byte("two"))
	require.NoError(t, err)

	_, err = Decrypt(ctx, db, suite, domain.DefaultConfig, b, h1, ct1)
	require.NoError(t, err)

	_, err = Decrypt(ctx, db, suite, domain.DefaultConfig, b, h0, ct0)
	require.NoError(t, err)

	_, err = Decrypt(ctx, db, suite, domain.DefaultConfig, b, h0, ct0)
	require.Error(t, err)
	require.Equal(t, domain.KindDecryptFail, domain.AsKind(err))
}

// TestEnforceSkippedKeyCap_EvictsOldest drives enough skipped messages past
// a small cap that the oldest skipped key must be evicted before the next
// one is saved, then confirms the evicted key cannot be recovered.
func TestEnforceSkippedKeyCap_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	suite := testSuite(t)
	db := openTestDB(t)
	a, b := newSessionPair(t, suite)

	cfg := domain.DefaultConfig
	cfg.MaxMessagesAfterSkip = 2

	var headers []domain.RatchetHeader
	var cts [][]byte
	for _, pt := range []string{"m0", "m1", "m2", "m3"} {
		h, ct, err := Encrypt(suite, cfg, a, []byte(pt))
		require.NoError(t, err)
		headers = append(headers, h)
		cts = append(cts, ct)
	}

	_, err := Decrypt(ctx, db, suite, cfg, b, headers[3], cts[3])
	require.NoError(t, err)

	n, err := db.CountSkippedKeys(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n, "cap must not be exceeded even though three keys were skipped")

	_, found, err := db.TakeSkippedKey(ctx, b.ID, headers[0].DHPub, 0)
	require.NoError(t, err)
	require.False(t, found, "oldest skipped key (m0) must have been evicted")

	_, found, err = db.TakeSkippedKey(ctx, b.ID, headers[2].DHPub, 2)
	require.NoError(t, err)
	require.True(t, found, "most recently skipped key (m2) must still be present")
}

func TestDecrypt_NoReceivingChainFails(t *testing.T) {
	ctx := context.Background()
	suite := testSuite(t)
	db := openTestDB(t)
	_, b := newSessionPair(t, suite)

	h := domain.RatchetHeader{DHPub: b.State.DHPub, N: 0}
	_, err := Decrypt(ctx, db, suite, domain.DefaultConfig, b, h, []byte("not a real ciphertext"))
	require.Error(t, err)
	require.Equal(t, domain.KindDecryptFail, domain.AsKind(err))
}

func TestDecrypt_BadCiphertextLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	suite := testSuite(t)
	db := openTestDB(t)
	a, b := newSessionPair(t, suite)

	h, ct, err := Encrypt(suite, domain.DefaultConfig, a, []byte("hello"))
	require.NoError(t, err)
	tampered := append([]byte{}, ct...)
	tampered[0] ^= 0xFF

	before := b.State
	_, err = Decrypt(ctx, db, suite, domain.DefaultConfig, b, h, tampered)
	require.Error(t, err)
	require.Equal(t, domain.KindDecryptFail, domain.AsKind(err))
	require.Equal(t, before.Nr, b.State.Nr)
	require.Empty(t, b.State.RecvCK)
}

func TestNeedsFreshX3DH(t *testing.T) {
	s := &domain.DRSession{State: domain.RatchetState{Ns: 5}}
	require.False(t, NeedsFreshX3DH(s, 10))
	s.State.Ns = 10
	require.True(t, NeedsFreshX3DH(s, 10))
}
