package serialize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"limepq/internal/crypto"
	"limepq/internal/domain"
)

func testSuite(t *testing.T) crypto.Suite {
	t.Helper()
	suite, err := crypto.ForAlgo(domain.AlgoC25519)
	require.NoError(t, err)
	return suite
}

func TestSPkEntry_RoundTrip(t *testing.T) {
	suite := testSuite(t)
	pub := make([]byte, suite.DHPubSize())
	sig := make([]byte, suite.SigSize())
	for i := range pub {
		pub[i] = byte(i)
	}
	for i := range sig {
		sig[i] = byte(255 - i)
	}

	entry := SPkEntry(suite, pub, sig, 0xDEADBEEF)
	require.Len(t, entry, suite.DHPubSize()+suite.SigSize()+4)

	gotPub, gotSig, gotID, err := ParseSPkEntry(suite, suite.SigSize(), entry)
	require.NoError(t, err)
	require.Equal(t, pub, gotPub)
	require.Equal(t, sig, gotSig)
	require.Equal(t, uint32(0xDEADBEEF), gotID)
}

func TestParseSPkEntry_WrongLengthFails(t *testing.T) {
	suite := testSuite(t)
	_, _, _, err := ParseSPkEntry(suite, suite.SigSize(), []byte{1, 2, 3})
	require.Error(t, err)
	require.Equal(t, domain.KindSerializationFail, domain.AsKind(err))
}

func TestOPkEntry_RoundTrip(t *testing.T) {
	suite := testSuite(t)
	pub := make([]byte, suite.DHPubSize())
	pub[0] = 0x42

	entry := OPkEntry(pub, 7)
	gotPub, gotID, err := ParseOPkEntry(suite, entry)
	require.NoError(t, err)
	require.Equal(t, pub, gotPub)
	require.Equal(t, uint32(7), gotID)
}

func makeBundle(t *testing.T, suite crypto.Suite, withOPk bool) domain.PeerBundle {
	t.Helper()
	_, dhPub, err := suite.GenerateDH()
	require.NoError(t, err)
	_, signPub, err := suite.GenerateSign()
	require.NoError(t, err)
	_, spkPub, err := suite.GenerateDH()
	require.NoError(t, err)
	sig := make([]byte, suite.SigSize())

	b := domain.PeerBundle{
		DeviceID: "bob-laptop", Algo: suite.Algo(),
		Ik: dhPub, SignPub: signPub,
		SPkID: 3, SPkPub: spkPub, SPkSig: sig,
	}
	if withOPk {
		b.Flag = domain.BundleWithOPk
		_, opkPub, err := suite.GenerateDH()
		require.NoError(t, err)
		b.OPkPub, b.OPkID = opkPub, 9
	} else {
		b.Flag = domain.BundleNoOPk
	}
	return b
}

func TestEncodeDecodeBundle_WithOPk(t *testing.T) {
	suite := testSuite(t)
	want := makeBundle(t, suite, true)

	buf := EncodeBundle(suite, suite.SigSize(), want)
	got, err := DecodeBundle(suite, suite.SigSize(), want.DeviceID, want.Algo, buf)
	require.NoError(t, err)

	require.Equal(t, want.Flag, got.Flag)
	require.Equal(t, want.Ik, got.Ik)
	require.Equal(t, want.SignPub, got.SignPub)
	require.Equal(t, want.SPkID, got.SPkID)
	require.Equal(t, want.SPkPub, got.SPkPub)
	require.Equal(t, want.SPkSig, got.SPkSig)
	require.Equal(t, want.OPkID, got.OPkID)
	require.Equal(t, want.OPkPub, got.OPkPub)
}

func TestEncodeDecodeBundle_NoOPk(t *testing.T) {
	suite := testSuite(t)
	want := makeBundle(t, suite, false)

	buf := EncodeBundle(suite, suite.SigSize(), want)
	got, err := DecodeBundle(suite, suite.SigSize(), want.DeviceID, want.Algo, buf)
	require.NoError(t, err)
	require.Equal(t, domain.BundleNoOPk, got.Flag)
	require.Empty(t, got.OPkPub)
}

func TestDecodeBundle_NoBundleFlag(t *testing.T) {
	suite := testSuite(t)
	buf := []byte{byte(domain.BundleNoBundle)}
	got, err := DecodeBundle(suite, suite.SigSize(), "bob-laptop", suite.Algo(), buf)
	require.NoError(t, err)
	require.Equal(t, domain.BundleNoBundle, got.Flag)
}

func TestDecodeBundle_TrailingBytesWithoutOPkFails(t *testing.T) {
	suite := testSuite(t)
	want := makeBundle(t, suite, false)
	buf := EncodeBundle(suite, suite.SigSize(), want)
	buf = append(buf, 0xFF)

	_, err := DecodeBundle(suite, suite.SigSize(), want.DeviceID, want.Algo, buf)
	require.Error(t, err)
	require.Equal(t, domain.KindSerializationFail, domain.AsKind(err))
}

func makeHeader(suite crypto.Suite, withInit, withOPk bool) domain.RatchetHeader {
	dhPub := make([]byte, suite.DHPubSize())
	dhPub[0] = 1
	h := domain.RatchetHeader{DHPub: dhPub, N: 5, PN: 2}
	if withInit {
		ik := make([]byte, suite.DHPubSize())
		ik[0] = 2
		eph := make([]byte, suite.DHPubSize())
		eph[0] = 3
		init := &domain.X3DHInit{Ik: ik, Ephemeral: eph, SPkID: 11}
		if withOPk {
			init.HasOPk = true
			init.OPkID = 22
		}
		h.Init = init
	}
	return h
}

func TestEncodeDecodeHeader_NoInit(t *testing.T) {
	suite := testSuite(t)
	h := makeHeader(suite, false, false)

	buf := EncodeHeader(suite, h)
	got, rest, err := DecodeHeader(suite, buf)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, h.DHPub, got.DHPub)
	require.Equal(t, h.N, got.N)
	require.Equal(t, h.PN, got.PN)
	require.Nil(t, got.Init)
}

func TestEncodeDecodeHeader_WithInitAndOPk(t *testing.T) {
	suite := testSuite(t)
	h := makeHeader(suite, true, true)

	buf := EncodeHeader(suite, h)
	got, rest, err := DecodeHeader(suite, buf)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.NotNil(t, got.Init)
	require.Equal(t, h.Init.Ik, got.Init.Ik)
	require.Equal(t, h.Init.Ephemeral, got.Init.Ephemeral)
	require.Equal(t, h.Init.SPkID, got.Init.SPkID)
	require.True(t, got.Init.HasOPk)
	require.Equal(t, h.Init.OPkID, got.Init.OPkID)
}

func TestEncodeDecodeHeader_WithInitNoOPk(t *testing.T) {
	suite := testSuite(t)
	h := makeHeader(suite, true, false)

	buf := EncodeHeader(suite, h)
	got, _, err := DecodeHeader(suite, buf)
	require.NoError(t, err)
	require.False(t, got.Init.HasOPk)
	require.Equal(t, uint32(0), got.Init.OPkID)
}

func TestDecodeHeader_EmptyFails(t *testing.T) {
	suite := testSuite(t)
	_, _, err := DecodeHeader(suite, nil)
	require.Error(t, err)
	require.Equal(t, domain.KindSerializationFail, domain.AsKind(err))
}

func TestEncodeDecodeDirectMessage_RoundTrip(t *testing.T) {
	suite := testSuite(t)
	h := makeHeader(suite, false, false)
	ciphertext := []byte("sealed payload bytes")

	buf := EncodeDirectMessage(suite, h, ciphertext)
	gotHeader, gotCt, err := DecodeDirectMessage(suite, buf)
	require.NoError(t, err)
	require.Equal(t, h.DHPub, gotHeader.DHPub)
	require.Equal(t, ciphertext, gotCt)
}

func TestDecodeDirectMessage_WrongTagFails(t *testing.T) {
	suite := testSuite(t)
	h := makeHeader(suite, false, false)
	buf := EncodeDirectMessage(suite, h, []byte("x"))
	buf[0] = wireCipherMessage

	_, _, err := DecodeDirectMessage(suite, buf)
	require.Error(t, err)
	require.Equal(t, domain.KindSerializationFail, domain.AsKind(err))
}

func TestEncodeDecodeCipherMessage_RoundTrip(t *testing.T) {
	suite := testSuite(t)
	h1 := makeHeader(suite, false, false)
	h2 := makeHeader(suite, true, true)
	headers := []domain.RatchetHeader{h1, h2}
	wrappedKeys := [][]byte{[]byte("wrapped-key-1"), []byte("wrapped-key-2-longer")}
	outer := []byte("outer ciphertext bytes")

	buf, err := EncodeCipherMessage(suite, headers, wrappedKeys, outer)
	require.NoError(t, err)

	gotHeaders, gotKeys, gotOuter, err := DecodeCipherMessage(suite, buf)
	require.NoError(t, err)
	require.Len(t, gotHeaders, 2)
	require.Equal(t, h1.DHPub, gotHeaders[0].DHPub)
	require.Equal(t, h2.Init.SPkID, gotHeaders[1].Init.SPkID)
	require.Equal(t, wrappedKeys, gotKeys)
	require.Equal(t, outer, gotOuter)
}

func TestEncodeCipherMessage_MismatchedLengthsFails(t *testing.T) {
	suite := testSuite(t)
	h := makeHeader(suite, false, false)
	_, err := EncodeCipherMessage(suite, []domain.RatchetHeader{h}, nil, []byte("x"))
	require.Error(t, err)
	require.Equal(t, domain.KindSerializationFail, domain.AsKind(err))
}

func TestDecodeCipherMessage_WrongTagFails(t *testing.T) {
	suite := testSuite(t)
	buf, err := EncodeCipherMessage(suite, nil, nil, []byte("x"))
	require.NoError(t, err)
	buf[0] = wireDirectMessage

	_, _, _, err = DecodeCipherMessage(suite, buf)
	require.Error(t, err)
	require.Equal(t, domain.KindSerializationFail, domain.AsKind(err))
}
