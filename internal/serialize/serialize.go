// Package serialize implements the byte-exact wire layouts of spec §4.2.
// Every layout is either length-prefixed or length-known from the pinned
// algorithm id (via crypto.Suite's *Size accessors); a failed parse is
// always a domain.KindSerializationFail error, never a panic, generalizing
// the teacher's explicit-(un)marshal-method idiom
// (internal/domain/types.go's PrekeyBundle.MarshalJSON/UnmarshalJSON) from
// JSON to a compact binary layout.
package serialize

import (
	"encoding/binary"
	"fmt"

	"limepq/internal/crypto"
	"limepq/internal/domain"
)

func fail(op, detail string) error {
	return domain.NewError(domain.KindSerializationFail, op, detail, nil)
}

// --- SPk / OPk bundle entries (spec §4.2) ---

// SPkEntry encodes `SPk_pub || signature || SPk_id(BE32)`.
func SPkEntry(suite crypto.Suite, pub, sig []byte, id uint32) []byte {
	out := make([]byte, 0, len(pub)+len(sig)+4)
	out = append(out, pub...)
	out = append(out, sig...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return append(out, b[:]...)
}

// ParseSPkEntry is SPkEntry's inverse. sigSize is the signature length
// (suite.SigSize()), which differs from the signing public key's length.
func ParseSPkEntry(suite crypto.Suite, sigSize int, buf []byte) (pub, sig []byte, id uint32, err error) {
	want := suite.DHPubSize() + sigSize + 4
	if len(buf) != want {
		return nil, nil, 0, fail("serialize.ParseSPkEntry", fmt.Sprintf("want %d bytes, got %d", want, len(buf)))
	}
	pub = buf[:suite.DHPubSize()]
	sig = buf[suite.DHPubSize() : suite.DHPubSize()+sigSize]
	id = binary.BigEndian.Uint32(buf[suite.DHPubSize()+sigSize:])
	return pub, sig, id, nil
}

// OPkEntry encodes `OPk_pub || OPk_id(BE32)`.
func OPkEntry(pub []byte, id uint32) []byte {
	out := make([]byte, 0, len(pub)+4)
	out = append(out, pub...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return append(out, b[:]...)
}

// ParseOPkEntry is OPkEntry's inverse.
func ParseOPkEntry(suite crypto.Suite, buf []byte) (pub []byte, id uint32, err error) {
	want := suite.DHPubSize() + 4
	if len(buf) != want {
		return nil, 0, fail("serialize.ParseOPkEntry", fmt.Sprintf("want %d bytes, got %d", want, len(buf)))
	}
	return buf[:suite.DHPubSize()], binary.BigEndian.Uint32(buf[suite.DHPubSize():]), nil
}

// --- Peer bundle (spec §4.2) ---
//
// Layout: bundleFlag(1) || Ik || SignPub || [KEMPub] || SPk_entry || [OPk_entry]

func EncodeBundle(suite crypto.Suite, sigSize int, b domain.PeerBundle) []byte {
	out := []byte{byte(b.Flag)}
	out = append(out, b.Ik...)
	out = append(out, b.SignPub...)
	if suite.Algo().HasKEM() {
		out = append(out, b.KEMPub...)
	}
	out = append(out, SPkEntry(suite, b.SPkPub, b.SPkSig, b.SPkID)...)
	if b.HasOPk() {
		out = append(out, OPkEntry(b.OPkPub, b.OPkID)...)
	}
	return out
}

func DecodeBundle(suite crypto.Suite, sigSize int, deviceID string, algo domain.AlgoID, buf []byte) (domain.PeerBundle, error) {
	const op = "serialize.DecodeBundle"
	if len(buf) < 1 {
		return domain.PeerBundle{}, fail(op, "empty buffer")
	}
	flag := domain.BundleFlag(buf[0])
	buf = buf[1:]
	if flag == domain.BundleNoBundle {
		return domain.PeerBundle{DeviceID: deviceID, Algo: algo, Flag: flag}, nil
	}

	ikSize := suite.DHPubSize()
	signSize := suite.SignPubSize()
	if len(buf) < ikSize+signSize {
		return domain.PeerBundle{}, fail(op, "truncated identity block")
	}
	ik := buf[:ikSize]
	signPub := buf[ikSize : ikSize+signSize]
	buf = buf[ikSize+signSize:]

	var kemPub []byte
	if algo.HasKEM() {
		ks := suite.KEMPubSize()
		if len(buf) < ks {
			return domain.PeerBundle{}, fail(op, "truncated KEM block")
		}
		kemPub = buf[:ks]
		buf = buf[ks:]
	}

	spkEntrySize := suite.DHPubSize() + sigSize + 4
	if len(buf) < spkEntrySize {
		return domain.PeerBundle{}, fail(op, "truncated SPk entry")
	}
	spkPub, spkSig, spkID, err := ParseSPkEntry(suite, sigSize, buf[:spkEntrySize])
	if err != nil {
		return domain.PeerBundle{}, err
	}
	buf = buf[spkEntrySize:]

	out := domain.PeerBundle{
		DeviceID: deviceID, Algo: algo, Flag: flag,
		Ik: ik, SignPub: signPub, KEMPub: kemPub,
		SPkID: spkID, SPkPub: spkPub, SPkSig: spkSig,
	}
	if flag == domain.BundleWithOPk {
		opkEntrySize := suite.DHPubSize() + 4
		if len(buf) != opkEntrySize {
			return domain.PeerBundle{}, fail(op, "truncated OPk entry")
		}
		opkPub, opkID, err := ParseOPkEntry(suite, buf)
		if err != nil {
			return domain.PeerBundle{}, err
		}
		out.OPkPub, out.OPkID = opkPub, opkID
	} else if len(buf) != 0 {
		return domain.PeerBundle{}, fail(op, "trailing bytes after SPk entry with no OPk flag")
	}
	return out, nil
}
