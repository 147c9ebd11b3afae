package serverproto

import (
	"encoding/binary"

	"limepq/internal/crypto"
	"limepq/internal/domain"
	"limepq/internal/serialize"
)

// Payload layouts below are this library's own wire contract with its
// key-distribution server — spec §4.2 pins only the SPk/OPk bundle entry,
// peer bundle, DR header, and ciphertext framing; everything else here is
// this codec's to define (spec §1 non-goals: "wire framing beyond this
// library's messages").

// RegisterPayload is the body of a TypeRegisterUser request: the identity
// key, the initial SPk, and the initial OPk batch.
type RegisterPayload struct {
	Ik      []byte
	SignPub []byte
	KEMPub  []byte // present iff algo.HasKEM()
	SPk     []byte // serialize.SPkEntry
	OPks    [][]byte // serialize.OPkEntry, one per prekey
}

func (p RegisterPayload) Encode() []byte {
	out := lengthPrefixed(p.Ik)
	out = append(out, lengthPrefixed(p.SignPub)...)
	out = append(out, lengthPrefixed(p.KEMPub)...)
	out = append(out, lengthPrefixed(p.SPk)...)
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(p.OPks)))
	out = append(out, count[:]...)
	for _, o := range p.OPks {
		out = append(out, lengthPrefixed(o)...)
	}
	return out
}

func DecodeRegisterPayload(buf []byte) (RegisterPayload, error) {
	const op = "serverproto.DecodeRegisterPayload"
	var p RegisterPayload
	var err error
	if p.Ik, buf, err = takeLengthPrefixed(op, buf); err != nil {
		return RegisterPayload{}, err
	}
	if p.SignPub, buf, err = takeLengthPrefixed(op, buf); err != nil {
		return RegisterPayload{}, err
	}
	if p.KEMPub, buf, err = takeLengthPrefixed(op, buf); err != nil {
		return RegisterPayload{}, err
	}
	if p.SPk, buf, err = takeLengthPrefixed(op, buf); err != nil {
		return RegisterPayload{}, err
	}
	if len(buf) < 4 {
		return RegisterPayload{}, fail(op, "truncated OPk count")
	}
	count := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	for i := uint32(0); i < count; i++ {
		var o []byte
		if o, buf, err = takeLengthPrefixed(op, buf); err != nil {
			return RegisterPayload{}, err
		}
		p.OPks = append(p.OPks, o)
	}
	return p, nil
}

// SPkUploadPayload is the body of a TypePostSPk request.
type SPkUploadPayload struct {
	SPk []byte // serialize.SPkEntry
}

func (p SPkUploadPayload) Encode() []byte { return p.SPk }

func DecodeSPkUploadPayload(buf []byte) SPkUploadPayload { return SPkUploadPayload{SPk: buf} }

// OPkUploadPayload is the body of a TypePostOPks request.
type OPkUploadPayload struct {
	OPks [][]byte
}

func (p OPkUploadPayload) Encode() []byte {
	var out []byte
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(p.OPks)))
	out = append(out, count[:]...)
	for _, o := range p.OPks {
		out = append(out, lengthPrefixed(o)...)
	}
	return out
}

func DecodeOPkUploadPayload(buf []byte) (OPkUploadPayload, error) {
	const op = "serverproto.DecodeOPkUploadPayload"
	if len(buf) < 4 {
		return OPkUploadPayload{}, fail(op, "truncated count")
	}
	count := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	var p OPkUploadPayload
	for i := uint32(0); i < count; i++ {
		o, rest, err := takeLengthPrefixed(op, buf)
		if err != nil {
			return OPkUploadPayload{}, err
		}
		p.OPks = append(p.OPks, o)
		buf = rest
	}
	return p, nil
}

// PeerBundleRequestPayload lists the device ids a getPeerBundle request asks for.
type PeerBundleRequestPayload struct {
	DeviceIDs []string
}

func (p PeerBundleRequestPayload) Encode() []byte {
	var out []byte
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(p.DeviceIDs)))
	out = append(out, count[:]...)
	for _, id := range p.DeviceIDs {
		out = append(out, lengthPrefixed([]byte(id))...)
	}
	return out
}

func DecodePeerBundleRequestPayload(buf []byte) (PeerBundleRequestPayload, error) {
	const op = "serverproto.DecodePeerBundleRequestPayload"
	if len(buf) < 4 {
		return PeerBundleRequestPayload{}, fail(op, "truncated count")
	}
	count := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	var p PeerBundleRequestPayload
	for i := uint32(0); i < count; i++ {
		id, rest, err := takeLengthPrefixed(op, buf)
		if err != nil {
			return PeerBundleRequestPayload{}, err
		}
		p.DeviceIDs = append(p.DeviceIDs, string(id))
		buf = rest
	}
	return p, nil
}

// PeerBundleResponsePayload carries one spec §4.2 peer bundle per requested
// device id, in request order, each prefixed with its device id and
// encoded with serialize.EncodeBundle/DecodeBundle.
type PeerBundleResponsePayload struct {
	Bundles []domain.PeerBundle
}

func EncodePeerBundleResponse(suite crypto.Suite, bundles []domain.PeerBundle) []byte {
	var out []byte
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(bundles)))
	out = append(out, count[:]...)
	for _, b := range bundles {
		out = append(out, lengthPrefixed([]byte(b.DeviceID))...)
		out = append(out, lengthPrefixed(serialize.EncodeBundle(suite, suite.SigSize(), b))...)
	}
	return out
}

func DecodePeerBundleResponse(suite crypto.Suite, algo domain.AlgoID, buf []byte) ([]domain.PeerBundle, error) {
	const op = "serverproto.DecodePeerBundleResponse"
	if len(buf) < 4 {
		return nil, fail(op, "truncated count")
	}
	count := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	out := make([]domain.PeerBundle, 0, count)
	for i := uint32(0); i < count; i++ {
		idBytes, rest, err := takeLengthPrefixed(op, buf)
		if err != nil {
			return nil, err
		}
		buf = rest
		bundleBytes, rest2, err := takeLengthPrefixed(op, buf)
		if err != nil {
			return nil, err
		}
		buf = rest2
		b, err := serialize.DecodeBundle(suite, suite.SigSize(), string(idBytes), algo, bundleBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// SelfOPkCountResponsePayload is the body of a getSelfOPks response: the
// count the server still holds, and the ids it has handed out since the
// caller's last check (spec §4.5 "OPk replenishment").
type SelfOPkCountResponsePayload struct {
	Count        uint32
	DispatchedIDs []uint32
}

func (p SelfOPkCountResponsePayload) Encode() []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out[:4], p.Count)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(p.DispatchedIDs)))
	for _, id := range p.DispatchedIDs {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], id)
		out = append(out, b[:]...)
	}
	return out
}

func DecodeSelfOPkCountResponsePayload(buf []byte) (SelfOPkCountResponsePayload, error) {
	const op = "serverproto.DecodeSelfOPkCountResponsePayload"
	if len(buf) < 8 {
		return SelfOPkCountResponsePayload{}, fail(op, "truncated header")
	}
	p := SelfOPkCountResponsePayload{Count: binary.BigEndian.Uint32(buf[:4])}
	n := binary.BigEndian.Uint32(buf[4:8])
	buf = buf[8:]
	if uint32(len(buf)) != n*4 {
		return SelfOPkCountResponsePayload{}, fail(op, "dispatched-id list length mismatch")
	}
	for i := uint32(0); i < n; i++ {
		p.DispatchedIDs = append(p.DispatchedIDs, binary.BigEndian.Uint32(buf[i*4:i*4+4]))
	}
	return p, nil
}

func lengthPrefixed(b []byte) []byte {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], uint32(len(b)))
	return append(out[:], b...)
}

func takeLengthPrefixed(op string, buf []byte) (value, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fail(op, "truncated length prefix")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, nil, fail(op, "truncated length-prefixed field")
	}
	return buf[:n], buf[n:], nil
}
