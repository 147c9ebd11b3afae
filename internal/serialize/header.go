package serialize

import (
	"encoding/binary"
	"fmt"

	"limepq/internal/crypto"
	"limepq/internal/domain"
)

// header flag bits (spec §4.2 "DR header").
const (
	flagHasInit byte = 1 << 0
	flagHasOPk  byte = 1 << 1
	flagHasKEM  byte = 1 << 2 // header carries a freshly published KEM public key
	flagHasKEMCt byte = 1 << 3 // header carries a KEM ciphertext for an ongoing ratchet step
)

// EncodeHeader lays out:
//
//	flags(1) || DHPub || [KEMPub] || [KEMCt] || N(BE32) || PN(BE32) ||
//	  [ SenderIk || Ephemeral || SPkID(BE32) || [OPkID(BE32)] || [init KEMCt] ]
//
// the bracketed segments are gated by the flags byte so a responder that
// has already completed X3DH never pays for the Init payload again.
func EncodeHeader(suite crypto.Suite, h domain.RatchetHeader) []byte {
	flags := byte(0)
	if h.Init != nil {
		flags |= flagHasInit
		if h.Init.HasOPk {
			flags |= flagHasOPk
		}
	}
	if len(h.KEMPub) > 0 {
		flags |= flagHasKEM
	}
	if len(h.KEMCt) > 0 {
		flags |= flagHasKEMCt
	}

	out := []byte{flags}
	out = append(out, h.DHPub...)
	if flags&flagHasKEM != 0 {
		out = append(out, h.KEMPub...)
	}
	if flags&flagHasKEMCt != 0 {
		out = append(out, h.KEMCt...)
	}
	var n, pn [4]byte
	binary.BigEndian.PutUint32(n[:], h.N)
	binary.BigEndian.PutUint32(pn[:], h.PN)
	out = append(out, n[:]...)
	out = append(out, pn[:]...)

	if h.Init != nil {
		out = append(out, h.Init.Ik...)
		out = append(out, h.Init.Ephemeral...)
		var spkID [4]byte
		binary.BigEndian.PutUint32(spkID[:], h.Init.SPkID)
		out = append(out, spkID[:]...)
		if h.Init.HasOPk {
			var opkID [4]byte
			binary.BigEndian.PutUint32(opkID[:], h.Init.OPkID)
			out = append(out, opkID[:]...)
		}
		if len(h.Init.KEMCt) > 0 {
			out = append(out, h.Init.KEMCt...)
		}
	}
	return out
}

// DecodeHeader is EncodeHeader's inverse. KEM ciphertexts are read with the
// suite's fixed suite.KEMCtSize(); they cannot be inferred from the buffer
// since nothing else length-prefixes them.
func DecodeHeader(suite crypto.Suite, buf []byte) (domain.RatchetHeader, []byte, error) {
	const op = "serialize.DecodeHeader"
	if len(buf) < 1 {
		return domain.RatchetHeader{}, nil, fail(op, "empty header")
	}
	flags := buf[0]
	buf = buf[1:]

	dhSize := suite.DHPubSize()
	if len(buf) < dhSize {
		return domain.RatchetHeader{}, nil, fail(op, "truncated DH public key")
	}
	dhPub := buf[:dhSize]
	buf = buf[dhSize:]

	var kemPub []byte
	if flags&flagHasKEM != 0 {
		ks := suite.KEMPubSize()
		if len(buf) < ks {
			return domain.RatchetHeader{}, nil, fail(op, "truncated KEM public key")
		}
		kemPub = buf[:ks]
		buf = buf[ks:]
	}

	var kemCt []byte
	if flags&flagHasKEMCt != 0 {
		cs := suite.KEMCtSize()
		if len(buf) < cs {
			return domain.RatchetHeader{}, nil, fail(op, "truncated KEM ciphertext")
		}
		kemCt = buf[:cs]
		buf = buf[cs:]
	}

	if len(buf) < 8 {
		return domain.RatchetHeader{}, nil, fail(op, "truncated N/PN")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	pn := binary.BigEndian.Uint32(buf[4:8])
	buf = buf[8:]

	h := domain.RatchetHeader{DHPub: dhPub, KEMPub: kemPub, KEMCt: kemCt, N: n, PN: pn}

	if flags&flagHasInit != 0 {
		if len(buf) < 2*dhSize+4 {
			return domain.RatchetHeader{}, nil, fail(op, "truncated X3DH init")
		}
		init := &domain.X3DHInit{Ik: buf[:dhSize], Ephemeral: buf[dhSize : 2*dhSize]}
		buf = buf[2*dhSize:]
		init.SPkID = binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		if flags&flagHasOPk != 0 {
			if len(buf) < 4 {
				return domain.RatchetHeader{}, nil, fail(op, "truncated OPk id")
			}
			init.HasOPk = true
			init.OPkID = binary.BigEndian.Uint32(buf[:4])
			buf = buf[4:]
		}
		if suite.Algo().HasKEM() {
			ctSize := suite.KEMCtSize()
			if len(buf) < ctSize {
				return domain.RatchetHeader{}, nil, fail(op, "truncated KEM ciphertext")
			}
			init.KEMCt = buf[:ctSize]
			buf = buf[ctSize:]
		}
		h.Init = init
	}
	return h, buf, nil
}

// --- Message framing (spec §4.2 "direct message" vs "cipher message") ---

// Framing tag bytes on the wire. They do not follow domain.Policy's values:
// they are pinned independently since domain.Policy is a local decision
// enum, not a wire contract.
const (
	wireDirectMessage byte = 0
	wireCipherMessage byte = 1
)

// EncodeDirectMessage frames a single per-recipient Double Ratchet message:
// tag(1) || header_len(BE32) || header || ciphertext — used when optimizing for
// upload size with few recipients (spec §5 "optimize_upload_size").
func EncodeDirectMessage(suite crypto.Suite, h domain.RatchetHeader, ciphertext []byte) []byte {
	hdr := EncodeHeader(suite, h)
	out := make([]byte, 0, 1+4+len(hdr)+len(ciphertext))
	out = append(out, wireDirectMessage)
	var hdrLen [4]byte
	binary.BigEndian.PutUint32(hdrLen[:], uint32(len(hdr)))
	out = append(out, hdrLen[:]...)
	out = append(out, hdr...)
	return append(out, ciphertext...)
}

// DecodeDirectMessage is EncodeDirectMessage's inverse.
func DecodeDirectMessage(suite crypto.Suite, buf []byte) (domain.RatchetHeader, []byte, error) {
	const op = "serialize.DecodeDirectMessage"
	if len(buf) < 5 || buf[0] != wireDirectMessage {
		return domain.RatchetHeader{}, nil, fail(op, "bad direct-message tag")
	}
	hdrLen := binary.BigEndian.Uint32(buf[1:5])
	buf = buf[5:]
	if uint32(len(buf)) < hdrLen {
		return domain.RatchetHeader{}, nil, fail(op, "truncated header block")
	}
	h, rest, err := DecodeHeader(suite, buf[:hdrLen])
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	if len(rest) != 0 {
		return domain.RatchetHeader{}, nil, fail(op, "trailing bytes inside header block")
	}
	return h, buf[hdrLen:], nil
}

// EncodeCipherMessage frames the "one ciphertext, many headers" layout used
// when one payload key is shared across recipients (spec §5
// "optimize_global_bandwidth"): an outer AEAD-sealed blob plus a
// recipient-count-prefixed list of per-recipient headers+wrapped keys.
func EncodeCipherMessage(suite crypto.Suite, headers []domain.RatchetHeader, wrappedKeys [][]byte, outerCiphertext []byte) ([]byte, error) {
	const op = "serialize.EncodeCipherMessage"
	if len(headers) != len(wrappedKeys) {
		return nil, fail(op, fmt.Sprintf("%d headers but %d wrapped keys", len(headers), len(wrappedKeys)))
	}
	out := []byte{wireCipherMessage}
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(headers)))
	out = append(out, count[:]...)
	for i, h := range headers {
		hdr := EncodeHeader(suite, h)
		var hdrLen, keyLen [4]byte
		binary.BigEndian.PutUint32(hdrLen[:], uint32(len(hdr)))
		binary.BigEndian.PutUint32(keyLen[:], uint32(len(wrappedKeys[i])))
		out = append(out, hdrLen[:]...)
		out = append(out, hdr...)
		out = append(out, keyLen[:]...)
		out = append(out, wrappedKeys[i]...)
	}
	var ctLen [4]byte
	binary.BigEndian.PutUint32(ctLen[:], uint32(len(outerCiphertext)))
	out = append(out, ctLen[:]...)
	return append(out, outerCiphertext...), nil
}

// DecodeCipherMessage is EncodeCipherMessage's inverse.
func DecodeCipherMessage(suite crypto.Suite, buf []byte) ([]domain.RatchetHeader, [][]byte, []byte, error) {
	const op = "serialize.DecodeCipherMessage"
	if len(buf) < 5 || buf[0] != wireCipherMessage {
		return nil, nil, nil, fail(op, "bad cipher-message tag")
	}
	count := binary.BigEndian.Uint32(buf[1:5])
	buf = buf[5:]

	headers := make([]domain.RatchetHeader, 0, count)
	keys := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(buf) < 4 {
			return nil, nil, nil, fail(op, "truncated header length")
		}
		hdrLen := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint32(len(buf)) < hdrLen {
			return nil, nil, nil, fail(op, "truncated header block")
		}
		h, rest, err := DecodeHeader(suite, buf[:hdrLen])
		if err != nil {
			return nil, nil, nil, err
		}
		if len(rest) != 0 {
			return nil, nil, nil, fail(op, "trailing bytes inside header block")
		}
		buf = buf[hdrLen:]

		if len(buf) < 4 {
			return nil, nil, nil, fail(op, "truncated key length")
		}
		keyLen := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint32(len(buf)) < keyLen {
			return nil, nil, nil, fail(op, "truncated wrapped key")
		}
		headers = append(headers, h)
		keys = append(keys, buf[:keyLen])
		buf = buf[keyLen:]
	}

	if len(buf) < 4 {
		return nil, nil, nil, fail(op, "truncated ciphertext length")
	}
	ctLen := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) != ctLen {
		return nil, nil, nil, fail(op, "ciphertext length mismatch")
	}
	return headers, keys, buf, nil
}
