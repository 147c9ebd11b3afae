// Package x3dh implements the X3DH key-agreement engine (spec §4.5):
// publishing a user's prekey material to the key-distribution server,
// fetching peer bundles and building initiator sessions from them,
// building a responder session from an inbound X3DH-init, and the prekey
// lifecycle (SPk rotation, OPk replenishment, republish-on-404). It
// generalizes the teacher's internal/protocol/x3dh/x3dh.go (a single
// InitiatorRootKey function over hard-coded X25519) into a crypto.Suite
// dispatched engine that also owns the server round trips the teacher left
// to internal/services/prekey.
package x3dh

import (
	"bytes"
	"context"

	"limepq/internal/crypto"
	"limepq/internal/domain"
)

var x3dhInfo = []byte("limepq-x3dh")

// sharedSecretInitiator derives the X3DH shared secret for the side that
// sends the first message (spec §4.5 "Fetch peer bundles"): DH(Ik, SPk) ||
// DH(Ek, Ik) || DH(Ek, SPk) [|| DH(Ek, OPk)] [|| KEM-encaps(peer SPk KEM
// pub)], generalizing the teacher's InitiatorRootKey to variable-length
// keys and an optional KEM term.
func sharedSecretInitiator(suite crypto.Suite, ikPriv, ekPriv []byte, peerIk, peerSPk []byte, peerOPk []byte, peerKEMPub []byte) (secret, kemCt []byte, err error) {
	const op = "x3dh.sharedSecretInitiator"

	dh1, err := suite.DH(ikPriv, peerSPk)
	if err != nil {
		return nil, nil, domain.NewError(domain.KindCryptoFail, op, "DH(Ik, peerSPk) failed", err)
	}
	dh2, err := suite.DH(ekPriv, peerIk)
	if err != nil {
		return nil, nil, domain.NewError(domain.KindCryptoFail, op, "DH(Ek, peerIk) failed", err)
	}
	dh3, err := suite.DH(ekPriv, peerSPk)
	if err != nil {
		return nil, nil, domain.NewError(domain.KindCryptoFail, op, "DH(Ek, peerSPk) failed", err)
	}

	ikm := append(append(append([]byte{}, dh1...), dh2...), dh3...)

	if len(peerOPk) > 0 {
		dh4, err := suite.DH(ekPriv, peerOPk)
		if err != nil {
			return nil, nil, domain.NewError(domain.KindCryptoFail, op, "DH(Ek, peerOPk) failed", err)
		}
		ikm = append(ikm, dh4...)
	}

	if suite.Algo().HasKEM() && len(peerKEMPub) > 0 {
		ct, ss, ok, err := suite.Encaps(peerKEMPub)
		if err != nil {
			return nil, nil, domain.NewError(domain.KindCryptoFail, op, "KEM encapsulation failed", err)
		}
		if ok {
			ikm = append(ikm, ss...)
			kemCt = ct
		}
	}

	secret, err = suite.HKDF(nil, ikm, x3dhInfo, suite.KeySize())
	if err != nil {
		return nil, nil, domain.NewError(domain.KindCryptoFail, op, "HKDF failed", err)
	}
	return secret, kemCt, nil
}

// sharedSecretResponder derives the same shared secret from the responder's
// side (spec §4.5 "Initiate responder session"): the DH operands are
// swapped but, by the commutativity of Diffie-Hellman, each term matches
// the initiator's corresponding term exactly.
func sharedSecretResponder(suite crypto.Suite, spkPriv, ikPriv []byte, peerIk, peerEk []byte, opkPriv []byte, kemPriv, kemCt []byte) (secret []byte, err error) {
	const op = "x3dh.sharedSecretResponder"

	dh1, err := suite.DH(spkPriv, peerIk)
	if err != nil {
		return nil, domain.NewError(domain.KindCryptoFail, op, "DH(SPk, peerIk) failed", err)
	}
	dh2, err := suite.DH(ikPriv, peerEk)
	if err != nil {
		return nil, domain.NewError(domain.KindCryptoFail, op, "DH(Ik, peerEk) failed", err)
	}
	dh3, err := suite.DH(spkPriv, peerEk)
	if err != nil {
		return nil, domain.NewError(domain.KindCryptoFail, op, "DH(SPk, peerEk) failed", err)
	}

	ikm := append(append(append([]byte{}, dh1...), dh2...), dh3...)

	if len(opkPriv) > 0 {
		dh4, err := suite.DH(opkPriv, peerEk)
		if err != nil {
			return nil, domain.NewError(domain.KindCryptoFail, op, "DH(OPk, peerEk) failed", err)
		}
		ikm = append(ikm, dh4...)
	}

	if suite.Algo().HasKEM() && len(kemCt) > 0 && len(kemPriv) > 0 {
		ss, ok, err := suite.Decaps(kemPriv, kemCt)
		if err != nil {
			return nil, domain.NewError(domain.KindCryptoFail, op, "KEM decapsulation failed", err)
		}
		if ok {
			ikm = append(ikm, ss...)
		}
	}

	secret, err = suite.HKDF(nil, ikm, x3dhInfo, suite.KeySize())
	if err != nil {
		return nil, domain.NewError(domain.KindCryptoFail, op, "HKDF failed", err)
	}
	return secret, nil
}

func verifySPk(suite crypto.Suite, signPub, spkPub, sig []byte) bool {
	return suite.Verify(signPub, spkPub, sig)
}

// postSync wraps a domain.Transport's callback-based Post in a synchronous
// call: the engine never leaves a request in flight from its own
// perspective, even though the transport's callback contract (spec §5)
// allows any invocation order or goroutine.
func postSync(ctx context.Context, t domain.Transport, url, from string, body []byte) (code int, respBody []byte, err error) {
	done := make(chan struct{})
	t.Post(ctx, url, from, body, func(c int, b []byte, e error) {
		code, respBody, err = c, b, e
		close(done)
	})
	<-done
	return code, respBody, err
}

func bytesEqual(a, b []byte) bool { return bytes.Equal(a, b) }
