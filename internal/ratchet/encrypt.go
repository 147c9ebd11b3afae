package ratchet

import (
	"time"

	"limepq/internal/crypto"
	"limepq/internal/domain"
)

// Encrypt advances session's sending side by one message: performing a
// send-triggered asymmetric ratchet first if needed, then the symmetric
// chain step, then sealing plaintext under the derived message key (spec
// §4.4 "Symmetric ratchet" / "Asymmetric ratchet").
//
// It mutates session.State in place; the caller is responsible for
// persisting the session afterward (internal/store.SaveSession) inside the
// same logical operation as any store writes the orchestrator performs.
func Encrypt(suite crypto.Suite, cfg domain.Config, s *domain.DRSession, plaintext []byte) (domain.RatchetHeader, []byte, error) {
	const op = "ratchet.Encrypt"

	var kemPubOut, kemCtOut []byte
	if needsSendRatchet(s) || dueForKEMRatchet(s, cfg) {
		pub, ct, err := sendRatchetStep(suite, s)
		if err != nil {
			return domain.RatchetHeader{}, nil, err
		}
		kemPubOut, kemCtOut = pub, ct
	}

	newCK, mk, err := kdfChain(suite, s.State.SendCK)
	if err != nil {
		return domain.RatchetHeader{}, nil, domain.NewError(domain.KindCryptoFail, op, "chain advance failed", err)
	}
	s.State.SendCK = newCK

	key, nonce := splitMessageKey(suite, mk)
	ciphertext, err := suite.Seal(key, nonce, s.AD, plaintext)
	if err != nil {
		return domain.RatchetHeader{}, nil, domain.NewError(domain.KindCryptoFail, op, "seal failed", err)
	}

	h := domain.RatchetHeader{
		DHPub:  s.State.DHPub,
		KEMPub: kemPubOut,
		KEMCt:  kemCtOut,
		N:      s.State.Ns,
		PN:     s.State.PN,
		Init:   s.PendingInit,
	}

	s.State.Ns++
	if s.Algo.HasKEM() {
		s.State.KEMRatchetMsgCount++
	}
	s.LastActivity = time.Now()
	return h, ciphertext, nil
}

// sendRatchetStep generates a fresh ratchet keypair, derives the new root
// key plus both chains, and — for PQ suites — rotates this side's KEM
// keypair: it encapsulates against the peer's last-published KEM public
// key (yielding the shared secret mixed into this step's HKDF, and a
// ciphertext the peer decapsulates with the matching private key they have
// been holding since they published it) and publishes a freshly generated
// KEM public key for the peer to encapsulate against on their own next
// ratchet step (spec §4.4 "On the send side, an asymmetric ratchet ... a
// KEM encapsulation output is also fed into HKDF").
func sendRatchetStep(suite crypto.Suite, s *domain.DRSession) (kemPubOut, kemCtOut []byte, err error) {
	const op = "ratchet.sendRatchetStep"

	dhPriv, dhPub, err := suite.GenerateDH()
	if err != nil {
		return nil, nil, domain.NewError(domain.KindCryptoFail, op, "DH keygen failed", err)
	}
	dhOut, err := suite.DH(dhPriv, s.State.PeerDHPub)
	if err != nil {
		return nil, nil, domain.NewError(domain.KindCryptoFail, op, "DH failed", err)
	}

	var kemSS []byte
	if s.Algo.HasKEM() && len(s.State.PeerKEMPub) > 0 {
		ct, ss, ok, err := suite.Encaps(s.State.PeerKEMPub)
		if err != nil {
			return nil, nil, domain.NewError(domain.KindCryptoFail, op, "KEM encapsulation failed", err)
		}
		if ok {
			kemSS, kemCtOut = ss, ct
		}
	}
	if s.Algo.HasKEM() {
		priv, pub, ok, genErr := suite.GenerateKEM()
		if genErr != nil {
			return nil, nil, domain.NewError(domain.KindCryptoFail, op, "KEM keygen failed", genErr)
		}
		if ok {
			s.State.KEMPriv, s.State.KEMPub = priv, pub
			kemPubOut = pub
		}
	}

	newRK, cks, ckr, err := kdfRootBoth(suite, s.State.RootKey, dhOut, kemSS)
	if err != nil {
		return nil, nil, domain.NewError(domain.KindCryptoFail, op, "root ratchet failed", err)
	}

	s.State.RootKey = newRK
	s.State.PN = s.State.Ns
	s.State.Ns = 0
	s.State.DHPriv, s.State.DHPub = dhPriv, dhPub
	s.State.SendCK = cks
	s.State.RecvCK = ckr
	s.State.KEMRatchetMsgCount = 0
	s.State.KEMRatchetLastAt = time.Now()
	return kemPubOut, kemCtOut, nil
}
