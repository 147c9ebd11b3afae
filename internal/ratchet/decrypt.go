package ratchet

import (
	"bytes"
	"context"
	"time"

	"limepq/internal/crypto"
	"limepq/internal/domain"
)

// Decrypt advances session's receiving side to open one inbound message.
// On any parse or AEAD failure it returns domain.KindDecryptFail without
// mutating s or the store (spec §4.4 "Failure"): every candidate state
// change and skipped key is computed against a working copy and only
// committed — to s and to db — once the AEAD open actually succeeds.
func Decrypt(ctx context.Context, db domain.Store, suite crypto.Suite, cfg domain.Config, s *domain.DRSession, h domain.RatchetHeader, ciphertext []byte) ([]byte, error) {
	const op = "ratchet.Decrypt"

	work := s.State
	var pending []domain.SkippedMessageKey

	if len(work.PeerDHPub) == 0 || !bytes.Equal(work.PeerDHPub, h.DHPub) {
		ratchetSkipped, err := receiveRatchetStep(suite, &work, h)
		if err != nil {
			return nil, err
		}
		pending = append(pending, ratchetSkipped...)
	}

	var mk []byte
	var newNr uint32
	var newRecvCK []byte

	if h.N < work.Nr {
		key, found, err := db.TakeSkippedKey(ctx, s.ID, h.DHPub, h.N)
		if err != nil {
			return nil, domain.NewError(domain.KindStorageFail, op, "skipped-key lookup failed", err)
		}
		if !found {
			return nil, domain.NewError(domain.KindDecryptFail, op, "no skipped key for out-of-order message", nil)
		}
		mk = key
		newNr, newRecvCK = work.Nr, work.RecvCK
	} else {
		ck := work.RecvCK
		if len(ck) == 0 {
			return nil, domain.NewError(domain.KindDecryptFail, op, "no receiving chain established", nil)
		}
		n := work.Nr
		for n < h.N {
			newCK, skipMK, err := kdfChain(suite, ck)
			if err != nil {
				return nil, domain.NewError(domain.KindCryptoFail, op, "chain advance failed", err)
			}
			pending = append(pending, domain.SkippedMessageKey{
				SessionID: s.ID, PeerRatchet: h.DHPub, N: n, MessageKey: skipMK, ChainCreated: time.Now(),
			})
			ck = newCK
			n++
		}
		newCK, msgMK, err := kdfChain(suite, ck)
		if err != nil {
			return nil, domain.NewError(domain.KindCryptoFail, op, "chain advance failed", err)
		}
		mk = msgMK
		newRecvCK = newCK
		newNr = n + 1
	}

	key, nonce := splitMessageKey(suite, mk)
	plaintext, err := suite.Open(key, nonce, s.AD, ciphertext)
	if err != nil {
		// A skipped key taken from the store above is already consumed: a
		// retry of the same ciphertext would fail identically, so nothing
		// is lost by not restoring it (see DESIGN.md).
		return nil, domain.NewError(domain.KindDecryptFail, op, "AEAD open failed", err)
	}

	for i := range pending {
		pending[i].SessionID = s.ID
		if err := enforceSkippedKeyCap(ctx, db, s.ID, cfg); err != nil {
			return nil, err
		}
		if err := db.SaveSkippedKey(ctx, &pending[i]); err != nil {
			return nil, domain.NewError(domain.KindStorageFail, op, "persisting skipped key failed", err)
		}
	}

	work.Nr = newNr
	work.RecvCK = newRecvCK
	s.State = work
	s.PendingInit = nil
	s.LastActivity = time.Now()
	return plaintext, nil
}

// receiveRatchetStep finalizes the old receiving chain (returning its
// skipped keys up to the header's PN for the caller to persist only on
// overall success) and derives the new root key plus both chains from the
// new DH (and optional KEM) output (spec §4.4 "Asymmetric ratchet ...
// triggered on the receive side").
func receiveRatchetStep(suite crypto.Suite, work *domain.RatchetState, h domain.RatchetHeader) ([]domain.SkippedMessageKey, error) {
	const op = "ratchet.receiveRatchetStep"

	var skipped []domain.SkippedMessageKey
	if len(work.RecvCK) > 0 {
		ck := work.RecvCK
		for n := work.Nr; n < h.PN; n++ {
			newCK, mk, err := kdfChain(suite, ck)
			if err != nil {
				return nil, domain.NewError(domain.KindCryptoFail, op, "chain advance failed", err)
			}
			skipped = append(skipped, domain.SkippedMessageKey{
				PeerRatchet: work.PeerDHPub, N: n, MessageKey: mk, ChainCreated: time.Now(),
			})
			ck = newCK
		}
	}

	dhOut, err := suite.DH(work.DHPriv, h.DHPub)
	if err != nil {
		return nil, domain.NewError(domain.KindCryptoFail, op, "DH failed", err)
	}

	var kemSS []byte
	if len(h.KEMCt) > 0 && len(work.KEMPriv) > 0 {
		ss, ok, err := suite.Decaps(work.KEMPriv, h.KEMCt)
		if err != nil {
			return nil, domain.NewError(domain.KindCryptoFail, op, "KEM decapsulation failed", err)
		}
		if ok {
			kemSS = ss
		}
	}

	newRK, cks, ckr, err := kdfRootBoth(suite, work.RootKey, dhOut, kemSS)
	if err != nil {
		return nil, domain.NewError(domain.KindCryptoFail, op, "root ratchet failed", err)
	}

	work.RootKey = newRK
	work.PeerDHPub = h.DHPub
	if len(h.KEMPub) > 0 {
		work.PeerKEMPub = h.KEMPub
	}
	work.SendCK = cks
	work.RecvCK = ckr
	work.Nr = 0
	return skipped, nil
}

// enforceSkippedKeyCap evicts the oldest skipped key for a session when
// inserting one more would exceed max_messages_after_skip (spec §4.4
// "Skipped-key limits").
func enforceSkippedKeyCap(ctx context.Context, db domain.Store, sessionID int64, cfg domain.Config) error {
	n, err := db.CountSkippedKeys(ctx, sessionID)
	if err != nil {
		return domain.NewError(domain.KindStorageFail, "ratchet.enforceSkippedKeyCap", "count failed", err)
	}
	if n < cfg.MaxMessagesAfterSkip {
		return nil
	}
	if err := db.DeleteOldestSkippedKey(ctx, sessionID); err != nil {
		return domain.NewError(domain.KindStorageFail, "ratchet.enforceSkippedKeyCap", "eviction failed", err)
	}
	return nil
}
