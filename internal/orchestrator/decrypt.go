package orchestrator

import (
	"context"

	"limepq/internal/domain"
	"limepq/internal/ratchet"
	"limepq/internal/serialize"
	"limepq/internal/x3dh"
)

// Decrypt runs the Decrypt contract of spec §4.7: try the cached session for
// senderDeviceID first, then every other stored session for that peer
// (active before stale, newest-activity first), then — if the message
// carries an X3DH-init segment — bootstrap a fresh responder session. If
// cipherMessage is non-empty it is the bundled multi-recipient framing of
// spec §4.7's cipher_message policy and drMessage is ignored; otherwise
// drMessage is a direct_message addressed to this device alone.
// recipientUserID is the user id the sender addressed the message to (spec
// §6 "decrypt(selfDeviceId, recipientUserId, ...)"); it must equal the
// EncryptionContext.RecipientUserID the sender encrypted under, since it
// doubles as the outer AEAD's associated data for cipher_message.
func (o *Orchestrator) Decrypt(ctx context.Context, senderDeviceID, recipientUserID string, drMessage, cipherMessage []byte) (*domain.DecryptedMessage, error) {
	const op = "orchestrator.Decrypt"
	algo := o.suite.Algo()

	status := o.trustStatus(ctx, senderDeviceID, algo)

	if len(cipherMessage) > 0 {
		headers, wrappedKeys, outer, err := serialize.DecodeCipherMessage(o.suite, cipherMessage)
		if err != nil {
			return nil, err
		}
		var key []byte
		for i := range headers {
			pt, err := o.tryDecryptAcrossSessions(ctx, senderDeviceID, headers[i], wrappedKeys[i])
			if err == nil {
				key = pt
				break
			}
		}
		if key == nil {
			return nil, domain.NewError(domain.KindDecryptFail, op, "no recipient entry in cipher message decrypted", nil)
		}
		if len(outer) < o.suite.NonceSize() {
			return nil, domain.NewError(domain.KindSerializationFail, op, "outer ciphertext shorter than nonce", nil)
		}
		nonce := outer[:o.suite.NonceSize()]
		sealed := outer[o.suite.NonceSize():]
		plaintext, err := o.suite.Open(key, nonce, []byte(recipientUserID), sealed)
		if err != nil {
			return nil, domain.NewError(domain.KindDecryptFail, op, "outer AEAD open failed", err)
		}
		return &domain.DecryptedMessage{Plaintext: plaintext, Status: status}, nil
	}

	header, ciphertext, err := serialize.DecodeDirectMessage(o.suite, drMessage)
	if err != nil {
		return nil, err
	}
	plaintext, err := o.tryDecryptAcrossSessions(ctx, senderDeviceID, header, ciphertext)
	if err != nil {
		return nil, err
	}
	return &domain.DecryptedMessage{Plaintext: plaintext, Status: status}, nil
}

// tryDecryptAcrossSessions implements spec §4.7 steps 2-4: cached session
// first, then every other stored session for this peer (already ordered
// active-before-stale, newest-last-activity-first by store.ListSessions),
// then — if header carries an X3DH-init — a freshly built responder
// session. A session that succeeds is promoted to active (and, if it came
// from a fresh responder build, any other active session for this peer is
// staled). No persistent state changes on overall failure.
func (o *Orchestrator) tryDecryptAcrossSessions(ctx context.Context, senderDeviceID string, header domain.RatchetHeader, ciphertext []byte) ([]byte, error) {
	const op = "orchestrator.Decrypt"
	algo := o.suite.Algo()

	o.mu.Lock()
	cached := o.cache[senderDeviceID]
	o.mu.Unlock()

	if cached != nil {
		if plaintext, err := ratchet.Decrypt(ctx, o.db, o.suite, o.cfg, cached, header, ciphertext); err == nil {
			if err := o.persistAndCacheActive(ctx, senderDeviceID, cached); err != nil {
				return nil, err
			}
			return plaintext, nil
		}
	}

	sessions, err := o.db.ListSessions(ctx, o.localUser.ID, senderDeviceID, algo)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if cached != nil && s.ID == cached.ID {
			continue
		}
		plaintext, err := ratchet.Decrypt(ctx, o.db, o.suite, o.cfg, s, header, ciphertext)
		if err != nil {
			continue
		}
		if err := o.db.StaleOtherActiveSessions(ctx, o.localUser.ID, senderDeviceID, algo, s.ID); err != nil {
			return nil, err
		}
		s.Status = domain.SessionActive
		if err := o.persistAndCacheActive(ctx, senderDeviceID, s); err != nil {
			return nil, err
		}
		return plaintext, nil
	}

	if header.Init == nil {
		o.log.Warn(ctx, "no session decrypted and no X3DH init present", "sender_device_id", senderDeviceID)
		return nil, domain.NewError(domain.KindDecryptFail, op, "no session decrypted and no X3DH init present", nil)
	}

	session, opkID, err := x3dh.InitiateResponderSession(ctx, o.db, o.suite, o.localUser, o.identity, senderDeviceID, header.Init)
	if err != nil {
		return nil, err
	}
	plaintext, err := ratchet.Decrypt(ctx, o.db, o.suite, o.cfg, session, header, ciphertext)
	if err != nil {
		return nil, err
	}
	if opkID != 0 {
		if err := o.db.ConsumeOPk(ctx, o.localUser.ID, opkID); err != nil {
			return nil, err
		}
	}
	if err := o.persistAndCacheActive(ctx, senderDeviceID, session); err != nil {
		return nil, err
	}
	if err := o.db.StaleOtherActiveSessions(ctx, o.localUser.ID, senderDeviceID, algo, session.ID); err != nil {
		return nil, err
	}
	return plaintext, nil
}
