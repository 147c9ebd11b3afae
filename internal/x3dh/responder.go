package x3dh

import (
	"context"

	"limepq/internal/crypto"
	"limepq/internal/domain"
	"limepq/internal/ratchet"
)

// InitiateResponderSession builds a responder DRSession from an inbound
// X3DH-init (spec §4.5 "Initiate responder session"). It does not consume
// the one-time prekey: the caller must call db.ConsumeOPk with the returned
// opkID (zero if none was used) only after the session's first message has
// decrypted successfully — an OPk backing a session that never decrypts
// must remain available for a legitimate retry.
func InitiateResponderSession(ctx context.Context, db domain.Store, suite crypto.Suite, localUser *domain.LocalUser, identity *domain.IdentityKeyPair, senderDeviceID string, init *domain.X3DHInit) (session *domain.DRSession, opkID uint32, err error) {
	const op = "x3dh.InitiateResponderSession"
	algo := suite.Algo()

	spk, err := db.GetSPk(ctx, localUser.ID, init.SPkID)
	if err != nil {
		if domain.AsKind(err) == domain.KindNotFound {
			return nil, 0, domain.NewError(domain.KindDecryptFail, op, "referenced SPk not found", err)
		}
		return nil, 0, domain.NewError(domain.KindStorageFail, op, "SPk lookup failed", err)
	}

	var opkPriv []byte
	if init.HasOPk {
		opk, err := db.GetOPk(ctx, localUser.ID, init.OPkID)
		if err != nil {
			if domain.AsKind(err) == domain.KindNotFound {
				return nil, 0, domain.NewError(domain.KindDecryptFail, op, "referenced OPk not found", err)
			}
			return nil, 0, domain.NewError(domain.KindStorageFail, op, "OPk lookup failed", err)
		}
		if opk.Status == domain.OPkConsumed {
			return nil, 0, domain.NewError(domain.KindDecryptFail, op, "referenced OPk already consumed", nil)
		}
		opkPriv = opk.Priv
		opkID = init.OPkID
	}

	var kemPriv []byte
	if algo.HasKEM() {
		kemPre, err := db.GetKEMPreKey(ctx, localUser.ID, init.SPkID)
		if err != nil && domain.AsKind(err) != domain.KindNotFound {
			return nil, 0, domain.NewError(domain.KindStorageFail, op, "KEM prekey lookup failed", err)
		}
		if kemPre != nil {
			kemPriv = kemPre.Priv
		}
	}

	if err := db.UpsertPeerDeviceIk(ctx, localUser.ID, senderDeviceID, algo, init.Ik); err != nil {
		return nil, 0, err
	}

	secret, err := sharedSecretResponder(suite, spk.Priv, identity.DHPriv, init.Ik, init.Ephemeral, opkPriv, kemPriv, init.KEMCt)
	if err != nil {
		return nil, 0, err
	}

	state, err := ratchet.InitAsResponder(suite, secret, spk.Priv, spk.Pub)
	if err != nil {
		return nil, 0, domain.NewError(domain.KindCryptoFail, op, "ratchet init failed", err)
	}

	session = &domain.DRSession{
		LocalUserID:  localUser.ID,
		PeerDeviceID: senderDeviceID,
		Algo:         algo,
		State:        *state,
		AD:           []byte(senderDeviceID),
		Status:       domain.SessionActive,
		IsInitiator:  false,
	}
	return session, opkID, nil
}
