package x3dh

import (
	"context"
	"time"

	"limepq/internal/crypto"
	"limepq/internal/domain"
	"limepq/internal/logging"
	"limepq/internal/serialize"
	"limepq/internal/serverproto"
)

// RotateSPkIfDue rotates the active SPk once it has aged past
// cfg.SPkLifetime (spec §4.5 "SPk rotation (update)"): a fresh SPk is
// generated, signed, persisted as active, and published; the prior SPk is
// retired (its cleanup is a separate sweep, see DeleteExpiredRetiredSPks).
func RotateSPkIfDue(ctx context.Context, db domain.Store, transport domain.Transport, suite crypto.Suite, cfg domain.Config, localUser *domain.LocalUser, identity *domain.IdentityKeyPair, now time.Time, log logging.Logger) error {
	const op = "x3dh.RotateSPkIfDue"
	algo := suite.Algo()
	log = log.With("device_id", localUser.DeviceID, "algo", algo)

	active, err := db.ActiveSPk(ctx, localUser.ID)
	if err != nil {
		if domain.AsKind(err) == domain.KindNotFound {
			return nil
		}
		return domain.NewError(domain.KindStorageFail, op, "loading active SPk failed", err)
	}
	if now.Sub(active.CreatedAt) < cfg.SPkLifetime {
		return nil
	}

	spkPriv, spkPub, err := suite.GenerateDH()
	if err != nil {
		return domain.NewError(domain.KindCryptoFail, op, "SPk keygen failed", err)
	}
	sig, err := suite.Sign(identity.SignPriv, spkPub)
	if err != nil {
		return domain.NewError(domain.KindCryptoFail, op, "SPk signing failed", err)
	}
	spkID := newPrekeyID()
	newSPk := &domain.SignedPreKey{UserID: localUser.ID, Algo: algo, ID: spkID, Priv: spkPriv, Pub: spkPub, Sig: sig, Status: domain.SPkActive, CreatedAt: now}

	var newKEM *domain.KEMPreKey
	if algo.HasKEM() {
		kemPriv, kemPub, ok, err := suite.GenerateKEM()
		if err != nil {
			return domain.NewError(domain.KindCryptoFail, op, "KEM keygen failed", err)
		}
		if ok {
			newKEM = &domain.KEMPreKey{UserID: localUser.ID, Algo: algo, SPkID: spkID, Priv: kemPriv, Pub: kemPub}
		}
	}

	err = db.WithTx(ctx, func(tx domain.Store) error {
		if err := tx.InsertSPk(ctx, newSPk); err != nil {
			return err
		}
		if newKEM != nil {
			if err := tx.InsertKEMPreKey(ctx, newKEM); err != nil {
				return err
			}
		}
		return tx.RetireSPk(ctx, localUser.ID, active.ID)
	})
	if err != nil {
		log.Error(ctx, "persisting rotated SPk failed", "err", err)
		return domain.NewError(domain.KindStorageFail, op, "persisting rotated SPk failed", err)
	}

	payload := serverproto.SPkUploadPayload{SPk: serialize.SPkEntry(suite, spkPub, sig, spkID)}
	req := serverproto.Request{Algo: algo, Type: serverproto.TypePostSPk, UserID: localUser.DeviceID, Payload: payload.Encode()}
	code, _, err := postSync(ctx, transport, localUser.ServerURL, localUser.DeviceID, req.Encode())
	if err != nil {
		log.Error(ctx, "SPk upload failed", "err", err)
		return domain.NewError(domain.KindServerFail, op, "SPk upload failed", err)
	}
	if code == 404 {
		log.Warn(ctx, "server has forgotten this user, republishing")
		return RepublishUser(ctx, db, transport, suite, cfg, localUser, identity, log)
	}
	if code != 200 {
		log.Error(ctx, "SPk upload rejected", "code", code)
		return domain.NewServerFail(op, code, "SPk upload rejected")
	}
	log.Info(ctx, "SPk rotated", "spk_id", spkID)
	return nil
}

// ReplenishOPksIfDue checks the server's remaining OPk count and tops it up
// when low (spec §4.5 "OPk replenishment (update)"). Keys the server
// reports it no longer holds move from available to dispatched locally;
// ReplenishOPksIfDue does not delete anything — that is
// DeleteExpiredDispatchedOPks's job, run by the same update sweep.
func ReplenishOPksIfDue(ctx context.Context, db domain.Store, transport domain.Transport, suite crypto.Suite, cfg domain.Config, localUser *domain.LocalUser, identity *domain.IdentityKeyPair, log logging.Logger) error {
	const op = "x3dh.ReplenishOPksIfDue"
	algo := suite.Algo()
	log = log.With("device_id", localUser.DeviceID, "algo", algo)

	req := serverproto.Request{Algo: algo, Type: serverproto.TypeGetSelfOPks, UserID: localUser.DeviceID}
	code, respBody, err := postSync(ctx, transport, localUser.ServerURL, localUser.DeviceID, req.Encode())
	if err != nil {
		log.Error(ctx, "OPk count request failed", "err", err)
		return domain.NewError(domain.KindServerFail, op, "OPk count request failed", err)
	}
	if code == 404 {
		log.Warn(ctx, "server has forgotten this user, republishing")
		return RepublishUser(ctx, db, transport, suite, cfg, localUser, identity, log)
	}
	if code != 200 {
		log.Error(ctx, "OPk count request rejected", "code", code)
		return domain.NewServerFail(op, code, "OPk count request rejected")
	}

	resp, err := serverproto.DecodeSelfOPkCountResponsePayload(respBody)
	if err != nil {
		return err
	}

	if len(resp.DispatchedIDs) > 0 {
		if err := db.MarkOPkDispatched(ctx, localUser.ID, resp.DispatchedIDs); err != nil {
			return domain.NewError(domain.KindStorageFail, op, "marking dispatched OPks failed", err)
		}
	}

	if int(resp.Count) >= cfg.OPkServerLowLimit {
		return nil
	}

	newOPks := make([]*domain.OneTimePreKey, 0, cfg.OPkBatchSize)
	var wirePayloads [][]byte
	for i := 0; i < cfg.OPkBatchSize; i++ {
		priv, pub, err := suite.GenerateDH()
		if err != nil {
			return domain.NewError(domain.KindCryptoFail, op, "OPk keygen failed", err)
		}
		id := newPrekeyID()
		newOPks = append(newOPks, &domain.OneTimePreKey{UserID: localUser.ID, Algo: algo, ID: id, Priv: priv, Pub: pub, Status: domain.OPkAvailable})
		wirePayloads = append(wirePayloads, serialize.OPkEntry(pub, id))
	}
	if err := db.InsertOPkBatch(ctx, newOPks); err != nil {
		return domain.NewError(domain.KindStorageFail, op, "persisting new OPks failed", err)
	}

	uploadPayload := serverproto.OPkUploadPayload{OPks: wirePayloads}
	uploadReq := serverproto.Request{Algo: algo, Type: serverproto.TypePostOPks, UserID: localUser.DeviceID, Payload: uploadPayload.Encode()}
	code, _, err = postSync(ctx, transport, localUser.ServerURL, localUser.DeviceID, uploadReq.Encode())
	if err != nil {
		log.Error(ctx, "OPk upload failed", "err", err)
		return domain.NewError(domain.KindServerFail, op, "OPk upload failed", err)
	}
	if code != 200 {
		log.Error(ctx, "OPk upload rejected", "code", code)
		return domain.NewServerFail(op, code, "OPk upload rejected")
	}
	log.Info(ctx, "OPks replenished", "count", cfg.OPkBatchSize)
	return nil
}

// RepublishUser re-registers a user the server has forgotten (spec §4.5
// "Republish on 404"): the stored Ik is reused; a fresh SPk and OPk batch
// are generated and uploaded exactly as in the initial publish. A server
// conflict (the server already holds a different Ik for this device id)
// fails the operation rather than overwriting anything locally.
func RepublishUser(ctx context.Context, db domain.Store, transport domain.Transport, suite crypto.Suite, cfg domain.Config, localUser *domain.LocalUser, identity *domain.IdentityKeyPair, log logging.Logger) error {
	const op = "x3dh.RepublishUser"
	algo := suite.Algo()

	spkPriv, spkPub, err := suite.GenerateDH()
	if err != nil {
		return domain.NewError(domain.KindCryptoFail, op, "SPk keygen failed", err)
	}
	sig, err := suite.Sign(identity.SignPriv, spkPub)
	if err != nil {
		return domain.NewError(domain.KindCryptoFail, op, "SPk signing failed", err)
	}
	spkID := newPrekeyID()
	newSPk := &domain.SignedPreKey{UserID: localUser.ID, Algo: algo, ID: spkID, Priv: spkPriv, Pub: spkPub, Sig: sig, Status: domain.SPkActive, CreatedAt: time.Now()}

	var newKEM *domain.KEMPreKey
	if algo.HasKEM() {
		kemPriv, kemPub, ok, err := suite.GenerateKEM()
		if err != nil {
			return domain.NewError(domain.KindCryptoFail, op, "KEM keygen failed", err)
		}
		if ok {
			newKEM = &domain.KEMPreKey{UserID: localUser.ID, Algo: algo, SPkID: spkID, Priv: kemPriv, Pub: kemPub}
		}
	}

	newOPks := make([]*domain.OneTimePreKey, 0, cfg.OPkBatchSize)
	var wireOPks [][]byte
	for i := 0; i < cfg.OPkBatchSize; i++ {
		priv, pub, err := suite.GenerateDH()
		if err != nil {
			return domain.NewError(domain.KindCryptoFail, op, "OPk keygen failed", err)
		}
		id := newPrekeyID()
		newOPks = append(newOPks, &domain.OneTimePreKey{UserID: localUser.ID, Algo: algo, ID: id, Priv: priv, Pub: pub, Status: domain.OPkAvailable})
		wireOPks = append(wireOPks, serialize.OPkEntry(pub, id))
	}

	if prevActive, err := db.ActiveSPk(ctx, localUser.ID); err == nil && prevActive != nil {
		_ = db.RetireSPk(ctx, localUser.ID, prevActive.ID)
	}

	err = db.WithTx(ctx, func(tx domain.Store) error {
		if err := tx.InsertSPk(ctx, newSPk); err != nil {
			return err
		}
		if newKEM != nil {
			if err := tx.InsertKEMPreKey(ctx, newKEM); err != nil {
				return err
			}
		}
		return tx.InsertOPkBatch(ctx, newOPks)
	})
	if err != nil {
		return domain.NewError(domain.KindStorageFail, op, "persisting republished prekeys failed", err)
	}

	payload := serverproto.RegisterPayload{
		Ik:      identity.DHPub,
		SignPub: identity.SignPub,
		SPk:     serialize.SPkEntry(suite, spkPub, sig, spkID),
		OPks:    wireOPks,
	}
	if newKEM != nil {
		payload.KEMPub = newKEM.Pub
	}

	req := serverproto.Request{Algo: algo, Type: serverproto.TypeRegisterUser, UserID: localUser.DeviceID, Payload: payload.Encode()}
	code, respBody, err := postSync(ctx, transport, localUser.ServerURL, localUser.DeviceID, req.Encode())
	if err != nil {
		log.Error(ctx, "republish request failed", "err", err)
		return domain.NewError(domain.KindServerFail, op, "republish request failed", err)
	}
	if code == 409 {
		errPayload, decErr := serverproto.DecodeErrorPayload(respBody)
		if decErr == nil {
			log.Error(ctx, "republish conflict", "detail", errPayload.Detail)
			return errPayload.ToError(op)
		}
		log.Error(ctx, "republish conflict", "code", code)
		return domain.NewServerFail(op, code, "server holds a conflicting identity for this device id")
	}
	if code != 200 {
		log.Error(ctx, "republish rejected", "code", code)
		return domain.NewServerFail(op, code, "republish rejected")
	}
	log.Info(ctx, "user republished")
	return nil
}
