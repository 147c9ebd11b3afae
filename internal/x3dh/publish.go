package x3dh

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"

	"limepq/internal/crypto"
	"limepq/internal/domain"
	"limepq/internal/logging"
	"limepq/internal/serialize"
	"limepq/internal/serverproto"
)

// PublishUser generates a fresh identity, an initial SPk, and an initial
// OPk batch, persists them locally, and registers the user with the
// key-distribution server (spec §4.5 "Publish user"). If deviceID already
// has a local, inactive row — a previous publish whose register request
// never got a response — the stored identity and prekeys are reused and
// only the register call is retried, rather than generating new key
// material (spec's "same device id and same Ik... retry publication"; this
// engine only ever generates the identity it already holds for a device
// id, so the "different Ik must fail" case cannot arise here).
func PublishUser(ctx context.Context, db domain.Store, transport domain.Transport, suite crypto.Suite, cfg domain.Config, deviceID string, serverURL string, log logging.Logger) (*domain.LocalUser, error) {
	const op = "x3dh.PublishUser"
	algo := suite.Algo()
	log = log.With("device_id", deviceID, "algo", algo)

	existing, err := db.GetUserByDeviceID(ctx, deviceID, algo)
	if err != nil && domain.AsKind(err) != domain.KindNotFound {
		return nil, domain.NewError(domain.KindStorageFail, op, "lookup failed", err)
	}
	if domain.AsKind(err) == domain.KindNotFound {
		existing = nil
	}
	if existing != nil && existing.Active {
		return nil, domain.NewError(domain.KindInvalidArgument, op, "device already registered", nil)
	}

	var (
		userID   int64
		identity *domain.IdentityKeyPair
		spk      *domain.SignedPreKey
		kemPre   *domain.KEMPreKey
		opks     []domain.OneTimePreKey
	)

	if existing != nil {
		userID = existing.ID
		identity, err = db.GetIdentity(ctx, userID)
		if err != nil {
			return nil, domain.NewError(domain.KindStorageFail, op, "loading identity failed", err)
		}
		spk, err = db.ActiveSPk(ctx, userID)
		if err != nil {
			return nil, domain.NewError(domain.KindStorageFail, op, "loading active SPk failed", err)
		}
		if algo.HasKEM() {
			kemPre, err = db.GetKEMPreKey(ctx, userID, spk.ID)
			if err != nil && domain.AsKind(err) != domain.KindNotFound {
				return nil, domain.NewError(domain.KindStorageFail, op, "loading KEM prekey failed", err)
			}
		}
		available, err := db.ListAvailableOPkPublics(ctx, userID)
		if err != nil {
			return nil, domain.NewError(domain.KindStorageFail, op, "loading OPks failed", err)
		}
		opks = available
	} else {
		u := &domain.LocalUser{DeviceID: deviceID, Algo: algo, ServerURL: serverURL, Active: false}

		dhPriv, dhPub, err := suite.GenerateDH()
		if err != nil {
			return nil, domain.NewError(domain.KindCryptoFail, op, "identity DH keygen failed", err)
		}
		signPriv, signPub, err := suite.GenerateSign()
		if err != nil {
			return nil, domain.NewError(domain.KindCryptoFail, op, "identity sign keygen failed", err)
		}
		id := &domain.IdentityKeyPair{Algo: algo, DHPriv: dhPriv, DHPub: dhPub, SignPriv: signPriv, SignPub: signPub}

		spkPriv, spkPub, err := suite.GenerateDH()
		if err != nil {
			return nil, domain.NewError(domain.KindCryptoFail, op, "SPk keygen failed", err)
		}
		sig, err := suite.Sign(signPriv, spkPub)
		if err != nil {
			return nil, domain.NewError(domain.KindCryptoFail, op, "SPk signing failed", err)
		}
		spkID := newPrekeyID()
		newSPk := &domain.SignedPreKey{Algo: algo, ID: spkID, Priv: spkPriv, Pub: spkPub, Sig: sig, Status: domain.SPkActive, CreatedAt: time.Now()}

		var newKEM *domain.KEMPreKey
		if algo.HasKEM() {
			kemPriv, kemPub, ok, err := suite.GenerateKEM()
			if err != nil {
				return nil, domain.NewError(domain.KindCryptoFail, op, "KEM keygen failed", err)
			}
			if ok {
				newKEM = &domain.KEMPreKey{Algo: algo, SPkID: spkID, Priv: kemPriv, Pub: kemPub}
			}
		}

		batch := cfg.InitialOPkBatchSize
		newOPks := make([]*domain.OneTimePreKey, 0, batch)
		for i := 0; i < batch; i++ {
			priv, pub, err := suite.GenerateDH()
			if err != nil {
				return nil, domain.NewError(domain.KindCryptoFail, op, "OPk keygen failed", err)
			}
			newOPks = append(newOPks, &domain.OneTimePreKey{Algo: algo, ID: newPrekeyID(), Priv: priv, Pub: pub, Status: domain.OPkAvailable})
		}

		err = db.WithTx(ctx, func(tx domain.Store) error {
			newUserID, err := tx.CreateUser(ctx, u, id)
			if err != nil {
				return err
			}
			userID = newUserID
			id.UserID = userID
			newSPk.UserID = userID
			if err := tx.InsertSPk(ctx, newSPk); err != nil {
				return err
			}
			if newKEM != nil {
				newKEM.UserID = userID
				if err := tx.InsertKEMPreKey(ctx, newKEM); err != nil {
					return err
				}
			}
			for _, o := range newOPks {
				o.UserID = userID
			}
			return tx.InsertOPkBatch(ctx, newOPks)
		})
		if err != nil {
			return nil, domain.NewError(domain.KindStorageFail, op, "persisting new user failed", err)
		}

		identity, spk, kemPre = id, newSPk, newKEM
		for _, o := range newOPks {
			opks = append(opks, *o)
		}
		existing = u
		existing.ID = userID
	}

	payload := serverproto.RegisterPayload{
		Ik:      identity.DHPub,
		SignPub: identity.SignPub,
		SPk:     serialize.SPkEntry(suite, spk.Pub, spk.Sig, spk.ID),
	}
	if kemPre != nil {
		payload.KEMPub = kemPre.Pub
	}
	for _, o := range opks {
		payload.OPks = append(payload.OPks, serialize.OPkEntry(o.Pub, o.ID))
	}

	req := serverproto.Request{Algo: algo, Type: serverproto.TypeRegisterUser, UserID: deviceID, Payload: payload.Encode()}
	code, _, postErr := postSync(ctx, transport, serverURL, deviceID, req.Encode())
	if postErr != nil {
		// spec §4.5 "If the network never answers, the user remains
		// inactive" — the local row survives for a later retry.
		log.Error(ctx, "register request failed", "err", postErr)
		return nil, domain.NewError(domain.KindServerFail, op, "register request failed", postErr)
	}
	if code != 200 {
		if err := db.DeleteUser(ctx, userID); err != nil {
			log.Error(ctx, "cleanup after failed publish failed", "err", err)
			return nil, domain.NewError(domain.KindStorageFail, op, "cleanup after failed publish failed", err)
		}
		log.Warn(ctx, "registration rejected", "code", code)
		return nil, domain.NewServerFail(op, code, "registration rejected")
	}

	if err := db.ActivateUser(ctx, userID); err != nil {
		log.Error(ctx, "activation failed", "err", err)
		return nil, domain.NewError(domain.KindStorageFail, op, "activation failed", err)
	}
	existing.Active = true
	log.Info(ctx, "user published")
	return existing, nil
}

// newPrekeyID picks a random, practically-collision-free prekey id: prekey
// ids only need to be unique per user, and the server and local store both
// key on (user, id).
func newPrekeyID() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
