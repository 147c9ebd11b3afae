package x3dh

import (
	"context"

	"limepq/internal/crypto"
	"limepq/internal/domain"
	"limepq/internal/logging"
	"limepq/internal/ratchet"
	"limepq/internal/serverproto"
)

// PeerSessionResult is one outcome of FetchPeerBundles: either a freshly
// built initiator session, or a per-recipient failure that does not block
// the other recipients (spec §4.5 "the entire operation fails for that
// recipient").
type PeerSessionResult struct {
	DeviceID string
	Session  *domain.DRSession
	Trust    domain.TrustState
	Err      error
}

// FetchPeerBundles requests bundles for deviceIDs in one round trip and
// builds an initiator DRSession from each usable bundle (spec §4.5 "Fetch
// peer bundles"). Callers still decide what to do with each result;
// FetchPeerBundles never persists sessions — only peer-device identity
// updates, which must happen regardless of what the caller does with the
// resulting session.
func FetchPeerBundles(ctx context.Context, db domain.Store, transport domain.Transport, suite crypto.Suite, localUser *domain.LocalUser, identity *domain.IdentityKeyPair, deviceIDs []string, log logging.Logger) ([]PeerSessionResult, error) {
	const op = "x3dh.FetchPeerBundles"
	algo := suite.Algo()
	log = log.With("device_id", localUser.DeviceID, "algo", algo)

	reqPayload := serverproto.PeerBundleRequestPayload{DeviceIDs: deviceIDs}
	req := serverproto.Request{Algo: algo, Type: serverproto.TypeGetPeerBundle, UserID: localUser.DeviceID, Payload: reqPayload.Encode()}
	code, respBody, err := postSync(ctx, transport, localUser.ServerURL, localUser.DeviceID, req.Encode())
	if err != nil {
		log.Error(ctx, "peer bundle request failed", "err", err)
		return nil, domain.NewError(domain.KindServerFail, op, "peer bundle request failed", err)
	}
	if code != 200 {
		log.Error(ctx, "peer bundle request rejected", "code", code)
		return nil, domain.NewServerFail(op, code, "peer bundle request rejected")
	}

	bundles, err := serverproto.DecodePeerBundleResponse(suite, algo, respBody)
	if err != nil {
		return nil, err
	}

	byDevice := make(map[string]domain.PeerBundle, len(bundles))
	for _, b := range bundles {
		byDevice[b.DeviceID] = b
	}

	results := make([]PeerSessionResult, 0, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		bundle, ok := byDevice[deviceID]
		if !ok || bundle.Flag == domain.BundleNoBundle {
			log.Warn(ctx, "peer has no published bundle", "peer_device_id", deviceID)
			results = append(results, PeerSessionResult{DeviceID: deviceID, Err: domain.NewError(domain.KindNotFound, op, "peer has no published bundle", nil)})
			continue
		}

		if !verifySPk(suite, bundle.SignPub, bundle.SPkPub, bundle.SPkSig) {
			log.Warn(ctx, "SPk signature verification failed", "peer_device_id", deviceID)
			results = append(results, PeerSessionResult{DeviceID: deviceID, Err: domain.NewError(domain.KindCryptoFail, op, "SPk signature verification failed", nil)})
			continue
		}

		if err := db.UpsertPeerDeviceIk(ctx, localUser.ID, deviceID, algo, bundle.Ik); err != nil {
			results = append(results, PeerSessionResult{DeviceID: deviceID, Err: err})
			continue
		}

		peer, err := db.GetPeerDevice(ctx, localUser.ID, deviceID, algo)
		if err != nil {
			results = append(results, PeerSessionResult{DeviceID: deviceID, Err: domain.NewError(domain.KindStorageFail, op, "peer lookup failed", err)})
			continue
		}
		trust := domain.TrustUnknown
		if peer != nil {
			trust = peer.Trust
		}

		ekPriv, ekPub, err := suite.GenerateDH()
		if err != nil {
			results = append(results, PeerSessionResult{DeviceID: deviceID, Err: domain.NewError(domain.KindCryptoFail, op, "ephemeral keygen failed", err)})
			continue
		}

		secret, kemCt, err := sharedSecretInitiator(suite, identity.DHPriv, ekPriv, bundle.Ik, bundle.SPkPub, bundle.OPkPub, bundle.KEMPub)
		if err != nil {
			results = append(results, PeerSessionResult{DeviceID: deviceID, Err: err})
			continue
		}

		state, err := ratchet.InitAsInitiator(suite, secret, bundle.SPkPub)
		if err != nil {
			results = append(results, PeerSessionResult{DeviceID: deviceID, Err: domain.NewError(domain.KindCryptoFail, op, "ratchet init failed", err)})
			continue
		}
		if algo.HasKEM() {
			state.PeerKEMPub = bundle.KEMPub
		}

		init := &domain.X3DHInit{Ik: identity.DHPub, Ephemeral: ekPub, SPkID: bundle.SPkID, KEMCt: kemCt}
		if bundle.HasOPk() {
			init.HasOPk = true
			init.OPkID = bundle.OPkID
		}

		session := &domain.DRSession{
			LocalUserID:  localUser.ID,
			PeerDeviceID: deviceID,
			Algo:         algo,
			State:        *state,
			AD:           []byte(localUser.DeviceID),
			Status:       domain.SessionActive,
			IsInitiator:  true,
			PendingInit:  init,
		}

		results = append(results, PeerSessionResult{DeviceID: deviceID, Session: session, Trust: trust})
	}

	return results, nil
}
