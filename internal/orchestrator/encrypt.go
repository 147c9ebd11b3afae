package orchestrator

import (
	"context"
	cryptorand "crypto/rand"

	"limepq/internal/domain"
	"limepq/internal/ratchet"
	"limepq/internal/serialize"
	"limepq/internal/x3dh"
)

// Encrypt runs the Encrypt contract of spec §4.7 against ectx, updating
// every ectx.Recipients[i] in place and invoking callback exactly once with
// either nil (at least one recipient succeeded) or an error (every
// recipient failed).
//
// Encrypt always returns before callback fires: the session lookup, any
// bundle fetch, and the seal itself run on a separate goroutine so a caller
// is never blocked on the network round trip. If a call is already being
// processed for this Orchestrator, this one is queued and callback fires
// later, in FIFO order with every other queued call, once its turn comes up
// (spec §5 "outbound messages ... are delivered ... in the order the
// callers invoked encrypt").
func (o *Orchestrator) Encrypt(ctx context.Context, ectx *domain.EncryptionContext, callback func(error)) {
	o.mu.Lock()
	if o.ongoing {
		o.pending = append(o.pending, &pendingEncrypt{ctx: ctx, ectx: ectx, cb: callback})
		o.mu.Unlock()
		return
	}
	o.ongoing = true
	o.mu.Unlock()

	go o.runQueued(ctx, ectx, callback)
}

// runQueued processes one request end to end, invokes its callback, then
// drains the next queued request (if any) before releasing the ongoing
// marker (spec §4.7 step 6).
func (o *Orchestrator) runQueued(ctx context.Context, ectx *domain.EncryptionContext, callback func(error)) {
	callback(o.encryptOne(ctx, ectx))

	o.mu.Lock()
	if len(o.pending) == 0 {
		o.ongoing = false
		o.mu.Unlock()
		return
	}
	next := o.pending[0]
	o.pending = o.pending[1:]
	o.mu.Unlock()

	o.runQueued(next.ctx, next.ectx, next.cb)
}

// encryptOne resolves a session for every recipient (cache, then store,
// then a single bundle fetch for whatever is still missing), then builds
// the chosen wire framing (spec §4.7 steps 1-5).
func (o *Orchestrator) encryptOne(ctx context.Context, ectx *domain.EncryptionContext) error {
	const op = "orchestrator.Encrypt"
	algo := o.suite.Algo()

	seen := make(map[string]bool, len(ectx.Recipients))
	var needLookup []string

	o.mu.Lock()
	for _, r := range ectx.Recipients {
		if seen[r.DeviceID] {
			r.Status = domain.RecipientFail
			r.Err = domain.NewError(domain.KindInvalidArgument, op, "duplicate recipient device id", nil)
			continue
		}
		seen[r.DeviceID] = true

		sess, cached := o.cache[r.DeviceID]
		if cached && sess.Status == domain.SessionActive && !ratchet.NeedsFreshX3DH(sess, o.cfg.MaxSendingChain) {
			continue
		}
		if cached {
			delete(o.cache, r.DeviceID)
		}
		needLookup = append(needLookup, r.DeviceID)
	}
	o.mu.Unlock()

	var needFetch []string
	for _, id := range needLookup {
		sess, err := o.db.GetActiveSession(ctx, o.localUser.ID, id, algo)
		if err != nil {
			if domain.AsKind(err) == domain.KindNotFound {
				needFetch = append(needFetch, id)
				continue
			}
			o.log.Error(ctx, "session lookup failed", "peer_device_id", id, "err", err)
			markFail(ectx, id, err)
			continue
		}
		if ratchet.NeedsFreshX3DH(sess, o.cfg.MaxSendingChain) {
			if err := o.db.StaleSession(ctx, sess.ID); err != nil {
				o.log.Error(ctx, "staling exhausted session failed", "peer_device_id", id, "err", err)
				markFail(ectx, id, err)
				continue
			}
			needFetch = append(needFetch, id)
			continue
		}
		o.mu.Lock()
		o.cache[id] = sess
		o.mu.Unlock()
	}

	if len(needFetch) > 0 {
		results, err := x3dh.FetchPeerBundles(ctx, o.db, o.transport, o.suite, o.localUser, o.identity, needFetch, o.log)
		if err != nil {
			o.log.Error(ctx, "peer bundle fetch failed", "err", err)
			for _, id := range needFetch {
				markFail(ectx, id, err)
			}
		} else {
			for _, res := range results {
				if res.Err != nil {
					markFail(ectx, res.DeviceID, res.Err)
					continue
				}
				o.mu.Lock()
				o.cache[res.DeviceID] = res.Session
				o.mu.Unlock()
			}
		}
	}

	return o.buildOutputs(ctx, ectx)
}

// buildOutputs performs policy selection and seals the plaintext for every
// recipient that still has a usable session (spec §4.7 step 4-5).
func (o *Orchestrator) buildOutputs(ctx context.Context, ectx *domain.EncryptionContext) error {
	const op = "orchestrator.Encrypt"
	algo := o.suite.Algo()

	var ok []*domain.RecipientResult
	for _, r := range ectx.Recipients {
		if r.Err != nil {
			continue
		}
		o.mu.Lock()
		_, has := o.cache[r.DeviceID]
		o.mu.Unlock()
		if !has {
			o.log.Warn(ctx, "no session available for recipient", "peer_device_id", r.DeviceID)
			r.Status = domain.RecipientFail
			r.Err = domain.NewError(domain.KindNotFound, op, "no session available for recipient", nil)
			continue
		}
		ok = append(ok, r)
	}
	if len(ok) == 0 {
		return domain.NewError(domain.KindNotFound, op, "no recipient could be encrypted to", nil)
	}

	policy := effectivePolicy(ectx.Policy, o.cfg, len(ectx.Plaintext), len(ok))

	var succeeded int
	if policy == domain.PolicyDRMessage {
		for _, r := range ok {
			if o.encryptDirect(ctx, r, ectx.Plaintext) {
				r.Status = o.trustStatus(ctx, r.DeviceID, algo)
				succeeded++
			}
		}
	} else {
		n, err := o.encryptCipherMessage(ctx, ectx, ok, algo)
		if err != nil {
			return err
		}
		succeeded = n
	}

	if succeeded == 0 {
		return domain.NewError(domain.KindNotFound, op, "no recipient could be encrypted to", nil)
	}
	return nil
}

// encryptDirect seals plaintext directly under r's Double Ratchet session
// and frames it as a direct_message (spec §4.7 "DR_message"). On any
// failure it marks r failed and returns false.
func (o *Orchestrator) encryptDirect(ctx context.Context, r *domain.RecipientResult, plaintext []byte) bool {
	o.mu.Lock()
	sess := o.cache[r.DeviceID]
	o.mu.Unlock()

	header, ciphertext, err := ratchet.Encrypt(o.suite, o.cfg, sess, plaintext)
	if err != nil {
		o.log.Warn(ctx, "ratchet encrypt failed", "peer_device_id", r.DeviceID, "err", err)
		r.Status = domain.RecipientFail
		r.Err = err
		return false
	}
	if err := o.persistAndCacheActive(ctx, r.DeviceID, sess); err != nil {
		o.log.Error(ctx, "session persist failed", "peer_device_id", r.DeviceID, "err", err)
		r.Status = domain.RecipientFail
		r.Err = err
		return false
	}
	r.DRMessage = serialize.EncodeDirectMessage(o.suite, header, ciphertext)
	return true
}

// encryptCipherMessage generates a random payload key K, seals plaintext
// under K once, and wraps K for every recipient in their own DR session
// (spec §4.7 "cipher_message"). The result is a single shared blob in
// ectx.CipherMessage; per-recipient DRMessage fields are left empty since
// everything a recipient needs is inside that one blob (spec §4.7
// "optimize_global_bandwidth": one upload serves every recipient).
func (o *Orchestrator) encryptCipherMessage(ctx context.Context, ectx *domain.EncryptionContext, ok []*domain.RecipientResult, algo domain.AlgoID) (int, error) {
	const op = "orchestrator.Encrypt"

	key := make([]byte, o.suite.KeySize())
	if _, err := cryptorand.Read(key); err != nil {
		return 0, domain.NewError(domain.KindCryptoFail, op, "payload key generation failed", err)
	}
	nonce := make([]byte, o.suite.NonceSize())
	if _, err := cryptorand.Read(nonce); err != nil {
		return 0, domain.NewError(domain.KindCryptoFail, op, "nonce generation failed", err)
	}
	sealed, err := o.suite.Seal(key, nonce, []byte(ectx.RecipientUserID), ectx.Plaintext)
	if err != nil {
		return 0, domain.NewError(domain.KindCryptoFail, op, "outer seal failed", err)
	}
	outer := append(append([]byte{}, nonce...), sealed...)

	var headers []domain.RatchetHeader
	var wrappedKeys [][]byte
	for _, r := range ok {
		o.mu.Lock()
		sess := o.cache[r.DeviceID]
		o.mu.Unlock()

		header, wrappedKey, err := ratchet.Encrypt(o.suite, o.cfg, sess, key)
		if err != nil {
			o.log.Warn(ctx, "ratchet encrypt failed", "peer_device_id", r.DeviceID, "err", err)
			r.Status = domain.RecipientFail
			r.Err = err
			continue
		}
		if err := o.persistAndCacheActive(ctx, r.DeviceID, sess); err != nil {
			o.log.Error(ctx, "session persist failed", "peer_device_id", r.DeviceID, "err", err)
			r.Status = domain.RecipientFail
			r.Err = err
			continue
		}
		headers = append(headers, header)
		wrappedKeys = append(wrappedKeys, wrappedKey)
		r.Status = o.trustStatus(ctx, r.DeviceID, algo)
	}

	if len(headers) == 0 {
		return 0, nil
	}

	blob, err := serialize.EncodeCipherMessage(o.suite, headers, wrappedKeys, outer)
	if err != nil {
		return 0, err
	}
	ectx.CipherMessage = blob
	return len(headers), nil
}

// trustStatus looks up peerDeviceID's current trust for the success status
// reported back on a recipient (spec §4.7 step 5).
func (o *Orchestrator) trustStatus(ctx context.Context, peerDeviceID string, algo domain.AlgoID) domain.RecipientStatus {
	peer, err := o.db.GetPeerDevice(ctx, o.localUser.ID, peerDeviceID, algo)
	if err != nil || peer == nil {
		return domain.RecipientUnknown
	}
	return trustToRecipientStatus(peer.Trust)
}

// effectivePolicy resolves ectx's requested policy into a concrete
// DR_message/cipher_message choice (spec §4.7 step 4).
func effectivePolicy(requested domain.Policy, cfg domain.Config, plaintextLen, recipients int) domain.Policy {
	switch requested {
	case domain.PolicyDRMessage, domain.PolicyCipherMessage:
		return requested
	case domain.PolicyOptimizeGlobalBandwidth:
		if crossesOverheadThreshold(plaintextLen, recipients, cfg.CipherMessageOverhead, cfg.GlobalBandwidthCrossoverFactor) {
			return domain.PolicyCipherMessage
		}
		return domain.PolicyDRMessage
	default: // PolicyOptimizeUploadSize
		if crossesOverheadThreshold(plaintextLen, recipients, cfg.CipherMessageOverhead, 1.0) {
			return domain.PolicyCipherMessage
		}
		return domain.PolicyDRMessage
	}
}

// crossesOverheadThreshold implements the `|pt| * (recipients - 1) <
// overhead_of_cipher_message` crossover of spec §4.7, with the per-recipient
// extra cost of DR_message compared against cipher_message's fixed
// overhead scaled by factor (1.0 for optimize_upload_size;
// GlobalBandwidthCrossoverFactor for optimize_global_bandwidth, which
// additionally weighs the network-wide cost of one shared upload against
// recipients-many personalized ones).
func crossesOverheadThreshold(plaintextLen, recipients int, overhead int, factor float64) bool {
	if recipients <= 1 {
		return false
	}
	extra := float64(plaintextLen) * float64(recipients-1)
	threshold := float64(overhead) / factor
	return extra >= threshold
}
