// Package orchestrator implements the per-LocalUser façade of spec §4.7:
// a session cache keyed by peer device id, a mutex-guarded FIFO of pending
// encryption requests, and an in-progress marker so that one request is
// processed at a time and the queue is drained after each. It generalizes the teacher's
// internal/services/message.Service (single-peer send/receive over one
// hard-coded conversation store) into a concurrent, multi-recipient,
// multi-session-cache engine, folding in what the teacher split across
// internal/services/message and internal/services/session.
package orchestrator

import (
	"context"
	"sync"

	"limepq/internal/crypto"
	"limepq/internal/domain"
	"limepq/internal/logging"
)

// pendingEncrypt is one queued Encrypt call, held back while another
// request is already being processed (spec §4.7 step 3 "enqueue this
// request").
type pendingEncrypt struct {
	ctx  context.Context
	ectx *domain.EncryptionContext
	cb   func(error)
}

// Orchestrator owns exactly one LocalUser's session cache and pending
// queue. The Manager keeps one Orchestrator alive per active device id
// (internal/manager).
type Orchestrator struct {
	db        domain.Store
	transport domain.Transport
	suite     crypto.Suite
	cfg       domain.Config
	localUser *domain.LocalUser
	identity  *domain.IdentityKeyPair
	log       logging.Logger

	mu      sync.Mutex
	cache   map[string]*domain.DRSession // peer device id -> active session
	ongoing bool
	pending []*pendingEncrypt
}

// New constructs an Orchestrator for one LocalUser. The mutex is held only
// for cache/queue bookkeeping and is always released before any store
// write or transport round trip, per spec §5's concurrency model. log may
// be nil, in which case log calls are discarded (logging.Noop).
func New(db domain.Store, transport domain.Transport, suite crypto.Suite, cfg domain.Config, localUser *domain.LocalUser, identity *domain.IdentityKeyPair, log logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Noop{}
	}
	return &Orchestrator{
		db:        db,
		transport: transport,
		suite:     suite,
		cfg:       cfg,
		localUser: localUser,
		identity:  identity,
		log:       log.With("local_device_id", localUser.DeviceID, "algo", suite.Algo()),
		cache:     make(map[string]*domain.DRSession),
	}
}

// StaleSessions marks every active session with peerDeviceID stale and
// drops it from the cache, so the next outbound message to that peer forces
// a fresh X3DH handshake (spec §4.7 "Stale sessions explicitly").
func (o *Orchestrator) StaleSessions(ctx context.Context, peerDeviceID string) error {
	algo := o.suite.Algo()
	sessions, err := o.db.ListSessions(ctx, o.localUser.ID, peerDeviceID, algo)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.Status == domain.SessionActive {
			if err := o.db.StaleSession(ctx, s.ID); err != nil {
				return err
			}
		}
	}
	o.mu.Lock()
	delete(o.cache, peerDeviceID)
	o.mu.Unlock()
	o.log.Info(ctx, "sessions staled", "peer_device_id", peerDeviceID)
	return nil
}

// persistAndCacheActive saves s (inserting if s.ID is still zero) and
// installs it as peerDeviceID's cached active session.
func (o *Orchestrator) persistAndCacheActive(ctx context.Context, peerDeviceID string, s *domain.DRSession) error {
	id, err := o.db.SaveSession(ctx, s)
	if err != nil {
		return err
	}
	s.ID = id
	o.mu.Lock()
	o.cache[peerDeviceID] = s
	o.mu.Unlock()
	return nil
}

// trustToRecipientStatus maps a peer device's stored trust onto the
// recipient-status enum a successful Encrypt/Decrypt call reports (spec
// §4.7 step 5 "an observed trust status derived from the peer device row").
func trustToRecipientStatus(t domain.TrustState) domain.RecipientStatus {
	switch t {
	case domain.TrustUntrusted:
		return domain.RecipientUntrusted
	case domain.TrustTrusted:
		return domain.RecipientTrusted
	case domain.TrustUnsafe:
		return domain.RecipientUnsafe
	default:
		return domain.RecipientUnknown
	}
}

// markFail records err against the first not-yet-failed recipient entry
// matching deviceID, leaving any earlier duplicate-id failure untouched.
func markFail(ectx *domain.EncryptionContext, deviceID string, err error) {
	for _, r := range ectx.Recipients {
		if r.DeviceID == deviceID && r.Err == nil {
			r.Status = domain.RecipientFail
			r.Err = err
			return
		}
	}
}
