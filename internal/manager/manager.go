// Package manager implements the Manager-facing API of spec §6: a
// process-wide registry of internal/orchestrator instances, one per
// (device id, algorithm) local identity, plus the create/delete/update
// lifecycle and peer-trust operations the orchestrator itself does not own.
// It is the generalization of the teacher's internal/app.App — a single
// wiring point the CLI (cmd/limectl here, cmd/ciphera there) talks to —
// extended from one hard-coded identity to a registry keyed by every
// (deviceId, algo) pair a caller has published.
package manager

import (
	"context"
	"sync"

	"limepq/internal/crypto"
	"limepq/internal/domain"
	"limepq/internal/logging"
	"limepq/internal/orchestrator"
)

type orchKey struct {
	deviceID string
	algo     domain.AlgoID
}

// Manager owns the device-id/algo -> Orchestrator registry (spec §5: guarded
// by sync.RWMutex, lookups under RLock, inserts/removes under Lock) plus the
// store and transport every orchestrator it creates shares.
type Manager struct {
	db        domain.Store
	transport domain.Transport
	cfg       domain.Config
	log       logging.Logger

	mu            sync.RWMutex
	orchestrators map[orchKey]*orchestrator.Orchestrator
}

// New constructs a Manager. log may be nil, in which case log calls are
// discarded (logging.Noop).
func New(db domain.Store, transport domain.Transport, cfg domain.Config, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Noop{}
	}
	return &Manager{
		db:            db,
		transport:     transport,
		cfg:           cfg,
		log:           log,
		orchestrators: make(map[orchKey]*orchestrator.Orchestrator),
	}
}

// orchestratorFor returns the cached Orchestrator for (deviceID, algo),
// building and registering one the first time an active local identity for
// that pair is found. It returns (nil, KindNotFound) if no active identity
// exists — callers fall back to the next algo in a caller-supplied
// preference list (see Encrypt/Decrypt/StaleSessions).
func (m *Manager) orchestratorFor(ctx context.Context, deviceID string, algo domain.AlgoID) (*orchestrator.Orchestrator, error) {
	key := orchKey{deviceID: deviceID, algo: algo}

	m.mu.RLock()
	o, ok := m.orchestrators[key]
	m.mu.RUnlock()
	if ok {
		return o, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orchestrators[key]; ok {
		return o, nil
	}

	user, err := m.db.GetUserByDeviceID(ctx, deviceID, algo)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, domain.NewError(domain.KindNotFound, "manager.orchestratorFor", "local identity is not active", nil)
	}
	identity, err := m.db.GetIdentity(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	suite, err := crypto.ForAlgo(algo)
	if err != nil {
		return nil, err
	}

	o = orchestrator.New(m.db, m.transport, suite, m.cfg, user, identity, m.log)
	m.orchestrators[key] = o
	return o, nil
}

// firstOrchestrator returns the Orchestrator for the first algo in algos
// that has an active local identity under deviceID, in list order (spec §6
// lists `algos` as a preference-ordered set of identities a call may use;
// see DESIGN.md for the full reasoning).
func (m *Manager) firstOrchestrator(ctx context.Context, deviceID string, algos []domain.AlgoID) (*orchestrator.Orchestrator, error) {
	const op = "manager.firstOrchestrator"
	var lastErr error
	for _, algo := range algos {
		o, err := m.orchestratorFor(ctx, deviceID, algo)
		if err == nil {
			return o, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, domain.NewError(domain.KindInvalidArgument, op, "no algorithm supplied", nil)
}

// dropOrchestrator removes deviceID's cached Orchestrator for algo, used by
// DeleteUser so a deleted identity's stale state can't linger in the
// registry.
func (m *Manager) dropOrchestrator(deviceID string, algo domain.AlgoID) {
	m.mu.Lock()
	delete(m.orchestrators, orchKey{deviceID: deviceID, algo: algo})
	m.mu.Unlock()
}
