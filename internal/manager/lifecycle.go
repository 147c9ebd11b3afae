package manager

import (
	"context"
	"time"

	"limepq/internal/crypto"
	"limepq/internal/domain"
	"limepq/internal/orchestrator"
	"limepq/internal/x3dh"
)

// CreateUser publishes a fresh identity for deviceID under every algo in
// algos (spec §6 create_user), registering an Orchestrator for each one
// that succeeds. callback is invoked once per algo is not part of the
// contract — spec §6 lists a single callback per call — so CreateUser
// reports an aggregate error only: nil if at least one algo published
// successfully, otherwise the last algo's error.
func (m *Manager) CreateUser(ctx context.Context, deviceID string, algos []domain.AlgoID, serverURL string, initialOPkBatchSize int, callback func(error)) {
	var lastErr error
	succeeded := false
	for _, algo := range algos {
		if err := m.createOne(ctx, deviceID, algo, serverURL, initialOPkBatchSize); err != nil {
			lastErr = err
			continue
		}
		succeeded = true
	}
	if succeeded {
		callback(nil)
		return
	}
	if lastErr == nil {
		lastErr = domain.NewError(domain.KindInvalidArgument, "manager.CreateUser", "no algorithm supplied", nil)
	}
	callback(lastErr)
}

func (m *Manager) createOne(ctx context.Context, deviceID string, algo domain.AlgoID, serverURL string, initialOPkBatchSize int) error {
	suite, err := crypto.ForAlgo(algo)
	if err != nil {
		return err
	}
	cfg := m.cfg
	if initialOPkBatchSize > 0 {
		cfg.InitialOPkBatchSize = initialOPkBatchSize
	}

	user, err := x3dh.PublishUser(ctx, m.db, m.transport, suite, cfg, deviceID, serverURL, m.log)
	if err != nil {
		return err
	}
	identity, err := m.db.GetIdentity(ctx, user.ID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.orchestrators[orchKey{deviceID: deviceID, algo: algo}] = orchestrator.New(m.db, m.transport, suite, m.cfg, user, identity, m.log)
	m.mu.Unlock()
	return nil
}

// DeleteUser removes deviceID's local identity for algo and drops its
// cached Orchestrator (spec §6 delete_user).
func (m *Manager) DeleteUser(ctx context.Context, deviceID string, algo domain.AlgoID) error {
	user, err := m.db.GetUserByDeviceID(ctx, deviceID, algo)
	if err != nil {
		return err
	}
	if err := m.db.DeleteUser(ctx, user.ID); err != nil {
		return err
	}
	m.dropOrchestrator(deviceID, algo)
	return nil
}

// IsUser reports whether deviceID has an active local identity under any
// algo in algos (spec §6 is_user).
func (m *Manager) IsUser(ctx context.Context, deviceID string, algos []domain.AlgoID) bool {
	for _, algo := range algos {
		user, err := m.db.GetUserByDeviceID(ctx, deviceID, algo)
		if err == nil && user.Active {
			return true
		}
	}
	return false
}

// Update runs prekey maintenance for deviceID under every algo in algos
// (spec §6 update): rotating an expired signed prekey, topping up one-time
// prekeys below opkServerLowLimit, and sweeping everything that has aged
// past its limbo window. opkServerLowLimit/opkBatchSize of 0 fall back to
// the Manager's configured defaults. callback fires once after every algo
// has been attempted, with the last error encountered (if any) — spec §6
// gives update a single callback, same as create_user.
func (m *Manager) Update(ctx context.Context, deviceID string, algos []domain.AlgoID, callback func(error), opkServerLowLimit, opkBatchSize int) {
	var lastErr error
	for _, algo := range algos {
		if err := m.updateOne(ctx, deviceID, algo, opkServerLowLimit, opkBatchSize); err != nil {
			lastErr = err
		}
	}
	callback(lastErr)
}

func (m *Manager) updateOne(ctx context.Context, deviceID string, algo domain.AlgoID, opkServerLowLimit, opkBatchSize int) error {
	suite, err := crypto.ForAlgo(algo)
	if err != nil {
		return err
	}
	user, err := m.db.GetUserByDeviceID(ctx, deviceID, algo)
	if err != nil {
		return err
	}
	identity, err := m.db.GetIdentity(ctx, user.ID)
	if err != nil {
		return err
	}

	cfg := m.cfg
	if opkServerLowLimit > 0 {
		cfg.OPkServerLowLimit = opkServerLowLimit
	}
	if opkBatchSize > 0 {
		cfg.OPkBatchSize = opkBatchSize
	}

	if err := x3dh.RotateSPkIfDue(ctx, m.db, m.transport, suite, cfg, user, identity, now(), m.log); err != nil {
		return err
	}
	if err := x3dh.ReplenishOPksIfDue(ctx, m.db, m.transport, suite, cfg, user, identity, m.log); err != nil {
		return err
	}
	return m.sweepExpired(ctx, user.ID, cfg)
}

// sweepExpired deletes everything that has outlived its limbo window
// (spec §3/§4.5: retired SPks, dispatched OPks, stale sessions, skipped
// message keys). Errors from one sweep don't block the others — each is
// independent storage hygiene, not correctness-critical.
func (m *Manager) sweepExpired(ctx context.Context, userID int64, cfg domain.Config) error {
	n := now()
	var lastErr error
	if _, err := m.db.DeleteExpiredRetiredSPks(ctx, userID, n.Add(-cfg.SPkLimbo)); err != nil {
		lastErr = err
	}
	if _, err := m.db.DeleteExpiredDispatchedOPks(ctx, userID, n.Add(-cfg.OPkLimbo)); err != nil {
		lastErr = err
	}
	if _, err := m.db.DeleteExpiredStaleSessions(ctx, n.Add(-cfg.SessionLimbo)); err != nil {
		lastErr = err
	}
	if _, err := m.db.DeleteExpiredSkippedKeys(ctx, n.Add(-cfg.MKLimbo)); err != nil {
		lastErr = err
	}
	return lastErr
}

func now() time.Time { return time.Now() }
