package manager

import (
	"context"

	"limepq/internal/domain"
)

// Encrypt delegates to the Orchestrator for the first algo in algos that
// has an active identity under selfDeviceID (spec §6 encrypt).
func (m *Manager) Encrypt(ctx context.Context, selfDeviceID string, algos []domain.AlgoID, ectx *domain.EncryptionContext, callback func(error)) {
	o, err := m.firstOrchestrator(ctx, selfDeviceID, algos)
	if err != nil {
		callback(err)
		return
	}
	o.Encrypt(ctx, ectx, callback)
}

// Decrypt delegates to the Orchestrator for the first algo in algos that
// has an active identity under selfDeviceID (spec §6 decrypt).
// recipientUserID must equal the EncryptionContext.RecipientUserID the
// sender encrypted under.
func (m *Manager) Decrypt(ctx context.Context, selfDeviceID string, algos []domain.AlgoID, recipientUserID, senderDeviceID string, drMessage, cipherMessage []byte) (*domain.DecryptedMessage, error) {
	o, err := m.firstOrchestrator(ctx, selfDeviceID, algos)
	if err != nil {
		return nil, err
	}
	return o.Decrypt(ctx, senderDeviceID, recipientUserID, drMessage, cipherMessage)
}

// StaleSessions marks every active session with peerDeviceID stale across
// the first algo in algos that has an active identity under selfDeviceID
// (spec §6 stale_sessions).
func (m *Manager) StaleSessions(ctx context.Context, selfDeviceID string, algos []domain.AlgoID, peerDeviceID string) error {
	o, err := m.firstOrchestrator(ctx, selfDeviceID, algos)
	if err != nil {
		return err
	}
	return o.StaleSessions(ctx, peerDeviceID)
}
