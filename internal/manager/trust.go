package manager

import (
	"context"

	"limepq/internal/domain"
)

// GetSelfIdentityKey returns deviceID's public identity key for every algo
// in algos that has an active local identity (spec §6
// get_selfIdentityKey). For DH-based algos this is the DH public key.
func (m *Manager) GetSelfIdentityKey(ctx context.Context, deviceID string, algos []domain.AlgoID) (map[domain.AlgoID][]byte, error) {
	out := make(map[domain.AlgoID][]byte)
	var lastErr error
	for _, algo := range algos {
		user, err := m.db.GetUserByDeviceID(ctx, deviceID, algo)
		if err != nil {
			lastErr = err
			continue
		}
		if !user.Active {
			lastErr = domain.NewError(domain.KindNotFound, "manager.GetSelfIdentityKey", "local identity is not active", nil)
			continue
		}
		identity, err := m.db.GetIdentity(ctx, user.ID)
		if err != nil {
			lastErr = err
			continue
		}
		out[algo] = identity.DHPub
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// SetPeerDeviceStatus sets peerDeviceID's trust status under selfDeviceID's
// algo identity, verifying ik matches what is on file (spec §6
// set_peerDeviceStatus). The literal spec signature omits selfDeviceId,
// but the store scopes every peer row by (localUserID, deviceID, algo), so
// the caller's own identity must be named; see DESIGN.md.
func (m *Manager) SetPeerDeviceStatus(ctx context.Context, selfDeviceID string, algo domain.AlgoID, peerDeviceID string, ik []byte, status domain.TrustState) (domain.TrustState, error) {
	user, err := m.db.GetUserByDeviceID(ctx, selfDeviceID, algo)
	if err != nil {
		return domain.TrustUnknown, err
	}
	return m.db.SetTrust(ctx, user.ID, peerDeviceID, algo, ik, status)
}

// SetPeerDeviceStatusNoIk sets peerDeviceID's trust status without
// asserting an expected Ik, matching whatever Ik is currently on file
// (spec §6's set_peerDeviceStatus overload without Ik).
func (m *Manager) SetPeerDeviceStatusNoIk(ctx context.Context, selfDeviceID string, algo domain.AlgoID, peerDeviceID string, status domain.TrustState) (domain.TrustState, error) {
	user, err := m.db.GetUserByDeviceID(ctx, selfDeviceID, algo)
	if err != nil {
		return domain.TrustUnknown, err
	}
	peer, err := m.db.GetPeerDevice(ctx, user.ID, peerDeviceID, algo)
	if err != nil {
		return domain.TrustUnknown, err
	}
	var ik []byte
	if peer != nil {
		ik = peer.Ik
	}
	return m.db.SetTrust(ctx, user.ID, peerDeviceID, algo, ik, status)
}

// SetPeerDeviceStatusList applies status to every device id in
// peerDeviceIDs, returning the resulting trust state for each one that
// succeeded (spec §6's set_peerDeviceStatus overload over a list).
func (m *Manager) SetPeerDeviceStatusList(ctx context.Context, selfDeviceID string, algo domain.AlgoID, peerDeviceIDs []string, status domain.TrustState) (map[string]domain.TrustState, error) {
	out := make(map[string]domain.TrustState, len(peerDeviceIDs))
	var lastErr error
	for _, id := range peerDeviceIDs {
		result, err := m.SetPeerDeviceStatusNoIk(ctx, selfDeviceID, algo, id, status)
		if err != nil {
			lastErr = err
			continue
		}
		out[id] = result
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// GetPeerDeviceStatus returns peerDeviceID's trust status as known to
// selfDeviceID's algo identity (spec §6 get_peerDeviceStatus). A peer with
// no on-file record reports TrustUnknown, per PeerStore.GetPeerDevice's
// (nil, nil)-means-unknown contract.
func (m *Manager) GetPeerDeviceStatus(ctx context.Context, selfDeviceID string, algo domain.AlgoID, peerDeviceID string) (domain.TrustState, error) {
	user, err := m.db.GetUserByDeviceID(ctx, selfDeviceID, algo)
	if err != nil {
		return domain.TrustUnknown, err
	}
	peer, err := m.db.GetPeerDevice(ctx, user.ID, peerDeviceID, algo)
	if err != nil {
		return domain.TrustUnknown, err
	}
	if peer == nil {
		return domain.TrustUnknown, nil
	}
	return peer.Trust, nil
}

// GetPeerDeviceStatusList returns the trust status of every device id in
// peerDeviceIDs (spec §6's get_peerDeviceStatus list overload).
func (m *Manager) GetPeerDeviceStatusList(ctx context.Context, selfDeviceID string, algo domain.AlgoID, peerDeviceIDs []string) (map[string]domain.TrustState, error) {
	user, err := m.db.GetUserByDeviceID(ctx, selfDeviceID, algo)
	if err != nil {
		return nil, err
	}
	peers, err := m.db.ListPeerDevices(ctx, user.ID, peerDeviceIDs, algo)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.TrustState, len(peerDeviceIDs))
	for _, id := range peerDeviceIDs {
		out[id] = domain.TrustUnknown
	}
	for _, p := range peers {
		out[p.DeviceID] = p.Trust
	}
	return out, nil
}

// DeletePeerDevice removes peerDeviceID's on-file identity and trust state
// under selfDeviceID's algo identity (spec §6 delete_peerDevice).
func (m *Manager) DeletePeerDevice(ctx context.Context, selfDeviceID string, algo domain.AlgoID, peerDeviceID string) error {
	user, err := m.db.GetUserByDeviceID(ctx, selfDeviceID, algo)
	if err != nil {
		return err
	}
	return m.db.DeletePeerDevice(ctx, user.ID, peerDeviceID, algo)
}

// GetX3dhServerUrl returns the key-distribution server URL selfDeviceID's
// algo identity currently publishes to (spec §6 get_x3dhServerUrl).
func (m *Manager) GetX3dhServerUrl(ctx context.Context, selfDeviceID string, algo domain.AlgoID) (string, error) {
	user, err := m.db.GetUserByDeviceID(ctx, selfDeviceID, algo)
	if err != nil {
		return "", err
	}
	return user.ServerURL, nil
}

// SetX3dhServerUrl changes the key-distribution server URL selfDeviceID's
// algo identity publishes to (spec §6 set_x3dhServerUrl). It does not
// republish by itself — call Update (which calls x3dh.RepublishUser on a
// 404) to push the identity to the new server.
func (m *Manager) SetX3dhServerUrl(ctx context.Context, selfDeviceID string, algo domain.AlgoID, url string) error {
	user, err := m.db.GetUserByDeviceID(ctx, selfDeviceID, algo)
	if err != nil {
		return err
	}
	return m.db.SetServerURL(ctx, user.ID, url)
}
