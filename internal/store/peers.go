package store

import (
	"bytes"
	"context"
	"database/sql"

	"limepq/internal/domain"
)

func (d *DB) GetPeerDevice(ctx context.Context, localUserID int64, deviceID string, algo domain.AlgoID) (*domain.PeerDevice, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT local_user_id, device_id, algo, ik, trust, active FROM peer_devices WHERE local_user_id = ? AND device_id = ? AND algo = ?`,
		localUserID, deviceID, algo)
	return scanPeer(row)
}

func scanPeer(row *sql.Row) (*domain.PeerDevice, error) {
	p := &domain.PeerDevice{}
	var active sql.NullBool
	if err := row.Scan(&p.LocalUserID, &p.DeviceID, &p.Algo, &p.Ik, &p.Trust, &active); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // absence is not an error: callers treat it as TrustUnknown
		}
		return nil, storageErr("store.GetPeerDevice", err)
	}
	p.Active = !active.Valid || active.Bool
	return p, nil
}

// UpsertPeerDeviceIk stores or replaces a peer's pinned identity key without
// touching trust, enforcing the identity-theft guard of spec §3: a
// non-empty stored Ik may never change while trust is trusted.
func (d *DB) UpsertPeerDeviceIk(ctx context.Context, localUserID int64, deviceID string, algo domain.AlgoID, ik []byte) error {
	existing, err := d.GetPeerDevice(ctx, localUserID, deviceID, algo)
	if err != nil {
		return err
	}
	if existing != nil && len(existing.Ik) > 0 && !bytes.Equal(existing.Ik, ik) && existing.Trust == domain.TrustTrusted {
		return domain.NewError(domain.KindIdentityMismatch, "store.UpsertPeerDeviceIk",
			"stored identity key differs for a trusted device", nil)
	}
	if existing == nil {
		_, err = d.q.ExecContext(ctx,
			`INSERT INTO peer_devices (local_user_id, device_id, algo, ik, trust, curve_id, active) VALUES (?, ?, ?, ?, ?, ?, 1)`,
			localUserID, deviceID, algo, ik, domain.TrustUntrusted, algo)
		return storageErr("store.UpsertPeerDeviceIk", err)
	}
	_, err = d.q.ExecContext(ctx,
		`UPDATE peer_devices SET ik = ? WHERE local_user_id = ? AND device_id = ? AND algo = ?`,
		ik, localUserID, deviceID, algo)
	return storageErr("store.UpsertPeerDeviceIk", err)
}

// SetTrust applies the transition table of spec §4.8 and returns the
// resulting stored trust state.
func (d *DB) SetTrust(ctx context.Context, localUserID int64, deviceID string, algo domain.AlgoID, ik []byte, want domain.TrustState) (domain.TrustState, error) {
	const op = "store.SetTrust"
	if want == domain.TrustUnknown || want == domain.TrustFail {
		return domain.TrustUnknown, domain.NewError(domain.KindInvalidArgument, op, "cannot explicitly set unknown or fail", nil)
	}

	existing, err := d.GetPeerDevice(ctx, localUserID, deviceID, algo)
	if err != nil {
		return domain.TrustUnknown, err
	}

	if existing == nil {
		switch want {
		case domain.TrustUntrusted:
			return domain.TrustUnknown, nil // ignored: no Ik, no row created
		case domain.TrustTrusted:
			if len(ik) == 0 {
				return domain.TrustUnknown, domain.NewError(domain.KindInvalidArgument, op, "trusted requires an identity key", nil)
			}
			if err := d.insertPeer(ctx, localUserID, deviceID, algo, ik, domain.TrustTrusted); err != nil {
				return domain.TrustUnknown, err
			}
			return domain.TrustTrusted, nil
		case domain.TrustUnsafe:
			if err := d.insertPeer(ctx, localUserID, deviceID, algo, nil, domain.TrustUnsafe); err != nil {
				return domain.TrustUnknown, err
			}
			return domain.TrustUnsafe, nil
		}
	}

	switch existing.Trust {
	case domain.TrustUnsafe:
		if want == domain.TrustUntrusted {
			return domain.TrustUnsafe, nil // sink: stays unsafe
		}
		if want == domain.TrustTrusted {
			if len(existing.Ik) > 0 && !bytes.Equal(existing.Ik, ik) {
				return domain.TrustUnknown, domain.NewError(domain.KindIdentityMismatch, op, "identity key mismatch", nil)
			}
			if len(ik) == 0 {
				return domain.TrustUnknown, domain.NewError(domain.KindInvalidArgument, op, "trusted requires an identity key", nil)
			}
			return domain.TrustTrusted, d.updateTrust(ctx, localUserID, deviceID, algo, ik, domain.TrustTrusted)
		}
		// want == unsafe: idempotent
		return domain.TrustUnsafe, nil

	case domain.TrustTrusted:
		switch want {
		case domain.TrustUntrusted:
			return domain.TrustUntrusted, d.updateTrust(ctx, localUserID, deviceID, algo, existing.Ik, domain.TrustUntrusted)
		case domain.TrustTrusted:
			if len(ik) == 0 || !bytes.Equal(existing.Ik, ik) {
				return domain.TrustUnknown, domain.NewError(domain.KindIdentityMismatch, op, "identity key mismatch", nil)
			}
			return domain.TrustTrusted, nil
		case domain.TrustUnsafe:
			return domain.TrustUnsafe, d.updateTrust(ctx, localUserID, deviceID, algo, existing.Ik, domain.TrustUnsafe)
		}

	case domain.TrustUntrusted:
		switch want {
		case domain.TrustUntrusted:
			return domain.TrustUntrusted, nil // idempotent
		case domain.TrustTrusted:
			if len(existing.Ik) > 0 && (len(ik) == 0 || !bytes.Equal(existing.Ik, ik)) {
				return domain.TrustUnknown, domain.NewError(domain.KindIdentityMismatch, op, "identity key mismatch", nil)
			}
			newIk := existing.Ik
			if len(newIk) == 0 {
				newIk = ik
			}
			return domain.TrustTrusted, d.updateTrust(ctx, localUserID, deviceID, algo, newIk, domain.TrustTrusted)
		case domain.TrustUnsafe:
			return domain.TrustUnsafe, d.updateTrust(ctx, localUserID, deviceID, algo, existing.Ik, domain.TrustUnsafe)
		}
	}
	return domain.TrustUnknown, domain.NewError(domain.KindInvalidArgument, op, "unreachable trust transition", nil)
}

func (d *DB) insertPeer(ctx context.Context, localUserID int64, deviceID string, algo domain.AlgoID, ik []byte, trust domain.TrustState) error {
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO peer_devices (local_user_id, device_id, algo, ik, trust, curve_id, active) VALUES (?, ?, ?, ?, ?, ?, 1)`,
		localUserID, deviceID, algo, ik, trust, algo)
	return storageErr("store.SetTrust", err)
}

func (d *DB) updateTrust(ctx context.Context, localUserID int64, deviceID string, algo domain.AlgoID, ik []byte, trust domain.TrustState) error {
	_, err := d.q.ExecContext(ctx,
		`UPDATE peer_devices SET ik = ?, trust = ? WHERE local_user_id = ? AND device_id = ? AND algo = ?`,
		ik, trust, localUserID, deviceID, algo)
	return storageErr("store.SetTrust", err)
}

func (d *DB) DeletePeerDevice(ctx context.Context, localUserID int64, deviceID string, algo domain.AlgoID) error {
	_, err := d.q.ExecContext(ctx,
		`DELETE FROM peer_devices WHERE local_user_id = ? AND device_id = ? AND algo = ?`, localUserID, deviceID, algo)
	return storageErr("store.DeletePeerDevice", err)
}

func (d *DB) ListPeerDevices(ctx context.Context, localUserID int64, deviceIDs []string, algo domain.AlgoID) ([]*domain.PeerDevice, error) {
	out := make([]*domain.PeerDevice, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		p, err := d.GetPeerDevice(ctx, localUserID, id, algo)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}
