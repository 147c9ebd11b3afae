package store

import (
	"context"
	"database/sql"
	"fmt"

	"limepq/internal/domain"
)

func (d *DB) CreateUser(ctx context.Context, u *domain.LocalUser, id *domain.IdentityKeyPair) (int64, error) {
	res, err := d.q.ExecContext(ctx,
		`INSERT INTO local_users (device_id, algo, server_url, active, updated_at) VALUES (?, ?, ?, ?, ?)`,
		u.DeviceID, u.Algo, u.ServerURL, u.Active, u.UpdatedAt)
	if err != nil {
		return 0, storageErr("store.CreateUser", err)
	}
	userID, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("store.CreateUser", err)
	}
	if _, err := d.q.ExecContext(ctx,
		`INSERT INTO identity_keys (user_id, algo, dh_priv, dh_pub, sign_priv, sign_pub) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, id.Algo, id.DHPriv, id.DHPub, id.SignPriv, id.SignPub); err != nil {
		return 0, storageErr("store.CreateUser", err)
	}
	return userID, nil
}

func (d *DB) GetUserByDeviceID(ctx context.Context, deviceID string, algo domain.AlgoID) (*domain.LocalUser, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT id, device_id, algo, server_url, active, updated_at FROM local_users WHERE device_id = ? AND algo = ?`,
		deviceID, algo)
	u := &domain.LocalUser{}
	var updatedAt sql.NullTime
	if err := row.Scan(&u.ID, &u.DeviceID, &u.Algo, &u.ServerURL, &u.Active, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound("store.GetUserByDeviceID", "no local user for device "+deviceID)
		}
		return nil, storageErr("store.GetUserByDeviceID", err)
	}
	u.UpdatedAt = updatedAt.Time
	return u, nil
}

func (d *DB) ActivateUser(ctx context.Context, userID int64) error {
	res, err := d.q.ExecContext(ctx, `UPDATE local_users SET active = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, userID)
	if err != nil {
		return storageErr("store.ActivateUser", err)
	}
	return requireOneRow(res, "store.ActivateUser", "local user", userID)
}

func (d *DB) DeleteUser(ctx context.Context, userID int64) error {
	res, err := d.q.ExecContext(ctx, `DELETE FROM local_users WHERE id = ?`, userID)
	if err != nil {
		return storageErr("store.DeleteUser", err)
	}
	return requireOneRow(res, "store.DeleteUser", "local user", userID)
}

func (d *DB) GetIdentity(ctx context.Context, userID int64) (*domain.IdentityKeyPair, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT user_id, algo, dh_priv, dh_pub, sign_priv, sign_pub FROM identity_keys WHERE user_id = ?`, userID)
	id := &domain.IdentityKeyPair{}
	if err := row.Scan(&id.UserID, &id.Algo, &id.DHPriv, &id.DHPub, &id.SignPriv, &id.SignPub); err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound("store.GetIdentity", "no identity key for user")
		}
		return nil, storageErr("store.GetIdentity", err)
	}
	return id, nil
}

func (d *DB) SetServerURL(ctx context.Context, userID int64, serverURL string) error {
	res, err := d.q.ExecContext(ctx, `UPDATE local_users SET server_url = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, serverURL, userID)
	if err != nil {
		return storageErr("store.SetServerURL", err)
	}
	return requireOneRow(res, "store.SetServerURL", "local user", userID)
}

func (d *DB) TouchUser(ctx context.Context, userID int64) error {
	res, err := d.q.ExecContext(ctx, `UPDATE local_users SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, userID)
	if err != nil {
		return storageErr("store.TouchUser", err)
	}
	return requireOneRow(res, "store.TouchUser", "local user", userID)
}

func requireOneRow(res sql.Result, op, what string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 0 {
		return notFound(op, fmt.Sprintf("%s %v not found", what, id))
	}
	return nil
}
