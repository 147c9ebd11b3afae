package store

import (
	"context"
	"database/sql"
	"time"

	"limepq/internal/domain"
)

func (d *DB) InsertSPk(ctx context.Context, spk *domain.SignedPreKey) error {
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO signed_prekeys (user_id, algo, id, priv, pub, sig, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		spk.UserID, spk.Algo, spk.ID, spk.Priv, spk.Pub, spk.Sig, spk.Status, spk.CreatedAt)
	return storageErr("store.InsertSPk", err)
}

func (d *DB) ActiveSPk(ctx context.Context, userID int64) (*domain.SignedPreKey, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT user_id, algo, id, priv, pub, sig, status, created_at FROM signed_prekeys WHERE user_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		userID, domain.SPkActive)
	return scanSPk(row, "store.ActiveSPk")
}

func (d *DB) GetSPk(ctx context.Context, userID int64, id uint32) (*domain.SignedPreKey, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT user_id, algo, id, priv, pub, sig, status, created_at FROM signed_prekeys WHERE user_id = ? AND id = ?`,
		userID, id)
	return scanSPk(row, "store.GetSPk")
}

func scanSPk(row *sql.Row, op string) (*domain.SignedPreKey, error) {
	spk := &domain.SignedPreKey{}
	if err := row.Scan(&spk.UserID, &spk.Algo, &spk.ID, &spk.Priv, &spk.Pub, &spk.Sig, &spk.Status, &spk.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound(op, "no matching signed prekey")
		}
		return nil, storageErr(op, err)
	}
	return spk, nil
}

func (d *DB) RetireSPk(ctx context.Context, userID int64, id uint32) error {
	res, err := d.q.ExecContext(ctx,
		`UPDATE signed_prekeys SET status = ? WHERE user_id = ? AND id = ?`, domain.SPkRetired, userID, id)
	if err != nil {
		return storageErr("store.RetireSPk", err)
	}
	return requireOneRow(res, "store.RetireSPk", "signed prekey", id)
}

func (d *DB) DeleteExpiredRetiredSPks(ctx context.Context, userID int64, limboCutoff time.Time) (int, error) {
	res, err := d.q.ExecContext(ctx,
		`DELETE FROM signed_prekeys WHERE user_id = ? AND status = ? AND created_at < ?`,
		userID, domain.SPkRetired, limboCutoff)
	if err != nil {
		return 0, storageErr("store.DeleteExpiredRetiredSPks", err)
	}
	n, err := res.RowsAffected()
	return int(n), storageErr("store.DeleteExpiredRetiredSPks", err)
}

func (d *DB) InsertOPkBatch(ctx context.Context, opks []*domain.OneTimePreKey) error {
	for _, o := range opks {
		if _, err := d.q.ExecContext(ctx,
			`INSERT INTO one_time_prekeys (user_id, algo, id, priv, pub, status, dispatched_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.UserID, o.Algo, o.ID, o.Priv, o.Pub, o.Status, nullTime(o.DispatchedAt)); err != nil {
			return storageErr("store.InsertOPkBatch", err)
		}
	}
	return nil
}

func (d *DB) GetOPk(ctx context.Context, userID int64, id uint32) (*domain.OneTimePreKey, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT user_id, algo, id, priv, pub, status, dispatched_at FROM one_time_prekeys WHERE user_id = ? AND id = ?`,
		userID, id)
	o := &domain.OneTimePreKey{}
	var dispatched sql.NullTime
	if err := row.Scan(&o.UserID, &o.Algo, &o.ID, &o.Priv, &o.Pub, &o.Status, &dispatched); err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound("store.GetOPk", "no matching one-time prekey")
		}
		return nil, storageErr("store.GetOPk", err)
	}
	o.DispatchedAt = dispatched.Time
	return o, nil
}

func (d *DB) ListAvailableOPkPublics(ctx context.Context, userID int64) ([]domain.OneTimePreKey, error) {
	rows, err := d.q.QueryContext(ctx,
		`SELECT user_id, algo, id, pub, status FROM one_time_prekeys WHERE user_id = ? AND status = ?`,
		userID, domain.OPkAvailable)
	if err != nil {
		return nil, storageErr("store.ListAvailableOPkPublics", err)
	}
	defer rows.Close()
	var out []domain.OneTimePreKey
	for rows.Next() {
		var o domain.OneTimePreKey
		if err := rows.Scan(&o.UserID, &o.Algo, &o.ID, &o.Pub, &o.Status); err != nil {
			return nil, storageErr("store.ListAvailableOPkPublics", err)
		}
		out = append(out, o)
	}
	return out, storageErr("store.ListAvailableOPkPublics", rows.Err())
}

func (d *DB) CountAvailableOPks(ctx context.Context, userID int64) (int, error) {
	var n int
	err := d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM one_time_prekeys WHERE user_id = ? AND status = ?`, userID, domain.OPkAvailable).Scan(&n)
	return n, storageErr("store.CountAvailableOPks", err)
}

func (d *DB) MarkOPkDispatched(ctx context.Context, userID int64, ids []uint32) error {
	for _, id := range ids {
		res, err := d.q.ExecContext(ctx,
			`UPDATE one_time_prekeys SET status = ?, dispatched_at = CURRENT_TIMESTAMP WHERE user_id = ? AND id = ? AND status = ?`,
			domain.OPkDispatched, userID, id, domain.OPkAvailable)
		if err != nil {
			return storageErr("store.MarkOPkDispatched", err)
		}
		if _, err := res.RowsAffected(); err != nil {
			return storageErr("store.MarkOPkDispatched", err)
		}
	}
	return nil
}

// ConsumeOPk deletes the OPk immediately once consumed (spec §3: "consumed
// OPks are deleted immediately").
func (d *DB) ConsumeOPk(ctx context.Context, userID int64, id uint32) error {
	res, err := d.q.ExecContext(ctx, `DELETE FROM one_time_prekeys WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return storageErr("store.ConsumeOPk", err)
	}
	return requireOneRow(res, "store.ConsumeOPk", "one-time prekey", id)
}

func (d *DB) DeleteExpiredDispatchedOPks(ctx context.Context, userID int64, limboCutoff time.Time) (int, error) {
	res, err := d.q.ExecContext(ctx,
		`DELETE FROM one_time_prekeys WHERE user_id = ? AND status = ? AND dispatched_at < ?`,
		userID, domain.OPkDispatched, limboCutoff)
	if err != nil {
		return 0, storageErr("store.DeleteExpiredDispatchedOPks", err)
	}
	n, err := res.RowsAffected()
	return int(n), storageErr("store.DeleteExpiredDispatchedOPks", err)
}

func (d *DB) InsertKEMPreKey(ctx context.Context, k *domain.KEMPreKey) error {
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO kem_prekeys (user_id, algo, spk_id, priv, pub) VALUES (?, ?, ?, ?, ?)`,
		k.UserID, k.Algo, k.SPkID, k.Priv, k.Pub)
	return storageErr("store.InsertKEMPreKey", err)
}

func (d *DB) GetKEMPreKey(ctx context.Context, userID int64, spkID uint32) (*domain.KEMPreKey, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT user_id, algo, spk_id, priv, pub FROM kem_prekeys WHERE user_id = ? AND spk_id = ?`, userID, spkID)
	k := &domain.KEMPreKey{}
	if err := row.Scan(&k.UserID, &k.Algo, &k.SPkID, &k.Priv, &k.Pub); err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound("store.GetKEMPreKey", "no KEM prekey bound to that SPk")
		}
		return nil, storageErr("store.GetKEMPreKey", err)
	}
	return k, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
