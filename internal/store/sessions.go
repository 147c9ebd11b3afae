package store

import (
	"context"
	"database/sql"
	"time"

	"limepq/internal/domain"
)

func (d *DB) SaveSession(ctx context.Context, s *domain.DRSession) (int64, error) {
	st := s.State
	var initEph, initKEMCt any
	var initSPkID, initOPkID any
	hasOPk := false
	if s.PendingInit != nil {
		initEph = s.PendingInit.Ephemeral
		initSPkID = s.PendingInit.SPkID
		hasOPk = s.PendingInit.HasOPk
		if hasOPk {
			initOPkID = s.PendingInit.OPkID
		}
		if len(s.PendingInit.KEMCt) > 0 {
			initKEMCt = s.PendingInit.KEMCt
		}
	}

	if s.ID != 0 {
		_, err := d.q.ExecContext(ctx, `UPDATE dr_sessions SET
			root_key = ?, dh_priv = ?, dh_pub = ?, peer_dh_pub = ?,
			kem_priv = ?, kem_pub = ?, peer_kem_pub = ?,
			send_ck = ?, recv_ck = ?, ns = ?, nr = ?, pn = ?,
			kem_ratchet_msg_count = ?, kem_ratchet_last_at = ?,
			ad = ?, status = ?, is_initiator = ?,
			pending_init_ephemeral = ?, pending_init_spk_id = ?, pending_init_has_opk = ?,
			pending_init_opk_id = ?, pending_init_kem_ct = ?, last_activity = ?
			WHERE id = ?`,
			st.RootKey, st.DHPriv, st.DHPub, st.PeerDHPub,
			st.KEMPriv, st.KEMPub, st.PeerKEMPub,
			st.SendCK, st.RecvCK, st.Ns, st.Nr, st.PN,
			st.KEMRatchetMsgCount, nullTime(st.KEMRatchetLastAt),
			s.AD, s.Status, s.IsInitiator,
			initEph, initSPkID, hasOPk, initOPkID, initKEMCt, s.LastActivity,
			s.ID)
		if err != nil {
			return 0, storageErr("store.SaveSession", err)
		}
		return s.ID, nil
	}

	res, err := d.q.ExecContext(ctx, `INSERT INTO dr_sessions (
		local_user_id, peer_device_id, algo, root_key, dh_priv, dh_pub, peer_dh_pub,
		kem_priv, kem_pub, peer_kem_pub, send_ck, recv_ck, ns, nr, pn,
		kem_ratchet_msg_count, kem_ratchet_last_at, ad, status, is_initiator,
		pending_init_ephemeral, pending_init_spk_id, pending_init_has_opk,
		pending_init_opk_id, pending_init_kem_ct, last_activity
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.LocalUserID, s.PeerDeviceID, s.Algo, st.RootKey, st.DHPriv, st.DHPub, st.PeerDHPub,
		st.KEMPriv, st.KEMPub, st.PeerKEMPub, st.SendCK, st.RecvCK, st.Ns, st.Nr, st.PN,
		st.KEMRatchetMsgCount, nullTime(st.KEMRatchetLastAt), s.AD, s.Status, s.IsInitiator,
		initEph, initSPkID, hasOPk, initOPkID, initKEMCt, s.LastActivity)
	if err != nil {
		return 0, storageErr("store.SaveSession", err)
	}
	return res.LastInsertId()
}

const sessionColumns = `id, local_user_id, peer_device_id, algo, root_key, dh_priv, dh_pub, peer_dh_pub,
	kem_priv, kem_pub, peer_kem_pub, send_ck, recv_ck, ns, nr, pn,
	kem_ratchet_msg_count, kem_ratchet_last_at, ad, status, is_initiator,
	pending_init_ephemeral, pending_init_spk_id, pending_init_has_opk,
	pending_init_opk_id, pending_init_kem_ct, last_activity`

func scanSession(row *sql.Row) (*domain.DRSession, error) {
	s := &domain.DRSession{}
	var kemRatchetLastAt sql.NullTime
	var initEph, initKEMCt []byte
	var initSPkID, initOPkID sql.NullInt64
	var hasOPk bool

	err := row.Scan(&s.ID, &s.LocalUserID, &s.PeerDeviceID, &s.Algo,
		&s.State.RootKey, &s.State.DHPriv, &s.State.DHPub, &s.State.PeerDHPub,
		&s.State.KEMPriv, &s.State.KEMPub, &s.State.PeerKEMPub,
		&s.State.SendCK, &s.State.RecvCK, &s.State.Ns, &s.State.Nr, &s.State.PN,
		&s.State.KEMRatchetMsgCount, &kemRatchetLastAt,
		&s.AD, &s.Status, &s.IsInitiator,
		&initEph, &initSPkID, &hasOPk, &initOPkID, &initKEMCt, &s.LastActivity)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound("store.GetSession", "no matching session")
		}
		return nil, storageErr("store.GetSession", err)
	}
	s.State.KEMRatchetLastAt = kemRatchetLastAt.Time
	if initEph != nil {
		s.PendingInit = &domain.X3DHInit{
			Ephemeral: initEph,
			SPkID:     uint32(initSPkID.Int64),
			HasOPk:    hasOPk,
			KEMCt:     initKEMCt,
		}
		if hasOPk {
			s.PendingInit.OPkID = uint32(initOPkID.Int64)
		}
	}
	return s, nil
}

func (d *DB) GetActiveSession(ctx context.Context, localUserID int64, deviceID string, algo domain.AlgoID) (*domain.DRSession, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM dr_sessions WHERE local_user_id = ? AND peer_device_id = ? AND algo = ? AND status = ?`,
		localUserID, deviceID, algo, domain.SessionActive)
	return scanSession(row)
}

func (d *DB) GetSession(ctx context.Context, sessionID int64) (*domain.DRSession, error) {
	row := d.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM dr_sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

// ListSessions returns active sessions first, then stale, newest
// last-activity first within each group (spec §4.7 decrypt contract step 3).
func (d *DB) ListSessions(ctx context.Context, localUserID int64, deviceID string, algo domain.AlgoID) ([]*domain.DRSession, error) {
	rows, err := d.q.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM dr_sessions WHERE local_user_id = ? AND peer_device_id = ? AND algo = ?
		 ORDER BY status ASC, last_activity DESC`,
		localUserID, deviceID, algo)
	if err != nil {
		return nil, storageErr("store.ListSessions", err)
	}
	defer rows.Close()

	var out []*domain.DRSession
	for rows.Next() {
		s := &domain.DRSession{}
		var kemRatchetLastAt sql.NullTime
		var initEph, initKEMCt []byte
		var initSPkID, initOPkID sql.NullInt64
		var hasOPk bool
		if err := rows.Scan(&s.ID, &s.LocalUserID, &s.PeerDeviceID, &s.Algo,
			&s.State.RootKey, &s.State.DHPriv, &s.State.DHPub, &s.State.PeerDHPub,
			&s.State.KEMPriv, &s.State.KEMPub, &s.State.PeerKEMPub,
			&s.State.SendCK, &s.State.RecvCK, &s.State.Ns, &s.State.Nr, &s.State.PN,
			&s.State.KEMRatchetMsgCount, &kemRatchetLastAt,
			&s.AD, &s.Status, &s.IsInitiator,
			&initEph, &initSPkID, &hasOPk, &initOPkID, &initKEMCt, &s.LastActivity); err != nil {
			return nil, storageErr("store.ListSessions", err)
		}
		s.State.KEMRatchetLastAt = kemRatchetLastAt.Time
		if initEph != nil {
			s.PendingInit = &domain.X3DHInit{Ephemeral: initEph, SPkID: uint32(initSPkID.Int64), HasOPk: hasOPk, KEMCt: initKEMCt}
			if hasOPk {
				s.PendingInit.OPkID = uint32(initOPkID.Int64)
			}
		}
		out = append(out, s)
	}
	return out, storageErr("store.ListSessions", rows.Err())
}

func (d *DB) StaleSession(ctx context.Context, sessionID int64) error {
	res, err := d.q.ExecContext(ctx, `UPDATE dr_sessions SET status = ? WHERE id = ?`, domain.SessionStale, sessionID)
	if err != nil {
		return storageErr("store.StaleSession", err)
	}
	return requireOneRow(res, "store.StaleSession", "session", sessionID)
}

func (d *DB) StaleOtherActiveSessions(ctx context.Context, localUserID int64, deviceID string, algo domain.AlgoID, exceptSessionID int64) error {
	_, err := d.q.ExecContext(ctx,
		`UPDATE dr_sessions SET status = ? WHERE local_user_id = ? AND peer_device_id = ? AND algo = ? AND status = ? AND id != ?`,
		domain.SessionStale, localUserID, deviceID, algo, domain.SessionActive, exceptSessionID)
	return storageErr("store.StaleOtherActiveSessions", err)
}

func (d *DB) DeleteExpiredStaleSessions(ctx context.Context, limboCutoff time.Time) (int, error) {
	res, err := d.q.ExecContext(ctx,
		`DELETE FROM dr_sessions WHERE status = ? AND last_activity < ?`, domain.SessionStale, limboCutoff)
	if err != nil {
		return 0, storageErr("store.DeleteExpiredStaleSessions", err)
	}
	n, err := res.RowsAffected()
	return int(n), storageErr("store.DeleteExpiredStaleSessions", err)
}

func (d *DB) SaveSkippedKey(ctx context.Context, k *domain.SkippedMessageKey) error {
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO dr_skipped_message_keys (session_id, peer_ratchet, n, message_key, chain_created, inserted_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		k.SessionID, k.PeerRatchet, k.N, k.MessageKey, k.ChainCreated)
	return storageErr("store.SaveSkippedKey", err)
}

// TakeSkippedKey retrieves and deletes a skipped key in one step: a skipped
// key is single-use (spec §4.4 symmetric ratchet).
func (d *DB) TakeSkippedKey(ctx context.Context, sessionID int64, peerRatchet []byte, n uint32) ([]byte, bool, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT message_key FROM dr_skipped_message_keys WHERE session_id = ? AND peer_ratchet = ? AND n = ?`,
		sessionID, peerRatchet, n)
	var key []byte
	if err := row.Scan(&key); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, storageErr("store.TakeSkippedKey", err)
	}
	if _, err := d.q.ExecContext(ctx,
		`DELETE FROM dr_skipped_message_keys WHERE session_id = ? AND peer_ratchet = ? AND n = ?`,
		sessionID, peerRatchet, n); err != nil {
		return nil, false, storageErr("store.TakeSkippedKey", err)
	}
	return key, true, nil
}

func (d *DB) CountSkippedKeys(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dr_skipped_message_keys WHERE session_id = ?`, sessionID).Scan(&n)
	return n, storageErr("store.CountSkippedKeys", err)
}

// DeleteOldestSkippedKey evicts the single oldest skipped key for a
// session, enforcing the max_messages_after_skip cap (spec §4.4).
func (d *DB) DeleteOldestSkippedKey(ctx context.Context, sessionID int64) error {
	_, err := d.q.ExecContext(ctx,
		`DELETE FROM dr_skipped_message_keys WHERE rowid IN (
			SELECT rowid FROM dr_skipped_message_keys WHERE session_id = ? ORDER BY inserted_at ASC LIMIT 1
		)`, sessionID)
	return storageErr("store.DeleteOldestSkippedKey", err)
}

func (d *DB) DeleteExpiredSkippedKeys(ctx context.Context, limboCutoff time.Time) (int, error) {
	res, err := d.q.ExecContext(ctx,
		`DELETE FROM dr_skipped_message_keys WHERE chain_created < ?`, limboCutoff)
	if err != nil {
		return 0, storageErr("store.DeleteExpiredSkippedKeys", err)
	}
	n, err := res.RowsAffected()
	return int(n), storageErr("store.DeleteExpiredSkippedKeys", err)
}
