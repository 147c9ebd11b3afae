package store

import (
	"database/sql"
	"fmt"
)

// Schema versions are pinned by spec §4.3 and must never be renumbered —
// on-disk databases from earlier builds already contain rows stamped with
// these exact values.
const (
	versionInitial        = 0x000001
	versionUsersUpdatedAt = 0x000100
	versionSessionPeerKey = 0x000200
	versionPeerCurveActive = 0x000300
)

type migration struct {
	version int
	up      func(*sql.Tx) error
}

var migrations = []migration{
	{versionInitial, migrateInitial},
	{versionUsersUpdatedAt, migrateUsersUpdatedAt},
	{versionSessionPeerKey, migrateSessionPeerKey},
	{versionPeerCurveActive, migratePeerCurveActive},
}

// runMigrations brings conn up to the highest pinned version, running each
// step in its own transaction (spec §4.3 "executed on database open under a
// single transaction per step").
func runMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS db_module_version (version INTEGER NOT NULL)`); err != nil {
		return storageErr("store.runMigrations", err)
	}

	current, err := currentVersion(conn)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := conn.Begin()
		if err != nil {
			return storageErr("store.runMigrations", err)
		}
		if err := m.up(tx); err != nil {
			tx.Rollback()
			return storageErr("store.runMigrations", fmt.Errorf("migrating to 0x%06x: %w", m.version, err))
		}
		if _, err := tx.Exec(`DELETE FROM db_module_version`); err != nil {
			tx.Rollback()
			return storageErr("store.runMigrations", err)
		}
		if _, err := tx.Exec(`INSERT INTO db_module_version(version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return storageErr("store.runMigrations", err)
		}
		if err := tx.Commit(); err != nil {
			return storageErr("store.runMigrations", err)
		}
		current = m.version
	}
	return nil
}

func currentVersion(conn *sql.DB) (int, error) {
	var v sql.NullInt64
	err := conn.QueryRow(`SELECT version FROM db_module_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("store.currentVersion", err)
	}
	return int(v.Int64), nil
}

// migrateInitial creates the base schema: one table per entity, foreign
// keys cascading on delete (spec §4.3 "Schema").
func migrateInitial(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE local_users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			algo INTEGER NOT NULL,
			server_url TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 0,
			UNIQUE(device_id, algo)
		)`,
		`CREATE TABLE identity_keys (
			user_id INTEGER NOT NULL REFERENCES local_users(id) ON DELETE CASCADE,
			algo INTEGER NOT NULL,
			dh_priv BLOB NOT NULL,
			dh_pub BLOB NOT NULL,
			sign_priv BLOB NOT NULL,
			sign_pub BLOB NOT NULL,
			PRIMARY KEY (user_id)
		)`,
		`CREATE TABLE signed_prekeys (
			user_id INTEGER NOT NULL REFERENCES local_users(id) ON DELETE CASCADE,
			algo INTEGER NOT NULL,
			id INTEGER NOT NULL,
			priv BLOB NOT NULL,
			pub BLOB NOT NULL,
			sig BLOB NOT NULL,
			status INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, id)
		)`,
		`CREATE TABLE one_time_prekeys (
			user_id INTEGER NOT NULL REFERENCES local_users(id) ON DELETE CASCADE,
			algo INTEGER NOT NULL,
			id INTEGER NOT NULL,
			priv BLOB NOT NULL,
			pub BLOB NOT NULL,
			status INTEGER NOT NULL,
			dispatched_at TIMESTAMP,
			PRIMARY KEY (user_id, id)
		)`,
		`CREATE TABLE kem_prekeys (
			user_id INTEGER NOT NULL REFERENCES local_users(id) ON DELETE CASCADE,
			algo INTEGER NOT NULL,
			spk_id INTEGER NOT NULL,
			priv BLOB NOT NULL,
			pub BLOB NOT NULL,
			PRIMARY KEY (user_id, spk_id)
		)`,
		`CREATE TABLE peer_devices (
			local_user_id INTEGER NOT NULL REFERENCES local_users(id) ON DELETE CASCADE,
			device_id TEXT NOT NULL,
			algo INTEGER NOT NULL,
			ik BLOB NOT NULL DEFAULT '',
			trust INTEGER NOT NULL,
			PRIMARY KEY (local_user_id, device_id, algo)
		)`,
		`CREATE TABLE dr_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			local_user_id INTEGER NOT NULL REFERENCES local_users(id) ON DELETE CASCADE,
			peer_device_id TEXT NOT NULL,
			algo INTEGER NOT NULL,
			root_key BLOB NOT NULL,
			dh_priv BLOB NOT NULL,
			dh_pub BLOB NOT NULL,
			peer_dh_pub BLOB NOT NULL DEFAULT '',
			kem_priv BLOB NOT NULL DEFAULT '',
			kem_pub BLOB NOT NULL DEFAULT '',
			peer_kem_pub BLOB NOT NULL DEFAULT '',
			send_ck BLOB NOT NULL DEFAULT '',
			recv_ck BLOB NOT NULL DEFAULT '',
			ns INTEGER NOT NULL DEFAULT 0,
			nr INTEGER NOT NULL DEFAULT 0,
			pn INTEGER NOT NULL DEFAULT 0,
			kem_ratchet_msg_count INTEGER NOT NULL DEFAULT 0,
			kem_ratchet_last_at TIMESTAMP,
			ad BLOB NOT NULL DEFAULT '',
			status INTEGER NOT NULL,
			is_initiator INTEGER NOT NULL,
			pending_init_ephemeral BLOB,
			pending_init_spk_id INTEGER,
			pending_init_has_opk INTEGER NOT NULL DEFAULT 0,
			pending_init_opk_id INTEGER,
			pending_init_kem_ct BLOB,
			last_activity TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX idx_dr_sessions_peer ON dr_sessions(local_user_id, peer_device_id, algo, status)`,
		`CREATE TABLE dr_skipped_message_keys (
			session_id INTEGER NOT NULL REFERENCES dr_sessions(id) ON DELETE CASCADE,
			peer_ratchet BLOB NOT NULL,
			n INTEGER NOT NULL,
			message_key BLOB NOT NULL,
			chain_created TIMESTAMP NOT NULL,
			inserted_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, peer_ratchet, n)
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// migrateUsersUpdatedAt is version 0x000100: adds an update timestamp to
// users (spec §4.3).
func migrateUsersUpdatedAt(tx *sql.Tx) error {
	_, err := tx.Exec(`ALTER TABLE local_users ADD COLUMN updated_at TIMESTAMP`)
	return err
}

// migrateSessionPeerKey is version 0x000200: adds a peer-ratchet-key-status
// column on DR sessions (spec §4.3).
func migrateSessionPeerKey(tx *sql.Tx) error {
	_, err := tx.Exec(`ALTER TABLE dr_sessions ADD COLUMN peer_ratchet_key_status INTEGER NOT NULL DEFAULT 0`)
	return err
}

// migratePeerCurveActive is version 0x000300: adds curve_id and active
// columns to peer devices, populated from the unique local user's algo and
// defaulting active=1 (spec §4.3). The database is per-user (spec §1
// non-goals), so "the unique user's curve" is unambiguous.
func migratePeerCurveActive(tx *sql.Tx) error {
	if _, err := tx.Exec(`ALTER TABLE peer_devices ADD COLUMN curve_id INTEGER`); err != nil {
		return err
	}
	if _, err := tx.Exec(`ALTER TABLE peer_devices ADD COLUMN active INTEGER NOT NULL DEFAULT 1`); err != nil {
		return err
	}
	_, err := tx.Exec(`UPDATE peer_devices SET curve_id = (SELECT algo FROM local_users LIMIT 1) WHERE curve_id IS NULL`)
	return err
}
