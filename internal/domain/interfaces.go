package domain

import (
	"context"
	"time"
)

// Transport is the external collaborator the core consumes for all
// key-distribution-server traffic (spec §6 "Server callback contract").
// The callback may be invoked on any goroutine, including reentrantly from
// inside Post itself — the orchestrator and x3dh engine never assume
// otherwise.
type Transport interface {
	Post(ctx context.Context, url string, from string, body []byte, cb func(code int, body []byte, err error))
}

// UserStore persists LocalUser and IdentityKeyPair rows.
type UserStore interface {
	CreateUser(ctx context.Context, u *LocalUser, id *IdentityKeyPair) (int64, error)
	GetUserByDeviceID(ctx context.Context, deviceID string, algo AlgoID) (*LocalUser, error)
	ActivateUser(ctx context.Context, userID int64) error
	DeleteUser(ctx context.Context, userID int64) error
	GetIdentity(ctx context.Context, userID int64) (*IdentityKeyPair, error)
	TouchUser(ctx context.Context, userID int64) error
	SetServerURL(ctx context.Context, userID int64, serverURL string) error
}

// PrekeyStore persists SignedPreKey, OneTimePreKey, and KEMPreKey rows.
type PrekeyStore interface {
	InsertSPk(ctx context.Context, spk *SignedPreKey) error
	ActiveSPk(ctx context.Context, userID int64) (*SignedPreKey, error)
	GetSPk(ctx context.Context, userID int64, id uint32) (*SignedPreKey, error)
	RetireSPk(ctx context.Context, userID int64, id uint32) error
	DeleteExpiredRetiredSPks(ctx context.Context, userID int64, limboCutoff time.Time) (int, error)

	InsertOPkBatch(ctx context.Context, opks []*OneTimePreKey) error
	GetOPk(ctx context.Context, userID int64, id uint32) (*OneTimePreKey, error)
	ListAvailableOPkPublics(ctx context.Context, userID int64) ([]OneTimePreKey, error)
	CountAvailableOPks(ctx context.Context, userID int64) (int, error)
	MarkOPkDispatched(ctx context.Context, userID int64, ids []uint32) error
	ConsumeOPk(ctx context.Context, userID int64, id uint32) error
	DeleteExpiredDispatchedOPks(ctx context.Context, userID int64, limboCutoff time.Time) (int, error)

	InsertKEMPreKey(ctx context.Context, k *KEMPreKey) error
	GetKEMPreKey(ctx context.Context, userID int64, spkID uint32) (*KEMPreKey, error)
}

// PeerStore persists PeerDevice rows and enforces the trust-transition
// table of spec §4.8.
type PeerStore interface {
	GetPeerDevice(ctx context.Context, localUserID int64, deviceID string, algo AlgoID) (*PeerDevice, error)
	UpsertPeerDeviceIk(ctx context.Context, localUserID int64, deviceID string, algo AlgoID, ik []byte) error
	SetTrust(ctx context.Context, localUserID int64, deviceID string, algo AlgoID, ik []byte, want TrustState) (TrustState, error)
	DeletePeerDevice(ctx context.Context, localUserID int64, deviceID string, algo AlgoID) error
	ListPeerDevices(ctx context.Context, localUserID int64, deviceIDs []string, algo AlgoID) ([]*PeerDevice, error)
}

// SessionStore persists DRSession rows and their skipped message keys.
type SessionStore interface {
	SaveSession(ctx context.Context, s *DRSession) (int64, error)
	GetActiveSession(ctx context.Context, localUserID int64, deviceID string, algo AlgoID) (*DRSession, error)
	ListSessions(ctx context.Context, localUserID int64, deviceID string, algo AlgoID) ([]*DRSession, error)
	GetSession(ctx context.Context, sessionID int64) (*DRSession, error)
	StaleSession(ctx context.Context, sessionID int64) error
	StaleOtherActiveSessions(ctx context.Context, localUserID int64, deviceID string, algo AlgoID, exceptSessionID int64) error
	DeleteExpiredStaleSessions(ctx context.Context, limboCutoff time.Time) (int, error)

	SaveSkippedKey(ctx context.Context, k *SkippedMessageKey) error
	TakeSkippedKey(ctx context.Context, sessionID int64, peerRatchet []byte, n uint32) ([]byte, bool, error)
	CountSkippedKeys(ctx context.Context, sessionID int64) (int, error)
	DeleteOldestSkippedKey(ctx context.Context, sessionID int64) error
	DeleteExpiredSkippedKeys(ctx context.Context, limboCutoff time.Time) (int, error)
}

// Store is the aggregate persistence interface the rest of the library
// depends on; internal/store.DB implements it over database/sql.
type Store interface {
	UserStore
	PrekeyStore
	PeerStore
	SessionStore

	// WithTx runs fn inside a single transaction; fn must use the Store
	// passed to it (not the outer one) for all operations it performs, so a
	// partial failure rolls everything back (spec §4.3).
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
