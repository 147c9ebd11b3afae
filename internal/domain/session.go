package domain

import "time"

// SessionStatus is a DRSession's lifecycle state (spec §4.4).
type SessionStatus int

const (
	SessionActive SessionStatus = iota
	SessionStale
)

// X3DHInit is the payload an initiator attaches to every outbound message
// until the first inbound message from that peer decrypts successfully
// (spec §4.4, §4.2 "DR header").
type X3DHInit struct {
	Ik        []byte // sender's identity DH public key, needed by the responder to derive DH1
	Ephemeral []byte // EK_A public
	SPkID     uint32
	HasOPk    bool
	OPkID     uint32
	KEMCt     []byte // KEM ciphertext against the peer's SPk-bound KEM key, if PQ
}

// RatchetHeader is the Double Ratchet header attached to every message
// (spec §4.2 "DR header").
type RatchetHeader struct {
	DHPub []byte
	KEMPub []byte // this sender's freshly published KEM public key, PQ suites only
	KEMCt  []byte // ciphertext encapsulated against the peer's previously published KEMPub
	PN    uint32
	N     uint32
	Init  *X3DHInit // only set on initiator messages before the first decrypt
}

// RatchetState is the mutable Double Ratchet chain state carried by a
// DRSession, generalizing the teacher's domain.RatchetState
// (internal/domain/types.go) to variable-length keys and an optional KEM
// term.
type RatchetState struct {
	RootKey []byte

	DHPriv []byte
	DHPub  []byte

	PeerDHPub []byte

	// KEMPriv/KEMPub are this side's current KEM keypair used for the next
	// asymmetric ratchet step (PQ suites only); PeerKEMPub is the peer's
	// last-seen KEM public key.
	KEMPriv    []byte
	KEMPub     []byte
	PeerKEMPub []byte

	SendCK []byte
	RecvCK []byte

	Ns, Nr, PN uint32

	// KEMRatchetMsgCount/KEMRatchetLastAt bound the PQ asymmetric-ratchet
	// cadence (spec §4.4 "KEM asymmetric-ratchet cadence").
	KEMRatchetMsgCount int
	KEMRatchetLastAt   time.Time
}

// DRSession is one Double Ratchet session with a PeerDevice (spec §3).
type DRSession struct {
	ID          int64
	LocalUserID int64
	PeerDeviceID string
	Algo        AlgoID

	State RatchetState
	AD    []byte

	Status     SessionStatus
	IsInitiator bool
	PendingInit *X3DHInit // initiator-only, cleared on first successful decrypt

	LastActivity time.Time
}

// SkippedMessageKey is a message key retained to decrypt an out-of-order
// message (spec §3).
type SkippedMessageKey struct {
	SessionID    int64
	PeerRatchet  []byte
	N            uint32
	MessageKey   []byte
	ChainCreated time.Time // creation time of the receiving chain this key belongs to, for MK_limbo sweeps
}
