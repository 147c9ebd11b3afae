package domain

import "time"

// SPkStatus is the lifecycle state of a SignedPreKey.
type SPkStatus int

const (
	SPkActive SPkStatus = iota
	SPkRetired
)

// SignedPreKey is a DH keypair signed by the user's identity key (spec §3).
type SignedPreKey struct {
	UserID    int64
	Algo      AlgoID
	ID        uint32
	Priv      []byte
	Pub       []byte
	Sig       []byte
	Status    SPkStatus
	CreatedAt time.Time
}

// OPkStatus is the lifecycle state of a OneTimePreKey.
type OPkStatus int

const (
	OPkAvailable OPkStatus = iota
	OPkDispatched
	OPkConsumed
)

// OneTimePreKey is a single-use DH keypair (spec §3).
type OneTimePreKey struct {
	UserID       int64
	Algo         AlgoID
	ID           uint32
	Priv         []byte
	Pub          []byte
	Status       OPkStatus
	DispatchedAt time.Time // zero unless Status == OPkDispatched
}

// KEMPreKey is the optional post-quantum KEM keypair bundled with the SPk
// for PQ-augmented algorithms (KEM encapsulation target in X3DH/ratchet).
type KEMPreKey struct {
	UserID int64
	Algo   AlgoID
	SPkID  uint32 // the SPk this KEM key is bound to
	Priv   []byte
	Pub    []byte
}

// BundleFlag selects the peer-bundle wire layout (spec §4.2).
type BundleFlag uint8

const (
	BundleWithOPk    BundleFlag = 1
	BundleNoOPk      BundleFlag = 0
	BundleNoBundle   BundleFlag = 2
)

// PeerBundle is what the key-distribution server returns for one peer
// device (spec §4.2 "Peer bundle").
type PeerBundle struct {
	DeviceID  string
	Algo      AlgoID
	Flag      BundleFlag
	Ik        []byte // identity DH public key
	SignPub   []byte // identity signature public key
	SPkID     uint32
	SPkPub    []byte
	SPkSig    []byte
	KEMPub    []byte // present iff Algo.HasKEM()
	OPkID     uint32 // zero value means "absent"; Flag distinguishes absence
	OPkPub    []byte
}

// HasOPk reports whether the bundle carried a one-time prekey.
func (b PeerBundle) HasOPk() bool { return b.Flag == BundleWithOPk }
