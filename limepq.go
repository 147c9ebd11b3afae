// Package limepq is the public face of the library (spec §6): a thin
// re-export of internal/manager.Manager and the domain types its methods
// take and return, so callers depend on one stable import path instead of
// reaching into internal/.
package limepq

import (
	"limepq/internal/domain"
	"limepq/internal/logging"
	"limepq/internal/manager"
)

// Manager is the library's single entry point: one registry of local
// identities (one per device id/algorithm pair), each with its own
// Double Ratchet sessions and X3DH prekey state.
type Manager = manager.Manager

// NewManager constructs a Manager over store, transport, and cfg. log may
// be nil, in which case log calls are discarded.
func NewManager(store domain.Store, transport domain.Transport, cfg domain.Config, log logging.Logger) *Manager {
	return manager.New(store, transport, cfg, log)
}

// DefaultConfig is the tunables bundle new callers should start from.
var DefaultConfig = domain.DefaultConfig

// Re-exported domain types a caller builds/inspects when driving a Manager.
type (
	AlgoID             = domain.AlgoID
	Config             = domain.Config
	Policy             = domain.Policy
	RecipientStatus    = domain.RecipientStatus
	RecipientResult    = domain.RecipientResult
	EncryptionContext  = domain.EncryptionContext
	DecryptedMessage   = domain.DecryptedMessage
	TrustState         = domain.TrustState
	Transport          = domain.Transport
	Store              = domain.Store
)

// Algorithm identifiers, re-exported for callers constructing AlgoID
// values without importing internal/domain.
const (
	AlgoC25519       = domain.AlgoC25519
	AlgoC448         = domain.AlgoC448
	AlgoC25519K512   = domain.AlgoC25519K512
	AlgoC25519MLK512 = domain.AlgoC25519MLK512
	AlgoC448MLK1024  = domain.AlgoC448MLK1024
)

// Policy values, re-exported for the same reason.
const (
	PolicyOptimizeUploadSize      = domain.PolicyOptimizeUploadSize
	PolicyDRMessage               = domain.PolicyDRMessage
	PolicyCipherMessage           = domain.PolicyCipherMessage
	PolicyOptimizeGlobalBandwidth = domain.PolicyOptimizeGlobalBandwidth
)

// Trust states, re-exported for the same reason.
const (
	TrustUnknown   = domain.TrustUnknown
	TrustUntrusted = domain.TrustUntrusted
	TrustTrusted   = domain.TrustTrusted
	TrustUnsafe    = domain.TrustUnsafe
)

// ParseAlgo parses an algorithm's wire name (e.g. "c25519") into an AlgoID.
func ParseAlgo(s string) (AlgoID, error) { return domain.ParseAlgo(s) }
