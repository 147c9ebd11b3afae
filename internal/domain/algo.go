// Package domain holds the shared types and store/transport interfaces that
// every other package in limepq depends on. It has no dependency on crypto
// or storage implementations, mirroring the teacher's internal/domain.
package domain

// AlgoID is the persisted numeric code for a key-agreement/signature
// algorithm pairing. These codes cross databases and servers, so they must
// never be renumbered once assigned.
type AlgoID uint8

const (
	AlgoUnknown      AlgoID = 0
	AlgoC25519       AlgoID = 1 // X25519 DH, Ed25519 signatures
	AlgoC448         AlgoID = 2 // X448 DH, Ed448 signatures
	AlgoC25519K512   AlgoID = 3 // c25519 augmented with ML-KEM-512
	AlgoC25519MLK512 AlgoID = 4 // c25519 augmented with ML-KEM-512 (post-quantum X3DH init term)
	AlgoC448MLK1024  AlgoID = 5 // c448 augmented with ML-KEM-1024
)

// String renders the wire name used in bundles and server messages.
func (a AlgoID) String() string {
	switch a {
	case AlgoC25519:
		return "c25519"
	case AlgoC448:
		return "c448"
	case AlgoC25519K512:
		return "c25519k512"
	case AlgoC25519MLK512:
		return "c25519mlk512"
	case AlgoC448MLK1024:
		return "c448mlk1024"
	default:
		return "unknown"
	}
}

// HasKEM reports whether the algorithm pairing includes a post-quantum KEM
// term in X3DH and the asymmetric ratchet.
func (a AlgoID) HasKEM() bool {
	switch a {
	case AlgoC25519K512, AlgoC25519MLK512, AlgoC448MLK1024:
		return true
	default:
		return false
	}
}

// ParseAlgo parses the wire name String renders, the inverse of AlgoID.String.
func ParseAlgo(s string) (AlgoID, error) {
	switch s {
	case "c25519":
		return AlgoC25519, nil
	case "c448":
		return AlgoC448, nil
	case "c25519k512":
		return AlgoC25519K512, nil
	case "c25519mlk512":
		return AlgoC25519MLK512, nil
	case "c448mlk1024":
		return AlgoC448MLK1024, nil
	default:
		return AlgoUnknown, NewError(KindInvalidArgument, "domain.ParseAlgo", "unrecognised algorithm name: "+s, nil)
	}
}

// KnownAlgo reports whether a is a code this build recognises.
func KnownAlgo(a AlgoID) bool {
	switch a {
	case AlgoC25519, AlgoC448, AlgoC25519K512, AlgoC25519MLK512, AlgoC448MLK1024:
		return true
	default:
		return false
	}
}
