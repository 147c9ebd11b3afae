// Package crypto is the primitives façade (spec §4.1): a uniform contract
// over EC signatures, EC Diffie-Hellman, an optional KEM, HKDF, AEAD, and a
// RNG, dispatched by the persisted algorithm tag rather than the deep
// inheritance the design notes call out in the original source. It
// generalizes the teacher's hard-coded X25519/Ed25519/ChaCha20-Poly1305
// stack (internal/crypto/{x25519,ed25519,key}.go) into a small Suite
// interface with one struct per supported domain.AlgoID.
package crypto

import (
	"fmt"

	"limepq/internal/domain"
)

// Suite is implemented by each algorithm variant. Suites that do not
// support a KEM return ok=false from Encaps/Decaps rather than erroring, so
// callers can branch on domain.AlgoID.HasKEM() without a type assertion.
type Suite interface {
	Algo() domain.AlgoID

	// GenerateDH returns a fresh DH keypair for this suite's curve.
	GenerateDH() (priv, pub []byte, err error)
	// DH performs scalar multiplication between priv and peerPub.
	DH(priv, peerPub []byte) ([]byte, error)

	// GenerateSign returns a fresh signature keypair.
	GenerateSign() (priv, pub []byte, err error)
	Sign(priv, msg []byte) ([]byte, error)
	Verify(pub, msg, sig []byte) bool

	// GenerateKEM returns a fresh KEM keypair, or ok=false if this suite has no KEM.
	GenerateKEM() (priv, pub []byte, ok bool, err error)
	Encaps(peerPub []byte) (ct, ss []byte, ok bool, err error)
	Decaps(priv, ct []byte) (ss []byte, ok bool, err error)

	// HKDF runs extract-then-expand and returns exactly n bytes.
	HKDF(salt, ikm, info []byte, n int) ([]byte, error)

	// Seal/Open are the AEAD primitive, keyed by a 32-byte key.
	Seal(key, nonce, ad, plaintext []byte) ([]byte, error)
	Open(key, nonce, ad, ciphertext []byte) ([]byte, error)
	NonceSize() int
	KeySize() int

	// DHPubSize/SignPubSize/SigSize/KEMPubSize/KEMCtSize describe the fixed
	// lengths serialize needs to parse length-implicit wire layouts.
	// SignPubSize is the signing public key's length; SigSize is the
	// signature's length — the two differ for both Ed25519 and Ed448.
	DHPubSize() int
	SignPubSize() int
	SigSize() int
	KEMPubSize() int
	KEMCtSize() int
}

// ForAlgo returns the Suite implementing algo, or an error if this build
// does not support it (spec §7 KindInvalidArgument "unknown algorithm id").
func ForAlgo(algo domain.AlgoID) (Suite, error) {
	switch algo {
	case domain.AlgoC25519:
		return c25519Suite{}, nil
	case domain.AlgoC448:
		return c448Suite{}, nil
	case domain.AlgoC25519K512:
		return newKEMSuite(c25519Suite{}, domain.AlgoC25519K512, "ML-KEM-512"), nil
	case domain.AlgoC25519MLK512:
		return newKEMSuite(c25519Suite{}, domain.AlgoC25519MLK512, "ML-KEM-512"), nil
	case domain.AlgoC448MLK1024:
		return newKEMSuite(c448Suite{}, domain.AlgoC448MLK1024, "ML-KEM-1024"), nil
	default:
		return nil, domain.NewError(domain.KindInvalidArgument, "crypto.ForAlgo",
			fmt.Sprintf("unsupported algorithm id %d", algo), nil)
	}
}
