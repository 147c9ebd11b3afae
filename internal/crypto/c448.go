package crypto

import (
	"crypto/rand"

	"github.com/cloudflare/circl/dh/x448"
	"github.com/cloudflare/circl/sign/ed448"

	"limepq/internal/domain"
)

// c448Suite pairs X448 (DH) with Ed448 (signatures), keeping the same
// ChaCha20-Poly1305/HKDF-SHA256 ambient primitives as c25519Suite — only the
// asymmetric group changes. Grounded on github.com/cloudflare/circl, the
// ecosystem library the retrieval pack surfaces for non-Curve25519 groups
// (other_examples/cloudflare-cloudflared__kem.go's sibling scheme registry).
type c448Suite struct{}

func (c448Suite) Algo() domain.AlgoID { return domain.AlgoC448 }

func (c448Suite) GenerateDH() (priv, pub []byte, err error) {
	var sk x448.Key
	if _, err := rand.Read(sk[:]); err != nil {
		return nil, nil, err
	}
	var pk x448.Key
	x448.KeyGen(&pk, &sk)
	return sk[:], pk[:], nil
}

func (c448Suite) DH(priv, peerPub []byte) ([]byte, error) {
	var sk, pk, shared x448.Key
	copy(sk[:], priv)
	copy(pk[:], peerPub)
	if ok := x448.Shared(&shared, &sk, &pk); !ok {
		return nil, domain.NewError(domain.KindCryptoFail, "crypto.c448.DH", "low-order point", nil)
	}
	return shared[:], nil
}

func (c448Suite) GenerateSign() (priv, pub []byte, err error) {
	pk, sk, err := ed448.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return []byte(sk), []byte(pk), nil
}

func (c448Suite) Sign(priv, msg []byte) ([]byte, error) {
	return ed448.Sign(ed448.PrivateKey(priv), msg, ""), nil
}

func (c448Suite) Verify(pub, msg, sig []byte) bool {
	return ed448.Verify(ed448.PublicKey(pub), msg, sig, "")
}

func (c448Suite) GenerateKEM() (priv, pub []byte, ok bool, err error) { return nil, nil, false, nil }
func (c448Suite) Encaps([]byte) (ct, ss []byte, ok bool, err error)   { return nil, nil, false, nil }
func (c448Suite) Decaps([]byte, []byte) (ss []byte, ok bool, err error) {
	return nil, false, nil
}

func (c448Suite) HKDF(salt, ikm, info []byte, n int) ([]byte, error) {
	return hkdfExpand(salt, ikm, info, n)
}

func (c c448Suite) Seal(key, nonce, ad, plaintext []byte) ([]byte, error) {
	return c25519Suite{}.Seal(key, nonce, ad, plaintext)
}

func (c c448Suite) Open(key, nonce, ad, ciphertext []byte) ([]byte, error) {
	return c25519Suite{}.Open(key, nonce, ad, ciphertext)
}

func (c c448Suite) NonceSize() int   { return c25519Suite{}.NonceSize() }
func (c c448Suite) KeySize() int     { return c25519Suite{}.KeySize() }
func (c448Suite) DHPubSize() int     { return x448.Size }
func (c448Suite) SignPubSize() int   { return ed448.PublicKeySize }
func (c448Suite) SigSize() int       { return ed448.SignatureSize }
func (c448Suite) KEMPubSize() int    { return 0 }
func (c448Suite) KEMCtSize() int     { return 0 }
