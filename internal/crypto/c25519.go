package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"limepq/internal/domain"
)

// c25519Suite pairs X25519 (DH) with Ed25519 (signatures), ChaCha20-Poly1305
// (AEAD), and HKDF-SHA256 — the teacher's stack
// (internal/crypto/x25519.go, ed25519.go), generalized behind Suite.
type c25519Suite struct{}

func (c25519Suite) Algo() domain.AlgoID { return domain.AlgoC25519 }

func (c25519Suite) GenerateDH() (priv, pub []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err = rand.Read(priv); err != nil {
		return nil, nil, err
	}
	clampX25519(priv)
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	return priv, pub, err
}

func (c25519Suite) DH(priv, peerPub []byte) ([]byte, error) {
	return curve25519.X25519(priv, peerPub)
}

func (c25519Suite) GenerateSign() (priv, pub []byte, err error) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return []byte(sk), []byte(pk), nil
}

func (c25519Suite) Sign(priv, msg []byte) ([]byte, error) {
	return ed25519.Sign(ed25519.PrivateKey(priv), msg), nil
}

func (c25519Suite) Verify(pub, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

func (c25519Suite) GenerateKEM() (priv, pub []byte, ok bool, err error) { return nil, nil, false, nil }
func (c25519Suite) Encaps([]byte) (ct, ss []byte, ok bool, err error)   { return nil, nil, false, nil }
func (c25519Suite) Decaps([]byte, []byte) (ss []byte, ok bool, err error) {
	return nil, false, nil
}

func (c25519Suite) HKDF(salt, ikm, info []byte, n int) ([]byte, error) {
	return hkdfExpand(salt, ikm, info, n)
}

func (c25519Suite) Seal(key, nonce, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

func (c25519Suite) Open(key, nonce, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, ad)
}

func (c25519Suite) NonceSize() int   { return chacha20poly1305.NonceSize }
func (c25519Suite) KeySize() int     { return chacha20poly1305.KeySize }
func (c25519Suite) DHPubSize() int   { return 32 }
func (c25519Suite) SignPubSize() int { return ed25519.PublicKeySize }
func (c25519Suite) SigSize() int     { return ed25519.SignatureSize }
func (c25519Suite) KEMPubSize() int  { return 0 }
func (c25519Suite) KEMCtSize() int   { return 0 }

func clampX25519(priv []byte) {
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
}

// hkdfExpand runs RFC 5869 extract-then-expand with SHA-256 and returns
// exactly n bytes, shared by every suite's HKDF.
func hkdfExpand(salt, ikm, info []byte, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, domain.NewError(domain.KindCryptoFail, "crypto.HKDF", "short HKDF read", err)
	}
	return out, nil
}
