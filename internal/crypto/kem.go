package crypto

import (
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/schemes"

	"limepq/internal/domain"
)

// kemSuite augments a base DH+signature suite with a post-quantum KEM term,
// grounded on github.com/cloudflare/circl/kem/schemes's registry (the same
// "named scheme" pattern other_examples/cloudflare-cloudflared__kem.go
// documents for kem.Scheme) and cross-checked against
// other_examples/FiloSottile-mlkem768__xwing.go's GenerateKey/Encapsulate/
// Decapsulate shape.
type kemSuite struct {
	Suite
	algo   domain.AlgoID
	scheme kem.Scheme
}

func newKEMSuite(base Suite, algo domain.AlgoID, schemeName string) kemSuite {
	return kemSuite{Suite: base, algo: algo, scheme: schemes.ByName(schemeName)}
}

func (k kemSuite) Algo() domain.AlgoID { return k.algo }

func (k kemSuite) GenerateKEM() (priv, pub []byte, ok bool, err error) {
	pk, sk, err := k.scheme.GenerateKeyPair()
	if err != nil {
		return nil, nil, true, err
	}
	pubBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, true, err
	}
	privBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, true, err
	}
	return privBytes, pubBytes, true, nil
}

func (k kemSuite) Encaps(peerPub []byte) (ct, ss []byte, ok bool, err error) {
	pk, err := k.scheme.UnmarshalBinaryPublicKey(peerPub)
	if err != nil {
		return nil, nil, true, domain.NewError(domain.KindSerializationFail, "crypto.kem.Encaps", "bad KEM public key", err)
	}
	ct, ss, err = k.scheme.Encapsulate(pk)
	return ct, ss, true, err
}

func (k kemSuite) Decaps(priv, ct []byte) (ss []byte, ok bool, err error) {
	sk, err := k.scheme.UnmarshalBinaryPrivateKey(priv)
	if err != nil {
		return nil, true, domain.NewError(domain.KindSerializationFail, "crypto.kem.Decaps", "bad KEM private key", err)
	}
	ss, err = k.scheme.Decapsulate(sk, ct)
	return ss, true, err
}

func (k kemSuite) KEMPubSize() int { return k.scheme.PublicKeySize() }
func (k kemSuite) KEMCtSize() int  { return k.scheme.CiphertextSize() }
