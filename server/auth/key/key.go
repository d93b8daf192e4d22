package key

import (
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/jwk"
)

const DEFAULT_KID = "guardian-key-id"

// JWKS is the document served on /v1/jwks
type JWKS struct {
	Keys []jwk.Key `json:"keys"`
}

// KeyPair signs the guardian access tokens
type KeyPair struct {
	Kid        string
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// NewKeyPairFromRSAPrivateKeyPem parses a PKCS#1 or PKCS#8 PEM encoded RSA
// private key, e.g. the 'guardian.privateKeyPem' config value.
func NewKeyPairFromRSAPrivateKeyPem(privateKeyPem string) (*KeyPair, error) {
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPem))
	if err != nil {
		return nil, fmt.Errorf("unable to parse RSA private key: %v", err)
	}

	return &KeyPair{Kid: DEFAULT_KID, PrivateKey: privateKey, PublicKey: &privateKey.PublicKey}, nil
}

// JWKS publishes the public half of the pair, so other services can verify guardian tokens
func (keyPair *KeyPair) JWKS() (JWKS, error) {
	publicJWK, err := jwk.New(keyPair.PublicKey)
	if err != nil {
		return JWKS{}, fmt.Errorf("jwks: %v", err)
	}

	fields := map[string]interface{}{
		jwk.KeyIDKey:     keyPair.Kid,
		jwk.AlgorithmKey: "RS256",
		jwk.KeyUsageKey:  "sig",
	}
	for name, value := range fields {
		if err := publicJWK.Set(name, value); err != nil {
			return JWKS{}, fmt.Errorf("jwks: %v", err)
		}
	}

	return JWKS{Keys: []jwk.Key{publicJWK}}, nil
}

// PublicKey looks up the RSA key with 'kid' in the set
func (set JWKS) PublicKey(kid string) (*rsa.PublicKey, error) {
	for _, k := range set.Keys {
		if k.KeyID() != kid {
			continue
		}

		publicKey := &rsa.PublicKey{}
		if err := k.Raw(publicKey); err != nil {
			return nil, fmt.Errorf("jwks: key %v: %v", kid, err)
		}
		return publicKey, nil
	}

	return nil, fmt.Errorf("jwks: no key with id %q", kid)
}
