package key

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
)

// NewTestKeyPair generates a throwaway 2048 bit key pair
func NewTestKeyPair() (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	return &KeyPair{Kid: DEFAULT_KID, PrivateKey: privateKey, PublicKey: &privateKey.PublicKey}, nil
}

// PrivateKeyPem encodes the private key as a PKCS#1 PEM block
func (keyPair *KeyPair) PrivateKeyPem() string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(keyPair.PrivateKey),
	}))
}
