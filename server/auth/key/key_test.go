package key

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyPairFromRSAPrivateKeyPem(t *testing.T) {
	generated, err := NewTestKeyPair()
	require.Nil(t, err)

	keyPair, err := NewKeyPairFromRSAPrivateKeyPem(generated.PrivateKeyPem())
	require.Nil(t, err)
	assert.Equal(t, DEFAULT_KID, keyPair.Kid)
	assert.True(t, generated.PublicKey.Equal(keyPair.PublicKey))

	_, err = NewKeyPairFromRSAPrivateKeyPem("not a pem")
	assert.NotNil(t, err)
}

func TestJWKS(t *testing.T) {
	keyPair, err := NewTestKeyPair()
	require.Nil(t, err)

	set, err := keyPair.JWKS()
	require.Nil(t, err)
	require.Len(t, set.Keys, 1)

	publicKey, err := set.PublicKey(DEFAULT_KID)
	require.Nil(t, err)
	assert.True(t, keyPair.PublicKey.Equal(publicKey))

	_, err = set.PublicKey("unknown")
	assert.NotNil(t, err)

	payload, err := json.Marshal(set)
	require.Nil(t, err)

	doc := struct {
		Keys []map[string]interface{} `json:"keys"`
	}{}
	require.Nil(t, json.Unmarshal(payload, &doc))
	require.Len(t, doc.Keys, 1)
	assert.Equal(t, DEFAULT_KID, doc.Keys[0]["kid"])
	assert.Equal(t, "RS256", doc.Keys[0]["alg"])
	assert.Equal(t, "sig", doc.Keys[0]["use"])
	assert.Equal(t, "RSA", doc.Keys[0]["kty"])
}
