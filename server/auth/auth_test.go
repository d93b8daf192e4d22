package auth

import (
	"testing"
	"time"

	"github.com/Daskott/guardian/server/auth/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	require.Nil(t, err)

	assert.NotEqual(t, "correct-horse", hash)
	assert.True(t, CheckPasswordHash("correct-horse", hash))
	assert.False(t, CheckPasswordHash("wrong-horse", hash))
}

func TestEncodeAndDecodeJWT(t *testing.T) {
	keyPair, err := key.NewTestKeyPair()
	require.Nil(t, err)

	claims := NewTokenClaims("7", "Ada", "Obi", true, time.Now())
	token, err := EncodeJWT(claims, keyPair)
	require.Nil(t, err)

	decoded, err := DecodeJWT(token, keyPair)
	require.Nil(t, err)
	assert.Equal(t, "7", decoded.Subject)
	assert.Equal(t, "Ada", decoded.FirstName)
	assert.True(t, decoded.IsAdmin)
}

func TestDecodeJWTRejectsBadTokens(t *testing.T) {
	keyPair, err := key.NewTestKeyPair()
	require.Nil(t, err)
	otherKeyPair, err := key.NewTestKeyPair()
	require.Nil(t, err)

	expired := NewTokenClaims("7", "Ada", "Obi", false, time.Now().Add(-2*TOKEN_TTL))
	token, err := EncodeJWT(expired, keyPair)
	require.Nil(t, err)
	_, err = DecodeJWT(token, keyPair)
	assert.NotNil(t, err, "expired tokens are rejected")

	token, err = EncodeJWT(NewTokenClaims("7", "Ada", "Obi", false, time.Now()), otherKeyPair)
	require.Nil(t, err)
	_, err = DecodeJWT(token, keyPair)
	assert.NotNil(t, err, "tokens signed by another key are rejected")

	_, err = DecodeJWT("garbage", keyPair)
	assert.NotNil(t, err)
}
