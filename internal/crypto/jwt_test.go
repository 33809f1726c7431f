package crypto

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeySet(t *testing.T) {
	a, err := NewKeySet("a sufficiently long secret")
	require.NoError(t, err)
	b, err := NewKeySet("a sufficiently long secret")
	require.NoError(t, err)
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.KeyID(), b.KeyID())

	r1, err := NewKeySet("")
	require.NoError(t, err)
	r2, err := NewKeySet("")
	require.NoError(t, err)
	assert.Len(t, r1.Key(), 32)
	assert.NotEqual(t, r1.Key(), r2.Key())

	_, err = NewKeySet("short")
	assert.Error(t, err)
}

func TestTokenService(t *testing.T) {
	ks, err := NewKeySet("")
	require.NoError(t, err)
	svc := NewTokenService(ks, "http://localhost:8080")

	token, err := svc.Issue(SessionClaims{SessionID: "sid-1", UserID: "user-alice", Username: "alice"}, time.Hour)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "sid-1", claims.SessionID)
	assert.Equal(t, "user-alice", claims.UserID)
	assert.Equal(t, "alice", claims.Username)

	t.Run("expired", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { svc.now = time.Now }()
		_, err := svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other key", func(t *testing.T) {
		other, err := NewKeySet("")
		require.NoError(t, err)
		_, err = NewTokenService(other, "http://localhost:8080").Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other issuer", func(t *testing.T) {
		_, err := NewTokenService(ks, "https://elsewhere.example").Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		none := jwt.NewWithClaims(jwt.SigningMethodNone, SessionClaims{SessionID: "sid-1"})
		raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.Validate(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Validate("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestMAC(t *testing.T) {
	ks, err := NewKeySet("")
	require.NoError(t, err)
	svc := NewTokenService(ks, "issuer")

	sum := svc.MAC("sid-1")
	assert.True(t, svc.VerifyMAC("sid-1", sum))
	assert.False(t, svc.VerifyMAC("sid-2", sum))
	assert.False(t, svc.VerifyMAC("sid-1", ""))
}
