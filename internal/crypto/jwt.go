package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService issues and validates the signed session cookie
type TokenService struct {
	keySet *KeySet
	issuer string
	now    func() time.Time
}

// NewTokenService creates a new token service
func NewTokenService(keySet *KeySet, issuer string) *TokenService {
	return &TokenService{
		keySet: keySet,
		issuer: issuer,
		now:    time.Now,
	}
}

// SessionClaims is the payload of a session token
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	UserID    string `json:"uid,omitempty"`
	Username  string `json:"usr,omitempty"`
}

// ErrInvalidToken is returned for tokens that fail validation
var ErrInvalidToken = errors.New("invalid session token")

// Issue signs claims with HS256 and the given lifetime
func (s *TokenService) Issue(claims SessionClaims, duration time.Duration) (string, error) {
	now := s.now()
	claims.Issuer = s.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(duration))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = s.keySet.KeyID()

	return token.SignedString(s.keySet.Key())
}

// Validate parses a session token and returns its claims
func (s *TokenService) Validate(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.keySet.Key(), nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// MAC returns a URL-safe HMAC-SHA256 of data under the session key
func (s *TokenService) MAC(data string) string {
	mac := hmac.New(sha256.New, s.keySet.Key())
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyMAC checks a value produced by MAC in constant time
func (s *TokenService) VerifyMAC(data, sum string) bool {
	return hmac.Equal([]byte(s.MAC(data)), []byte(sum))
}
