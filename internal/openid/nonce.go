package openid

import (
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

const (
	nonceTimeFormat = "2006-01-02T15:04:05Z"
	nonceChars      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	nonceSaltLen    = 6
)

// MakeNonce returns a response nonce: a UTC timestamp followed by random characters
func MakeNonce(now time.Time) (string, error) {
	salt := make([]byte, nonceSaltLen)
	max := big.NewInt(int64(len(nonceChars)))
	for i := range salt {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		salt[i] = nonceChars[n.Int64()]
	}
	return now.UTC().Format(nonceTimeFormat) + string(salt), nil
}

// SplitNonce separates a response nonce into its timestamp and salt
func SplitNonce(nonce string) (time.Time, string, error) {
	n := len(nonceTimeFormat)
	if len(nonce) < n {
		return time.Time{}, "", errors.New("nonce too short")
	}
	ts, err := time.Parse(nonceTimeFormat, nonce[:n])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts.UTC(), nonce[n:], nil
}
