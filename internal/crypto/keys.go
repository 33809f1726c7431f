package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// KeySet holds the symmetric key that signs session tokens and CSRF tokens
type KeySet struct {
	key   []byte
	keyID string
	mu    sync.RWMutex
}

// NewKeySet derives a key from secret, or generates a random one when the
// secret is empty. Random keys do not survive a restart.
func NewKeySet(secret string) (*KeySet, error) {
	var key []byte
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate session key: %w", err)
		}
	} else {
		if len(secret) < 16 {
			return nil, errors.New("session secret must be at least 16 characters")
		}
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}

	return &KeySet{
		key:   key,
		keyID: generateKeyID("hs"),
	}, nil
}

// generateKeyID creates a unique key identifier
func generateKeyID(prefix string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(b))
}

// Key returns the signing key
func (ks *KeySet) Key() []byte {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.key
}

// KeyID returns the key ID placed in token headers
func (ks *KeySet) KeyID() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.keyID
}
