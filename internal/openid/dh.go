package openid

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"hash"
	"math/big"
)

// Default Diffie-Hellman group from the OpenID 2.0 specification, appendix B
var (
	DefaultModulus, _ = new(big.Int).SetString("155172898181473697471232257763715539915724801966915404479707795314057629378541917580651227423698188993727816152646631438561595825688188889951272158842675419950341258706556549803580104870537681476726513255747040765857479291291572334510643245094715007229621094194349783925984760375594985848253359305585439638443", 10)
	DefaultGenerator  = big.NewInt(2)
)

// Btwoc encodes a non-negative integer as big-endian two's complement
func Btwoc(x *big.Int) []byte {
	b := x.Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	if b[0]&0x80 != 0 {
		return append([]byte{0}, b...)
	}
	return b
}

// ParseBtwoc decodes a base64 btwoc integer
func ParseBtwoc(s string) (*big.Int, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("empty integer")
	}
	if raw[0]&0x80 != 0 {
		return nil, errors.New("negative integer")
	}
	return new(big.Int).SetBytes(raw), nil
}

func encodeBtwoc(x *big.Int) string {
	return base64.StdEncoding.EncodeToString(Btwoc(x))
}

// DiffieHellman holds one side of a key exchange
type DiffieHellman struct {
	Modulus   *big.Int
	Generator *big.Int
	private   *big.Int
	Public    *big.Int
}

// NewDiffieHellman generates a private key in [1, modulus-1)
func NewDiffieHellman(modulus, generator *big.Int) (*DiffieHellman, error) {
	if modulus == nil {
		modulus = DefaultModulus
	}
	if generator == nil {
		generator = DefaultGenerator
	}
	if modulus.Cmp(big.NewInt(2)) <= 0 {
		return nil, errors.New("modulus too small")
	}
	limit := new(big.Int).Sub(modulus, big.NewInt(2))
	x, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, err
	}
	x.Add(x, big.NewInt(1))
	return &DiffieHellman{
		Modulus:   modulus,
		Generator: generator,
		private:   x,
		Public:    new(big.Int).Exp(generator, x, modulus),
	}, nil
}

// SharedSecret computes peer^private mod p
func (dh *DiffieHellman) SharedSecret(peer *big.Int) (*big.Int, error) {
	if peer.Sign() <= 0 || peer.Cmp(dh.Modulus) >= 0 {
		return nil, errors.New("peer public key out of range")
	}
	return new(big.Int).Exp(peer, dh.private, dh.Modulus), nil
}

// XORSecret hashes the shared secret with h and XORs it with secret
func (dh *DiffieHellman) XORSecret(peer *big.Int, secret []byte, h func() hash.Hash) ([]byte, error) {
	shared, err := dh.SharedSecret(peer)
	if err != nil {
		return nil, err
	}
	hh := h()
	hh.Write(Btwoc(shared))
	digest := hh.Sum(nil)
	if len(digest) != len(secret) {
		return nil, errors.New("secret length does not match session hash")
	}
	out := make([]byte, len(secret))
	for i := range secret {
		out[i] = secret[i] ^ digest[i]
	}
	return out, nil
}

// Session types for association requests
const (
	SessionNoEncryption = "no-encryption"
	SessionDHSHA1       = "DH-SHA1"
	SessionDHSHA256     = "DH-SHA256"
)

func sessionHash(sessionType string) (func() hash.Hash, bool) {
	switch sessionType {
	case SessionDHSHA1:
		return sha1.New, true
	case SessionDHSHA256:
		return sha256.New, true
	}
	return nil, false
}
