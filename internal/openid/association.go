package openid

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"sort"
	"strings"
	"time"

	"github.com/eldarion/identeco/internal/clock"
	"github.com/eldarion/identeco/internal/store"
)

// Association types
const (
	AssocHMACSHA1   = "HMAC-SHA1"
	AssocHMACSHA256 = "HMAC-SHA256"
)

// Store keys under which the provider keeps its own associations. Shared
// associations are negotiated with relying parties through associate;
// private ones sign responses for relying parties in stateless mode.
const (
	SharedKey  = "http://localhost/|normal"
	PrivateKey = "http://localhost/|dumb"
)

func assocHash(assocType string) (func() hash.Hash, int, bool) {
	switch assocType {
	case AssocHMACSHA1:
		return sha1.New, sha1.Size, true
	case AssocHMACSHA256:
		return sha256.New, sha256.Size, true
	}
	return nil, 0, false
}

// sessionMatches reports whether an association type may be sent over a session type
func sessionMatches(assocType, sessionType string) bool {
	switch sessionType {
	case SessionNoEncryption:
		return true
	case SessionDHSHA1:
		return assocType == AssocHMACSHA1
	case SessionDHSHA256:
		return assocType == AssocHMACSHA256
	}
	return false
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// newAssociation creates a random secret with a handle of the form
// {type}{issued hex}{random}
func newAssociation(assocType string, now time.Time, lifetime time.Duration) (*store.Association, error) {
	_, size, ok := assocHash(assocType)
	if !ok {
		return nil, fmt.Errorf("unsupported association type %q", assocType)
	}
	secret, err := randomBytes(size)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(6)
	if err != nil {
		return nil, err
	}
	handle := fmt.Sprintf("{%s}{%x}{%s}", assocType, now.Unix(), base64.RawURLEncoding.EncodeToString(nonce))
	return &store.Association{
		Handle:   handle,
		Type:     assocType,
		Secret:   secret,
		Issued:   now.UTC().Truncate(time.Second),
		Lifetime: lifetime,
	}, nil
}

// signature computes the base64 MAC over the named fields in key-value form
func signature(assoc *store.Association, msg *Message, fields []string) (string, error) {
	h, _, ok := assocHash(assoc.Type)
	if !ok {
		return "", fmt.Errorf("unsupported association type %q", assoc.Type)
	}
	pairs := make([][2]string, 0, len(fields))
	for _, f := range fields {
		v, present := msg.Lookup(f)
		if !present {
			return "", fmt.Errorf("signed field %q is missing", f)
		}
		if !validKVValue(v) {
			return "", fmt.Errorf("field %q contains a newline", f)
		}
		pairs = append(pairs, [2]string{f, v})
	}
	mac := hmac.New(h, assoc.Secret)
	mac.Write(EncodeKV(pairs))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// signMessage sets assoc_handle, signed and sig. Every field is signed.
func signMessage(assoc *store.Association, msg *Message) error {
	msg.Set("assoc_handle", assoc.Handle)
	msg.Del("sig")

	fields := append(msg.Keys(), "signed")
	fields = dedupe(fields)
	sort.Strings(fields)
	msg.Set("signed", strings.Join(fields, ","))

	sig, err := signature(assoc, msg, fields)
	if err != nil {
		return err
	}
	msg.Set("sig", sig)
	return nil
}

// checkSignature verifies the sig of msg over its own signed list
func checkSignature(assoc *store.Association, msg *Message) bool {
	signed := msg.Get("signed")
	sig := msg.Get("sig")
	if signed == "" || sig == "" {
		return false
	}
	expected, err := signature(assoc, msg, strings.Split(signed, ","))
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(sig))
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Signatory creates, looks up and invalidates the provider's associations
type Signatory struct {
	store    store.AssociationStore
	clock    clock.Clock
	lifetime time.Duration
}

func storeKey(private bool) string {
	if private {
		return PrivateKey
	}
	return SharedKey
}

// Create generates and stores a new association
func (s *Signatory) Create(ctx context.Context, assocType string, private bool) (*store.Association, error) {
	assoc, err := newAssociation(assocType, s.clock.Now(), s.lifetime)
	if err != nil {
		return nil, err
	}
	if err := s.store.StoreAssociation(ctx, storeKey(private), assoc); err != nil {
		return nil, err
	}
	return assoc, nil
}

// Get returns an unexpired association by handle, or nil
func (s *Signatory) Get(ctx context.Context, handle string, private bool) (*store.Association, error) {
	if handle == "" {
		return nil, nil
	}
	assoc, err := s.store.GetAssociation(ctx, storeKey(private), handle)
	if err != nil || assoc == nil {
		return nil, err
	}
	if assoc.IsExpired(s.clock.Now()) {
		return nil, nil
	}
	return assoc, nil
}

// Invalidate removes an association
func (s *Signatory) Invalidate(ctx context.Context, handle string, private bool) error {
	_, err := s.store.RemoveAssociation(ctx, storeKey(private), handle)
	return err
}

// Sign signs a positive response. The relying party's shared association is
// used while it is valid; otherwise a private association signs the message
// and the stale handle is reported back as invalidate_handle.
func (s *Signatory) Sign(ctx context.Context, fields *Message, assocHandle string) error {
	var assoc *store.Association
	if assocHandle != "" {
		var err error
		assoc, err = s.Get(ctx, assocHandle, false)
		if err != nil {
			return err
		}
		if assoc == nil {
			fields.Set("invalidate_handle", assocHandle)
		}
	}
	if assoc == nil {
		var err error
		assoc, err = s.Create(ctx, AssocHMACSHA1, true)
		if err != nil {
			return err
		}
	}
	return signMessage(assoc, fields)
}

// Verify checks a signature against a private association
func (s *Signatory) Verify(ctx context.Context, assocHandle string, msg *Message) (bool, error) {
	assoc, err := s.Get(ctx, assocHandle, true)
	if err != nil {
		return false, err
	}
	if assoc == nil {
		return false, nil
	}
	return checkSignature(assoc, msg), nil
}
