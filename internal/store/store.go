// Package store persists the provider's durable state: shared-secret
// associations, replay-prevention nonces and per-user trust decisions.
//
// Every backend keeps timestamps as UTC epoch seconds and relies on a
// uniqueness constraint, not a read-then-write sequence, for the atomicity of
// nonce use and association upserts.
package store

import (
	"context"
	"errors"
	"time"
)

// SkewWindow bounds how far a nonce timestamp may diverge from the current
// time, in either direction. Nonces are retained for this long after issue.
const SkewWindow = 5 * time.Hour

// ErrUnavailable is matched by every storage-layer failure
var ErrUnavailable = errors.New("store unavailable")

// UnavailableError wraps a failure of the underlying storage
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is reports ErrUnavailable as a match so callers need not know the type
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}

// Association is a shared secret used to sign and verify protocol messages
type Association struct {
	Handle   string
	Type     string
	Secret   []byte
	Issued   time.Time
	Lifetime time.Duration
}

// Expires returns the absolute expiry time
func (a *Association) Expires() time.Time {
	return a.Issued.Add(a.Lifetime)
}

// ExpiresIn returns the remaining lifetime at now, never negative
func (a *Association) ExpiresIn(now time.Time) time.Duration {
	d := a.Expires().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsExpired reports whether the association is no longer usable at now
func (a *Association) IsExpired(now time.Time) bool {
	return !a.Expires().After(now)
}

// normalized returns a copy with whole-second UTC issue time and lifetime
func (a *Association) normalized() *Association {
	c := *a
	c.Issued = a.Issued.UTC().Truncate(time.Second)
	c.Lifetime = a.Lifetime.Truncate(time.Second)
	c.Secret = append([]byte(nil), a.Secret...)
	return &c
}

// AssociationStore manages association lifecycles per server URL
type AssociationStore interface {
	// StoreAssociation inserts or overwrites the association for (serverURL, handle)
	StoreAssociation(ctx context.Context, serverURL string, assoc *Association) error

	// GetAssociation removes expired associations, then returns the one
	// matching handle, or the most recently issued one when handle is empty.
	// It returns nil with a nil error when nothing matches.
	GetAssociation(ctx context.Context, serverURL, handle string) (*Association, error)

	// RemoveAssociation deletes a row and reports whether it existed
	RemoveAssociation(ctx context.Context, serverURL, handle string) (bool, error)

	// CleanupAssociations deletes expired associations
	CleanupAssociations(ctx context.Context) (int64, error)
}

// NonceStore records used nonces to prevent replay
type NonceStore interface {
	// UseNonce reports whether the (serverURL, timestamp, salt) triple was
	// accepted. A timestamp outside the skew window or a triple that was
	// already used returns false with a nil error.
	UseNonce(ctx context.Context, serverURL string, timestamp time.Time, salt string) (bool, error)

	// CleanupNonces deletes nonces whose skew window has passed
	CleanupNonces(ctx context.Context) (int64, error)
}

// TrustRegistry persists per-(user, trust root) "always trust" decisions
type TrustRegistry interface {
	// GetTrust returns the stored decision; found is false when the user
	// has never recorded one for trustRoot.
	GetTrust(ctx context.Context, user, trustRoot string) (alwaysTrust bool, found bool, err error)

	// SetTrust inserts or overwrites the decision
	SetTrust(ctx context.Context, user, trustRoot string, alwaysTrust bool) error
}

// Store is the full persistence surface of the provider
type Store interface {
	AssociationStore
	NonceStore
	TrustRegistry

	Ping(ctx context.Context) error
	Close() error
}

// nonceIssued normalizes a nonce timestamp to whole UTC seconds
func nonceIssued(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Second)
}

// withinSkew reports whether issued lies inside the skew window around now.
// The boundary itself is accepted.
func withinSkew(now, issued time.Time) bool {
	d := now.UTC().Truncate(time.Second).Sub(issued)
	if d < 0 {
		d = -d
	}
	return d <= SkewWindow
}
