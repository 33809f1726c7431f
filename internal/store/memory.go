package store

import (
	"context"
	"sync"
	"time"

	"github.com/eldarion/identeco/internal/clock"
)

type assocKey struct {
	serverURL string
	handle    string
}

type nonceKey struct {
	serverURL string
	issued    int64
	salt      string
}

type trustKey struct {
	user      string
	trustRoot string
}

// Memory is a process-local Store backed by maps under a single mutex
type Memory struct {
	clock  clock.Clock
	assocs map[assocKey]*Association
	nonces map[nonceKey]time.Time // expiry
	trust  map[trustKey]bool
	mu     sync.RWMutex
}

// NewMemory creates an empty in-memory store
func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.System{}
	}
	return &Memory{
		clock:  c,
		assocs: make(map[assocKey]*Association),
		nonces: make(map[nonceKey]time.Time),
		trust:  make(map[trustKey]bool),
	}
}

// StoreAssociation upserts the association
func (m *Memory) StoreAssociation(ctx context.Context, serverURL string, assoc *Association) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assocs[assocKey{serverURL, assoc.Handle}] = assoc.normalized()
	return nil
}

// GetAssociation returns the matching association or nil
func (m *Memory) GetAssociation(ctx context.Context, serverURL, handle string) (*Association, error) {
	if _, err := m.CleanupAssociations(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if handle != "" {
		a, ok := m.assocs[assocKey{serverURL, handle}]
		if !ok {
			return nil, nil
		}
		return a.normalized(), nil
	}

	var latest *Association
	for k, a := range m.assocs {
		if k.serverURL != serverURL {
			continue
		}
		if latest == nil || a.Issued.After(latest.Issued) {
			latest = a
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.normalized(), nil
}

// RemoveAssociation deletes the association if present
func (m *Memory) RemoveAssociation(ctx context.Context, serverURL, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := assocKey{serverURL, handle}
	if _, ok := m.assocs[k]; !ok {
		return false, nil
	}
	delete(m.assocs, k)
	return true, nil
}

// CleanupAssociations deletes associations whose expiry is not after now
func (m *Memory) CleanupAssociations(ctx context.Context) (int64, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, a := range m.assocs {
		if a.IsExpired(now) {
			delete(m.assocs, k)
			n++
		}
	}
	return n, nil
}

// UseNonce records the nonce unless it is stale or already used
func (m *Memory) UseNonce(ctx context.Context, serverURL string, timestamp time.Time, salt string) (bool, error) {
	issued := nonceIssued(timestamp)
	if !withinSkew(m.clock.Now(), issued) {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := nonceKey{serverURL, issued.Unix(), salt}
	if _, used := m.nonces[k]; used {
		return false, nil
	}
	m.nonces[k] = issued.Add(SkewWindow)
	return true, nil
}

// CleanupNonces deletes nonces whose expiry is not after now
func (m *Memory) CleanupNonces(ctx context.Context) (int64, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, expires := range m.nonces {
		if !expires.After(now) {
			delete(m.nonces, k)
			n++
		}
	}
	return n, nil
}

// GetTrust returns the recorded decision for the pair
func (m *Memory) GetTrust(ctx context.Context, user, trustRoot string) (bool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	always, ok := m.trust[trustKey{user, trustRoot}]
	return always, ok, nil
}

// SetTrust upserts the decision for the pair
func (m *Memory) SetTrust(ctx context.Context, user, trustRoot string, alwaysTrust bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trust[trustKey{user, trustRoot}] = alwaysTrust
	return nil
}

// Ping always succeeds
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}
