package store

import (
	"context"
	"log"
	"time"
)

// Cleaner is the part of a Store the sweeper needs
type Cleaner interface {
	CleanupAssociations(ctx context.Context) (int64, error)
	CleanupNonces(ctx context.Context) (int64, error)
}

// Sweeper periodically removes expired associations and nonces
type Sweeper struct {
	store    Cleaner
	interval time.Duration
}

// NewSweeper creates a sweeper; an interval <= 0 makes Run return immediately
func NewSweeper(s Cleaner, interval time.Duration) *Sweeper {
	return &Sweeper{store: s, interval: interval}
}

// Run sweeps on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs both cleanups once and returns the rows removed
func (s *Sweeper) Sweep(ctx context.Context) (assocs, nonces int64, err error) {
	assocs, err = s.store.CleanupAssociations(ctx)
	if err != nil {
		log.Printf("[Store] Association cleanup error: %v", err)
		return 0, 0, err
	}
	nonces, err = s.store.CleanupNonces(ctx)
	if err != nil {
		log.Printf("[Store] Nonce cleanup error: %v", err)
		return assocs, 0, err
	}
	if assocs > 0 || nonces > 0 {
		log.Printf("[Store] Cleaned up %d expired associations and %d expired nonces", assocs, nonces)
	}
	return assocs, nonces, nil
}
