package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldarion/identeco/internal/clock"
)

var epoch = time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC)

type backend struct {
	name string
	open func(t *testing.T, c clock.Clock) Store
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T, c clock.Clock) Store {
			return NewMemory(c)
		}},
		{name: "sqlite", open: func(t *testing.T, c clock.Clock) Store {
			s, err := OpenSQLite(context.Background(), Options{
				Driver: DriverSQLite,
				DSN:    filepath.Join(t.TempDir(), "test.db"),
				Clock:  c,
			})
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
		{name: "sqlite3", open: func(t *testing.T, c clock.Clock) Store {
			s, err := OpenSQLite(context.Background(), Options{
				Driver: DriverSQLite3,
				DSN:    filepath.Join(t.TempDir(), "test.db"),
				Clock:  c,
			})
			if err != nil {
				// mattn/go-sqlite3 needs cgo
				t.Skipf("sqlite3 driver unavailable: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}},
		{name: "postgres", open: func(t *testing.T, c clock.Clock) Store {
			dsn := os.Getenv("IDENTECO_TEST_POSTGRES_DSN")
			if dsn == "" {
				t.Skip("IDENTECO_TEST_POSTGRES_DSN not set")
			}
			s, err := OpenPostgres(context.Background(), dsn, c)
			require.NoError(t, err)
			for _, table := range []string{"openid_associations", "openid_nonces", "openid_trust"} {
				_, err := s.DB().Exec("DELETE FROM " + table)
				require.NoError(t, err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store, c *clock.Fake)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			c := clock.NewFake(epoch)
			fn(t, b.open(t, c), c)
		})
	}
}

func TestUseNonce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock.Fake) {
		ctx := context.Background()
		const server = "http://localhost/|normal"

		t.Run("second use is rejected", func(t *testing.T) {
			ok, err := s.UseNonce(ctx, server, epoch, "abc123")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.UseNonce(ctx, server, epoch, "abc123")
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run("distinct salt or server is accepted", func(t *testing.T) {
			ok, err := s.UseNonce(ctx, server, epoch, "other1")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.UseNonce(ctx, "http://rp.example/", epoch, "abc123")
			require.NoError(t, err)
			assert.True(t, ok)
		})

		t.Run("skew boundary", func(t *testing.T) {
			tests := []struct {
				name string
				ts   time.Time
				want bool
			}{
				{"one second past the window", epoch.Add(-SkewWindow - time.Second), false},
				{"exactly on the window", epoch.Add(-SkewWindow), true},
				{"one second inside the window", epoch.Add(-SkewWindow + time.Second), true},
				{"future inside the window", epoch.Add(SkewWindow - time.Second), true},
				{"future past the window", epoch.Add(SkewWindow + time.Second), false},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					ok, err := s.UseNonce(ctx, server, tt.ts, "skew-"+tt.name)
					require.NoError(t, err)
					assert.Equal(t, tt.want, ok)
				})
			}
		})

		t.Run("sub-second timestamps share a key", func(t *testing.T) {
			ts := epoch.Add(-time.Minute)
			ok, err := s.UseNonce(ctx, server, ts.Add(100*time.Millisecond), "frac")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.UseNonce(ctx, server, ts.Add(900*time.Millisecond), "frac")
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run("non-UTC timestamps are normalized", func(t *testing.T) {
			ts := epoch.Add(-2 * time.Minute)
			ok, err := s.UseNonce(ctx, server, ts, "zone")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.UseNonce(ctx, server, ts.In(time.FixedZone("UTC+7", 7*3600)), "zone")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	})
}

func TestUseNonceConcurrent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock.Fake) {
		ctx := context.Background()
		const workers = 16

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.UseNonce(ctx, "http://localhost/|normal", epoch, "race")
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, accepted)
	})
}

func TestCleanupNonces(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock.Fake) {
		ctx := context.Background()

		ok, err := s.UseNonce(ctx, "http://localhost/|normal", epoch, "old")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = s.UseNonce(ctx, "http://localhost/|normal", epoch.Add(time.Hour), "new")
		require.NoError(t, err)
		require.True(t, ok)

		n, err := s.CleanupNonces(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		c.Advance(SkewWindow)
		n, err = s.CleanupNonces(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		// the newer nonce is still on record
		ok, err = s.UseNonce(ctx, "http://localhost/|normal", epoch.Add(time.Hour), "new")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestAssociations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock.Fake) {
		ctx := context.Background()
		const server = "http://localhost/|normal"

		t.Run("missing lookup is not an error", func(t *testing.T) {
			a, err := s.GetAssociation(ctx, server, "nope")
			require.NoError(t, err)
			assert.Nil(t, a)

			a, err = s.GetAssociation(ctx, "http://unknown/", "")
			require.NoError(t, err)
			assert.Nil(t, a)
		})

		t.Run("upsert keeps one row with the last secret", func(t *testing.T) {
			first := &Association{Handle: "h-upsert", Type: "HMAC-SHA1", Secret: []byte("first-secret"), Issued: epoch, Lifetime: time.Hour}
			second := &Association{Handle: "h-upsert", Type: "HMAC-SHA256", Secret: []byte("second-secret"), Issued: epoch, Lifetime: 2 * time.Hour}
			require.NoError(t, s.StoreAssociation(ctx, server, first))
			require.NoError(t, s.StoreAssociation(ctx, server, second))

			got, err := s.GetAssociation(ctx, server, "h-upsert")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, []byte("second-secret"), got.Secret)
			assert.Equal(t, "HMAC-SHA256", got.Type)
			assert.Equal(t, 2*time.Hour, got.Lifetime)
			assert.True(t, got.Issued.Equal(epoch))
			assert.Equal(t, time.UTC, got.Issued.Location())

			removed, err := s.RemoveAssociation(ctx, server, "h-upsert")
			require.NoError(t, err)
			assert.True(t, removed)

			got, err = s.GetAssociation(ctx, server, "h-upsert")
			require.NoError(t, err)
			assert.Nil(t, got)

			removed, err = s.RemoveAssociation(ctx, server, "h-upsert")
			require.NoError(t, err)
			assert.False(t, removed)
		})

		t.Run("empty handle returns the most recent", func(t *testing.T) {
			const rp = "http://recency.example/"
			older := &Association{Handle: "h-old", Type: "HMAC-SHA1", Secret: []byte("old"), Issued: epoch.Add(-2 * time.Hour), Lifetime: 24 * time.Hour}
			newer := &Association{Handle: "h-new", Type: "HMAC-SHA1", Secret: []byte("new"), Issued: epoch.Add(-time.Hour), Lifetime: 24 * time.Hour}
			require.NoError(t, s.StoreAssociation(ctx, rp, newer))
			require.NoError(t, s.StoreAssociation(ctx, rp, older))

			got, err := s.GetAssociation(ctx, rp, "")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "h-new", got.Handle)

			got, err = s.GetAssociation(ctx, rp, "h-old")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, []byte("old"), got.Secret)
		})

		t.Run("expired associations are cleaned up", func(t *testing.T) {
			const rp = "http://expiry.example/"
			expired := &Association{Handle: "h-expired", Type: "HMAC-SHA1", Secret: []byte("x"), Issued: epoch.Add(-2 * time.Hour), Lifetime: time.Hour}
			edge := &Association{Handle: "h-edge", Type: "HMAC-SHA1", Secret: []byte("y"), Issued: epoch.Add(-time.Hour), Lifetime: time.Hour}
			live := &Association{Handle: "h-live", Type: "HMAC-SHA1", Secret: []byte("z"), Issued: epoch.Add(-time.Hour), Lifetime: 2 * time.Hour}
			for _, a := range []*Association{expired, edge, live} {
				require.NoError(t, s.StoreAssociation(ctx, rp, a))
			}

			n, err := s.CleanupAssociations(ctx)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, n, int64(2))

			got, err := s.GetAssociation(ctx, rp, "h-edge")
			require.NoError(t, err)
			assert.Nil(t, got)

			got, err = s.GetAssociation(ctx, rp, "h-live")
			require.NoError(t, err)
			require.NotNil(t, got)

			// lookup itself sweeps rows that expired since
			require.NoError(t, s.StoreAssociation(ctx, rp, expired))
			got, err = s.GetAssociation(ctx, rp, "h-expired")
			require.NoError(t, err)
			assert.Nil(t, got)

			removed, err := s.RemoveAssociation(ctx, rp, "h-expired")
			require.NoError(t, err)
			assert.False(t, removed)

			c.Advance(time.Hour)
			got, err = s.GetAssociation(ctx, rp, "")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	})
}

func TestTrust(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock.Fake) {
		ctx := context.Background()

		always, found, err := s.GetTrust(ctx, "alice", "https://rp.example")
		require.NoError(t, err)
		assert.False(t, found)
		assert.False(t, always)

		require.NoError(t, s.SetTrust(ctx, "alice", "https://rp.example", true))
		always, found, err = s.GetTrust(ctx, "alice", "https://rp.example")
		require.NoError(t, err)
		assert.True(t, found)
		assert.True(t, always)

		// keyed by both user and trust root
		_, found, err = s.GetTrust(ctx, "bob", "https://rp.example")
		require.NoError(t, err)
		assert.False(t, found)
		_, found, err = s.GetTrust(ctx, "alice", "https://other.example")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, s.SetTrust(ctx, "alice", "https://rp.example", false))
		always, found, err = s.GetTrust(ctx, "alice", "https://rp.example")
		require.NoError(t, err)
		assert.True(t, found)
		assert.False(t, always)
	})
}

func TestPing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock.Fake) {
		assert.NoError(t, s.Ping(context.Background()))
	})
}
