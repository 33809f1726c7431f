package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldarion/identeco/internal/clock"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, err := Open(ctx, Options{Driver: DriverMemory})
		require.NoError(t, err)
		assert.IsType(t, &Memory{}, s)
	})

	t.Run("sqlite in data dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested")
		s, err := Open(ctx, Options{Driver: DriverSQLite, DataDir: dir})
		require.NoError(t, err)
		defer s.Close()
		assert.FileExists(t, filepath.Join(dir, "identeco.db"))
	})

	t.Run("migrations are idempotent", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "twice.db")
		first, err := OpenSQLite(ctx, Options{DSN: path, Clock: clock.NewFake(epoch)})
		require.NoError(t, err)
		require.NoError(t, first.SetTrust(ctx, "alice", "https://rp.example", true))
		require.NoError(t, first.Close())

		second, err := OpenSQLite(ctx, Options{DSN: path, Clock: clock.NewFake(epoch)})
		require.NoError(t, err)
		defer second.Close()
		always, found, err := second.GetTrust(ctx, "alice", "https://rp.example")
		require.NoError(t, err)
		assert.True(t, found)
		assert.True(t, always)

		version, err := second.SchemaVersion(ctx)
		require.NoError(t, err)
		assert.Positive(t, version)
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		_, err := Open(ctx, Options{Driver: DriverPostgres})
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Open(ctx, Options{Driver: "mongo"})
		assert.ErrorContains(t, err, "unknown store driver")
	})
}

func TestUnavailableError(t *testing.T) {
	s, err := OpenSQLite(context.Background(), Options{DSN: filepath.Join(t.TempDir(), "closed.db")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.UseNonce(context.Background(), "http://localhost/|normal", time.Now(), "salt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "use nonce", ue.Op)
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y = ?`
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, `SELECT a FROM t WHERE x = $1 AND y = $2`, DialectPostgres.rebind(q))
}

type countingCleaner struct {
	assocs, nonces int64
	calls          int
	err            error
}

func (c *countingCleaner) CleanupAssociations(ctx context.Context) (int64, error) {
	c.calls++
	return c.assocs, c.err
}

func (c *countingCleaner) CleanupNonces(ctx context.Context) (int64, error) {
	return c.nonces, nil
}

func TestSweeper(t *testing.T) {
	t.Run("sweep reports both counts", func(t *testing.T) {
		c := &countingCleaner{assocs: 2, nonces: 3}
		a, n, err := NewSweeper(c, time.Minute).Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(2), a)
		assert.Equal(t, int64(3), n)
	})

	t.Run("sweep stops on error", func(t *testing.T) {
		c := &countingCleaner{err: errors.New("boom")}
		_, n, err := NewSweeper(c, time.Minute).Sweep(context.Background())
		assert.Error(t, err)
		assert.Zero(t, n)
	})

	t.Run("run sweeps until cancelled", func(t *testing.T) {
		m := NewMemory(nil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			NewSweeper(m, 5*time.Millisecond).Run(ctx)
			close(done)
		}()
		time.Sleep(20 * time.Millisecond)
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("sweeper did not stop")
		}
	})

	t.Run("zero interval returns immediately", func(t *testing.T) {
		NewSweeper(NewMemory(nil), 0).Run(context.Background())
	})
}
