package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eldarion/identeco/internal/clock"
)

// Dialect describes the SQL differences between the supported databases
type Dialect struct {
	Name string
	// Numbered reports whether placeholders are $1, $2, ... instead of ?
	Numbered bool
	// Goose is the dialect name handed to the migration runner
	Goose string
	// Migrations is the directory under the embedded migrations FS
	Migrations string
}

var (
	DialectSQLite   = Dialect{Name: "sqlite", Goose: "sqlite3", Migrations: "migrations/sqlite"}
	DialectPostgres = Dialect{Name: "postgres", Numbered: true, Goose: "pgx", Migrations: "migrations/postgres"}
)

// rebind rewrites ? placeholders for dialects that number them
func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore is a Store backed by a relational database
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	clock   clock.Clock
}

// NewSQLStore wraps an open, migrated database
func NewSQLStore(db *sql.DB, dialect Dialect, c clock.Clock) *SQLStore {
	if c == nil {
		c = clock.System{}
	}
	return &SQLStore{db: db, dialect: dialect, clock: c}
}

// DB returns the underlying handle
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

// StoreAssociation upserts on the (server_url, handle) primary key
func (s *SQLStore) StoreAssociation(ctx context.Context, serverURL string, assoc *Association) error {
	a := assoc.normalized()
	issued := a.Issued.Unix()
	lifetime := int64(a.Lifetime / time.Second)

	_, err := s.exec(ctx,
		`INSERT INTO openid_associations (server_url, handle, assoc_type, secret, lifetime, issued, expires)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (server_url, handle) DO UPDATE SET
			assoc_type = excluded.assoc_type,
			secret = excluded.secret,
			lifetime = excluded.lifetime,
			issued = excluded.issued,
			expires = excluded.expires`,
		serverURL, a.Handle, a.Type, base64.StdEncoding.EncodeToString(a.Secret), lifetime, issued, issued+lifetime)
	if err != nil {
		return unavailable("store association", err)
	}
	return nil
}

// GetAssociation sweeps expired rows, then looks up by handle or recency
func (s *SQLStore) GetAssociation(ctx context.Context, serverURL, handle string) (*Association, error) {
	if _, err := s.CleanupAssociations(ctx); err != nil {
		return nil, err
	}

	now := s.clock.Now().Unix()
	query := `SELECT handle, assoc_type, secret, lifetime, issued FROM openid_associations
		WHERE server_url = ? AND expires > ?`
	args := []interface{}{serverURL, now}
	if handle != "" {
		query += ` AND handle = ?`
		args = append(args, handle)
	}
	query += ` ORDER BY issued DESC LIMIT 1`

	var (
		a        Association
		secret   string
		lifetime int64
		issued   int64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...).
		Scan(&a.Handle, &a.Type, &secret, &lifetime, &issued)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get association", err)
	}

	a.Secret, err = base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret for handle %q: %w", a.Handle, err)
	}
	a.Issued = time.Unix(issued, 0).UTC()
	a.Lifetime = time.Duration(lifetime) * time.Second
	return &a, nil
}

// RemoveAssociation deletes the row and reports whether one existed
func (s *SQLStore) RemoveAssociation(ctx context.Context, serverURL, handle string) (bool, error) {
	res, err := s.exec(ctx,
		`DELETE FROM openid_associations WHERE server_url = ? AND handle = ?`, serverURL, handle)
	if err != nil {
		return false, unavailable("remove association", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("remove association", err)
	}
	return n > 0, nil
}

// CleanupAssociations deletes rows with expires <= now
func (s *SQLStore) CleanupAssociations(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM openid_associations WHERE expires <= ?`, s.clock.Now().Unix())
	if err != nil {
		return 0, unavailable("cleanup associations", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UseNonce inserts the nonce; the primary key arbitrates concurrent callers
func (s *SQLStore) UseNonce(ctx context.Context, serverURL string, timestamp time.Time, salt string) (bool, error) {
	issued := nonceIssued(timestamp)
	if !withinSkew(s.clock.Now(), issued) {
		return false, nil
	}

	res, err := s.exec(ctx,
		`INSERT INTO openid_nonces (server_url, issued, salt, expires) VALUES (?, ?, ?, ?)
		 ON CONFLICT (server_url, issued, salt) DO NOTHING`,
		serverURL, issued.Unix(), salt, issued.Add(SkewWindow).Unix())
	if err != nil {
		return false, unavailable("use nonce", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("use nonce", err)
	}
	return n == 1, nil
}

// CleanupNonces deletes rows with expires <= now
func (s *SQLStore) CleanupNonces(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM openid_nonces WHERE expires <= ?`, s.clock.Now().Unix())
	if err != nil {
		return 0, unavailable("cleanup nonces", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetTrust returns the decision recorded for the pair
func (s *SQLStore) GetTrust(ctx context.Context, user, trustRoot string) (bool, bool, error) {
	var always bool
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT always_trust FROM openid_trust WHERE user_id = ? AND trust_root = ?`),
		user, trustRoot).Scan(&always)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, unavailable("get trust", err)
	}
	return always, true, nil
}

// SetTrust upserts on the (user_id, trust_root) primary key
func (s *SQLStore) SetTrust(ctx context.Context, user, trustRoot string, alwaysTrust bool) error {
	now := s.clock.Now().Unix()
	_, err := s.exec(ctx,
		`INSERT INTO openid_trust (user_id, trust_root, always_trust, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, trust_root) DO UPDATE SET
			always_trust = excluded.always_trust,
			updated_at = excluded.updated_at`,
		user, trustRoot, alwaysTrust, now, now)
	if err != nil {
		return unavailable("set trust", err)
	}
	return nil
}

// Ping checks the connection
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}
