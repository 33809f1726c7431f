// Package users is the account directory behind the login page and the
// profile data released through SREG.
package users

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/eldarion/identeco/pkg/models"
)

// ErrInvalidCredentials is returned for an unknown user or wrong password
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrUnknownUser is returned when looking up a user that does not exist
var ErrUnknownUser = errors.New("unknown user")

// placeholder hash compared against when the user does not exist
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("placeholder"), bcrypt.MinCost)

// Directory is an in-memory account store
type Directory struct {
	users map[string]*models.User // by username
	byID  map[string]*models.User
	cost  int
	mu    sync.RWMutex
}

// NewDirectory creates an empty directory hashing passwords at cost
func NewDirectory(cost int) *Directory {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &Directory{
		users: make(map[string]*models.User),
		byID:  make(map[string]*models.User),
		cost:  cost,
	}
}

// NewDemoDirectory creates a directory with the demo accounts
func NewDemoDirectory() (*Directory, error) {
	d := NewDirectory(bcrypt.DefaultCost)
	demo := []struct {
		user     models.User
		password string
	}{
		{models.User{ID: "user-alice", Username: "alice", Email: "alice@example.com", FullName: "Alice Johnson", Roles: []string{"user"}}, "password123"},
		{models.User{ID: "user-bob", Username: "bob", Email: "bob@example.com", FullName: "Bob Smith", Roles: []string{"user"}}, "password123"},
		{models.User{ID: "user-admin", Username: "admin", Email: "admin@example.com", FullName: "Admin User", Roles: []string{"user", "admin"}}, "admin123"},
	}
	for _, u := range demo {
		user := u.user
		if err := d.Add(&user, u.password); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// reserved names collide with provider routes at the same level as identity pages
var reserved = map[string]bool{
	"api": true, "decide": true, "endpoint": true, "health": true,
	"login": true, "logout": true, "ws": true, "xrds.xml": true,
}

// Add hashes password and stores the user
func (d *Directory) Add(u *models.User, password string) error {
	if u.Username == "" || strings.ContainsAny(u.Username, "/?#") {
		return fmt.Errorf("invalid username %q", u.Username)
	}
	if reserved[strings.ToLower(u.Username)] {
		return fmt.Errorf("username %q is reserved", u.Username)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	u.PasswordHash = hash
	if u.ID == "" {
		u.ID = "user-" + u.Username
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.users[u.Username]; exists {
		return fmt.Errorf("user %q already exists", u.Username)
	}
	d.users[u.Username] = u
	d.byID[u.ID] = u
	return nil
}

// Authenticate checks a username and password
func (d *Directory) Authenticate(username, password string) (*models.User, error) {
	d.mu.RLock()
	u, ok := d.users[username]
	d.mu.RUnlock()

	if !ok {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Lookup finds a user by username
func (d *Directory) Lookup(username string) (*models.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[username]
	return u, ok
}

// Get finds a user by ID
func (d *Directory) Get(id string) (*models.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	return u, ok
}

// List returns all users ordered by username
func (d *Directory) List() []*models.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*models.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Profile returns the SREG profile of a user
func (d *Directory) Profile(ctx context.Context, userID string) (map[string]string, error) {
	u, ok := d.Get(userID)
	if !ok {
		return nil, ErrUnknownUser
	}
	return map[string]string{
		"nickname": u.Username,
		"email":    u.Email,
		"fullname": u.FullName,
	}, nil
}
