package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/eldarion/identeco/pkg/models"
)

func setupDirectory(t *testing.T) *Directory {
	t.Helper()
	d := NewDirectory(bcrypt.MinCost)
	require.NoError(t, d.Add(&models.User{Username: "alice", Email: "alice@example.com", FullName: "Alice Johnson"}, "password123"))
	require.NoError(t, d.Add(&models.User{ID: "u-2", Username: "bob"}, "hunter22"))
	return d
}

func TestAuthenticate(t *testing.T) {
	d := setupDirectory(t)

	u, err := d.Authenticate("alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, "user-alice", u.ID)

	_, err = d.Authenticate("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = d.Authenticate("nobody", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAdd(t *testing.T) {
	d := setupDirectory(t)

	err := d.Add(&models.User{Username: "alice"}, "again")
	assert.ErrorContains(t, err, "already exists")

	err = d.Add(&models.User{Username: "a/b"}, "x")
	assert.Error(t, err)

	err = d.Add(&models.User{Username: ""}, "x")
	assert.Error(t, err)

	err = d.Add(&models.User{Username: "Endpoint"}, "x")
	assert.ErrorContains(t, err, "reserved")
}

func TestLookup(t *testing.T) {
	d := setupDirectory(t)

	u, ok := d.Lookup("bob")
	require.True(t, ok)
	assert.Equal(t, "u-2", u.ID)

	u, ok = d.Get("u-2")
	require.True(t, ok)
	assert.Equal(t, "bob", u.Username)

	_, ok = d.Lookup("carol")
	assert.False(t, ok)

	list := d.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].Username)
}

func TestProfile(t *testing.T) {
	d := setupDirectory(t)

	p, err := d.Profile(context.Background(), "user-alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"nickname": "alice",
		"email":    "alice@example.com",
		"fullname": "Alice Johnson",
	}, p)

	_, err = d.Profile(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestDemoDirectory(t *testing.T) {
	if testing.Short() {
		t.Skip("bcrypt default cost")
	}
	d, err := NewDemoDirectory()
	require.NoError(t, err)
	_, err = d.Authenticate("admin", "admin123")
	assert.NoError(t, err)
	assert.Len(t, d.List(), 3)
}
