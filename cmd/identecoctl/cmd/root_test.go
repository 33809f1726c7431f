package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldarion/identeco/pkg/models"
)

func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--driver", "sqlite", "--dsn", dbPath, "--no-color"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestMigrate(t *testing.T) {
	db := filepath.Join(t.TempDir(), "identeco.db")

	out, err := run(t, db, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite schema at version 1")

	out, err = run(t, db, "migrate", "-o", "json")
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, float64(1), body["version"])
}

func TestCleanup(t *testing.T) {
	db := filepath.Join(t.TempDir(), "identeco.db")

	out, err := run(t, db, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 expired associations and 0 expired nonces")
}

func TestTrust(t *testing.T) {
	db := filepath.Join(t.TempDir(), "identeco.db")
	realm := "https://rp.example/"

	out, err := run(t, db, "trust", "get", "user-alice", realm)
	require.NoError(t, err)
	assert.Contains(t, out, "no decision recorded")

	out, err = run(t, db, "trust", "set", "user-alice", realm)
	require.NoError(t, err)
	assert.Contains(t, out, "always_trust=true")

	out, err = run(t, db, "trust", "get", "user-alice", realm, "-o", "json")
	require.NoError(t, err)
	var decision models.TrustDecision
	require.NoError(t, json.Unmarshal([]byte(out), &decision))
	assert.Equal(t, models.TrustDecision{UserID: "user-alice", TrustRoot: realm, AlwaysTrust: true, Found: true}, decision)

	_, err = run(t, db, "trust", "set", "user-alice", realm, "--always=false")
	require.NoError(t, err)
	out, err = run(t, db, "trust", "get", "user-alice", realm)
	require.NoError(t, err)
	assert.Contains(t, out, "asks before trusting")

	t.Run("invalid trust root", func(t *testing.T) {
		_, err := run(t, db, "trust", "set", "user-alice", "not a url")
		assert.ErrorContains(t, err, "invalid trust root")
	})

	t.Run("argument count", func(t *testing.T) {
		_, err := run(t, db, "trust", "get", "user-alice")
		assert.Error(t, err)
	})
}

func TestUnknownOutputFormat(t *testing.T) {
	_, err := run(t, filepath.Join(t.TempDir(), "identeco.db"), "cleanup", "-o", "yaml")
	assert.ErrorContains(t, err, "unknown output format")
}
