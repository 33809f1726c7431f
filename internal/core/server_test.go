package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldarion/identeco/internal/clock"
	"github.com/eldarion/identeco/internal/lookingglass"
	"github.com/eldarion/identeco/internal/openid"
	"github.com/eldarion/identeco/internal/users"
	"github.com/eldarion/identeco/pkg/models"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Environment:         "development",
		BaseURL:             "http://op.test",
		CORSOrigins:         []string{"http://localhost:3000"},
		StoreDriver:         "memory",
		SessionBackend:      "memory",
		SessionSecret:       "test-session-secret-value",
		SessionTTL:          time.Hour,
		AssociationLifetime: time.Hour,
		TrustedDomains:      []string{"trusted.example"},
		LookingGlass:        true,
	}
}

func bootstrapTest(t *testing.T, cfg *Config) *BootstrapResult {
	t.Helper()
	dir := users.NewDirectory(4)
	require.NoError(t, dir.Add(&models.User{ID: "user-alice", Username: "alice", Email: "alice@example.com"}, "password123"))

	res, err := Bootstrap(context.Background(), cfg, BootstrapOptions{
		Clock: clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		Users: dir,
	})
	require.NoError(t, err)
	t.Cleanup(func() { res.Close() })
	return res
}

func newTestServer(t *testing.T, cfg *Config) (*Server, *BootstrapResult) {
	res := bootstrapTest(t, cfg)
	return NewServer(cfg, res.Registry, res.LookingGlass, res.Store), res
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

type brokenStore struct{}

func (brokenStore) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	cfg := testConfig(t)
	s, res := newTestServer(t, cfg)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "memory", status.Store)

	down := NewServer(cfg, res.Registry, nil, brokenStore{})
	rec = serve(down, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "unavailable", status.Status)
	assert.Equal(t, "connection refused", status.Error)
}

func TestProtocolAPI(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/protocols", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list ProtocolListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Protocols, 1)
	assert.Equal(t, "openid2", list.Protocols[0].ID)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/protocols/openid2/flows", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var flows FlowListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&flows))
	assert.Len(t, flows.Flows, 4)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/protocols/saml/flows", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenIDRoutesMounted(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/xrds.xml", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/xrds+xml")
	assert.Contains(t, rec.Body.String(), "http://op.test/endpoint/")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/alice/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// anonymous users are never approved, even for an allowlisted realm
	q := "openid.ns=" + openid.NS2 +
		"&openid.mode=checkid_immediate" +
		"&openid.identity=" + openid.IdentifierSelect +
		"&openid.claimed_id=" + openid.IdentifierSelect +
		"&openid.realm=https://trusted.example/" +
		"&openid.return_to=https://trusted.example/return"
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/endpoint/?"+q, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "openid.mode=setup_needed")
}

func TestLookingGlassAPI(t *testing.T) {
	s, res := newTestServer(t, testConfig(t))

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/lookingglass/sessions", strings.NewReader(`{"flow":"associate"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created CreateSessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "associate", created.Flow)
	assert.Equal(t, "/ws/lookingglass/"+created.SessionID, created.WSEndpoint)

	t.Run("list", func(t *testing.T) {
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/lookingglass/sessions", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Sessions []SessionSummary `json:"sessions"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Sessions, 1)
		assert.Equal(t, created.SessionID, body.Sessions[0].ID)
	})

	t.Run("capture", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/xrds.xml", nil)
		req.Header.Set("X-Looking-Glass-Session", created.SessionID)
		require.Equal(t, http.StatusOK, serve(s, req).Code)

		session, ok := res.LookingGlass.GetSession(created.SessionID)
		require.True(t, ok)
		snap := session.Snapshot()
		require.NotEmpty(t, snap.Events)
		last := snap.Events[len(snap.Events)-1]
		assert.Equal(t, lookingglass.EventTypeHTTPExchange, last.Type)
		exchange, ok := last.Data["exchange"].(lookingglass.CapturedExchange)
		require.True(t, ok)
		assert.Equal(t, "/xrds.xml", exchange.Path)
		assert.Contains(t, exchange.ResponseBody, "xrds")
	})

	t.Run("capture ignores untracked sessions", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/xrds.xml", nil)
		req.Header.Set("X-Looking-Glass-Session", "no-such-session")
		assert.Equal(t, http.StatusOK, serve(s, req).Code)
		_, ok := res.LookingGlass.GetSession("no-such-session")
		assert.False(t, ok)
	})

	t.Run("get", func(t *testing.T) {
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/lookingglass/sessions/"+created.SessionID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"http.exchange"`)

		rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/lookingglass/sessions/missing", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("decode", func(t *testing.T) {
		body := `{"message":"openid.ns=http%3A%2F%2Fspecs.openid.net%2Fauth%2F2.0&openid.mode=checkid_setup"}`
		rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/lookingglass/decode", strings.NewReader(body)))
		require.Equal(t, http.StatusOK, rec.Code)
		var decoded lookingglass.DecodedMessage
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&decoded))
		assert.Equal(t, "query", decoded.Format)
		assert.Equal(t, "checkid_setup", decoded.Mode)

		rec = serve(s, httptest.NewRequest(http.MethodPost, "/api/lookingglass/decode", strings.NewReader(`{"message":""}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = serve(s, httptest.NewRequest(http.MethodPost, "/api/lookingglass/decode", strings.NewReader(`not json`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		path := "/api/lookingglass/sessions/" + created.SessionID
		assert.Equal(t, http.StatusNoContent, serve(s, httptest.NewRequest(http.MethodDelete, path, nil)).Code)
		assert.Equal(t, http.StatusNotFound, serve(s, httptest.NewRequest(http.MethodDelete, path, nil)).Code)
	})
}

func TestLookingGlassDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.LookingGlass = false
	s, res := newTestServer(t, cfg)
	assert.Nil(t, res.LookingGlass)

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/lookingglass/sessions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBootstrapErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreDriver = "mongodb"
	_, err := Bootstrap(context.Background(), cfg, BootstrapOptions{})
	assert.ErrorContains(t, err, "unknown store driver")

	cfg = testConfig(t)
	cfg.SessionSecret = "short"
	_, err = Bootstrap(context.Background(), cfg, BootstrapOptions{Users: users.NewDirectory(4)})
	assert.ErrorContains(t, err, "session key")
}
